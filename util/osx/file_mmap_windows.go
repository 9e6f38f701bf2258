//go:build windows

package osx

import (
	"errors"
	"os"
)

var errMmapUnsupported = errors.New("mmap is not supported on windows")

func mmap(_ *os.File, _ int) ([]byte, error) {
	return nil, errMmapUnsupported
}

func munmap(_ []byte) error {
	return nil
}
