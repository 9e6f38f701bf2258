package osx

import (
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// UserHomeDir returns the home directory of the current user,
// or a per-user directory under the temp dir when there is none,
// e.g. a container running as an unnamed uid.
func UserHomeDir() string {
	if hd, err := os.UserHomeDir(); err == nil {
		return hd
	}
	return filepath.Join(os.TempDir(), "llm-adapter-"+strconv.Itoa(os.Getuid()))
}

// InlineTilde replaces the leading ~ with the home directory.
func InlineTilde(path string) string {
	if path == "" {
		return path
	}
	if strings.HasPrefix(path, "~"+string(filepath.Separator)) {
		path = filepath.Join(UserHomeDir(), path[2:])
	}
	return path
}

// Open is similar to os.Open but supports ~ as the home directory.
func Open(path string) (*os.File, error) {
	p := filepath.Clean(path)
	p = InlineTilde(p)
	return os.Open(p)
}

// Exists checks if the given path exists.
func Exists(path string, checks ...func(os.FileInfo) bool) bool {
	stat, err := os.Lstat(path)
	if err != nil {
		return false
	}

	for i := range checks {
		if checks[i] == nil {
			continue
		}

		if !checks[i](stat) {
			return false
		}
	}

	return true
}

// ExistsDir checks if the given path exists and is a directory.
func ExistsDir(path string) bool {
	return Exists(path, func(stat os.FileInfo) bool {
		return stat.Mode().IsDir()
	})
}

// ExistsFile checks if the given path exists and is a regular file.
func ExistsFile(path string) bool {
	return Exists(path, func(stat os.FileInfo) bool {
		return stat.Mode().IsRegular()
	})
}

// Close closes the given io.Closer without error.
func Close(c io.Closer) {
	if c == nil {
		return
	}
	_ = c.Close()
}

// CreateFile is similar to os.Create,
// but creates the missing parent directories and supports ~ as the home directory.
func CreateFile(path string, perm os.FileMode) (*os.File, error) {
	p := filepath.Clean(path)
	p = InlineTilde(p)
	if err := os.MkdirAll(filepath.Dir(p), 0o700); err != nil {
		return nil, err
	}
	return os.OpenFile(p, os.O_RDWR|os.O_CREATE|os.O_TRUNC, perm)
}

// WriteFile is similar to os.WriteFile,
// but creates the missing parent directories,
// and writes to a temporary sibling file renamed into place when complete.
func WriteFile(path string, data []byte, perm os.FileMode) error {
	p := filepath.Clean(path)
	p = InlineTilde(p)
	if err := os.MkdirAll(filepath.Dir(p), 0o700); err != nil {
		return err
	}

	tp := p + ".tmp"
	if err := os.WriteFile(tp, data, perm); err != nil {
		_ = os.Remove(tp)
		return err
	}
	return os.Rename(tp, p)
}
