//go:build !windows

package signalx

import (
	"os"
	"syscall"
)

// SIGHUP covers a closed terminal.
var sigs = []os.Signal{syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP}
