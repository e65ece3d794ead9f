//go:build !windows

package instance

import (
	"errors"
	"syscall"
)

// processAlive sends signal 0, which checks existence without delivering anything.
func processAlive(pid int) bool {
	err := syscall.Kill(pid, syscall.Signal(0))
	return err == nil || errors.Is(err, syscall.EPERM)
}
