//go:build windows

package instance

import "os"

// processAlive relies on FindProcess opening a handle, which fails for exited PIDs.
func processAlive(pid int) bool {
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	_ = p.Release()
	return true
}
