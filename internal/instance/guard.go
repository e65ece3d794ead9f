// Package instance keeps a single report bot process alive at a time by
// recording its PID in a well-known file.
package instance

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/johnrirwin/avatarguard/internal/logging"
)

// ErrAlreadyRunning is returned by Acquire when a live process holds the lock.
var ErrAlreadyRunning = errors.New("another instance is already running")

// Guard owns the PID lock file.
type Guard struct {
	path   string
	pid    int
	logger *logging.Logger

	mu   sync.Mutex
	held bool
	// alive is swapped in tests.
	alive func(pid int) bool
}

// NewGuard creates a guard for path using the current process id.
func NewGuard(path string, logger *logging.Logger) *Guard {
	return &Guard{
		path:   path,
		pid:    os.Getpid(),
		logger: logger,
		alive:  processAlive,
	}
}

// Path returns the lock file location.
func (g *Guard) Path() string {
	return g.path
}

// Acquire takes the lock. A lock file naming a dead or unparsable PID is stale
// and is replaced.
func (g *Guard) Acquire() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.held {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(g.path), 0o755); err != nil {
		return fmt.Errorf("create lock directory: %w", err)
	}

	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(g.path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			_, writeErr := f.WriteString(strconv.Itoa(g.pid))
			closeErr := f.Close()
			if writeErr != nil || closeErr != nil {
				_ = os.Remove(g.path)
				return fmt.Errorf("write pid file %s: %w", g.path, errors.Join(writeErr, closeErr))
			}
			g.held = true
			g.logger.Info("PID file created", logging.WithFields(map[string]interface{}{
				"path": g.path,
				"pid":  g.pid,
			}))
			return nil
		}
		if !errors.Is(err, os.ErrExist) {
			return fmt.Errorf("create pid file %s: %w", g.path, err)
		}

		holder, readErr := readPID(g.path)
		if readErr == nil && g.alive(holder) {
			g.logger.Error("Bot is already running", logging.WithField("pid", holder))
			return fmt.Errorf("%w (pid %d)", ErrAlreadyRunning, holder)
		}

		g.logger.Warn("Stale PID file found, removing", logging.WithFields(map[string]interface{}{
			"path": g.path,
			"pid":  holder,
		}))
		if err := os.Remove(g.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove stale pid file %s: %w", g.path, err)
		}
	}

	// Another process reclaimed the stale lock between our remove and create.
	return ErrAlreadyRunning
}

// Release removes the lock file if it still names this process.
func (g *Guard) Release() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.held {
		return nil
	}
	g.held = false

	holder, err := readPID(g.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err == nil && holder != g.pid {
		g.logger.Warn("PID file owned by another process, leaving it", logging.WithField("pid", holder))
		return nil
	}

	if err := os.Remove(g.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove pid file %s: %w", g.path, err)
	}
	g.logger.Info("PID file removed", logging.WithField("path", g.path))
	return nil
}

func readPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("parse pid file %s: %w", path, err)
	}
	if pid <= 0 {
		return 0, fmt.Errorf("parse pid file %s: invalid pid %d", path, pid)
	}
	return pid, nil
}
