package reportqueue

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

const lockRetryDelay = 25 * time.Millisecond

// FileQueue stores records as newline-delimited UTF-8 text in a single file.
// Appends and drains hold an advisory lock on a sibling ".lock" file so that
// producers in other processes never interleave partial lines.
type FileQueue struct {
	path string
	lock *flock.Flock
	mu   sync.Mutex
}

// NewFileQueue creates a queue backed by path. The parent directory is created if needed.
func NewFileQueue(path string) (*FileQueue, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("queue path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create queue directory: %w", err)
	}
	return &FileQueue{
		path: path,
		lock: flock.New(path + ".lock"),
	}, nil
}

// Path returns the queue file location.
func (q *FileQueue) Path() string {
	return q.path
}

// Enqueue appends line with a single O_APPEND write under the lock.
func (q *FileQueue) Enqueue(ctx context.Context, line string) error {
	line = singleLine(line)
	if line == "" {
		return fmt.Errorf("%w: empty record", ErrQueueWrite)
	}
	if len(line) > MaxRecordBytes {
		return fmt.Errorf("%w: record is %d bytes, limit %d", ErrQueueWrite, len(line), MaxRecordBytes)
	}

	unlock, err := q.acquire(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrQueueWrite, err)
	}
	defer unlock()

	f, err := os.OpenFile(q.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("%w: open %s: %v", ErrQueueWrite, q.path, err)
	}
	if _, err := f.Write([]byte(line + "\n")); err != nil {
		f.Close()
		return fmt.Errorf("%w: append %s: %v", ErrQueueWrite, q.path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("%w: close %s: %v", ErrQueueWrite, q.path, err)
	}
	return nil
}

// Drain reads all present lines and truncates the file to empty.
// A missing file is an empty queue. Lines longer than MaxRecordBytes, which
// only a foreign writer can produce, are clipped rather than failing the batch.
func (q *FileQueue) Drain(ctx context.Context) ([]string, error) {
	unlock, err := q.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	data, err := os.ReadFile(q.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read queue %s: %w", q.path, err)
	}
	if len(data) == 0 {
		return nil, nil
	}

	var lines []string
	for _, raw := range bytes.Split(data, []byte("\n")) {
		if line := strings.TrimSpace(string(raw)); line != "" {
			lines = append(lines, clipRecord(line))
		}
	}

	if err := os.Truncate(q.path, 0); err != nil {
		return nil, fmt.Errorf("truncate queue %s: %w", q.path, err)
	}

	return lines, nil
}

func (q *FileQueue) acquire(ctx context.Context) (func(), error) {
	q.mu.Lock()
	locked, err := q.lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		q.mu.Unlock()
		return nil, fmt.Errorf("lock queue: %w", err)
	}
	if !locked {
		q.mu.Unlock()
		return nil, errors.New("lock queue: not acquired")
	}
	return func() {
		_ = q.lock.Unlock()
		q.mu.Unlock()
	}, nil
}

var _ Queue = (*FileQueue)(nil)
