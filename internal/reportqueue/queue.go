package reportqueue

import (
	"context"
	"errors"
)

// ErrQueueWrite is returned when a record could not be appended.
var ErrQueueWrite = errors.New("report queue write failed")

// Queue is a durable mailbox between upload services and the report bot.
// Any number of producers may Enqueue; exactly one consumer may Drain.
type Queue interface {
	// Enqueue appends one line. Embedded newlines are flattened.
	Enqueue(ctx context.Context, line string) error
	// Drain returns every pending line in append order and clears the queue.
	Drain(ctx context.Context) ([]string, error)
}
