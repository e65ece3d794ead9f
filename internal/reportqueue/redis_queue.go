package reportqueue

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultRedisKey     = "avatarguard:reports"
	defaultRedisTimeout = 2 * time.Second
)

// RedisQueue keeps records in a Redis list. Drain reads and deletes inside a
// MULTI block, so a concurrent append lands either in this batch or the next.
type RedisQueue struct {
	client *redis.Client
	key    string
}

// NewRedisQueue creates a list-backed queue under key.
func NewRedisQueue(client *redis.Client, key string) *RedisQueue {
	key = strings.TrimSpace(key)
	if key == "" {
		key = defaultRedisKey
	}
	return &RedisQueue{client: client, key: key}
}

// Enqueue pushes line onto the tail of the list.
func (q *RedisQueue) Enqueue(ctx context.Context, line string) error {
	line = singleLine(line)
	if line == "" {
		return fmt.Errorf("%w: empty record", ErrQueueWrite)
	}
	if len(line) > MaxRecordBytes {
		return fmt.Errorf("%w: record is %d bytes, limit %d", ErrQueueWrite, len(line), MaxRecordBytes)
	}

	ctx, cancel := context.WithTimeout(ctx, defaultRedisTimeout)
	defer cancel()

	if err := q.client.RPush(ctx, q.key, line).Err(); err != nil {
		return fmt.Errorf("%w: rpush %s: %v", ErrQueueWrite, q.key, err)
	}
	return nil
}

// Drain returns the whole list and removes it atomically.
func (q *RedisQueue) Drain(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultRedisTimeout)
	defer cancel()

	var items *redis.StringSliceCmd
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		items = pipe.LRange(ctx, q.key, 0, -1)
		pipe.Del(ctx, q.key)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("drain %s: %w", q.key, err)
	}

	var lines []string
	for _, line := range items.Val() {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return lines, nil
}

// Close closes the Redis connection.
func (q *RedisQueue) Close() error {
	return q.client.Close()
}

var _ Queue = (*RedisQueue)(nil)
