package session

import (
	"math/rand"
	"time"
)

// backoff grows the reconnect delay exponentially with +/-10% jitter.
type backoff struct {
	initial time.Duration
	max     time.Duration
	next    time.Duration
}

func newBackoff(initial, max time.Duration) *backoff {
	if initial <= 0 {
		initial = time.Second
	}
	if max < initial {
		max = initial
	}
	return &backoff{initial: initial, max: max, next: initial}
}

// Delay returns the wait before the next attempt and advances the schedule.
func (b *backoff) Delay() time.Duration {
	delay := float64(b.next)
	delay += (rand.Float64()*2 - 1) * delay * 0.1

	doubled := b.next * 2
	if doubled > b.max || doubled <= 0 {
		doubled = b.max
	}
	b.next = doubled

	if delay > float64(b.max) {
		delay = float64(b.max)
	}
	return time.Duration(delay)
}

func (b *backoff) Reset() {
	b.next = b.initial
}
