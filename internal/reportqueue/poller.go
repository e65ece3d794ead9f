package reportqueue

import (
	"context"
	"errors"
	"time"

	"github.com/johnrirwin/avatarguard/internal/logging"
	"github.com/johnrirwin/avatarguard/internal/models"
)

// ErrNotReady is returned by a Deliverer that cannot send yet. Records that
// fail with it are put back on the queue for a later cycle.
var ErrNotReady = errors.New("deliverer not ready")

// DefaultPollInterval is how often the consumer drains the queue.
const DefaultPollInterval = time.Second

// Deliverer sends one parsed record to the chat network.
type Deliverer interface {
	Ready() bool
	Deliver(ctx context.Context, record models.ReportRecord) error
}

// Poller is the single consumer of a Queue.
type Poller struct {
	queue     Queue
	deliverer Deliverer
	interval  time.Duration
	logger    *logging.Logger
}

// NewPoller creates a poller draining queue every interval.
func NewPoller(queue Queue, deliverer Deliverer, interval time.Duration, logger *logging.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Poller{
		queue:     queue,
		deliverer: deliverer,
		interval:  interval,
		logger:    logger,
	}
}

// Run polls until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.PollOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Report poller stopped")
			return
		case <-ticker.C:
			p.PollOnce(ctx)
		}
	}
}

// PollOnce drains the queue and delivers each record in order. It returns the
// number of records delivered successfully.
func (p *Poller) PollOnce(ctx context.Context) int {
	if !p.deliverer.Ready() {
		p.logger.Debug("Session not joined, leaving reports queued")
		return 0
	}

	lines, err := p.queue.Drain(ctx)
	if err != nil {
		p.logger.Error("Failed to drain report queue", logging.WithField("error", err.Error()))
		return 0
	}
	if len(lines) == 0 {
		return 0
	}

	p.logger.Debug("Processing queued reports", logging.WithField("count", len(lines)))

	delivered := 0
	for i, line := range lines {
		record := ParseRecord(line)
		if record.Malformed {
			p.logger.Warn("Failed to extract account from report, broadcasting only", logging.WithField("line", line))
		}

		err := p.deliverer.Deliver(ctx, record)
		if errors.Is(err, ErrNotReady) {
			p.logger.Warn("Session left channel mid-batch, requeueing reports", logging.WithField("count", len(lines)-i))
			p.requeue(ctx, lines[i:])
			break
		}
		if err != nil {
			p.logger.Error("Failed to deliver report", logging.WithFields(map[string]interface{}{
				"line":  line,
				"error": err.Error(),
			}))
			continue
		}
		delivered++
	}

	return delivered
}

// requeue appends lines at the tail, behind anything produced since the drain.
func (p *Poller) requeue(ctx context.Context, lines []string) {
	for _, line := range lines {
		if err := p.queue.Enqueue(ctx, line); err != nil {
			p.logger.Error("Failed to requeue report", logging.WithFields(map[string]interface{}{
				"line":  line,
				"error": err.Error(),
			}))
		}
	}
}
