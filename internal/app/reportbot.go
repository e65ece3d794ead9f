package app

import (
	"context"
	"io"
	"sync"

	"github.com/johnrirwin/avatarguard/internal/config"
	"github.com/johnrirwin/avatarguard/internal/instance"
	"github.com/johnrirwin/avatarguard/internal/logging"
	"github.com/johnrirwin/avatarguard/internal/reportqueue"
	"github.com/johnrirwin/avatarguard/internal/session"
)

// ReportBot relays queued reports to the operators' channel.
type ReportBot struct {
	Config  *config.Config
	Logger  *logging.Logger
	Session *session.Manager
	Poller  *reportqueue.Poller

	guard       *instance.Guard
	queueCloser io.Closer
}

// NewReportBot builds the bot with the transport chosen by configuration.
func NewReportBot(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*ReportBot, error) {
	return newReportBot(ctx, cfg, logger, transportFor(cfg.IRC))
}

func newReportBot(ctx context.Context, cfg *config.Config, logger *logging.Logger, transport session.Transport) (*ReportBot, error) {
	queue, closer, err := openQueue(ctx, cfg.Queue, logger)
	if err != nil {
		return nil, err
	}

	manager := session.NewManager(session.Config{
		Nickname:         cfg.IRC.Nickname,
		Password:         cfg.IRC.Password,
		Channel:          cfg.IRC.Channel,
		NoticeDelay:      cfg.IRC.NoticeDelay,
		PingInterval:     cfg.IRC.PingInterval,
		JoinTimeout:      cfg.IRC.JoinTimeout,
		ReconnectInitial: cfg.IRC.ReconnectInitial,
		ReconnectMax:     cfg.IRC.ReconnectMax,
	}, transport, logger)

	return &ReportBot{
		Config:      cfg,
		Logger:      logger,
		Session:     manager,
		Poller:      reportqueue.NewPoller(queue, manager, cfg.Queue.PollInterval, logger),
		guard:       instance.NewGuard(cfg.IRC.PIDFile, logger),
		queueCloser: closer,
	}, nil
}

func transportFor(cfg config.IRCConfig) session.Transport {
	if cfg.WebSocketURL != "" {
		return &session.WebSocketTransport{URL: cfg.WebSocketURL}
	}
	return &session.LineTransport{Addr: cfg.Server, TLS: cfg.TLS}
}

// Run takes the instance lock, then runs the chat session and the queue
// poller until ctx is cancelled. It returns instance.ErrAlreadyRunning when
// another live bot holds the lock.
func (b *ReportBot) Run(ctx context.Context) error {
	if err := b.guard.Acquire(); err != nil {
		return err
	}
	defer func() {
		if err := b.guard.Release(); err != nil {
			b.Logger.Warn("Failed to release instance lock", logging.WithField("error", err.Error()))
		}
	}()

	b.Logger.Info("Report bot starting", logging.WithFields(map[string]interface{}{
		"channel": b.Config.IRC.Channel,
		"nick":    b.Config.IRC.Nickname,
	}))

	var wg sync.WaitGroup
	var sessionErr error

	wg.Add(2)
	go func() {
		defer wg.Done()
		sessionErr = b.Session.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		b.Poller.Run(ctx)
	}()
	wg.Wait()

	b.Logger.Info("Report bot stopped")
	return sessionErr
}

// Close releases the queue connection.
func (b *ReportBot) Close() error {
	return b.queueCloser.Close()
}
