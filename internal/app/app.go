// Package app wires configuration into the upload service and the report bot.
package app

import (
	"context"
	"fmt"
	"io"

	"github.com/redis/go-redis/v9"

	"github.com/johnrirwin/avatarguard/internal/config"
	"github.com/johnrirwin/avatarguard/internal/logging"
	"github.com/johnrirwin/avatarguard/internal/moderation"
	"github.com/johnrirwin/avatarguard/internal/reportqueue"
)

// NewLogger builds the process logger from the configured level.
func NewLogger(cfg *config.Config) *logging.Logger {
	return logging.New(logging.ParseLevel(cfg.Logging.Level))
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// openQueue returns the configured report queue and a closer for any
// connection it owns.
func openQueue(ctx context.Context, cfg config.QueueConfig, logger *logging.Logger) (reportqueue.Queue, io.Closer, error) {
	switch cfg.Backend {
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("connect to redis %s: %w", cfg.RedisAddr, err)
		}
		logger.Info("Using Redis report queue", logging.WithFields(map[string]interface{}{
			"addr": cfg.RedisAddr,
			"key":  cfg.RedisKey,
		}))
		queue := reportqueue.NewRedisQueue(client, cfg.RedisKey)
		return queue, queue, nil
	case "file", "":
		queue, err := reportqueue.NewFileQueue(cfg.FilePath)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("Using file report queue", logging.WithField("path", queue.Path()))
		return queue, nopCloser{}, nil
	default:
		return nil, nil, fmt.Errorf("unknown queue backend %q", cfg.Backend)
	}
}

// classifier is a moderation.Classifier holding a remote client.
type classifier interface {
	moderation.Classifier
	io.Closer
}

// newClassifier builds the configured provider.
func newClassifier(ctx context.Context, cfg config.ModerationConfig) (classifier, error) {
	switch cfg.Provider {
	case "vision", "":
		return moderation.NewVisionClassifier(ctx, cfg.VisionCredentialsFile)
	case "rekognition":
		return moderation.NewRekognitionClassifier(ctx, cfg.AWSRegion)
	case "mock":
		return &moderation.MockClassifier{}, nil
	default:
		return nil, fmt.Errorf("unknown moderation provider %q", cfg.Provider)
	}
}

// newModerator returns nil when moderation is disabled.
func newModerator(ctx context.Context, cfg config.ModerationConfig, logger *logging.Logger) (*moderation.Service, io.Closer, error) {
	if !cfg.Enabled {
		logger.Warn("Image moderation is disabled")
		return nil, nopCloser{}, nil
	}

	policy, err := moderation.ParsePolicy(cfg.Policy)
	if err != nil {
		return nil, nil, fmt.Errorf("parse moderation policy: %w", err)
	}

	c, err := newClassifier(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("init %s classifier: %w", cfg.Provider, err)
	}

	logger.Info("Image moderation enabled", logging.WithFields(map[string]interface{}{
		"provider": cfg.Provider,
		"rules":    len(policy),
	}))
	return moderation.NewService(c, policy, cfg.Timeout), c, nil
}
