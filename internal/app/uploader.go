package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/johnrirwin/avatarguard/internal/auth"
	"github.com/johnrirwin/avatarguard/internal/avatars"
	"github.com/johnrirwin/avatarguard/internal/config"
	"github.com/johnrirwin/avatarguard/internal/httpapi"
	"github.com/johnrirwin/avatarguard/internal/logging"
	"github.com/johnrirwin/avatarguard/internal/ratelimit"
	"github.com/johnrirwin/avatarguard/internal/upload"
)

// Uploader holds the upload service dependencies.
type Uploader struct {
	Config     *config.Config
	Logger     *logging.Logger
	Pipeline   *upload.Pipeline
	HTTPServer *httpapi.Server

	closers []io.Closer
}

// NewUploader connects the storage backend, report queue and classifier and
// builds the HTTP server.
func NewUploader(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*Uploader, error) {
	u := &Uploader{Config: cfg, Logger: logger}

	store, err := u.initStore(ctx)
	if err != nil {
		return nil, err
	}

	queue, queueCloser, err := openQueue(ctx, cfg.Queue, logger)
	if err != nil {
		return nil, err
	}
	u.closers = append(u.closers, queueCloser)

	moderator, modCloser, err := newModerator(ctx, cfg.Moderation, logger)
	if err != nil {
		u.Close()
		return nil, err
	}
	u.closers = append(u.closers, modCloser)

	var mod upload.Moderator
	if moderator != nil {
		mod = moderator
	}

	u.Pipeline = upload.NewPipeline(mod, store, queue, ratelimit.New(cfg.Server.UploadInterval), upload.Options{
		MaxBytes:  cfg.Server.MaxUploadBytes,
		LargeSize: cfg.Storage.LargeSize,
		SmallSize: cfg.Storage.SmallSize,
	}, logger)

	authService := auth.NewService(cfg.Auth, logger)
	u.HTTPServer = httpapi.New(u.Pipeline, auth.NewMiddleware(authService), httpapi.Options{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
	}, logger)

	return u, nil
}

func (u *Uploader) initStore(ctx context.Context) (avatars.Store, error) {
	switch u.Config.Storage.Backend {
	case "s3":
		store, err := avatars.NewS3Store(ctx, avatars.S3Config{
			Bucket:          u.Config.Storage.S3Bucket,
			Prefix:          u.Config.Storage.S3Prefix,
			Region:          u.Config.Storage.S3Region,
			Endpoint:        u.Config.Storage.S3Endpoint,
			AccessKeyID:     u.Config.Storage.S3AccessKeyID,
			SecretAccessKey: u.Config.Storage.S3SecretAccessKey,
		})
		if err != nil {
			return nil, fmt.Errorf("init s3 store: %w", err)
		}
		u.Logger.Info("Using S3 avatar storage", logging.WithField("bucket", u.Config.Storage.S3Bucket))
		return store, nil
	case "local", "":
		store, err := avatars.NewLocalStore(u.Config.Storage.Root)
		if err != nil {
			return nil, fmt.Errorf("init local store: %w", err)
		}
		u.Logger.Info("Using local avatar storage", logging.WithField("root", store.Root()))
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", u.Config.Storage.Backend)
	}
}

// Run serves HTTP until ctx is cancelled, then shuts down gracefully.
func (u *Uploader) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- u.HTTPServer.Start(u.Config.Server.HTTPAddr)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	u.Logger.Info("Shutting down upload service")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), u.Config.Server.ShutdownTimeout)
	defer cancel()
	if err := u.HTTPServer.Shutdown(shutdownCtx); err != nil {
		u.Logger.Error("HTTP server shutdown error", logging.WithField("error", err.Error()))
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Close releases the queue connection and classifier client.
func (u *Uploader) Close() {
	for _, c := range u.closers {
		if err := c.Close(); err != nil {
			u.Logger.Warn("Close error", logging.WithField("error", err.Error()))
		}
	}
	u.closers = nil
}
