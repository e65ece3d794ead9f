package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/johnrirwin/avatarguard/internal/app"
	"github.com/johnrirwin/avatarguard/internal/config"
	"github.com/johnrirwin/avatarguard/internal/logging"
)

func main() {
	cfg := config.Load()
	logger := app.NewLogger(cfg)

	if err := cfg.ValidateUploader(); err != nil {
		logger.Error("Invalid configuration", logging.WithField("error", err.Error()))
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("Shutting down...")
		cancel()
	}()

	uploader, err := app.NewUploader(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize upload service", logging.WithField("error", err.Error()))
		os.Exit(1)
	}
	defer uploader.Close()

	if err := uploader.Run(ctx); err != nil {
		logger.Error("HTTP server error", logging.WithField("error", err.Error()))
		uploader.Close()
		os.Exit(1)
	}
}
