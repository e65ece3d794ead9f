package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/johnrirwin/avatarguard/internal/app"
	"github.com/johnrirwin/avatarguard/internal/config"
	"github.com/johnrirwin/avatarguard/internal/instance"
	"github.com/johnrirwin/avatarguard/internal/logging"
)

func main() {
	cfg := config.Load()
	logger := app.NewLogger(cfg)

	if err := cfg.ValidateReportBot(); err != nil {
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

	bot, err := app.NewReportBot(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize report bot", logging.WithField("error", err.Error()))
		os.Exit(1)
	}

	err = bot.Run(ctx)
	if closeErr := bot.Close(); closeErr != nil {
		logger.Warn("Queue close error", logging.WithField("error", closeErr.Error()))
	}
	if errors.Is(err, instance.ErrAlreadyRunning) {
		logger.Error("Bot is already running, exiting")
		os.Exit(1)
	}
	if err != nil {
		logger.Error("Report bot error", logging.WithField("error", err.Error()))
		os.Exit(1)
	}
}
