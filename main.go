package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/opencrafts-io/interventoria/internal/app"
	"github.com/opencrafts-io/interventoria/internal/config"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Error("Failed to load configuration file", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	app, err := app.New(logger, cfg)
	if err != nil {
		logger.Error("Failed to create app.", slog.Any("error", err))
		os.Exit(1)
	}

	if err := app.Start(ctx); err != nil {
		logger.Error("Failed to start app.", slog.Any("error", err))
		os.Exit(1)
	}
}
