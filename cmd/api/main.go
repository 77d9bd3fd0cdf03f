package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/phonegate/server/internal/app"
	"github.com/phonegate/server/internal/config"
	"github.com/phonegate/server/internal/db"
	"github.com/phonegate/server/internal/logger"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("phonegate stopped")
	}
}

func run() error {
	// Load configuration (.env from CWD or server/, env vars override)
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	lg := logger.New(cfg.AppEnv, cfg.LogLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	ctx = lg.WithContext(ctx)

	lg.Info().Str("env", cfg.AppEnv).Str("database", cfg.DatabaseTarget()).Msg("starting phonegate")

	database, err := db.Open(ctx, cfg.DatabaseURL, db.DefaultPool())
	if err != nil {
		return err
	}
	defer database.Close()

	if err := db.Migrate(ctx, database); err != nil {
		return err
	}

	a, err := app.New(ctx, cfg, lg, database)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			lg.Warn().Err(err).Msg("close resources")
		}
	}()

	return a.Run(ctx)
}
