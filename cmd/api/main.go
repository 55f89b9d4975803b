package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/IlyasAtabaev731/banco-digital/internal/api"
	"github.com/IlyasAtabaev731/banco-digital/internal/config"
	"github.com/IlyasAtabaev731/banco-digital/internal/services/auth"
	"github.com/IlyasAtabaev731/banco-digital/internal/services/banking"
	"github.com/IlyasAtabaev731/banco-digital/internal/storage/postgres"
	"github.com/IlyasAtabaev731/banco-digital/internal/storage/sqlite"
	"github.com/shopspring/decimal"
)

const (
	envLocal = "local"
	envDev   = "dev"
	envProd  = "prod"

	sweepInterval = 10 * time.Minute
)

// store is what both backends offer the services.
type store interface {
	auth.CredentialStorage
	banking.Storage
	Stop() error
}

func main() {
	cfg := config.MustLoad()

	log := setupLogger(cfg.Env)

	log.Info("Starting application",
		slog.String("env", cfg.Env),
		slog.String("host", cfg.ApiHost),
		slog.Int("port", cfg.ApiPort),
		slog.String("storage", cfg.Storage.Driver),
	)

	storage, err := openStorage(cfg, log)
	if err != nil {
		log.Error("Failed to open storage", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := storage.Stop(); err != nil {
			log.Error("Failed to close storage", "error", err)
		}
	}()

	authService := auth.New(log, storage, cfg.JwtSecret, cfg.TokenTTL)
	bankingService := banking.New(log, authService, storage, banking.Options{
		StartingBalance: decimal.NewFromInt(cfg.StartingBalance),
		HistoryPageSize: cfg.HistoryPageSize,
	})

	ctx, cancelSweeper := context.WithCancel(context.Background())
	defer cancelSweeper()
	go authService.RunSweeper(ctx, sweepInterval)

	apiServer := api.New(cfg, log, bankingService, authService)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		apiServer.MustStart()
	}()

	<-sigChan
	log.Info("Got signal to shutdown server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := apiServer.Stop(shutdownCtx); err != nil {
		log.Error("Stopping server error", "error", err)
	}
}

func openStorage(cfg *config.Config, log *slog.Logger) (store, error) {
	switch cfg.Storage.Driver {
	case config.DriverSQLite:
		s, err := sqlite.New(cfg.Storage.SqlitePath, log)
		if err != nil {
			return nil, err
		}
		if err := s.Migrate(); err != nil {
			_ = s.Stop()
			return nil, err
		}
		return s, nil
	default:
		s, err := postgres.New(cfg.Postgres.URL(), log)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}

func setupLogger(env string) *slog.Logger {
	var log *slog.Logger
	switch env {
	case envLocal:
		log = slog.New(
			slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case envDev:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case envProd:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
		)
	default:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
		)
	}
	return log
}
