package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/kursadbilgin/mailtrack/internal/config"
	"github.com/kursadbilgin/mailtrack/internal/infra/postgresql"
	"github.com/kursadbilgin/mailtrack/internal/observability"
	"github.com/kursadbilgin/mailtrack/internal/repository"
	"github.com/kursadbilgin/mailtrack/internal/service"
	"go.uber.org/zap"
)

// Usage: purge [days_ago]
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config", zap.Error(err))
	}

	logger, err := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatal("failed to initialize logger", zap.Error(err))
	}
	defer logger.Sync() //nolint:errcheck

	days, err := daysAgo(os.Args[1:], cfg.PurgeAfterDays)
	if err != nil {
		logger.Fatal("invalid arguments", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := postgresql.NewPostgres(cfg.DatabaseDSN, 1, logger)
	if err != nil {
		logger.Fatal("postgres initialization failed", zap.Error(err))
	}
	sqlDB, err := db.DB()
	if err != nil {
		logger.Fatal("postgres underlying db init failed", zap.Error(err))
	}
	defer sqlDB.Close()

	purger, err := service.NewPurger(repository.NewGormMessageRepo(db), nil, logger)
	if err != nil {
		logger.Fatal("purger initialization failed", zap.Error(err))
	}

	deleted, err := purger.PurgeOlderThan(ctx, days)
	if err != nil {
		logger.Fatal("purge failed", zap.Int("daysAgo", days), zap.Error(err))
	}

	fmt.Printf("purged %d messages older than %d days\n", deleted, days)
}

func daysAgo(args []string, fallback int) (int, error) {
	if len(args) == 0 {
		return fallback, nil
	}
	if len(args) > 1 {
		return 0, fmt.Errorf("expected at most one argument, got %d", len(args))
	}

	days, err := strconv.Atoi(args[0])
	if err != nil || days < 0 {
		return 0, fmt.Errorf("days_ago must be a non-negative integer, got %q", args[0])
	}
	return days, nil
}
