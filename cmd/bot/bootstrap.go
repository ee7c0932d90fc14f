package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/cap0y/kiumauto-sub000/internal/broker/brokerobs"
	"github.com/cap0y/kiumauto-sub000/internal/broker/kiwoom"
	"github.com/cap0y/kiumauto-sub000/internal/engine"
	"github.com/cap0y/kiumauto-sub000/internal/interfaces"
	"github.com/cap0y/kiumauto-sub000/internal/ledger"
	"github.com/cap0y/kiumauto-sub000/internal/logger"
	"github.com/cap0y/kiumauto-sub000/internal/pnl"
	"github.com/cap0y/kiumauto-sub000/internal/screener"
	"github.com/cap0y/kiumauto-sub000/internal/store"
	"github.com/cap0y/kiumauto-sub000/internal/trace"
	"github.com/cap0y/kiumauto-sub000/internal/tradelog"

	"github.com/joho/godotenv"
)

// initializeSystem initializes environment, logger and tracer
func initializeSystem() error {
	_ = godotenv.Load()

	if err := logger.Init(); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	if err := trace.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize tracer: %v\n", err)
	}

	return nil
}

// loadConfig loads and returns the configuration
func loadConfig(ctx context.Context) (*store.Config, error) {
	path := os.Getenv("TRADER_CONFIG")
	if path == "" {
		path = "config.yaml"
	}
	cfg, err := store.LoadConfig(path)
	if err != nil {
		logger.ErrorWithErr(ctx, "Failed to load config", err, "path", path)
		return nil, err
	}
	return cfg, nil
}

// compressOldLogs compresses old tradelog files if retention is configured
func compressOldLogs(ctx context.Context) {
	if v := os.Getenv("TRADER_LOG_RETENTION_DAYS"); v != "" {
		var n int
		fmt.Sscanf(v, "%d", &n)
		if err := tradelog.CompressOlder(n); err != nil {
			logger.Warn(ctx, "Failed to compress old logs", "error", err)
		}
	}
}

// initializeBroker builds the brokerage client wrapped with observability.
// The same client serves as the candle service.
func initializeBroker(ctx context.Context, cfg *store.Config) (interfaces.Broker, interfaces.CandleService) {
	kw := kiwoom.New(kiwoom.Params{
		Mode:      cfg.Mode,
		BaseURL:   cfg.Broker.BaseURL,
		FeedURL:   cfg.Broker.FeedURL,
		AppKey:    os.Getenv("KIWOOM_APP_KEY"),
		AppSecret: os.Getenv("KIWOOM_APP_SECRET"),
		Account:   cfg.Account,
		Timeout:   time.Duration(cfg.Broker.TimeoutSeconds) * time.Second,
	})

	if cfg.Mode == "DRY_RUN" {
		logger.Warn(ctx, "Running in DRY_RUN mode - orders will be simulated")
	}

	return brokerobs.Wrap(kw), kw
}

// initializeEngine wires the controller with its collaborators and
// restores persisted state.
func initializeEngine(ctx context.Context, cfg *store.Config, brk interfaces.Broker,
	cs interfaces.CandleService, feed interfaces.FillFeed) (*engine.Engine, error) {

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", cfg.Timezone, err)
	}

	st, err := store.OpenState(cfg.StatePath, cfg.Account)
	if err != nil {
		return nil, fmt.Errorf("open state store: %w", err)
	}

	led := ledger.New()
	acc := pnl.New(st, loc)
	led.OnSellFilled(acc.OnSellFilled)

	scr := screener.New(cfg.Screener.BaseURL, time.Duration(cfg.Broker.TimeoutSeconds)*time.Second)

	eng := engine.New(cfg, brk, scr, cs, feed, led, acc, st, loc)
	eng.Restore(ctx)
	return eng, nil
}
