package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cap0y/kiumauto-sub000/internal/broker/kiwoom"
	"github.com/cap0y/kiumauto-sub000/internal/logger"
	"github.com/cap0y/kiumauto-sub000/internal/trace"
)

func must(err error) {
	if err != nil {
		log.Fatal(err)
	}
}

func main() {
	must(initializeSystem())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := loadConfig(ctx)
	must(err)

	compressOldLogs(ctx)

	brk, candleSvc := initializeBroker(ctx, cfg)
	feed := kiwoom.NewFeed(cfg.Broker.FeedURL)

	eng, err := initializeEngine(ctx, cfg, brk, candleSvc, feed)
	must(err)

	if err := feed.Start(ctx); err != nil {
		logger.Warn(ctx, "Fill feed unavailable at startup, relying on snapshots", "error", err.Error())
	}

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)

	pollTick := time.NewTicker(time.Duration(cfg.Cycle.PollSeconds) * time.Second)
	defer pollTick.Stop()
	exitTick := time.NewTicker(time.Duration(cfg.Cycle.ExitMonitorSeconds) * time.Second)
	defer exitTick.Stop()
	snapTick := time.NewTicker(time.Duration(cfg.Cycle.SnapshotSeconds) * time.Second)
	defer snapTick.Stop()
	persistTick := time.NewTicker(time.Duration(cfg.Cycle.PersistMinutes) * time.Minute)
	defer persistTick.Stop()

	// Push events are consumed off-loop so a slow snapshot never stalls
	// fill processing.
	go func() {
		for {
			select {
			case ev := <-feed.Fills():
				eng.HandleFill(ctx, ev)
			case t := <-feed.Ticks():
				eng.HandleTick(ctx, t)
			case <-ctx.Done():
				return
			}
		}
	}()

	// Seed the ledger with broker truth before the first decision cycle.
	eng.Reconcile(ctx)

	logger.Info(ctx, "Bot started",
		"mode", cfg.Mode, "account", cfg.Account,
		"poll_seconds", cfg.Cycle.PollSeconds)

	for {
		select {
		case <-pollTick.C:
			eng.RunCycle(ctx)
		case <-exitTick.C:
			eng.MonitorExits(ctx)
		case <-snapTick.C:
			eng.Reconcile(ctx)
		case <-persistTick.C:
			eng.Persist(ctx)
		case <-sigc:
			logger.Info(ctx, "Shutting down")
			cancel()
			feed.Stop(context.Background())
			eng.Persist(context.Background())
			trace.Shutdown(context.Background())
			return
		case <-ctx.Done():
			return
		}
	}
}
