package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"billfeed/api/internal/app"
	"billfeed/api/internal/config"
	"billfeed/api/internal/logger"
	"billfeed/api/internal/metrics"
	"billfeed/api/internal/watchlist"
)

func main() {
	var (
		listPath = flag.String("watchlist", "./watchlist.yml", "path to YAML watchlist")
		interval = flag.Duration("interval", 0, "override the watchlist interval")
		once     = flag.Bool("once", false, "save every bill once then exit")
	)
	flag.Parse()

	cfg := config.Load()
	logger.Setup(cfg)

	list, err := watchlist.Load(*listPath)
	if err != nil {
		slog.Error("load watchlist", "path", *listPath, "error", err)
		os.Exit(1)
	}
	if *interval > 0 {
		list.Interval = *interval
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rt, err := app.Open(ctx, cfg, metrics.New())
	if err != nil {
		slog.Error("startup failed", "error", err)
		os.Exit(1)
	}
	defer rt.Close()

	ids := list.IDs()
	slog.Info("poller starting", "bills", len(ids), "interval", list.Interval.String(), "once", *once)

	runOnce := func() {
		start := time.Now()
		var created, updated, unchanged, failed int
		for _, id := range ids {
			if ctx.Err() != nil {
				return
			}
			result, err := rt.Service.SaveBill(ctx, id)
			if err != nil {
				failed++
				slog.Warn("save bill failed", "bill_id", id, "error", err)
				continue
			}
			switch result.Status {
			case "created":
				created++
			case "updated":
				updated++
			default:
				unchanged++
			}
		}
		slog.Info("poll cycle done",
			"created", created,
			"updated", updated,
			"unchanged", unchanged,
			"failed", failed,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}

	runOnce()
	if *once {
		return
	}

	ticker := time.NewTicker(list.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("poller stopping")
			return
		case <-ticker.C:
			runOnce()
		}
	}
}
