package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"billfeed/api/internal/app"
	"billfeed/api/internal/config"
	"billfeed/api/internal/logger"
	"billfeed/api/internal/metrics"
)

func main() {
	cfg := config.Load()
	logger.Setup(cfg)
	ctx := context.Background()

	m := metrics.New()
	rt, err := app.Open(ctx, cfg, m)
	if err != nil {
		slog.Error("startup failed", "error", err)
		os.Exit(1)
	}
	defer rt.Close()

	// Backfill the index from Postgres so search works after a Meilisearch
	// reset.
	go rt.Search.ReindexAllFromPG(context.Background(), rt.PgFTS)

	httpServer := app.NewHTTPServer(rt.Service, cfg.CORSOrigin, m.Handler())
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		slog.Info("billfeed API listening", "addr", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Warn("shutdown error", "error", err)
	}
}
