package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"billfeed/api/internal/archive"
	"billfeed/api/internal/cache"
	"billfeed/api/internal/config"
	"billfeed/api/internal/legiscan"
	"billfeed/api/internal/metrics"
	"billfeed/api/internal/search"
	"billfeed/api/internal/store"
)

// Runtime holds a Service together with the connections it was built on.
type Runtime struct {
	Service *Service
	Search  *search.Service
	PgFTS   *search.PgFTS

	closers []func()
}

// Open connects every configured backend and builds the Service. Only the
// database is required; the cache, search index, archive and payload store
// are skipped with a warning when they are not configured or unreachable.
func Open(ctx context.Context, cfg config.Config, m *metrics.Metrics) (*Runtime, error) {
	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}
	rt := &Runtime{}
	rt.closers = append(rt.closers, func() { _ = db.Close() })

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		rt.Close()
		return nil, fmt.Errorf("migrations failed: %w", err)
	}

	deps := Dependencies{
		Store:    store.NewPostgresStore(db),
		Upstream: legiscan.New(cfg.LegiScanURL, cfg.LegiScanKey, cfg.LegiScanRate, cfg.LegiScanTimeout, m),
		Metrics:  m,
	}
	if strings.TrimSpace(cfg.LegiScanKey) == "" {
		slog.Warn("LEGISCAN_KEY is not set, upstream calls will fail")
	}

	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisCache, err := cache.NewRedisCache(cfg.RedisURL, cfg.PersonCacheTTL, cfg.SaveLockTTL)
		if err != nil {
			slog.Warn("redis unavailable, running without cache and save lock", "error", err)
		} else {
			deps.Cache = redisCache
			rt.closers = append(rt.closers, func() { _ = redisCache.Close() })
		}
	}

	rt.PgFTS = search.NewPgFTS(db)
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		rt.closers = append(rt.closers, meiliClient.Close)
	}
	rt.Search = search.NewService(meiliClient, rt.PgFTS)
	rt.closers = append(rt.closers, rt.Search.Wait)
	deps.Search = rt.Search

	if strings.TrimSpace(cfg.ArchiveDir) != "" {
		if err := os.MkdirAll(cfg.ArchiveDir, 0o755); err != nil {
			rt.Close()
			return nil, fmt.Errorf("create archive dir: %w", err)
		}
		deps.Archive = archive.NewGitArchive(cfg.ArchiveDir)
	}

	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		payloads, err := archive.NewPayloadStore(ctx, cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			slog.Warn("minio unavailable, raw payloads will not be archived", "error", err)
		} else {
			deps.Payloads = payloads
		}
	}

	rt.Service = NewService(cfg, deps)
	return rt, nil
}

// Close releases connections in reverse order of creation.
func (rt *Runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
	rt.closers = nil
}
