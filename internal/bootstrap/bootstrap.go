// Package bootstrap opens the storage and cache backends named by the
// configuration. Commands share it so they agree on which store is live.
package bootstrap

import (
	"context"
	"fmt"
	"log"

	"carparts/backend/internal/cache"
	"carparts/backend/internal/config"
	"carparts/backend/internal/store"
	"carparts/backend/internal/store/memory"
	"carparts/backend/internal/store/mongostore"
	pgstore "carparts/backend/internal/store/postgres"
)

type Backend struct {
	Repo store.Repository
	Name string
	// Close releases the backend; it is never nil.
	Close func() error
}

// OpenRepository picks MongoDB when MONGODB_URI is set, then Postgres when
// DATABASE_URL is set, and falls back to the seeded in-memory store. A
// configured database that cannot be reached is an error, never a silent
// fallback.
func OpenRepository(ctx context.Context, cfg config.Config) (Backend, error) {
	switch {
	case cfg.MongoURI != "":
		mg, err := mongostore.New(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return Backend{}, fmt.Errorf("mongodb unavailable: %w", err)
		}
		if err := mg.EnsureIndexes(ctx); err != nil {
			_ = mg.Close()
			return Backend{}, fmt.Errorf("mongodb indexes: %w", err)
		}
		return Backend{Repo: mg, Name: "mongodb", Close: mg.Close}, nil

	case cfg.DatabaseURL != "":
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return Backend{}, fmt.Errorf("postgres unavailable: %w", err)
		}
		if cfg.DatabaseMigrate {
			if err := pg.Migrate(); err != nil {
				_ = pg.Close()
				return Backend{}, fmt.Errorf("postgres migrations: %w", err)
			}
		}
		return Backend{Repo: pg, Name: "postgres", Close: pg.Close}, nil

	default:
		return Backend{Repo: memory.NewSeeded(), Name: "in-memory", Close: func() error { return nil }}, nil
	}
}

// OpenReportCache connects to Redis when REDIS_ADDR is set. An unreachable
// Redis degrades to the no-op cache with a warning.
func OpenReportCache(ctx context.Context, cfg config.Config) (cache.ReportCache, func() error) {
	noop := func() error { return nil }
	if cfg.RedisAddr == "" {
		return cache.NoopReportCache{}, noop
	}
	redisCache := cache.NewRedisReportCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err := redisCache.Ping(ctx); err != nil {
		log.Printf("[bootstrap] WARN: redis unavailable (%v), using noop report cache", err)
		_ = redisCache.Close()
		return cache.NoopReportCache{}, noop
	}
	return redisCache, redisCache.Close
}
