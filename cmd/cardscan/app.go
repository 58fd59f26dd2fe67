package main

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/BJohnRogers/FinalVision/internal/api"
	"github.com/BJohnRogers/FinalVision/internal/cache"
	"github.com/BJohnRogers/FinalVision/internal/config"
	"github.com/BJohnRogers/FinalVision/internal/logging"
	"github.com/BJohnRogers/FinalVision/internal/lookup"
	"github.com/BJohnRogers/FinalVision/internal/ocr"
	"github.com/BJohnRogers/FinalVision/internal/pipeline"
	"github.com/BJohnRogers/FinalVision/internal/query"
	"github.com/BJohnRogers/FinalVision/internal/queue"
	"github.com/BJohnRogers/FinalVision/internal/storage"
)

const memoryCacheSize = 1024

// app holds the shared dependencies every command wires from config
type app struct {
	cfg    *config.Config
	logger *logging.Logger

	redis     *redis.Client         // nil without REDIS_URL
	store     *storage.SessionStore // nil without DATABASE_URL
	outcomes  *queue.RedisSink      // nil without REDIS_URL
	extractor ocr.Extractor
	cache     cache.Store
	hub       *pipeline.Hub
}

// newApp connects to the configured backends and builds the pipeline hub.
// extraSinks receive deliveries after the Redis sink.
func newApp(ctx context.Context, cfg *config.Config, extraSinks ...pipeline.Sink) (*app, error) {
	a := &app{cfg: cfg, logger: logging.NewLogger("cardscan")}

	extractor, err := ocr.New(ocr.EngineConfig{
		Engine:        cfg.OCREngine,
		LanguageHint:  cfg.OCRLanguageHint,
		MinConfidence: cfg.OCRMinConfidence,
		RemoteURL:     cfg.OCRRemoteURL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create extractor: %w", err)
	}
	a.extractor = extractor

	client, err := lookup.NewClient(lookup.Config{
		Endpoint:  cfg.Endpoint,
		Timeout:   cfg.LookupTimeout(),
		UserAgent: cfg.UserAgent,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create lookup client: %w", err)
	}

	if cfg.RedisURL != "" {
		a.redis, err = cache.DialRedis(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		a.cache = cache.NewRedisStore(a.redis, "")
		a.logger.Info("Redis connected", "cache", "redis")
	} else {
		a.cache = cache.NewMemoryStore(memoryCacheSize)
	}

	if cfg.DatabaseURL != "" {
		a.store, err = storage.OpenSessionStore(ctx, cfg.DatabaseDriver, cfg.DatabaseURL)
		if err != nil {
			a.Close()
			return nil, err
		}
		if err := a.store.EnsureSchema(ctx); err != nil {
			a.Close()
			return nil, err
		}
		a.logger.Info("Session history enabled", "driver", cfg.DatabaseDriver)
	}

	var sinks pipeline.MultiSink
	if a.redis != nil {
		a.outcomes = queue.NewRedisSink(a.redis)
		sinks = append(sinks, a.outcomes)
	}
	sinks = append(sinks, extraSinks...)

	template := pipeline.Config{
		Extractor:     extractor,
		Resolver:      lookup.NewCachingResolver(client, a.cache, cfg.CacheTTL()),
		Sink:          sinks,
		BuildQuery:    query.Builder(query.Mode(cfg.QueryMode)),
		LookupRetries: cfg.LookupRetries,
	}
	if a.store != nil {
		template.Recorder = a.store
	}

	a.hub, err = pipeline.NewHub(template,
		pipeline.WithMaxSurfaces(cfg.MaxSurfaces),
		pipeline.WithIdleTimeout(cfg.SurfaceIdleTimeout()))
	if err != nil {
		a.Close()
		return nil, err
	}

	a.logger.Info("Pipeline ready",
		"ocrEngine", extractor.Engine(),
		"queryMode", cfg.QueryMode,
		"endpoint", cfg.Endpoint,
		"lookupRetries", cfg.LookupRetries)

	return a, nil
}

// health collects the /health checks and counters for the configured backends.
// w may be nil when the capture queue is disabled.
func (a *app) health(w worker) (map[string]api.HealthCheck, map[string]api.StatsFunc) {
	checks := make(map[string]api.HealthCheck)
	stats := map[string]api.StatsFunc{
		"surfaces": func(ctx context.Context) (interface{}, error) {
			return map[string]int{"active": len(a.hub.Surfaces())}, nil
		},
	}

	if a.redis != nil {
		checks["redis"] = func(ctx context.Context) error {
			return a.redis.Ping(ctx).Err()
		}
	}
	if a.store != nil {
		checks["database"] = a.store.Ping
		stats["database"] = func(ctx context.Context) (interface{}, error) {
			st := a.store.GetStats()
			return map[string]int{
				"openConnections": st.OpenConnections,
				"inUse":           st.InUse,
				"idle":            st.Idle,
			}, nil
		}
	}
	if hc, ok := a.extractor.(ocr.HealthChecker); ok {
		checks["ocr"] = hc.HealthCheck
	}

	switch c := w.(type) {
	case *queue.RedisConsumer:
		stats["queue"] = func(ctx context.Context) (interface{}, error) {
			return c.GetStats(ctx)
		}
	case *queue.Consumer:
		stats["queue"] = func(ctx context.Context) (interface{}, error) {
			return c.GetStatistics(), nil
		}
	}

	return checks, stats
}

// Close drains the pipeline before closing the backends it writes to
func (a *app) Close() {
	if a.hub != nil {
		a.hub.Close()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("Error closing session store", "error", err.Error())
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("Error closing Redis", "error", err.Error())
		}
	}
}
