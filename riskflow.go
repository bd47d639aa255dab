// Package riskflow assembles a risk engine from engine options: the store,
// the velocity cache, the metrics collector and the AI scoring guard.
package riskflow

import (
	"context"
	"time"

	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"

	"github.com/warriorguo/riskflow/metrics"
	"github.com/warriorguo/riskflow/runtime"
	"github.com/warriorguo/riskflow/scoring"
	"github.com/warriorguo/riskflow/store"
	"github.com/warriorguo/riskflow/store/mem"
	"github.com/warriorguo/riskflow/store/postgres"
	"github.com/warriorguo/riskflow/types"
	"github.com/warriorguo/riskflow/velocity"
)

const redisPingTimeout = 5 * time.Second

// NewRiskEngine creates a risk engine with the given options. Everything it
// opens is released by the engine's Close.
func NewRiskEngine(opts ...types.EngineOption) (*runtime.Engine, error) {
	options := types.NewEngineOptions()
	for _, opt := range opts {
		opt(options)
	}

	var closers []func() error
	release := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				log.Warnf("release engine resource: %v", err)
			}
		}
	}

	var s store.Store
	// PostgresConfig takes precedence over MemStore
	if options.PostgresConfig != nil {
		pg, err := postgres.NewPostgresStore(postgres.FromOptions(options.PostgresConfig))
		if err != nil {
			return nil, errors.Annotatef(err, "failed to create PostgreSQL store")
		}
		if closer, ok := pg.(interface{ Close() error }); ok {
			closers = append(closers, closer.Close)
		}
		s = pg
	} else {
		if !options.MemStore {
			log.Warnf("no store configured, execution records are kept in memory only")
		}
		s = mem.NewMemStore()
	}

	cache, err := newVelocityCache(options)
	if err != nil {
		release()
		return nil, errors.Trace(err)
	}
	if closer, ok := cache.(interface{ Close() error }); ok {
		closers = append(closers, closer.Close)
	}

	collector, err := metrics.New(options.Registerer)
	if err != nil {
		release()
		return nil, errors.Trace(err)
	}

	services := &types.Services{
		Metrics:       collector,
		VelocityCache: cache,
		Scoring:       scoring.NewGuard(options.ScoringProvider),
		Clock:         options.Clock,
		Logger:        log.StandardLogger(),
	}
	if options.ScoringProvider == nil {
		log.Infof("no scoring provider configured, AI score nodes use their fallback action")
	}

	engine, err := runtime.NewEngine(s, runtime.NewDefaultRegistry(), services, collector, options)
	if err != nil {
		release()
		return nil, errors.Trace(err)
	}
	for _, closer := range closers {
		engine.OnClose(closer)
	}
	return engine, nil
}

func newVelocityCache(options *types.EngineOptions) (types.VelocityCache, error) {
	if options.RedisConfig != nil {
		client := velocity.NewRedisClient(options.RedisConfig)
		cache := velocity.NewRedisCache(client, options.RedisConfig.KeyPrefix)

		ctx, cancel := context.WithTimeout(options.Ctx, redisPingTimeout)
		defer cancel()
		if err := cache.Ping(ctx); err != nil {
			cache.Close()
			return nil, errors.Annotatef(err, "failed to reach redis at %s", options.RedisConfig.Addr)
		}
		return cache, nil
	}

	cache := velocity.NewMemoryCache()
	cache.StartSweeper(options.VelocitySweepInterval, options.VelocityIdleTTL, options.Clock)
	return &sweptCache{MemoryCache: cache}, nil
}

// sweptCache stops the in-memory sweeper when the engine closes.
type sweptCache struct {
	*velocity.MemoryCache
}

func (c *sweptCache) Close() error {
	c.Stop()
	return nil
}
