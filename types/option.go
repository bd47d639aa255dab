package types

import (
	"context"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/warriorguo/riskflow/scoring"
)

func NewEngineOptions() *EngineOptions {
	opts := &EngineOptions{Ctx: context.Background()}
	defaults.SetDefaults(opts)
	return opts
}

type EngineOptions struct {
	Ctx context.Context
	/**
	 * default: 64
	 * upper bound of transactions evaluated at once by a batch.
	 */
	MaxConcurrency int `default:"64"`
	/**
	 * default: 30s, 0 disables it.
	 * every node invocation is bounded by this timeout; a node that
	 * overruns it is recorded as a BLOCK with an error.
	 */
	NodeTimeout time.Duration `default:"30s"`
	/**
	 * default: 200
	 * how many execution records are kept in memory for suggestions.
	 */
	RecentLimit int `default:"200"`
	/**
	 * in-memory velocity cache eviction: identifiers without events for
	 * VelocityIdleTTL are dropped every VelocitySweepInterval.
	 */
	VelocitySweepInterval time.Duration `default:"1m"`
	VelocityIdleTTL       time.Duration `default:"10m"`
	/**
	 * default: false, only set it to true when doing testing or developing.
	 */
	MemStore bool `default:"false"`

	// If both MemStore and PostgresConfig are set, PostgresConfig takes precedence
	PostgresConfig *PostgresConfig
	// When set, velocity counters live in Redis instead of process memory
	RedisConfig *RedisConfig

	// nil leaves the AI scoring node on its fallback path
	ScoringProvider scoring.Provider
	// nil registers collectors with prometheus.DefaultRegisterer
	Registerer prometheus.Registerer
	Clock      func() time.Time
}

// PostgresConfig holds PostgreSQL connection configuration
type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string // disable, require, verify-ca, verify-full
}

type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

type EngineOption func(*EngineOptions)

func WithContext(ctx context.Context) EngineOption {
	return func(opts *EngineOptions) {
		opts.Ctx = ctx
	}
}

func SetMaxConcurrency(concurrency int) EngineOption {
	return func(opts *EngineOptions) {
		opts.MaxConcurrency = concurrency
	}
}

func SetNodeTimeout(timeout time.Duration) EngineOption {
	return func(opts *EngineOptions) {
		opts.NodeTimeout = timeout
	}
}

func SetRecentLimit(limit int) EngineOption {
	return func(opts *EngineOptions) {
		opts.RecentLimit = limit
	}
}

func SetVelocityEviction(interval, idleTTL time.Duration) EngineOption {
	return func(opts *EngineOptions) {
		opts.VelocitySweepInterval = interval
		opts.VelocityIdleTTL = idleTTL
	}
}

func EnableMemStore() EngineOption {
	return func(opts *EngineOptions) {
		opts.MemStore = true
	}
}

// WithPostgresConfig configures the engine to persist into PostgreSQL
func WithPostgresConfig(config *PostgresConfig) EngineOption {
	return func(opts *EngineOptions) {
		opts.PostgresConfig = config
	}
}

func WithRedisConfig(config *RedisConfig) EngineOption {
	return func(opts *EngineOptions) {
		opts.RedisConfig = config
	}
}

func WithScoringProvider(provider scoring.Provider) EngineOption {
	return func(opts *EngineOptions) {
		opts.ScoringProvider = provider
	}
}

func WithRegisterer(reg prometheus.Registerer) EngineOption {
	return func(opts *EngineOptions) {
		opts.Registerer = reg
	}
}

func WithClock(clock func() time.Time) EngineOption {
	return func(opts *EngineOptions) {
		opts.Clock = clock
	}
}
