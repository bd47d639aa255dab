package types

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
)

func TestEngineOptionsDefaults(t *testing.T) {
	opts := NewEngineOptions()

	assert.NotNil(t, opts.Ctx)
	assert.Equal(t, 64, opts.MaxConcurrency)
	assert.Equal(t, 30*time.Second, opts.NodeTimeout)
	assert.Equal(t, 200, opts.RecentLimit)
	assert.Equal(t, time.Minute, opts.VelocitySweepInterval)
	assert.Equal(t, 10*time.Minute, opts.VelocityIdleTTL)
	assert.False(t, opts.MemStore)
	assert.Nil(t, opts.PostgresConfig)
	assert.Nil(t, opts.RedisConfig)
}

func TestWithPostgresConfig(t *testing.T) {
	config := &PostgresConfig{
		Host:     "dbhost",
		Port:     5433,
		User:     "user",
		Password: "pass",
		Database: "db",
		SSLMode:  "require",
	}

	opts := NewEngineOptions()
	opt := WithPostgresConfig(config)
	opt(opts)

	assert.NotNil(t, opts.PostgresConfig)
	assert.Equal(t, "dbhost", opts.PostgresConfig.Host)
	assert.Equal(t, 5433, opts.PostgresConfig.Port)
	assert.Equal(t, "user", opts.PostgresConfig.User)
	assert.Equal(t, "pass", opts.PostgresConfig.Password)
	assert.Equal(t, "db", opts.PostgresConfig.Database)
	assert.Equal(t, "require", opts.PostgresConfig.SSLMode)
}

func TestMultipleOptions(t *testing.T) {
	opts := NewEngineOptions()
	reg := prometheus.NewRegistry()
	now := time.Unix(1_700_000_000, 0)

	WithRedisConfig(&RedisConfig{Addr: "localhost:6379", KeyPrefix: "test:"})(opts)
	SetMaxConcurrency(8)(opts)
	SetNodeTimeout(0)(opts)
	SetRecentLimit(5)(opts)
	SetVelocityEviction(time.Second, time.Minute)(opts)
	EnableMemStore()(opts)
	WithRegisterer(reg)(opts)
	WithClock(func() time.Time { return now })(opts)

	assert.Equal(t, "localhost:6379", opts.RedisConfig.Addr)
	assert.Equal(t, 8, opts.MaxConcurrency)
	assert.Equal(t, time.Duration(0), opts.NodeTimeout)
	assert.Equal(t, 5, opts.RecentLimit)
	assert.Equal(t, time.Second, opts.VelocitySweepInterval)
	assert.Equal(t, time.Minute, opts.VelocityIdleTTL)
	assert.True(t, opts.MemStore)
	assert.Equal(t, reg, opts.Registerer)
	assert.Equal(t, now, opts.Clock())
}
