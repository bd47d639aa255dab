// Package config reads the riskd service configuration from the environment,
// after loading an optional .env file.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cast"

	"github.com/warriorguo/riskflow/store/postgres"
	"github.com/warriorguo/riskflow/types"
)

type Config struct {
	Env       string
	LogLevel  string
	LogFormat string

	Host string
	Port string

	// empty means postgres is not configured
	PostgresDSN string
	MemStore    bool

	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	RedisKeyPrefix string

	GeminiAPIKey string

	MaxConcurrency        int
	NodeTimeout           time.Duration
	RecentLimit           int
	VelocitySweepInterval time.Duration
	VelocityIdleTTL       time.Duration
}

// LoadEnv loads variables from a .env file if present. Variables already
// set in the environment win.
func LoadEnv(filenames ...string) {
	if err := godotenv.Load(filenames...); err != nil {
		log.Debugf("no .env file loaded: %v", err)
	}
}

// Load reads the configuration from the environment.
func Load() (*Config, error) {
	defaults := types.NewEngineOptions()

	cfg := &Config{
		Env:       GetEnv("ENV", "development"),
		LogLevel:  GetEnv("LOG_LEVEL", "info"),
		LogFormat: GetEnv("LOG_FORMAT", "text"),

		Host: GetEnv("HOST", ""),
		Port: GetEnv("PORT", "8080"),

		PostgresDSN: GetEnv("POSTGRES_DSN", ""),
		MemStore:    GetBoolEnv("MEM_STORE", false),

		RedisAddr:      GetEnv("REDIS_ADDR", ""),
		RedisPassword:  GetEnv("REDIS_PASSWORD", ""),
		RedisDB:        GetIntEnv("REDIS_DB", 0),
		RedisKeyPrefix: GetEnv("REDIS_KEY_PREFIX", ""),

		GeminiAPIKey: GetEnv("GEMINI_API_KEY", GetEnv("API_KEY", "")),

		MaxConcurrency:        GetIntEnv("MAX_CONCURRENCY", defaults.MaxConcurrency),
		NodeTimeout:           GetDurationEnv("NODE_TIMEOUT", defaults.NodeTimeout),
		RecentLimit:           GetIntEnv("RECENT_LIMIT", defaults.RecentLimit),
		VelocitySweepInterval: GetDurationEnv("VELOCITY_SWEEP_INTERVAL", defaults.VelocitySweepInterval),
		VelocityIdleTTL:       GetDurationEnv("VELOCITY_IDLE_TTL", defaults.VelocityIdleTTL),
	}
	return cfg, errors.Trace(cfg.Validate())
}

func (c *Config) Validate() error {
	if c.Port == "" {
		return errors.NotValidf("empty PORT")
	}
	if c.MaxConcurrency <= 0 {
		return errors.NotValidf("MAX_CONCURRENCY %d", c.MaxConcurrency)
	}
	if c.NodeTimeout < 0 {
		return errors.NotValidf("NODE_TIMEOUT %s", c.NodeTimeout)
	}
	if c.RecentLimit < 0 {
		return errors.NotValidf("RECENT_LIMIT %d", c.RecentLimit)
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		return errors.NotValidf("LOG_FORMAT %q", c.LogFormat)
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return errors.NotValidf("LOG_LEVEL %q", c.LogLevel)
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Addr is the listen address of the HTTP server.
func (c *Config) Addr() string {
	return c.Host + ":" + c.Port
}

// PostgresConfig parses POSTGRES_DSN; nil when it is unset.
func (c *Config) PostgresConfig() (*types.PostgresConfig, error) {
	if c.PostgresDSN == "" {
		return nil, nil
	}
	pg, err := postgres.ParseDSN(c.PostgresDSN)
	if err != nil {
		return nil, errors.Annotatef(err, "parse POSTGRES_DSN")
	}
	return &types.PostgresConfig{
		Host:     pg.Host,
		Port:     pg.Port,
		User:     pg.User,
		Password: pg.Password,
		Database: pg.Database,
		SSLMode:  pg.SSLMode,
	}, nil
}

func (c *Config) RedisConfig() *types.RedisConfig {
	if c.RedisAddr == "" {
		return nil
	}
	return &types.RedisConfig{
		Addr:      c.RedisAddr,
		Password:  c.RedisPassword,
		DB:        c.RedisDB,
		KeyPrefix: c.RedisKeyPrefix,
	}
}

// EngineOptions translates the configuration into engine options. The
// scoring provider is not part of it since building one needs a context.
func (c *Config) EngineOptions() ([]types.EngineOption, error) {
	opts := []types.EngineOption{
		types.SetMaxConcurrency(c.MaxConcurrency),
		types.SetNodeTimeout(c.NodeTimeout),
		types.SetRecentLimit(c.RecentLimit),
		types.SetVelocityEviction(c.VelocitySweepInterval, c.VelocityIdleTTL),
	}
	if c.MemStore {
		opts = append(opts, types.EnableMemStore())
	}

	pg, err := c.PostgresConfig()
	if err != nil {
		return nil, errors.Trace(err)
	}
	if pg != nil {
		opts = append(opts, types.WithPostgresConfig(pg))
	}
	if redisConfig := c.RedisConfig(); redisConfig != nil {
		opts = append(opts, types.WithRedisConfig(redisConfig))
	}
	return opts, nil
}

// SetupLogging applies the level and format to the standard logger.
func (c *Config) SetupLogging() error {
	level, err := log.ParseLevel(c.LogLevel)
	if err != nil {
		return errors.NotValidf("LOG_LEVEL %q", c.LogLevel)
	}
	log.SetLevel(level)

	if strings.EqualFold(c.LogFormat, "json") {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
	return nil
}

// GetEnv returns an environment variable or a default value.
func GetEnv(key, defaultVal string) string {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		return val
	}
	return defaultVal
}

// GetIntEnv returns an int environment variable or a default value.
func GetIntEnv(key string, defaultVal int) int {
	if val, ok := os.LookupEnv(key); ok {
		if i, err := cast.ToIntE(strings.TrimSpace(val)); err == nil {
			return i
		}
		log.Warnf("ignoring %s=%q: not an integer", key, val)
	}
	return defaultVal
}

func GetBoolEnv(key string, defaultVal bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		if b, err := cast.ToBoolE(strings.TrimSpace(val)); err == nil {
			return b
		}
		log.Warnf("ignoring %s=%q: not a boolean", key, val)
	}
	return defaultVal
}

// GetDurationEnv accepts Go durations ("1500ms", "30s"); bare numbers are
// taken as nanoseconds by cast, so they are read as milliseconds instead.
func GetDurationEnv(key string, defaultVal time.Duration) time.Duration {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return defaultVal
	}
	if ms, err := cast.ToInt64E(val); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	if d, err := cast.ToDurationE(val); err == nil {
		return d
	}
	log.Warnf("ignoring %s=%q: not a duration", key, val)
	return defaultVal
}
