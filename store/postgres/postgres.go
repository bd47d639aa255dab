// Package postgres persists workflows and execution records in one
// PostgreSQL table keyed by (prefix, key).
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/juju/errors"
	"github.com/lib/pq"
	log "github.com/sirupsen/logrus"

	"github.com/warriorguo/riskflow/store"
	"github.com/warriorguo/riskflow/types"
)

var (
	_ store.Store = &pgStore{}
)

const (
	tableName      = "riskflow_store"
	connectTimeout = 10 * time.Second
)

var validSSLModes = map[string]bool{
	"disable":     true,
	"require":     true,
	"verify-ca":   true,
	"verify-full": true,
}

// Config holds PostgreSQL connection configuration
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string // disable, require, verify-ca, verify-full

	// pool limits; zero leaves the database/sql default
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		Host:            "localhost",
		Port:            5432,
		User:            "postgres",
		Password:        "postgres",
		Database:        "riskflow",
		SSLMode:         "disable",
		MaxOpenConns:    16,
		MaxIdleConns:    4,
		ConnMaxLifetime: 30 * time.Minute,
	}
}

// FromOptions converts the engine's connection settings. Empty fields keep
// the defaults, except the password.
func FromOptions(opts *types.PostgresConfig) *Config {
	config := DefaultConfig()
	if opts == nil {
		return config
	}
	if opts.Host != "" {
		config.Host = opts.Host
	}
	if opts.Port != 0 {
		config.Port = opts.Port
	}
	if opts.User != "" {
		config.User = opts.User
	}
	config.Password = opts.Password
	if opts.Database != "" {
		config.Database = opts.Database
	}
	if opts.SSLMode != "" {
		config.SSLMode = opts.SSLMode
	}
	return config
}

type pgStore struct {
	db *sql.DB
}

// NewPostgresStore connects, verifies the connection and creates the table
// when missing.
func NewPostgresStore(config *Config) (store.Store, error) {
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	return NewPostgresStoreContext(ctx, config)
}

func NewPostgresStoreContext(ctx context.Context, config *Config) (store.Store, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}

	db, err := sql.Open("postgres", config.DSN())
	if err != nil {
		return nil, errors.Annotatef(err, "failed to open postgres connection")
	}
	if config.MaxOpenConns > 0 {
		db.SetMaxOpenConns(config.MaxOpenConns)
	}
	if config.MaxIdleConns > 0 {
		db.SetMaxIdleConns(config.MaxIdleConns)
	}
	if config.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(config.ConnMaxLifetime)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Annotatef(err, "failed to ping postgres at %s", config.Redacted())
	}

	s := &pgStore{db: db}
	if err := s.initTable(ctx); err != nil {
		db.Close()
		return nil, errors.Trace(err)
	}
	log.Infof("postgres store ready at %s", config.Redacted())
	return s, nil
}

// NewPostgresStoreWithDB creates a store on an existing connection, which the
// caller keeps owning.
func NewPostgresStoreWithDB(db *sql.DB) (store.Store, error) {
	if db == nil {
		return nil, errors.NotValidf("nil db")
	}

	s := &pgStore{db: db}
	if err := s.initTable(context.Background()); err != nil {
		return nil, errors.Trace(err)
	}
	return s, nil
}

// initTable creates the table workflows and execution records share.
// created_at drives List ordering and is never touched by updates.
func (p *pgStore) initTable(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS ` + tableName + ` (
			prefix VARCHAR(255) NOT NULL,
			key VARCHAR(255) NOT NULL,
			value BYTEA,
			created_at TIMESTAMP DEFAULT clock_timestamp(),
			updated_at TIMESTAMP DEFAULT clock_timestamp(),
			PRIMARY KEY (prefix, key)
		);

		CREATE INDEX IF NOT EXISTS idx_` + tableName + `_prefix ON ` + tableName + `(prefix, created_at);
	`
	if _, err := p.db.ExecContext(ctx, query); err != nil {
		return errors.Annotatef(err, "failed to create table %s", tableName)
	}
	return nil
}

// Get returns nil without error for a missing key.
func (p *pgStore) Get(ctx context.Context, prefix, key string) ([]byte, error) {
	query := `SELECT value FROM ` + tableName + ` WHERE prefix = $1 AND key = $2`

	var value []byte
	err := p.db.QueryRowContext(ctx, query, prefix, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Annotatef(err, "get %s%s", prefix, key)
	}
	return value, nil
}

func (p *pgStore) Set(ctx context.Context, prefix, key string, value []byte) error {
	query := `
		INSERT INTO ` + tableName + ` (prefix, key, value)
		VALUES ($1, $2, $3)
		ON CONFLICT (prefix, key)
		DO UPDATE SET value = EXCLUDED.value, updated_at = clock_timestamp()
	`
	if _, err := p.db.ExecContext(ctx, query, prefix, key, value); err != nil {
		return errors.Annotatef(err, "set %s%s", prefix, key)
	}
	return nil
}

func (p *pgStore) Remove(ctx context.Context, prefix, key string) error {
	query := `DELETE FROM ` + tableName + ` WHERE prefix = $1 AND key = $2`

	if _, err := p.db.ExecContext(ctx, query, prefix, key); err != nil {
		return errors.Annotatef(err, "remove %s%s", prefix, key)
	}
	return nil
}

// List walks keys in insertion order, so execution records come back
// oldest first.
func (p *pgStore) List(ctx context.Context, prefix string, iterator func(key string) bool) error {
	query := `SELECT key FROM ` + tableName + ` WHERE prefix = $1 ORDER BY created_at, key`

	rows, err := p.db.QueryContext(ctx, query, prefix)
	if err != nil {
		return errors.Annotatef(err, "list %s", prefix)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return errors.Annotatef(err, "scan key under %s", prefix)
		}
		if !iterator(key) {
			break
		}
	}
	return errors.Annotatef(rows.Err(), "iterate keys under %s", prefix)
}

func (p *pgStore) Close() error {
	if p.db == nil {
		return nil
	}
	return errors.Trace(p.db.Close())
}

// DSN builds a key/value connection string with quoted values.
func (c *Config) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		quoteValue(c.Host), c.Port, quoteValue(c.User), quoteValue(c.Password),
		quoteValue(c.Database), quoteValue(c.SSLMode),
	)
}

// Redacted is the connection target without credentials, for logs.
func (c *Config) Redacted() string {
	return fmt.Sprintf("%s@%s:%d/%s", c.User, c.Host, c.Port, c.Database)
}

func (c *Config) Validate() error {
	if c.Host == "" {
		return errors.NotValidf("empty host")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return errors.NotValidf("port %d", c.Port)
	}
	if c.User == "" {
		return errors.NotValidf("empty user")
	}
	if c.Database == "" {
		return errors.NotValidf("empty database")
	}
	if c.SSLMode == "" {
		c.SSLMode = "disable"
	}
	if !validSSLModes[c.SSLMode] {
		return errors.NotValidf("sslmode %q", c.SSLMode)
	}
	return nil
}

// ParseDSN accepts the key/value form
// "host=localhost port=5432 user=postgres password=secret dbname=riskflow sslmode=disable"
// or a postgres:// URL. Missing settings keep DefaultConfig values.
func ParseDSN(dsn string) (*Config, error) {
	dsn = strings.TrimSpace(dsn)
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		converted, err := pq.ParseURL(dsn)
		if err != nil {
			return nil, errors.NewNotValid(err, "postgres url")
		}
		dsn = converted
	}

	config := DefaultConfig()
	for _, part := range strings.Fields(dsn) {
		key, value, found := strings.Cut(part, "=")
		if !found {
			continue
		}
		value = unquoteValue(value)

		switch key {
		case "host":
			config.Host = value
		case "port":
			var port int
			if _, err := fmt.Sscanf(value, "%d", &port); err != nil {
				return nil, errors.NotValidf("port %q", value)
			}
			config.Port = port
		case "user":
			config.User = value
		case "password":
			config.Password = value
		case "dbname":
			config.Database = value
		case "sslmode":
			config.SSLMode = value
		}
	}
	return config, config.Validate()
}

// quoteValue quotes values libpq would otherwise split.
func quoteValue(s string) string {
	if s != "" && !strings.ContainsAny(s, ` '\`) {
		return s
	}
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `'`, `\'`)
	return "'" + s + "'"
}

func unquoteValue(s string) string {
	if len(s) < 2 || s[0] != '\'' || s[len(s)-1] != '\'' {
		return s
	}
	s = s[1 : len(s)-1]
	s = strings.ReplaceAll(s, `\'`, `'`)
	return strings.ReplaceAll(s, `\\`, `\`)
}
