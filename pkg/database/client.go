// Package database provides the PostgreSQL client and migration utilities.
// The client carries two handles over the same database: a pgx pool for the
// batch ingestion hot path and a sqlx handle for the entity stores.
package database

import (
	"context"
	stdsql "database/sql"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver for database/sql
	"github.com/jmoiron/sqlx"
)

// Config holds database connection settings.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// ConfigFromEnv reads connection settings from DATABASE_* environment
// variables, with local-development defaults.
func ConfigFromEnv() Config {
	cfg := Config{
		Host:            envOr("DATABASE_HOST", "localhost"),
		Port:            envIntOr("DATABASE_PORT", 5432),
		User:            envOr("DATABASE_USER", "argus"),
		Password:        os.Getenv("DATABASE_PASSWORD"),
		Database:        envOr("DATABASE_NAME", "argus"),
		SSLMode:         envOr("DATABASE_SSL_MODE", "disable"),
		MaxOpenConns:    envIntOr("DATABASE_MAX_OPEN_CONNS", 25),
		MaxIdleConns:    envIntOr("DATABASE_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: 30 * time.Minute,
		ConnMaxIdleTime: 5 * time.Minute,
	}
	return cfg
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

// DSN renders the pgx-compatible connection string.
func (c Config) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// Client is the shared database handle. Pool serves the batch metric writes;
// DB serves the sqlx entity stores. Both point at the same database.
type Client struct {
	pool *pgxpool.Pool
	db   *sqlx.DB
}

// Pool returns the pgx connection pool.
func (c *Client) Pool() *pgxpool.Pool { return c.pool }

// DB returns the sqlx handle.
func (c *Client) DB() *sqlx.DB { return c.db }

// NewClientFromHandles wraps existing connections (useful for testing).
func NewClientFromHandles(pool *pgxpool.Pool, db *sqlx.DB) *Client {
	return &Client{pool: pool, db: db}
}

// NewClient opens the connection pool, verifies connectivity, and applies
// pending migrations.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxOpenConns)
	poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime
	poolCfg.MaxConnIdleTime = cfg.ConnMaxIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open database pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	sqlDB, err := stdsql.Open("pgx", cfg.DSN())
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := runMigrations(sqlDB, cfg.Database); err != nil {
		_ = sqlDB.Close()
		pool.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Client{
		pool: pool,
		db:   sqlx.NewDb(sqlDB, "pgx"),
	}, nil
}

// NewClientFromDSN opens both handles over a raw connection string and
// applies pending migrations. Integration tests get their DSN from a
// container rather than DATABASE_* variables.
func NewClientFromDSN(ctx context.Context, dsn string) (*Client, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	sqlDB, err := stdsql.Open("pgx", dsn)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := runMigrations(sqlDB, "argus"); err != nil {
		_ = sqlDB.Close()
		pool.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Client{
		pool: pool,
		db:   sqlx.NewDb(sqlDB, "pgx"),
	}, nil
}

// Health verifies both handles can reach the database.
func (c *Client) Health(ctx context.Context) error {
	if err := c.pool.Ping(ctx); err != nil {
		return fmt.Errorf("database pool unhealthy: %w", err)
	}
	if err := c.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database connection unhealthy: %w", err)
	}
	return nil
}

// Close releases both handles.
func (c *Client) Close() error {
	c.pool.Close()
	return c.db.Close()
}
