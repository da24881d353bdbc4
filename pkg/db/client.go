package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/angelmondragon/tablesync-backend/pkg/config"
	"github.com/angelmondragon/tablesync-backend/pkg/logger"
)

// Client owns the GORM pool every repository shares.
type Client struct {
	conn *gorm.DB
}

// Pinger is the readiness surface of a backing store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// New opens Postgres through pgx using the simple protocol, which keeps the
// pool usable behind transaction-mode poolers such as PgBouncer.
func New(ctx context.Context, cfg config.DBConfig, logg *logger.Logger) (*Client, error) {
	if cfg.DSN == "" {
		return nil, errors.New("database DSN is required")
	}

	dialector := postgres.New(postgres.Config{DSN: cfg.DSN, PreferSimpleProtocol: true})
	conn, err := gorm.Open(dialector, &gorm.Config{
		Logger:                 newQueryLogger(logg, cfg.SlowQuery),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	client := NewFromConn(conn)
	if err := client.tune(cfg); err != nil {
		return nil, err
	}
	if logg != nil {
		ctx = logg.WithFields(ctx, map[string]any{
			"max_open_conns": cfg.MaxOpenConns,
			"max_idle_conns": cfg.MaxIdleConns,
		})
		logg.Info(ctx, "database pool ready")
	}
	return client, nil
}

// NewFromConn wraps an already opened GORM connection.
func NewFromConn(conn *gorm.DB) *Client {
	return &Client{conn: conn}
}

func (c *Client) tune(cfg config.DBConfig) error {
	return c.withSQL(func(pool *sql.DB) error {
		if cfg.MaxOpenConns > 0 {
			pool.SetMaxOpenConns(cfg.MaxOpenConns)
		}
		if cfg.MaxIdleConns > 0 {
			pool.SetMaxIdleConns(cfg.MaxIdleConns)
		}
		pool.SetConnMaxLifetime(cfg.ConnMaxLifetime)
		pool.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
		return nil
	})
}

func (c *Client) withSQL(fn func(*sql.DB) error) error {
	pool, err := c.conn.DB()
	if err != nil {
		return fmt.Errorf("database handle: %w", err)
	}
	return fn(pool)
}

// DB returns the underlying GORM connection.
func (c *Client) DB() *gorm.DB {
	return c.conn
}

func (c *Client) Ping(ctx context.Context) error {
	return c.withSQL(func(pool *sql.DB) error { return pool.PingContext(ctx) })
}

func (c *Client) Close() error {
	return c.withSQL((*sql.DB).Close)
}

// WithTx runs fn in one transaction. An error or a panic from fn rolls it
// back; the panic keeps propagating.
func (c *Client) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return c.conn.WithContext(ctx).Transaction(fn)
}
