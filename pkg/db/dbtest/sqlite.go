// Package dbtest opens in-memory SQLite databases carrying the same tables
// and indexes the Postgres migrations create, for repository tests.
package dbtest

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS cafes (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  service_mode TEXT NOT NULL DEFAULT 'menu+order',
  activated INTEGER NOT NULL DEFAULT 0,
  trial_started_at DATETIME,
  trial_ends_at DATETIME,
  trial_active INTEGER NOT NULL DEFAULT 0,
  trial_expired INTEGER NOT NULL DEFAULT 0,
  created_at DATETIME,
  updated_at DATETIME
);`,
	`CREATE TABLE IF NOT EXISTS menu_categories (
  cafe_id TEXT NOT NULL,
  id TEXT NOT NULL,
  name TEXT NOT NULL,
  created_at DATETIME,
  PRIMARY KEY (cafe_id, id)
);`,
	`CREATE TABLE IF NOT EXISTS menu_items (
  cafe_id TEXT NOT NULL,
  category_id TEXT NOT NULL,
  id TEXT NOT NULL,
  name TEXT NOT NULL,
  price TEXT NOT NULL,
  available INTEGER NOT NULL DEFAULT 1,
  created_at DATETIME,
  updated_at DATETIME,
  PRIMARY KEY (cafe_id, category_id, id)
);`,
	`CREATE TABLE IF NOT EXISTS orders (
  id TEXT PRIMARY KEY,
  cafe_id TEXT NOT NULL,
  session_id TEXT NOT NULL,
  table_no TEXT NOT NULL,
  customer_name TEXT NOT NULL,
  items TEXT NOT NULL DEFAULT '[]',
  recently_added TEXT NOT NULL DEFAULT '[]',
  total_amount TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'pending',
  version INTEGER NOT NULL DEFAULT 1,
  created_at DATETIME,
  updated_at DATETIME
);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_orders_pending_tuple
  ON orders (cafe_id, session_id, table_no)
  WHERE status = 'pending';`,
	`CREATE TABLE IF NOT EXISTS order_history (
  id TEXT PRIMARY KEY,
  cafe_id TEXT NOT NULL,
  session_id TEXT NOT NULL,
  table_no TEXT NOT NULL,
  customer_name TEXT NOT NULL,
  items TEXT NOT NULL DEFAULT '[]',
  total_amount TEXT NOT NULL,
  status TEXT NOT NULL,
  created_at DATETIME,
  finalized_at DATETIME
);`,
	`CREATE TABLE IF NOT EXISTS notifications (
  id TEXT PRIMARY KEY,
  cafe_id TEXT NOT NULL,
  order_id TEXT,
  type TEXT NOT NULL,
  title TEXT NOT NULL,
  message TEXT NOT NULL,
  read_at DATETIME,
  created_at DATETIME
);`,
	`CREATE TABLE IF NOT EXISTS outbox_events (
  id TEXT PRIMARY KEY,
  event_type TEXT NOT NULL,
  aggregate_type TEXT NOT NULL,
  aggregate_id TEXT NOT NULL,
  payload BLOB NOT NULL,
  created_at DATETIME,
  published_at DATETIME,
  attempt_count INTEGER NOT NULL DEFAULT 0,
  last_error TEXT
);`,
	`CREATE TABLE IF NOT EXISTS outbox_dlq (
  id TEXT PRIMARY KEY,
  event_id TEXT NOT NULL UNIQUE,
  event_type TEXT NOT NULL,
  aggregate_type TEXT NOT NULL,
  aggregate_id TEXT NOT NULL,
  payload_json BLOB NOT NULL,
  error_reason TEXT NOT NULL,
  error_message TEXT,
  attempt_count INTEGER NOT NULL DEFAULT 0,
  failed_at DATETIME,
  created_at DATETIME
);`,
}

// Open returns a private in-memory database with every table created.
func Open(t *testing.T) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_busy_timeout=5000", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:  gormlogger.Default.LogMode(gormlogger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	for _, stmt := range schema {
		require.NoError(t, db.Exec(stmt).Error)
	}
	return db
}
