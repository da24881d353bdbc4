package migrate

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strconv"

	"github.com/pressly/goose/v3"
)

// DefaultDir is the on-disk location used by the migrate CLI.
const DefaultDir = "pkg/migrate/migrations"

// EmbeddedDir selects the migrations compiled into the binary.
const EmbeddedDir = "migrations"

//go:embed migrations/*.sql
var embedded embed.FS

// prepare points goose at the embedded files or the filesystem and pins the
// dialect. tablesync only runs on Postgres.
func prepare(dir string) error {
	if dir == EmbeddedDir {
		goose.SetBaseFS(embedded)
	} else {
		goose.SetBaseFS(nil)
	}
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	return nil
}

// Run executes a goose command such as up, down or status against db.
func Run(ctx context.Context, db *sql.DB, dir string, command string, args ...string) error {
	if db == nil || dir == "" {
		return errors.New("migrate: db and dir are required")
	}
	if err := prepare(dir); err != nil {
		return err
	}
	if err := goose.RunContext(ctx, command, db, dir, args...); err != nil {
		return fmt.Errorf("goose %s: %w", command, err)
	}
	return nil
}

// MigrateToVersion moves the schema up or down until it sits at version.
func MigrateToVersion(ctx context.Context, db *sql.DB, dir string, version string) error {
	target, err := strconv.ParseInt(version, 10, 64)
	if err != nil || len(version) != len(versionLayout) {
		return fmt.Errorf("version %q is not a YYYYMMDDHHMMSS timestamp", version)
	}
	if err := prepare(dir); err != nil {
		return err
	}

	current, err := goose.GetDBVersionContext(ctx, db)
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	step, verb := goose.UpToContext, "up-to"
	switch {
	case current == target:
		return nil
	case current > target:
		step, verb = goose.DownToContext, "down-to"
	}
	if err := step(ctx, db, dir, target); err != nil {
		return fmt.Errorf("goose %s %d: %w", verb, target, err)
	}
	return nil
}
