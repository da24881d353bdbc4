package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/angelmondragon/tablesync-backend/pkg/bootstrap"
	"github.com/angelmondragon/tablesync-backend/pkg/db"
	"github.com/angelmondragon/tablesync-backend/pkg/migrate"
)

type options struct {
	cmd     string
	dir     string
	name    string
	version string
}

// offline commands only touch migration files.
var offline = map[string]func(options) error{
	"create": func(o options) error {
		if o.name == "" {
			return errors.New("missing -name for create")
		}
		path, err := migrate.CreateSQLMigration(o.dir, o.name)
		if err != nil {
			return err
		}
		fmt.Println("created migration:", path)
		return nil
	},
	"validate": func(o options) error {
		if err := migrate.ValidateDir(o.dir); err != nil {
			return err
		}
		fmt.Println("migrations valid")
		return nil
	},
}

// online commands run goose against the configured database.
var online = map[string]func(context.Context, *sql.DB, options) error{
	"up":     gooseCommand("up"),
	"down":   gooseCommand("down"),
	"status": gooseCommand("status"),
	"version": func(ctx context.Context, sqlDB *sql.DB, o options) error {
		if o.version == "" {
			return errors.New("missing -version for version")
		}
		return migrate.MigrateToVersion(ctx, sqlDB, o.dir, o.version)
	},
}

func gooseCommand(name string) func(context.Context, *sql.DB, options) error {
	return func(ctx context.Context, sqlDB *sql.DB, o options) error {
		return migrate.Run(ctx, sqlDB, o.dir, name)
	}
}

func main() {
	var o options
	flag.StringVar(&o.cmd, "cmd", "up", "up|down|status|version|create|validate")
	flag.StringVar(&o.dir, "dir", migrate.DefaultDir, "goose migrations directory")
	flag.StringVar(&o.name, "name", "", "migration name for -cmd=create")
	flag.StringVar(&o.version, "version", "", "target version (YYYYMMDDHHMMSS) for -cmd=version")
	flag.Parse()

	if err := run(o); err != nil {
		fmt.Fprintf(os.Stderr, "migrate %s: %v\n", o.cmd, err)
		os.Exit(1)
	}
}

func run(o options) error {
	if fn, ok := offline[o.cmd]; ok {
		return fn(o)
	}
	fn, ok := online[o.cmd]
	if !ok {
		return fmt.Errorf("unknown command %q", o.cmd)
	}

	cfg, logg, err := bootstrap.Environment("migrate")
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	ctx := logg.WithFields(context.Background(), map[string]any{"env": cfg.App.Env, "cmd": o.cmd, "dir": o.dir})

	client, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return err
	}
	defer bootstrap.Close(ctx, logg, "database", client)
	sqlDB, err := client.DB().DB()
	if err != nil {
		return err
	}

	if err := fn(ctx, sqlDB, o); err != nil {
		logg.Error(ctx, "migration failed", err)
		return err
	}
	logg.Info(ctx, "migration finished")
	return nil
}
