// Package database opens the Postgres handle shared by the submission,
// amendment and audit stores, and applies the embedded schema.
package database

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"slices"
	"strings"

	_ "github.com/lib/pq"

	"efile/internal/platform/config"
	txcontext "efile/pkg/platform/tx"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Open connects with lib/pq and verifies the connection.
func Open(ctx context.Context, cfg config.Database) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// Migrate applies every embedded migration not yet recorded in
// schema_migrations, in file name order, each in its own transaction.
func Migrate(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			name TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	names, err := fs.Glob(migrations, "migrations/*.sql")
	if err != nil {
		return err
	}
	slices.Sort(names)
	for _, name := range names {
		short := strings.TrimPrefix(name, "migrations/")
		body, err := migrations.ReadFile(name)
		if err != nil {
			return err
		}
		err = txcontext.Run(ctx, db, func(ctx context.Context) error {
			exec := txcontext.Or(ctx, db)
			var applied bool
			if err := exec.QueryRowContext(ctx,
				`SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE name = $1)`, short).Scan(&applied); err != nil {
				return err
			}
			if applied {
				return nil
			}
			if _, err := exec.ExecContext(ctx, string(body)); err != nil {
				return err
			}
			if _, err := exec.ExecContext(ctx, `INSERT INTO schema_migrations (name) VALUES ($1)`, short); err != nil {
				return err
			}
			logger.Info("applied migration", "name", short)
			return nil
		})
		if err != nil {
			return fmt.Errorf("migration %s: %w", short, err)
		}
	}
	return nil
}
