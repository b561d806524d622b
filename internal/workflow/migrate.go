package workflow

import (
	"context"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Migrate applies every *.sql file in migFS that is not yet recorded in
// schema_migrations, in filename order. Each file runs in its own
// transaction.
func Migrate(ctx context.Context, pool *pgxpool.Pool, migFS fs.FS) ([]string, error) {
	if _, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL
		)`); err != nil {
		return nil, fmt.Errorf("create schema_migrations: %w", err)
	}

	files, err := migrationFiles(migFS)
	if err != nil {
		return nil, err
	}

	var applied []string
	for _, file := range files {
		var exists bool
		if err := pool.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = $1)`, file,
		).Scan(&exists); err != nil {
			return applied, fmt.Errorf("check migration %s: %w", file, err)
		}
		if exists {
			continue
		}

		sqlBytes, err := fs.ReadFile(migFS, file)
		if err != nil {
			return applied, fmt.Errorf("read migration %s: %w", file, err)
		}
		err = pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, string(sqlBytes)); err != nil {
				return fmt.Errorf("apply migration %s: %w", file, err)
			}
			if _, err := tx.Exec(ctx,
				`INSERT INTO schema_migrations (version, applied_at) VALUES ($1, $2)`,
				file, time.Now().UTC(),
			); err != nil {
				return fmt.Errorf("record migration %s: %w", file, err)
			}
			return nil
		})
		if err != nil {
			return applied, err
		}
		applied = append(applied, file)
	}
	return applied, nil
}

// migrationFiles lists the .sql files at the root of migFS, sorted.
func migrationFiles(migFS fs.FS) ([]string, error) {
	entries, err := fs.ReadDir(migFS, ".")
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}
	files := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		files = append(files, e.Name())
	}
	sort.Strings(files)
	return files, nil
}
