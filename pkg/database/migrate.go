package database

import (
	"context"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	"github.com/Dusre/radar/pkg/logging"
)

// Migration directions.
const (
	DirectionUp   = "up"
	DirectionDown = "down"
)

// Migrate applies (up) or reverts (down) every NNN_name.<direction>.sql file in
// fsys. Applied versions are tracked in schema_migrations, so running up twice
// is a no-op.
func (d *DB) Migrate(ctx context.Context, fsys fs.FS, direction string) error {
	if direction != DirectionUp && direction != DirectionDown {
		return fmt.Errorf("unknown migration direction %q", direction)
	}

	if _, err := d.ExecContext(ctx, "migrate_init", `CREATE TABLE IF NOT EXISTS schema_migrations (
		version    TEXT PRIMARY KEY,
		applied_at TIMESTAMP NOT NULL
	)`); err != nil {
		return fmt.Errorf("failed to create schema_migrations: %w", err)
	}

	suffix := "." + direction + ".sql"
	names, err := fs.Glob(fsys, "*"+suffix)
	if err != nil {
		return fmt.Errorf("failed to list migrations: %w", err)
	}
	sort.Strings(names)
	if direction == DirectionDown {
		sort.Sort(sort.Reverse(sort.StringSlice(names)))
	}

	var applied []string
	if err := d.SelectContext(ctx, "migrate_list", &applied, `SELECT version FROM schema_migrations`); err != nil {
		return fmt.Errorf("failed to read applied migrations: %w", err)
	}
	done := make(map[string]bool, len(applied))
	for _, v := range applied {
		done[v] = true
	}

	for _, name := range names {
		version := strings.TrimSuffix(name, suffix)
		if direction == DirectionUp && done[version] {
			continue
		}
		if direction == DirectionDown && !done[version] {
			continue
		}

		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", name, err)
		}

		tx, err := d.BeginTx(ctx)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to execute migration %s: %w", name, err)
		}

		if direction == DirectionUp {
			_, err = tx.ExecContext(ctx, d.Rebind(`INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`), version, time.Now().UTC())
		} else {
			_, err = tx.ExecContext(ctx, d.Rebind(`DELETE FROM schema_migrations WHERE version = ?`), version)
		}
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %s: %w", name, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %s: %w", name, err)
		}

		d.logger.Info(ctx, "[DB_MIGRATE] Migration applied", logging.Fields{
			"version":   version,
			"direction": direction,
		})
	}

	return nil
}
