package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// migrationLockKey serializes migrations when the API and the poller start
// against the same database at once.
const migrationLockKey int64 = 0x62696c6c66656564

var migrationPattern = regexp.MustCompile(`^(\d+)_.*\.(up|down)\.sql$`)

type migration struct {
	version string
	name    string
	path    string
}

// discoverMigrations lists the files of one direction ("up" or "down"),
// ordered by version ascending.
func discoverMigrations(dir, direction string) ([]migration, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}

	var found []migration
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		match := migrationPattern.FindStringSubmatch(entry.Name())
		if match == nil || match[2] != direction {
			continue
		}
		found = append(found, migration{
			version: match[1],
			name:    entry.Name(),
			path:    filepath.Join(dir, entry.Name()),
		})
	}
	sort.Slice(found, func(i, j int) bool {
		return found[i].version < found[j].version
	})
	return found, nil
}

// ApplyMigrations runs every pending up migration, each in its own
// transaction, while holding a session advisory lock.
func ApplyMigrations(ctx context.Context, db *sql.DB, migrationsDir string) error {
	ups, err := discoverMigrations(migrationsDir, "up")
	if err != nil {
		return err
	}

	return withMigrationLock(ctx, db, func(conn *sql.Conn) error {
		if err := ensureMigrationsTable(ctx, conn); err != nil {
			return err
		}
		for _, m := range ups {
			migrated, err := isMigrated(ctx, conn, m.name)
			if err != nil {
				return err
			}
			if migrated {
				continue
			}
			if err := runMigration(ctx, conn, m, `INSERT INTO schema_migrations(version) VALUES($1)`); err != nil {
				return err
			}
			slog.InfoContext(ctx, "migration applied", "version", m.name)
		}
		return nil
	})
}

// RollbackMigrations runs the down migration of every applied version,
// newest first.
func RollbackMigrations(ctx context.Context, db *sql.DB, migrationsDir string) error {
	downs, err := discoverMigrations(migrationsDir, "down")
	if err != nil {
		return err
	}

	return withMigrationLock(ctx, db, func(conn *sql.Conn) error {
		if err := ensureMigrationsTable(ctx, conn); err != nil {
			return err
		}
		for i := len(downs) - 1; i >= 0; i-- {
			m := downs[i]
			upName := strings.TrimSuffix(m.name, ".down.sql") + ".up.sql"
			migrated, err := isMigrated(ctx, conn, upName)
			if err != nil {
				return err
			}
			if !migrated {
				continue
			}
			m.name = upName
			if err := runMigration(ctx, conn, m, `DELETE FROM schema_migrations WHERE version=$1`); err != nil {
				return err
			}
			slog.InfoContext(ctx, "migration rolled back", "version", upName)
		}
		return nil
	})
}

func withMigrationLock(ctx context.Context, db *sql.DB, fn func(*sql.Conn) error) error {
	conn, err := db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire migration conn: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, `SELECT pg_advisory_lock($1)`, migrationLockKey); err != nil {
		return fmt.Errorf("acquire migration lock: %w", err)
	}
	defer func() {
		_, _ = conn.ExecContext(context.WithoutCancel(ctx), `SELECT pg_advisory_unlock($1)`, migrationLockKey)
	}()
	return fn(conn)
}

// runMigration executes a migration file and its bookkeeping statement in
// one transaction.
func runMigration(ctx context.Context, conn *sql.Conn, m migration, bookkeeping string) error {
	contents, err := os.ReadFile(m.path)
	if err != nil {
		return fmt.Errorf("read migration %s: %w", m.name, err)
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration tx %s: %w", m.name, err)
	}
	defer func() { _ = tx.Rollback() }()

	if text := strings.TrimSpace(string(contents)); text != "" {
		if _, err := tx.ExecContext(ctx, text); err != nil {
			return fmt.Errorf("execute migration %s: %w", m.name, err)
		}
	}
	if _, err := tx.ExecContext(ctx, bookkeeping, m.name); err != nil {
		return fmt.Errorf("record migration %s: %w", m.name, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %s: %w", m.name, err)
	}
	return nil
}

func ensureMigrationsTable(ctx context.Context, conn *sql.Conn) error {
	_, err := conn.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("ensure schema_migrations: %w", err)
	}
	return nil
}

func isMigrated(ctx context.Context, conn *sql.Conn, version string) (bool, error) {
	var exists bool
	err := conn.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version=$1)`, version).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check migration %s: %w", version, err)
	}
	return exists, nil
}
