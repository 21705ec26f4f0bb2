package persistence

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// migrationLockKey serializes concurrent instances applying the schema.
const migrationLockKey int64 = 0x7469636b6574

const createVersionsTable = `CREATE TABLE IF NOT EXISTS schema_migrations (
    version    TEXT PRIMARY KEY,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

type migration struct {
	version string
	sql     string
}

func loadMigrations(files fs.FS) ([]migration, error) {
	names, err := fs.Glob(files, "migrations/*.sql")
	if err != nil {
		return nil, err
	}
	sort.Strings(names)

	out := make([]migration, 0, len(names))
	for _, name := range names {
		content, err := fs.ReadFile(files, name)
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", name, err)
		}
		version := strings.TrimSuffix(strings.TrimPrefix(name, "migrations/"), ".sql")
		out = append(out, migration{version: version, sql: string(content)})
	}
	return out, nil
}

// RunMigrations applies the embedded schema files that have not run yet.
// Each file runs in its own transaction under an advisory lock.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool, logger *zap.Logger) error {
	if pool == nil {
		logger.Warn("no postgres pool available; skipping migrations")
		return nil
	}

	migrations, err := loadMigrations(migrationFiles)
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, createVersionsTable); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	applied := 0
	for _, m := range migrations {
		ran, err := applyMigration(ctx, pool, m)
		if err != nil {
			return fmt.Errorf("apply migration %s: %w", m.version, err)
		}
		if ran {
			applied++
			logger.Info("migration applied", zap.String("version", m.version))
		}
	}

	logger.Info("schema up to date", zap.Int("applied", applied), zap.Int("known", len(migrations)))
	return nil
}

func applyMigration(ctx context.Context, pool *pgxpool.Pool, m migration) (bool, error) {
	ran := false
	err := pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, migrationLockKey); err != nil {
			return err
		}
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE version = $1)`, m.version).Scan(&exists); err != nil {
			return err
		}
		if exists {
			return nil
		}
		if _, err := tx.Exec(ctx, m.sql); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `INSERT INTO schema_migrations (version) VALUES ($1)`, m.version); err != nil {
			return err
		}
		ran = true
		return nil
	})
	return ran, err
}
