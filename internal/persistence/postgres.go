package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-channel/internal/config"
)

const connectTimeout = 5 * time.Second

// ErrPostgresDisabled is returned by Ping when no DSN was configured.
var ErrPostgresDisabled = errors.New("postgres not configured")

// Postgres holds the conversation store's pool. A zero value is the
// disabled store and callers fall back to the in-memory repository.
type Postgres struct {
	Pool *pgxpool.Pool
}

// NewPostgres opens and verifies a pool when a DSN is configured. The
// application name is reported to the server for pg_stat_activity.
func NewPostgres(ctx context.Context, cfg config.PostgresConfig, appName string, logger *zap.Logger) (*Postgres, error) {
	if cfg.DSN == "" {
		logger.Warn("POSTGRES_DSN not provided; conversations are kept in memory")
		return &Postgres{}, nil
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.ConnMaxIdleSec > 0 {
		poolCfg.MaxConnIdleTime = time.Duration(cfg.ConnMaxIdleSec) * time.Second
	}
	if cfg.ConnMaxLifeSec > 0 {
		poolCfg.MaxConnLifetime = time.Duration(cfg.ConnMaxLifeSec) * time.Second
	}
	if appName != "" {
		poolCfg.ConnConfig.RuntimeParams["application_name"] = appName
	}

	dialCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(dialCtx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	if err := pool.Ping(dialCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	logger.Info("connected to postgres",
		zap.String("host", poolCfg.ConnConfig.Host),
		zap.String("database", poolCfg.ConnConfig.Database),
		zap.Int32("max_conns", poolCfg.MaxConns),
	)
	return &Postgres{Pool: pool}, nil
}

// Close releases pool resources.
func (p *Postgres) Close() {
	if p.Enabled() {
		p.Pool.Close()
	}
}

// Enabled reports whether a pool was configured.
func (p *Postgres) Enabled() bool {
	return p != nil && p.Pool != nil
}

// Ping verifies Postgres connectivity.
func (p *Postgres) Ping(ctx context.Context) error {
	if !p.Enabled() {
		return ErrPostgresDisabled
	}
	return p.Pool.Ping(ctx)
}

// Stats summarizes pool usage for the readiness probe.
func (p *Postgres) Stats() map[string]int32 {
	if !p.Enabled() {
		return nil
	}
	s := p.Pool.Stat()
	return map[string]int32{
		"total":    s.TotalConns(),
		"acquired": s.AcquiredConns(),
		"idle":     s.IdleConns(),
		"max":      s.MaxConns(),
	}
}

// PoolHandle returns the underlying pgx pool, nil when disabled.
func (p *Postgres) PoolHandle() *pgxpool.Pool {
	if !p.Enabled() {
		return nil
	}
	return p.Pool
}
