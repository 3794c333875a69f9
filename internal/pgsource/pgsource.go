// filmetl - PostgreSQL to Elasticsearch change-data-capture pipeline
// Copyright 2026 Roman Zyapkin
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rezyapkin/filmetl

// Package pgsource wraps the pgx connection pool used to read the
// source database, classifying connection errors so callers can decide
// whether a failure is worth retrying.
package pgsource

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rezyapkin/filmetl/internal/config"
	"github.com/rezyapkin/filmetl/internal/logging"
)

// Pool wraps a pgxpool.Pool bound to the source database.
type Pool struct {
	pool *pgxpool.Pool
}

// Connect opens a connection pool to cfg's database and verifies it
// with a ping bounded by connectTimeout.
func Connect(ctx context.Context, cfg config.PostgresConfig, connectTimeout time.Duration) (*Pool, error) {
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Database)

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}

	poolCfg.MaxConns = int32(runtime.NumCPU())
	if poolCfg.MaxConns < 2 {
		poolCfg.MaxConns = 2
	}
	poolCfg.MaxConnLifetime = time.Hour
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(connectCtx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}

	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	logging.Info().
		Str("host", cfg.Host).
		Int("port", cfg.Port).
		Str("database", cfg.Database).
		Int32("max_conns", poolCfg.MaxConns).
		Msg("connected to source database")

	return &Pool{pool: pool}, nil
}

// Close releases every connection in the pool.
func (p *Pool) Close() {
	p.pool.Close()
}

// Query runs sql with args and returns the resulting rows. Callers must
// call rows.Close().
func (p *Pool) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return p.pool.Query(ctx, sql, args...)
}

// IsConnectionError reports whether err looks like a lost connection
// rather than a query/schema problem, so retry logic can distinguish
// transient transport failures from ones retrying won't fix.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, needle := range []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"bad connection",
		"closed pool",
		"conn closed",
		"i/o timeout",
	} {
		if strings.Contains(msg, needle) {
			return true
		}
	}
	return false
}
