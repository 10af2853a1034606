package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"efile/internal/platform/config"
)

// Locker hands out Postgres session advisory locks. Each held lock pins one
// pooled connection until it is released.
type Locker struct {
	pool *pgxpool.Pool
}

// OpenLocker connects a small pgx pool to the database in cfg.
func OpenLocker(ctx context.Context, cfg config.Database) (*Locker, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse postgres url: %w", err)
	}
	pcfg.MaxConns = 4
	if cfg.ConnMaxLifetime > 0 {
		pcfg.MaxConnLifetime = cfg.ConnMaxLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("open lock pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping lock pool: %w", err)
	}
	return &Locker{pool: pool}, nil
}

// TryLock takes the advisory lock named key without waiting. ok is false when
// another session holds it.
func (l *Locker) TryLock(ctx context.Context, key string) (release func(), ok bool, err error) {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire lock connection: %w", err)
	}
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock(hashtextextended($1, 0))`, key).Scan(&ok); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock %s: %w", key, err)
	}
	if !ok {
		conn.Release()
		return nil, false, nil
	}
	release = func() {
		_, _ = conn.Exec(context.Background(), `SELECT pg_advisory_unlock(hashtextextended($1, 0))`, key)
		conn.Release()
	}
	return release, true, nil
}

func (l *Locker) Close() {
	l.pool.Close()
}
