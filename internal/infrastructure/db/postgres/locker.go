package pgdb

import (
	"context"
	"fmt"
	"time"

	"github.com/gimlee/settlement/internal/core/ports"
	"github.com/jackc/pgx/v5/pgxpool"
	log "github.com/sirupsen/logrus"
)

// advisoryLocker maps named locks onto session level advisory locks. The lock
// lives as long as the connection that took it, so a crashed holder frees it
// without waiting for a lease to expire.
type advisoryLocker struct {
	pool *pgxpool.Pool
}

func NewLocker(pool *pgxpool.Pool) (ports.Locker, error) {
	if pool == nil {
		return nil, fmt.Errorf("cannot open locker: pool is nil")
	}
	return &advisoryLocker{pool}, nil
}

func (l *advisoryLocker) TryLock(
	ctx context.Context, name string, _ time.Duration,
) (func(), bool, error) {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire connection: %w", err)
	}

	var ok bool
	if err := conn.QueryRow(ctx,
		`SELECT pg_try_advisory_lock(hashtext($1))`, name,
	).Scan(&ok); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("failed to take advisory lock %s: %w", name, err)
	}
	if !ok {
		conn.Release()
		return nil, false, nil
	}

	release := func() {
		defer conn.Release()
		if _, err := conn.Exec(context.Background(),
			`SELECT pg_advisory_unlock(hashtext($1))`, name,
		); err != nil {
			log.WithError(err).WithField("lock", name).Warn("failed to release advisory lock")
			// drop the session so the lock goes with it
			// nolint:errcheck
			conn.Conn().Close(context.Background())
		}
	}
	return release, true, nil
}
