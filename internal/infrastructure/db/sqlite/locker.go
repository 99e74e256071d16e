package sqlitedb

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/gimlee/settlement/internal/core/ports"
	"github.com/google/uuid"
)

// leaseLocker grants named leases through the lease_lock table, so that
// processes sharing the database file do not run the same job twice. An
// expired lease is taken over by the next caller.
type leaseLocker struct {
	db  *sql.DB
	now func() time.Time
}

func NewLocker(db *sql.DB) (ports.Locker, error) {
	if db == nil {
		return nil, fmt.Errorf("cannot open locker: db is nil")
	}
	return &leaseLocker{db, time.Now}, nil
}

func (l *leaseLocker) TryLock(
	ctx context.Context, name string, ttl time.Duration,
) (func(), bool, error) {
	now := l.now()
	holder := uuid.New().String()
	res, err := l.db.ExecContext(ctx,
		`INSERT INTO lease_lock (name, holder, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET holder = excluded.holder, expires_at = excluded.expires_at
		WHERE lease_lock.expires_at <= ?`,
		name, holder, now.Add(ttl).UnixNano(), now.UnixNano(),
	)
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire lease %s: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, err
	}
	if n == 0 {
		return nil, false, nil
	}

	release := func() {
		// nolint:errcheck
		l.db.ExecContext(context.Background(),
			`DELETE FROM lease_lock WHERE name = ? AND holder = ?`, name, holder,
		)
	}
	return release, true, nil
}
