package badgerdb

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/gimlee/settlement/internal/core/ports"
	"github.com/google/uuid"
	"github.com/timshannon/badgerhold/v4"
)

const (
	lockDir = "lock"
)

type leaseData struct {
	Name      string
	Holder    string
	ExpiresAt int64
}

// leaseLocker grants named leases stored next to the data. A lease whose
// holder died is taken over once it expires.
type leaseLocker struct {
	store *badgerhold.Store
	now   func() time.Time
}

func NewLocker(baseDir string, logger badger.Logger) (ports.Locker, error) {
	var dir string
	if len(baseDir) > 0 {
		dir = filepath.Join(baseDir, lockDir)
	}
	store, err := createDB(dir, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock store: %s", err)
	}
	return &leaseLocker{store, time.Now}, nil
}

func (l *leaseLocker) TryLock(
	ctx context.Context, name string, ttl time.Duration,
) (func(), bool, error) {
	now := l.now()
	holder := uuid.New().String()
	err := l.store.Badger().Update(func(tx *badger.Txn) error {
		var lease leaseData
		err := l.store.TxGet(tx, name, &lease)
		if err != nil && !errors.Is(err, badgerhold.ErrNotFound) {
			return err
		}
		if err == nil && lease.ExpiresAt > now.UnixNano() {
			return errLeaseHeld
		}
		return l.store.TxUpsert(tx, name, leaseData{name, holder, now.Add(ttl).UnixNano()})
	})
	if errors.Is(err, errLeaseHeld) || errors.Is(err, badger.ErrConflict) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	release := func() {
		// nolint:errcheck
		l.store.Badger().Update(func(tx *badger.Txn) error {
			var lease leaseData
			if err := l.store.TxGet(tx, name, &lease); err != nil {
				return err
			}
			if lease.Holder != holder {
				return nil
			}
			return l.store.TxDelete(tx, name, leaseData{})
		})
	}
	return release, true, nil
}

func (l *leaseLocker) Close() {
	// nolint:all
	l.store.Close()
}

var errLeaseHeld = errors.New("lease held")
