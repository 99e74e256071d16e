package application

import (
	"context"
	"fmt"
	"time"

	"github.com/gimlee/settlement/internal/core/domain"
	"github.com/gimlee/settlement/internal/core/ports"
	log "github.com/sirupsen/logrus"
)

const retentionLockName = "exchange-rate-retention"

// RetentionJob purges old exchange rates. Instances sharing a database
// coordinate through the locker so only one of them deletes at a time.
type RetentionJob struct {
	rates     domain.ExchangeRateRepository
	locker    ports.Locker
	retention time.Duration
	lockTTL   time.Duration
	now       func() time.Time
}

func NewRetentionJob(
	rates domain.ExchangeRateRepository, locker ports.Locker, retention, lockTTL time.Duration,
) (*RetentionJob, error) {
	if retention <= 0 {
		return nil, fmt.Errorf("retention must be positive, got %s", retention)
	}
	if locker == nil {
		return nil, fmt.Errorf("missing locker")
	}
	if lockTTL <= 0 {
		lockTTL = 10 * time.Minute
	}
	return &RetentionJob{rates, locker, retention, lockTTL, time.Now}, nil
}

func (j *RetentionJob) Run(ctx context.Context) {
	deleted, ran, err := j.Cleanup(ctx)
	if err != nil {
		log.WithError(err).Error("exchange rate cleanup failed")
		return
	}
	if !ran {
		log.Debug("exchange rate cleanup held by another instance, skipping")
		return
	}
	log.WithField("deleted", deleted).Debug("exchange rate cleanup done")
}

// Cleanup deletes rates older than the retention window. ran is false when
// another instance holds the lock.
func (j *RetentionJob) Cleanup(ctx context.Context) (deleted int64, ran bool, err error) {
	release, ok, err := j.locker.TryLock(ctx, retentionLockName, j.lockTTL)
	if err != nil {
		return 0, false, fmt.Errorf("failed to acquire cleanup lock: %w", err)
	}
	if !ok {
		return 0, false, nil
	}
	defer release()

	before := j.now().Add(-j.retention)
	deleted, err = j.rates.DeleteOlderThan(ctx, before)
	if err != nil {
		return 0, true, err
	}
	return deleted, true, nil
}
