package ports

import (
	"context"
	"time"
)

// Locker hands out named locks shared by every instance using the same
// database. TryLock does not wait: ok is false when someone else holds the
// lock. The returned release func must be called once the work is done; ttl
// bounds how long a crashed holder can keep the lock.
type Locker interface {
	TryLock(ctx context.Context, name string, ttl time.Duration) (release func(), ok bool, err error)
}
