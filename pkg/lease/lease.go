// Package lease provides per-execution leases so that only one worker advances
// an execution at a time.
package lease

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotHeld is returned when renewing a lease the caller does not own.
	ErrNotHeld = errors.New("lease not held")

	// ErrNotAcquired is returned by callers that could not take a lease held by another owner.
	ErrNotAcquired = errors.New("lease held by another owner")
)

// Manager grants exclusive, expiring ownership of a key.
type Manager interface {
	// TryAcquire takes the lease when it is free, expired or already owned by owner.
	TryAcquire(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)
	Renew(ctx context.Context, key, owner string, ttl time.Duration) error
	// Release drops the lease if owner holds it. Releasing a foreign lease is a no-op.
	Release(ctx context.Context, key, owner string) error
}
