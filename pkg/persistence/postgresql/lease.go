package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dukex/cartflow/pkg/lease"
)

// LeaseManager stores execution leases in the execution_leases table.
// A lease is taken when absent, expired or already held by the same owner.
type LeaseManager struct {
	db *sql.DB
}

func NewLeaseManager(db *sql.DB) *LeaseManager {
	return &LeaseManager{db: db}
}

func (m *LeaseManager) TryAcquire(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	var holder string

	err := m.db.QueryRowContext(ctx, `
		INSERT INTO execution_leases (key, owner, expires_at)
		VALUES ($1, $2, NOW() + $3 * INTERVAL '1 millisecond')
		ON CONFLICT (key) DO UPDATE SET
			owner = EXCLUDED.owner,
			expires_at = EXCLUDED.expires_at
		WHERE execution_leases.expires_at < NOW() OR execution_leases.owner = EXCLUDED.owner
		RETURNING owner`, key, owner, ttl.Milliseconds()).Scan(&holder)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}

	if err != nil {
		return false, fmt.Errorf("failed to acquire lease %s: %w", key, err)
	}

	return true, nil
}

func (m *LeaseManager) Renew(ctx context.Context, key, owner string, ttl time.Duration) error {
	result, err := m.db.ExecContext(ctx, `
		UPDATE execution_leases SET expires_at = NOW() + $3 * INTERVAL '1 millisecond'
		WHERE key = $1 AND owner = $2`, key, owner, ttl.Milliseconds())
	if err != nil {
		return fmt.Errorf("failed to renew lease %s: %w", key, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to renew lease %s: %w", key, err)
	}

	if affected == 0 {
		return fmt.Errorf("failed to renew lease %s: %w", key, lease.ErrNotHeld)
	}

	return nil
}

func (m *LeaseManager) Release(ctx context.Context, key, owner string) error {
	_, err := m.db.ExecContext(ctx, `DELETE FROM execution_leases WHERE key = $1 AND owner = $2`, key, owner)
	if err != nil {
		return fmt.Errorf("failed to release lease %s: %w", key, err)
	}

	return nil
}
