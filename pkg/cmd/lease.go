package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dukex/cartflow/pkg/lease"
	"github.com/dukex/cartflow/pkg/persistence"
	"github.com/dukex/cartflow/pkg/persistence/postgresql"
	"github.com/jonboulle/clockwork"
)

var errLeaseNeedsPostgres = errors.New("postgres leases need postgres persistence")

// SharedLeases reports whether leaseURL names a backend other processes see.
// Memory leases only exclude writers inside one process.
func SharedLeases(leaseURL string) bool {
	return leaseURL != "" && leaseURL != "memory"
}

// NewLeaseManager selects the lease backend: "memory" (one process only),
// a redis:// URL, or "postgres" to share the persistence database.
func NewLeaseManager(leaseURL string, p persistence.Persistence, clock clockwork.Clock) (lease.Manager, error) {
	switch {
	case leaseURL == "" || leaseURL == "memory":
		return lease.NewMemoryManager(clock), nil
	case strings.HasPrefix(leaseURL, "redis://"), strings.HasPrefix(leaseURL, "rediss://"):
		m, err := lease.NewRedisManagerFromURL(leaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to create redis lease manager: %w", err)
		}

		return m, nil
	case leaseURL == "postgres":
		pg, ok := p.(*postgresql.Persistence)
		if !ok {
			return nil, errLeaseNeedsPostgres
		}

		return pg.LeaseManager(), nil
	default:
		return nil, fmt.Errorf("unsupported lease url: %s", leaseURL)
	}
}
