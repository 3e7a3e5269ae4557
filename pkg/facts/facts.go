// Package facts assembles the business facts a condition is evaluated against.
package facts

import (
	"context"
	"errors"
	"maps"

	"github.com/dukex/cartflow/pkg/conditions"
	"github.com/dukex/cartflow/pkg/models"
)

// ErrUnavailable is returned when the subject data source cannot be reached.
// The engine treats it as transient.
var ErrUnavailable = errors.New("subject facts unavailable")

// Provider fetches current facts about a subject.
type Provider interface {
	Facts(ctx context.Context, subject models.Subject) (conditions.Facts, error)
}

// Merge layers facts: the trigger payload, then subject identity, then fresh
// provider facts, later layers winning.
func Merge(payload map[string]any, subject models.Subject, fresh conditions.Facts) conditions.Facts {
	merged := make(conditions.Facts, len(payload)+len(fresh)+4)
	maps.Copy(merged, payload)

	if subject.Email != "" {
		merged[conditions.FactCustomerEmail] = subject.Email
	}

	if subject.Phone != "" {
		merged[conditions.FactPhone] = subject.Phone
	}

	if subject.Name != "" {
		merged[conditions.FactCustomerName] = subject.Name
	}

	maps.Copy(merged, fresh)

	return merged
}

// PayloadOnly is a Provider with no external source; conditions see only the
// trigger payload and subject.
type PayloadOnly struct{}

func (PayloadOnly) Facts(context.Context, models.Subject) (conditions.Facts, error) {
	return conditions.Facts{}, nil
}
