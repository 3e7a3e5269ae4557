package conditions

import (
	"fmt"
	"strings"
	"time"

	"github.com/dukex/cartflow/pkg/models"
)

// Fact names read by the built-in evaluators.
const (
	FactOrderTotal    = "order_total"
	FactItemCount     = "item_count"
	FactCustomerType  = "customer_type"
	FactRegisteredAt  = "registered_at"
	FactPhone         = "phone"
	FactOrderItems    = "order_items"
	FactCustomerTags  = "customer_tags"
	FactIsFirstOrder  = "is_first_order"
	FactOrderCount    = "order_count"
	FactCustomerName  = "customer_name"
	FactCustomerEmail = "email"
)

func RegisterBuiltins(r *Registry) {
	r.Register(Evaluator{Type: models.ConditionOrderValue, Kind: KindNumber, Fact: numberFact(FactOrderTotal)})
	r.Register(Evaluator{Type: models.ConditionOrderItemCount, Kind: KindNumber, Fact: numberFact(FactItemCount)})
	r.Register(Evaluator{Type: models.ConditionCustomerType, Kind: KindString, Fact: stringFact(FactCustomerType)})
	r.Register(Evaluator{Type: models.ConditionDaysSinceRegistration, Kind: KindNumber, Fact: daysSinceRegistration})
	r.Register(Evaluator{Type: models.ConditionHasPhone, Kind: KindBool, Fact: hasPhone})
	r.Register(Evaluator{Type: models.ConditionOrderItems, Kind: KindSet, Fact: setFact(FactOrderItems)})
	r.Register(Evaluator{Type: models.ConditionCustomerTags, Kind: KindSet, Fact: setFact(FactCustomerTags)})
}

func numberFact(name string) FactFunc {
	return func(facts Facts, _ time.Time) (any, error) {
		raw, ok := facts[name]
		if !ok || raw == nil {
			return nil, fmt.Errorf("%w: %s", ErrFactMissing, name)
		}

		return toFloat(raw)
	}
}

func stringFact(name string) FactFunc {
	return func(facts Facts, _ time.Time) (any, error) {
		raw, ok := facts[name]
		if !ok || raw == nil {
			return nil, fmt.Errorf("%w: %s", ErrFactMissing, name)
		}

		return fmt.Sprint(raw), nil
	}
}

// setFact treats an absent list as empty: a customer without tags has none.
func setFact(name string) FactFunc {
	return func(facts Facts, _ time.Time) (any, error) {
		raw, ok := facts[name]
		if !ok || raw == nil {
			return []string{}, nil
		}

		return toStrings(raw)
	}
}

func hasPhone(facts Facts, _ time.Time) (any, error) {
	phone, _ := facts[FactPhone].(string)

	return strings.TrimSpace(phone) != "", nil
}

func daysSinceRegistration(facts Facts, now time.Time) (any, error) {
	var registeredAt time.Time

	switch v := facts[FactRegisteredAt].(type) {
	case time.Time:
		registeredAt = v
	case string:
		parsed, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return nil, fmt.Errorf("invalid %s %q: %w", FactRegisteredAt, v, err)
		}

		registeredAt = parsed
	case nil:
		return nil, fmt.Errorf("%w: %s", ErrFactMissing, FactRegisteredAt)
	default:
		return nil, fmt.Errorf("invalid %s type %T", FactRegisteredAt, v)
	}

	days := now.Sub(registeredAt) / (24 * time.Hour)
	if days < 0 {
		days = 0
	}

	return float64(days), nil
}
