package matcher

import (
	"fmt"
	"reflect"

	"github.com/dukex/cartflow/pkg/conditions"
	"github.com/dukex/cartflow/pkg/events"
	"github.com/dukex/cartflow/pkg/graph"
	"github.com/dukex/cartflow/pkg/models"
)

// FindTrigger returns the first trigger, in graph order, that event satisfies.
// One event starts at most one execution per automation.
func FindTrigger(index *graph.Index, event *events.DomainEvent) *models.Node {
	for _, node := range index.Triggers() {
		if node.Trigger != nil && TriggerMatches(node.Trigger, event) {
			return node
		}
	}

	return nil
}

// TriggerMatches reports whether event has the trigger's type and satisfies its filters.
func TriggerMatches(trigger *models.TriggerConfig, event *events.DomainEvent) bool {
	if trigger.EventType != event.EventType {
		return false
	}

	if trigger.IsFirstOrder != nil && *trigger.IsFirstOrder != isFirstOrder(event) {
		return false
	}

	for key, want := range trigger.Filters {
		got, ok := event.Payload[key]
		if !ok || !looseEqual(got, want) {
			return false
		}
	}

	return true
}

func isFirstOrder(event *events.DomainEvent) bool {
	if first, ok := event.PayloadBool(conditions.FactIsFirstOrder); ok {
		return first
	}

	count, ok := event.PayloadInt(conditions.FactOrderCount)

	return ok && count == 1
}

// looseEqual compares JSON-decoded values, treating all numbers alike.
func looseEqual(a, b any) bool {
	if x, ok := toFloat(a); ok {
		y, ok := toFloat(b)

		return ok && x == y
	}

	if reflect.DeepEqual(a, b) {
		return true
	}

	return fmt.Sprint(a) == fmt.Sprint(b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
