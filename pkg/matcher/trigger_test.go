package matcher

import (
	"testing"

	"github.com/dukex/cartflow/pkg/events"
	"github.com/dukex/cartflow/pkg/graph"
	"github.com/dukex/cartflow/pkg/models"
	"github.com/dukex/cartflow/pkg/testutil"
	"github.com/stretchr/testify/assert"
)

func TestTriggerMatches(t *testing.T) {
	first := true

	tests := []struct {
		name    string
		trigger models.TriggerConfig
		payload map[string]any
		want    bool
	}{
		{"event type only", models.TriggerConfig{EventType: models.EventOrderCreated}, nil, true},
		{"first order flag", models.TriggerConfig{EventType: models.EventOrderCreated, IsFirstOrder: &first}, map[string]any{"is_first_order": true}, true},
		{"first order from count", models.TriggerConfig{EventType: models.EventOrderCreated, IsFirstOrder: &first}, map[string]any{"order_count": float64(1)}, true},
		{"repeat order", models.TriggerConfig{EventType: models.EventOrderCreated, IsFirstOrder: &first}, map[string]any{"order_count": float64(3)}, false},
		{"unknown first order", models.TriggerConfig{EventType: models.EventOrderCreated, IsFirstOrder: &first}, nil, false},
		{"filter numeric", models.TriggerConfig{EventType: models.EventOrderCreated, Filters: map[string]any{"item_count": 2}}, map[string]any{"item_count": float64(2)}, true},
		{"filter string", models.TriggerConfig{EventType: models.EventOrderCreated, Filters: map[string]any{"channel": "web"}}, map[string]any{"channel": "app"}, false},
		{"filter missing", models.TriggerConfig{EventType: models.EventOrderCreated, Filters: map[string]any{"channel": "web"}}, nil, false},
		{"other event type", models.TriggerConfig{EventType: models.EventOrderPaid}, nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event := &events.DomainEvent{EventType: models.EventOrderCreated, Payload: tt.payload}
			assert.Equal(t, tt.want, TriggerMatches(&tt.trigger, event))
		})
	}
}

func TestFindTrigger_FirstInGraphOrder(t *testing.T) {
	g := &models.Graph{
		Nodes: []*models.Node{
			testutil.TriggerNode("paid", models.EventOrderPaid),
			testutil.TriggerNode("created-a", models.EventOrderCreated),
			testutil.TriggerNode("created-b", models.EventOrderCreated),
			testutil.EmailNode("email", "thanks"),
		},
		Edges: []*models.Edge{
			testutil.Edge("paid", "email"),
			testutil.Edge("created-a", "email"),
			testutil.Edge("created-b", "email"),
		},
	}

	node := FindTrigger(graph.NewIndex(g), &events.DomainEvent{EventType: models.EventOrderCreated})
	if assert.NotNil(t, node) {
		assert.Equal(t, "created-a", node.ID)
	}

	assert.Nil(t, FindTrigger(graph.NewIndex(g), &events.DomainEvent{EventType: models.EventCartAbandoned}))
}
