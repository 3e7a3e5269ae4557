package conditions

import (
	"testing"
	"time"

	"github.com/dukex/cartflow/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluate_OrderValueGreaterThanIsStrict(t *testing.T) {
	cfg := models.ConditionConfig{Type: models.ConditionOrderValue, Operator: models.OperatorGreaterThan, Value: 50}
	now := time.Now()

	tests := []struct {
		total float64
		want  string
	}{
		{75, models.LabelTrue},
		{30, models.LabelFalse},
		{50, models.LabelFalse},
	}

	for _, tt := range tests {
		label, err := Default().Evaluate(cfg, Facts{FactOrderTotal: tt.total}, now)
		require.NoError(t, err)
		assert.Equal(t, tt.want, label, "order_total=%v", tt.total)
	}
}

func TestEvaluate_NumericCoercion(t *testing.T) {
	cfg := models.ConditionConfig{Type: models.ConditionOrderItemCount, Operator: models.OperatorLessThan, Value: "3"}

	label, err := Default().Evaluate(cfg, Facts{FactItemCount: 2}, time.Now())
	require.NoError(t, err)
	assert.Equal(t, models.LabelTrue, label)
}

func TestEvaluate_MissingFact(t *testing.T) {
	cfg := models.ConditionConfig{Type: models.ConditionOrderValue, Operator: models.OperatorGreaterThan, Value: 50}

	_, err := Default().Evaluate(cfg, Facts{}, time.Now())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFactMissing)
}

func TestEvaluate_Contains(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name  string
		cfg   models.ConditionConfig
		facts Facts
		want  string
	}{
		{
			name:  "substring on customer type",
			cfg:   models.ConditionConfig{Type: models.ConditionCustomerType, Operator: models.OperatorContains, Value: "vip"},
			facts: Facts{FactCustomerType: "VIP-gold"},
			want:  models.LabelTrue,
		},
		{
			name:  "membership in order items",
			cfg:   models.ConditionConfig{Type: models.ConditionOrderItems, Operator: models.OperatorContains, Value: "SKU-2"},
			facts: Facts{FactOrderItems: []any{"SKU-1", "SKU-2"}},
			want:  models.LabelTrue,
		},
		{
			name:  "membership requires exact element",
			cfg:   models.ConditionConfig{Type: models.ConditionOrderItems, Operator: models.OperatorContains, Value: "SKU"},
			facts: Facts{FactOrderItems: []string{"SKU-1", "SKU-2"}},
			want:  models.LabelFalse,
		},
		{
			name:  "absent tags are empty",
			cfg:   models.ConditionConfig{Type: models.ConditionCustomerTags, Operator: models.OperatorContains, Value: "newsletter"},
			facts: Facts{},
			want:  models.LabelFalse,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			label, err := Default().Evaluate(tt.cfg, tt.facts, now)
			require.NoError(t, err)
			assert.Equal(t, tt.want, label)
		})
	}
}

func TestEvaluate_HasPhone(t *testing.T) {
	cfg := models.ConditionConfig{Type: models.ConditionHasPhone, Operator: models.OperatorEquals, Value: true}

	label, err := Default().Evaluate(cfg, Facts{FactPhone: "+351900000000"}, time.Now())
	require.NoError(t, err)
	assert.Equal(t, models.LabelTrue, label)

	label, err = Default().Evaluate(cfg, Facts{}, time.Now())
	require.NoError(t, err)
	assert.Equal(t, models.LabelFalse, label)
}

func TestEvaluate_DaysSinceRegistration(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	cfg := models.ConditionConfig{Type: models.ConditionDaysSinceRegistration, Operator: models.OperatorGreaterThan, Value: 7}

	label, err := Default().Evaluate(cfg, Facts{FactRegisteredAt: "2025-03-01T12:00:00Z"}, now)
	require.NoError(t, err)
	assert.Equal(t, models.LabelTrue, label)

	label, err = Default().Evaluate(cfg, Facts{FactRegisteredAt: now.Add(-48 * time.Hour)}, now)
	require.NoError(t, err)
	assert.Equal(t, models.LabelFalse, label)
}

func TestCheck(t *testing.T) {
	tests := []struct {
		name    string
		cfg     models.ConditionConfig
		wantErr error
	}{
		{"valid", models.ConditionConfig{Type: models.ConditionOrderValue, Operator: models.OperatorEquals, Value: 10}, nil},
		{"contains on number", models.ConditionConfig{Type: models.ConditionOrderValue, Operator: models.OperatorContains, Value: 10}, ErrIncompatibleOperator},
		{"contains on bool", models.ConditionConfig{Type: models.ConditionHasPhone, Operator: models.OperatorContains, Value: true}, ErrIncompatibleOperator},
		{"greater on set", models.ConditionConfig{Type: models.ConditionCustomerTags, Operator: models.OperatorGreaterThan, Value: "x"}, ErrIncompatibleOperator},
		{"unknown type", models.ConditionConfig{Type: "lifetime_value", Operator: models.OperatorEquals, Value: 1}, ErrUnknownConditionType},
		{"non numeric value", models.ConditionConfig{Type: models.ConditionOrderValue, Operator: models.OperatorEquals, Value: "fifty"}, ErrInvalidValue},
		{"list value on set", models.ConditionConfig{Type: models.ConditionOrderItems, Operator: models.OperatorContains, Value: []any{"sku-1", "sku-2"}}, ErrInvalidValue},
		{"object value on string", models.ConditionConfig{Type: models.ConditionCustomerType, Operator: models.OperatorEquals, Value: map[string]any{"type": "vip"}}, ErrInvalidValue},
		{"single sku on set", models.ConditionConfig{Type: models.ConditionOrderItems, Operator: models.OperatorContains, Value: "sku-1"}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Default().Check(tt.cfg)
			if tt.wantErr == nil {
				assert.NoError(t, err)

				return
			}

			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestRegistry_CustomEvaluator(t *testing.T) {
	r := NewRegistry()
	r.Register(Evaluator{
		Type: "lifetime_value",
		Kind: KindNumber,
		Fact: numberFact("lifetime_value"),
	})

	label, err := r.Evaluate(models.ConditionConfig{Type: "lifetime_value", Operator: models.OperatorGreaterThan, Value: 100}, Facts{"lifetime_value": 250.0}, time.Now())
	require.NoError(t, err)
	assert.Equal(t, models.LabelTrue, label)
	assert.Equal(t, []models.ConditionType{"lifetime_value"}, r.Types())
}
