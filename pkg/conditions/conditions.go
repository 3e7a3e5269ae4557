// Package conditions evaluates condition nodes against subject facts.
// Each condition type plugs in as an Evaluator; traversal only sees the
// resulting edge label.
package conditions

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/dukex/cartflow/pkg/models"
)

var (
	ErrUnknownConditionType = errors.New("unknown condition type")
	ErrIncompatibleOperator = errors.New("operator not supported by condition type")
	ErrInvalidValue         = errors.New("invalid condition value")
	// ErrFactMissing is returned when the facts needed by a condition are absent.
	ErrFactMissing = errors.New("subject fact missing")
)

// ValueKind is the shape of the fact a condition type compares.
type ValueKind string

const (
	KindNumber ValueKind = "number"
	KindString ValueKind = "string"
	KindBool   ValueKind = "bool"
	KindSet    ValueKind = "set"
)

// Operators allowed per value kind. contains is substring for strings and
// membership for sets; numbers and booleans reject it.
var operatorsByKind = map[ValueKind][]models.Operator{
	KindNumber: {models.OperatorEquals, models.OperatorNotEquals, models.OperatorGreaterThan, models.OperatorLessThan},
	KindString: {models.OperatorEquals, models.OperatorNotEquals, models.OperatorContains},
	KindBool:   {models.OperatorEquals, models.OperatorNotEquals},
	KindSet:    {models.OperatorContains},
}

// Facts are the business facts known about a subject, keyed by name.
type Facts map[string]any

// FactFunc extracts the compared value from facts.
type FactFunc func(facts Facts, now time.Time) (any, error)

// Evaluator describes one condition type.
type Evaluator struct {
	Type models.ConditionType
	Kind ValueKind
	Fact FactFunc
}

// Registry holds evaluators keyed by condition type.
type Registry struct {
	mu         sync.RWMutex
	evaluators map[models.ConditionType]Evaluator
}

func NewRegistry() *Registry {
	return &Registry{evaluators: make(map[models.ConditionType]Evaluator)}
}

func (r *Registry) Register(e Evaluator) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.evaluators[e.Type] = e
}

func (r *Registry) Lookup(conditionType models.ConditionType) (Evaluator, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.evaluators[conditionType]

	return e, ok
}

// Types lists registered condition types in sorted order.
func (r *Registry) Types() []models.ConditionType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]models.ConditionType, 0, len(r.evaluators))
	for t := range r.evaluators {
		types = append(types, t)
	}

	slices.Sort(types)

	return types
}

// Operators returns the operators the condition type accepts.
func (r *Registry) Operators(conditionType models.ConditionType) []models.Operator {
	e, ok := r.Lookup(conditionType)
	if !ok {
		return nil
	}

	return operatorsByKind[e.Kind]
}

// Check verifies a condition config without evaluating it.
func (r *Registry) Check(cfg models.ConditionConfig) error {
	e, ok := r.Lookup(cfg.Type)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownConditionType, cfg.Type)
	}

	if !slices.Contains(operatorsByKind[e.Kind], cfg.Operator) {
		return fmt.Errorf("%w: %q on %s (%s)", ErrIncompatibleOperator, cfg.Operator, cfg.Type, e.Kind)
	}

	if _, err := coerceOperand(e.Kind, cfg.Value); err != nil {
		return err
	}

	return nil
}

// Evaluate returns the label of the edge to follow: models.LabelTrue or models.LabelFalse.
func (r *Registry) Evaluate(cfg models.ConditionConfig, facts Facts, now time.Time) (string, error) {
	if err := r.Check(cfg); err != nil {
		return "", err
	}

	e, _ := r.Lookup(cfg.Type)

	actual, err := e.Fact(facts, now)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", cfg.Type, err)
	}

	operand, _ := coerceOperand(e.Kind, cfg.Value)

	ok, err := compare(e.Kind, cfg.Operator, actual, operand)
	if err != nil {
		return "", fmt.Errorf("failed to evaluate %s %s: %w", cfg.Type, cfg.Operator, err)
	}

	if ok {
		return models.LabelTrue, nil
	}

	return models.LabelFalse, nil
}

var (
	defaultRegistry *Registry
	defaultOnce     sync.Once
)

// Default returns the registry with the built-in condition types.
func Default() *Registry {
	defaultOnce.Do(func() {
		defaultRegistry = NewRegistry()
		RegisterBuiltins(defaultRegistry)
	})

	return defaultRegistry
}
