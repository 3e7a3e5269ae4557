package graph

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dukex/cartflow/pkg/models"
	"github.com/xeipuuv/gojsonschema"
)

const draft07 = "http://json-schema.org/draft-07/schema#"

var errMissingConfig = errors.New("configuration is required")

func eventTypeNames() []string {
	names := make([]string, 0, len(models.EventTypes))
	for _, t := range models.EventTypes {
		names = append(names, string(t))
	}

	return names
}

// ConfigSchema returns the JSON schema of a node kind's configuration, or nil
// for kinds without configuration.
func ConfigSchema(kind models.NodeKind) map[string]any {
	switch kind {
	case models.NodeKindTrigger:
		return map[string]any{
			"$schema": draft07,
			"type":    "object",
			"properties": map[string]any{
				"event_type": map[string]any{
					"type":        "string",
					"description": "Domain event that starts the automation",
					"enum":        eventTypeNames(),
				},
				"is_first_order": map[string]any{
					"type":        "boolean",
					"description": "Only match the customer's first order",
				},
				"wait_minutes": map[string]any{
					"type":        "integer",
					"description": "Minutes to wait after the event before the trigger fires",
					"minimum":     0,
				},
				"filters": map[string]any{
					"type":        "object",
					"description": "Payload fields that must equal the given values",
				},
			},
			"required": []string{"event_type"},
		}
	case models.NodeKindDelay:
		return map[string]any{
			"$schema": draft07,
			"type":    "object",
			"properties": map[string]any{
				"delay_value": map[string]any{
					"type":    "integer",
					"minimum": 1,
				},
				"delay_unit": map[string]any{
					"type": "string",
					"enum": []string{"minutes", "hours", "days"},
				},
			},
			"required": []string{"delay_value", "delay_unit"},
		}
	case models.NodeKindCondition:
		return map[string]any{
			"$schema": draft07,
			"type":    "object",
			"properties": map[string]any{
				"condition_type": map[string]any{"type": "string", "minLength": 1},
				"operator": map[string]any{
					"type": "string",
					"enum": []string{"equals", "not_equals", "greater_than", "less_than", "contains"},
				},
				"value": map[string]any{
					"type": []string{"string", "number", "boolean"},
				},
			},
			"required": []string{"condition_type", "operator", "value"},
		}
	case models.NodeKindAction:
		return map[string]any{
			"$schema": draft07,
			"type":    "object",
			"properties": map[string]any{
				"action_kind": map[string]any{
					"type": "string",
					"enum": []string{"send_email", "send_sms", "update_customer_tags", "apply_discount", "end_flow"},
				},
				"template_id": map[string]any{"type": "string"},
				"variables": map[string]any{
					"type":                 "object",
					"additionalProperties": map[string]any{"type": "string"},
				},
				"tags":        map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
				"remove_tags": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
				"discount": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"type":       map[string]any{"type": "string", "enum": []string{"percentage", "fixed"}},
						"amount":     map[string]any{"type": "number", "exclusiveMinimum": 0},
						"valid_days": map[string]any{"type": "integer", "minimum": 0},
						"prefix":     map[string]any{"type": "string"},
					},
					"required": []string{"type", "amount"},
				},
			},
			"required": []string{"action_kind"},
			"allOf": []any{
				requireWhenKind("send_email", "template_id"),
				requireWhenKind("send_sms", "template_id"),
				requireWhenKind("apply_discount", "discount"),
				map[string]any{
					"if": map[string]any{
						"properties": map[string]any{"action_kind": map[string]any{"const": "update_customer_tags"}},
					},
					"then": map[string]any{
						"anyOf": []any{
							map[string]any{"required": []string{"tags"}},
							map[string]any{"required": []string{"remove_tags"}},
						},
					},
				},
			},
		}
	default:
		return nil
	}
}

func requireWhenKind(kind, field string) map[string]any {
	return map[string]any{
		"if": map[string]any{
			"properties": map[string]any{"action_kind": map[string]any{"const": kind}},
		},
		"then": map[string]any{"required": []string{field}},
	}
}

// ValidateConfig checks a node's configuration against the schema of its kind.
func ValidateConfig(n *models.Node) error {
	schema := ConfigSchema(n.Kind)
	if schema == nil {
		return nil
	}

	config, ok := presentConfig(n)
	if !ok {
		return errMissingConfig
	}

	result, err := gojsonschema.Validate(gojsonschema.NewGoLoader(schema), gojsonschema.NewGoLoader(config))
	if err != nil {
		return fmt.Errorf("failed to validate configuration: %w", err)
	}

	if !result.Valid() {
		var errs []string
		for _, e := range result.Errors() {
			errs = append(errs, e.String())
		}

		return fmt.Errorf("configuration is invalid: %s", strings.Join(errs, "; "))
	}

	return nil
}

func presentConfig(n *models.Node) (any, bool) {
	switch n.Kind {
	case models.NodeKindTrigger:
		return n.Trigger, n.Trigger != nil
	case models.NodeKindDelay:
		return n.Delay, n.Delay != nil
	case models.NodeKindCondition:
		return n.Condition, n.Condition != nil
	case models.NodeKindAction:
		return n.Action, n.Action != nil
	default:
		return nil, true
	}
}
