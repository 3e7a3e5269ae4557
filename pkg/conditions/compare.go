package conditions

import (
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/dukex/cartflow/pkg/models"
)

func coerceOperand(kind ValueKind, value any) (any, error) {
	switch kind {
	case KindNumber:
		f, err := toFloat(value)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidValue, err)
		}

		return f, nil
	case KindString, KindSet:
		switch v := value.(type) {
		case nil:
			return nil, fmt.Errorf("%w: value is required", ErrInvalidValue)
		case string, bool, float64, float32, int, int64, json.Number:
			return fmt.Sprint(v), nil
		default:
			return nil, fmt.Errorf("%w: expected a single value, got %T", ErrInvalidValue, value)
		}
	case KindBool:
		b, err := toBool(value)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidValue, err)
		}

		return b, nil
	default:
		return nil, fmt.Errorf("%w: unknown kind %s", ErrInvalidValue, kind)
	}
}

func compare(kind ValueKind, op models.Operator, actual, operand any) (bool, error) {
	switch kind {
	case KindNumber:
		a, b := actual.(float64), operand.(float64)

		switch op {
		case models.OperatorEquals:
			return a == b, nil
		case models.OperatorNotEquals:
			return a != b, nil
		case models.OperatorGreaterThan:
			return a > b, nil
		case models.OperatorLessThan:
			return a < b, nil
		}
	case KindString:
		a, b := actual.(string), operand.(string)

		switch op {
		case models.OperatorEquals:
			return strings.EqualFold(a, b), nil
		case models.OperatorNotEquals:
			return !strings.EqualFold(a, b), nil
		case models.OperatorContains:
			return strings.Contains(strings.ToLower(a), strings.ToLower(b)), nil
		}
	case KindBool:
		a, b := actual.(bool), operand.(bool)

		switch op {
		case models.OperatorEquals:
			return a == b, nil
		case models.OperatorNotEquals:
			return a != b, nil
		}
	case KindSet:
		if op == models.OperatorContains {
			return slices.Contains(actual.([]string), operand.(string)), nil
		}
	}

	return false, fmt.Errorf("%w: %s on %s", ErrIncompatibleOperator, op, kind)
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case json.Number:
		return n.Float64()
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, fmt.Errorf("cannot convert string %q to number: %w", n, err)
		}

		return f, nil
	default:
		return 0, fmt.Errorf("cannot convert %T to number", v)
	}
}

func toBool(v any) (bool, error) {
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		parsed, err := strconv.ParseBool(b)
		if err != nil {
			return false, fmt.Errorf("cannot convert string %q to boolean: %w", b, err)
		}

		return parsed, nil
	default:
		return false, fmt.Errorf("cannot convert %T to boolean", v)
	}
}

func toStrings(v any) ([]string, error) {
	switch list := v.(type) {
	case []string:
		return list, nil
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			out = append(out, fmt.Sprint(item))
		}

		return out, nil
	case string:
		if list == "" {
			return []string{}, nil
		}

		parts := strings.Split(list, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}

		return parts, nil
	default:
		return nil, fmt.Errorf("cannot convert %T to list", v)
	}
}
