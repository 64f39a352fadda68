package models

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// ConditionOperator names a comparison applied by an edge condition.
type ConditionOperator string

const (
	OperatorEquals      ConditionOperator = "equals"
	OperatorNotEquals   ConditionOperator = "notEquals"
	OperatorGreaterThan ConditionOperator = "greaterThan"
	OperatorLessThan    ConditionOperator = "lessThan"
	OperatorContains    ConditionOperator = "contains"
	OperatorExists      ConditionOperator = "exists"
	OperatorMissing     ConditionOperator = "missing"
)

// Condition gates an edge: Field is a dotted path into the execution context.
type Condition struct {
	Field    string            `json:"field"           validate:"required"`
	Operator ConditionOperator `json:"operator"        validate:"required,oneof=equals notEquals greaterThan lessThan contains exists missing"`
	Value    any               `json:"value,omitempty"`
}

// Evaluate reports whether the condition holds for data. It fails closed: an
// unresolvable path is false for every operator except missing, and any
// evaluation error (including a panic) yields false.
func (c Condition) Evaluate(data map[string]any) (result bool) {
	defer func() {
		if recover() != nil {
			result = false
		}
	}()

	result, err := c.evaluate(data)
	if err != nil {
		return false
	}

	return result
}

func (c Condition) evaluate(data map[string]any) (bool, error) {
	value, found := Lookup(data, c.Field)
	if found && value == nil {
		found = false
	}

	switch c.Operator {
	case OperatorMissing:
		return !found, nil
	case OperatorExists:
		return found, nil
	}

	if !found {
		return false, nil
	}

	switch c.Operator {
	case OperatorEquals:
		return valuesEqual(value, c.Value), nil
	case OperatorNotEquals:
		return !valuesEqual(value, c.Value), nil
	case OperatorGreaterThan:
		cmp, err := compare(value, c.Value)

		return err == nil && cmp > 0, err
	case OperatorLessThan:
		cmp, err := compare(value, c.Value)

		return err == nil && cmp < 0, err
	case OperatorContains:
		return contains(value, c.Value), nil
	default:
		return false, fmt.Errorf("unsupported operator %q", c.Operator)
	}
}

// Lookup resolves a dotted path ("case.claim.amount", "items.0.sku") against data.
func Lookup(data map[string]any, path string) (any, bool) {
	if path == "" {
		return nil, false
	}

	var current any = data

	for _, segment := range strings.Split(path, ".") {
		switch node := current.(type) {
		case map[string]any:
			next, ok := node[segment]
			if !ok {
				return nil, false
			}

			current = next
		case []any:
			index, err := strconv.Atoi(segment)
			if err != nil || index < 0 || index >= len(node) {
				return nil, false
			}

			current = node[index]
		default:
			return nil, false
		}
	}

	return current, true
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case int:
		return float64(v), true
	case int8:
		return float64(v), true
	case int16:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint32:
		return float64(v), true
	case uint64:
		return float64(v), true
	case float32:
		return float64(v), true
	case float64:
		return v, true
	case json.Number:
		f, err := v.Float64()

		return f, err == nil
	default:
		return 0, false
	}
}

func valuesEqual(left, right any) bool {
	lf, lok := toFloat(left)
	rf, rok := toFloat(right)

	if lok && rok {
		return lf == rf
	}

	if ls, ok := left.(string); ok {
		if rs, ok := right.(string); ok {
			return ls == rs
		}

		// "5" from a form field against a numeric literal.
		if rok {
			parsed, err := strconv.ParseFloat(ls, 64)

			return err == nil && parsed == rf
		}
	}

	return reflect.DeepEqual(left, right)
}

func compare(left, right any) (int, error) {
	lf, lok := toFloat(left)
	rf, rok := toFloat(right)

	if !lok {
		if s, ok := left.(string); ok && rok {
			parsed, err := strconv.ParseFloat(s, 64)
			if err == nil {
				lf, lok = parsed, true
			}
		}
	}

	if lok && rok {
		switch {
		case lf > rf:
			return 1, nil
		case lf < rf:
			return -1, nil
		default:
			return 0, nil
		}
	}

	ls, lsok := left.(string)
	rs, rsok := right.(string)

	if lsok && rsok {
		return strings.Compare(ls, rs), nil
	}

	return 0, fmt.Errorf("cannot compare %T with %T", left, right)
}

func contains(container, item any) bool {
	switch c := container.(type) {
	case string:
		s, ok := item.(string)

		return ok && strings.Contains(c, s)
	case []any:
		for _, element := range c {
			if valuesEqual(element, item) {
				return true
			}
		}

		return false
	case map[string]any:
		key, ok := item.(string)
		if !ok {
			return false
		}

		_, found := c[key]

		return found
	default:
		return false
	}
}
