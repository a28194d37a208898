package services

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"advisory-service/internal/models"
)

// Truth is the result of evaluating a condition over possibly incomplete data.
type Truth int

const (
	Unknown Truth = iota
	False
	True
)

func (t Truth) String() string {
	switch t {
	case True:
		return "TRUE"
	case False:
		return "FALSE"
	default:
		return "UNKNOWN"
	}
}

func (t Truth) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func truthOf(b bool) Truth {
	if b {
		return True
	}
	return False
}

// BoundCondition records what a leaf condition saw when it was evaluated.
type BoundCondition struct {
	Field    string `json:"field"`
	Op       string `json:"op"`
	Expected any    `json:"expected,omitempty"`
	Actual   any    `json:"actual,omitempty"`
	Present  bool   `json:"present"`
	Result   Truth  `json:"result"`
}

func (b BoundCondition) String() string {
	actual := "missing"
	if b.Present {
		actual = fmt.Sprintf("%v", b.Actual)
	}
	return fmt.Sprintf("%s %s %v (actual %s)", b.Field, b.Op, b.Expected, actual)
}

// ============================================================================
// PARSING
// ============================================================================

// ParseRuleDefinition decodes and validates a stored definition. Operators are
// normalized so evaluation can compare them directly.
func ParseRuleDefinition(raw []byte) (*models.RuleDefinition, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty definition", models.ErrMalformedRule)
	}

	var def models.RuleDefinition
	if err := json.Unmarshal(raw, &def); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrMalformedRule, err)
	}
	if err := ValidateRuleDefinition(&def); err != nil {
		return nil, err
	}
	return &def, nil
}

// ValidateRuleDefinition checks the condition tree and outcome, normalizing operators in place.
func ValidateRuleDefinition(def *models.RuleDefinition) error {
	if err := validateNode(&def.Conditions, "conditions"); err != nil {
		return err
	}
	if !models.IsValidSeverity(def.Outcome.Severity) {
		return fmt.Errorf("%w: outcome has invalid severity %q", models.ErrMalformedRule, def.Outcome.Severity)
	}
	if def.Outcome.Channel != nil && !models.IsValidChannel(*def.Outcome.Channel) {
		return fmt.Errorf("%w: outcome has invalid channel %q", models.ErrMalformedRule, *def.Outcome.Channel)
	}
	return nil
}

func validateNode(node *models.ConditionNode, path string) error {
	op := strings.TrimSpace(node.Op)
	if upper := strings.ToUpper(op); upper == string(models.LogicalAND) || upper == string(models.LogicalOR) || upper == string(models.LogicalNOT) {
		node.Op = upper
	} else {
		node.Op = strings.ToLower(op)
	}

	if node.IsComposite() {
		switch models.LogicalOperator(node.Op) {
		case models.LogicalNOT:
			if len(node.Children) != 1 {
				return fmt.Errorf("%w: %s: NOT needs exactly one child, got %d", models.ErrMalformedRule, path, len(node.Children))
			}
		default:
			if len(node.Children) == 0 {
				return fmt.Errorf("%w: %s: %s needs at least one child", models.ErrMalformedRule, path, node.Op)
			}
		}
		for i := range node.Children {
			if err := validateNode(&node.Children[i], fmt.Sprintf("%s.children[%d]", path, i)); err != nil {
				return err
			}
		}
		return nil
	}

	if strings.TrimSpace(node.Field) == "" {
		return fmt.Errorf("%w: %s: leaf condition without field", models.ErrMalformedRule, path)
	}
	if len(node.Children) > 0 {
		return fmt.Errorf("%w: %s: leaf condition %q cannot have children", models.ErrMalformedRule, path, node.Op)
	}

	switch models.ThresholdOperator(node.Op) {
	case models.ThresholdLT, models.ThresholdGT, models.ThresholdLTE, models.ThresholdGTE:
		if _, ok := toFloat(node.Value); !ok {
			return fmt.Errorf("%w: %s: %s needs a numeric value", models.ErrMalformedRule, path, node.Op)
		}
	case models.ThresholdEQ, models.ThresholdNE:
		if node.Value == nil {
			return fmt.Errorf("%w: %s: %s needs a value", models.ErrMalformedRule, path, node.Op)
		}
	case models.SetIn, models.SetNotIn, models.SetContainsAny, models.SetContainsAll:
		if len(node.Values) == 0 {
			return fmt.Errorf("%w: %s: %s needs a non-empty values list", models.ErrMalformedRule, path, node.Op)
		}
	case models.FieldExists:
	default:
		return fmt.Errorf("%w: %s: unknown operator %q", models.ErrMalformedRule, path, node.Op)
	}
	return nil
}

// ============================================================================
// EVALUATION
// ============================================================================

// ConditionEvaluator walks a validated condition tree with Kleene logic.
// Missing or ill-typed fields make a leaf Unknown; only True ever triggers.
type ConditionEvaluator struct{}

func NewConditionEvaluator() *ConditionEvaluator {
	return &ConditionEvaluator{}
}

func (e *ConditionEvaluator) Evaluate(node models.ConditionNode, ctx map[string]any) (Truth, []BoundCondition) {
	var bound []BoundCondition
	result := e.eval(node, ctx, &bound)
	return result, bound
}

func (e *ConditionEvaluator) eval(node models.ConditionNode, ctx map[string]any, bound *[]BoundCondition) Truth {
	switch models.LogicalOperator(node.Op) {
	case models.LogicalAND:
		result := True
		for _, child := range node.Children {
			switch e.eval(child, ctx, bound) {
			case False:
				result = False
			case Unknown:
				if result == True {
					result = Unknown
				}
			}
		}
		return result
	case models.LogicalOR:
		result := False
		for _, child := range node.Children {
			switch e.eval(child, ctx, bound) {
			case True:
				result = True
			case Unknown:
				if result == False {
					result = Unknown
				}
			}
		}
		return result
	case models.LogicalNOT:
		switch e.eval(node.Children[0], ctx, bound) {
		case True:
			return False
		case False:
			return True
		default:
			return Unknown
		}
	}

	actual, present := ctx[node.Field]
	if present && actual == nil {
		present = false
	}
	result := evalLeaf(models.ThresholdOperator(node.Op), actual, present, node.Value, node.Values)

	expected := node.Value
	if node.Values != nil {
		expected = node.Values
	}
	*bound = append(*bound, BoundCondition{
		Field:    node.Field,
		Op:       node.Op,
		Expected: expected,
		Actual:   actual,
		Present:  present,
		Result:   result,
	})
	return result
}

func evalLeaf(op models.ThresholdOperator, actual any, present bool, value any, values []any) Truth {
	if op == models.FieldExists {
		return truthOf(present)
	}
	if !present {
		return Unknown
	}

	switch op {
	case models.ThresholdLT, models.ThresholdGT, models.ThresholdLTE, models.ThresholdGTE:
		a, ok := toFloat(actual)
		if !ok {
			return Unknown
		}
		b, ok := toFloat(value)
		if !ok {
			return Unknown
		}
		return truthOf(checkThreshold(a, b, op))

	case models.ThresholdEQ, models.ThresholdNE:
		if _, isList := toList(actual); isList {
			return Unknown
		}
		eq, ok := valuesEqual(actual, value)
		if !ok {
			return Unknown
		}
		if op == models.ThresholdNE {
			return truthOf(!eq)
		}
		return truthOf(eq)

	case models.SetIn, models.SetNotIn, models.SetContainsAny:
		items, isList := toList(actual)
		if !isList {
			items = []any{actual}
		}
		hit := false
		for _, item := range items {
			if containsValue(values, item) {
				hit = true
				break
			}
		}
		if op == models.SetNotIn {
			return truthOf(!hit)
		}
		return truthOf(hit)

	case models.SetContainsAll:
		items, isList := toList(actual)
		if !isList {
			items = []any{actual}
		}
		for _, want := range values {
			if !containsValue(items, want) {
				return False
			}
		}
		return True
	}
	return Unknown
}

func checkThreshold(measured, threshold float64, op models.ThresholdOperator) bool {
	switch op {
	case models.ThresholdLT:
		return measured < threshold
	case models.ThresholdGT:
		return measured > threshold
	case models.ThresholdLTE:
		return measured <= threshold
	case models.ThresholdGTE:
		return measured >= threshold
	default:
		return false
	}
}

func containsValue(set []any, v any) bool {
	for _, candidate := range set {
		if eq, ok := valuesEqual(candidate, v); ok && eq {
			return true
		}
	}
	return false
}

// valuesEqual compares numbers numerically and strings case-insensitively.
// ok is false when the two values cannot be compared.
func valuesEqual(a, b any) (eq bool, ok bool) {
	if af, aok := toFloat(a); aok {
		bf, bok := toFloat(b)
		if !bok {
			return false, false
		}
		return af == bf, true
	}
	if as, aok := toString(a); aok {
		bs, bok := toString(b)
		if !bok {
			return false, false
		}
		return strings.EqualFold(strings.TrimSpace(as), strings.TrimSpace(bs)), true
	}
	if ab, aok := a.(bool); aok {
		bb, bok := b.(bool)
		if !bok {
			return false, false
		}
		return ab == bb, true
	}
	return false, false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func toString(v any) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, true
	case models.Signal:
		return string(s), true
	case fmt.Stringer:
		return s.String(), true
	default:
		return "", false
	}
}

func toList(v any) ([]any, bool) {
	switch l := v.(type) {
	case []any:
		return l, true
	case []string:
		out := make([]any, len(l))
		for i, s := range l {
			out[i] = s
		}
		return out, true
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	if rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() == reflect.Uint8 {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}
