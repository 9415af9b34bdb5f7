package validation

import (
	"context"
	"fmt"
)

// Op is a comparison operator for Compare rules.
type Op string

const (
	OpEQ  Op = "=="
	OpNE  Op = "!="
	OpGT  Op = ">"
	OpGTE Op = ">="
	OpLT  Op = "<"
	OpLTE Op = "<="
)

// Rule is a caller-supplied business predicate. A failed rule is Hard
// unless Advisory is set.
type Rule struct {
	RuleName string
	// Field is reported on the issue; it may be empty for cross-field rules.
	Field    string
	Check    func(value map[string]any, vc *Context) bool
	Message  string
	Fix      string
	Advisory bool
}

// Name implements Validator.
func (r Rule) Name() string { return r.RuleName }

// Phase implements Validator.
func (r Rule) Phase() Phase { return PhaseBusiness }

// Validate implements Validator.
func (r Rule) Validate(_ context.Context, value map[string]any, vc *Context) []Issue {
	if r.Check == nil || r.Check(value, vc) {
		return nil
	}
	sev := SeverityHard
	if r.Advisory {
		sev = SeveritySoft
	}
	msg := r.Message
	if msg == "" {
		msg = fmt.Sprintf("rule %s failed", r.RuleName)
	}
	return []Issue{{
		Severity:     sev,
		Phase:        PhaseBusiness,
		Code:         CodeBusinessRule,
		Field:        r.Field,
		Message:      msg,
		SuggestedFix: r.Fix,
	}}
}

// AsAdvisory returns a copy of the rule that reports Soft issues.
func (r Rule) AsAdvisory() Rule {
	r.Advisory = true
	return r
}

// Compare builds a rule "a op b" over two numeric fields, e.g.
// Compare("price", OpGTE, "cost"). The rule passes when either field is
// absent or not numeric; presence and types belong to the schema phase.
func Compare(a string, op Op, b string) Rule {
	return Rule{
		RuleName: fmt.Sprintf("%s %s %s", a, op, b),
		Field:    a,
		Message:  fmt.Sprintf("%s must be %s %s", a, op, b),
		Check: func(value map[string]any, _ *Context) bool {
			av, aok := toFloat64(value[a])
			bv, bok := toFloat64(value[b])
			if !aok || !bok {
				return true
			}
			return compare(av, op, bv)
		},
	}
}

// CompareValue builds a rule "field op constant".
func CompareValue(field string, op Op, limit float64) Rule {
	return Rule{
		RuleName: fmt.Sprintf("%s %s %v", field, op, limit),
		Field:    field,
		Message:  fmt.Sprintf("%s must be %s %v", field, op, limit),
		Check: func(value map[string]any, _ *Context) bool {
			v, ok := toFloat64(value[field])
			if !ok {
				return true
			}
			return compare(v, op, limit)
		},
	}
}

// Require builds a rule that applies pred to a single field when present.
func Require(field string, pred func(v any) bool, message string) Rule {
	return Rule{
		RuleName: "require:" + field,
		Field:    field,
		Message:  message,
		Check: func(value map[string]any, _ *Context) bool {
			v, ok := value[field]
			if !ok {
				return true
			}
			return pred(v)
		},
	}
}

func compare(a float64, op Op, b float64) bool {
	switch op {
	case OpEQ:
		return a == b
	case OpNE:
		return a != b
	case OpGT:
		return a > b
	case OpGTE:
		return a >= b
	case OpLT:
		return a < b
	case OpLTE:
		return a <= b
	}
	return false
}
