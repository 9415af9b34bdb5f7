package validation

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"unicode/utf8"
)

// LengthCheck flags string fields whose rune length falls outside [Min, Max].
// Zero bounds are ignored. Issues are Soft unless Escalate is set.
type LengthCheck struct {
	Field    string
	Min      int
	Max      int
	Escalate bool
}

// Name implements Validator.
func (c LengthCheck) Name() string { return "length:" + c.Field }

// Phase implements Validator.
func (c LengthCheck) Phase() Phase { return PhaseSemantic }

// Validate implements Validator.
func (c LengthCheck) Validate(_ context.Context, value map[string]any, _ *Context) []Issue {
	s, ok := value[c.Field].(string)
	if !ok {
		return nil
	}
	n := utf8.RuneCountInString(s)
	switch {
	case c.Min > 0 && n < c.Min:
		return []Issue{semanticIssue(c.Escalate, c.Field,
			fmt.Sprintf("text is suspiciously short (%d < %d characters)", n, c.Min),
			fmt.Sprintf("write at least %d characters", c.Min))}
	case c.Max > 0 && n > c.Max:
		return []Issue{semanticIssue(c.Escalate, c.Field,
			fmt.Sprintf("text is too long (%d > %d characters)", n, c.Max),
			fmt.Sprintf("keep it under %d characters", c.Max))}
	}
	return nil
}

// PhraseDenylist flags forbidden phrases in string fields, case-insensitively.
// It is a heuristic for unsupported marketing claims; treat hits as hints.
type PhraseDenylist struct {
	phrases []string
	// Fields restricts the check; empty means every top-level string field.
	Fields   []string
	Escalate bool
}

// NewPhraseDenylist creates a denylist over the given phrases.
func NewPhraseDenylist(phrases ...string) *PhraseDenylist {
	lowered := make([]string, 0, len(phrases))
	for _, p := range phrases {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			lowered = append(lowered, p)
		}
	}
	return &PhraseDenylist{phrases: lowered}
}

// Name implements Validator.
func (d *PhraseDenylist) Name() string { return "phrase_denylist" }

// Phase implements Validator.
func (d *PhraseDenylist) Phase() Phase { return PhaseSemantic }

// Validate implements Validator.
func (d *PhraseDenylist) Validate(_ context.Context, value map[string]any, _ *Context) []Issue {
	fields := d.Fields
	if len(fields) == 0 {
		for k, v := range value {
			if _, ok := v.(string); ok {
				fields = append(fields, k)
			}
		}
		slices.Sort(fields)
	}

	var issues []Issue
	for _, f := range fields {
		s, ok := value[f].(string)
		if !ok {
			continue
		}
		lower := strings.ToLower(s)
		for _, p := range d.phrases {
			if strings.Contains(lower, p) {
				issues = append(issues, semanticIssue(d.Escalate, f,
					fmt.Sprintf("contains denylisted phrase %q", p),
					"state verifiable facts instead"))
			}
		}
	}
	return issues
}

func semanticIssue(escalate bool, field, msg, fix string) Issue {
	sev := SeveritySoft
	if escalate {
		sev = SeverityHard
	}
	return Issue{
		Severity:     sev,
		Phase:        PhaseSemantic,
		Code:         CodeSemantic,
		Field:        field,
		Message:      msg,
		SuggestedFix: fix,
	}
}
