package validation

import (
	"context"
	"fmt"
	"strings"

	"github.com/iWaraxe/L3StructuredOutput-sub000/schema"
)

// Severity decides whether an issue blocks success.
type Severity string

const (
	// SeverityHard blocks success and forces a retry or recovery.
	SeverityHard Severity = "hard"
	// SeveritySoft is advisory and travels with the value.
	SeveritySoft Severity = "soft"
)

// Phase is the validation stage an issue was produced in.
type Phase string

const (
	PhaseParse    Phase = "parse"
	PhaseSchema   Phase = "schema"
	PhaseBusiness Phase = "business"
	PhaseSemantic Phase = "semantic"
)

// Issue codes.
const (
	CodeParseError          = "parse_error"
	CodeMissingRequired     = "missing_required"
	CodeTypeMismatch        = "type_mismatch"
	CodeConstraintViolation = "constraint_violation"
	CodeBusinessRule        = "business_rule"
	CodeSemantic            = "semantic"
	CodeCancelled           = "validation_cancelled"
)

// Issue is a single validation finding.
type Issue struct {
	Severity     Severity `json:"severity"`
	Phase        Phase    `json:"phase"`
	Code         string   `json:"code"`
	Field        string   `json:"field,omitempty"`
	Message      string   `json:"message"`
	SuggestedFix string   `json:"suggested_fix,omitempty"`
}

// IsHard reports whether the issue blocks success.
func (i Issue) IsHard() bool { return i.Severity == SeverityHard }

// String renders the issue as a single feedback line.
func (i Issue) String() string {
	var sb strings.Builder
	if i.Field != "" {
		sb.WriteString(i.Field)
		sb.WriteString(": ")
	}
	sb.WriteString(i.Message)
	if i.SuggestedFix != "" {
		sb.WriteString(" (")
		sb.WriteString(i.SuggestedFix)
		sb.WriteString(")")
	}
	return sb.String()
}

// ParseIssue wraps a parse failure reason as a Hard issue.
func ParseIssue(reason string) Issue {
	return Issue{
		Severity:     SeverityHard,
		Phase:        PhaseParse,
		Code:         CodeParseError,
		Message:      reason,
		SuggestedFix: "return a single valid JSON object",
	}
}

// Context carries request data shared by validators.
type Context struct {
	Descriptor *schema.Descriptor
	Attempt    int
	// Values holds caller-supplied data for business rules, e.g. reference prices.
	Values map[string]any
}

// Validator checks a converted value. Implementations must not retain value.
type Validator interface {
	Name() string
	Phase() Phase
	Validate(ctx context.Context, value map[string]any, vc *Context) []Issue
}

// Func adapts a function to the Validator interface.
type Func struct {
	ValidatorName  string
	ValidatorPhase Phase
	Fn             func(ctx context.Context, value map[string]any, vc *Context) []Issue
}

// Name implements Validator.
func (f Func) Name() string { return f.ValidatorName }

// Phase implements Validator.
func (f Func) Phase() Phase { return f.ValidatorPhase }

// Validate implements Validator.
func (f Func) Validate(ctx context.Context, value map[string]any, vc *Context) []Issue {
	if f.Fn == nil {
		return nil
	}
	return f.Fn(ctx, value, vc)
}

// Report is the aggregated output of a chain run.
type Report struct {
	Issues    []Issue `json:"issues,omitempty"`
	PhasesRun []Phase `json:"phases_run,omitempty"`
}

// HasHard reports whether any issue blocks success.
func (r Report) HasHard() bool {
	for _, i := range r.Issues {
		if i.IsHard() {
			return true
		}
	}
	return false
}

// Hard returns the blocking issues.
func (r Report) Hard() []Issue { return filter(r.Issues, SeverityHard) }

// Soft returns the advisory issues.
func (r Report) Soft() []Issue { return filter(r.Issues, SeveritySoft) }

// Summary renders counts and codes, e.g. "1 hard, 0 soft: missing_required(age)".
func (r Report) Summary() string {
	return Summarize(r.Issues)
}

// Feedback returns one line per hard issue, suitable for a corrective prompt.
func (r Report) Feedback() []string {
	return Feedback(r.Issues)
}

// Summarize renders counts and codes for a list of issues.
func Summarize(issues []Issue) string {
	hard := len(filter(issues, SeverityHard))
	soft := len(issues) - hard
	s := fmt.Sprintf("%d hard, %d soft", hard, soft)
	if len(issues) == 0 {
		return s
	}
	parts := make([]string, 0, len(issues))
	for _, i := range issues {
		if i.Field != "" {
			parts = append(parts, fmt.Sprintf("%s(%s)", i.Code, i.Field))
		} else {
			parts = append(parts, i.Code)
		}
	}
	return s + ": " + strings.Join(parts, ", ")
}

// Feedback returns one line per hard issue.
func Feedback(issues []Issue) []string {
	var lines []string
	for _, i := range issues {
		if i.IsHard() {
			lines = append(lines, i.String())
		}
	}
	return lines
}

// HasHard reports whether any issue in the list blocks success.
func HasHard(issues []Issue) bool {
	return Report{Issues: issues}.HasHard()
}

func filter(issues []Issue, sev Severity) []Issue {
	var out []Issue
	for _, i := range issues {
		if i.Severity == sev {
			out = append(out, i)
		}
	}
	return out
}
