package pipeline

import (
	"errors"
	"fmt"
	"time"

	"github.com/iWaraxe/L3StructuredOutput-sub000/convert"
	"github.com/iWaraxe/L3StructuredOutput-sub000/llm"
	"github.com/iWaraxe/L3StructuredOutput-sub000/recovery"
	"github.com/iWaraxe/L3StructuredOutput-sub000/schema"
	"github.com/iWaraxe/L3StructuredOutput-sub000/types"
	"github.com/iWaraxe/L3StructuredOutput-sub000/validation"
)

// AttemptOutcome classifies a single attempt.
type AttemptOutcome string

const (
	AttemptSuccess           AttemptOutcome = "success"
	AttemptParseFailure      AttemptOutcome = "parse_failure"
	AttemptValidationFailure AttemptOutcome = "validation_failure"
	AttemptProviderError     AttemptOutcome = "provider_error"
	// AttemptCancelled means the request context ended during the attempt.
	AttemptCancelled AttemptOutcome = "cancelled"
)

// ConversionAttempt is one entry of a request's append-only history.
type ConversionAttempt struct {
	Number  int            `json:"number"`
	Variant schema.Variant `json:"variant"`
	Prompt  string         `json:"prompt"`
	Raw     string         `json:"raw,omitempty"`
	Outcome AttemptOutcome `json:"outcome"`

	Issues       []validation.Issue    `json:"issues,omitempty"`
	ParseFailure *convert.ParseFailure `json:"parse_failure,omitempty"`
	ProviderErr  *llm.ProviderError    `json:"provider_error,omitempty"`

	// Fields is set for a focused re-request and lists the fields asked for.
	Fields []string `json:"fields,omitempty"`

	Latency time.Duration `json:"latency"`
}

// Outcome is the terminal classification reported to callers and observers.
type Outcome string

const (
	OutcomeSuccess          Outcome = "success"
	OutcomeRetried          Outcome = "retried"
	OutcomeExhausted        Outcome = "exhausted"
	OutcomeRecoveredPartial Outcome = "recovered-partial"
)

// RecoveryResult is what Convert returns: a value (possibly with soft
// issues) or a terminal failure carrying the full attempt history.
type RecoveryResult struct {
	RequestID string  `json:"request_id"`
	Schema    string  `json:"schema"`
	Outcome   Outcome `json:"outcome"`
	State     State   `json:"state"`

	// Value is the validated value on success. After exhaustion it holds the
	// best partial value produced, if any, and must not be trusted blindly.
	Value map[string]any `json:"value,omitempty"`
	// Issues are the final issues: soft ones on success, all on exhaustion.
	Issues []validation.Issue `json:"issues,omitempty"`

	AppliedDefaults []recovery.AppliedDefault `json:"applied_defaults,omitempty"`
	Coerced         []string                  `json:"coerced,omitempty"`
	// ReRequested lists fields filled by a focused re-request.
	ReRequested []string `json:"re_requested,omitempty"`
	// Pending lists fields still failing after exhaustion.
	Pending []string `json:"pending,omitempty"`

	Attempts    []ConversionAttempt `json:"attempts"`
	Transitions []Transition        `json:"transitions"`
	Cached      bool                `json:"cached,omitempty"`

	Err     *FailureError `json:"error,omitempty"`
	Latency time.Duration `json:"latency"`
}

// OK reports whether the request produced a value without Hard issues.
func (r *RecoveryResult) OK() bool { return r != nil && r.Err == nil }

// Path returns the sequence of states visited, starting with Attempting.
func (r *RecoveryResult) Path() []State {
	path := []State{StateAttempting}
	for _, t := range r.Transitions {
		path = append(path, t.To)
	}
	return path
}

// SoftIssues returns the advisory issues attached to the value.
func (r *RecoveryResult) SoftIssues() []validation.Issue {
	var out []validation.Issue
	for _, is := range r.Issues {
		if !is.IsHard() {
			out = append(out, is)
		}
	}
	return out
}

// Decode decodes the value into out. It fails on an unsuccessful result.
func (r *RecoveryResult) Decode(out any) error {
	if !r.OK() {
		if r != nil && r.Err != nil {
			return r.Err
		}
		return errors.New("pipeline: no result")
	}
	return convert.Decode(r.Value, out)
}

// FailureError is the terminal failure attached to an exhausted result.
// It matches both its *types.Error code and the underlying cause with
// errors.Is / errors.As.
type FailureError struct {
	Code    types.ErrorCode `json:"code"`
	Message string          `json:"message"`
	// Attempts is the full attempt history, shared with the result.
	Attempts []ConversionAttempt `json:"-"`
	Issues   []validation.Issue  `json:"issues,omitempty"`
	Cause    error               `json:"-"`
}

// Error implements the error interface.
func (e *FailureError) Error() string {
	msg := fmt.Sprintf("[%s] %s (after %d attempts)", e.Code, e.Message, len(e.Attempts))
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap exposes the coded error and the cause.
func (e *FailureError) Unwrap() []error {
	errs := []error{types.NewError(e.Code, e.Message)}
	if e.Cause != nil {
		errs = append(errs, e.Cause)
	}
	return errs
}

// LastAttempt returns the most recent attempt, if any.
func (e *FailureError) LastAttempt() (ConversionAttempt, bool) {
	if len(e.Attempts) == 0 {
		return ConversionAttempt{}, false
	}
	return e.Attempts[len(e.Attempts)-1], true
}
