package pipeline

import (
	"time"

	"github.com/iWaraxe/L3StructuredOutput-sub000/schema"
	"github.com/iWaraxe/L3StructuredOutput-sub000/types"
)

// Policy defaults.
const (
	DefaultMaxAttempts    = 3
	DefaultInitialBackoff = 100 * time.Millisecond
	DefaultMaxBackoff     = 10 * time.Second
)

// Policy controls retries and recovery for one request. Zero values take
// the package defaults.
type Policy struct {
	MaxAttempts    int           `json:"max_attempts" yaml:"max_attempts"`
	InitialBackoff time.Duration `json:"initial_backoff" yaml:"initial_backoff"`
	MaxBackoff     time.Duration `json:"max_backoff" yaml:"max_backoff"`

	// AttemptTimeout bounds each provider call from its start. Zero means
	// only the request deadline applies.
	AttemptTimeout time.Duration `json:"attempt_timeout" yaml:"attempt_timeout"`
	// RequestDeadline bounds the whole request, backoff included.
	RequestDeadline time.Duration `json:"request_deadline" yaml:"request_deadline"`

	// AllowTypeCoercion lets recovery turn numeric and boolean strings into
	// the declared scalar type. Words such as "ninety-nine" are never coerced.
	AllowTypeCoercion bool `json:"allow_type_coercion" yaml:"allow_type_coercion"`
	// Defaults fills absent optional top-level fields.
	Defaults map[string]any `json:"defaults,omitempty" yaml:"defaults"`

	VariantOrder []schema.Variant `json:"prompt_variant_order,omitempty" yaml:"prompt_variant_order"`

	// ReRequestFailingFields enables one focused re-request for the fields
	// still failing once the attempt budget is spent.
	ReRequestFailingFields bool `json:"re_request_failing_fields" yaml:"re_request_failing_fields"`
}

// DefaultPolicy returns a Policy with every default filled in.
func DefaultPolicy() Policy {
	return Policy{}.withDefaults()
}

// Validate reports negative or unknown settings as INVALID_CONFIG.
func (p Policy) Validate() error {
	switch {
	case p.MaxAttempts < 0:
		return types.NewConfigError("max_attempts must not be negative, got %d", p.MaxAttempts)
	case p.InitialBackoff < 0:
		return types.NewConfigError("initial_backoff must not be negative, got %s", p.InitialBackoff)
	case p.MaxBackoff < 0:
		return types.NewConfigError("max_backoff must not be negative, got %s", p.MaxBackoff)
	case p.MaxBackoff > 0 && p.InitialBackoff > p.MaxBackoff:
		return types.NewConfigError("initial_backoff %s exceeds max_backoff %s", p.InitialBackoff, p.MaxBackoff)
	case p.AttemptTimeout < 0:
		return types.NewConfigError("attempt_timeout must not be negative, got %s", p.AttemptTimeout)
	case p.RequestDeadline < 0:
		return types.NewConfigError("request_deadline must not be negative, got %s", p.RequestDeadline)
	}
	for _, v := range p.VariantOrder {
		if _, err := schema.ParseVariant(string(v)); err != nil {
			return err
		}
	}
	return nil
}

func (p Policy) withDefaults() Policy {
	if p.MaxAttempts == 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.InitialBackoff == 0 {
		p.InitialBackoff = DefaultInitialBackoff
	}
	if p.MaxBackoff == 0 {
		p.MaxBackoff = DefaultMaxBackoff
		if p.InitialBackoff > p.MaxBackoff {
			p.MaxBackoff = p.InitialBackoff
		}
	}
	if len(p.VariantOrder) == 0 {
		p.VariantOrder = append([]schema.Variant(nil), schema.DefaultVariantOrder...)
	}
	return p
}

// variant returns the prompt variant for the zero-based attempt n, cycling
// through VariantOrder.
func (p Policy) variant(n int) schema.Variant {
	return p.VariantOrder[n%len(p.VariantOrder)]
}
