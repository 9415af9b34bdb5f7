package validation

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/iWaraxe/L3StructuredOutput-sub000/schema"
)

// ChainOption configures a Chain.
type ChainOption func(*Chain)

// WithParallel runs validators of the same phase concurrently.
func WithParallel(parallel bool) ChainOption {
	return func(c *Chain) { c.parallel = parallel }
}

// WithLogger sets the chain logger.
func WithLogger(logger *zap.Logger) ChainOption {
	return func(c *Chain) {
		if logger != nil {
			c.logger = logger.With(zap.String("component", "validation_chain"))
		}
	}
}

// Chain runs validators phase by phase: schema, then business, then semantic.
// A Hard issue in the schema phase skips the later phases. Within a phase
// every validator runs and issues keep registration order.
type Chain struct {
	mu       sync.RWMutex
	phases   map[Phase][]Validator
	parallel bool
	logger   *zap.Logger
}

var phaseOrder = []Phase{PhaseSchema, PhaseBusiness, PhaseSemantic}

// NewChain creates a chain with the built-in SchemaValidator registered.
func NewChain(opts ...ChainOption) *Chain {
	c := &Chain{
		phases: make(map[Phase][]Validator),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.phases[PhaseSchema] = []Validator{NewSchemaValidator()}
	return c
}

// Add registers validators under the phase each one reports.
func (c *Chain) Add(validators ...Validator) *Chain {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, v := range validators {
		p := v.Phase()
		if p != PhaseSchema && p != PhaseBusiness && p != PhaseSemantic {
			p = PhaseBusiness
		}
		c.phases[p] = append(c.phases[p], v)
	}
	return c
}

// Remove drops every validator with the given name.
func (c *Chain) Remove(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := false
	for p, vs := range c.phases {
		kept := vs[:0]
		for _, v := range vs {
			if v.Name() == name {
				removed = true
				continue
			}
			kept = append(kept, v)
		}
		c.phases[p] = kept
	}
	return removed
}

// Len returns the number of registered validators.
func (c *Chain) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := 0
	for _, vs := range c.phases {
		n += len(vs)
	}
	return n
}

// Validate runs the chain over value.
func (c *Chain) Validate(ctx context.Context, value map[string]any, desc *schema.Descriptor) Report {
	return c.ValidateWith(ctx, value, &Context{Descriptor: desc})
}

// ValidateWith runs the chain with a caller-supplied context.
func (c *Chain) ValidateWith(ctx context.Context, value map[string]any, vc *Context) Report {
	c.mu.RLock()
	phases := make(map[Phase][]Validator, len(c.phases))
	for p, vs := range c.phases {
		phases[p] = append([]Validator(nil), vs...)
	}
	c.mu.RUnlock()

	var report Report
	for _, phase := range phaseOrder {
		if err := ctx.Err(); err != nil {
			report.Issues = append(report.Issues, Issue{
				Severity: SeverityHard,
				Phase:    phase,
				Code:     CodeCancelled,
				Message:  "validation cancelled: " + err.Error(),
			})
			return report
		}

		issues := c.runPhase(ctx, phases[phase], value, vc)
		report.PhasesRun = append(report.PhasesRun, phase)
		report.Issues = append(report.Issues, issues...)

		if phase == PhaseSchema && HasHard(issues) {
			c.logger.Debug("schema phase failed, skipping later phases",
				zap.Int("issues", len(issues)))
			break
		}
	}

	c.logger.Debug("validation finished",
		zap.String("summary", report.Summary()))
	return report
}

func (c *Chain) runPhase(ctx context.Context, validators []Validator, value map[string]any, vc *Context) []Issue {
	if len(validators) == 0 {
		return nil
	}
	if !c.parallel || len(validators) == 1 {
		var issues []Issue
		for _, v := range validators {
			issues = append(issues, v.Validate(ctx, value, vc)...)
		}
		return issues
	}

	results := make([][]Issue, len(validators))
	g, gctx := errgroup.WithContext(ctx)
	for i, v := range validators {
		g.Go(func() error {
			results[i] = v.Validate(gctx, value, vc)
			return nil
		})
	}
	_ = g.Wait()

	var issues []Issue
	for _, r := range results {
		issues = append(issues, r...)
	}
	return issues
}
