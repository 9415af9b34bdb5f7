package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/iWaraxe/L3StructuredOutput-sub000/convert"
	"github.com/iWaraxe/L3StructuredOutput-sub000/internal/ctxkeys"
	"github.com/iWaraxe/L3StructuredOutput-sub000/llm"
	"github.com/iWaraxe/L3StructuredOutput-sub000/llm/ratelimit"
	"github.com/iWaraxe/L3StructuredOutput-sub000/llm/retry"
	"github.com/iWaraxe/L3StructuredOutput-sub000/recovery"
	"github.com/iWaraxe/L3StructuredOutput-sub000/schema"
	"github.com/iWaraxe/L3StructuredOutput-sub000/types"
	"github.com/iWaraxe/L3StructuredOutput-sub000/validation"
)

const instrumentationName = "github.com/iWaraxe/L3StructuredOutput-sub000/pipeline"

// CodeUnclassified marks provider errors that carried no classification.
const CodeUnclassified = "unclassified"

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithLimiter shares a rate limiter across every request of the orchestrator.
func WithLimiter(l *ratelimit.Limiter) Option {
	return func(o *Orchestrator) { o.limiter = l }
}

// WithObserver adds an outcome observer.
func WithObserver(obs Observer) Option {
	return func(o *Orchestrator) {
		if obs != nil {
			o.observers = append(o.observers, obs)
		}
	}
}

// WithResultCache enables the result cache.
func WithResultCache(c ResultCache) Option {
	return func(o *Orchestrator) { o.cache = c }
}

// WithSchemaCache sets the descriptor cache used by ConvertTo.
func WithSchemaCache(c *schema.Cache) Option {
	return func(o *Orchestrator) {
		if c != nil {
			o.schemas = c
		}
	}
}

// WithTracerProvider overrides the global tracer provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *Orchestrator) {
		if tp != nil {
			o.tracer = tp.Tracer(instrumentationName)
		}
	}
}

// WithSleep replaces the backoff wait. fn must return a non-nil error when
// ctx ends before d elapses.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(o *Orchestrator) {
		if fn != nil {
			o.sleep = fn
		}
	}
}

// Orchestrator drives conversion requests through the retry state machine.
// It holds no per-request state and is safe for concurrent use.
type Orchestrator struct {
	provider  llm.Provider
	limiter   *ratelimit.Limiter
	observers MultiObserver
	cache     ResultCache
	schemas   *schema.Cache
	logger    *zap.Logger
	tracer    trace.Tracer
	sleep     func(ctx context.Context, d time.Duration) error
	newID     func() string
}

// New creates an Orchestrator. A nil provider is a configuration error.
func New(provider llm.Provider, opts ...Option) (*Orchestrator, error) {
	if provider == nil {
		return nil, types.NewConfigError("provider is required")
	}
	o := &Orchestrator{
		provider: provider,
		schemas:  schema.NewCache(),
		logger:   zap.NewNop(),
		tracer:   otel.Tracer(instrumentationName),
		sleep:    retry.Wait,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.With(zap.String("component", "orchestrator"), zap.String("provider", provider.Name()))
	return o, nil
}

// Schemas returns the descriptor cache used by ConvertTo.
func (o *Orchestrator) Schemas() *schema.Cache { return o.schemas }

// request is the state owned by a single Convert call.
type request struct {
	id      string
	seed    string
	desc    *schema.Descriptor
	chain   *validation.Chain
	policy  Policy
	engine  *recovery.Engine
	conv    *convert.Converter
	backoff *retry.Backoff
	sm      *machine
	result  *RecoveryResult

	// last parsed value and its failing fields, kept for partial recovery.
	lastValue map[string]any
	pending   []string
}

// Convert runs one request: prompt the provider with seed plus format
// instructions for desc, convert and validate the answer, and retry with
// modified prompts until success, exhaustion or cancellation.
//
// The returned error is non-nil only for misconfiguration (nil descriptor,
// invalid policy). Conversion failures are reported through the result's
// Outcome and Err.
func (o *Orchestrator) Convert(ctx context.Context, seed string, desc *schema.Descriptor, chain *validation.Chain, policy Policy) (*RecoveryResult, error) {
	if desc == nil {
		return nil, types.NewSchemaError("descriptor is required")
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	policy = policy.withDefaults()
	if chain == nil {
		chain = validation.NewChain(validation.WithLogger(o.logger))
	}

	start := time.Now()
	r := &request{
		id:      o.newID(),
		seed:    seed,
		desc:    desc,
		chain:   chain,
		policy:  policy,
		engine:  recovery.New(policy.Defaults, policy.AllowTypeCoercion),
		conv:    convert.New(false),
		backoff: retry.NewBackoff(policy.InitialBackoff, policy.MaxBackoff),
		sm:      newMachine(),
	}
	r.result = &RecoveryResult{RequestID: r.id, Schema: desc.Name()}

	ctx, span := o.tracer.Start(ctx, "structconv.convert", trace.WithAttributes(
		attribute.String("structconv.request_id", r.id),
		attribute.String("structconv.schema", desc.Name()),
		attribute.Int("structconv.max_attempts", policy.MaxAttempts),
	))
	defer span.End()
	ctx = ctxkeys.WithSchema(ctxkeys.WithRequestID(ctx, r.id), desc.Name())

	if policy.RequestDeadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, policy.RequestDeadline)
		defer cancel()
	}

	if !o.fromCache(ctx, r) {
		o.run(ctx, r)
	}

	res := r.result
	res.State = r.sm.state
	res.Transitions = r.sm.log
	res.Latency = time.Since(start)
	if res.Err != nil {
		res.Err.Attempts = res.Attempts
	}

	span.SetAttributes(
		attribute.String("structconv.outcome", string(res.Outcome)),
		attribute.Int("structconv.attempts", len(res.Attempts)),
	)
	if res.Err != nil {
		span.SetStatus(codes.Error, string(res.Err.Code))
	}

	o.store(ctx, r)
	o.emit(ctx, res)
	return res, nil
}

// run drives the state machine until a terminal state.
func (o *Orchestrator) run(ctx context.Context, r *request) {
	var feedback []string
	for n := 0; n < r.policy.MaxAttempts; n++ {
		variant := r.policy.variant(n)
		prompt := r.seed + "\n\n" + schema.Instructions(r.desc, variant, feedback)
		att := o.attempt(ctx, r, n+1, variant, prompt)
		r.result.Attempts = append(r.result.Attempts, att.ConversionAttempt)

		switch att.Outcome {
		case AttemptSuccess:
			r.sm.move(StateSucceeded, att.Number, "no hard issues")
			o.succeed(r, att)
			return
		case AttemptCancelled:
			o.exhaustOnContext(ctx, r, att.Number)
			return
		case AttemptProviderError:
			if !att.ProviderErr.Kind.Retryable() {
				r.sm.move(StateExhausted, att.Number, string(att.ProviderErr.Kind)+" provider error")
				o.fail(r, types.ErrProviderFailed, "provider failed with non-retryable error", att.ProviderErr)
				return
			}
		default:
			feedback = validation.Feedback(att.Issues)
		}

		if n+1 >= r.policy.MaxAttempts {
			break
		}

		delay := r.backoff.Delay(n)
		reason := string(att.Outcome)
		if att.ProviderErr != nil {
			reason = string(att.ProviderErr.Kind) + " provider error"
			if hint := att.ProviderErr.RetryAfter; hint > delay {
				delay = hint
			}
		}
		r.sm.move(StateRetryingWithModifiedPrompt, att.Number, reason)
		o.logger.Debug("retrying conversion",
			zap.String("request_id", r.id),
			zap.Int("attempt", att.Number),
			zap.String("reason", reason),
			zap.Duration("delay", delay),
			zap.String("next_variant", string(r.policy.variant(n+1))),
		)
		if err := o.sleep(ctx, delay); err != nil {
			o.exhaustOnContext(ctx, r, att.Number)
			return
		}
		r.sm.move(StateAttempting, att.Number+1, "backoff elapsed")
	}

	attempts := len(r.result.Attempts)
	if r.policy.ReRequestFailingFields && o.reRequest(ctx, r, attempts) {
		return
	}
	if ctx.Err() != nil {
		o.exhaustOnContext(ctx, r, len(r.result.Attempts))
		return
	}

	last := r.result.Attempts[attempts-1]
	r.sm.move(StateExhausted, attempts, "attempt budget spent")
	var cause error
	if last.ProviderErr != nil {
		cause = last.ProviderErr
	}
	o.fail(r, types.ErrConversionExhausted, fmt.Sprintf("no valid answer within %d attempts", attempts), cause)
}

// attemptResult carries the attempt record plus the value and recovery
// details needed to finish a successful request.
type attemptResult struct {
	ConversionAttempt
	value    map[string]any
	recovery recovery.Outcome
}

// attempt performs one model call and evaluates the answer.
func (o *Orchestrator) attempt(ctx context.Context, r *request, number int, variant schema.Variant, prompt string) (att attemptResult) {
	ctx, span := o.tracer.Start(ctx, "structconv.attempt", trace.WithAttributes(
		attribute.Int("structconv.attempt", number),
		attribute.String("structconv.variant", string(variant)),
	))
	defer span.End()

	start := time.Now()
	att = attemptResult{ConversionAttempt: ConversionAttempt{Number: number, Variant: variant, Prompt: prompt}}
	defer func() {
		att.Latency = time.Since(start)
		span.SetAttributes(attribute.String("structconv.attempt.outcome", string(att.Outcome)))
	}()

	raw, err := o.call(ctxkeys.WithAttempt(ctx, number), prompt, r.policy.AttemptTimeout)
	if err != nil {
		if ctx.Err() != nil {
			att.Outcome = AttemptCancelled
			return att
		}
		att.Outcome = AttemptProviderError
		att.ProviderErr = classify(err, o.provider.Name())
		span.RecordError(err)
		o.logger.Debug("provider call failed",
			zap.String("request_id", r.id),
			zap.Int("attempt", number),
			zap.String("kind", string(att.ProviderErr.Kind)),
			zap.String("code", att.ProviderErr.Code),
		)
		return att
	}
	att.Raw = raw

	conv := r.conv.Convert(raw, r.desc)
	if !conv.OK() {
		att.Outcome = AttemptParseFailure
		att.ParseFailure = conv.Failure
		att.Issues = []validation.Issue{validation.ParseIssue(conv.Failure.Error())}
		return att
	}

	vc := &validation.Context{Descriptor: r.desc, Attempt: number}
	report := r.chain.ValidateWith(ctx, conv.Value, vc)
	value := conv.Value

	rec := r.engine.Apply(value, report.Issues, r.desc)
	if rec.Changed {
		value = rec.Value
		report = r.chain.ValidateWith(ctx, value, vc)
	}

	att.Issues = report.Issues
	r.lastValue, r.pending = value, pendingOf(report.Issues)
	if ctx.Err() != nil {
		att.Outcome = AttemptCancelled
		return att
	}
	if report.HasHard() {
		att.Outcome = AttemptValidationFailure
		return att
	}
	att.Outcome = AttemptSuccess
	att.value = value
	att.recovery = rec
	return att
}

// call acquires the shared limiter and calls the provider under the
// per-attempt timeout.
func (o *Orchestrator) call(ctx context.Context, prompt string, timeout time.Duration) (string, error) {
	release, err := o.limiter.Acquire(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		// the limiter refused because the next token lies beyond the deadline
		pe := llm.RateLimited(err.Error(), 0)
		pe.Provider = o.provider.Name()
		pe.Cause = err
		return "", pe
	}
	defer release()

	callCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	raw, err := o.provider.Call(callCtx, prompt)
	if err == nil {
		return raw, nil
	}
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	if _, ok := llm.AsProviderError(err); !ok && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		e := llm.Transient(llm.CodeUpstreamTimeout, fmt.Sprintf("attempt timed out after %s", timeout))
		e.Cause = err
		return "", e
	}
	return "", err
}

// classify turns any provider error into a *llm.ProviderError. Errors the
// adapter did not classify are fatal.
func classify(err error, provider string) *llm.ProviderError {
	if pe, ok := llm.AsProviderError(err); ok {
		return pe
	}
	pe := llm.Fatal(CodeUnclassified, "provider returned an unclassified error")
	pe.Provider = provider
	pe.Cause = err
	return pe
}

func (o *Orchestrator) succeed(r *request, att attemptResult) {
	res := r.result
	res.Value = att.value
	res.Issues = att.Issues
	res.AppliedDefaults = att.recovery.AppliedDefaults
	res.Coerced = att.recovery.Coerced
	switch {
	case att.recovery.Changed:
		res.Outcome = OutcomeRecoveredPartial
	case att.Number > 1:
		res.Outcome = OutcomeRetried
	default:
		res.Outcome = OutcomeSuccess
	}
}

func (o *Orchestrator) fail(r *request, code types.ErrorCode, msg string, cause error) {
	res := r.result
	res.Outcome = OutcomeExhausted
	res.Value = r.lastValue
	res.Pending = r.pending
	// provider 错误的尝试没有 issues，取最近一次有 issues 的尝试
	for i := len(res.Attempts) - 1; i >= 0; i-- {
		if len(res.Attempts[i].Issues) > 0 {
			res.Issues = res.Attempts[i].Issues
			break
		}
	}
	res.Err = &FailureError{Code: code, Message: msg, Issues: res.Issues, Cause: cause}
}

// exhaustOnContext ends the request because its context is done, whether by
// caller cancellation or the overall deadline.
func (o *Orchestrator) exhaustOnContext(ctx context.Context, r *request, attempt int) {
	err := ctx.Err()
	code, reason := types.ErrRequestCancelled, "request cancelled"
	if errors.Is(err, context.DeadlineExceeded) {
		code, reason = types.ErrDeadlineExceeded, "request deadline exceeded"
	}
	r.sm.move(StateExhausted, attempt, reason)
	o.fail(r, code, reason, err)
}

// reRequest asks the provider once more for only the fields still failing
// and merges the answer into the last value. It reports whether the request
// succeeded that way.
func (o *Orchestrator) reRequest(ctx context.Context, r *request, attempts int) bool {
	if r.lastValue == nil || len(r.pending) == 0 || ctx.Err() != nil {
		return false
	}
	sub, err := r.desc.Subset(r.pending...)
	if err != nil {
		o.logger.Debug("cannot build re-request schema", zap.String("request_id", r.id), zap.Error(err))
		return false
	}

	start := time.Now()
	prompt := recovery.SimplifiedPrompt(r.seed, r.desc, r.pending)
	att := ConversionAttempt{Number: attempts + 1, Variant: schema.VariantSimplify, Prompt: prompt, Fields: r.pending}
	defer func() {
		att.Latency = time.Since(start)
		r.result.Attempts = append(r.result.Attempts, att)
	}()

	raw, err := o.call(ctxkeys.WithAttempt(ctx, att.Number), prompt, r.policy.AttemptTimeout)
	if err != nil {
		if ctx.Err() != nil {
			att.Outcome = AttemptCancelled
			return false
		}
		att.Outcome = AttemptProviderError
		att.ProviderErr = classify(err, o.provider.Name())
		return false
	}
	att.Raw = raw

	conv := r.conv.Convert(raw, sub)
	if !conv.OK() {
		att.Outcome = AttemptParseFailure
		att.ParseFailure = conv.Failure
		att.Issues = []validation.Issue{validation.ParseIssue(conv.Failure.Error())}
		return false
	}

	merged, fields := recovery.Merge(r.lastValue, conv.Value, r.pending)
	vc := &validation.Context{Descriptor: r.desc, Attempt: att.Number}
	report := r.chain.ValidateWith(ctx, merged, vc)
	rec := r.engine.Apply(merged, report.Issues, r.desc)
	if rec.Changed {
		merged = rec.Value
		report = r.chain.ValidateWith(ctx, merged, vc)
	}
	att.Issues = report.Issues
	r.lastValue, r.pending = merged, pendingOf(report.Issues)
	if ctx.Err() != nil {
		att.Outcome = AttemptCancelled
		return false
	}
	if report.HasHard() {
		att.Outcome = AttemptValidationFailure
		return false
	}

	att.Outcome = AttemptSuccess
	r.sm.move(StateSucceeded, att.Number, "failing fields re-requested")
	res := r.result
	res.Outcome = OutcomeRecoveredPartial
	res.Value = merged
	res.Issues = report.Issues
	res.AppliedDefaults = rec.AppliedDefaults
	res.Coerced = rec.Coerced
	res.ReRequested = fields
	return true
}

// fromCache answers the request from the result cache. A cached value is
// re-validated with the request's chain before it is trusted.
func (o *Orchestrator) fromCache(ctx context.Context, r *request) bool {
	if o.cache == nil {
		return false
	}
	key := CacheKey(r.desc, r.seed)
	value, ok, err := o.cache.Get(ctx, key)
	if err != nil {
		o.logger.Warn("result cache lookup failed", zap.String("request_id", r.id), zap.Error(err))
		return false
	}
	if !ok {
		return false
	}
	report := r.chain.ValidateWith(ctx, value, &validation.Context{Descriptor: r.desc})
	if report.HasHard() {
		o.logger.Debug("cached value no longer validates", zap.String("request_id", r.id))
		return false
	}
	r.sm.move(StateSucceeded, 0, "result cache hit")
	r.result.Outcome = OutcomeSuccess
	r.result.Value = value
	r.result.Issues = report.Issues
	r.result.Cached = true
	return true
}

// store caches plain model answers. Values shaped by defaults, coercion or
// a re-request depend on the policy and are not cached.
func (o *Orchestrator) store(ctx context.Context, r *request) {
	res := r.result
	if o.cache == nil || res.Cached || (res.Outcome != OutcomeSuccess && res.Outcome != OutcomeRetried) {
		return
	}
	if err := o.cache.Set(context.WithoutCancel(ctx), CacheKey(r.desc, r.seed), res.Value); err != nil {
		o.logger.Warn("result cache store failed", zap.String("request_id", r.id), zap.Error(err))
	}
}

func (o *Orchestrator) emit(ctx context.Context, res *RecoveryResult) {
	if len(o.observers) == 0 {
		return
	}

	hard, soft := 0, 0
	for _, is := range res.Issues {
		if is.IsHard() {
			hard++
		} else {
			soft++
		}
	}
	ev := Event{
		RequestID:    res.RequestID,
		Schema:       res.Schema,
		Outcome:      res.Outcome,
		Attempts:     len(res.Attempts),
		Latency:      res.Latency,
		IssueSummary: validation.Summarize(res.Issues),
		HardIssues:   hard,
		SoftIssues:   soft,
		Cached:       res.Cached,
		Result:       res,
	}
	if res.Err != nil {
		ev.ErrorCode = res.Err.Code
		var pe *llm.ProviderError
		if errors.As(res.Err.Cause, &pe) {
			ev.ProviderKind = pe.Kind
		}
	}
	o.observers.OnOutcome(context.WithoutCancel(ctx), ev)
}

func pendingOf(issues []validation.Issue) []string {
	seen := make(map[string]bool)
	var out []string
	for _, is := range issues {
		if !is.IsHard() || is.Field == "" {
			continue
		}
		f := topLevelField(is.Field)
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	return out
}

func topLevelField(path string) string {
	for i, c := range path {
		if c == '.' || c == '[' {
			return path[:i]
		}
	}
	return path
}
