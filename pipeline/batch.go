package pipeline

import (
	"context"
	"reflect"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/iWaraxe/L3StructuredOutput-sub000/schema"
	"github.com/iWaraxe/L3StructuredOutput-sub000/types"
	"github.com/iWaraxe/L3StructuredOutput-sub000/validation"
)

// DefaultBatchConcurrency bounds ConvertBatch when no limit is given.
const DefaultBatchConcurrency = 8

// ConvertTo converts seed into a T. The descriptor for T comes from the
// orchestrator's schema cache, so reflection runs once per type. err is
// either a setup error or the result's *FailureError.
func ConvertTo[T any](ctx context.Context, o *Orchestrator, seed string, chain *validation.Chain, policy Policy) (T, *RecoveryResult, error) {
	var zero T
	desc, err := o.schemas.Get(reflect.TypeFor[T]())
	if err != nil {
		return zero, nil, err
	}
	res, err := o.Convert(ctx, seed, desc, chain, policy)
	if err != nil {
		return zero, nil, err
	}
	if !res.OK() {
		return zero, res, res.Err
	}
	var out T
	if err := res.Decode(&out); err != nil {
		return zero, res, types.NewSchemaError("decode into %T", out).WithCause(err)
	}
	return out, res, nil
}

// Request is one entry of a batch.
type Request struct {
	// Label identifies the entry in logs.
	Label      string
	Seed       string
	Descriptor *schema.Descriptor
	Chain      *validation.Chain
	Policy     Policy
}

// ConvertBatch runs independent requests with at most concurrency in
// flight. Results are returned in input order. Every request is checked
// before any runs, so a misconfigured entry fails the whole batch up front.
// Requests share nothing but the orchestrator's collaborators.
func (o *Orchestrator) ConvertBatch(ctx context.Context, reqs []Request, concurrency int) ([]*RecoveryResult, error) {
	for i, req := range reqs {
		if req.Descriptor == nil {
			return nil, types.NewSchemaError("batch entry %d (%s): descriptor is required", i, req.Label)
		}
		if err := req.Policy.Validate(); err != nil {
			return nil, types.NewConfigError("batch entry %d (%s)", i, req.Label).WithCause(err)
		}
	}
	if concurrency <= 0 {
		concurrency = DefaultBatchConcurrency
	}

	results := make([]*RecoveryResult, len(reqs))
	var g errgroup.Group
	g.SetLimit(concurrency)
	for i, req := range reqs {
		g.Go(func() error {
			res, err := o.Convert(ctx, req.Seed, req.Descriptor, req.Chain, req.Policy)
			if err != nil {
				return err
			}
			results[i] = res
			o.logger.Debug("batch entry finished",
				zap.Int("index", i),
				zap.String("label", req.Label),
				zap.String("outcome", string(res.Outcome)),
			)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}

// BatchSummary counts outcomes of a batch.
type BatchSummary struct {
	Total    int             `json:"total"`
	Outcomes map[Outcome]int `json:"outcomes"`
	Failed   int             `json:"failed"`
}

// Summarize counts results by outcome. Nil entries are skipped.
func Summarize(results []*RecoveryResult) BatchSummary {
	s := BatchSummary{Outcomes: make(map[Outcome]int)}
	for _, r := range results {
		if r == nil {
			continue
		}
		s.Total++
		s.Outcomes[r.Outcome]++
		if !r.OK() {
			s.Failed++
		}
	}
	return s
}
