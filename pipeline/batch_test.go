package pipeline

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iWaraxe/L3StructuredOutput-sub000/testutil"
	"github.com/iWaraxe/L3StructuredOutput-sub000/testutil/fixtures"
	"github.com/iWaraxe/L3StructuredOutput-sub000/testutil/mocks"
	"github.com/iWaraxe/L3StructuredOutput-sub000/types"
)

func TestConvertTo(t *testing.T) {
	p := mocks.NewScriptedProvider("mock").Respond(fixtures.JaneDoe, fixtures.JaneDoe)
	o, _ := newTestOrchestrator(t, p)
	ctx := testutil.TestContext(t)

	person, res, err := ConvertTo[fixtures.Person](ctx, o, seed, nil, DefaultPolicy())
	require.NoError(t, err)
	assert.Equal(t, fixtures.Person{Name: "Jane Doe", Age: 30, Email: "jane@example.com"}, person)
	assert.Equal(t, OutcomeSuccess, res.Outcome)

	_, _, err = ConvertTo[fixtures.Person](ctx, o, seed, nil, DefaultPolicy())
	require.NoError(t, err)
	assert.Equal(t, 1, o.Schemas().Len())
	assert.Equal(t, int64(1), o.Schemas().Generated())
}

func TestConvertTo_Failure(t *testing.T) {
	p := mocks.NewScriptedProvider("mock").Always(mocks.Step{Raw: fixtures.MissingAge})
	o, _ := newTestOrchestrator(t, p)

	person, res, err := ConvertTo[fixtures.Person](testutil.TestContext(t), o, seed, nil, Policy{MaxAttempts: 2})
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrConversionExhausted))
	assert.Zero(t, person)
	require.NotNil(t, res)
	assert.Len(t, res.Attempts, 2)
}

func TestConvertTo_NonStruct(t *testing.T) {
	o, _ := newTestOrchestrator(t, mocks.NewScriptedProvider("mock"))
	_, res, err := ConvertTo[int](testutil.TestContext(t), o, seed, nil, DefaultPolicy())
	require.Error(t, err)
	assert.Nil(t, res)
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidSchema))
}

func TestConvertBatch(t *testing.T) {
	p := mocks.NewScriptedProvider("mock").Always(mocks.Step{Raw: fixtures.JaneDoe, Delay: 10 * time.Millisecond})
	o, _ := newTestOrchestrator(t, p)

	reqs := make([]Request, 12)
	for i := range reqs {
		reqs[i] = Request{
			Label:      fmt.Sprintf("doc-%02d", i),
			Seed:       fmt.Sprintf("document %d", i),
			Descriptor: fixtures.PersonDescriptor(),
			Policy:     DefaultPolicy(),
		}
	}

	results, err := o.ConvertBatch(testutil.TestContext(t), reqs, 3)
	require.NoError(t, err)
	require.Len(t, results, 12)
	for i, res := range results {
		require.NotNil(t, res, "entry %d", i)
		assert.True(t, res.OK())
	}
	assert.LessOrEqual(t, p.PeakConcurrency(), 3)
	assert.Equal(t, 12, p.Calls())

	sum := Summarize(results)
	assert.Equal(t, 12, sum.Total)
	assert.Equal(t, 12, sum.Outcomes[OutcomeSuccess])
	assert.Zero(t, sum.Failed)
}

func TestConvertBatch_ResultsInInputOrder(t *testing.T) {
	p := mocks.NewScriptedProvider("mock").
		Then(mocks.Step{Raw: `{"name":"slow","age":1}`, Delay: 40 * time.Millisecond}).
		Then(mocks.Step{Raw: `{"name":"fast","age":2}`})
	o, _ := newTestOrchestrator(t, p)

	reqs := []Request{
		{Label: "first", Seed: "a", Descriptor: fixtures.PersonDescriptor()},
		{Label: "second", Seed: "b", Descriptor: fixtures.PersonDescriptor()},
	}
	results, err := o.ConvertBatch(testutil.TestContext(t), reqs, 1)
	require.NoError(t, err)
	assert.Equal(t, "slow", results[0].Value["name"])
	assert.Equal(t, "fast", results[1].Value["name"])
}

func TestConvertBatch_RejectsInvalidEntryUpFront(t *testing.T) {
	p := mocks.NewScriptedProvider("mock").Always(mocks.Step{Raw: fixtures.JaneDoe})
	o, _ := newTestOrchestrator(t, p)

	reqs := []Request{
		{Label: "ok", Seed: "a", Descriptor: fixtures.PersonDescriptor()},
		{Label: "broken", Seed: "b"},
	}
	_, err := o.ConvertBatch(testutil.TestContext(t), reqs, 0)
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidSchema))
	assert.Zero(t, p.Calls())

	reqs[1] = Request{Label: "bad-policy", Seed: "b", Descriptor: fixtures.PersonDescriptor(), Policy: Policy{MaxAttempts: -1}}
	_, err = o.ConvertBatch(testutil.TestContext(t), reqs, 0)
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidConfig))
	assert.Zero(t, p.Calls())
}

func TestConvertBatch_MixedOutcomes(t *testing.T) {
	good := mocks.NewScriptedProvider("mock").Always(mocks.Step{Raw: fixtures.JaneDoe})
	o, _ := newTestOrchestrator(t, good)

	sentiment := fixtures.SentimentDescriptor()
	reqs := []Request{
		{Label: "person", Seed: "a", Descriptor: fixtures.PersonDescriptor()},
		{Label: "sentiment", Seed: "b", Descriptor: sentiment, Policy: Policy{MaxAttempts: 1}},
	}
	results, err := o.ConvertBatch(context.Background(), reqs, 2)
	require.NoError(t, err)

	sum := Summarize(results)
	assert.Equal(t, 2, sum.Total)
	assert.Equal(t, 1, sum.Failed)
	assert.Equal(t, 1, sum.Outcomes[OutcomeExhausted])
	assert.Equal(t, 1, sum.Outcomes[OutcomeSuccess])
}

func TestSummarize_SkipsNil(t *testing.T) {
	sum := Summarize([]*RecoveryResult{nil, {Outcome: OutcomeRetried}})
	assert.Equal(t, 1, sum.Total)
	assert.Equal(t, 1, sum.Outcomes[OutcomeRetried])
}
