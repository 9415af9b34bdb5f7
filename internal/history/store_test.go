package history

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/iWaraxe/L3StructuredOutput-sub000/llm"
	"github.com/iWaraxe/L3StructuredOutput-sub000/pipeline"
	"github.com/iWaraxe/L3StructuredOutput-sub000/testutil"
	"github.com/iWaraxe/L3StructuredOutput-sub000/testutil/fixtures"
	"github.com/iWaraxe/L3StructuredOutput-sub000/testutil/mocks"
	"github.com/iWaraxe/L3StructuredOutput-sub000/types"
	"github.com/iWaraxe/L3StructuredOutput-sub000/validation"
)

// =============================================================================
// 🧪 测试辅助
// =============================================================================

func setupTestStore(t *testing.T) *Store {
	t.Helper()

	db, err := Open("sqlite", filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)

	config := DefaultPoolConfig()
	config.MaxOpenConns = 1

	store, err := NewStore(db, config, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	return store
}

func noSleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

// convertWith 运行一次转换并由 store 记录
func convertWith(t *testing.T, store *Store, provider llm.Provider, desc string) *pipeline.RecoveryResult {
	t.Helper()

	orch, err := pipeline.New(provider, pipeline.WithObserver(store), pipeline.WithSleep(noSleep))
	require.NoError(t, err)

	res, err := orch.Convert(context.Background(), desc, fixtures.PersonDescriptor(), nil, pipeline.DefaultPolicy())
	require.NoError(t, err)
	return res
}

// =============================================================================
// 🧪 打开与迁移
// =============================================================================

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := Open("oracle", "whatever")
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidConfig))
	assert.Contains(t, err.Error(), "oracle")
}

func TestNewStore_NilDB(t *testing.T) {
	_, err := NewStore(nil, DefaultPoolConfig(), nil)
	assert.Error(t, err)
}

func TestNewStore_CreatesTables(t *testing.T) {
	store := setupTestStore(t)

	assert.True(t, store.db.Migrator().HasTable(&OutcomeRecord{}))
	assert.True(t, store.db.Migrator().HasTable(&AttemptRecord{}))
	assert.True(t, store.db.Migrator().HasColumn(&OutcomeRecord{}, "schema_name"))
	assert.NoError(t, store.Ping(context.Background()))
}

// =============================================================================
// 🧪 记录终态
// =============================================================================

func TestStore_RecordsSuccess(t *testing.T) {
	store := setupTestStore(t)
	provider := mocks.NewScriptedProvider("mock").Respond(fixtures.JaneDoe)

	res := convertWith(t, store, provider, "Jane Doe, 30")
	require.True(t, res.OK())

	rec, err := store.ByRequestID(context.Background(), res.RequestID)
	require.NoError(t, err)

	assert.Equal(t, "Person", rec.Schema)
	assert.Equal(t, string(pipeline.OutcomeSuccess), rec.Outcome)
	assert.Equal(t, string(pipeline.StateSucceeded), rec.State)
	assert.Equal(t, 1, rec.Attempts)
	assert.Empty(t, rec.ErrorCode)

	value, err := rec.Value()
	require.NoError(t, err)
	assert.Equal(t, "Jane Doe", value["name"])
	assert.Equal(t, float64(30), value["age"])

	require.Len(t, rec.AttemptRows, 1)
	row := rec.AttemptRows[0]
	assert.Equal(t, 1, row.Number)
	assert.Equal(t, string(pipeline.AttemptSuccess), row.Outcome)
	assert.Equal(t, fixtures.JaneDoe, row.Raw)
	assert.NotEmpty(t, row.Prompt)
	assert.NotEmpty(t, row.Variant)
}

func TestStore_RecordsExhaustion(t *testing.T) {
	store := setupTestStore(t)
	provider := mocks.NewScriptedProvider("mock").Always(mocks.Step{Raw: fixtures.MissingAge})

	res := convertWith(t, store, provider, "Jane Doe")
	require.False(t, res.OK())

	rec, err := store.ByRequestID(context.Background(), res.RequestID)
	require.NoError(t, err)

	assert.Equal(t, string(pipeline.OutcomeExhausted), rec.Outcome)
	assert.Equal(t, string(types.ErrConversionExhausted), rec.ErrorCode)
	assert.Equal(t, 3, rec.Attempts)
	assert.Equal(t, 1, rec.HardIssues)
	assert.NotEmpty(t, rec.IssueSummary)

	pending, err := rec.Pending()
	require.NoError(t, err)
	assert.Equal(t, []string{"age"}, pending)

	issues, err := rec.Issues()
	require.NoError(t, err)
	testutil.AssertHardIssue(t, issues, "age", validation.CodeMissingRequired)

	require.Len(t, rec.AttemptRows, 3)
	for i, row := range rec.AttemptRows {
		assert.Equal(t, i+1, row.Number)
		assert.Equal(t, string(pipeline.AttemptValidationFailure), row.Outcome)

		rowIssues, err := row.Issues()
		require.NoError(t, err)
		testutil.AssertHardIssue(t, rowIssues, "age", validation.CodeMissingRequired)
	}
}

func TestStore_RecordsProviderError(t *testing.T) {
	store := setupTestStore(t)
	provider := mocks.NewScriptedProvider("mock").Fail(fixtures.InvalidKey())

	res := convertWith(t, store, provider, "Jane Doe")
	require.False(t, res.OK())

	rec, err := store.ByRequestID(context.Background(), res.RequestID)
	require.NoError(t, err)

	assert.Equal(t, string(types.ErrProviderFailed), rec.ErrorCode)
	assert.Equal(t, string(llm.KindFatal), rec.ProviderKind)

	require.Len(t, rec.AttemptRows, 1)
	row := rec.AttemptRows[0]
	assert.Equal(t, string(pipeline.AttemptProviderError), row.Outcome)
	assert.Equal(t, string(llm.KindFatal), row.ProviderKind)
	assert.Equal(t, llm.CodeUnauthorized, row.ProviderCode)
	assert.NotEmpty(t, row.ProviderError)
}

func TestStore_RecordsParseFailure(t *testing.T) {
	store := setupTestStore(t)
	provider := mocks.NewScriptedProvider("mock").Respond(fixtures.NotJSON, fixtures.JaneDoe)

	res := convertWith(t, store, provider, "Jane Doe, 30")
	require.True(t, res.OK())

	rec, err := store.ByRequestID(context.Background(), res.RequestID)
	require.NoError(t, err)

	assert.Equal(t, string(pipeline.OutcomeRetried), rec.Outcome)
	require.Len(t, rec.AttemptRows, 2)
	assert.Equal(t, string(pipeline.AttemptParseFailure), rec.AttemptRows[0].Outcome)
	assert.NotEmpty(t, rec.AttemptRows[0].ParseReason)
	assert.Empty(t, rec.AttemptRows[1].ParseReason)
}

func TestStore_RecordWithoutResult(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Record(ctx, pipeline.Event{
		RequestID: "bare",
		Schema:    "Person",
		Outcome:   pipeline.OutcomeSuccess,
		Attempts:  1,
		Cached:    true,
	}))

	rec, err := store.ByRequestID(ctx, "bare")
	require.NoError(t, err)
	assert.True(t, rec.Cached)
	assert.Empty(t, rec.AttemptRows)

	value, err := rec.Value()
	require.NoError(t, err)
	assert.Nil(t, value)
}

func TestStore_RecordsWithCancelledContext(t *testing.T) {
	store := setupTestStore(t)

	require.NoError(t, store.Record(testutil.CancelledContext(), pipeline.Event{
		RequestID: "cancelled",
		Schema:    "Person",
		Outcome:   pipeline.OutcomeExhausted,
		ErrorCode: types.ErrRequestCancelled,
	}))

	rec, err := store.ByRequestID(context.Background(), "cancelled")
	require.NoError(t, err)
	assert.Equal(t, string(types.ErrRequestCancelled), rec.ErrorCode)
}

func TestStore_DuplicateRequestIDRejected(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	ev := pipeline.Event{RequestID: "dup", Schema: "Person", Outcome: pipeline.OutcomeSuccess}

	require.NoError(t, store.Record(ctx, ev))
	err := store.Record(ctx, ev)
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrHistoryUnavailable))
}

// =============================================================================
// 🧪 查询
// =============================================================================

func TestStore_ByRequestIDNotFound(t *testing.T) {
	store := setupTestStore(t)

	_, err := store.ByRequestID(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func seedOutcomes(t *testing.T, store *Store, base time.Time) {
	t.Helper()
	ctx := context.Background()

	seed := []struct {
		id      string
		schema  string
		outcome pipeline.Outcome
		age     time.Duration
	}{
		{"r1", "Person", pipeline.OutcomeSuccess, 5 * time.Hour},
		{"r2", "Person", pipeline.OutcomeRetried, 4 * time.Hour},
		{"r3", "Sentiment", pipeline.OutcomeSuccess, 3 * time.Hour},
		{"r4", "Person", pipeline.OutcomeExhausted, 2 * time.Hour},
		{"r5", "Person", pipeline.OutcomeSuccess, time.Hour},
	}
	for _, s := range seed {
		at := base.Add(-s.age)
		store.now = func() time.Time { return at }
		require.NoError(t, store.Record(ctx, pipeline.Event{RequestID: s.id, Schema: s.schema, Outcome: s.outcome}))
	}
	store.now = time.Now
}

func TestStore_Recent(t *testing.T) {
	store := setupTestStore(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	seedOutcomes(t, store, base)
	ctx := context.Background()

	tests := []struct {
		name  string
		query Query
		want  []string
	}{
		{"all newest first", Query{}, []string{"r5", "r4", "r3", "r2", "r1"}},
		{"limit", Query{Limit: 2}, []string{"r5", "r4"}},
		{"by schema", Query{Schema: "Sentiment"}, []string{"r3"}},
		{"by outcome", Query{Outcome: pipeline.OutcomeSuccess}, []string{"r5", "r3", "r1"}},
		{"schema and outcome", Query{Schema: "Person", Outcome: pipeline.OutcomeSuccess}, []string{"r5", "r1"}},
		{"since", Query{Since: base.Add(-150 * time.Minute)}, []string{"r5", "r4"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recs, err := store.Recent(ctx, tt.query)
			require.NoError(t, err)

			ids := make([]string, len(recs))
			for i, r := range recs {
				ids[i] = r.RequestID
			}
			assert.Equal(t, tt.want, ids)
		})
	}
}

func TestStore_CountByOutcome(t *testing.T) {
	store := setupTestStore(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	seedOutcomes(t, store, base)
	ctx := context.Background()

	counts, err := store.CountByOutcome(ctx, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, map[pipeline.Outcome]int64{
		pipeline.OutcomeSuccess:   3,
		pipeline.OutcomeRetried:   1,
		pipeline.OutcomeExhausted: 1,
	}, counts)

	recent, err := store.CountByOutcome(ctx, base.Add(-150*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, map[pipeline.Outcome]int64{
		pipeline.OutcomeSuccess:   1,
		pipeline.OutcomeExhausted: 1,
	}, recent)
}

func TestStore_Prune(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	old := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return old }
	provider := mocks.NewScriptedProvider("mock").Always(mocks.Step{Raw: fixtures.MissingAge})
	stale := convertWith(t, store, provider, "Jane Doe")

	store.now = func() time.Time { return old.Add(48 * time.Hour) }
	fresh := convertWith(t, store, mocks.NewScriptedProvider("mock").Respond(fixtures.JaneDoe), "Jane Doe, 30")

	deleted, err := store.Prune(ctx, old.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	_, err = store.ByRequestID(ctx, stale.RequestID)
	assert.ErrorIs(t, err, ErrNotFound)

	var orphans int64
	require.NoError(t, store.db.Model(&AttemptRecord{}).Count(&orphans).Error)
	assert.Equal(t, int64(1), orphans)

	_, err = store.ByRequestID(ctx, fresh.RequestID)
	assert.NoError(t, err)
}

// =============================================================================
// 🧪 生命周期与并发
// =============================================================================

func TestStore_Closed(t *testing.T) {
	store := setupTestStore(t)
	require.NoError(t, store.Close())
	require.NoError(t, store.Close())

	ctx := context.Background()
	assert.ErrorIs(t, store.Ping(ctx), ErrClosed)
	assert.ErrorIs(t, store.Record(ctx, pipeline.Event{RequestID: "x"}), ErrClosed)
	_, err := store.ByRequestID(ctx, "x")
	assert.ErrorIs(t, err, ErrClosed)
	_, err = store.Recent(ctx, Query{})
	assert.ErrorIs(t, err, ErrClosed)
	_, err = store.Prune(ctx, time.Now())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestStore_OnOutcomeLogsFailures(t *testing.T) {
	db, err := Open("sqlite", filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)

	logger, logs := testutil.ObservedLogger(zap.NewAtomicLevelAt(zapcore.DebugLevel))
	store, err := NewStore(db, DefaultPoolConfig(), logger)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	store.OnOutcome(context.Background(), pipeline.Event{RequestID: "lost"})

	entries := logs.FilterMessage("failed to record conversion outcome").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "lost", entries[0].ContextMap()["request_id"])
}

func TestStore_ConcurrentBatch(t *testing.T) {
	store := setupTestStore(t)
	provider := mocks.NewScriptedProvider("mock").Always(mocks.Step{Raw: fixtures.JaneDoe})

	orch, err := pipeline.New(provider, pipeline.WithObserver(store), pipeline.WithSleep(noSleep))
	require.NoError(t, err)

	reqs := make([]pipeline.Request, 10)
	for i := range reqs {
		reqs[i] = pipeline.Request{
			Seed:       "Jane Doe, 30",
			Descriptor: fixtures.PersonDescriptor(),
			Policy:     pipeline.DefaultPolicy(),
		}
	}

	results, err := orch.ConvertBatch(context.Background(), reqs, 4)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for _, res := range results {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := store.ByRequestID(context.Background(), id)
			assert.NoError(t, err)
		}(res.RequestID)
	}
	wg.Wait()

	counts, err := store.CountByOutcome(context.Background(), time.Time{})
	require.NoError(t, err)
	assert.Equal(t, int64(10), counts[pipeline.OutcomeSuccess])
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("ERROR: deadlock detected"), true},
		{errors.New("pq: could not serialize access (SQLSTATE 40001)"), true},
		{errors.New("dial tcp: connection refused"), true},
		{errors.New("Error 1205: Lock wait timeout exceeded"), true},
		{errors.New("database is locked (5) (SQLITE_BUSY)"), true},
		{errors.New("driver: bad connection"), true},
		{errors.New("UNIQUE constraint failed: conversion_outcomes.request_id"), false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, isRetryableError(tt.err), "%v", tt.err)
	}
}
