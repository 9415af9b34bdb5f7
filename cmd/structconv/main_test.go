package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

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

const personSchema = `
name: Person
fields:
  - name: name
    type: string
    required: true
  - name: age
    type: integer
    required: true
    minimum: 0
    maximum: 150
  - name: email
    type: string
    format: email
`

type cliEnv struct {
	dir        string
	schemaPath string
	configPath string
	dbPath     string
}

func newCLIEnv(t *testing.T, extraConfig string) *cliEnv {
	t.Helper()
	dir := t.TempDir()
	env := &cliEnv{
		dir:        dir,
		schemaPath: filepath.Join(dir, "person.yaml"),
		configPath: filepath.Join(dir, "config.yaml"),
		dbPath:     filepath.Join(dir, "history.db"),
	}

	require.NoError(t, os.WriteFile(env.schemaPath, []byte(personSchema), 0o600))

	cfg := fmt.Sprintf(`
pipeline:
  initial_backoff: 1ms
  max_backoff: 2ms
log:
  output_paths: []
database:
  enabled: true
  driver: sqlite
  name: %s
%s`, env.dbPath, extraConfig)
	require.NoError(t, os.WriteFile(env.configPath, []byte(cfg), 0o600))

	return env
}

// run 执行一条命令，返回 stdout、stderr 与错误
func (e *cliEnv) run(t *testing.T, provider llm.Provider, stdin string, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer

	a := newApp(strings.NewReader(stdin), &stdout, &stderr)
	a.provider = provider

	root := a.rootCmd()
	root.SetArgs(append([]string{"--config", e.configPath}, args...))
	err := root.Execute()

	return stdout.String(), stderr.String(), err
}

// =============================================================================
// 🧪 version / instructions
// =============================================================================

func TestVersionCmd(t *testing.T) {
	env := newCLIEnv(t, "")
	out, _, err := env.run(t, nil, "", "version")
	require.NoError(t, err)
	assert.Equal(t, "structconv dev (built unknown, commit unknown)\n", out)
}

func TestInstructionsCmd(t *testing.T) {
	env := newCLIEnv(t, "")

	t.Run("original", func(t *testing.T) {
		out, _, err := env.run(t, nil, "", "instructions", "--schema", env.schemaPath)
		require.NoError(t, err)
		assert.Contains(t, out, "name")
		assert.Contains(t, out, "age")
	})

	t.Run("explicit constraints with feedback", func(t *testing.T) {
		out, _, err := env.run(t, nil, "", "instructions", "--schema", env.schemaPath,
			"--variant", "add-explicit-constraints", "--feedback", "age: is required")
		require.NoError(t, err)
		assert.Contains(t, out, "The previous answer had these problems; fix them:")
		assert.Contains(t, out, "- age: is required")
	})

	t.Run("re-request fields", func(t *testing.T) {
		out, _, err := env.run(t, nil, "", "instructions", "--schema", env.schemaPath, "--fields", "age")
		require.NoError(t, err)
		assert.Contains(t, out, "age")
	})

	t.Run("json schema", func(t *testing.T) {
		out, _, err := env.run(t, nil, "", "instructions", "--schema", env.schemaPath, "--json-schema")
		require.NoError(t, err)
		var doc map[string]any
		require.NoError(t, json.Unmarshal([]byte(out), &doc))
		assert.Contains(t, doc, "properties")
	})

	t.Run("unknown variant", func(t *testing.T) {
		_, _, err := env.run(t, nil, "", "instructions", "--schema", env.schemaPath, "--variant", "shout")
		require.Error(t, err)
		assert.Equal(t, exitConfig, exitCode(err))
	})

	t.Run("missing schema file", func(t *testing.T) {
		_, _, err := env.run(t, nil, "", "instructions", "--schema", filepath.Join(env.dir, "nope.yaml"))
		require.Error(t, err)
		assert.True(t, types.IsErrorCode(err, types.ErrInvalidSchema))
	})
}

// =============================================================================
// 🧪 convert
// =============================================================================

func TestConvertCmd_Success(t *testing.T) {
	env := newCLIEnv(t, "")
	provider := mocks.NewScriptedProvider("mock").Respond(fixtures.JaneDoeFenced)

	out, _, err := env.run(t, provider, "", "convert", "--schema", env.schemaPath, "Jane Doe,", "30")
	require.NoError(t, err)

	value := testutil.RequireJSONObject(t, out)
	assert.Equal(t, "Jane Doe", value["name"])
	assert.Equal(t, float64(30), value["age"])

	assert.True(t, strings.HasPrefix(provider.LastPrompt(), "Jane Doe, 30"))
}

func TestConvertCmd_StdinFull(t *testing.T) {
	env := newCLIEnv(t, "")
	provider := mocks.NewScriptedProvider("mock").Respond(fixtures.NotJSON, fixtures.JaneDoe)

	out, _, err := env.run(t, provider, "Jane Doe, 30\n", "convert", "--schema", env.schemaPath, "--input", "-", "--full")
	require.NoError(t, err)

	var res pipeline.RecoveryResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, pipeline.OutcomeRetried, res.Outcome)
	assert.Len(t, res.Attempts, 2)
	testutil.AssertHardIssue(t, res.Attempts[0].Issues, "", validation.CodeParseError)
	assert.Equal(t, "Jane Doe, 30", strings.SplitN(provider.Prompts()[0], "\n", 2)[0])
}

func TestConvertCmd_Exhausted(t *testing.T) {
	env := newCLIEnv(t, "")
	provider := mocks.NewScriptedProvider("mock").Always(mocks.Step{Raw: fixtures.MissingAge})

	out, stderr, err := env.run(t, provider, "", "convert", "--schema", env.schemaPath, "--max-attempts", "2", "Jane Doe")
	require.Error(t, err)

	assert.Equal(t, exitExhausted, exitCode(err))
	assert.True(t, types.IsErrorCode(err, types.ErrConversionExhausted))
	assert.Empty(t, out)
	assert.Contains(t, stderr, "[hard] age")
	assert.Equal(t, 2, provider.Calls())
}

func TestConvertCmd_ReRequest(t *testing.T) {
	env := newCLIEnv(t, "")
	provider := mocks.NewScriptedProvider("mock").
		Respond(fixtures.MissingAge, fixtures.MissingAge, `{"age": 30}`)

	out, _, err := env.run(t, provider, "", "convert", "--schema", env.schemaPath,
		"--max-attempts", "2", "--re-request", "Jane Doe, 30")
	require.NoError(t, err)

	value := testutil.RequireJSONObject(t, out)
	assert.Equal(t, float64(30), value["age"])
	assert.Equal(t, 3, provider.Calls())
}

func TestConvertCmd_SeedErrors(t *testing.T) {
	env := newCLIEnv(t, "")

	_, _, err := env.run(t, nil, "", "convert", "--schema", env.schemaPath)
	require.Error(t, err)
	assert.Equal(t, exitConfig, exitCode(err))

	_, _, err = env.run(t, nil, "", "convert", "--schema", env.schemaPath, "--input", "-", "extra")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mutually exclusive")

	_, _, err = env.run(t, nil, "   ", "convert", "--schema", env.schemaPath, "--input", "-")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty")

	_, _, err = env.run(t, nil, "", "convert", "seed")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "schema")
}

func TestConvertCmd_OpenAICompatibleEndpoint(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.NotEmpty(t, r.Header.Get("X-Request-ID"))
		assert.Equal(t, "1", r.Header.Get("X-Structconv-Attempt"))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":    "chatcmpl-1",
			"model": "test-model",
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": fixtures.JaneDoe},
			}},
		})
	}))
	defer server.Close()

	env := newCLIEnv(t, fmt.Sprintf(`
provider:
  name: local
  api_key: sk-test
  base_url: %s
  model: test-model
`, server.URL))

	out, _, err := env.run(t, nil, "", "convert", "--schema", env.schemaPath, "Jane Doe, 30")
	require.NoError(t, err)
	assert.Contains(t, out, `"jane@example.com"`)
	assert.Equal(t, int32(1), calls.Load())
}

// =============================================================================
// 🧪 batch
// =============================================================================

func TestBatchCmd(t *testing.T) {
	env := newCLIEnv(t, "")
	seeds := filepath.Join(env.dir, "seeds.txt")
	require.NoError(t, os.WriteFile(seeds, []byte("# people\nJane Doe, 30\n\nJohn Roe, 41\nAda, 36\n"), 0o600))

	provider := mocks.NewScriptedProvider("mock").Always(mocks.Step{Raw: fixtures.JaneDoe})

	out, stderr, err := env.run(t, provider, "", "batch", "--schema", env.schemaPath,
		"--input", seeds, "--concurrency", "2", "--metrics-addr", "127.0.0.1:0")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	for i, raw := range lines {
		var line batchLine
		require.NoError(t, json.Unmarshal([]byte(raw), &line))
		assert.Equal(t, i+1, line.Line)
		assert.Equal(t, pipeline.OutcomeSuccess, line.Outcome)
		assert.NotEmpty(t, line.RequestID)
		assert.Empty(t, line.Error)
	}

	assert.Contains(t, stderr, `"total":3`)
	assert.Equal(t, 3, provider.Calls())
	assert.LessOrEqual(t, provider.PeakConcurrency(), 2)
}

func TestBatchCmd_Failures(t *testing.T) {
	env := newCLIEnv(t, "")
	provider := mocks.NewScriptedProvider("mock").Fail(fixtures.InvalidKey()).Always(mocks.Step{Raw: fixtures.JaneDoe})

	out, _, err := env.run(t, provider, "a\nb\n", "batch", "--schema", env.schemaPath, "--concurrency", "1")
	require.Error(t, err)
	assert.Equal(t, exitExhausted, exitCode(err))
	assert.Contains(t, err.Error(), "1 of 2 conversions failed")
	assert.Contains(t, out, string(types.ErrProviderFailed))
}

func TestBatchCmd_NoSeeds(t *testing.T) {
	env := newCLIEnv(t, "")
	_, _, err := env.run(t, nil, "# only a comment\n", "batch", "--schema", env.schemaPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no seeds")
}

// =============================================================================
// 🧪 history
// =============================================================================

func TestHistoryCmds(t *testing.T) {
	env := newCLIEnv(t, "")
	provider := mocks.NewScriptedProvider("mock").Respond(fixtures.MissingAge, fixtures.JaneDoe)

	out, _, err := env.run(t, provider, "", "convert", "--schema", env.schemaPath, "--full", "Jane Doe, 30")
	require.NoError(t, err)
	var res pipeline.RecoveryResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))

	out, _, err = env.run(t, nil, "", "history", "recent", "--json")
	require.NoError(t, err)
	var recs []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &recs))
	require.Len(t, recs, 1)
	assert.Equal(t, res.RequestID, recs[0]["request_id"])
	assert.Equal(t, "retried", recs[0]["outcome"])

	out, _, err = env.run(t, nil, "", "history", "recent", "--outcome", "retried")
	require.NoError(t, err)
	assert.Contains(t, out, "REQUEST ID")
	assert.Contains(t, out, res.RequestID)

	out, _, err = env.run(t, nil, "", "history", "show", res.RequestID)
	require.NoError(t, err)
	shown := testutil.RequireJSONObject(t, out)
	attempts, ok := shown["attempt_rows"].([]any)
	require.True(t, ok)
	assert.Len(t, attempts, 2)

	out, _, err = env.run(t, nil, "", "history", "prune", "--older-than", "1h")
	require.NoError(t, err)
	assert.Equal(t, "deleted 0 outcomes\n", out)
}

func TestHistoryCmd_Disabled(t *testing.T) {
	env := newCLIEnv(t, "")
	require.NoError(t, os.WriteFile(env.configPath, []byte("log:\n  output_paths: []\n"), 0o600))

	_, _, err := env.run(t, nil, "", "history", "recent")
	require.Error(t, err)
	assert.Equal(t, exitConfig, exitCode(err))
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"failure error", &pipeline.FailureError{Code: types.ErrProviderFailed}, exitExhausted},
		{"exhausted code", types.NewError(types.ErrConversionExhausted, "x"), exitExhausted},
		{"config", types.NewConfigError("bad"), exitConfig},
		{"schema", types.NewSchemaError("bad"), exitConfig},
		{"policy", types.NewError(types.ErrInvalidPolicy, "bad"), exitConfig},
		{"other", errors.New("boom"), exitFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCode(tt.err))
		})
	}
}
