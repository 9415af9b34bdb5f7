package recovery

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iWaraxe/L3StructuredOutput-sub000/schema"
	"github.com/iWaraxe/L3StructuredOutput-sub000/validation"
)

func profileSchema(t *testing.T) *schema.Descriptor {
	t.Helper()
	d, err := schema.NewBuilder("Profile").
		Field("name", schema.TypeString, schema.Required()).
		Field("age", schema.TypeInteger, schema.Required()).
		Field("country", schema.TypeString).
		Field("newsletter", schema.TypeBoolean).
		Field("lines", schema.TypeArray, schema.Items(schema.TypeObject, schema.Nested(
			schema.NewField("qty", schema.TypeInteger),
		))).
		Build()
	require.NoError(t, err)
	return d
}

func validate(t *testing.T, d *schema.Descriptor, v map[string]any) []validation.Issue {
	t.Helper()
	return validation.NewChain().Validate(context.Background(), v, d).Issues
}

func TestApply_DefaultsOptionalField(t *testing.T) {
	d := profileSchema(t)
	e := New(map[string]any{"country": "US", "name": "Nobody"}, false)

	value := map[string]any{"name": "Jane", "age": int64(25)}
	out := e.Apply(value, validate(t, d, value), d)

	require.False(t, out.Blocked)
	assert.True(t, out.Changed)
	assert.Equal(t, []AppliedDefault{{Field: "country", Value: "US"}}, out.AppliedDefaults)
	assert.Equal(t, "US", out.Value["country"])
	assert.NotContains(t, value, "country", "input must not be modified")

	assert.False(t, validation.HasHard(validate(t, d, out.Value)))
}

func TestApply_RequiredFieldNeverDefaulted(t *testing.T) {
	d := profileSchema(t)
	e := New(map[string]any{"age": int64(30)}, true)

	value := map[string]any{"name": "Jane"}
	out := e.Apply(value, validate(t, d, value), d)

	assert.True(t, out.Blocked)
	assert.False(t, out.Changed)
	assert.Empty(t, out.AppliedDefaults)
	assert.Equal(t, []string{"age"}, out.Pending)
	assert.NotContains(t, out.Value, "age")
}

func TestApply_CoercionOnlyWhenEnabled(t *testing.T) {
	d := profileSchema(t)
	value := map[string]any{"name": "Jane", "age": "25", "newsletter": "true"}
	issues := validate(t, d, value)
	require.Len(t, issues, 2)

	off := New(nil, false).Apply(value, issues, d)
	assert.True(t, off.Blocked)
	assert.Equal(t, "25", off.Value["age"])

	on := New(nil, true).Apply(value, issues, d)
	require.False(t, on.Blocked)
	assert.Equal(t, int64(25), on.Value["age"])
	assert.Equal(t, true, on.Value["newsletter"])
	assert.Equal(t, []string{"age", "newsletter"}, on.Coerced)
	assert.Empty(t, validate(t, d, on.Value))
}

func TestApply_CoercionFailsForWords(t *testing.T) {
	d := profileSchema(t)
	value := map[string]any{"name": "Jane", "age": "ninety-nine"}
	out := New(nil, true).Apply(value, validate(t, d, value), d)

	assert.False(t, out.Changed)
	assert.Empty(t, out.Coerced)
	assert.True(t, validation.HasHard(validate(t, d, out.Value)))
}

func TestApply_NestedCoercion(t *testing.T) {
	d := profileSchema(t)
	value := map[string]any{
		"name":  "Jane",
		"age":   int64(1),
		"lines": []any{map[string]any{"qty": "3"}},
	}
	out := New(nil, true).Apply(value, validate(t, d, value), d)
	require.True(t, out.Changed)
	assert.Equal(t, []string{"lines[0].qty"}, out.Coerced)
	assert.Equal(t, int64(3), out.Value["lines"].([]any)[0].(map[string]any)["qty"])
	assert.Equal(t, "3", value["lines"].([]any)[0].(map[string]any)["qty"])
}

func TestApply_SoftIssuesDoNotBlock(t *testing.T) {
	d := profileSchema(t)
	value := map[string]any{"name": "Jane", "age": int64(2)}
	soft := []validation.Issue{{Severity: validation.SeveritySoft, Code: validation.CodeSemantic, Field: "name"}}

	out := New(map[string]any{"newsletter": false}, false).Apply(value, soft, d)
	assert.False(t, out.Blocked)
	assert.Equal(t, false, out.Value["newsletter"])
	assert.Empty(t, out.Pending)
}

func TestApply_NothingToDo(t *testing.T) {
	d := profileSchema(t)
	value := map[string]any{"name": "Jane", "age": int64(2)}
	out := New(nil, false).Apply(value, nil, d)
	assert.False(t, out.Changed)
	assert.False(t, out.Blocked)
}

func TestApply_NilValueIsBlocked(t *testing.T) {
	out := New(map[string]any{"country": "US"}, true).Apply(nil, []validation.Issue{validation.ParseIssue("bad")}, profileSchema(t))
	assert.True(t, out.Blocked)
	assert.Nil(t, out.Value)
}

func TestSimplifiedPromptAndMerge(t *testing.T) {
	d := profileSchema(t)
	prompt := SimplifiedPrompt("Describe Jane.", d, []string{"age"})
	assert.Equal(t, "Describe Jane.\n\nReturn only a JSON object for Profile with these fields: age (integer, required). No prose, no markdown.", prompt)

	base := map[string]any{"name": "Jane", "age": "old"}
	merged, fields := Merge(base, map[string]any{"age": int64(40), "name": "Ignored"}, []string{"age"})
	assert.Equal(t, []string{"age"}, fields)
	assert.Equal(t, map[string]any{"name": "Jane", "age": int64(40)}, merged)
	assert.Equal(t, "old", base["age"])
}

func TestPathHelpers(t *testing.T) {
	root := map[string]any{"a": map[string]any{"b": []any{int64(1), map[string]any{"c": "x"}}}}

	v, ok := getPath(root, "a.b[1].c")
	require.True(t, ok)
	assert.Equal(t, "x", v)

	assert.True(t, setPath(root, "a.b[0]", int64(5)))
	v, _ = getPath(root, "a.b[0]")
	assert.Equal(t, int64(5), v)

	_, ok = getPath(root, "a.b[7]")
	assert.False(t, ok)
	_, ok = parsePath("a[x]")
	assert.False(t, ok)
}
