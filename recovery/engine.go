// Package recovery repairs converted values that failed validation only in
// non-critical ways: absent optional fields are filled from caller defaults,
// near-miss scalar types are coerced when the policy allows it, and failing
// fields can be re-requested with a focused prompt.
//
// Recovery never touches a value that has a blocking problem it cannot fix;
// such values are returned unchanged with Blocked set.
package recovery

import (
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/iWaraxe/L3StructuredOutput-sub000/schema"
	"github.com/iWaraxe/L3StructuredOutput-sub000/validation"
)

// AppliedDefault records one field filled from the defaults map.
type AppliedDefault struct {
	Field string `json:"field"`
	Value any    `json:"value"`
}

// Outcome is the result of Apply.
type Outcome struct {
	Value           map[string]any   `json:"value,omitempty"`
	AppliedDefaults []AppliedDefault `json:"applied_defaults,omitempty"`
	Coerced         []string         `json:"coerced,omitempty"`
	// Changed is true when Value differs from the input.
	Changed bool `json:"changed"`
	// Blocked is true when a Hard issue rules recovery out.
	Blocked bool `json:"blocked"`
	// Pending lists top-level fields that still carry Hard issues.
	Pending []string `json:"pending,omitempty"`
}

// Engine applies local recovery strategies.
type Engine struct {
	// Defaults maps top-level optional field names to fallback values.
	Defaults      map[string]any
	AllowCoercion bool
}

// New creates an Engine. defaults is copied.
func New(defaults map[string]any, allowCoercion bool) *Engine {
	return &Engine{Defaults: cloneMap(defaults), AllowCoercion: allowCoercion}
}

// Apply runs the local strategies in order: defaults, then coercion.
// value is never modified; the returned Outcome holds a copy.
func (e *Engine) Apply(value map[string]any, issues []validation.Issue, desc *schema.Descriptor) Outcome {
	pending := pendingFields(issues)
	if value == nil || !e.recoverable(issues) {
		return Outcome{Value: value, Blocked: true, Pending: pending}
	}

	out := Outcome{Value: cloneMap(value)}

	for _, f := range desc.Fields() {
		if f.Required {
			continue
		}
		if v, present := out.Value[f.Name]; present && v != nil {
			continue
		}
		def, ok := e.Defaults[f.Name]
		if !ok {
			continue
		}
		out.Value[f.Name] = cloneValue(def)
		out.AppliedDefaults = append(out.AppliedDefaults, AppliedDefault{Field: f.Name, Value: def})
	}

	if e.AllowCoercion {
		for _, is := range issues {
			if is.Code != validation.CodeTypeMismatch {
				continue
			}
			spec, ok := fieldAt(desc, is.Field)
			if !ok {
				continue
			}
			cur, ok := getPath(out.Value, is.Field)
			if !ok {
				continue
			}
			if coerced, ok := coerce(cur, spec.Type); ok && setPath(out.Value, is.Field, coerced) {
				out.Coerced = append(out.Coerced, is.Field)
			}
		}
	}

	out.Changed = len(out.AppliedDefaults) > 0 || len(out.Coerced) > 0
	if !out.Changed {
		out.Value = value
	}
	out.Pending = pending
	return out
}

// recoverable reports whether every Hard issue is one the engine may fix.
func (e *Engine) recoverable(issues []validation.Issue) bool {
	for _, is := range issues {
		if !is.IsHard() {
			continue
		}
		if is.Code == validation.CodeTypeMismatch && e.AllowCoercion {
			continue
		}
		return false
	}
	return true
}

// SimplifiedPrompt builds a focused re-request for the named fields.
func SimplifiedPrompt(seed string, desc *schema.Descriptor, fields []string) string {
	var sb strings.Builder
	if seed != "" {
		sb.WriteString(seed)
		sb.WriteString("\n\n")
	}
	sb.WriteString(schema.SimplifiedInstructions(desc, fields))
	return sb.String()
}

// Merge overlays the named top-level fields from patch onto a copy of base.
func Merge(base, patch map[string]any, fields []string) (map[string]any, []string) {
	out := cloneMap(base)
	if out == nil {
		out = make(map[string]any, len(fields))
	}
	var merged []string
	for _, f := range fields {
		v, ok := patch[f]
		if !ok || v == nil {
			continue
		}
		out[f] = cloneValue(v)
		merged = append(merged, f)
	}
	return out, merged
}

func pendingFields(issues []validation.Issue) []string {
	var out []string
	for _, is := range issues {
		if !is.IsHard() || is.Field == "" {
			continue
		}
		top := topLevel(is.Field)
		if !slices.Contains(out, top) {
			out = append(out, top)
		}
	}
	return out
}

func topLevel(path string) string {
	if i := strings.IndexAny(path, ".["); i >= 0 {
		return path[:i]
	}
	return path
}

func coerce(v any, t schema.SchemaType) (any, bool) {
	switch t {
	case schema.TypeInteger:
		switch x := v.(type) {
		case string:
			s := strings.TrimSpace(x)
			if i, err := strconv.ParseInt(s, 10, 64); err == nil {
				return i, true
			}
			if f, err := strconv.ParseFloat(s, 64); err == nil && f == math.Trunc(f) && !math.IsInf(f, 0) {
				return int64(f), true
			}
		case float64:
			if x == math.Trunc(x) && !math.IsInf(x, 0) {
				return int64(x), true
			}
		}
	case schema.TypeNumber:
		if s, ok := v.(string); ok {
			f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
			if err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
				return f, true
			}
		}
	case schema.TypeBoolean:
		if s, ok := v.(string); ok {
			switch strings.ToLower(strings.TrimSpace(s)) {
			case "true":
				return true, true
			case "false":
				return false, true
			}
		}
	case schema.TypeString:
		switch x := v.(type) {
		case int64:
			return strconv.FormatInt(x, 10), true
		case float64:
			return strconv.FormatFloat(x, 'f', -1, 64), true
		case bool:
			return strconv.FormatBool(x), true
		}
	}
	return nil, false
}

// segment is one step of a field path such as "lines[0].qty".
type segment struct {
	key   string
	index int
}

func parsePath(path string) ([]segment, bool) {
	var segs []segment
	for _, part := range strings.Split(path, ".") {
		name := part
		var idx []int
		if i := strings.IndexByte(part, '['); i >= 0 {
			name = part[:i]
			rest := part[i:]
			for rest != "" {
				if rest[0] != '[' {
					return nil, false
				}
				end := strings.IndexByte(rest, ']')
				if end < 0 {
					return nil, false
				}
				n, err := strconv.Atoi(rest[1:end])
				if err != nil {
					return nil, false
				}
				idx = append(idx, n)
				rest = rest[end+1:]
			}
		}
		if name != "" {
			segs = append(segs, segment{key: name, index: -1})
		}
		for _, n := range idx {
			segs = append(segs, segment{index: n})
		}
	}
	return segs, len(segs) > 0
}

func getPath(root map[string]any, path string) (any, bool) {
	segs, ok := parsePath(path)
	if !ok {
		return nil, false
	}
	var cur any = root
	for _, s := range segs {
		next, ok := step(cur, s)
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

func setPath(root map[string]any, path string, v any) bool {
	segs, ok := parsePath(path)
	if !ok {
		return false
	}
	var cur any = root
	for _, s := range segs[:len(segs)-1] {
		next, ok := step(cur, s)
		if !ok {
			return false
		}
		cur = next
	}
	last := segs[len(segs)-1]
	switch c := cur.(type) {
	case map[string]any:
		if last.index >= 0 {
			return false
		}
		c[last.key] = v
		return true
	case []any:
		if last.index < 0 || last.index >= len(c) {
			return false
		}
		c[last.index] = v
		return true
	}
	return false
}

func step(cur any, s segment) (any, bool) {
	if s.index >= 0 {
		arr, ok := cur.([]any)
		if !ok || s.index >= len(arr) {
			return nil, false
		}
		return arr[s.index], true
	}
	m, ok := cur.(map[string]any)
	if !ok {
		return nil, false
	}
	v, ok := m[s.key]
	return v, ok
}

// fieldAt resolves the FieldSpec addressed by a value path.
func fieldAt(desc *schema.Descriptor, path string) (schema.FieldSpec, bool) {
	segs, ok := parsePath(path)
	if !ok {
		return schema.FieldSpec{}, false
	}
	fields := desc.Fields()
	var cur schema.FieldSpec
	for i, s := range segs {
		if s.index >= 0 {
			if cur.Type != schema.TypeArray || cur.Elem == nil {
				return schema.FieldSpec{}, false
			}
			cur = *cur.Elem
			fields = cur.Fields
			continue
		}
		if i > 0 {
			fields = cur.Fields
		}
		found := false
		for _, f := range fields {
			if f.Name == s.key {
				cur, found = f, true
				break
			}
		}
		if !found {
			return schema.FieldSpec{}, false
		}
	}
	return cur, true
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		return cloneMap(x)
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}

// String implements fmt.Stringer for logs.
func (a AppliedDefault) String() string {
	return fmt.Sprintf("%s=%v", a.Field, a.Value)
}
