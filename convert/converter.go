package convert

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/iWaraxe/L3StructuredOutput-sub000/schema"
)

const offendingWindow = 24

var (
	fencePattern         = regexp.MustCompile("(?s)```(?:json|JSON)?\\s*\\n?(.*?)\\n?```")
	trailingCommaPattern = regexp.MustCompile(`,\s*([}\]])`)
)

// ParseFailure describes raw text that could not be read as a JSON object.
type ParseFailure struct {
	Reason    string `json:"reason"`
	Offending string `json:"offending,omitempty"`
	Offset    int64  `json:"offset"`
}

func (f *ParseFailure) Error() string {
	if f.Offending == "" {
		return f.Reason
	}
	return fmt.Sprintf("%s near %q", f.Reason, f.Offending)
}

// Result is the outcome of one conversion. Exactly one of Value and Failure is set.
type Result struct {
	Value   map[string]any `json:"value,omitempty"`
	Failure *ParseFailure  `json:"failure,omitempty"`

	// Lenient is true when the strict decode failed and the lenient pass succeeded.
	Lenient bool `json:"lenient,omitempty"`
	// Coerced lists field paths whose string values were converted.
	Coerced []string `json:"coerced,omitempty"`
	// Extra lists field paths present in the text but not in the descriptor.
	Extra []string `json:"extra,omitempty"`
}

// OK reports whether the text was parsed.
func (r Result) OK() bool { return r.Failure == nil }

// Converter parses raw model text against a descriptor.
type Converter struct {
	// AllowCoercion converts numeric and boolean strings for every field,
	// not only fields marked coercible.
	AllowCoercion bool
}

// New creates a Converter.
func New(allowCoercion bool) *Converter {
	return &Converter{AllowCoercion: allowCoercion}
}

// Convert parses raw and projects it onto desc.
func (c *Converter) Convert(raw string, desc *schema.Descriptor) Result {
	if strings.TrimSpace(raw) == "" {
		return Result{Failure: &ParseFailure{Reason: "empty response"}}
	}

	obj, failure := decodeObject(raw)
	lenient := false
	if failure != nil {
		candidate := lenientCandidate(raw)
		obj, failure = decodeObject(candidate)
		if failure != nil {
			return Result{Failure: failure}
		}
		lenient = true
	}

	p := &projector{allowCoercion: c.AllowCoercion}
	value := p.object(obj, desc.Fields(), "")
	slices.Sort(p.extra)
	return Result{
		Value:   value,
		Lenient: lenient,
		Coerced: p.coerced,
		Extra:   p.extra,
	}
}

// Decode stores a converted value into out, which must be a pointer.
func Decode(value map[string]any, out any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode converted value: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode converted value: %w", err)
	}
	return nil
}

func decodeObject(text string) (map[string]any, *ParseFailure) {
	dec := json.NewDecoder(strings.NewReader(text))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, syntaxFailure(text, err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		off := dec.InputOffset()
		return nil, &ParseFailure{
			Reason:    "unexpected data after JSON value",
			Offending: window(text, off),
			Offset:    off,
		}
	}

	obj, ok := v.(map[string]any)
	if !ok {
		return nil, &ParseFailure{
			Reason:    fmt.Sprintf("expected a JSON object, got %s", jsonKind(v)),
			Offending: window(text, 0),
		}
	}
	return obj, nil
}

func syntaxFailure(text string, err error) *ParseFailure {
	var syn *json.SyntaxError
	if errors.As(err, &syn) {
		return &ParseFailure{Reason: syn.Error(), Offending: window(text, syn.Offset), Offset: syn.Offset}
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		off := int64(len(text))
		return &ParseFailure{Reason: "unexpected end of JSON input", Offending: window(text, off), Offset: off}
	}
	return &ParseFailure{Reason: err.Error(), Offending: window(text, 0)}
}

// lenientCandidate applies every repair once.
func lenientCandidate(raw string) string {
	s := strings.TrimPrefix(strings.TrimSpace(raw), "\ufeff")
	s = strings.TrimSpace(s)

	if strings.Contains(s, "```") {
		if m := fencePattern.FindStringSubmatch(s); len(m) > 1 {
			s = strings.TrimSpace(m[1])
		}
	}
	if start, end := strings.Index(s, "{"), strings.LastIndex(s, "}"); start >= 0 && end > start {
		s = s[start : end+1]
	}
	return trailingCommaPattern.ReplaceAllString(s, "$1")
}

func window(text string, offset int64) string {
	if offset < 0 {
		offset = 0
	}
	if offset > int64(len(text)) {
		offset = int64(len(text))
	}
	start := int(offset) - offendingWindow
	if start < 0 {
		start = 0
	}
	end := int(offset) + offendingWindow
	if end > len(text) {
		end = len(text)
	}
	return strings.ToValidUTF8(text[start:end], "")
}

func jsonKind(v any) string {
	switch v.(type) {
	case []any:
		return "array"
	case string:
		return "string"
	case json.Number:
		return "number"
	case bool:
		return "boolean"
	case nil:
		return "null"
	default:
		return fmt.Sprintf("%T", v)
	}
}

type projector struct {
	allowCoercion bool
	coerced       []string
	extra         []string
}

func (p *projector) object(obj map[string]any, fields []schema.FieldSpec, path string) map[string]any {
	out := make(map[string]any, len(fields))
	known := make(map[string]bool, len(fields))
	for _, f := range fields {
		known[f.Name] = true
		v, ok := obj[f.Name]
		if !ok || v == nil {
			continue
		}
		out[f.Name] = p.value(v, f, joinPath(path, f.Name))
	}
	for k := range obj {
		if !known[k] {
			p.extra = append(p.extra, joinPath(path, k))
		}
	}
	return out
}

func (p *projector) value(v any, f schema.FieldSpec, path string) any {
	switch f.Type {
	case schema.TypeInteger:
		return p.integer(v, f, path)
	case schema.TypeNumber:
		return p.number(v, f, path)
	case schema.TypeBoolean:
		if s, ok := v.(string); ok && p.coercible(f) {
			switch strings.ToLower(strings.TrimSpace(s)) {
			case "true":
				p.coerced = append(p.coerced, path)
				return true
			case "false":
				p.coerced = append(p.coerced, path)
				return false
			}
		}
		return normalize(v)
	case schema.TypeArray:
		items, ok := v.([]any)
		if !ok || f.Elem == nil {
			return normalize(v)
		}
		out := make([]any, len(items))
		for i, item := range items {
			if item == nil {
				continue
			}
			out[i] = p.value(item, *f.Elem, fmt.Sprintf("%s[%d]", path, i))
		}
		return out
	case schema.TypeObject:
		obj, ok := v.(map[string]any)
		if !ok || len(f.Fields) == 0 {
			return normalize(v)
		}
		return p.object(obj, f.Fields, path)
	default:
		return normalize(v)
	}
}

func (p *projector) integer(v any, f schema.FieldSpec, path string) any {
	switch x := v.(type) {
	case json.Number:
		return integerFromNumber(x)
	case string:
		if !p.coercible(f) {
			return x
		}
		n := json.Number(strings.TrimSpace(x))
		if _, err := n.Float64(); err != nil {
			return x
		}
		if i, ok := integerFromNumber(n).(int64); ok {
			p.coerced = append(p.coerced, path)
			return i
		}
		return x
	default:
		return normalize(v)
	}
}

func (p *projector) number(v any, f schema.FieldSpec, path string) any {
	switch x := v.(type) {
	case json.Number:
		if fl, err := x.Float64(); err == nil {
			return fl
		}
		return x.String()
	case string:
		if !p.coercible(f) {
			return x
		}
		fl, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil || math.IsNaN(fl) || math.IsInf(fl, 0) {
			return x
		}
		p.coerced = append(p.coerced, path)
		return fl
	default:
		return normalize(v)
	}
}

func (p *projector) coercible(f schema.FieldSpec) bool {
	return p.allowCoercion || f.Coerce
}

// integerFromNumber returns int64 for integral numbers and float64 otherwise.
func integerFromNumber(n json.Number) any {
	if i, err := n.Int64(); err == nil {
		return i
	}
	fl, err := n.Float64()
	if err != nil {
		return n.String()
	}
	if fl == math.Trunc(fl) && fl > math.MinInt64 && fl < math.MaxInt64 {
		return int64(fl)
	}
	return fl
}

// normalize replaces json.Number values in free-form data with native numbers.
func normalize(v any) any {
	switch x := v.(type) {
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		if fl, err := x.Float64(); err == nil {
			return fl
		}
		return x.String()
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = normalize(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, item := range x {
			out[k] = normalize(item)
		}
		return out
	default:
		return v
	}
}

func joinPath(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "." + name
}
