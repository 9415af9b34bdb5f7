package validation

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net"
	"reflect"
	"regexp"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/iWaraxe/L3StructuredOutput-sub000/schema"
)

var builtinFormats = map[schema.StringFormat]*regexp.Regexp{
	schema.FormatEmail:    regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`),
	schema.FormatURI:      regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9+.-]*://`),
	schema.FormatUUID:     regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`),
	schema.FormatDateTime: regexp.MustCompile(`^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}(\.\d+)?(Z|[+-]\d{2}:\d{2})?$`),
	schema.FormatDate:     regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`),
	schema.FormatTime:     regexp.MustCompile(`^\d{2}:\d{2}:\d{2}(\.\d+)?(Z|[+-]\d{2}:\d{2})?$`),
	schema.FormatHostname: regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?(\.[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?)*$`),
}

// SchemaValidator checks presence, types and declared constraints.
// Unknown fields are ignored. Every issue it reports is Hard.
type SchemaValidator struct {
	mu       sync.RWMutex
	formats  map[schema.StringFormat]func(string) bool
	patterns sync.Map // string -> *regexp.Regexp
}

// NewSchemaValidator creates a SchemaValidator with the built-in formats.
func NewSchemaValidator() *SchemaValidator {
	v := &SchemaValidator{formats: make(map[schema.StringFormat]func(string) bool)}
	for f, re := range builtinFormats {
		v.formats[f] = re.MatchString
	}
	v.formats[schema.FormatIPv4] = func(s string) bool {
		ip := net.ParseIP(s)
		return ip != nil && ip.To4() != nil && strings.Count(s, ".") == 3
	}
	v.formats[schema.FormatIPv6] = func(s string) bool {
		ip := net.ParseIP(s)
		return ip != nil && strings.Contains(s, ":")
	}
	return v
}

// RegisterFormat adds or replaces a format checker.
func (v *SchemaValidator) RegisterFormat(format schema.StringFormat, check func(string) bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.formats[format] = check
}

// Name implements Validator.
func (v *SchemaValidator) Name() string { return "schema" }

// Phase implements Validator.
func (v *SchemaValidator) Phase() Phase { return PhaseSchema }

// Validate implements Validator.
func (v *SchemaValidator) Validate(_ context.Context, value map[string]any, vc *Context) []Issue {
	if vc == nil || vc.Descriptor == nil {
		return nil
	}
	var issues []Issue
	v.object(value, vc.Descriptor.Fields(), "", &issues)
	return issues
}

func (v *SchemaValidator) object(obj map[string]any, fields []schema.FieldSpec, path string, issues *[]Issue) {
	for _, f := range fields {
		fp := joinPath(path, f.Name)
		val, ok := obj[f.Name]
		if !ok || val == nil {
			if f.Required {
				*issues = append(*issues, Issue{
					Severity:     SeverityHard,
					Phase:        PhaseSchema,
					Code:         CodeMissingRequired,
					Field:        fp,
					Message:      "missing required field",
					SuggestedFix: fmt.Sprintf("add %q as %s", f.Name, describeType(f)),
				})
			}
			continue
		}
		v.value(val, f, fp, issues)
	}
}

func (v *SchemaValidator) value(val any, f schema.FieldSpec, path string, issues *[]Issue) {
	if !conforms(val, f.Type) {
		*issues = append(*issues, Issue{
			Severity:     SeverityHard,
			Phase:        PhaseSchema,
			Code:         CodeTypeMismatch,
			Field:        path,
			Message:      fmt.Sprintf("expected %s, got %s", describeType(f), kindOf(val)),
			SuggestedFix: mismatchFix(val, f),
		})
		return
	}

	if len(f.Enum) > 0 && !inEnum(val, f.Enum) {
		v.violation(issues, path, fmt.Sprintf("value %v is not one of %v", val, f.Enum), "")
	}

	switch f.Type {
	case schema.TypeInteger, schema.TypeNumber:
		n, _ := toFloat64(val)
		if f.Minimum != nil && n < *f.Minimum {
			v.violation(issues, path, fmt.Sprintf("value %v is below minimum %v", val, *f.Minimum), fmt.Sprintf("use a value >= %v", *f.Minimum))
		}
		if f.Maximum != nil && n > *f.Maximum {
			v.violation(issues, path, fmt.Sprintf("value %v exceeds maximum %v", val, *f.Maximum), fmt.Sprintf("use a value <= %v", *f.Maximum))
		}
	case schema.TypeString:
		v.stringConstraints(val.(string), f, path, issues)
	case schema.TypeObject:
		if obj, ok := val.(map[string]any); ok && len(f.Fields) > 0 {
			v.object(obj, f.Fields, path, issues)
		}
	case schema.TypeArray:
		if f.Elem == nil {
			return
		}
		rv := reflect.ValueOf(val)
		for i := 0; i < rv.Len(); i++ {
			item := rv.Index(i).Interface()
			ip := fmt.Sprintf("%s[%d]", path, i)
			if item == nil {
				v.violation(issues, ip, "null array element", "")
				continue
			}
			v.value(item, *f.Elem, ip, issues)
		}
	}
}

func (v *SchemaValidator) stringConstraints(s string, f schema.FieldSpec, path string, issues *[]Issue) {
	n := utf8.RuneCountInString(s)
	if f.MinLength != nil && n < *f.MinLength {
		v.violation(issues, path, fmt.Sprintf("length %d is below minimum %d", n, *f.MinLength), "")
	}
	if f.MaxLength != nil && n > *f.MaxLength {
		v.violation(issues, path, fmt.Sprintf("length %d exceeds maximum %d", n, *f.MaxLength), "")
	}
	if f.Pattern != "" {
		if re := v.pattern(f.Pattern); re != nil && !re.MatchString(s) {
			v.violation(issues, path, fmt.Sprintf("value does not match pattern %s", f.Pattern), "")
		}
	}
	if f.Format != "" {
		v.mu.RLock()
		check, ok := v.formats[f.Format]
		v.mu.RUnlock()
		if ok && !check(s) {
			v.violation(issues, path, fmt.Sprintf("value is not a valid %s", f.Format), "")
		}
	}
}

func (v *SchemaValidator) pattern(expr string) *regexp.Regexp {
	if re, ok := v.patterns.Load(expr); ok {
		return re.(*regexp.Regexp)
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil
	}
	v.patterns.Store(expr, re)
	return re
}

func (v *SchemaValidator) violation(issues *[]Issue, path, msg, fix string) {
	*issues = append(*issues, Issue{
		Severity:     SeverityHard,
		Phase:        PhaseSchema,
		Code:         CodeConstraintViolation,
		Field:        path,
		Message:      msg,
		SuggestedFix: fix,
	})
}

func conforms(val any, t schema.SchemaType) bool {
	switch t {
	case schema.TypeString:
		_, ok := val.(string)
		return ok
	case schema.TypeBoolean:
		_, ok := val.(bool)
		return ok
	case schema.TypeInteger:
		n, ok := toFloat64(val)
		return ok && n == math.Trunc(n) && !math.IsInf(n, 0)
	case schema.TypeNumber:
		_, ok := toFloat64(val)
		return ok
	case schema.TypeObject:
		_, ok := val.(map[string]any)
		return ok
	case schema.TypeArray:
		k := reflect.ValueOf(val).Kind()
		return k == reflect.Slice || k == reflect.Array
	}
	return false
}

func toFloat64(val any) (float64, bool) {
	switch n := val.(type) {
	case float64:
		return n, !math.IsNaN(n)
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func inEnum(val any, enum []any) bool {
	for _, e := range enum {
		if equalValues(val, e) {
			return true
		}
	}
	return false
}

func equalValues(a, b any) bool {
	an, aok := toFloat64(a)
	bn, bok := toFloat64(b)
	if aok && bok {
		return an == bn
	}
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		return as == bs
	}
	ab, aok := a.(bool)
	bb, bok := b.(bool)
	if aok && bok {
		return ab == bb
	}
	aj, _ := json.Marshal(a)
	bj, _ := json.Marshal(b)
	return string(aj) == string(bj)
}

func kindOf(val any) string {
	switch val.(type) {
	case string:
		return "string"
	case bool:
		return "boolean"
	case map[string]any:
		return "object"
	}
	if n, ok := toFloat64(val); ok {
		if n == math.Trunc(n) {
			return "integer"
		}
		return "number"
	}
	if conforms(val, schema.TypeArray) {
		return "array"
	}
	return fmt.Sprintf("%T", val)
}

func describeType(f schema.FieldSpec) string {
	if f.Type == schema.TypeArray && f.Elem != nil {
		return "array of " + string(f.Elem.Type)
	}
	return string(f.Type)
}

func mismatchFix(val any, f schema.FieldSpec) string {
	s, isString := val.(string)
	switch f.Type {
	case schema.TypeInteger, schema.TypeNumber:
		if isString {
			return fmt.Sprintf("write %s as a bare number, not the string %q", f.Name, s)
		}
		if f.Type == schema.TypeInteger {
			return "use a whole number"
		}
	case schema.TypeBoolean:
		if isString {
			return "use true or false without quotes"
		}
	case schema.TypeString:
		return "wrap the value in double quotes"
	}
	return "use type " + describeType(f)
}

func joinPath(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "." + name
}
