package schema

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/iWaraxe/L3StructuredOutput-sub000/types"
)

var timeType = reflect.TypeOf(time.Time{})

// For derives a Descriptor from the struct type T. See FromType.
func For[T any]() (*Descriptor, error) {
	return FromType(reflect.TypeOf((*T)(nil)).Elem())
}

// FromType derives a Descriptor from a struct type.
//
// Field names come from the "json" tag. Constraints come from the
// "jsonschema" tag:
//
//   - required: the field must be present
//   - description=...: field description
//   - enum=a,b,c: allowed values
//   - minimum=0 / maximum=100: numeric bounds
//   - minLength=1 / maxLength=100: string length bounds
//   - pattern=^[a-z]+$: regular expression
//   - format=email: string format (email, uri, uuid, date-time ...)
//   - coerce: accept string-encoded numbers and booleans
//   - example=...: example value shown in instructions
//
// Reflection is meant to run once per type; use a Cache to share results.
func FromType(t reflect.Type) (*Descriptor, error) {
	if t == nil {
		return nil, types.NewSchemaError("cannot derive schema from nil type")
	}
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct || t == timeType {
		return nil, types.NewSchemaError("cannot derive schema from %s: struct required", t)
	}

	g := &generator{visited: make(map[reflect.Type]bool)}
	fields, err := g.structFields(t)
	if err != nil {
		return nil, err
	}
	return New(t.Name(), fields...)
}

type generator struct {
	visited map[reflect.Type]bool
}

func (g *generator) structFields(t reflect.Type) ([]FieldSpec, error) {
	g.visited[t] = true
	defer func() { g.visited[t] = false }()

	var fields []FieldSpec
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		name, tagged := jsonFieldName(sf)
		if name == "-" {
			continue
		}

		// Untagged embedded structs are flattened like encoding/json does,
		// even when the embedded type itself is unexported.
		if sf.Anonymous && !tagged {
			et := sf.Type
			if et.Kind() == reflect.Ptr {
				et = et.Elem()
			}
			if et.Kind() == reflect.Struct {
				inner, err := g.structFields(et)
				if err != nil {
					return nil, err
				}
				fields = append(fields, inner...)
				continue
			}
		}
		if !sf.IsExported() {
			continue
		}

		f, err := g.field(name, sf.Type)
		if err != nil {
			return nil, types.NewSchemaError("field %s.%s", t.Name(), sf.Name).WithCause(err)
		}
		if err := applyTag(&f, sf.Tag.Get("jsonschema")); err != nil {
			return nil, types.NewSchemaError("field %s.%s", t.Name(), sf.Name).WithCause(err)
		}
		fields = append(fields, f)
	}
	return fields, nil
}

func (g *generator) field(name string, t reflect.Type) (FieldSpec, error) {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	f := FieldSpec{Name: name}

	if t == timeType {
		f.Type = TypeString
		f.Format = FormatDateTime
		return f, nil
	}

	switch t.Kind() {
	case reflect.String:
		f.Type = TypeString
	case reflect.Bool:
		f.Type = TypeBoolean
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		f.Type = TypeInteger
	case reflect.Float32, reflect.Float64:
		f.Type = TypeNumber
	case reflect.Slice, reflect.Array:
		elem, err := g.field("", t.Elem())
		if err != nil {
			return f, fmt.Errorf("array element: %w", err)
		}
		f.Type = TypeArray
		f.Elem = &elem
	case reflect.Map:
		// Free-form object; keys are not known up front.
		f.Type = TypeObject
	case reflect.Struct:
		f.Type = TypeObject
		if g.visited[t] {
			// Recursive reference; rendered as an open object.
			return f, nil
		}
		nested, err := g.structFields(t)
		if err != nil {
			return f, err
		}
		f.Fields = nested
	default:
		return f, fmt.Errorf("unsupported kind %s", t.Kind())
	}
	return f, nil
}

func jsonFieldName(sf reflect.StructField) (string, bool) {
	tag := sf.Tag.Get("json")
	if tag == "" {
		return sf.Name, false
	}
	name, _, _ := strings.Cut(tag, ",")
	if name == "" {
		return sf.Name, false
	}
	return name, true
}

func applyTag(f *FieldSpec, tag string) error {
	if tag == "" {
		return nil
	}
	options := parseTagOptions(tag)

	if _, ok := options["required"]; ok {
		f.Required = true
	}
	if _, ok := options["coerce"]; ok {
		f.Coerce = true
	}
	if desc, ok := options["description"]; ok {
		f.Description = desc
	}
	if enum, ok := options["enum"]; ok {
		values := strings.Split(enum, ",")
		f.Enum = make([]any, len(values))
		for i, v := range values {
			f.Enum[i] = typedTagValue(strings.TrimSpace(v), f.Type)
		}
	}
	if ex, ok := options["example"]; ok {
		f.Example = typedTagValue(ex, f.Type)
	}
	if v, ok := options["pattern"]; ok {
		f.Pattern = v
	}
	if v, ok := options["format"]; ok {
		f.Format = StringFormat(v)
	}
	for _, key := range []string{"minLength", "maxLength"} {
		raw, ok := options[key]
		if !ok {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", key, raw, err)
		}
		if key == "minLength" {
			f.MinLength = &n
		} else {
			f.MaxLength = &n
		}
	}
	for _, key := range []string{"minimum", "maximum"} {
		raw, ok := options[key]
		if !ok {
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", key, raw, err)
		}
		if key == "minimum" {
			f.Minimum = &v
		} else {
			f.Maximum = &v
		}
	}
	return nil
}

func typedTagValue(value string, t SchemaType) any {
	switch t {
	case TypeInteger:
		if v, err := strconv.ParseInt(value, 10, 64); err == nil {
			return v
		}
	case TypeNumber:
		if v, err := strconv.ParseFloat(value, 64); err == nil {
			return v
		}
	case TypeBoolean:
		if v, err := strconv.ParseBool(value); err == nil {
			return v
		}
	}
	return value
}

var boolTagOptions = map[string]bool{
	"required": true,
	"coerce":   true,
}

// parseTagOptions splits "opt1,key=value,..." into a map. Boolean options map to "".
func parseTagOptions(tag string) map[string]string {
	options := make(map[string]string)
	for _, part := range splitTagParts(tag) {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if idx := strings.Index(part, "="); idx > 0 {
			options[part[:idx]] = part[idx+1:]
		} else {
			options[part] = ""
		}
	}
	return options
}

// splitTagParts splits on commas but keeps commas that belong to a value,
// e.g. "enum=a,b,c,required" yields ["enum=a,b,c", "required"]. A comma
// inside a value ends it only when the next segment is a boolean option
// or starts with an alphanumeric key followed by "=".
func splitTagParts(tag string) []string {
	var parts []string
	var current strings.Builder
	inValue := false

	for i := 0; i < len(tag); i++ {
		ch := tag[i]
		switch {
		case ch == '=' && !inValue:
			inValue = true
			current.WriteByte(ch)
		case ch == ',' && !inValue:
			parts = append(parts, current.String())
			current.Reset()
		case ch == ',' && inValue:
			next := tag[i+1:]
			if j := strings.IndexByte(next, ','); j >= 0 {
				next = next[:j]
			}
			next = strings.TrimSpace(next)
			if boolTagOptions[next] || looksLikeOption(next) {
				parts = append(parts, current.String())
				current.Reset()
				inValue = false
				continue
			}
			current.WriteByte(ch)
		default:
			current.WriteByte(ch)
		}
	}
	if current.Len() > 0 {
		parts = append(parts, current.String())
	}
	return parts
}

func looksLikeOption(segment string) bool {
	eq := strings.IndexByte(segment, '=')
	if eq <= 0 {
		return false
	}
	for _, c := range segment[:eq] {
		if !((c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')) {
			return false
		}
	}
	return true
}
