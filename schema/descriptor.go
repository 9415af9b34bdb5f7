package schema

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/iWaraxe/L3StructuredOutput-sub000/types"
)

// FieldSpec describes one field of the expected structured value.
type FieldSpec struct {
	Name        string       `json:"name" yaml:"name"`
	Type        SchemaType   `json:"type" yaml:"type"`
	Required    bool         `json:"required,omitempty" yaml:"required,omitempty"`
	Description string       `json:"description,omitempty" yaml:"description,omitempty"`
	Elem        *FieldSpec   `json:"items,omitempty" yaml:"items,omitempty"`
	Fields      []FieldSpec  `json:"fields,omitempty" yaml:"fields,omitempty"`
	Enum        []any        `json:"enum,omitempty" yaml:"enum,omitempty"`
	Minimum     *float64     `json:"minimum,omitempty" yaml:"minimum,omitempty"`
	Maximum     *float64     `json:"maximum,omitempty" yaml:"maximum,omitempty"`
	MinLength   *int         `json:"min_length,omitempty" yaml:"min_length,omitempty"`
	MaxLength   *int         `json:"max_length,omitempty" yaml:"max_length,omitempty"`
	Pattern     string       `json:"pattern,omitempty" yaml:"pattern,omitempty"`
	Format      StringFormat `json:"format,omitempty" yaml:"format,omitempty"`
	// Coerce permits numeric or boolean strings to be converted for this field.
	Coerce  bool `json:"coerce,omitempty" yaml:"coerce,omitempty"`
	Example any  `json:"example,omitempty" yaml:"example,omitempty"`
}

// Descriptor is the immutable, ordered description of a structured value.
// All accessors return copies; a built Descriptor is never mutated.
type Descriptor struct {
	name        string
	fields      []FieldSpec
	index       map[string]int
	fingerprint string
}

type descriptorDoc struct {
	Name   string      `json:"name" yaml:"name"`
	Fields []FieldSpec `json:"fields" yaml:"fields"`
}

// New validates fields and returns a Descriptor.
func New(name string, fields ...FieldSpec) (*Descriptor, error) {
	if name == "" {
		return nil, types.NewSchemaError("schema name must not be empty")
	}
	if len(fields) == 0 {
		return nil, types.NewSchemaError("schema %q has no fields", name)
	}
	if err := validateFields(name, fields); err != nil {
		return nil, err
	}

	d := &Descriptor{
		name:   name,
		fields: cloneFields(fields),
		index:  make(map[string]int, len(fields)),
	}
	for i, f := range d.fields {
		d.index[f.Name] = i
	}

	data, err := json.Marshal(descriptorDoc{Name: d.name, Fields: d.fields})
	if err != nil {
		return nil, types.NewSchemaError("schema %q is not serializable", name).WithCause(err)
	}
	sum := sha256.Sum256(data)
	d.fingerprint = hex.EncodeToString(sum[:])
	return d, nil
}

// Parse reads a descriptor document ({"name": ..., "fields": [...]}).
// YAML is accepted as well since JSON is a subset of it.
func Parse(data []byte) (*Descriptor, error) {
	var doc descriptorDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, types.NewSchemaError("failed to parse schema document").WithCause(err)
	}
	return New(doc.Name, doc.Fields...)
}

// MarshalJSON implements json.Marshaler.
func (d *Descriptor) MarshalJSON() ([]byte, error) {
	return json.Marshal(descriptorDoc{Name: d.name, Fields: d.fields})
}

// Name returns the schema name.
func (d *Descriptor) Name() string { return d.name }

// Fingerprint returns a stable hash of the descriptor's canonical JSON form.
func (d *Descriptor) Fingerprint() string { return d.fingerprint }

// Fields returns a copy of the ordered top-level fields.
func (d *Descriptor) Fields() []FieldSpec { return cloneFields(d.fields) }

// Len returns the number of top-level fields.
func (d *Descriptor) Len() int { return len(d.fields) }

// Field looks up a top-level field by name.
func (d *Descriptor) Field(name string) (FieldSpec, bool) {
	i, ok := d.index[name]
	if !ok {
		return FieldSpec{}, false
	}
	return cloneField(d.fields[i]), true
}

// RequiredFields returns the names of required top-level fields in order.
func (d *Descriptor) RequiredFields() []string {
	var out []string
	for _, f := range d.fields {
		if f.Required {
			out = append(out, f.Name)
		}
	}
	return out
}

// Subset returns a descriptor restricted to the named top-level fields,
// keeping declaration order. Unknown names are ignored.
func (d *Descriptor) Subset(names ...string) (*Descriptor, error) {
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}
	var fields []FieldSpec
	for _, f := range d.fields {
		if want[f.Name] {
			fields = append(fields, f)
		}
	}
	return New(d.name, fields...)
}

func validateFields(path string, fields []FieldSpec) error {
	seen := make(map[string]bool, len(fields))
	for _, f := range fields {
		if f.Name == "" {
			return types.NewSchemaError("%s: field name must not be empty", path)
		}
		if seen[f.Name] {
			return types.NewSchemaError("%s: field %q declared twice", path, f.Name)
		}
		seen[f.Name] = true
		if err := validateField(path+"."+f.Name, f); err != nil {
			return err
		}
	}
	return nil
}

func validateField(path string, f FieldSpec) error {
	switch f.Type {
	case TypeString, TypeInteger, TypeNumber, TypeBoolean:
	case TypeArray:
		if f.Elem == nil {
			return types.NewSchemaError("%s: array field needs an element spec", path)
		}
		if err := validateField(path+"[]", *f.Elem); err != nil {
			return err
		}
	case TypeObject:
		if err := validateFields(path, f.Fields); err != nil {
			return err
		}
	default:
		return types.NewSchemaError("%s: unsupported field type %q", path, f.Type)
	}
	if f.Pattern != "" {
		if _, err := regexp.Compile(f.Pattern); err != nil {
			return types.NewSchemaError("%s: invalid pattern %q", path, f.Pattern).WithCause(err)
		}
	}
	if f.Minimum != nil && f.Maximum != nil && *f.Minimum > *f.Maximum {
		return types.NewSchemaError("%s: minimum %v exceeds maximum %v", path, *f.Minimum, *f.Maximum)
	}
	return nil
}

func cloneFields(fields []FieldSpec) []FieldSpec {
	if fields == nil {
		return nil
	}
	out := make([]FieldSpec, len(fields))
	for i, f := range fields {
		out[i] = cloneField(f)
	}
	return out
}

func cloneField(f FieldSpec) FieldSpec {
	c := f
	if f.Elem != nil {
		elem := cloneField(*f.Elem)
		c.Elem = &elem
	}
	c.Fields = cloneFields(f.Fields)
	if f.Enum != nil {
		c.Enum = append([]any(nil), f.Enum...)
	}
	if f.Minimum != nil {
		v := *f.Minimum
		c.Minimum = &v
	}
	if f.Maximum != nil {
		v := *f.Maximum
		c.Maximum = &v
	}
	if f.MinLength != nil {
		v := *f.MinLength
		c.MinLength = &v
	}
	if f.MaxLength != nil {
		v := *f.MaxLength
		c.MaxLength = &v
	}
	return c
}

// String implements fmt.Stringer.
func (d *Descriptor) String() string {
	return fmt.Sprintf("%s(%d fields)", d.name, len(d.fields))
}
