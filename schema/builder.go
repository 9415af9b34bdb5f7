package schema

// FieldOption configures a FieldSpec while it is being added to a Builder.
type FieldOption func(*FieldSpec)

// Builder assembles a Descriptor field by field. Errors are reported by Build.
type Builder struct {
	name   string
	fields []FieldSpec
}

// NewBuilder creates a Builder for a schema with the given name.
func NewBuilder(name string) *Builder {
	return &Builder{name: name}
}

// Field appends a field of type t.
func (b *Builder) Field(name string, t SchemaType, opts ...FieldOption) *Builder {
	b.fields = append(b.fields, newField(name, t, opts...))
	return b
}

// Spec appends a fully formed FieldSpec.
func (b *Builder) Spec(f FieldSpec) *Builder {
	b.fields = append(b.fields, cloneField(f))
	return b
}

// Build validates the accumulated fields and returns the Descriptor.
func (b *Builder) Build() (*Descriptor, error) {
	return New(b.name, b.fields...)
}

// MustBuild is like Build but panics on error. Intended for package-level schemas.
func (b *Builder) MustBuild() *Descriptor {
	d, err := b.Build()
	if err != nil {
		panic(err)
	}
	return d
}

func newField(name string, t SchemaType, opts ...FieldOption) FieldSpec {
	f := FieldSpec{Name: name, Type: t}
	for _, opt := range opts {
		opt(&f)
	}
	return f
}

// Required marks the field as required.
func Required() FieldOption {
	return func(f *FieldSpec) { f.Required = true }
}

// Describe sets the human-readable field description.
func Describe(text string) FieldOption {
	return func(f *FieldSpec) { f.Description = text }
}

// Items sets the element spec of an array field.
func Items(t SchemaType, opts ...FieldOption) FieldOption {
	return func(f *FieldSpec) {
		elem := newField("", t, opts...)
		f.Elem = &elem
	}
}

// Nested sets the sub-fields of an object field.
func Nested(fields ...FieldSpec) FieldOption {
	return func(f *FieldSpec) { f.Fields = cloneFields(fields) }
}

// Enum restricts the field to the given values.
func Enum(values ...any) FieldOption {
	return func(f *FieldSpec) { f.Enum = append([]any(nil), values...) }
}

// Min sets the inclusive numeric lower bound.
func Min(v float64) FieldOption {
	return func(f *FieldSpec) { f.Minimum = &v }
}

// Max sets the inclusive numeric upper bound.
func Max(v float64) FieldOption {
	return func(f *FieldSpec) { f.Maximum = &v }
}

// MinLen sets the minimum string length in runes.
func MinLen(n int) FieldOption {
	return func(f *FieldSpec) { f.MinLength = &n }
}

// MaxLen sets the maximum string length in runes.
func MaxLen(n int) FieldOption {
	return func(f *FieldSpec) { f.MaxLength = &n }
}

// Pattern sets a regular expression the string value must match.
func Pattern(expr string) FieldOption {
	return func(f *FieldSpec) { f.Pattern = expr }
}

// WithFormat sets a well-known string format.
func WithFormat(format StringFormat) FieldOption {
	return func(f *FieldSpec) { f.Format = format }
}

// Coercible allows string-encoded numbers and booleans for this field.
func Coercible() FieldOption {
	return func(f *FieldSpec) { f.Coerce = true }
}

// Example sets the example value rendered in instructions.
func Example(v any) FieldOption {
	return func(f *FieldSpec) { f.Example = v }
}

// Object builds a nested object FieldSpec, for use with Nested or Spec.
func Object(name string, fields ...FieldSpec) FieldSpec {
	return FieldSpec{Name: name, Type: TypeObject, Fields: cloneFields(fields)}
}

// NewField builds a standalone FieldSpec, for use with Nested or Spec.
func NewField(name string, t SchemaType, opts ...FieldOption) FieldSpec {
	return newField(name, t, opts...)
}
