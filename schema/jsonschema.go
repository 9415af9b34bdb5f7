package schema

import (
	"encoding/json"
	"fmt"
)

// SchemaType represents JSON Schema types.
type SchemaType string

const (
	TypeString  SchemaType = "string"
	TypeNumber  SchemaType = "number"
	TypeInteger SchemaType = "integer"
	TypeBoolean SchemaType = "boolean"
	TypeObject  SchemaType = "object"
	TypeArray   SchemaType = "array"
)

// StringFormat represents common string format constraints.
type StringFormat string

const (
	FormatDateTime StringFormat = "date-time"
	FormatDate     StringFormat = "date"
	FormatTime     StringFormat = "time"
	FormatEmail    StringFormat = "email"
	FormatURI      StringFormat = "uri"
	FormatUUID     StringFormat = "uuid"
	FormatHostname StringFormat = "hostname"
	FormatIPv4     StringFormat = "ipv4"
	FormatIPv6     StringFormat = "ipv6"
)

// JSONSchema represents the subset of JSON Schema a Descriptor renders to.
type JSONSchema struct {
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`

	Type SchemaType `json:"type,omitempty"`

	// Object properties
	Properties map[string]*JSONSchema `json:"properties,omitempty"`
	Required   []string               `json:"required,omitempty"`

	// Array items
	Items *JSONSchema `json:"items,omitempty"`

	Enum []any `json:"enum,omitempty"`

	// String constraints
	MinLength *int         `json:"minLength,omitempty"`
	MaxLength *int         `json:"maxLength,omitempty"`
	Pattern   string       `json:"pattern,omitempty"`
	Format    StringFormat `json:"format,omitempty"`

	// Numeric constraints
	Minimum *float64 `json:"minimum,omitempty"`
	Maximum *float64 `json:"maximum,omitempty"`

	Examples []any `json:"examples,omitempty"`
}

// ToJSON serializes the schema to JSON.
func (s *JSONSchema) ToJSON() ([]byte, error) {
	return json.Marshal(s)
}

// ToJSONIndent serializes the schema to indented JSON.
func (s *JSONSchema) ToJSONIndent() ([]byte, error) {
	return json.MarshalIndent(s, "", "  ")
}

// FromJSON deserializes a schema from JSON.
func FromJSON(data []byte) (*JSONSchema, error) {
	var s JSONSchema
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal JSON schema: %w", err)
	}
	return &s, nil
}

// JSONSchema renders the descriptor as a JSON Schema object.
func (d *Descriptor) JSONSchema() *JSONSchema {
	s := objectSchema(d.fields)
	s.Title = d.name
	return s
}

func objectSchema(fields []FieldSpec) *JSONSchema {
	s := &JSONSchema{Type: TypeObject}
	if len(fields) == 0 {
		return s
	}
	s.Properties = make(map[string]*JSONSchema, len(fields))
	for _, f := range fields {
		s.Properties[f.Name] = fieldSchema(f)
		if f.Required {
			s.Required = append(s.Required, f.Name)
		}
	}
	return s
}

func fieldSchema(f FieldSpec) *JSONSchema {
	var s *JSONSchema
	switch f.Type {
	case TypeObject:
		s = objectSchema(f.Fields)
	case TypeArray:
		s = &JSONSchema{Type: TypeArray}
		if f.Elem != nil {
			s.Items = fieldSchema(*f.Elem)
		}
	default:
		s = &JSONSchema{Type: f.Type}
	}
	s.Description = f.Description
	s.Enum = f.Enum
	s.MinLength = f.MinLength
	s.MaxLength = f.MaxLength
	s.Pattern = f.Pattern
	s.Format = f.Format
	s.Minimum = f.Minimum
	s.Maximum = f.Maximum
	if f.Example != nil {
		s.Examples = []any{f.Example}
	}
	return s
}
