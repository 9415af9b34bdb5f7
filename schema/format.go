package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/iWaraxe/L3StructuredOutput-sub000/types"
)

// Variant selects how format instructions are phrased for one attempt.
type Variant string

const (
	VariantOriginal               Variant = "original"
	VariantAddExamples            Variant = "add-examples"
	VariantSimplify               Variant = "simplify"
	VariantAddExplicitConstraints Variant = "add-explicit-constraints"
)

// DefaultVariantOrder is the order in which retries change the prompt.
var DefaultVariantOrder = []Variant{
	VariantOriginal,
	VariantAddExamples,
	VariantSimplify,
	VariantAddExplicitConstraints,
}

// ParseVariant converts a configuration string to a Variant.
func ParseVariant(s string) (Variant, error) {
	v := Variant(strings.ToLower(strings.TrimSpace(s)))
	switch v {
	case VariantOriginal, VariantAddExamples, VariantSimplify, VariantAddExplicitConstraints:
		return v, nil
	}
	return "", types.NewConfigError("unknown prompt variant %q", s)
}

// Instructions renders the format directive for desc. The output depends only
// on its arguments. feedback lines are included by VariantAddExplicitConstraints
// and ignored by the other variants.
func Instructions(desc *Descriptor, variant Variant, feedback []string) string {
	switch variant {
	case VariantAddExamples:
		return originalInstructions(desc) + "\n\nExample:\n" + renderExample(desc.fields)
	case VariantSimplify:
		return simplifiedInstructions(desc.name, desc.fields)
	case VariantAddExplicitConstraints:
		return originalInstructions(desc) + constraintBlock(desc.fields) + feedbackBlock(feedback)
	default:
		return originalInstructions(desc)
	}
}

// SimplifiedInstructions renders the short directive for a subset of fields.
func SimplifiedInstructions(desc *Descriptor, fields []string) string {
	keep := make(map[string]bool, len(fields))
	for _, f := range fields {
		keep[f] = true
	}
	var subset []FieldSpec
	for _, f := range desc.fields {
		if keep[f.Name] {
			subset = append(subset, f)
		}
	}
	if len(subset) == 0 {
		subset = desc.fields
	}
	return simplifiedInstructions(desc.name, subset)
}

func originalInstructions(desc *Descriptor) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Respond with a single JSON object that describes a %s.\n", desc.name)
	sb.WriteString("Do not include any text before or after the JSON.\n")
	sb.WriteString("Do not wrap the JSON in markdown code blocks.\n")
	sb.WriteString("Include every required field and follow the declared types exactly.\n")
	sb.WriteString("\nFields:\n")
	writeFieldList(&sb, desc.fields, "")
	sb.WriteString("\nJSON Schema:\n")
	data, err := json.MarshalIndent(desc.JSONSchema(), "", "  ")
	if err == nil {
		sb.Write(data)
	}
	return sb.String()
}

func writeFieldList(sb *strings.Builder, fields []FieldSpec, indent string) {
	for _, f := range fields {
		fmt.Fprintf(sb, "%s- %s (%s, %s)", indent, f.Name, typeLabel(f), requiredLabel(f))
		if f.Description != "" {
			sb.WriteString(": " + f.Description)
		}
		sb.WriteByte('\n')
		if f.Type == TypeObject && len(f.Fields) > 0 {
			writeFieldList(sb, f.Fields, indent+"  ")
		}
		if f.Type == TypeArray && f.Elem != nil && f.Elem.Type == TypeObject {
			writeFieldList(sb, f.Elem.Fields, indent+"  ")
		}
	}
}

func typeLabel(f FieldSpec) string {
	if f.Type == TypeArray && f.Elem != nil {
		return "array of " + string(f.Elem.Type)
	}
	return string(f.Type)
}

func requiredLabel(f FieldSpec) string {
	if f.Required {
		return "required"
	}
	return "optional"
}

func simplifiedInstructions(name string, fields []FieldSpec) string {
	parts := make([]string, len(fields))
	for i, f := range fields {
		parts[i] = fmt.Sprintf("%s (%s, %s)", f.Name, typeLabel(f), requiredLabel(f))
	}
	return fmt.Sprintf("Return only a JSON object for %s with these fields: %s. No prose, no markdown.",
		name, strings.Join(parts, ", "))
}

func constraintBlock(fields []FieldSpec) string {
	var sb strings.Builder
	sb.WriteString("\n\nConstraints:\n")
	writeConstraints(&sb, fields, "")
	return strings.TrimRight(sb.String(), "\n")
}

func writeConstraints(sb *strings.Builder, fields []FieldSpec, prefix string) {
	for _, f := range fields {
		path := prefix + f.Name
		rules := []string{requiredLabel(f), typeLabel(f)}
		if f.Format != "" {
			rules = append(rules, "format "+string(f.Format))
		}
		if len(f.Enum) > 0 {
			vals := make([]string, len(f.Enum))
			for i, v := range f.Enum {
				vals[i] = fmt.Sprint(v)
			}
			rules = append(rules, "one of "+strings.Join(vals, ", "))
		}
		if f.Minimum != nil {
			rules = append(rules, "minimum "+formatFloat(*f.Minimum))
		}
		if f.Maximum != nil {
			rules = append(rules, "maximum "+formatFloat(*f.Maximum))
		}
		if f.MinLength != nil {
			rules = append(rules, fmt.Sprintf("at least %d characters", *f.MinLength))
		}
		if f.MaxLength != nil {
			rules = append(rules, fmt.Sprintf("at most %d characters", *f.MaxLength))
		}
		if f.Pattern != "" {
			rules = append(rules, "matches "+f.Pattern)
		}
		fmt.Fprintf(sb, "- %s: %s\n", path, strings.Join(rules, "; "))
		if f.Type == TypeObject {
			writeConstraints(sb, f.Fields, path+".")
		}
	}
}

func feedbackBlock(feedback []string) string {
	if len(feedback) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("\n\nThe previous answer had these problems; fix them:\n")
	for i, line := range feedback {
		if i > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString("- " + line)
	}
	return sb.String()
}

// renderExample writes an example object with keys in declaration order.
func renderExample(fields []FieldSpec) string {
	var buf bytes.Buffer
	writeExampleObject(&buf, fields, "")
	return buf.String()
}

func writeExampleObject(buf *bytes.Buffer, fields []FieldSpec, indent string) {
	if len(fields) == 0 {
		buf.WriteString("{}")
		return
	}
	buf.WriteString("{\n")
	for i, f := range fields {
		buf.WriteString(indent + "  ")
		buf.WriteString(strconv.Quote(f.Name))
		buf.WriteString(": ")
		writeExampleValue(buf, f, indent+"  ")
		if i < len(fields)-1 {
			buf.WriteByte(',')
		}
		buf.WriteByte('\n')
	}
	buf.WriteString(indent + "}")
}

func writeExampleValue(buf *bytes.Buffer, f FieldSpec, indent string) {
	switch {
	case f.Example != nil:
		writeJSONValue(buf, f.Example)
		return
	case len(f.Enum) > 0:
		writeJSONValue(buf, f.Enum[0])
		return
	}

	switch f.Type {
	case TypeObject:
		writeExampleObject(buf, f.Fields, indent)
	case TypeArray:
		buf.WriteByte('[')
		if f.Elem != nil {
			writeExampleValue(buf, *f.Elem, indent)
		}
		buf.WriteByte(']')
	case TypeInteger:
		if f.Minimum != nil {
			buf.WriteString(strconv.FormatInt(int64(*f.Minimum), 10))
		} else {
			buf.WriteString("0")
		}
	case TypeNumber:
		if f.Minimum != nil {
			buf.WriteString(formatFloat(*f.Minimum))
		} else {
			buf.WriteString("0")
		}
	case TypeBoolean:
		buf.WriteString("false")
	default:
		buf.WriteString(strconv.Quote(formatPlaceholder(f.Format)))
	}
}

func writeJSONValue(buf *bytes.Buffer, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		buf.WriteString("null")
		return
	}
	buf.Write(data)
}

func formatPlaceholder(format StringFormat) string {
	switch format {
	case FormatEmail:
		return "user@example.com"
	case FormatDate:
		return "2024-01-31"
	case FormatDateTime:
		return "2024-01-31T12:00:00Z"
	case FormatTime:
		return "12:00:00"
	case FormatURI:
		return "https://example.com"
	case FormatUUID:
		return "123e4567-e89b-12d3-a456-426614174000"
	case FormatHostname:
		return "example.com"
	case FormatIPv4:
		return "192.0.2.1"
	case FormatIPv6:
		return "2001:db8::1"
	default:
		return "text"
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
