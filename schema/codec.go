// ABOUTME: Codec converts between domain fields and generic shared-tree node data.
// ABOUTME: Encode/Decode are pure transforms, inverse up to default-value normalization.
package schema

import (
	"errors"
	"fmt"
)

// Shared-tree keys for field nodes. This is the single point of knowledge for
// the on-wire field shape.
const (
	KeyID            = "id"
	KeyType          = "type"
	KeyLabel         = "label"
	KeyDefaultValue  = "defaultValue"
	KeyPrefix        = "prefix"
	KeyHint          = "hint"
	KeyPlaceholder   = "placeholder"
	KeyOptions       = "options"
	KeyValidation    = "validation"
	KeyContent       = "content"
	KeyRequired      = "required"
	KeyMinLength     = "minLength"
	KeyMaxLength     = "maxLength"
	KeyMinSelections = "minSelections"
	KeyMaxSelections = "maxSelections"
)

// ErrUnknownFieldType is returned by Decode for type tags outside the closed set.
var ErrUnknownFieldType = errors.New("unknown field type")

// Encode converts a domain field into a generic node-data map suitable for
// materializing as a shared-tree map node. Empty option entries are filtered
// out. The validation sub-node's type tag is derived from the field type, not
// from the validation value, so a mismatched shape cannot reach the tree.
func Encode(f Field) map[string]any {
	switch field := f.(type) {
	case StaticField:
		return map[string]any{
			KeyID:      field.FieldID,
			KeyType:    string(field.FieldType),
			KeyContent: field.Content,
		}
	case FillableField:
		node := map[string]any{
			KeyID:          field.FieldID,
			KeyType:        string(field.FieldType),
			KeyLabel:       field.Label,
			KeyPrefix:      field.Prefix,
			KeyHint:        field.Hint,
			KeyPlaceholder: field.Placeholder,
			KeyValidation:  encodeValidation(field.FieldType, field.Validation),
		}
		if field.FieldType.MultiValued() {
			node[KeyDefaultValue] = toAnySlice(FilterEmpty(field.DefaultValues))
		} else {
			node[KeyDefaultValue] = field.DefaultValue
		}
		if field.FieldType.HasOptions() {
			node[KeyOptions] = toAnySlice(FilterEmpty(field.Options))
		}
		return node
	}
	return nil
}

// Decode converts generic node data back into a domain field. Missing optional
// attributes decode to defined defaults: empty string, false, empty sequence.
func Decode(node map[string]any) (Field, error) {
	t := FieldType(asString(node[KeyType]))
	if !t.Known() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFieldType, t)
	}

	if t.Static() {
		return StaticField{
			FieldID:   asString(node[KeyID]),
			FieldType: t,
			Content:   asString(node[KeyContent]),
		}, nil
	}

	field := FillableField{
		FieldID:     asString(node[KeyID]),
		FieldType:   t,
		Label:       asString(node[KeyLabel]),
		Prefix:      asString(node[KeyPrefix]),
		Hint:        asString(node[KeyHint]),
		Placeholder: asString(node[KeyPlaceholder]),
		Validation:  decodeValidation(t, asMap(node[KeyValidation])),
	}
	if t.MultiValued() {
		field.DefaultValues = asStringSlice(node[KeyDefaultValue])
	} else {
		field.DefaultValue = asString(node[KeyDefaultValue])
	}
	if t.HasOptions() {
		field.Options = asStringSlice(node[KeyOptions])
	}
	return field, nil
}

// encodeValidation special-cases the three validation shapes keyed by the
// owning field's type.
func encodeValidation(t FieldType, v Validation) map[string]any {
	switch t {
	case FieldText, FieldTextarea:
		tv, _ := v.(TextValidation)
		return map[string]any{
			KeyType:      string(ValidationText),
			KeyRequired:  tv.Required,
			KeyMinLength: tv.MinLength,
			KeyMaxLength: tv.MaxLength,
		}
	case FieldCheckbox:
		cv, _ := v.(CheckboxValidation)
		return map[string]any{
			KeyType:          string(ValidationCheckbox),
			KeyRequired:      cv.Required,
			KeyMinSelections: cv.MinSelections,
			KeyMaxSelections: cv.MaxSelections,
		}
	default:
		required := false
		if v != nil {
			required = v.IsRequired()
		}
		return map[string]any{
			KeyType:     string(ValidationRequired),
			KeyRequired: required,
		}
	}
}

func decodeValidation(t FieldType, node map[string]any) Validation {
	switch t {
	case FieldText, FieldTextarea:
		return TextValidation{
			Required:  asBool(node[KeyRequired]),
			MinLength: asInt64(node[KeyMinLength]),
			MaxLength: asInt64(node[KeyMaxLength]),
		}
	case FieldCheckbox:
		return CheckboxValidation{
			Required:      asBool(node[KeyRequired]),
			MinSelections: asInt64(node[KeyMinSelections]),
			MaxSelections: asInt64(node[KeyMaxSelections]),
		}
	default:
		return RequiredValidation{
			Required: asBool(node[KeyRequired]),
		}
	}
}

// DefaultValidationNode returns the encoded default validation sub-node for a
// fillable field type, or nil for static/unknown types.
func DefaultValidationNode(t FieldType) map[string]any {
	if !t.Known() || t.Static() {
		return nil
	}
	return encodeValidation(t, DefaultValidation(t))
}

// FilterEmpty drops empty-string entries from a sequence, preserving order.
func FilterEmpty(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

func toAnySlice(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

// Coercion helpers. Node data may come from JSON decoding (float64 numbers)
// or from in-process construction (int64, string slices).

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asBool(v any) bool {
	b, _ := v.(bool)
	return b
}

func asInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	}
	return 0
}

func asMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

func asStringSlice(v any) []string {
	switch vs := v.(type) {
	case []string:
		return append([]string(nil), vs...)
	case []any:
		out := make([]string, 0, len(vs))
		for _, item := range vs {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return []string{}
}
