// ABOUTME: Field is the closed tagged union of form field variants keyed by FieldType.
// ABOUTME: Fillable fields carry label/validation/options; static fields carry content only.
package schema

import (
	"crypto/rand"

	"github.com/oklog/ulid/v2"
)

// FieldType tags a field variant. The set is closed: adding a variant means
// extending this enumeration and the codec dispatch tables together.
type FieldType string

const (
	FieldText     FieldType = "text"
	FieldTextarea FieldType = "textarea"
	FieldEmail    FieldType = "email"
	FieldNumber   FieldType = "number"
	FieldSelect   FieldType = "select"
	FieldRadio    FieldType = "radio"
	FieldCheckbox FieldType = "checkbox"
	FieldDate     FieldType = "date"
	FieldRichText FieldType = "richtext"
)

// FieldTypes lists every known field type in display order.
var FieldTypes = []FieldType{
	FieldText,
	FieldTextarea,
	FieldEmail,
	FieldNumber,
	FieldSelect,
	FieldRadio,
	FieldCheckbox,
	FieldDate,
	FieldRichText,
}

// Known reports whether t is a member of the closed field type set.
func (t FieldType) Known() bool {
	for _, ft := range FieldTypes {
		if t == ft {
			return true
		}
	}
	return false
}

// Static reports whether t is a static/content variant (no label, no validation).
func (t FieldType) Static() bool {
	return t == FieldRichText
}

// HasOptions reports whether t carries an options sequence.
func (t FieldType) HasOptions() bool {
	switch t {
	case FieldSelect, FieldRadio, FieldCheckbox:
		return true
	}
	return false
}

// MultiValued reports whether t collects multiple values, making its
// default value a sequence rather than a scalar.
func (t FieldType) MultiValued() bool {
	return t == FieldCheckbox
}

// NewID generates a fresh ULID string for page and field identity.
func NewID() string {
	return ulid.MustNew(ulid.Now(), rand.Reader).String()
}

// Field is the tagged union over the two structural field categories.
type Field interface {
	ID() string
	Type() FieldType
	fieldSeal()
}

// FillableField is a field that collects user input: text, textarea, email,
// number, select, radio, checkbox, date.
type FillableField struct {
	FieldID      string
	FieldType    FieldType
	Label        string
	DefaultValue string
	// DefaultValues holds the default selection set for multi-valued types
	// (checkbox). DefaultValue is unused for those types.
	DefaultValues []string
	Prefix        string
	Hint          string
	Placeholder   string
	Options       []string
	Validation    Validation
}

func (f FillableField) ID() string      { return f.FieldID }
func (f FillableField) Type() FieldType { return f.FieldType }
func (f FillableField) fieldSeal()      {}

// Clone returns a deep copy of the field, keeping the same ID.
func (f FillableField) Clone() FillableField {
	c := f
	c.DefaultValues = append([]string(nil), f.DefaultValues...)
	c.Options = append([]string(nil), f.Options...)
	return c
}

// StaticField is a content-only field (rich text). It has no label and no
// validation sub-node.
type StaticField struct {
	FieldID   string
	FieldType FieldType
	Content   string
}

func (f StaticField) ID() string      { return f.FieldID }
func (f StaticField) Type() FieldType { return f.FieldType }
func (f StaticField) fieldSeal()      {}

// NewField creates a field of the given type with a fresh ID and the
// type-appropriate default validation shape.
func NewField(t FieldType) Field {
	if t.Static() {
		return StaticField{FieldID: NewID(), FieldType: t}
	}
	return FillableField{
		FieldID:    NewID(),
		FieldType:  t,
		Validation: DefaultValidation(t),
	}
}
