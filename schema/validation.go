// ABOUTME: Validation is the closed tagged union of per-type validation shapes.
// ABOUTME: The shape is keyed by the owning field's type: text bounds, checkbox bounds, or a plain required flag.
package schema

// ValidationType tags a validation shape on the wire.
type ValidationType string

const (
	ValidationRequired ValidationType = "required"
	ValidationText     ValidationType = "text"
	ValidationCheckbox ValidationType = "checkbox"
)

// Validation is the tagged union over validation shapes. The declared type tag
// must match the owning field's structural category; the codec enforces this
// on encode.
type Validation interface {
	ValidationType() ValidationType
	IsRequired() bool
	validationSeal()
}

// RequiredValidation is the plain required-flag shape used by email, number,
// select, radio and date fields.
type RequiredValidation struct {
	Required bool
}

func (v RequiredValidation) ValidationType() ValidationType { return ValidationRequired }
func (v RequiredValidation) IsRequired() bool               { return v.Required }
func (v RequiredValidation) validationSeal()                {}

// TextValidation carries length bounds for text and textarea fields.
// A zero bound means unbounded.
type TextValidation struct {
	Required  bool
	MinLength int64
	MaxLength int64
}

func (v TextValidation) ValidationType() ValidationType { return ValidationText }
func (v TextValidation) IsRequired() bool               { return v.Required }
func (v TextValidation) validationSeal()                {}

// CheckboxValidation carries selection-count bounds for checkbox fields.
// A zero bound means unbounded.
type CheckboxValidation struct {
	Required      bool
	MinSelections int64
	MaxSelections int64
}

func (v CheckboxValidation) ValidationType() ValidationType { return ValidationCheckbox }
func (v CheckboxValidation) IsRequired() bool               { return v.Required }
func (v CheckboxValidation) validationSeal()                {}

// DefaultValidation returns the zero-valued validation shape for a field type.
// Static types have no validation and return nil.
func DefaultValidation(t FieldType) Validation {
	switch t {
	case FieldText, FieldTextarea:
		return TextValidation{}
	case FieldCheckbox:
		return CheckboxValidation{}
	case FieldEmail, FieldNumber, FieldSelect, FieldRadio, FieldDate:
		return RequiredValidation{}
	}
	return nil
}
