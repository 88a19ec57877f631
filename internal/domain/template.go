package domain

import "time"

type TemplateStatus string

const (
	TemplateActive   TemplateStatus = "active"
	TemplateArchived TemplateStatus = "archived"
)

// FieldType is the kind of answer a template field expects.
type FieldType string

const (
	FieldText        FieldType = "text"
	FieldNumber      FieldType = "number"
	FieldBoolean     FieldType = "boolean"
	FieldSelect      FieldType = "select"
	FieldMultiSelect FieldType = "multiSelect"
	FieldDate        FieldType = "date"
	FieldFile        FieldType = "file"
)

// TemplateField describes one entry of a submission's responses, keyed by ID.
type TemplateField struct {
	ID       string    `firestore:"id" json:"id"`
	Type     FieldType `firestore:"type" json:"type"`
	Label    string    `firestore:"label,omitempty" json:"label,omitempty"`
	Required bool      `firestore:"required" json:"required"`
	// Options lists the allowed values of select and multiSelect fields.
	Options    []string    `firestore:"options,omitempty" json:"options,omitempty"`
	Validation *FieldRules `firestore:"validation,omitempty" json:"validation,omitempty"`
}

// FieldRules bound a field's value. Min and Max apply to the length of text,
// the value of numbers and the number of multiSelect choices. Pattern applies
// to text.
type FieldRules struct {
	Min     *float64 `firestore:"min,omitempty" json:"min,omitempty"`
	Max     *float64 `firestore:"max,omitempty" json:"max,omitempty"`
	Pattern string   `firestore:"pattern,omitempty" json:"pattern,omitempty"`
}

// Template is a questionnaire definition submissions are answered against.
// A template without fields accepts any responses object.
type Template struct {
	ID        string          `firestore:"-" json:"id"`
	Name      string          `firestore:"name" json:"name"`
	Category  string          `firestore:"category,omitempty" json:"category,omitempty"`
	Status    TemplateStatus  `firestore:"status" json:"status"`
	Fields    []TemplateField `firestore:"fields,omitempty" json:"fields,omitempty"`
	CreatedBy string          `firestore:"createdBy" json:"createdBy"`
	CreatedAt time.Time       `firestore:"createdAt" json:"createdAt"`
	UpdatedAt time.Time       `firestore:"updatedAt" json:"updatedAt"`
}
