package models

import "strings"

type FormStatus string

const (
	FormDraft     FormStatus = "draft"
	FormPublished FormStatus = "published"
	FormArchived  FormStatus = "archived"
)

// Validation holds the per-field rules the quality scorer checks. A nil bound
// is unset.
type Validation struct {
	Required bool     `bson:"required" json:"required"`
	MinValue *float64 `bson:"min_value,omitempty" json:"min_value,omitempty"`
	MaxValue *float64 `bson:"max_value,omitempty" json:"max_value,omitempty"`
}

type FieldSpec struct {
	Name       string     `bson:"name" json:"name"`
	Label      string     `bson:"label,omitempty" json:"label,omitempty"`
	Type       string     `bson:"type,omitempty" json:"type,omitempty"`
	Validation Validation `bson:"validation" json:"validation"`
}

// Form is owned by the form-management service; ingest only reads it.
type Form struct {
	ID        string      `bson:"id" json:"id"`
	OrgID     string      `bson:"org_id" json:"org_id"`
	ProjectID string      `bson:"project_id" json:"project_id"`
	Name      string      `bson:"name,omitempty" json:"name,omitempty"`
	Version   int         `bson:"version" json:"version"`
	Status    FormStatus  `bson:"status" json:"status"`
	Fields    []FieldSpec `bson:"fields" json:"fields"`
}

func (f *Form) Published() bool {
	return f.Status == FormPublished
}

// ReservedFields returns field names that collide with the system namespace.
func (f *Form) ReservedFields() []string {
	var out []string
	for _, fs := range f.Fields {
		if strings.HasPrefix(fs.Name, ReservedPrefix) {
			out = append(out, fs.Name)
		}
	}
	return out
}
