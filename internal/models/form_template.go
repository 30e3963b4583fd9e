package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// FieldType enumerates the supported form controls.
type FieldType string

const (
	FieldTypeText          FieldType = "text"
	FieldTypeNumber        FieldType = "number"
	FieldTypeDate          FieldType = "date"
	FieldTypeSelect        FieldType = "select"
	FieldTypeCheckbox      FieldType = "checkbox"
	FieldTypeRadio         FieldType = "radio"
	FieldTypeTextarea      FieldType = "textarea"
	FieldTypeTable         FieldType = "table"
	FieldTypeAdvancedTable FieldType = "advanced_table"
	FieldTypeFolio         FieldType = "folio"
)

// ValidFieldType reports whether the value is a known field type.
func ValidFieldType(t FieldType) bool {
	switch t {
	case FieldTypeText, FieldTypeNumber, FieldTypeDate, FieldTypeSelect,
		FieldTypeCheckbox, FieldTypeRadio, FieldTypeTextarea,
		FieldTypeTable, FieldTypeAdvancedTable, FieldTypeFolio:
		return true
	}
	return false
}

// WorkflowStage names a phase of data entry gating which fields are editable.
type WorkflowStage string

const (
	StageInit      WorkflowStage = "init"
	StageOperation WorkflowStage = "operation"
	StageQuality   WorkflowStage = "quality"
)

// FieldOption is one selectable choice for select/radio fields.
type FieldOption struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

// TableColumn configures one column of a table field.
type TableColumn struct {
	ID    string    `json:"id"`
	Label string    `json:"label"`
	Type  FieldType `json:"type,omitempty"`
}

// Field describes one typed control within a template.
type Field struct {
	ID            string        `json:"id"`
	Type          FieldType     `json:"type"`
	Label         string        `json:"label"`
	Required      bool          `json:"required,omitempty"`
	DisplayOrder  int           `json:"display_order"`
	Section       string        `json:"section,omitempty"`
	WorkflowStage WorkflowStage `json:"workflow_stage,omitempty"`
	AllowedRoles  []UserRole    `json:"allowed_roles,omitempty"`
	Options       []FieldOption `json:"options,omitempty"`
	Columns       []TableColumn `json:"columns,omitempty"`
}

// FieldList is the ordered template structure, persisted as JSONB.
type FieldList []Field

// Value implements driver.Valuer.
func (l FieldList) Value() (driver.Value, error) {
	if l == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(l)
}

// Scan implements sql.Scanner.
func (l *FieldList) Scan(src interface{}) error {
	return scanJSON(src, l, "field list")
}

// SectionPermission declares which roles may edit a named section on
// templates without workflow stages.
type SectionPermission struct {
	Section string     `json:"section"`
	Roles   []UserRole `json:"roles"`
}

// SectionPermissionList is persisted as JSONB.
type SectionPermissionList []SectionPermission

// Value implements driver.Valuer.
func (l SectionPermissionList) Value() (driver.Value, error) {
	if l == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(l)
}

// Scan implements sql.Scanner.
func (l *SectionPermissionList) Scan(src interface{}) error {
	return scanJSON(src, l, "section permissions")
}

// FormTemplate is the schema a renderer and exporter consume.
type FormTemplate struct {
	ID                 string                `db:"id" json:"id"`
	Name               string                `db:"name" json:"name"`
	Department         string                `db:"department" json:"department"`
	WorkflowEnabled    bool                  `db:"workflow_enabled" json:"workflow_enabled"`
	Structure          FieldList             `db:"structure" json:"structure"`
	SectionPermissions SectionPermissionList `db:"section_permissions" json:"section_permissions,omitempty"`
	CreatedBy          string                `db:"created_by" json:"created_by"`
	CreatedAt          time.Time             `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time             `db:"updated_at" json:"updated_at"`
}

// FieldByID returns the field with the given id, if present.
func (t *FormTemplate) FieldByID(id string) (*Field, bool) {
	for i := range t.Structure {
		if t.Structure[i].ID == id {
			return &t.Structure[i], true
		}
	}
	return nil, false
}

// TemplateFilter constrains template listing.
type TemplateFilter struct {
	Department string
	Search     string
	Page       int
	PageSize   int
}

func scanJSON(src, dest interface{}, what string) error {
	if src == nil {
		return nil
	}
	var raw []byte
	switch v := src.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported %s source type %T", what, src)
	}
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("decode %s: %w", what, err)
	}
	return nil
}
