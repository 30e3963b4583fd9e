// Package forms decides per-field editability, merges submitted edits, and
// flattens stored entries for export. It is pure domain logic shared by the
// entry service and the exporters.
package forms

import (
	"fmt"
	"sort"
	"strings"

	"github.com/prodforms/formcap-api/internal/models"
)

// FieldView is one field resolved for a specific actor: its definition, the
// stored value, and whether the actor may edit it right now.
type FieldView struct {
	Field    models.Field `json:"field"`
	Value    interface{}  `json:"value,omitempty"`
	Editable bool         `json:"editable"`
}

// editPolicy decides whether a role may edit a field. Legacy templates and
// workflow-enabled templates are distinct policies, selected once per
// template rather than branched on per field.
type editPolicy interface {
	editable(field models.Field, role models.UserRole) bool
}

// legacyPolicy applies static section permissions: editable by default unless
// the field's section declares a role list excluding the actor.
type legacyPolicy struct {
	sections map[string][]models.UserRole
}

func (p legacyPolicy) editable(field models.Field, role models.UserRole) bool {
	roles, declared := p.sections[field.Section]
	if !declared {
		return true
	}
	return containsRole(roles, role)
}

// workflowPolicy opens a field only while the entry sits in the field's
// declared stage, and only to the field's allowed roles.
type workflowPolicy struct {
	stage models.WorkflowStage
	open  bool
}

func (p workflowPolicy) editable(field models.Field, role models.UserRole) bool {
	if !p.open {
		return false
	}
	if field.WorkflowStage != p.stage {
		return false
	}
	return containsRole(field.AllowedRoles, role)
}

func policyFor(template *models.FormTemplate, status models.EntryStatus) editPolicy {
	if template.WorkflowEnabled {
		stage, open := status.Stage()
		return workflowPolicy{stage: stage, open: open}
	}
	sections := make(map[string][]models.UserRole, len(template.SectionPermissions))
	for _, perm := range template.SectionPermissions {
		sections[perm.Section] = perm.Roles
	}
	return legacyPolicy{sections: sections}
}

// Editable reports whether the role may currently edit the field. The
// superadmin override always edits; viewers never do.
func Editable(template *models.FormTemplate, field models.Field, role models.UserRole, status models.EntryStatus) bool {
	if role == models.RoleSuperAdmin {
		return true
	}
	if role == models.RoleViewer {
		return false
	}
	return policyFor(template, status).editable(field, role)
}

// View resolves every template field for the actor, ordered by display order.
func View(template *models.FormTemplate, entry *models.FormEntry, role models.UserRole) []FieldView {
	fields := make([]models.Field, len(template.Structure))
	copy(fields, template.Structure)
	sort.SliceStable(fields, func(i, j int) bool {
		return fields[i].DisplayOrder < fields[j].DisplayOrder
	})

	views := make([]FieldView, 0, len(fields))
	for _, field := range fields {
		views = append(views, FieldView{
			Field:    field,
			Value:    entry.Data[field.ID],
			Editable: Editable(template, field, role, entry.Status),
		})
	}
	return views
}

// Merge overlays submitted edits onto the stored data, dropping edits to
// fields the actor may not edit and to unknown field ids. The stored map is
// not mutated.
func Merge(template *models.FormTemplate, entry *models.FormEntry, role models.UserRole, edits models.EntryData) models.EntryData {
	merged := make(models.EntryData, len(entry.Data)+len(edits))
	for k, v := range entry.Data {
		merged[k] = v
	}
	for id, value := range edits {
		field, ok := template.FieldByID(id)
		if !ok {
			continue
		}
		if !Editable(template, *field, role, entry.Status) {
			continue
		}
		merged[id] = value
	}
	return merged
}

// MissingField identifies a required field left empty on submission.
type MissingField struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// MissingFieldsError lists every required, currently-editable field with an
// empty value. Submission must not partially save while this is returned.
type MissingFieldsError struct {
	Fields []MissingField
}

func (e *MissingFieldsError) Error() string {
	labels := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		labels[i] = f.Label
	}
	return fmt.Sprintf("missing required fields: %s", strings.Join(labels, ", "))
}

// ValidateRequired checks that every required field the actor can currently
// edit holds a non-empty value in data.
func ValidateRequired(template *models.FormTemplate, data models.EntryData, role models.UserRole, status models.EntryStatus) error {
	var missing []MissingField
	for _, field := range template.Structure {
		if !field.Required {
			continue
		}
		if !Editable(template, field, role, status) {
			continue
		}
		if isEmptyValue(data[field.ID]) {
			missing = append(missing, MissingField{ID: field.ID, Label: field.Label})
		}
	}
	if len(missing) > 0 {
		return &MissingFieldsError{Fields: missing}
	}
	return nil
}

// isEmptyValue treats nil, blank strings, and empty collections as empty.
// A false checkbox is a captured answer, not an omission.
func isEmptyValue(value interface{}) bool {
	switch v := value.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(v) == ""
	case []interface{}:
		return len(v) == 0
	case map[string]interface{}:
		return len(v) == 0
	}
	return false
}

func containsRole(roles []models.UserRole, role models.UserRole) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}
