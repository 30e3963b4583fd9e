package dto

import (
	"github.com/prodforms/formcap-api/internal/forms"
	"github.com/prodforms/formcap-api/internal/models"
	"github.com/prodforms/formcap-api/internal/workflow"
)

// EntryDetail is an entry rendered for one actor: stored values pre-resolved
// against the template, each field flagged with this actor's editability, and
// the transitions the actor may take from the current status.
type EntryDetail struct {
	Entry       *models.FormEntry `json:"entry"`
	Template    TemplateSummary   `json:"template"`
	Fields      []forms.FieldView `json:"fields"`
	Transitions []workflow.Option `json:"transitions"`
}

// TemplateSummary is the template header carried with entry payloads.
type TemplateSummary struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Department      string `json:"department"`
	WorkflowEnabled bool   `json:"workflow_enabled"`
}

// CreateEntryRequest starts a new entry from a template.
type CreateEntryRequest struct {
	TemplateID string           `json:"template_id" validate:"required"`
	Data       models.EntryData `json:"data"`
	LotNumber  string           `json:"lot_number"`
}

// SaveEntryDataRequest replaces the actor-editable values of an entry.
type SaveEntryDataRequest struct {
	Data models.EntryData `json:"data" validate:"required"`
}

// TransitionRequest asks to move an entry to a new status.
type TransitionRequest struct {
	Status    models.EntryStatus `json:"status" validate:"required"`
	LotNumber string             `json:"lot_number"`
}

// SignRequest carries the captured signature image.
type SignRequest struct {
	Image string `json:"image" validate:"required"`
}
