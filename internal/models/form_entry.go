package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// EntryStatus captures the workflow state of a form entry.
type EntryStatus string

const (
	StatusDraft          EntryStatus = "DRAFT"
	StatusInProgress     EntryStatus = "IN_PROGRESS"
	StatusPendingQuality EntryStatus = "PENDING_QUALITY"
	StatusCompleted      EntryStatus = "COMPLETED"
	StatusSigned         EntryStatus = "SIGNED"
	StatusApproved       EntryStatus = "APPROVED"
	StatusRejected       EntryStatus = "REJECTED"
)

// ValidStatus reports whether the value is a known entry status.
func ValidStatus(s EntryStatus) bool {
	switch s {
	case StatusDraft, StatusInProgress, StatusPendingQuality, StatusCompleted,
		StatusSigned, StatusApproved, StatusRejected:
		return true
	}
	return false
}

// Stage maps an entry status to the data-entry stage whose fields are open.
// Statuses past quality review open no stage at all.
func (s EntryStatus) Stage() (WorkflowStage, bool) {
	switch s {
	case StatusDraft:
		return StageInit, true
	case StatusInProgress:
		return StageOperation, true
	case StatusPendingQuality:
		return StageQuality, true
	}
	return "", false
}

// EntryData maps field id to the captured value. Value shape depends on the
// field type; persisted as JSONB.
type EntryData map[string]interface{}

// Value implements driver.Valuer.
func (d EntryData) Value() (driver.Value, error) {
	if d == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(d)
}

// Scan implements sql.Scanner.
func (d *EntryData) Scan(src interface{}) error {
	return scanJSON(src, d, "entry data")
}

// Signature records a captured signing event on an entry.
type Signature struct {
	Image    string    `json:"image"`
	SignerID string    `json:"signer_id"`
	SignedAt time.Time `json:"signed_at"`
}

// Value implements driver.Valuer.
func (s *Signature) Value() (driver.Value, error) {
	if s == nil {
		return nil, nil
	}
	return json.Marshal(s)
}

// Scan implements sql.Scanner.
func (s *Signature) Scan(src interface{}) error {
	return scanJSON(src, s, "signature")
}

// FormEntry is one filled instance of a template.
type FormEntry struct {
	ID             string      `db:"id" json:"id"`
	FormTemplateID string      `db:"form_template_id" json:"form_template_id"`
	Data           EntryData   `db:"data" json:"data"`
	Status         EntryStatus `db:"status" json:"status"`
	LotNumber      string      `db:"lot_number" json:"lot_number,omitempty"`
	CreatedBy      string      `db:"created_by" json:"created_by"`
	LastUpdatedBy  string      `db:"last_updated_by" json:"last_updated_by"`
	Signature      *Signature  `db:"signature" json:"signature,omitempty"`
	CreatedAt      time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time   `db:"updated_at" json:"updated_at"`
}

// EntryFilter constrains entry listing.
type EntryFilter struct {
	TemplateID string
	Status     []EntryStatus
	CreatedBy  string
	LotNumber  string
	Page       int
	PageSize   int
}
