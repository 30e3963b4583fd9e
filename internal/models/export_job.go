package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// ExportFormat enumerates the renderable output formats.
type ExportFormat string

const (
	ExportFormatPDF  ExportFormat = "pdf"
	ExportFormatCSV  ExportFormat = "csv"
	ExportFormatXLSX ExportFormat = "xlsx"
)

// ExportScope selects what an export job renders.
type ExportScope string

const (
	// ExportScopeEntry renders one entry as a flattened document.
	ExportScopeEntry ExportScope = "ENTRY"
	// ExportScopeRegister renders the tabular entry register of a template.
	ExportScopeRegister ExportScope = "REGISTER"
)

// ExportStatus tracks the job lifecycle.
type ExportStatus string

const (
	ExportStatusQueued     ExportStatus = "QUEUED"
	ExportStatusProcessing ExportStatus = "PROCESSING"
	ExportStatusFinished   ExportStatus = "FINISHED"
	ExportStatusFailed     ExportStatus = "FAILED"
)

// ExportJobParams selects the source data and format.
type ExportJobParams struct {
	EntryID    string       `json:"entry_id,omitempty"`
	TemplateID string       `json:"template_id,omitempty"`
	Format     ExportFormat `json:"format"`
}

// Value implements driver.Valuer.
func (p ExportJobParams) Value() (driver.Value, error) {
	return json.Marshal(p)
}

// Scan implements sql.Scanner.
func (p *ExportJobParams) Scan(src interface{}) error {
	return scanJSON(src, p, "export params")
}

// ExportJob is an asynchronous export request.
type ExportJob struct {
	ID         string          `db:"id" json:"id"`
	Scope      ExportScope     `db:"scope" json:"scope"`
	Params     ExportJobParams `db:"params" json:"params"`
	Status     ExportStatus    `db:"status" json:"status"`
	Progress   int             `db:"progress" json:"progress"`
	ResultPath *string         `db:"result_path" json:"result_path,omitempty"`
	Error      *string         `db:"error" json:"error,omitempty"`
	CreatedBy  string          `db:"created_by" json:"created_by"`
	CreatedAt  time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time       `db:"updated_at" json:"updated_at"`
}
