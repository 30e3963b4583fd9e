package dto

import "github.com/prodforms/formcap-api/internal/models"

// CreateExportRequest queues an export job.
type CreateExportRequest struct {
	Scope      models.ExportScope  `json:"scope" validate:"required,oneof=ENTRY REGISTER"`
	EntryID    string              `json:"entry_id"`
	TemplateID string              `json:"template_id"`
	Format     models.ExportFormat `json:"format" validate:"required,oneof=pdf csv xlsx"`
}

// ExportJobResponse is a job with its signed download URL once finished.
type ExportJobResponse struct {
	Job         *models.ExportJob `json:"job"`
	DownloadURL string            `json:"download_url,omitempty"`
}
