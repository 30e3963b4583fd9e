package models

import "time"

// Audit actions recorded in the audit trail, grouped by resource.
const (
	// Sessions.
	AuditActionLogin  = "LOGIN"
	AuditActionLogout = "LOGOUT"

	// User accounts.
	AuditActionUserCreate     = "USER_CREATE"
	AuditActionUserUpdate     = "USER_UPDATE"
	AuditActionUserDelete     = "USER_DELETE"
	AuditActionPasswordChange = "PASSWORD_CHANGE"

	// Form templates.
	AuditActionTemplateCreate = "TEMPLATE_CREATE"
	AuditActionTemplateUpdate = "TEMPLATE_UPDATE"
	AuditActionTemplateDelete = "TEMPLATE_DELETE"

	// Form entries.
	AuditActionEntryCreate  = "ENTRY_CREATE"
	AuditActionEntryUpdate  = "ENTRY_UPDATE"
	AuditActionStatusChange = "STATUS_CHANGE"
	AuditActionEntrySign    = "ENTRY_SIGN"

	// Exports.
	AuditActionExportCreate   = "EXPORT_CREATE"
	AuditActionExportDownload = "EXPORT_DOWNLOAD"
)

// AuditLog is one row of the audit trail. OldValues and NewValues carry
// JSON snapshots of the affected record where the action has one.
type AuditLog struct {
	ID         string    `db:"id" json:"id"`
	UserID     *string   `db:"user_id" json:"user_id,omitempty"`
	Action     string    `db:"action" json:"action"`
	Resource   string    `db:"resource" json:"resource"`
	ResourceID *string   `db:"resource_id" json:"resource_id,omitempty"`
	OldValues  []byte    `db:"old_values" json:"old_values,omitempty"`
	NewValues  []byte    `db:"new_values" json:"new_values,omitempty"`
	IPAddress  string    `db:"ip_address" json:"ip_address"`
	UserAgent  string    `db:"user_agent" json:"user_agent"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}
