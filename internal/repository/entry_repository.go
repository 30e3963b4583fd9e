package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/prodforms/formcap-api/internal/models"
)

// EntryRepository persists form entries and their workflow state.
type EntryRepository struct {
	db *sqlx.DB
}

// NewEntryRepository constructs the repository.
func NewEntryRepository(db *sqlx.DB) *EntryRepository {
	return &EntryRepository{db: db}
}

const entryColumns = `id, form_template_id, data, status, lot_number, created_by, last_updated_by, signature, created_at, updated_at`

// Create inserts a new entry row.
func (r *EntryRepository) Create(ctx context.Context, entry *models.FormEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Status == "" {
		entry.Status = models.StatusDraft
	}
	now := time.Now().UTC()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	entry.UpdatedAt = now

	const query = `INSERT INTO form_entries
	(id, form_template_id, data, status, lot_number, created_by, last_updated_by, signature, created_at, updated_at)
	VALUES (:id, :form_template_id, :data, :status, :lot_number, :created_by, :last_updated_by, :signature, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, entry); err != nil {
		return fmt.Errorf("create entry: %w", err)
	}
	return nil
}

// GetByID fetches an entry by identifier.
func (r *EntryRepository) GetByID(ctx context.Context, id string) (*models.FormEntry, error) {
	query := fmt.Sprintf(`SELECT %s FROM form_entries WHERE id = $1 LIMIT 1`, entryColumns)
	var entry models.FormEntry
	if err := r.db.GetContext(ctx, &entry, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("get entry: %w", err)
	}
	return &entry, nil
}

// List returns entries matching the filter (latest first) with total count.
func (r *EntryRepository) List(ctx context.Context, filter models.EntryFilter) ([]models.FormEntry, int, error) {
	baseQuery := `FROM form_entries WHERE 1=1`
	var conditions []string
	var args []interface{}

	if filter.TemplateID != "" {
		conditions = append(conditions, fmt.Sprintf("form_template_id = $%d", len(args)+1))
		args = append(args, filter.TemplateID)
	}
	if len(filter.Status) > 0 {
		placeholders := make([]string, len(filter.Status))
		for i, status := range filter.Status {
			args = append(args, status)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}
	if filter.CreatedBy != "" {
		conditions = append(conditions, fmt.Sprintf("created_by = $%d", len(args)+1))
		args = append(args, filter.CreatedBy)
	}
	if filter.LotNumber != "" {
		conditions = append(conditions, fmt.Sprintf("lot_number = $%d", len(args)+1))
		args = append(args, filter.LotNumber)
	}
	if len(conditions) > 0 {
		baseQuery += " AND " + strings.Join(conditions, " AND ")
	}

	page, pageSize := normalizePage(filter.Page, filter.PageSize)
	offset := (page - 1) * pageSize

	listQuery := fmt.Sprintf("SELECT %s %s ORDER BY created_at DESC LIMIT %d OFFSET %d", entryColumns, baseQuery, pageSize, offset)

	var entries []models.FormEntry
	if err := r.db.SelectContext(ctx, &entries, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list entries: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", baseQuery)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count entries: %w", err)
	}

	return entries, total, nil
}

// UpdateData replaces the captured values of an entry.
func (r *EntryRepository) UpdateData(ctx context.Context, id string, data models.EntryData, updatedBy string) error {
	const query = `UPDATE form_entries SET data = $2, last_updated_by = $3, updated_at = $4 WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, id, data, updatedBy, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update entry data: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check entry data rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// UpdateStatusParams groups the columns written by a status change.
type UpdateStatusParams struct {
	ID        string
	From      models.EntryStatus
	To        models.EntryStatus
	LotNumber string
	UpdatedBy string
	Signature *models.Signature
}

// UpdateStatus moves an entry between statuses. The update is guarded by the
// expected current status so concurrent transitions lose cleanly; a lost race
// surfaces as sql.ErrNoRows.
func (r *EntryRepository) UpdateStatus(ctx context.Context, params UpdateStatusParams) error {
	setParts := []string{
		"status = :status",
		"last_updated_by = :last_updated_by",
		"updated_at = :updated_at",
	}
	if params.LotNumber != "" {
		setParts = append(setParts, "lot_number = :lot_number")
	}
	if params.Signature != nil {
		setParts = append(setParts, "signature = :signature")
	}
	query := fmt.Sprintf("UPDATE form_entries SET %s WHERE id = :id AND status = '%s'",
		strings.Join(setParts, ", "),
		params.From,
	)
	result, err := r.db.NamedExecContext(ctx, query, map[string]interface{}{
		"id":              params.ID,
		"status":          params.To,
		"last_updated_by": params.UpdatedBy,
		"updated_at":      time.Now().UTC(),
		"lot_number":      params.LotNumber,
		"signature":       params.Signature,
	})
	if err != nil {
		return fmt.Errorf("update entry status: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check entry status rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// CreateAuditLog stores an audit log entry.
func (r *EntryRepository) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	if log.ID == "" {
		log.ID = uuid.NewString()
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO audit_logs (id, user_id, action, resource, resource_id, old_values, new_values, ip_address, user_agent, created_at) VALUES (:id, :user_id, :action, :resource, :resource_id, :old_values, :new_values, :ip_address, :user_agent, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, log); err != nil {
		return fmt.Errorf("create audit log: %w", err)
	}
	return nil
}
