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

// TemplateRepository persists form template definitions.
type TemplateRepository struct {
	db *sqlx.DB
}

// NewTemplateRepository constructs the repository.
func NewTemplateRepository(db *sqlx.DB) *TemplateRepository {
	return &TemplateRepository{db: db}
}

const templateColumns = `id, name, department, workflow_enabled, structure, section_permissions, created_by, created_at, updated_at`

// Create inserts a new template row.
func (r *TemplateRepository) Create(ctx context.Context, template *models.FormTemplate) error {
	if template.ID == "" {
		template.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if template.CreatedAt.IsZero() {
		template.CreatedAt = now
	}
	template.UpdatedAt = now

	const query = `INSERT INTO form_templates
	(id, name, department, workflow_enabled, structure, section_permissions, created_by, created_at, updated_at)
	VALUES (:id, :name, :department, :workflow_enabled, :structure, :section_permissions, :created_by, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, template); err != nil {
		return fmt.Errorf("create template: %w", err)
	}
	return nil
}

// GetByID fetches a template by identifier.
func (r *TemplateRepository) GetByID(ctx context.Context, id string) (*models.FormTemplate, error) {
	query := fmt.Sprintf(`SELECT %s FROM form_templates WHERE id = $1 LIMIT 1`, templateColumns)
	var template models.FormTemplate
	if err := r.db.GetContext(ctx, &template, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("get template: %w", err)
	}
	return &template, nil
}

// List returns templates matching the filter with total count.
func (r *TemplateRepository) List(ctx context.Context, filter models.TemplateFilter) ([]models.FormTemplate, int, error) {
	baseQuery := `FROM form_templates WHERE 1=1`
	var conditions []string
	var args []interface{}

	if filter.Department != "" {
		conditions = append(conditions, fmt.Sprintf("department = $%d", len(args)+1))
		args = append(args, filter.Department)
	}
	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("LOWER(name) LIKE $%d", len(args)+1))
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
	}
	if len(conditions) > 0 {
		baseQuery += " AND " + strings.Join(conditions, " AND ")
	}

	page, pageSize := normalizePage(filter.Page, filter.PageSize)
	offset := (page - 1) * pageSize

	listQuery := fmt.Sprintf("SELECT %s %s ORDER BY name ASC LIMIT %d OFFSET %d", templateColumns, baseQuery, pageSize, offset)

	var templates []models.FormTemplate
	if err := r.db.SelectContext(ctx, &templates, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list templates: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", baseQuery)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count templates: %w", err)
	}

	return templates, total, nil
}

// Update replaces the mutable columns of a template.
func (r *TemplateRepository) Update(ctx context.Context, template *models.FormTemplate) error {
	template.UpdatedAt = time.Now().UTC()
	const query = `UPDATE form_templates SET name = :name, department = :department, workflow_enabled = :workflow_enabled,
	structure = :structure, section_permissions = :section_permissions, updated_at = :updated_at WHERE id = :id`
	result, err := r.db.NamedExecContext(ctx, query, template)
	if err != nil {
		return fmt.Errorf("update template: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check template update rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Delete removes a template row.
func (r *TemplateRepository) Delete(ctx context.Context, id string) error {
	const query = `DELETE FROM form_templates WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("delete template: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check template delete rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// CountEntries returns the number of entries referencing a template.
func (r *TemplateRepository) CountEntries(ctx context.Context, templateID string) (int, error) {
	const query = `SELECT COUNT(*) FROM form_entries WHERE form_template_id = $1`
	var total int
	if err := r.db.GetContext(ctx, &total, query, templateID); err != nil {
		return 0, fmt.Errorf("count template entries: %w", err)
	}
	return total, nil
}

// CreateAuditLog stores an audit log entry.
func (r *TemplateRepository) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
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
