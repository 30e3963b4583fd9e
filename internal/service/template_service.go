package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/prodforms/formcap-api/internal/models"
	appErrors "github.com/prodforms/formcap-api/pkg/errors"
)

type templateRepository interface {
	Create(ctx context.Context, template *models.FormTemplate) error
	GetByID(ctx context.Context, id string) (*models.FormTemplate, error)
	List(ctx context.Context, filter models.TemplateFilter) ([]models.FormTemplate, int, error)
	Update(ctx context.Context, template *models.FormTemplate) error
	Delete(ctx context.Context, id string) error
	CountEntries(ctx context.Context, templateID string) (int, error)
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// CreateTemplateRequest is the payload for defining a template.
type CreateTemplateRequest struct {
	Name               string                       `json:"name" validate:"required"`
	Department         string                       `json:"department"`
	WorkflowEnabled    bool                         `json:"workflow_enabled"`
	Structure          models.FieldList             `json:"structure" validate:"required,min=1"`
	SectionPermissions models.SectionPermissionList `json:"section_permissions"`
}

// UpdateTemplateRequest is the payload for replacing a template definition.
type UpdateTemplateRequest struct {
	Name               string                       `json:"name" validate:"required"`
	Department         string                       `json:"department"`
	WorkflowEnabled    bool                         `json:"workflow_enabled"`
	Structure          models.FieldList             `json:"structure" validate:"required,min=1"`
	SectionPermissions models.SectionPermissionList `json:"section_permissions"`
}

// TemplateService manages form template definitions with read-through caching.
type TemplateService struct {
	repo      templateRepository
	cache     *CacheService
	validator *validator.Validate
	logger    *zap.Logger
	cacheTTL  time.Duration
}

// NewTemplateService constructs a TemplateService.
func NewTemplateService(repo templateRepository, cache *CacheService, validate *validator.Validate, logger *zap.Logger, cacheTTL time.Duration) *TemplateService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &TemplateService{repo: repo, cache: cache, validator: validate, logger: logger, cacheTTL: cacheTTL}
}

func templateCacheKey(id string) string {
	return fmt.Sprintf("template:%s", id)
}

// Create validates the field definitions and persists a new template.
func (s *TemplateService) Create(ctx context.Context, req CreateTemplateRequest, actorID string, meta models.LoginRequest) (*models.FormTemplate, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid template payload")
	}
	if err := validateStructure(req.Structure); err != nil {
		return nil, err
	}

	template := &models.FormTemplate{
		Name:               req.Name,
		Department:         req.Department,
		WorkflowEnabled:    req.WorkflowEnabled,
		Structure:          req.Structure,
		SectionPermissions: req.SectionPermissions,
		CreatedBy:          actorID,
	}
	if err := s.repo.Create(ctx, template); err != nil {
		return nil, internalError(err, "failed to create template")
	}

	newPayload, _ := json.Marshal(map[string]interface{}{"id": template.ID, "name": template.Name})
	if err := s.repo.CreateAuditLog(ctx, &models.AuditLog{
		UserID:     &actorID,
		Action:     models.AuditActionTemplateCreate,
		Resource:   "form_templates",
		ResourceID: &template.ID,
		NewValues:  newPayload,
		IPAddress:  meta.IP,
		UserAgent:  meta.UserAgent,
	}); err != nil {
		s.logger.Warn("failed to record template create audit log", zap.Error(err))
	}

	return template, nil
}

// Get returns a template, served from cache when possible.
func (s *TemplateService) Get(ctx context.Context, id string) (*models.FormTemplate, error) {
	if s.cache.Enabled() {
		var cached models.FormTemplate
		if hit, err := s.cache.Get(ctx, templateCacheKey(id), &cached); err == nil && hit {
			return &cached, nil
		}
	}

	template, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "template not found")
		}
		return nil, internalError(err, "failed to load template")
	}

	if err := s.cache.Set(ctx, templateCacheKey(id), template, s.cacheTTL); err != nil {
		s.logger.Warn("template cache write failed", zap.String("template_id", id), zap.Error(err))
	}

	return template, nil
}

// List returns templates with pagination metadata.
func (s *TemplateService) List(ctx context.Context, filter models.TemplateFilter) ([]models.FormTemplate, *models.Pagination, error) {
	templates, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, internalError(err, "failed to list templates")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}

	return templates, &models.Pagination{Page: page, PageSize: pageSize, TotalCount: total}, nil
}

// Update replaces the template definition and invalidates the cached copy.
func (s *TemplateService) Update(ctx context.Context, id string, req UpdateTemplateRequest, actorID string, meta models.LoginRequest) (*models.FormTemplate, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid template payload")
	}
	if err := validateStructure(req.Structure); err != nil {
		return nil, err
	}

	template, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "template not found")
		}
		return nil, internalError(err, "failed to load template")
	}

	oldPayload, _ := json.Marshal(map[string]interface{}{"name": template.Name, "workflow_enabled": template.WorkflowEnabled})

	template.Name = req.Name
	template.Department = req.Department
	template.WorkflowEnabled = req.WorkflowEnabled
	template.Structure = req.Structure
	template.SectionPermissions = req.SectionPermissions

	if err := s.repo.Update(ctx, template); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "template not found")
		}
		return nil, internalError(err, "failed to update template")
	}

	if err := s.cache.Invalidate(ctx, templateCacheKey(id)); err != nil {
		s.logger.Warn("template cache invalidate failed", zap.String("template_id", id), zap.Error(err))
	}

	newPayload, _ := json.Marshal(map[string]interface{}{"name": template.Name, "workflow_enabled": template.WorkflowEnabled})
	if err := s.repo.CreateAuditLog(ctx, &models.AuditLog{
		UserID:     &actorID,
		Action:     models.AuditActionTemplateUpdate,
		Resource:   "form_templates",
		ResourceID: &template.ID,
		OldValues:  oldPayload,
		NewValues:  newPayload,
		IPAddress:  meta.IP,
		UserAgent:  meta.UserAgent,
	}); err != nil {
		s.logger.Warn("failed to record template update audit log", zap.Error(err))
	}

	return template, nil
}

// Delete removes a template. Templates with captured entries are protected.
func (s *TemplateService) Delete(ctx context.Context, id string, actorID string, meta models.LoginRequest) error {
	count, err := s.repo.CountEntries(ctx, id)
	if err != nil {
		return internalError(err, "failed to count template entries")
	}
	if count > 0 {
		return appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("template has %d entries and cannot be deleted", count))
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "template not found")
		}
		return internalError(err, "failed to delete template")
	}

	if err := s.cache.Invalidate(ctx, templateCacheKey(id)); err != nil {
		s.logger.Warn("template cache invalidate failed", zap.String("template_id", id), zap.Error(err))
	}

	if err := s.repo.CreateAuditLog(ctx, &models.AuditLog{
		UserID:     &actorID,
		Action:     models.AuditActionTemplateDelete,
		Resource:   "form_templates",
		ResourceID: &id,
		IPAddress:  meta.IP,
		UserAgent:  meta.UserAgent,
	}); err != nil {
		s.logger.Warn("failed to record template delete audit log", zap.Error(err))
	}

	return nil
}

// validateStructure checks field definitions beyond what struct tags cover.
func validateStructure(fields models.FieldList) error {
	seen := make(map[string]bool, len(fields))
	for _, field := range fields {
		if field.ID == "" {
			return appErrors.Clone(appErrors.ErrValidation, "field id is required")
		}
		if seen[field.ID] {
			return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("duplicate field id %q", field.ID))
		}
		seen[field.ID] = true
		if !models.ValidFieldType(field.Type) {
			return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown field type %q", field.Type))
		}
		switch field.Type {
		case models.FieldTypeSelect, models.FieldTypeRadio:
			if len(field.Options) == 0 {
				return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("field %q requires options", field.ID))
			}
		case models.FieldTypeTable, models.FieldTypeAdvancedTable:
			if len(field.Columns) == 0 {
				return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("field %q requires columns", field.ID))
			}
		}
		for _, role := range field.AllowedRoles {
			if !models.ValidRole(role) {
				return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("field %q references unknown role %q", field.ID, role))
			}
		}
	}
	return nil
}
