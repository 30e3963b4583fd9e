package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/prodforms/formcap-api/internal/dto"
	"github.com/prodforms/formcap-api/internal/forms"
	"github.com/prodforms/formcap-api/internal/models"
	"github.com/prodforms/formcap-api/internal/repository"
	"github.com/prodforms/formcap-api/internal/workflow"
	appErrors "github.com/prodforms/formcap-api/pkg/errors"
)

type entryRepository interface {
	Create(ctx context.Context, entry *models.FormEntry) error
	GetByID(ctx context.Context, id string) (*models.FormEntry, error)
	List(ctx context.Context, filter models.EntryFilter) ([]models.FormEntry, int, error)
	UpdateData(ctx context.Context, id string, data models.EntryData, updatedBy string) error
	UpdateStatus(ctx context.Context, params repository.UpdateStatusParams) error
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

type entryTemplateSource interface {
	Get(ctx context.Context, id string) (*models.FormTemplate, error)
}

// EntryService owns the entry lifecycle: data capture, the status machine,
// and signing.
type EntryService struct {
	repo      entryRepository
	templates entryTemplateSource
	validator *validator.Validate
	logger    *zap.Logger
}

// NewEntryService constructs an EntryService.
func NewEntryService(repo entryRepository, templates entryTemplateSource, validate *validator.Validate, logger *zap.Logger) *EntryService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &EntryService{repo: repo, templates: templates, validator: validate, logger: logger}
}

// Create starts a new draft entry. Initial data is merged through the same
// field gating as later edits, so values the actor cannot edit are dropped.
func (s *EntryService) Create(ctx context.Context, req dto.CreateEntryRequest, claims *models.JWTClaims, meta models.LoginRequest) (*models.FormEntry, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid entry payload")
	}
	if claims.Role == models.RoleViewer {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "viewers cannot create entries")
	}

	template, err := s.templates.Get(ctx, req.TemplateID)
	if err != nil {
		return nil, err
	}

	entry := &models.FormEntry{
		FormTemplateID: template.ID,
		Status:         models.StatusDraft,
		Data:           models.EntryData{},
		LotNumber:      req.LotNumber,
		CreatedBy:      claims.UserID,
		LastUpdatedBy:  claims.UserID,
	}
	if len(req.Data) > 0 {
		entry.Data = forms.Merge(template, entry, claims.Role, req.Data)
	}

	if err := s.repo.Create(ctx, entry); err != nil {
		return nil, internalError(err, "failed to create entry")
	}

	newPayload, _ := json.Marshal(map[string]interface{}{"template_id": template.ID, "status": entry.Status})
	if err := s.repo.CreateAuditLog(ctx, &models.AuditLog{
		UserID:     &claims.UserID,
		Action:     models.AuditActionEntryCreate,
		Resource:   "form_entries",
		ResourceID: &entry.ID,
		NewValues:  newPayload,
		IPAddress:  meta.IP,
		UserAgent:  meta.UserAgent,
	}); err != nil {
		s.logger.Warn("failed to record entry create audit log", zap.Error(err))
	}

	return entry, nil
}

// Get returns the entry rendered for the requesting actor.
func (s *EntryService) Get(ctx context.Context, id string, claims *models.JWTClaims) (*dto.EntryDetail, error) {
	entry, err := s.loadEntry(ctx, id)
	if err != nil {
		return nil, err
	}
	template, err := s.templates.Get(ctx, entry.FormTemplateID)
	if err != nil {
		return nil, err
	}

	return &dto.EntryDetail{
		Entry: entry,
		Template: dto.TemplateSummary{
			ID:              template.ID,
			Name:            template.Name,
			Department:      template.Department,
			WorkflowEnabled: template.WorkflowEnabled,
		},
		Fields:      forms.View(template, entry, claims.Role),
		Transitions: workflow.Allowed(claims.Role, entry.Status),
	}, nil
}

// List returns entries with pagination metadata.
func (s *EntryService) List(ctx context.Context, filter models.EntryFilter) ([]models.FormEntry, *models.Pagination, error) {
	entries, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, internalError(err, "failed to list entries")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}

	return entries, &models.Pagination{Page: page, PageSize: pageSize, TotalCount: total}, nil
}

// Transitions returns the status changes the actor may take on an entry.
func (s *EntryService) Transitions(ctx context.Context, id string, claims *models.JWTClaims) ([]workflow.Option, error) {
	entry, err := s.loadEntry(ctx, id)
	if err != nil {
		return nil, err
	}
	return workflow.Allowed(claims.Role, entry.Status), nil
}

// SaveData merges the submitted values into the entry. Values for fields the
// actor cannot currently edit are silently dropped; the stored data for those
// fields is untouched.
func (s *EntryService) SaveData(ctx context.Context, id string, req dto.SaveEntryDataRequest, claims *models.JWTClaims, meta models.LoginRequest) (*models.FormEntry, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid entry data payload")
	}

	entry, err := s.loadEntry(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, open := entry.Status.Stage(); !open && claims.Role != models.RoleSuperAdmin {
		return nil, appErrors.Clone(appErrors.ErrConflict, "entry is closed for data capture")
	}

	template, err := s.templates.Get(ctx, entry.FormTemplateID)
	if err != nil {
		return nil, err
	}

	merged := forms.Merge(template, entry, claims.Role, req.Data)
	if err := s.repo.UpdateData(ctx, id, merged, claims.UserID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "entry not found")
		}
		return nil, internalError(err, "failed to save entry data")
	}
	entry.Data = merged
	entry.LastUpdatedBy = claims.UserID

	if err := s.repo.CreateAuditLog(ctx, &models.AuditLog{
		UserID:     &claims.UserID,
		Action:     models.AuditActionEntryUpdate,
		Resource:   "form_entries",
		ResourceID: &entry.ID,
		IPAddress:  meta.IP,
		UserAgent:  meta.UserAgent,
	}); err != nil {
		s.logger.Warn("failed to record entry update audit log", zap.Error(err))
	}

	return entry, nil
}

// Transition moves an entry to a new status. The edge table decides whether
// the actor may take the edge; required fields of the closing stage must be
// filled before the entry can leave it.
func (s *EntryService) Transition(ctx context.Context, id string, req dto.TransitionRequest, claims *models.JWTClaims, meta models.LoginRequest) (*models.FormEntry, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid transition payload")
	}
	if !models.ValidStatus(req.Status) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown status")
	}
	if req.Status == models.StatusSigned {
		return nil, appErrors.Clone(appErrors.ErrValidation, "signing requires the sign operation")
	}

	entry, err := s.loadEntry(ctx, id)
	if err != nil {
		return nil, err
	}

	lot := req.LotNumber
	if lot == "" {
		lot = entry.LotNumber
	}
	edge, err := workflow.Resolve(claims.Role, entry.Status, req.Status, workflow.Metadata{LotNumber: lot})
	if err != nil {
		return nil, err
	}

	// Moving forward out of an open stage requires its editable required
	// fields to be answered. Returning an entry for rework does not.
	if s.advances(entry.Status, req.Status) {
		template, err := s.templates.Get(ctx, entry.FormTemplateID)
		if err != nil {
			return nil, err
		}
		if err := forms.ValidateRequired(template, entry.Data, claims.Role, entry.Status); err != nil {
			var missing *forms.MissingFieldsError
			if errors.As(err, &missing) {
				return nil, appErrors.Clone(appErrors.ErrMissingData, missing.Error())
			}
			return nil, internalError(err, "failed to validate entry data")
		}
	}

	if err := s.commitStatus(ctx, entry, edge, repository.UpdateStatusParams{
		ID:        entry.ID,
		From:      entry.Status,
		To:        req.Status,
		LotNumber: req.LotNumber,
		UpdatedBy: claims.UserID,
	}, claims, meta); err != nil {
		return nil, err
	}
	if req.LotNumber != "" {
		entry.LotNumber = req.LotNumber
	}
	return entry, nil
}

// Sign records the signature and moves the entry to SIGNED in one step.
func (s *EntryService) Sign(ctx context.Context, id string, req dto.SignRequest, claims *models.JWTClaims, meta models.LoginRequest) (*models.FormEntry, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid sign payload")
	}

	entry, err := s.loadEntry(ctx, id)
	if err != nil {
		return nil, err
	}

	edge, err := workflow.Resolve(claims.Role, entry.Status, models.StatusSigned, workflow.Metadata{LotNumber: entry.LotNumber})
	if err != nil {
		return nil, err
	}

	signature := &models.Signature{
		Image:    req.Image,
		SignerID: claims.UserID,
		SignedAt: time.Now().UTC(),
	}
	if err := s.commitStatus(ctx, entry, edge, repository.UpdateStatusParams{
		ID:        entry.ID,
		From:      entry.Status,
		To:        models.StatusSigned,
		UpdatedBy: claims.UserID,
		Signature: signature,
	}, claims, meta); err != nil {
		return nil, err
	}
	entry.Signature = signature
	return entry, nil
}

func (s *EntryService) loadEntry(ctx context.Context, id string) (*models.FormEntry, error) {
	entry, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "entry not found")
		}
		return nil, internalError(err, "failed to load entry")
	}
	return entry, nil
}

// advances reports whether the transition moves the entry forward in the
// lifecycle rather than returning it for rework.
func (s *EntryService) advances(from, to models.EntryStatus) bool {
	order := map[models.EntryStatus]int{
		models.StatusDraft:          0,
		models.StatusInProgress:     1,
		models.StatusPendingQuality: 2,
		models.StatusCompleted:      3,
		models.StatusSigned:         4,
		models.StatusApproved:       5,
	}
	f, okF := order[from]
	t, okT := order[to]
	return okF && okT && t > f
}

func (s *EntryService) commitStatus(ctx context.Context, entry *models.FormEntry, edge *workflow.Transition, params repository.UpdateStatusParams, claims *models.JWTClaims, meta models.LoginRequest) error {
	if err := s.repo.UpdateStatus(ctx, params); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrConflict, "entry status changed concurrently")
		}
		return internalError(err, "failed to update entry status")
	}

	oldPayload, _ := json.Marshal(map[string]interface{}{"status": entry.Status})
	newPayload, _ := json.Marshal(map[string]interface{}{"status": params.To, "label": edge.Label})
	action := models.AuditActionStatusChange
	if params.Signature != nil {
		action = models.AuditActionEntrySign
	}
	if err := s.repo.CreateAuditLog(ctx, &models.AuditLog{
		UserID:     &claims.UserID,
		Action:     action,
		Resource:   "form_entries",
		ResourceID: &entry.ID,
		OldValues:  oldPayload,
		NewValues:  newPayload,
		IPAddress:  meta.IP,
		UserAgent:  meta.UserAgent,
	}); err != nil {
		s.logger.Warn("failed to record status change audit log", zap.Error(err))
	}

	entry.Status = params.To
	entry.LastUpdatedBy = claims.UserID
	return nil
}
