package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/prodforms/formcap-api/internal/dto"
	"github.com/prodforms/formcap-api/internal/forms"
	"github.com/prodforms/formcap-api/internal/models"
	appErrors "github.com/prodforms/formcap-api/pkg/errors"
	"github.com/prodforms/formcap-api/pkg/export"
	"github.com/prodforms/formcap-api/pkg/jobs"
	"github.com/prodforms/formcap-api/pkg/storage"
)

type exportJobStore interface {
	Create(ctx context.Context, job *models.ExportJob) error
	GetByID(ctx context.Context, id string) (*models.ExportJob, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]models.ExportJob, error)
	ListQueued(ctx context.Context, limit int) ([]models.ExportJob, error)
	MarkProcessing(ctx context.Context, id string) error
	UpdateProgress(ctx context.Context, id string, progress int) error
	MarkFinished(ctx context.Context, id, resultPath string) error
	MarkFailed(ctx context.Context, id, reason string) error
	DeleteFinishedBefore(ctx context.Context, cutoff time.Time) ([]string, error)
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

type exportEntrySource interface {
	GetByID(ctx context.Context, id string) (*models.FormEntry, error)
	List(ctx context.Context, filter models.EntryFilter) ([]models.FormEntry, int, error)
}

type fileStorage interface {
	Save(filename string, data []byte) (string, error)
	Open(filename string) (*os.File, error)
	Delete(filename string) error
	CleanupOlderThan(ttl time.Duration) ([]string, error)
}

type jobDispatcher interface {
	Enqueue(job jobs.Job) error
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfRenderer interface {
	Render(data export.Dataset, title string) ([]byte, error)
	RenderDocument(doc export.Document) ([]byte, error)
}

type xlsxRenderer interface {
	Render(data export.Dataset, sheet string) ([]byte, error)
	RenderDocument(doc export.Document) ([]byte, error)
}

// ExportConfig tunes export behaviour.
type ExportConfig struct {
	APIPrefix       string
	ResultTTL       time.Duration
	CleanupInterval time.Duration
	MaxRetries      int
}

// ExportDownload aggregates resolved download data.
type ExportDownload struct {
	File      *os.File
	Filename  string
	Format    models.ExportFormat
	ExpiresAt time.Time
}

// ExportService owns export jobs end to end: queueing, rendering entry
// documents and register tables, storing results, and signed downloads.
type ExportService struct {
	repo      exportJobStore
	entries   exportEntrySource
	templates entryTemplateSource
	storage   fileStorage
	signer    *storage.SignedURLSigner
	queue     jobDispatcher
	metrics   *MetricsService
	csv       csvRenderer
	pdf       pdfRenderer
	xlsx      xlsxRenderer
	validator *validator.Validate
	logger    *zap.Logger
	cfg       ExportConfig
}

// NewExportService constructs the export service.
func NewExportService(repo exportJobStore, entries exportEntrySource, templates entryTemplateSource, fileStore fileStorage, signer *storage.SignedURLSigner, queue jobDispatcher, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger, cfg ExportConfig) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = 24 * time.Hour
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	return &ExportService{
		repo:      repo,
		entries:   entries,
		templates: templates,
		storage:   fileStore,
		signer:    signer,
		queue:     queue,
		metrics:   metrics,
		csv:       export.NewCSVExporter(),
		pdf:       export.NewPDFExporter(),
		xlsx:      export.NewXLSXExporter(),
		validator: validate,
		logger:    logger,
		cfg:       cfg,
	}
}

// SetQueue wires the job dispatcher after construction. The worker needs the
// service and the queue needs the worker, so the queue is attached last.
func (s *ExportService) SetQueue(queue jobDispatcher) {
	s.queue = queue
}

// CreateJob validates the request, persists the job, and hands it to a worker.
func (s *ExportService) CreateJob(ctx context.Context, req dto.CreateExportRequest, claims *models.JWTClaims, meta models.LoginRequest) (*models.ExportJob, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid export payload")
	}

	switch req.Scope {
	case models.ExportScopeEntry:
		if req.EntryID == "" {
			return nil, appErrors.Clone(appErrors.ErrValidation, "entry_id is required for entry exports")
		}
		if req.Format == models.ExportFormatCSV {
			return nil, appErrors.Clone(appErrors.ErrValidation, "entry exports support pdf and xlsx only")
		}
		if _, err := s.entries.GetByID(ctx, req.EntryID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, appErrors.Clone(appErrors.ErrNotFound, "entry not found")
			}
			return nil, internalError(err, "failed to load entry")
		}
	case models.ExportScopeRegister:
		if req.TemplateID == "" {
			return nil, appErrors.Clone(appErrors.ErrValidation, "template_id is required for register exports")
		}
		if _, err := s.templates.Get(ctx, req.TemplateID); err != nil {
			return nil, err
		}
	}

	job := &models.ExportJob{
		Scope:     req.Scope,
		Params:    models.ExportJobParams{EntryID: req.EntryID, TemplateID: req.TemplateID, Format: req.Format},
		Status:    models.ExportStatusQueued,
		CreatedBy: claims.UserID,
	}
	if err := s.repo.Create(ctx, job); err != nil {
		return nil, internalError(err, "failed to create export job")
	}

	if err := s.queue.Enqueue(jobs.Job{ID: job.ID, Type: string(job.Scope)}); err != nil {
		if markErr := s.repo.MarkFailed(ctx, job.ID, "failed to enqueue job"); markErr != nil {
			s.logger.Warn("failed to mark export job failed", zap.String("job_id", job.ID), zap.Error(markErr))
		}
		return nil, internalError(err, "failed to enqueue export job")
	}

	s.metrics.RecordExportJob(job.Scope, "queued")

	newPayload, _ := json.Marshal(job.Params)
	if err := s.repo.CreateAuditLog(ctx, &models.AuditLog{
		UserID:     &claims.UserID,
		Action:     models.AuditActionExportCreate,
		Resource:   "export_jobs",
		ResourceID: &job.ID,
		NewValues:  newPayload,
		IPAddress:  meta.IP,
		UserAgent:  meta.UserAgent,
	}); err != nil {
		s.logger.Warn("failed to record export audit log", zap.Error(err))
	}

	return job, nil
}

// GetJob returns a job with its signed download URL when finished. Creators
// see their own jobs; admins see everything.
func (s *ExportService) GetJob(ctx context.Context, id string, claims *models.JWTClaims) (*dto.ExportJobResponse, error) {
	job, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "export job not found")
		}
		return nil, internalError(err, "failed to load export job")
	}
	if job.CreatedBy != claims.UserID && claims.Role != models.RoleAdmin && claims.Role != models.RoleSuperAdmin {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "export job belongs to another user")
	}

	resp := &dto.ExportJobResponse{Job: job}
	if job.Status == models.ExportStatusFinished && job.ResultPath != nil {
		token, _, err := s.signer.Generate(job.ID, *job.ResultPath)
		if err != nil {
			s.logger.Warn("failed to sign download url", zap.String("job_id", job.ID), zap.Error(err))
		} else {
			resp.DownloadURL = s.downloadURL(job.ID, token)
		}
	}
	return resp, nil
}

// ListJobs returns the caller's recent jobs.
func (s *ExportService) ListJobs(ctx context.Context, claims *models.JWTClaims, limit int) ([]models.ExportJob, error) {
	jobList, err := s.repo.ListByUser(ctx, claims.UserID, limit)
	if err != nil {
		return nil, internalError(err, "failed to list export jobs")
	}
	return jobList, nil
}

// ResolveDownload validates a signed token against the requested job and
// opens the stored file.
func (s *ExportService) ResolveDownload(ctx context.Context, id, token string) (*ExportDownload, error) {
	jobID, relPath, expiresAt, err := s.signer.Parse(token, false)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "invalid or expired download token")
	}
	if jobID != id {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "token does not match export job")
	}
	job, err := s.repo.GetByID(ctx, jobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "export job not found")
		}
		return nil, internalError(err, "failed to load export job")
	}
	if job.Status != models.ExportStatusFinished || job.ResultPath == nil || *job.ResultPath != relPath {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "export not ready")
	}
	file, err := s.storage.Open(relPath)
	if err != nil {
		return nil, internalError(err, "failed to open export file")
	}
	return &ExportDownload{
		File:      file,
		Filename:  filepath.Base(relPath),
		Format:    job.Params.Format,
		ExpiresAt: expiresAt,
	}, nil
}

// Generate renders the job's payload and stores the file, returning the
// relative path of the stored result.
func (s *ExportService) Generate(ctx context.Context, job *models.ExportJob) (string, error) {
	if job == nil {
		return "", fmt.Errorf("job nil")
	}

	var payload []byte
	var err error
	switch job.Scope {
	case models.ExportScopeEntry:
		payload, err = s.renderEntry(ctx, job)
	case models.ExportScopeRegister:
		payload, err = s.renderRegister(ctx, job)
	default:
		err = fmt.Errorf("unsupported export scope %s", job.Scope)
	}
	if err != nil {
		return "", err
	}

	relPath, err := s.storage.Save(s.buildFilename(job), payload)
	if err != nil {
		return "", err
	}
	return relPath, nil
}

// RecoverPendingJobs replays queued jobs (e.g. after process restart).
func (s *ExportService) RecoverPendingJobs(ctx context.Context) {
	pending, err := s.repo.ListQueued(ctx, 50)
	if err != nil {
		s.logger.Warn("failed to recover queued export jobs", zap.Error(err))
		return
	}
	for _, job := range pending {
		if err := s.queue.Enqueue(jobs.Job{ID: job.ID, Type: string(job.Scope)}); err != nil {
			s.logger.Warn("failed to requeue pending export job", zap.String("job_id", job.ID), zap.Error(err))
		}
	}
}

// StartCleanup boots a goroutine that purges expired exports periodically.
func (s *ExportService) StartCleanup(ctx context.Context) {
	if s.cfg.CleanupInterval <= 0 {
		return
	}
	ticker := time.NewTicker(s.cfg.CleanupInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.cleanupExpired(ctx)
			}
		}
	}()
}

func (s *ExportService) cleanupExpired(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-s.cfg.ResultTTL)
	paths, err := s.repo.DeleteFinishedBefore(ctx, cutoff)
	if err != nil {
		s.logger.Warn("export cleanup failed", zap.Error(err))
		return
	}
	for _, relPath := range paths {
		if err := s.storage.Delete(relPath); err != nil {
			s.logger.Warn("export file delete failed", zap.String("path", relPath), zap.Error(err))
		}
	}
	if _, err := s.storage.CleanupOlderThan(s.cfg.ResultTTL); err != nil {
		s.logger.Warn("filesystem cleanup failed", zap.Error(err))
	}
}

func (s *ExportService) renderEntry(ctx context.Context, job *models.ExportJob) ([]byte, error) {
	entry, err := s.entries.GetByID(ctx, job.Params.EntryID)
	if err != nil {
		return nil, fmt.Errorf("load entry %s: %w", job.Params.EntryID, err)
	}
	template, err := s.templates.Get(ctx, entry.FormTemplateID)
	if err != nil {
		return nil, fmt.Errorf("load template %s: %w", entry.FormTemplateID, err)
	}

	doc := forms.Flatten(template, entry, s.logger)
	switch job.Params.Format {
	case models.ExportFormatPDF:
		return s.pdf.RenderDocument(doc)
	case models.ExportFormatXLSX:
		return s.xlsx.RenderDocument(doc)
	default:
		return nil, fmt.Errorf("unsupported entry export format %s", job.Params.Format)
	}
}

func (s *ExportService) renderRegister(ctx context.Context, job *models.ExportJob) ([]byte, error) {
	template, err := s.templates.Get(ctx, job.Params.TemplateID)
	if err != nil {
		return nil, fmt.Errorf("load template %s: %w", job.Params.TemplateID, err)
	}

	dataset, err := s.buildRegisterDataset(ctx, template)
	if err != nil {
		return nil, err
	}

	title := fmt.Sprintf("Registro %s", template.Name)
	switch job.Params.Format {
	case models.ExportFormatCSV:
		return s.csv.Render(dataset)
	case models.ExportFormatPDF:
		return s.pdf.Render(dataset, title)
	case models.ExportFormatXLSX:
		return s.xlsx.Render(dataset, "Registro")
	default:
		return nil, fmt.Errorf("unsupported register export format %s", job.Params.Format)
	}
}

// buildRegisterDataset flattens every entry of a template into one table.
// Table fields are skipped; a register row is one cell per scalar field.
func (s *ExportService) buildRegisterDataset(ctx context.Context, template *models.FormTemplate) (export.Dataset, error) {
	headers := []string{"Lote", "Estado", "Creado"}
	var scalarFields []models.Field
	for _, field := range template.Structure {
		if field.Type == models.FieldTypeTable || field.Type == models.FieldTypeAdvancedTable {
			continue
		}
		scalarFields = append(scalarFields, field)
		headers = append(headers, field.Label)
	}

	page := 1
	rows := make([]map[string]string, 0, 64)
	for {
		entries, total, err := s.entries.List(ctx, models.EntryFilter{
			TemplateID: template.ID,
			Page:       page,
			PageSize:   100,
		})
		if err != nil {
			return export.Dataset{}, fmt.Errorf("list entries for template %s: %w", template.ID, err)
		}
		for i := range entries {
			entry := &entries[i]
			row := map[string]string{
				"Lote":   entry.LotNumber,
				"Estado": string(entry.Status),
				"Creado": entry.CreatedAt.UTC().Format("02/01/2006 15:04"),
			}
			for _, field := range scalarFields {
				row[field.Label] = forms.DisplayValue(field, entry.Data[field.ID], s.logger)
			}
			rows = append(rows, row)
		}
		if len(rows) >= total || len(entries) == 0 {
			break
		}
		page++
	}

	return export.Dataset{Headers: headers, Rows: rows}, nil
}

func (s *ExportService) buildFilename(job *models.ExportJob) string {
	timestamp := time.Now().UTC().Format("20060102_150405")
	scope := strings.ToLower(string(job.Scope))
	return fmt.Sprintf("%s_%s_%s.%s", scope, job.ID, timestamp, job.Params.Format)
}

func (s *ExportService) downloadURL(jobID, token string) string {
	prefix := strings.TrimRight(s.cfg.APIPrefix, "/")
	if prefix == "" {
		prefix = "/api/v1"
	}
	return fmt.Sprintf("%s/exports/%s/download?token=%s", prefix, jobID, token)
}

// ExportWorker bridges queue jobs to the export service.
type ExportWorker struct {
	repo       exportJobStore
	exporter   *ExportService
	metrics    *MetricsService
	logger     *zap.Logger
	maxRetries int
}

// NewExportWorker constructs a worker.
func NewExportWorker(repo exportJobStore, exporter *ExportService, metrics *MetricsService, maxRetries int, logger *zap.Logger) *ExportWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &ExportWorker{repo: repo, exporter: exporter, metrics: metrics, maxRetries: maxRetries, logger: logger}
}

// Handle processes one queue job.
func (w *ExportWorker) Handle(ctx context.Context, job jobs.Job) error {
	record, err := w.repo.GetByID(ctx, job.ID)
	if err != nil {
		return err
	}

	if err := w.repo.MarkProcessing(ctx, job.ID); err != nil {
		if errors.Is(err, sql.ErrNoRows) && job.Attempt == 0 {
			// Another worker already claimed it.
			return nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}
	}
	if err := w.repo.UpdateProgress(ctx, job.ID, 10); err != nil {
		w.logger.Warn("failed to update export progress", zap.String("job_id", job.ID), zap.Error(err))
	}

	relPath, err := w.exporter.Generate(ctx, record)
	if err != nil {
		if job.Attempt >= w.maxRetries {
			if markErr := w.repo.MarkFailed(ctx, job.ID, err.Error()); markErr != nil {
				w.logger.Warn("failed to mark export job failed", zap.String("job_id", job.ID), zap.Error(markErr))
			}
			w.metrics.RecordExportJob(record.Scope, "failed")
		}
		return err
	}

	if err := w.repo.MarkFinished(ctx, job.ID, relPath); err != nil {
		return err
	}
	w.metrics.RecordExportJob(record.Scope, "finished")
	return nil
}
