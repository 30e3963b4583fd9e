package service

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/prodforms/formcap-api/internal/dto"
	"github.com/prodforms/formcap-api/internal/models"
	appErrors "github.com/prodforms/formcap-api/pkg/errors"
	"github.com/prodforms/formcap-api/pkg/jobs"
	"github.com/prodforms/formcap-api/pkg/storage"
)

type exportJobStoreStub struct {
	jobs map[string]*models.ExportJob
	logs []*models.AuditLog
}

func newExportJobStoreStub() *exportJobStoreStub {
	return &exportJobStoreStub{jobs: make(map[string]*models.ExportJob)}
}

func (s *exportJobStoreStub) Create(ctx context.Context, job *models.ExportJob) error {
	if job.ID == "" {
		job.ID = fmt.Sprintf("job-%d", len(s.jobs)+1)
	}
	s.jobs[job.ID] = job
	return nil
}

func (s *exportJobStoreStub) GetByID(ctx context.Context, id string) (*models.ExportJob, error) {
	if job, ok := s.jobs[id]; ok {
		copy := *job
		return &copy, nil
	}
	return nil, sql.ErrNoRows
}

func (s *exportJobStoreStub) ListByUser(ctx context.Context, userID string, limit int) ([]models.ExportJob, error) {
	result := make([]models.ExportJob, 0, len(s.jobs))
	for _, job := range s.jobs {
		if job.CreatedBy == userID {
			result = append(result, *job)
		}
	}
	return result, nil
}

func (s *exportJobStoreStub) ListQueued(ctx context.Context, limit int) ([]models.ExportJob, error) {
	result := make([]models.ExportJob, 0, len(s.jobs))
	for _, job := range s.jobs {
		if job.Status == models.ExportStatusQueued {
			result = append(result, *job)
		}
	}
	return result, nil
}

func (s *exportJobStoreStub) MarkProcessing(ctx context.Context, id string) error {
	job, ok := s.jobs[id]
	if !ok || job.Status != models.ExportStatusQueued {
		return sql.ErrNoRows
	}
	job.Status = models.ExportStatusProcessing
	return nil
}

func (s *exportJobStoreStub) UpdateProgress(ctx context.Context, id string, progress int) error {
	job, ok := s.jobs[id]
	if !ok {
		return sql.ErrNoRows
	}
	job.Progress = progress
	return nil
}

func (s *exportJobStoreStub) MarkFinished(ctx context.Context, id, resultPath string) error {
	job, ok := s.jobs[id]
	if !ok {
		return sql.ErrNoRows
	}
	job.Status = models.ExportStatusFinished
	job.Progress = 100
	job.ResultPath = &resultPath
	return nil
}

func (s *exportJobStoreStub) MarkFailed(ctx context.Context, id, reason string) error {
	job, ok := s.jobs[id]
	if !ok {
		return sql.ErrNoRows
	}
	job.Status = models.ExportStatusFailed
	job.Error = &reason
	return nil
}

func (s *exportJobStoreStub) DeleteFinishedBefore(ctx context.Context, cutoff time.Time) ([]string, error) {
	return nil, nil
}

func (s *exportJobStoreStub) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	s.logs = append(s.logs, log)
	return nil
}

type entrySourceStub struct {
	entries map[string]*models.FormEntry
}

func (s *entrySourceStub) GetByID(ctx context.Context, id string) (*models.FormEntry, error) {
	if entry, ok := s.entries[id]; ok {
		return entry, nil
	}
	return nil, sql.ErrNoRows
}

func (s *entrySourceStub) List(ctx context.Context, filter models.EntryFilter) ([]models.FormEntry, int, error) {
	result := make([]models.FormEntry, 0, len(s.entries))
	for _, entry := range s.entries {
		if filter.TemplateID == "" || entry.FormTemplateID == filter.TemplateID {
			result = append(result, *entry)
		}
	}
	if filter.Page > 1 {
		return nil, len(result), nil
	}
	return result, len(result), nil
}

type fileStorageStub struct {
	files map[string][]byte
}

func newFileStorageStub() *fileStorageStub {
	return &fileStorageStub{files: make(map[string][]byte)}
}

func (s *fileStorageStub) Save(filename string, data []byte) (string, error) {
	relPath := "exports/" + filename
	s.files[relPath] = data
	return relPath, nil
}

func (s *fileStorageStub) Open(filename string) (*os.File, error) {
	raw, ok := s.files[filename]
	if !ok {
		return nil, os.ErrNotExist
	}
	file, err := os.CreateTemp("", "export-test-*")
	if err != nil {
		return nil, err
	}
	if _, err := file.Write(raw); err != nil {
		file.Close()
		return nil, err
	}
	if _, err := file.Seek(0, 0); err != nil {
		file.Close()
		return nil, err
	}
	return file, nil
}

func (s *fileStorageStub) Delete(filename string) error {
	delete(s.files, filename)
	return nil
}

func (s *fileStorageStub) CleanupOlderThan(ttl time.Duration) ([]string, error) {
	return nil, nil
}

type queueStub struct {
	enqueued []jobs.Job
	fail     bool
}

func (q *queueStub) Enqueue(job jobs.Job) error {
	if q.fail {
		return fmt.Errorf("queue full")
	}
	q.enqueued = append(q.enqueued, job)
	return nil
}

type exportFixture struct {
	svc     *ExportService
	repo    *exportJobStoreStub
	entries *entrySourceStub
	files   *fileStorageStub
	queue   *queueStub
}

func newExportFixture() *exportFixture {
	repo := newExportJobStoreStub()
	entries := &entrySourceStub{entries: map[string]*models.FormEntry{
		"entry-1": {
			ID:             "entry-1",
			FormTemplateID: "tpl-1",
			Status:         models.StatusCompleted,
			LotNumber:      "L-204",
			Data:           models.EntryData{"operator": "C. Vega", "qc_result": "conforme"},
			CreatedBy:      "user-1",
		},
	}}
	templates := &templateSourceStub{templates: map[string]*models.FormTemplate{"tpl-1": batchTemplate()}}
	files := newFileStorageStub()
	queue := &queueStub{}
	signer := storage.NewSignedURLSigner("test-secret", time.Hour)
	svc := NewExportService(repo, entries, templates, files, signer, queue, nil, nil, nil, ExportConfig{})
	return &exportFixture{svc: svc, repo: repo, entries: entries, files: files, queue: queue}
}

func TestExportServiceCreateJobValidatesScope(t *testing.T) {
	fx := newExportFixture()
	claims := claimsFor(models.RoleQualityManager)

	_, err := fx.svc.CreateJob(context.Background(), dto.CreateExportRequest{
		Scope: models.ExportScopeEntry, Format: models.ExportFormatPDF,
	}, claims, models.LoginRequest{})
	require.Error(t, err)
	require.Contains(t, appErrors.FromError(err).Message, "entry_id")

	_, err = fx.svc.CreateJob(context.Background(), dto.CreateExportRequest{
		Scope: models.ExportScopeEntry, EntryID: "entry-1", Format: models.ExportFormatCSV,
	}, claims, models.LoginRequest{})
	require.Error(t, err)
	require.Contains(t, appErrors.FromError(err).Message, "pdf and xlsx")

	_, err = fx.svc.CreateJob(context.Background(), dto.CreateExportRequest{
		Scope: models.ExportScopeRegister, Format: models.ExportFormatCSV,
	}, claims, models.LoginRequest{})
	require.Error(t, err)
	require.Contains(t, appErrors.FromError(err).Message, "template_id")
}

func TestExportServiceCreateJobEnqueues(t *testing.T) {
	fx := newExportFixture()

	job, err := fx.svc.CreateJob(context.Background(), dto.CreateExportRequest{
		Scope: models.ExportScopeRegister, TemplateID: "tpl-1", Format: models.ExportFormatCSV,
	}, claimsFor(models.RoleAdmin), models.LoginRequest{})
	require.NoError(t, err)
	require.Equal(t, models.ExportStatusQueued, job.Status)
	require.Len(t, fx.queue.enqueued, 1)
	require.Equal(t, job.ID, fx.queue.enqueued[0].ID)
	require.Len(t, fx.repo.logs, 1)
	require.Equal(t, models.AuditActionExportCreate, fx.repo.logs[0].Action)
}

func TestExportServiceCreateJobMarksFailedOnEnqueueError(t *testing.T) {
	fx := newExportFixture()
	fx.queue.fail = true

	_, err := fx.svc.CreateJob(context.Background(), dto.CreateExportRequest{
		Scope: models.ExportScopeRegister, TemplateID: "tpl-1", Format: models.ExportFormatCSV,
	}, claimsFor(models.RoleAdmin), models.LoginRequest{})
	require.Error(t, err)
	require.Len(t, fx.repo.jobs, 1)
	for _, stored := range fx.repo.jobs {
		require.Equal(t, models.ExportStatusFailed, stored.Status)
	}
}

func TestExportWorkerFinishesRegisterExport(t *testing.T) {
	fx := newExportFixture()
	fx.repo.jobs["job-1"] = &models.ExportJob{
		ID:        "job-1",
		Scope:     models.ExportScopeRegister,
		Params:    models.ExportJobParams{TemplateID: "tpl-1", Format: models.ExportFormatCSV},
		Status:    models.ExportStatusQueued,
		CreatedBy: "user-1",
	}
	worker := NewExportWorker(fx.repo, fx.svc, nil, 3, nil)

	err := worker.Handle(context.Background(), jobs.Job{ID: "job-1"})
	require.NoError(t, err)

	stored := fx.repo.jobs["job-1"]
	require.Equal(t, models.ExportStatusFinished, stored.Status)
	require.Equal(t, 100, stored.Progress)
	require.NotNil(t, stored.ResultPath)

	payload := fx.files.files[*stored.ResultPath]
	require.Contains(t, string(payload), "Lote")
	require.Contains(t, string(payload), "C. Vega")
}

func TestExportWorkerRetriesBeforeFailing(t *testing.T) {
	fx := newExportFixture()
	fx.repo.jobs["job-1"] = &models.ExportJob{
		ID:        "job-1",
		Scope:     models.ExportScopeEntry,
		Params:    models.ExportJobParams{EntryID: "missing", Format: models.ExportFormatPDF},
		Status:    models.ExportStatusQueued,
		CreatedBy: "user-1",
	}
	worker := NewExportWorker(fx.repo, fx.svc, nil, 2, nil)

	err := worker.Handle(context.Background(), jobs.Job{ID: "job-1", Attempt: 0})
	require.Error(t, err)
	require.Equal(t, models.ExportStatusProcessing, fx.repo.jobs["job-1"].Status)

	err = worker.Handle(context.Background(), jobs.Job{ID: "job-1", Attempt: 2})
	require.Error(t, err)
	require.Equal(t, models.ExportStatusFailed, fx.repo.jobs["job-1"].Status)
	require.NotNil(t, fx.repo.jobs["job-1"].Error)
}

func TestExportWorkerSkipsAlreadyClaimedJob(t *testing.T) {
	fx := newExportFixture()
	fx.repo.jobs["job-1"] = &models.ExportJob{
		ID:     "job-1",
		Scope:  models.ExportScopeRegister,
		Params: models.ExportJobParams{TemplateID: "tpl-1", Format: models.ExportFormatCSV},
		Status: models.ExportStatusProcessing,
	}
	worker := NewExportWorker(fx.repo, fx.svc, nil, 3, nil)

	err := worker.Handle(context.Background(), jobs.Job{ID: "job-1", Attempt: 0})
	require.NoError(t, err)
	require.Equal(t, models.ExportStatusProcessing, fx.repo.jobs["job-1"].Status)
}

func TestExportServiceGetJobOwnership(t *testing.T) {
	fx := newExportFixture()
	resultPath := "exports/register_job-1.csv"
	fx.files.files[resultPath] = []byte("Lote\n")
	fx.repo.jobs["job-1"] = &models.ExportJob{
		ID:         "job-1",
		Scope:      models.ExportScopeRegister,
		Params:     models.ExportJobParams{TemplateID: "tpl-1", Format: models.ExportFormatCSV},
		Status:     models.ExportStatusFinished,
		Progress:   100,
		ResultPath: &resultPath,
		CreatedBy:  "user-1",
	}

	stranger := &models.JWTClaims{UserID: "user-2", Role: models.RoleQuality}
	_, err := fx.svc.GetJob(context.Background(), "job-1", stranger)
	require.Error(t, err)
	require.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	owner := &models.JWTClaims{UserID: "user-1", Role: models.RoleQuality}
	resp, err := fx.svc.GetJob(context.Background(), "job-1", owner)
	require.NoError(t, err)
	require.Contains(t, resp.DownloadURL, "/exports/job-1/download?token=")

	admin := &models.JWTClaims{UserID: "user-3", Role: models.RoleAdmin}
	_, err = fx.svc.GetJob(context.Background(), "job-1", admin)
	require.NoError(t, err)
}

func TestExportServiceResolveDownload(t *testing.T) {
	fx := newExportFixture()
	resultPath := "exports/register_job-1.csv"
	fx.files.files[resultPath] = []byte("Lote,Estado\nL-204,COMPLETED\n")
	fx.repo.jobs["job-1"] = &models.ExportJob{
		ID:         "job-1",
		Scope:      models.ExportScopeRegister,
		Params:     models.ExportJobParams{TemplateID: "tpl-1", Format: models.ExportFormatCSV},
		Status:     models.ExportStatusFinished,
		ResultPath: &resultPath,
		CreatedBy:  "user-1",
	}

	resp, err := fx.svc.GetJob(context.Background(), "job-1", &models.JWTClaims{UserID: "user-1", Role: models.RoleQuality})
	require.NoError(t, err)
	require.Contains(t, resp.DownloadURL, "/api/v1/exports/job-1/download?token=")

	parsed, err := url.Parse(resp.DownloadURL)
	require.NoError(t, err)
	token := parsed.Query().Get("token")
	require.NotEmpty(t, token)

	download, err := fx.svc.ResolveDownload(context.Background(), "job-1", token)
	require.NoError(t, err)
	defer download.File.Close()
	require.Equal(t, "register_job-1.csv", download.Filename)
	require.Equal(t, models.ExportFormatCSV, download.Format)

	_, err = fx.svc.ResolveDownload(context.Background(), "other-job", token)
	require.Error(t, err)
	require.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	_, err = fx.svc.ResolveDownload(context.Background(), "job-1", "not.a.real.token")
	require.Error(t, err)
	require.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestExportServiceRecoverPendingJobs(t *testing.T) {
	fx := newExportFixture()
	fx.repo.jobs["job-1"] = &models.ExportJob{ID: "job-1", Scope: models.ExportScopeRegister, Status: models.ExportStatusQueued}
	fx.repo.jobs["job-2"] = &models.ExportJob{ID: "job-2", Scope: models.ExportScopeEntry, Status: models.ExportStatusFinished}

	fx.svc.RecoverPendingJobs(context.Background())
	require.Len(t, fx.queue.enqueued, 1)
	require.Equal(t, "job-1", fx.queue.enqueued[0].ID)
}
