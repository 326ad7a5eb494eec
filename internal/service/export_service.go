package service

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/referral-portal-api/internal/dto"
	"github.com/noah-isme/referral-portal-api/internal/models"
	"github.com/noah-isme/referral-portal-api/internal/repository"
	appErrors "github.com/noah-isme/referral-portal-api/pkg/errors"
	"github.com/noah-isme/referral-portal-api/pkg/export"
	"github.com/noah-isme/referral-portal-api/pkg/jobs"
)

type exportJobStore interface {
	Create(ctx context.Context, job *models.ExportJob) error
	GetByID(ctx context.Context, id string) (*models.ExportJob, error)
	Update(ctx context.Context, id string, params repository.UpdateExportJobParams) error
}

type exportDocumentStore interface {
	GetByID(ctx context.Context, id string) (*models.Document, error)
}

type exportEventStore interface {
	ListByDocument(ctx context.Context, documentID string) ([]models.Event, error)
}

type exportEnqueuer interface {
	Enqueue(job jobs.Job) error
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfRenderer interface {
	Render(data export.Dataset, title string) ([]byte, error)
}

type exportMetrics interface {
	RecordExportJob(status string)
}

// ExportService produces downloadable audit trails of a document's event
// timeline. Jobs run on the background queue; clients poll for status and
// fetch the result through a signed URL.
type ExportService struct {
	repo      exportJobStore
	documents exportDocumentStore
	events    exportEventStore
	queue     exportEnqueuer
	storage   documentFileStorage
	signer    documentSignedURLSigner
	csv       csvRenderer
	pdf       pdfRenderer
	audit     auditLogger
	metrics   exportMetrics
	logger    *zap.Logger
	apiPrefix string
}

// NewExportService constructs the service. Attach the queue after
// construction with SetQueue: the queue handler closes over the service.
func NewExportService(repo exportJobStore, documents exportDocumentStore, events exportEventStore, storage documentFileStorage, signer documentSignedURLSigner, csv csvRenderer, pdf pdfRenderer, audit auditLogger, metrics exportMetrics, logger *zap.Logger, apiPrefix string) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if apiPrefix == "" {
		apiPrefix = "/api/v1"
	}
	return &ExportService{
		repo:      repo,
		documents: documents,
		events:    events,
		storage:   storage,
		signer:    signer,
		csv:       csv,
		pdf:       pdf,
		audit:     audit,
		metrics:   metrics,
		logger:    logger,
		apiPrefix: apiPrefix,
	}
}

// SetQueue wires the background queue used for processing.
func (s *ExportService) SetQueue(queue exportEnqueuer) {
	s.queue = queue
}

// JobType names export jobs on the shared queue.
const JobType = "document_export"

// CreateExport queues an export of the document's audit trail.
func (s *ExportService) CreateExport(ctx context.Context, documentID string, req dto.CreateExportRequest, actor *models.JWTClaims) (*dto.ExportStatusResponse, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if s.queue == nil {
		return nil, appErrors.Clone(appErrors.ErrInternal, "export queue unavailable")
	}
	if _, err := s.documents.GetByID(ctx, documentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "document not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch document")
	}

	job := &models.ExportJob{
		DocumentID: documentID,
		Params: models.ExportJobParams{
			Format: models.ExportFormat(strings.ToLower(req.Format)),
			Title:  req.Title,
		},
		Status:    models.ExportStatusQueued,
		CreatedBy: actor.UserID,
	}
	if err := s.repo.Create(ctx, job); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create export job")
	}
	if err := s.queue.Enqueue(jobs.Job{ID: job.ID, Type: JobType, Payload: job.ID}); err != nil {
		failed := models.ExportStatusFailed
		msg := "failed to enqueue export"
		_ = s.repo.Update(ctx, job.ID, repository.UpdateExportJobParams{Status: &failed, ErrorMessage: &msg})
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to enqueue export")
	}

	if s.audit != nil {
		if err := s.audit.CreateAuditLog(ctx, &models.AuditLog{
			UserID:     &actor.UserID,
			Action:     models.AuditActionExportCreate,
			Resource:   "export_job",
			ResourceID: &job.ID,
			NewValues:  []byte(fmt.Sprintf(`{"document_id":%q,"format":%q}`, documentID, job.Params.Format)),
		}); err != nil {
			s.logger.Warn("failed to write audit log", zap.Error(err))
		}
	}
	return statusResponse(job), nil
}

// GetStatus returns the job's current progress.
func (s *ExportService) GetStatus(ctx context.Context, jobID string, actor *models.JWTClaims) (*dto.ExportStatusResponse, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	job, err := s.loadJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return statusResponse(job), nil
}

// Download validates the signed token and streams the rendered file.
func (s *ExportService) Download(ctx context.Context, jobID, token string) (*DocumentDownload, error) {
	if s.signer == nil {
		return nil, appErrors.Clone(appErrors.ErrInternal, "download signer unavailable")
	}
	job, err := s.loadJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != models.ExportStatusFinished {
		return nil, appErrors.Clone(appErrors.ErrConflict, "export not finished")
	}
	tokenJobID, relPath, expiresAt, err := s.signer.Parse(token, false)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "invalid or expired token")
	}
	if tokenJobID != job.ID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "token mismatch")
	}
	file, err := s.storage.Open(relPath)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open export file")
	}
	info, err := file.Stat()
	if err != nil {
		file.Close() //nolint:errcheck
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read export metadata")
	}
	return &DocumentDownload{
		File:      file,
		Filename:  exportFilename(job),
		MimeType:  exportMime(job.Params.Format),
		SizeBytes: info.Size(),
		ExpiresAt: expiresAt,
	}, nil
}

// Process is the queue handler: it renders the audit trail and publishes
// the signed result URL. Errors bubble up so the queue can retry.
func (s *ExportService) Process(ctx context.Context, job jobs.Job) error {
	jobID, ok := job.Payload.(string)
	if !ok || jobID == "" {
		return fmt.Errorf("export job %s: missing payload", job.ID)
	}
	record, err := s.repo.GetByID(ctx, jobID)
	if err != nil {
		return fmt.Errorf("export job %s: load: %w", jobID, err)
	}
	if err := s.markProcessing(ctx, record.ID); err != nil {
		return err
	}

	if err := s.render(ctx, record); err != nil {
		s.fail(ctx, record.ID, err)
		if s.metrics != nil {
			s.metrics.RecordExportJob(string(models.ExportStatusFailed))
		}
		return err
	}
	if s.metrics != nil {
		s.metrics.RecordExportJob(string(models.ExportStatusFinished))
	}
	return nil
}

func (s *ExportService) render(ctx context.Context, record *models.ExportJob) error {
	events, err := s.events.ListByDocument(ctx, record.DocumentID)
	if err != nil {
		return fmt.Errorf("load events: %w", err)
	}
	dataset := auditTrailDataset(events)
	s.progress(ctx, record.ID, 40)

	var data []byte
	switch record.Params.Format {
	case models.ExportFormatPDF:
		data, err = s.pdf.Render(dataset, record.Params.Title)
	default:
		data, err = s.csv.Render(dataset)
	}
	if err != nil {
		return fmt.Errorf("render %s: %w", record.Params.Format, err)
	}
	s.progress(ctx, record.ID, 70)

	filename := fmt.Sprintf("export_%s_%d%s", sanitize(record.DocumentID), time.Now().Unix(), exportExtension(record.Params.Format))
	path, err := s.storage.SaveStream(filename, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("store export: %w", err)
	}

	token, _, err := s.signer.Generate(record.ID, path)
	if err != nil {
		return fmt.Errorf("sign export url: %w", err)
	}
	base := strings.TrimRight(s.apiPrefix, "/")
	url := fmt.Sprintf("%s/exports/%s/download?token=%s", base, record.ID, token)

	finished := models.ExportStatusFinished
	progress := 100
	now := time.Now().UTC()
	if err := s.repo.Update(ctx, record.ID, repository.UpdateExportJobParams{
		Status:     &finished,
		Progress:   &progress,
		ResultURL:  &url,
		FinishedAt: &now,
	}); err != nil {
		return fmt.Errorf("finish export job: %w", err)
	}
	return nil
}

// auditTrailDataset flattens ACTIVE events into the export table.
func auditTrailDataset(events []models.Event) export.Dataset {
	headers := []string{"Seq", "Recorded At", "Action", "Actor", "Target", "Comment"}
	rows := make([]map[string]string, 0, len(events))
	for _, ev := range events {
		if !ev.IsActive() {
			continue
		}
		row := map[string]string{
			"Seq":         fmt.Sprintf("%d", ev.Seq),
			"Recorded At": ev.RecordedAt.UTC().Format(time.RFC3339),
			"Action":      string(ev.Verb),
			"Actor":       ev.ActorName,
		}
		switch {
		case ev.Payload.ValidationRequest != nil:
			req := ev.Payload.ValidationRequest
			row["Target"] = fmt.Sprintf("%s @ %s", req.ReceiverRole, req.ReceiverUnit)
			row["Comment"] = req.Comment
		case ev.Payload.Response != nil:
			row["Target"] = string(ev.Payload.Response.SenderRole)
			row["Comment"] = ev.Payload.Response.Comment
		case ev.Payload.Upload != nil:
			row["Target"] = ev.Payload.Upload.FileName
		}
		rows = append(rows, row)
	}
	return export.Dataset{Headers: headers, Rows: rows}
}

func (s *ExportService) loadJob(ctx context.Context, jobID string) (*models.ExportJob, error) {
	job, err := s.repo.GetByID(ctx, jobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "export job not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch export job")
	}
	return job, nil
}

func (s *ExportService) markProcessing(ctx context.Context, jobID string) error {
	processing := models.ExportStatusProcessing
	progress := 10
	if err := s.repo.Update(ctx, jobID, repository.UpdateExportJobParams{Status: &processing, Progress: &progress}); err != nil {
		return fmt.Errorf("mark export processing: %w", err)
	}
	return nil
}

func (s *ExportService) progress(ctx context.Context, jobID string, pct int) {
	if err := s.repo.Update(ctx, jobID, repository.UpdateExportJobParams{Progress: &pct}); err != nil {
		s.logger.Warn("failed to update export progress", zap.String("job_id", jobID), zap.Error(err))
	}
}

func (s *ExportService) fail(ctx context.Context, jobID string, cause error) {
	failed := models.ExportStatusFailed
	msg := cause.Error()
	now := time.Now().UTC()
	if err := s.repo.Update(ctx, jobID, repository.UpdateExportJobParams{Status: &failed, ErrorMessage: &msg, FinishedAt: &now}); err != nil {
		s.logger.Warn("failed to mark export failed", zap.String("job_id", jobID), zap.Error(err))
	}
}

func statusResponse(job *models.ExportJob) *dto.ExportStatusResponse {
	return &dto.ExportStatusResponse{
		ID:           job.ID,
		DocumentID:   job.DocumentID,
		Status:       string(job.Status),
		Progress:     job.Progress,
		ResultURL:    job.ResultURL,
		ErrorMessage: job.ErrorMessage,
	}
}

func exportExtension(format models.ExportFormat) string {
	if format == models.ExportFormatPDF {
		return ".pdf"
	}
	return ".csv"
}

func exportMime(format models.ExportFormat) string {
	if format == models.ExportFormatPDF {
		return "application/pdf"
	}
	return "text/csv"
}

func exportFilename(job *models.ExportJob) string {
	return fmt.Sprintf("audit-trail-%s%s", job.DocumentID, exportExtension(job.Params.Format))
}

