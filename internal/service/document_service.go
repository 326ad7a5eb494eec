package service

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/referral-portal-api/internal/dto"
	"github.com/noah-isme/referral-portal-api/internal/models"
	"github.com/noah-isme/referral-portal-api/internal/workflow"
	appErrors "github.com/noah-isme/referral-portal-api/pkg/errors"
)

type documentStore interface {
	Create(ctx context.Context, doc *models.Document) error
	GetByID(ctx context.Context, id string) (*models.Document, error)
	ReplaceFile(ctx context.Context, id, fileName, filePath, mimeType string, fileSize int64, updatedAt time.Time) error
}

type documentEventStore interface {
	Append(ctx context.Context, event *models.Event) error
	ListByDocument(ctx context.Context, documentID string) ([]models.Event, error)
}

type documentReferralStore interface {
	GetByDocumentID(ctx context.Context, documentID string) (*models.Referral, error)
	GetByReportID(ctx context.Context, reportID string) (*models.Referral, error)
}

type documentUnitStore interface {
	IsOrganizer(ctx context.Context, referralID, userID string) (bool, error)
}

type documentFileStorage interface {
	SaveStream(filename string, r io.Reader) (string, error)
	Open(filename string) (*os.File, error)
	Delete(filename string) error
}

type documentSignedURLSigner interface {
	Generate(id, relPath string) (string, time.Time, error)
	Parse(token string, allowExpired bool) (id, relPath string, expiresAt time.Time, err error)
}

// DocumentUpload carries upload metadata and the stream reader.
type DocumentUpload struct {
	Filename string
	Size     int64
	MimeType string
	Content  io.ReadSeeker
}

// DocumentDownload bundles file reader metadata for streaming.
type DocumentDownload struct {
	File      *os.File
	Filename  string
	MimeType  string
	SizeBytes int64
	ExpiresAt time.Time
}

// DocumentServiceConfig holds upload validation parameters.
type DocumentServiceConfig struct {
	MaxFileSize  int64
	AllowedMIMEs []string
	APIPrefix    string
}

// DocumentService manages version and appendix files: upload, in-place
// replacement, event history, and signed downloads. Every mutation is
// recorded as an event so derived state follows automatically.
type DocumentService struct {
	documents documentStore
	events    documentEventStore
	referrals documentReferralStore
	units     documentUnitStore
	storage   documentFileStorage
	signer    documentSignedURLSigner
	reports   reportViewBuilder
	engine    *workflow.Engine
	audit     auditLogger
	metrics   workflowMetrics
	logger    *zap.Logger
	cfg       DocumentServiceConfig
	mimeSet   map[string]struct{}
}

// NewDocumentService constructs the service with defaults.
func NewDocumentService(documents documentStore, events documentEventStore, referrals documentReferralStore, units documentUnitStore, storage documentFileStorage, signer documentSignedURLSigner, reports reportViewBuilder, engine *workflow.Engine, audit auditLogger, metrics workflowMetrics, logger *zap.Logger, cfg DocumentServiceConfig) *DocumentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = 25 * 1024 * 1024
	}
	if len(cfg.AllowedMIMEs) == 0 {
		cfg.AllowedMIMEs = []string{
			"application/pdf",
			"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
			"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		}
	}
	if cfg.APIPrefix == "" {
		cfg.APIPrefix = "/api/v1"
	}
	mimeSet := make(map[string]struct{}, len(cfg.AllowedMIMEs))
	for _, mt := range cfg.AllowedMIMEs {
		mimeSet[strings.ToLower(mt)] = struct{}{}
	}
	return &DocumentService{
		documents: documents,
		events:    events,
		referrals: referrals,
		units:     units,
		storage:   storage,
		signer:    signer,
		reports:   reports,
		engine:    engine,
		audit:     audit,
		metrics:   metrics,
		logger:    logger,
		cfg:       cfg,
		mimeSet:   mimeSet,
	}
}

// Upload stores a new version or appendix under the report. The ordinal
// is assigned by the repository; the first event opens the document's
// history segment.
func (s *DocumentService) Upload(ctx context.Context, reportID string, kind models.DocumentKind, upload DocumentUpload, actor *models.JWTClaims) (*dto.DocumentView, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	referral, err := s.referrals.GetByReportID(ctx, reportID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "report not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch referral")
	}
	if !referral.IsOpen() {
		return nil, appErrors.Clone(appErrors.ErrStaleReferral, fmt.Sprintf("referral %s is %s", referral.ID, strings.ToLower(string(referral.State))))
	}
	mimeType, err := s.validateUpload(upload)
	if err != nil {
		return nil, err
	}

	filename := s.generateFilename(reportID, kind, upload.Filename, mimeType)
	path, err := s.storage.SaveStream(filename, upload.Content)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to persist document file")
	}

	doc := &models.Document{
		ReportID:  reportID,
		Kind:      kind,
		FileName:  upload.Filename,
		FilePath:  path,
		MimeType:  mimeType,
		FileSize:  upload.Size,
		CreatedBy: actor.UserID,
	}
	if err := s.documents.Create(ctx, doc); err != nil {
		_ = s.storage.Delete(path)
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create document")
	}

	event := &models.Event{
		DocumentID: doc.ID,
		Verb:       models.VerbVersionAdded,
		ActorID:    actor.UserID,
		ActorName:  actor.FullName,
		Payload:    models.EventPayload{Upload: &models.UploadPayload{FileName: upload.Filename, FileSize: upload.Size}},
	}
	if err := s.events.Append(ctx, event); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrRequestFailed.Code, appErrors.ErrRequestFailed.Status, "failed to record upload event")
	}
	s.recordEvent(event.Verb)
	doc.Events = []models.Event{*event}

	s.reports.InvalidateReportView(ctx, reportID)
	s.emitAudit(ctx, actor, models.AuditActionDocumentUpload, doc.ID, upload.Filename)

	wfActor, err := s.resolveActor(ctx, referral.ID, actor)
	if err != nil {
		return nil, err
	}
	return s.view(doc, referral, wfActor), nil
}

// Replace swaps the document's file in place. Identity and ordinal are
// preserved; the fresh upload event resets any open change request and
// starts a new derivation segment.
func (s *DocumentService) Replace(ctx context.Context, documentID string, upload DocumentUpload, actor *models.JWTClaims) (*dto.DocumentView, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	doc, referral, err := s.loadForMutation(ctx, documentID)
	if err != nil {
		return nil, err
	}
	wfActor, err := s.resolveActor(ctx, referral.ID, actor)
	if err != nil {
		return nil, err
	}
	if err := s.engine.EnsureAllowed(doc, referral, wfActor, workflow.ActionReplace); err != nil {
		if s.metrics != nil {
			s.metrics.RecordTransitionDenied(string(workflow.ActionReplace))
		}
		return nil, err
	}
	mimeType, err := s.validateUpload(upload)
	if err != nil {
		return nil, err
	}

	filename := s.generateFilename(doc.ReportID, doc.Kind, upload.Filename, mimeType)
	path, err := s.storage.SaveStream(filename, upload.Content)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to persist document file")
	}

	now := time.Now().UTC()
	if err := s.documents.ReplaceFile(ctx, doc.ID, upload.Filename, path, mimeType, upload.Size, now); err != nil {
		_ = s.storage.Delete(path)
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to replace document file")
	}
	oldPath := doc.FilePath
	doc.FileName = upload.Filename
	doc.FilePath = path
	doc.MimeType = mimeType
	doc.FileSize = upload.Size
	doc.UpdatedAt = now

	event := &models.Event{
		DocumentID: doc.ID,
		Verb:       models.VerbVersionUpdated,
		ActorID:    actor.UserID,
		ActorName:  actor.FullName,
		Payload:    models.EventPayload{Upload: &models.UploadPayload{FileName: upload.Filename, FileSize: upload.Size}},
	}
	if err := s.events.Append(ctx, event); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrRequestFailed.Code, appErrors.ErrRequestFailed.Status, "failed to record replace event")
	}
	s.recordEvent(event.Verb)
	doc.Events = append(doc.Events, *event)

	if oldPath != "" && oldPath != path {
		if err := s.storage.Delete(oldPath); err != nil {
			s.logger.Warn("failed to remove replaced file", zap.String("path", oldPath), zap.Error(err))
		}
	}

	s.reports.InvalidateReportView(ctx, doc.ReportID)
	s.emitAudit(ctx, actor, models.AuditActionDocumentReplace, doc.ID, upload.Filename)

	return s.view(doc, referral, wfActor), nil
}

// GetView returns one decorated document with its full event history.
func (s *DocumentService) GetView(ctx context.Context, documentID string, actor *models.JWTClaims) (*dto.DocumentView, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	doc, err := s.loadDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	referral, err := s.referrals.GetByDocumentID(ctx, documentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch referral")
	}
	wfActor, err := s.resolveActor(ctx, referral.ID, actor)
	if err != nil {
		return nil, err
	}
	return s.view(doc, referral, wfActor), nil
}

// ListEvents returns the document's ACTIVE event timeline oldest first.
// Superseded rows stay in the table but are filtered from the portal
// history view.
func (s *DocumentService) ListEvents(ctx context.Context, documentID string, actor *models.JWTClaims) ([]models.Event, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	doc, err := s.loadDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	return doc.ActiveEvents(), nil
}

// GetDownloadURL generates a signed URL for fetching the current file.
func (s *DocumentService) GetDownloadURL(ctx context.Context, documentID string, actor *models.JWTClaims) (string, error) {
	if actor == nil {
		return "", appErrors.ErrUnauthorized
	}
	if s.signer == nil {
		return "", appErrors.Clone(appErrors.ErrInternal, "download signer unavailable")
	}
	doc, err := s.loadDocument(ctx, documentID)
	if err != nil {
		return "", err
	}
	token, _, err := s.signer.Generate(doc.ID, doc.FilePath)
	if err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to generate download token")
	}
	base := strings.TrimRight(s.cfg.APIPrefix, "/")
	return fmt.Sprintf("%s/documents/%s/download?token=%s", base, doc.ID, token), nil
}

// Download validates the token and opens the current file for streaming.
func (s *DocumentService) Download(ctx context.Context, documentID, token string) (*DocumentDownload, error) {
	if s.signer == nil {
		return nil, appErrors.Clone(appErrors.ErrInternal, "download signer unavailable")
	}
	doc, err := s.loadDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	docID, relPath, expiresAt, err := s.signer.Parse(token, false)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "invalid or expired token")
	}
	if docID != doc.ID || relPath != doc.FilePath {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "token mismatch")
	}
	file, err := s.storage.Open(relPath)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open document file")
	}
	info, err := file.Stat()
	if err != nil {
		file.Close() //nolint:errcheck
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read document metadata")
	}
	return &DocumentDownload{
		File:      file,
		Filename:  doc.FileName,
		MimeType:  doc.MimeType,
		SizeBytes: info.Size(),
		ExpiresAt: expiresAt,
	}, nil
}

func (s *DocumentService) loadDocument(ctx context.Context, documentID string) (*models.Document, error) {
	doc, err := s.documents.GetByID(ctx, documentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "document not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch document")
	}
	events, err := s.events.ListByDocument(ctx, documentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch document events")
	}
	doc.Events = events
	return doc, nil
}

func (s *DocumentService) loadForMutation(ctx context.Context, documentID string) (*models.Document, *models.Referral, error) {
	doc, err := s.loadDocument(ctx, documentID)
	if err != nil {
		return nil, nil, err
	}
	referral, err := s.referrals.GetByDocumentID(ctx, documentID)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch referral")
	}
	if !referral.IsOpen() {
		return nil, nil, appErrors.Clone(appErrors.ErrStaleReferral, fmt.Sprintf("referral %s is %s", referral.ID, strings.ToLower(string(referral.State))))
	}
	return doc, referral, nil
}

func (s *DocumentService) validateUpload(upload DocumentUpload) (string, error) {
	if upload.Content == nil || upload.Size <= 0 {
		return "", appErrors.Clone(appErrors.ErrValidation, "file is required")
	}
	if upload.Size > s.cfg.MaxFileSize {
		return "", appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("file exceeds %d bytes limit", s.cfg.MaxFileSize))
	}
	mimeType := upload.MimeType
	if mimeType == "" {
		header := make([]byte, 512)
		n, err := upload.Content.Read(header)
		if err != nil && err != io.EOF {
			return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to inspect file")
		}
		if n == 0 {
			return "", appErrors.Clone(appErrors.ErrValidation, "empty file")
		}
		mimeType = http.DetectContentType(header[:n])
	}
	if _, err := upload.Content.Seek(0, io.SeekStart); err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reset upload stream")
	}
	if _, allowed := s.mimeSet[strings.ToLower(mimeType)]; !allowed {
		return "", appErrors.Clone(appErrors.ErrValidation, "mime type not allowed")
	}
	return mimeType, nil
}

func (s *DocumentService) generateFilename(reportID string, kind models.DocumentKind, original, mimeType string) string {
	ext := strings.ToLower(filepath.Ext(original))
	if ext == "" {
		ext = mimeExtension(mimeType)
	}
	if ext == "" {
		ext = ".bin"
	}
	return fmt.Sprintf("report_%s_%s_%d_%s%s", sanitize(reportID), strings.ToLower(string(kind)), time.Now().Unix(), randomSuffix(), ext)
}

func (s *DocumentService) view(doc *models.Document, referral *models.Referral, actor workflow.Actor) *dto.DocumentView {
	state := s.engine.DeriveState(doc)
	return &dto.DocumentView{
		Document:   *doc,
		State:      state,
		Badge:      workflow.StateBadge(state),
		Actions:    workflow.DescribeActions(s.engine, doc, referral, actor),
		Validated:  workflow.HasUserValidated(doc, actor.ID),
		ChangeOpen: workflow.IsChangeRequested(doc),
	}
}

func (s *DocumentService) resolveActor(ctx context.Context, referralID string, claims *models.JWTClaims) (workflow.Actor, error) {
	granted := claims.Role == models.RoleAdmin || claims.Role == models.RoleSuperAdmin
	if !granted {
		organizer, err := s.units.IsOrganizer(ctx, referralID, claims.UserID)
		if err != nil {
			return workflow.Actor{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve permissions")
		}
		granted = organizer
	}
	return workflow.Actor{ID: claims.UserID, Granted: granted}, nil
}

func (s *DocumentService) recordEvent(verb models.EventVerb) {
	if s.metrics != nil {
		s.metrics.RecordWorkflowEvent(string(verb))
	}
}

func (s *DocumentService) emitAudit(ctx context.Context, actor *models.JWTClaims, action, documentID, filename string) {
	if s.audit == nil {
		return
	}
	if err := s.audit.CreateAuditLog(ctx, &models.AuditLog{
		UserID:     &actor.UserID,
		Action:     action,
		Resource:   "document",
		ResourceID: &documentID,
		NewValues:  []byte(fmt.Sprintf(`{"file_name":%q}`, filename)),
	}); err != nil {
		s.logger.Warn("failed to write audit log", zap.Error(err))
	}
}

func sanitize(raw string) string {
	raw = strings.ToLower(raw)
	var b strings.Builder
	for _, r := range raw {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	return strings.Trim(b.String(), "_")
}

func mimeExtension(mime string) string {
	switch strings.ToLower(mime) {
	case "application/pdf":
		return ".pdf"
	case "application/vnd.openxmlformats-officedocument.wordprocessingml.document":
		return ".docx"
	case "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":
		return ".xlsx"
	default:
		return ""
	}
}

func randomSuffix() string {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(buf)
}
