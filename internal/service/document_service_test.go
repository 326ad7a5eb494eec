package service

import (
	"bytes"
	"context"
	"io"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/referral-portal-api/internal/models"
	"github.com/noah-isme/referral-portal-api/internal/workflow"
	appErrors "github.com/noah-isme/referral-portal-api/pkg/errors"
)

type docRepoStub struct {
	doc      *models.Document
	created  []*models.Document
	replaced int
}

func (s *docRepoStub) Create(ctx context.Context, doc *models.Document) error {
	doc.ID = "doc-new"
	doc.Ordinal = len(s.created) + 1
	s.created = append(s.created, doc)
	return nil
}

func (s *docRepoStub) GetByID(ctx context.Context, id string) (*models.Document, error) {
	cp := *s.doc
	return &cp, nil
}

func (s *docRepoStub) ReplaceFile(ctx context.Context, id, fileName, filePath, mimeType string, fileSize int64, updatedAt time.Time) error {
	s.replaced++
	return nil
}

type docEventRepoStub struct {
	events   []models.Event
	appended []*models.Event
}

func (s *docEventRepoStub) Append(ctx context.Context, event *models.Event) error {
	event.Seq = int64(len(s.events)+len(s.appended)) + 1
	s.appended = append(s.appended, event)
	return nil
}

func (s *docEventRepoStub) ListByDocument(ctx context.Context, documentID string) ([]models.Event, error) {
	return s.events, nil
}

type docReferralRepoStub struct {
	referral *models.Referral
}

func (s *docReferralRepoStub) GetByDocumentID(ctx context.Context, documentID string) (*models.Referral, error) {
	cp := *s.referral
	return &cp, nil
}

func (s *docReferralRepoStub) GetByReportID(ctx context.Context, reportID string) (*models.Referral, error) {
	cp := *s.referral
	return &cp, nil
}

type docUnitRepoStub struct {
	organizer bool
}

func (s *docUnitRepoStub) IsOrganizer(ctx context.Context, referralID, userID string) (bool, error) {
	return s.organizer, nil
}

type storageStub struct {
	saved   []string
	deleted []string
}

func (s *storageStub) SaveStream(filename string, r io.Reader) (string, error) {
	_, _ = io.Copy(io.Discard, r)
	s.saved = append(s.saved, filename)
	return filename, nil
}

func (s *storageStub) Open(filename string) (*os.File, error) {
	return nil, os.ErrNotExist
}

func (s *storageStub) Delete(filename string) error {
	s.deleted = append(s.deleted, filename)
	return nil
}

type signerStub struct{}

func (signerStub) Generate(id, relPath string) (string, time.Time, error) {
	return "tok-123", time.Now().Add(time.Minute), nil
}

func (signerStub) Parse(token string, allowExpired bool) (string, string, time.Time, error) {
	return "", "", time.Time{}, os.ErrInvalid
}

func pdfUpload(size int64) DocumentUpload {
	return DocumentUpload{
		Filename: "report.pdf",
		Size:     size,
		MimeType: "application/pdf",
		Content:  bytes.NewReader(bytes.Repeat([]byte("a"), int(size))),
	}
}

func newDocumentFixture(events []models.Event) (*DocumentService, *docRepoStub, *docEventRepoStub, *storageStub, *reportBuilderStub) {
	docs := &docRepoStub{doc: &models.Document{ID: "doc-1", ReportID: "report-1", Kind: models.DocumentKindVersion, FilePath: "old-path.pdf"}}
	evs := &docEventRepoStub{events: events}
	referrals := &docReferralRepoStub{referral: &models.Referral{ID: "ref-1", State: models.ReferralStateOpen}}
	units := &docUnitRepoStub{}
	storage := &storageStub{}
	reports := &reportBuilderStub{}
	svc := NewDocumentService(docs, evs, referrals, units, storage, signerStub{}, reports, workflow.NewEngine(workflow.PolicyFirstResponder), nil, nil, nil, DocumentServiceConfig{MaxFileSize: 1024})
	return svc, docs, evs, storage, reports
}

func TestDocumentUploadRecordsFirstEvent(t *testing.T) {
	svc, docs, evs, storage, reports := newDocumentFixture(nil)

	view, err := svc.Upload(context.Background(), "report-1", models.DocumentKindVersion, pdfUpload(100), agentClaims("u1"))
	require.NoError(t, err)
	require.Equal(t, workflow.StateDraft, view.State)
	require.Equal(t, "doc-new", view.ID)

	require.Len(t, docs.created, 1)
	require.Len(t, evs.appended, 1)
	require.Equal(t, models.VerbVersionAdded, evs.appended[0].Verb)
	require.Equal(t, "report.pdf", evs.appended[0].Payload.Upload.FileName)
	require.Len(t, storage.saved, 1)
	require.Equal(t, []string{"report-1"}, reports.invalidated)
}

func TestDocumentUploadRejectsOversizedFile(t *testing.T) {
	svc, docs, _, storage, _ := newDocumentFixture(nil)

	_, err := svc.Upload(context.Background(), "report-1", models.DocumentKindVersion, pdfUpload(2048), agentClaims("u1"))

	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
	require.Empty(t, docs.created)
	require.Empty(t, storage.saved)
}

func TestDocumentUploadRejectsDisallowedMime(t *testing.T) {
	svc, _, _, storage, _ := newDocumentFixture(nil)

	upload := pdfUpload(100)
	upload.MimeType = "application/x-msdownload"
	_, err := svc.Upload(context.Background(), "report-1", models.DocumentKindVersion, upload, agentClaims("u1"))

	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
	require.Empty(t, storage.saved)
}

func TestDocumentReplaceBlockedWhileChangeRequested(t *testing.T) {
	events := []models.Event{
		uploadedEvent(1),
		{ID: "ev-2", DocumentID: "doc-1", Seq: 2, Verb: models.VerbRequestChange, ActorID: "u3", State: models.EventStateActive, Payload: models.EventPayload{Response: &models.ResponsePayload{SenderRole: models.UnitRoleOwner}}},
	}
	svc, docs, _, storage, _ := newDocumentFixture(events)

	_, err := svc.Replace(context.Background(), "doc-1", pdfUpload(100), agentClaims("u1"))

	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, appErrors.ErrInvalidTransition.Code, appErr.Code)
	require.Zero(t, docs.replaced)
	require.Empty(t, storage.saved)
}

func TestDocumentReplaceResetsChangeRequest(t *testing.T) {
	svc, docs, evs, storage, reports := newDocumentFixture([]models.Event{uploadedEvent(1)})

	view, err := svc.Replace(context.Background(), "doc-1", pdfUpload(100), agentClaims("u1"))
	require.NoError(t, err)
	require.Equal(t, 1, docs.replaced)
	require.Len(t, evs.appended, 1)
	require.Equal(t, models.VerbVersionUpdated, evs.appended[0].Verb)
	require.False(t, view.ChangeOpen)
	require.Equal(t, workflow.StateDraft, view.State)
	require.Contains(t, storage.deleted, "old-path.pdf")
	require.Equal(t, []string{"report-1"}, reports.invalidated)
}

func TestDocumentGetDownloadURL(t *testing.T) {
	svc, _, _, _, _ := newDocumentFixture([]models.Event{uploadedEvent(1)})

	url, err := svc.GetDownloadURL(context.Background(), "doc-1", agentClaims("u1"))
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(url, "/api/v1/documents/doc-1/download?token="))
}
