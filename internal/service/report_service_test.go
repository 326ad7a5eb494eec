package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/referral-portal-api/internal/models"
	"github.com/noah-isme/referral-portal-api/internal/workflow"
	appErrors "github.com/noah-isme/referral-portal-api/pkg/errors"
)

type reportRepoStub struct {
	report      *models.Report
	attachments []models.Attachment
	err         error
}

func (s *reportRepoStub) GetByID(ctx context.Context, id string) (*models.Report, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.report, nil
}

func (s *reportRepoStub) ListAttachments(ctx context.Context, reportID string) ([]models.Attachment, error) {
	return s.attachments, nil
}

type reportDocStub struct {
	byKind map[models.DocumentKind][]models.Document
}

func (s *reportDocStub) ListByReport(ctx context.Context, reportID string, kind models.DocumentKind) ([]models.Document, error) {
	return s.byKind[kind], nil
}

type reportEventMapStub struct {
	grouped map[string][]models.Event
}

func (s *reportEventMapStub) ListByDocuments(ctx context.Context, documentIDs []string) (map[string][]models.Event, error) {
	return s.grouped, nil
}

type reportReferralStub struct {
	referral *models.Referral
}

func (s *reportReferralStub) GetByID(ctx context.Context, id string) (*models.Referral, error) {
	return s.referral, nil
}

type reportUnitStub struct {
	organizer bool
}

func (s *reportUnitStub) IsOrganizer(ctx context.Context, referralID, userID string) (bool, error) {
	return s.organizer, nil
}

func changeRequestedEvent(seq int64) models.Event {
	return models.Event{
		ID:         "ev-change",
		DocumentID: "doc-1",
		Seq:        seq,
		Verb:       models.VerbRequestChange,
		ActorID:    "u9",
		State:      models.EventStateActive,
	}
}

func newReportFixture(events []models.Event, organizer bool) *ReportService {
	reports := &reportRepoStub{report: &models.Report{ID: "report-1", ReferralID: "ref-1", Title: "Quarterly file"}}
	docs := &reportDocStub{byKind: map[models.DocumentKind][]models.Document{
		models.DocumentKindVersion: {{ID: "doc-1", ReportID: "report-1", Kind: models.DocumentKindVersion, Ordinal: 1}},
	}}
	eventMap := &reportEventMapStub{grouped: map[string][]models.Event{"doc-1": events}}
	referrals := &reportReferralStub{referral: &models.Referral{ID: "ref-1", State: models.ReferralStateOpen, ValidationState: models.ReferralValidationPending}}
	units := &reportUnitStub{organizer: organizer}
	return NewReportService(reports, docs, eventMap, referrals, units, workflow.NewEngine(workflow.PolicyFirstResponder), nil, time.Minute, zap.NewNop())
}

func TestBuildReportViewDerivesDocumentState(t *testing.T) {
	svc := newReportFixture([]models.Event{uploadedEvent(1)}, false)

	view, err := svc.BuildReportView(context.Background(), "report-1", agentClaims("u1"))
	require.NoError(t, err)
	require.Len(t, view.Versions, 1)
	require.Equal(t, workflow.StateDraft, view.Versions[0].State)
	require.Empty(t, view.Appendices)
	require.Equal(t, models.ReferralStateOpen, view.ReferralState)
}

func TestBuildReportViewFlagsOpenChangeRequest(t *testing.T) {
	svc := newReportFixture([]models.Event{uploadedEvent(1), changeRequestedEvent(2)}, false)

	view, err := svc.BuildReportView(context.Background(), "report-1", agentClaims("u1"))
	require.NoError(t, err)
	require.Equal(t, workflow.StateChangeRequested, view.Versions[0].State)
	require.True(t, view.Versions[0].ChangeOpen)
}

func TestBuildReportViewGrantsActionsToOrganizer(t *testing.T) {
	svc := newReportFixture([]models.Event{uploadedEvent(1), changeRequestedEvent(2)}, true)

	view, err := svc.BuildReportView(context.Background(), "report-1", agentClaims("u1"))
	require.NoError(t, err)

	var hasValidate bool
	for _, action := range view.Versions[0].Actions {
		if action.Action == workflow.ActionValidate && action.Enabled {
			hasValidate = true
		}
	}
	require.True(t, hasValidate)
}

func TestBuildReportViewRequiresActor(t *testing.T) {
	svc := newReportFixture([]models.Event{uploadedEvent(1)}, false)

	_, err := svc.BuildReportView(context.Background(), "report-1", nil)
	require.Error(t, err)
	require.Equal(t, appErrors.ErrUnauthorized.Code, appErrors.FromError(err).Code)
}

func TestBuildReportViewNotFound(t *testing.T) {
	svc := newReportFixture(nil, false)
	svc.reports = &reportRepoStub{err: sql.ErrNoRows}

	_, err := svc.BuildReportView(context.Background(), "missing", agentClaims("u1"))
	require.Error(t, err)
	require.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}
