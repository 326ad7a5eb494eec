package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/referral-portal-api/internal/dto"
	"github.com/noah-isme/referral-portal-api/internal/models"
	"github.com/noah-isme/referral-portal-api/internal/workflow"
	appErrors "github.com/noah-isme/referral-portal-api/pkg/errors"
)

type documentStoreStub struct {
	doc   *models.Document
	err   error
	calls int
}

func (s *documentStoreStub) GetByID(ctx context.Context, id string) (*models.Document, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	cp := *s.doc
	return &cp, nil
}

type eventStoreStub struct {
	events   []models.Event
	appended []*models.Event
	batches  [][]*models.Event
}

func (s *eventStoreStub) Append(ctx context.Context, event *models.Event) error {
	event.Seq = int64(len(s.events) + len(s.appended) + 1)
	s.appended = append(s.appended, event)
	return nil
}

func (s *eventStoreStub) AppendBatch(ctx context.Context, events []*models.Event) error {
	s.batches = append(s.batches, events)
	return nil
}

func (s *eventStoreStub) ListByDocument(ctx context.Context, documentID string) ([]models.Event, error) {
	return s.events, nil
}

type referralStoreStub struct {
	referral *models.Referral
	updates  []models.ReferralValidationState
}

func (s *referralStoreStub) GetByDocumentID(ctx context.Context, documentID string) (*models.Referral, error) {
	cp := *s.referral
	return &cp, nil
}

func (s *referralStoreStub) UpdateValidationState(ctx context.Context, id string, state models.ReferralValidationState, updatedAt time.Time) error {
	s.updates = append(s.updates, state)
	return nil
}

type unitStoreStub struct {
	units     []models.Unit
	organizer bool
	role      models.UnitRole
	roleErr   error
}

func (s *unitStoreStub) ListByReferral(ctx context.Context, referralID string) ([]models.Unit, error) {
	return s.units, nil
}

func (s *unitStoreStub) IsOrganizer(ctx context.Context, referralID, userID string) (bool, error) {
	return s.organizer, nil
}

func (s *unitStoreStub) MemberRole(ctx context.Context, referralID, userID string) (models.UnitRole, error) {
	if s.roleErr != nil {
		return "", s.roleErr
	}
	return s.role, nil
}

type reportBuilderStub struct {
	view        *dto.ReportView
	invalidated []string
}

func (s *reportBuilderStub) BuildReportView(ctx context.Context, reportID string, actor *models.JWTClaims) (*dto.ReportView, error) {
	return s.view, nil
}

func (s *reportBuilderStub) InvalidateReportView(ctx context.Context, reportID string) {
	s.invalidated = append(s.invalidated, reportID)
}

func uploadedEvent(seq int64) models.Event {
	return models.Event{
		ID:         "ev-upload",
		DocumentID: "doc-1",
		Seq:        seq,
		Verb:       models.VerbVersionAdded,
		ActorID:    "u1",
		State:      models.EventStateActive,
		Payload:    models.EventPayload{Upload: &models.UploadPayload{FileName: "report.pdf", FileSize: 1024}},
	}
}

func agentClaims(userID string) *models.JWTClaims {
	return &models.JWTClaims{UserID: userID, Role: models.RoleAgent, FullName: "Lena Ortiz"}
}

func adminClaims(userID string) *models.JWTClaims {
	return &models.JWTClaims{UserID: userID, Role: models.RoleAdmin, FullName: "Omar Haddad"}
}

func newValidationFixture(referralState models.ReferralState, kind models.DocumentKind) (*ValidationService, *documentStoreStub, *eventStoreStub, *referralStoreStub, *unitStoreStub, *reportBuilderStub) {
	docs := &documentStoreStub{doc: &models.Document{ID: "doc-1", ReportID: "report-1", Kind: kind}}
	events := &eventStoreStub{events: []models.Event{uploadedEvent(1)}}
	referrals := &referralStoreStub{referral: &models.Referral{ID: "ref-1", State: referralState, ValidationState: models.ReferralValidationPending}}
	units := &unitStoreStub{role: models.UnitRoleOwner}
	reports := &reportBuilderStub{view: &dto.ReportView{}}
	svc := NewValidationService(docs, events, referrals, units, reports, workflow.NewEngine(workflow.PolicyFirstResponder), nil, nil, nil, nil, time.Minute)
	return svc, docs, events, referrals, units, reports
}

func TestSubmitRequestRejectsEmptyTargetsBeforeAnyLookup(t *testing.T) {
	svc, docs, _, _, _, _ := newValidationFixture(models.ReferralStateOpen, models.DocumentKindVersion)

	_, err := svc.SubmitRequest(context.Background(), "doc-1", dto.SubmitValidationRequest{}, agentClaims("u2"))

	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, appErrors.ErrNoTargetsSelected.Code, appErr.Code)
	require.Zero(t, docs.calls)
}

func TestSubmitRequestFansOutOneEventPerTarget(t *testing.T) {
	svc, _, events, referrals, _, reports := newValidationFixture(models.ReferralStateOpen, models.DocumentKindVersion)

	req := dto.SubmitValidationRequest{
		Targets: []dto.ValidationTargetInput{
			{Role: "OWNER", Unit: "UnitA"},
			{Role: "ADMIN", Unit: "UnitB"},
		},
		Comment: "please review",
	}
	outcome, err := svc.SubmitRequest(context.Background(), "doc-1", req, agentClaims("u2"))
	require.NoError(t, err)
	require.NotNil(t, outcome.Report)
	require.Equal(t, models.ReferralValidationInReview, outcome.ValidationState)

	require.Len(t, events.batches, 1)
	batch := events.batches[0]
	require.Len(t, batch, 2)
	require.Equal(t, models.VerbRequestValidation, batch[0].Verb)
	require.Equal(t, models.VerbRequestValidation, batch[1].Verb)
	require.NotEmpty(t, batch[0].Payload.ValidationRequest.RequestID)
	require.Equal(t, batch[0].Payload.ValidationRequest.RequestID, batch[1].Payload.ValidationRequest.RequestID)
	require.Equal(t, "UnitA", batch[0].Payload.ValidationRequest.ReceiverUnit)
	require.Equal(t, models.UnitRoleAdmin, batch[1].Payload.ValidationRequest.ReceiverRole)
	require.Equal(t, "please review", batch[0].Payload.ValidationRequest.Comment)

	require.Equal(t, []models.ReferralValidationState{models.ReferralValidationInReview}, referrals.updates)
	require.Equal(t, []string{"report-1"}, reports.invalidated)
}

func TestSubmitRequestUsesAppendixVerb(t *testing.T) {
	svc, _, events, _, _, _ := newValidationFixture(models.ReferralStateOpen, models.DocumentKindAppendix)

	req := dto.SubmitValidationRequest{Targets: []dto.ValidationTargetInput{{Role: "OWNER", Unit: "UnitA"}}}
	_, err := svc.SubmitRequest(context.Background(), "doc-1", req, agentClaims("u2"))
	require.NoError(t, err)
	require.Len(t, events.batches, 1)
	require.Equal(t, models.VerbAppendixRequestValidation, events.batches[0][0].Verb)
}

func TestSubmitRequestClosedReferral(t *testing.T) {
	svc, _, events, _, _, _ := newValidationFixture(models.ReferralStateClosed, models.DocumentKindVersion)

	req := dto.SubmitValidationRequest{Targets: []dto.ValidationTargetInput{{Role: "OWNER", Unit: "UnitA"}}}
	_, err := svc.SubmitRequest(context.Background(), "doc-1", req, agentClaims("u2"))

	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, appErrors.ErrStaleReferral.Code, appErr.Code)
	require.Empty(t, events.batches)
}

func TestSubmitResponseValidateMarksReferralValidated(t *testing.T) {
	svc, _, events, referrals, units, _ := newValidationFixture(models.ReferralStateOpen, models.DocumentKindVersion)
	units.role = models.UnitRoleOwner

	outcome, err := svc.SubmitResponse(context.Background(), "doc-1", dto.SubmitValidationResponse{Verb: "VALIDATE", Comment: "looks good"}, adminClaims("u3"))
	require.NoError(t, err)
	require.Equal(t, models.ReferralValidationValidated, outcome.ValidationState)

	require.Len(t, events.appended, 1)
	appended := events.appended[0]
	require.Equal(t, models.VerbVersionValidated, appended.Verb)
	require.Equal(t, models.UnitRoleOwner, appended.Payload.Response.SenderRole)
	require.Equal(t, "looks good", appended.Payload.Response.Comment)
	require.Equal(t, []models.ReferralValidationState{models.ReferralValidationValidated}, referrals.updates)
}

func TestSubmitResponseChangeRequestKeepsReferralInReview(t *testing.T) {
	svc, _, events, referrals, units, _ := newValidationFixture(models.ReferralStateOpen, models.DocumentKindVersion)
	units.organizer = true
	units.role = models.UnitRoleAdmin

	outcome, err := svc.SubmitResponse(context.Background(), "doc-1", dto.SubmitValidationResponse{Verb: "REQUEST_CHANGE", Comment: "fix section 3"}, agentClaims("u4"))
	require.NoError(t, err)
	require.Equal(t, models.ReferralValidationInReview, outcome.ValidationState)

	require.Len(t, events.appended, 1)
	require.Equal(t, models.VerbRequestChange, events.appended[0].Verb)
	require.Equal(t, models.UnitRoleAdmin, events.appended[0].Payload.Response.SenderRole)
	require.Equal(t, []models.ReferralValidationState{models.ReferralValidationInReview}, referrals.updates)
}

func TestSubmitResponseRequiresOrganizerPermission(t *testing.T) {
	svc, _, events, _, units, _ := newValidationFixture(models.ReferralStateOpen, models.DocumentKindVersion)
	units.organizer = false

	_, err := svc.SubmitResponse(context.Background(), "doc-1", dto.SubmitValidationResponse{Verb: "VALIDATE"}, agentClaims("u5"))

	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, appErrors.ErrInvalidTransition.Code, appErr.Code)
	require.Empty(t, events.appended)
}

func TestSubmitResponseSenderRoleFallsBackToPortalRole(t *testing.T) {
	svc, _, events, _, units, _ := newValidationFixture(models.ReferralStateOpen, models.DocumentKindVersion)
	units.roleErr = errors.New("no membership")

	_, err := svc.SubmitResponse(context.Background(), "doc-1", dto.SubmitValidationResponse{Verb: "VALIDATE"}, adminClaims("u3"))
	require.NoError(t, err)
	require.Len(t, events.appended, 1)
	require.Equal(t, models.UnitRoleAdmin, events.appended[0].Payload.Response.SenderRole)
}

func TestResolveValidatorsGroupsByRoleAndUnit(t *testing.T) {
	svc, _, _, _, units, _ := newValidationFixture(models.ReferralStateOpen, models.DocumentKindVersion)
	units.units = []models.Unit{
		{
			Name: "UnitA",
			Members: []models.UnitMember{
				{UserID: "u10", DisplayName: "Mara Voss", Role: models.UnitRoleOwner, Position: 1},
				{UserID: "u11", DisplayName: "Jon Palk", Role: models.UnitRoleAdmin, Position: 2},
			},
		},
	}

	resp, err := svc.ResolveValidators(context.Background(), "doc-1", agentClaims("u2"))
	require.NoError(t, err)
	require.Equal(t, "doc-1", resp.DocumentID)
	require.Len(t, resp.Groups, 2)
	require.Equal(t, models.UnitRoleOwner, resp.Groups[0].Role)
	require.Equal(t, []string{"Mara Voss"}, resp.Groups[0].Units[0].Members)
	require.Equal(t, models.UnitRoleAdmin, resp.Groups[1].Role)
}
