package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/referral-portal-api/internal/dto"
	"github.com/noah-isme/referral-portal-api/internal/models"
	"github.com/noah-isme/referral-portal-api/internal/workflow"
	appErrors "github.com/noah-isme/referral-portal-api/pkg/errors"
)

type validationDocumentStore interface {
	GetByID(ctx context.Context, id string) (*models.Document, error)
}

type validationEventStore interface {
	Append(ctx context.Context, event *models.Event) error
	AppendBatch(ctx context.Context, events []*models.Event) error
	ListByDocument(ctx context.Context, documentID string) ([]models.Event, error)
}

type validationReferralStore interface {
	GetByDocumentID(ctx context.Context, documentID string) (*models.Referral, error)
	UpdateValidationState(ctx context.Context, id string, state models.ReferralValidationState, updatedAt time.Time) error
}

type validationUnitStore interface {
	ListByReferral(ctx context.Context, referralID string) ([]models.Unit, error)
	IsOrganizer(ctx context.Context, referralID, userID string) (bool, error)
	MemberRole(ctx context.Context, referralID, userID string) (models.UnitRole, error)
}

type reportViewBuilder interface {
	BuildReportView(ctx context.Context, reportID string, actor *models.JWTClaims) (*dto.ReportView, error)
	InvalidateReportView(ctx context.Context, reportID string)
}

type workflowMetrics interface {
	RecordWorkflowEvent(verb string)
	RecordTransitionDenied(action string)
}

type auditLogger interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// ValidationService coordinates validation requests and responses: it
// resolves eligible validators, fans one request out to several targets
// atomically, and returns the refreshed report together with the
// referral's new validation state in a single response.
type ValidationService struct {
	documents validationDocumentStore
	events    validationEventStore
	referrals validationReferralStore
	units     validationUnitStore
	reports   reportViewBuilder
	engine    *workflow.Engine
	cache     *CacheService
	metrics   workflowMetrics
	audit     auditLogger
	validator *validator.Validate
	cacheTTL  time.Duration
	logger    *zap.Logger
}

// NewValidationService constructs the coordinator.
func NewValidationService(documents validationDocumentStore, events validationEventStore, referrals validationReferralStore, units validationUnitStore, reports reportViewBuilder, engine *workflow.Engine, cache *CacheService, metrics workflowMetrics, audit auditLogger, logger *zap.Logger, cacheTTL time.Duration) *ValidationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cacheTTL <= 0 {
		cacheTTL = 5 * time.Minute
	}
	return &ValidationService{
		documents: documents,
		events:    events,
		referrals: referrals,
		units:     units,
		reports:   reports,
		engine:    engine,
		cache:     cache,
		metrics:   metrics,
		audit:     audit,
		validator: validator.New(),
		cacheTTL:  cacheTTL,
		logger:    logger,
	}
}

// ResolveValidators computes the eligible approvers for the document,
// grouped by role and unit, excluding targets the caller already has
// pending requests for. Results are cached per document and caller.
func (s *ValidationService) ResolveValidators(ctx context.Context, documentID string, actor *models.JWTClaims) (*dto.ValidatorsResponse, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	key := ValidatorsKey(documentID, actor.UserID)
	if s.cache.Enabled() {
		var cached dto.ValidatorsResponse
		if hit, err := s.cache.Get(ctx, key, &cached); err == nil && hit {
			return &cached, nil
		}
	}

	doc, referral, err := s.loadDocumentWithReferral(ctx, documentID)
	if err != nil {
		return nil, err
	}
	units, err := s.units.ListByReferral(ctx, referral.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch units")
	}

	resp := &dto.ValidatorsResponse{
		DocumentID: documentID,
		Groups:     workflow.ResolveValidators(units, doc, actor.UserID),
	}
	if s.cache.Enabled() {
		if err := s.cache.Set(ctx, key, resp, s.cacheTTL); err != nil {
			s.logger.Warn("failed to cache validators", zap.Error(err))
		}
	}
	return resp, nil
}

// SubmitRequest fans one validation request out to the chosen targets.
// An empty target list is rejected before any repository access so the
// caller can re-prompt without losing the selection.
func (s *ValidationService) SubmitRequest(ctx context.Context, documentID string, req dto.SubmitValidationRequest, actor *models.JWTClaims) (*dto.ValidationOutcome, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if len(req.Targets) == 0 {
		return nil, appErrors.ErrNoTargetsSelected
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid validation request payload")
	}

	doc, referral, err := s.loadDocumentWithReferral(ctx, documentID)
	if err != nil {
		return nil, err
	}
	wfActor, err := s.resolveActor(ctx, referral.ID, actor)
	if err != nil {
		return nil, err
	}
	if err := s.engine.EnsureAllowed(doc, referral, wfActor, workflow.ActionRequestValidation); err != nil {
		s.denyTransition(workflow.ActionRequestValidation)
		return nil, err
	}

	verb := doc.Kind.RequestValidationVerb()
	requestID := uuid.NewString()
	events := make([]*models.Event, 0, len(req.Targets))
	for _, target := range req.Targets {
		events = append(events, &models.Event{
			DocumentID: doc.ID,
			Verb:       verb,
			ActorID:    actor.UserID,
			ActorName:  actor.FullName,
			Payload: models.EventPayload{ValidationRequest: &models.ValidationRequestPayload{
				RequestID:    requestID,
				ReceiverUnit: target.Unit,
				ReceiverRole: models.UnitRole(target.Role),
				Comment:      req.Comment,
			}},
		})
	}
	if err := s.events.AppendBatch(ctx, events); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrRequestFailed.Code, appErrors.ErrRequestFailed.Status, "failed to record validation request")
	}
	s.recordEvents(verb, len(events))

	if err := s.referrals.UpdateValidationState(ctx, referral.ID, models.ReferralValidationInReview, time.Now().UTC()); err != nil {
		s.logger.Warn("failed to update referral validation state", zap.Error(err))
	}
	referral.ValidationState = models.ReferralValidationInReview

	s.invalidate(ctx, doc, actor.UserID)
	s.emitAudit(ctx, actor, models.AuditActionValidationRequest, doc.ID, map[string]interface{}{
		"request_id": requestID,
		"targets":    req.Targets,
	})

	return s.buildOutcome(ctx, doc.ReportID, referral.ValidationState, actor)
}

// SubmitResponse records a validator's decision: VALIDATE or
// REQUEST_CHANGE, mapped onto the document kind's verbs.
func (s *ValidationService) SubmitResponse(ctx context.Context, documentID string, req dto.SubmitValidationResponse, actor *models.JWTClaims) (*dto.ValidationOutcome, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid validation response payload")
	}

	doc, referral, err := s.loadDocumentWithReferral(ctx, documentID)
	if err != nil {
		return nil, err
	}
	wfActor, err := s.resolveActor(ctx, referral.ID, actor)
	if err != nil {
		return nil, err
	}

	var verb models.EventVerb
	var action workflow.Action
	switch req.Verb {
	case "VALIDATE":
		verb = doc.Kind.ValidatedVerb()
		action = workflow.ActionValidate
	case "REQUEST_CHANGE":
		verb = doc.Kind.RequestChangeVerb()
		action = workflow.ActionRequestChange
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown response verb")
	}
	if err := s.engine.EnsureAllowed(doc, referral, wfActor, action); err != nil {
		s.denyTransition(action)
		return nil, err
	}

	senderRole := s.senderRole(ctx, referral.ID, actor)
	event := &models.Event{
		DocumentID: doc.ID,
		Verb:       verb,
		ActorID:    actor.UserID,
		ActorName:  actor.FullName,
		Payload: models.EventPayload{Response: &models.ResponsePayload{
			SenderRole: senderRole,
			Comment:    req.Comment,
		}},
	}
	if err := s.events.Append(ctx, event); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrRequestFailed.Code, appErrors.ErrRequestFailed.Status, "failed to record validation response")
	}
	s.recordEvents(verb, 1)

	doc.Events = append(doc.Events, *event)
	newState := s.referralStateFor(doc)
	if err := s.referrals.UpdateValidationState(ctx, referral.ID, newState, time.Now().UTC()); err != nil {
		s.logger.Warn("failed to update referral validation state", zap.Error(err))
	}
	referral.ValidationState = newState

	s.invalidate(ctx, doc, actor.UserID)
	s.emitAudit(ctx, actor, models.AuditActionValidationResponse, doc.ID, map[string]interface{}{
		"verb":    req.Verb,
		"comment": req.Comment,
	})

	return s.buildOutcome(ctx, doc.ReportID, referral.ValidationState, actor)
}

func (s *ValidationService) loadDocumentWithReferral(ctx context.Context, documentID string) (*models.Document, *models.Referral, error) {
	doc, err := s.documents.GetByID(ctx, documentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, appErrors.Clone(appErrors.ErrNotFound, "document not found")
		}
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch document")
	}
	events, err := s.events.ListByDocument(ctx, documentID)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch document events")
	}
	doc.Events = events

	referral, err := s.referrals.GetByDocumentID(ctx, documentID)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch referral")
	}
	if !referral.IsOpen() {
		return nil, nil, appErrors.Clone(appErrors.ErrStaleReferral, fmt.Sprintf("referral %s is no longer open", referral.ID))
	}
	return doc, referral, nil
}

func (s *ValidationService) resolveActor(ctx context.Context, referralID string, claims *models.JWTClaims) (workflow.Actor, error) {
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

// senderRole resolves the responder's unit role for the event payload,
// falling back to the portal role when the user sits in no unit.
func (s *ValidationService) senderRole(ctx context.Context, referralID string, actor *models.JWTClaims) models.UnitRole {
	role, err := s.units.MemberRole(ctx, referralID, actor.UserID)
	if err == nil && role != "" {
		return role
	}
	if actor.Role == models.RoleSuperAdmin {
		return models.UnitRoleSuperAdmin
	}
	return models.UnitRoleAdmin
}

// referralStateFor maps the document's derived state back onto the
// referral-level summary.
func (s *ValidationService) referralStateFor(doc *models.Document) models.ReferralValidationState {
	if s.engine.DeriveState(doc) == workflow.StateValidated {
		return models.ReferralValidationValidated
	}
	return models.ReferralValidationInReview
}

func (s *ValidationService) buildOutcome(ctx context.Context, reportID string, state models.ReferralValidationState, actor *models.JWTClaims) (*dto.ValidationOutcome, error) {
	view, err := s.reports.BuildReportView(ctx, reportID, actor)
	if err != nil {
		return nil, err
	}
	return &dto.ValidationOutcome{Report: view, ValidationState: state}, nil
}

func (s *ValidationService) invalidate(ctx context.Context, doc *models.Document, userID string) {
	s.reports.InvalidateReportView(ctx, doc.ReportID)
	if s.cache.Enabled() {
		if err := s.cache.Invalidate(ctx, ValidatorsPattern(doc.ID)); err != nil {
			s.logger.Warn("failed to invalidate validators cache", zap.Error(err))
		}
	}
}

func (s *ValidationService) recordEvents(verb models.EventVerb, count int) {
	if s.metrics == nil {
		return
	}
	for i := 0; i < count; i++ {
		s.metrics.RecordWorkflowEvent(string(verb))
	}
}

func (s *ValidationService) denyTransition(action workflow.Action) {
	if s.metrics != nil {
		s.metrics.RecordTransitionDenied(string(action))
	}
}

func (s *ValidationService) emitAudit(ctx context.Context, actor *models.JWTClaims, action, resourceID string, payload map[string]interface{}) {
	if s.audit == nil {
		return
	}
	body, _ := json.Marshal(payload)
	userID := actor.UserID
	resource := "document"
	if err := s.audit.CreateAuditLog(ctx, &models.AuditLog{
		UserID:     &userID,
		Action:     action,
		Resource:   resource,
		ResourceID: &resourceID,
		NewValues:  body,
	}); err != nil {
		s.logger.Warn("failed to write audit log", zap.Error(err))
	}
}
