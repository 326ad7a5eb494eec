package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/referral-portal-api/internal/dto"
	"github.com/noah-isme/referral-portal-api/internal/models"
	"github.com/noah-isme/referral-portal-api/internal/workflow"
	appErrors "github.com/noah-isme/referral-portal-api/pkg/errors"
)

type reportStore interface {
	GetByID(ctx context.Context, id string) (*models.Report, error)
	ListAttachments(ctx context.Context, reportID string) ([]models.Attachment, error)
}

type reportDocumentStore interface {
	ListByReport(ctx context.Context, reportID string, kind models.DocumentKind) ([]models.Document, error)
}

type reportEventStore interface {
	ListByDocuments(ctx context.Context, documentIDs []string) (map[string][]models.Event, error)
}

type reportReferralStore interface {
	GetByID(ctx context.Context, id string) (*models.Referral, error)
}

type reportUnitStore interface {
	IsOrganizer(ctx context.Context, referralID, userID string) (bool, error)
}

// ReportService assembles the decorated report view consumed by the
// portal: every document carries its derived state, badge, and the
// caller's permitted actions, recomputed from the event log on each read.
type ReportService struct {
	reports   reportStore
	documents reportDocumentStore
	events    reportEventStore
	referrals reportReferralStore
	units     reportUnitStore
	engine    *workflow.Engine
	cache     *CacheService
	cacheTTL  time.Duration
	logger    *zap.Logger
}

// NewReportService constructs the service.
func NewReportService(reports reportStore, documents reportDocumentStore, events reportEventStore, referrals reportReferralStore, units reportUnitStore, engine *workflow.Engine, cache *CacheService, cacheTTL time.Duration, logger *zap.Logger) *ReportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cacheTTL <= 0 {
		cacheTTL = 2 * time.Minute
	}
	return &ReportService{
		reports:   reports,
		documents: documents,
		events:    events,
		referrals: referrals,
		units:     units,
		engine:    engine,
		cache:     cache,
		cacheTTL:  cacheTTL,
		logger:    logger,
	}
}

// BuildReportView loads the report with both document kinds and their
// event logs, and decorates each document for the calling user.
func (s *ReportService) BuildReportView(ctx context.Context, reportID string, actor *models.JWTClaims) (*dto.ReportView, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}

	report, err := s.reports.GetByID(ctx, reportID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "report not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch report")
	}

	referral, err := s.referrals.GetByID(ctx, report.ReferralID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch referral")
	}

	wfActor, err := s.resolveActor(ctx, referral.ID, actor)
	if err != nil {
		return nil, err
	}

	versions, err := s.loadDocuments(ctx, reportID, models.DocumentKindVersion)
	if err != nil {
		return nil, err
	}
	appendices, err := s.loadDocuments(ctx, reportID, models.DocumentKindAppendix)
	if err != nil {
		return nil, err
	}

	attachments, err := s.reports.ListAttachments(ctx, reportID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch attachments")
	}
	report.Attachments = attachments

	view := &dto.ReportView{
		Report:          *report,
		Versions:        s.decorate(versions, referral, wfActor),
		Appendices:      s.decorate(appendices, referral, wfActor),
		ReferralState:   referral.State,
		ValidationState: referral.ValidationState,
	}
	return view, nil
}

// GetReportView serves the cached view when possible, rebuilding on miss.
// The second return reports whether the cache served the view.
func (s *ReportService) GetReportView(ctx context.Context, reportID string, actor *models.JWTClaims) (*dto.ReportView, bool, error) {
	if actor == nil {
		return nil, false, appErrors.ErrUnauthorized
	}
	key := ReportViewKey(reportID, actor.UserID)
	if s.cache.Enabled() {
		var cached dto.ReportView
		if hit, err := s.cache.Get(ctx, key, &cached); err == nil && hit {
			return &cached, true, nil
		}
	}
	view, err := s.BuildReportView(ctx, reportID, actor)
	if err != nil {
		return nil, false, err
	}
	if s.cache.Enabled() {
		if err := s.cache.Set(ctx, key, view, s.cacheTTL); err != nil {
			s.logger.Warn("failed to cache report view", zap.Error(err))
		}
	}
	return view, false, nil
}

// InvalidateReportView drops all cached views of the report, for every
// user. Called after any event append touching one of its documents.
func (s *ReportService) InvalidateReportView(ctx context.Context, reportID string) {
	if !s.cache.Enabled() {
		return
	}
	if err := s.cache.Invalidate(ctx, ReportViewPattern(reportID)); err != nil {
		s.logger.Warn("failed to invalidate report view cache", zap.String("report_id", reportID), zap.Error(err))
	}
}

func (s *ReportService) loadDocuments(ctx context.Context, reportID string, kind models.DocumentKind) ([]models.Document, error) {
	docs, err := s.documents.ListByReport(ctx, reportID, kind)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch documents")
	}
	if len(docs) == 0 {
		return docs, nil
	}
	ids := make([]string, len(docs))
	for i, d := range docs {
		ids[i] = d.ID
	}
	grouped, err := s.events.ListByDocuments(ctx, ids)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch document events")
	}
	for i := range docs {
		docs[i].Events = grouped[docs[i].ID]
	}
	return docs, nil
}

func (s *ReportService) decorate(docs []models.Document, referral *models.Referral, actor workflow.Actor) []dto.DocumentView {
	views := make([]dto.DocumentView, len(docs))
	for i := range docs {
		doc := docs[i]
		state := s.engine.DeriveState(&doc)
		views[i] = dto.DocumentView{
			Document:   doc,
			State:      state,
			Badge:      workflow.StateBadge(state),
			Actions:    workflow.DescribeActions(s.engine, &doc, referral, actor),
			Validated:  workflow.HasUserValidated(&doc, actor.ID),
			ChangeOpen: workflow.IsChangeRequested(&doc),
		}
	}
	return views
}

func (s *ReportService) resolveActor(ctx context.Context, referralID string, claims *models.JWTClaims) (workflow.Actor, error) {
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
