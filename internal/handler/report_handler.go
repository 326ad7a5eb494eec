package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/referral-portal-api/internal/dto"
	"github.com/noah-isme/referral-portal-api/internal/middleware"
	"github.com/noah-isme/referral-portal-api/internal/models"
	appErrors "github.com/noah-isme/referral-portal-api/pkg/errors"
	"github.com/noah-isme/referral-portal-api/pkg/response"
)

type reportService interface {
	GetReportView(ctx context.Context, reportID string, actor *models.JWTClaims) (*dto.ReportView, bool, error)
}

// ReportHandler serves the decorated report view.
type ReportHandler struct {
	service reportService
}

// NewReportHandler constructs the handler.
func NewReportHandler(service reportService) *ReportHandler {
	return &ReportHandler{service: service}
}

// Get godoc
// @Summary Get a report with decorated documents
// @Description Returns the report with versions and appendices, each carrying derived state, badge, and the caller's permitted actions.
// @Tags Reports
// @Produce json
// @Param id path string true "Report ID"
// @Success 200 {object} response.Envelope
// @Router /reports/{id} [get]
func (h *ReportHandler) Get(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	view, cacheHit, err := h.service.GetReportView(c.Request.Context(), c.Param("id"), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetCacheHit(c, cacheHit)
	response.JSON(c, http.StatusOK, view, nil, middleware.ExtractMeta(c))
}
