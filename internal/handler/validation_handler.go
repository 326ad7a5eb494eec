package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/referral-portal-api/internal/dto"
	"github.com/noah-isme/referral-portal-api/internal/models"
	appErrors "github.com/noah-isme/referral-portal-api/pkg/errors"
	"github.com/noah-isme/referral-portal-api/pkg/response"
)

type validationService interface {
	ResolveValidators(ctx context.Context, documentID string, actor *models.JWTClaims) (*dto.ValidatorsResponse, error)
	SubmitRequest(ctx context.Context, documentID string, req dto.SubmitValidationRequest, actor *models.JWTClaims) (*dto.ValidationOutcome, error)
	SubmitResponse(ctx context.Context, documentID string, req dto.SubmitValidationResponse, actor *models.JWTClaims) (*dto.ValidationOutcome, error)
}

// ValidationHandler exposes the validation workflow endpoints.
type ValidationHandler struct {
	service validationService
}

// NewValidationHandler constructs the handler.
func NewValidationHandler(service validationService) *ValidationHandler {
	return &ValidationHandler{service: service}
}

// Validators godoc
// @Summary List eligible validators for a document
// @Description Groups eligible approvers by role and unit, excluding the caller and targets with pending requests.
// @Tags Validation
// @Produce json
// @Param id path string true "Document ID"
// @Success 200 {object} response.Envelope
// @Router /documents/{id}/validators [get]
func (h *ValidationHandler) Validators(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	resp, err := h.service.ResolveValidators(c.Request.Context(), c.Param("id"), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, resp, nil)
}

// SubmitRequest godoc
// @Summary Submit a validation request
// @Description Fans the request out to every selected (role, unit) target and returns the refreshed report.
// @Tags Validation
// @Accept json
// @Produce json
// @Param id path string true "Document ID"
// @Param payload body dto.SubmitValidationRequest true "Targets and optional comment"
// @Success 201 {object} response.Envelope
// @Router /documents/{id}/validation-requests [post]
func (h *ValidationHandler) SubmitRequest(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.SubmitValidationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid validation request payload"))
		return
	}
	outcome, err := h.service.SubmitRequest(c.Request.Context(), c.Param("id"), req, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusCreated, outcome, nil)
}

// SubmitResponse godoc
// @Summary Record a validation decision
// @Description Accepts VALIDATE or REQUEST_CHANGE and returns the refreshed report with the referral's validation state.
// @Tags Validation
// @Accept json
// @Produce json
// @Param id path string true "Document ID"
// @Param payload body dto.SubmitValidationResponse true "Decision verb and optional comment"
// @Success 201 {object} response.Envelope
// @Router /documents/{id}/validation-responses [post]
func (h *ValidationHandler) SubmitResponse(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.SubmitValidationResponse
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid validation response payload"))
		return
	}
	outcome, err := h.service.SubmitResponse(c.Request.Context(), c.Param("id"), req, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusCreated, outcome, nil)
}
