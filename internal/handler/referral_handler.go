package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/referral-portal-api/internal/models"
	appErrors "github.com/noah-isme/referral-portal-api/pkg/errors"
	"github.com/noah-isme/referral-portal-api/pkg/response"
)

type referralService interface {
	Get(ctx context.Context, id string, actor *models.JWTClaims) (*models.Referral, error)
}

// ReferralHandler serves the case file header.
type ReferralHandler struct {
	service referralService
}

// NewReferralHandler constructs the handler.
func NewReferralHandler(service referralService) *ReferralHandler {
	return &ReferralHandler{service: service}
}

// Get godoc
// @Summary Get a referral with its units
// @Tags Referrals
// @Produce json
// @Param id path string true "Referral ID"
// @Success 200 {object} response.Envelope
// @Router /referrals/{id} [get]
func (h *ReferralHandler) Get(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	referral, err := h.service.Get(c.Request.Context(), c.Param("id"), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, referral, nil)
}
