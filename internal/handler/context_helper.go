package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/referral-portal-api/internal/middleware"
	"github.com/noah-isme/referral-portal-api/internal/models"
)

// requestMeta captures the caller's address and agent for audit trails.
func requestMeta(c *gin.Context) models.LoginRequest {
	return models.LoginRequest{IP: c.ClientIP(), UserAgent: c.GetHeader("User-Agent")}
}

func claimsFromContext(c *gin.Context) *models.JWTClaims {
	value, exists := c.Get(middleware.ContextUserKey)
	if !exists {
		return nil
	}
	claims, ok := value.(*models.JWTClaims)
	if !ok {
		return nil
	}
	return claims
}
