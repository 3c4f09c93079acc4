package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/LilT0ny/BlindCheckSystem/internal/middleware"
	"github.com/LilT0ny/BlindCheckSystem/internal/models"
)

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

func authFromContext(c *gin.Context) (models.AuthContext, bool) {
	claims := claimsFromContext(c)
	if claims == nil {
		return models.AuthContext{}, false
	}
	return claims.Context(), true
}
