package http

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/antigravity-gateway/gateway/internal/domain/entity"
)

// authMiddleware enforces the OpenAI-surface API key check (spec §6):
// Bearer token on Authorization only, matching the OpenAI routes.
func authMiddleware(keys *entity.ApiKeySet) gin.HandlerFunc {
	return requireKey(keys, func(c *gin.Context) string {
		return bearerToken(c.GetHeader("Authorization"))
	})
}

// passthroughAuthMiddleware enforces the Gemini-native-route API key check
// (spec §6): Bearer token on Authorization, or an X-Goog-Api-Key header, or
// a ?key= query parameter.
func passthroughAuthMiddleware(keys *entity.ApiKeySet) gin.HandlerFunc {
	return requireKey(keys, func(c *gin.Context) string {
		if key := bearerToken(c.GetHeader("Authorization")); key != "" {
			return key
		}
		if key := c.GetHeader("X-Goog-Api-Key"); key != "" {
			return key
		}
		return c.Query("key")
	})
}

func requireKey(keys *entity.ApiKeySet, extract func(*gin.Context) string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !keys.Allowed(extract(c)) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": gin.H{"message": "missing or invalid API key", "type": "auth_missing"},
			})
			return
		}
		c.Next()
	}
}

func bearerToken(header string) string {
	const prefix = "Bearer "
	if strings.HasPrefix(header, prefix) {
		return strings.TrimPrefix(header, prefix)
	}
	return ""
}
