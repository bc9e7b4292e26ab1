package auth

import (
	"strings"

	"github.com/abduss/imgstore/internal/apperr"
	"github.com/abduss/imgstore/internal/logger"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const principalContextKey = "imgstorePrincipal"

// AuthMiddleware rejects requests without a valid bearer token before any
// handler runs, and stores the caller on the context.
func AuthMiddleware(service *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			apperr.Respond(c, apperr.Unauthorized("missing authorization header"), "")
			return
		}

		token := extractBearerToken(authHeader)
		if token == "" {
			apperr.Respond(c, apperr.Unauthorized("invalid authorization header"), "")
			return
		}

		principal, err := service.Authenticate(token)
		if err != nil {
			apperr.Respond(c, apperr.Unauthorized("invalid or expired token"), "")
			return
		}

		c.Set(principalContextKey, principal)
		ctx := c.Request.Context()
		reqLog := logger.FromContext(ctx, nil).With(zap.String("user_id", principal.UserID.String()))
		c.Request = c.Request.WithContext(logger.WithContext(ctx, reqLog))
		c.Next()
	}
}

// CurrentPrincipal extracts the authenticated caller from the context.
func CurrentPrincipal(c *gin.Context) (Principal, bool) {
	value, exists := c.Get(principalContextKey)
	if !exists {
		return Principal{}, false
	}
	principal, ok := value.(Principal)
	return principal, ok
}

func extractBearerToken(header string) string {
	if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[7:])
}
