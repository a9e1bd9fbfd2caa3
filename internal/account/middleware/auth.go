package middleware

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"

	"rechub/internal/account/repository"
	"rechub/internal/account/service"
	pkgerrors "rechub/pkg/errors"
	"rechub/pkg/utils/response"
)

// AuthMiddleware enforces JWT validation for protected routes. If
// roles is non-empty, the authenticated identity must hold one of
// them.
func AuthMiddleware(authService *service.AuthService, roles ...repository.UserRole) gin.HandlerFunc {
	return func(c *gin.Context) {
		if authService == nil {
			response.AbortWithErrorCode(c, pkgerrors.ServiceUnavailable, "auth service unavailable")
			return
		}

		token := extractBearerToken(c.GetHeader("Authorization"))
		identity, err := authService.Authenticate(token)
		if err != nil {
			response.AbortWithError(c, err)
			return
		}

		if len(roles) > 0 && !hasRole(identity.Role, roles) {
			response.AbortWithErrorCode(c, pkgerrors.Forbidden, "insufficient role")
			return
		}

		c.Set("user_id", identity.UserID)
		c.Set("username", identity.Username)
		c.Set("user_role", string(identity.Role))
		ctx := context.WithValue(c.Request.Context(), "username", identity.Username)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func extractBearerToken(authHeader string) string {
	if authHeader == "" {
		return ""
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func hasRole(role repository.UserRole, allowed []repository.UserRole) bool {
	for _, item := range allowed {
		if strings.EqualFold(string(role), string(item)) {
			return true
		}
	}
	return false
}

// CurrentUsername returns the authenticated username, if any.
func CurrentUsername(c *gin.Context) string {
	if v, exists := c.Get("username"); exists {
		if name, ok := v.(string); ok {
			return name
		}
	}
	return ""
}
