package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/openscholar/journal-api/internal/service"
	appErrors "github.com/openscholar/journal-api/pkg/errors"
	"github.com/openscholar/journal-api/pkg/response"
)

// ContextUserKey is the gin context key storing the authenticated principal.
const ContextUserKey = "currentUser"

// JWT protects routes by requiring a valid, non-blacklisted access token.
func JWT(authService *service.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, err := bearerToken(c)
		if err != nil {
			response.Error(c, err)
			c.Abort()
			return
		}

		principal, err := authService.ValidateAccess(c.Request.Context(), raw)
		if err != nil {
			response.Error(c, err)
			c.Abort()
			return
		}

		c.Set(ContextUserKey, principal)
		c.Next()
	}
}

// BearerToken extracts the raw token from the Authorization header without
// validating it. Logout uses it so revocation works even for tokens the
// validator would reject.
func BearerToken(c *gin.Context) string {
	raw, err := bearerToken(c)
	if err != nil {
		return ""
	}
	return raw
}

func bearerToken(c *gin.Context) (string, error) {
	header := c.GetHeader("Authorization")
	if header == "" {
		return "", appErrors.Clone(appErrors.ErrUnauthorized, "missing authorization header")
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", appErrors.Clone(appErrors.ErrUnauthorized, "invalid authorization header")
	}
	return parts[1], nil
}
