package middleware

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/timetable-api/internal/models"
	appErrors "github.com/noah-isme/timetable-api/pkg/errors"
	"github.com/noah-isme/timetable-api/pkg/response"
)

// ContextUserKey is the gin context key storing the authenticated identity.
const ContextUserKey = "currentUser"

// TokenAuthenticator resolves access tokens to identities.
type TokenAuthenticator interface {
	ValidateToken(ctx context.Context, token string) (*models.Identity, error)
	LookupIdentity(ctx context.Context, pk string) (*models.User, error)
}

// JWT protects routes by requiring a valid access token taken from the
// Authorization header or, failing that, from one of the named cookies. The
// token's user must still exist.
func JWT(auth TokenAuthenticator, cookieNames ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := extractToken(c, cookieNames)
		if err != nil {
			response.Error(c, err)
			c.Abort()
			return
		}

		identity, err := auth.ValidateToken(c.Request.Context(), token)
		if err != nil {
			response.Error(c, err)
			c.Abort()
			return
		}

		user, err := auth.LookupIdentity(c.Request.Context(), identity.PK)
		if err != nil {
			response.Error(c, err)
			c.Abort()
			return
		}
		if user == nil {
			response.Error(c, appErrors.Clone(appErrors.ErrUnauthorized, "user no longer exists"))
			c.Abort()
			return
		}

		c.Set(ContextUserKey, identity)
		c.Next()
	}
}

// IdentityFromContext returns the identity stored by JWT, if any.
func IdentityFromContext(c *gin.Context) *models.Identity {
	value, exists := c.Get(ContextUserKey)
	if !exists {
		return nil
	}
	identity, ok := value.(*models.Identity)
	if !ok {
		return nil
	}
	return identity
}

func extractToken(c *gin.Context, cookieNames []string) (string, error) {
	if header := c.GetHeader("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
			return "", appErrors.Clone(appErrors.ErrUnauthorized, "invalid authorization header")
		}
		return strings.TrimSpace(parts[1]), nil
	}
	for _, name := range cookieNames {
		if value, err := c.Cookie(name); err == nil && value != "" {
			return value, nil
		}
	}
	return "", appErrors.ErrUnauthorized
}
