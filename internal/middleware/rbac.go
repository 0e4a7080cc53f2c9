package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/timetable-api/internal/models"
	appErrors "github.com/noah-isme/timetable-api/pkg/errors"
	"github.com/noah-isme/timetable-api/pkg/response"
)

// RequireRoles only lets identities holding one of roles through. It must run
// after JWT.
func RequireRoles(roles ...models.UserRole) gin.HandlerFunc {
	allowed := make(map[models.UserRole]struct{}, len(roles))
	for _, r := range roles {
		allowed[r] = struct{}{}
	}
	return func(c *gin.Context) {
		identity := IdentityFromContext(c)
		if identity == nil {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}
		if _, ok := allowed[identity.Role]; !ok {
			response.Error(c, appErrors.Clone(appErrors.ErrForbidden, "access restricted to "+roleList(roles)))
			c.Abort()
			return
		}
		c.Next()
	}
}

func roleList(roles []models.UserRole) string {
	names := make([]string, len(roles))
	for i, r := range roles {
		names[i] = string(r)
	}
	return strings.Join(names, ", ")
}
