package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/prodforms/formcap-api/internal/models"
	appErrors "github.com/prodforms/formcap-api/pkg/errors"
)

// selfRole grants access when the :id route parameter matches the caller.
const selfRole = "SELF"

// RBAC enforces role-based access control for routes. The special value
// "SELF" allows access when the :id route parameter matches the caller.
func RBAC(allowed ...string) gin.HandlerFunc {
	roles := make(map[models.UserRole]struct{}, len(allowed))
	allowSelf := false
	for _, a := range allowed {
		if a == selfRole {
			allowSelf = true
		} else {
			roles[models.UserRole(a)] = struct{}{}
		}
	}

	return func(c *gin.Context) {
		claims, ok := claimsFrom(c)
		if !ok {
			deny(c, appErrors.ErrUnauthorized)
			return
		}

		if _, ok := roles[claims.Role]; ok {
			c.Next()
			return
		}
		if allowSelf && c.Param("id") == claims.UserID && claims.UserID != "" {
			c.Next()
			return
		}

		deny(c, appErrors.ErrForbidden)
	}
}

// RequireRoles is a helper that accepts a list of roles.
func RequireRoles(roles ...models.UserRole) gin.HandlerFunc {
	allowed := make([]string, len(roles))
	for i, r := range roles {
		allowed[i] = string(r)
	}
	return RBAC(allowed...)
}
