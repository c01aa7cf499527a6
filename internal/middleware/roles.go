package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// RequireRoles lets the request through only when the role set by Auth is
// one of allowedRoles (case-insensitive).
func RequireRoles(allowedRoles ...string) gin.HandlerFunc {
	allowed := make(map[string]struct{}, len(allowedRoles))
	for _, r := range allowedRoles {
		allowed[strings.ToLower(strings.TrimSpace(r))] = struct{}{}
	}

	return func(c *gin.Context) {
		role := UserRole(c)
		if role == "" {
			abort(c, http.StatusUnauthorized, "no role on request")
			return
		}
		if _, ok := allowed[strings.ToLower(strings.TrimSpace(role))]; !ok {
			abort(c, http.StatusForbidden, "role "+role+" is not allowed here")
			return
		}
		c.Next()
	}
}
