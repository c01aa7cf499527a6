package middleware

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	userIDKey   = "userID"
	userRoleKey = "userRole"
)

// Auth verifies an HS256 bearer token and stores the caller's id and role
// on the context. The id comes from "sub" or, failing that, "user_id".
func Auth(secret []byte) gin.HandlerFunc {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))

	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(raw) == "" {
			abort(c, http.StatusUnauthorized, "missing bearer token")
			return
		}

		claims := jwt.MapClaims{}
		_, err := parser.ParseWithClaims(strings.TrimSpace(raw), claims, func(*jwt.Token) (interface{}, error) {
			return secret, nil
		})
		if err != nil {
			abort(c, http.StatusUnauthorized, "invalid token")
			return
		}

		userID := claimString(claims["sub"])
		if userID == "" {
			userID = claimString(claims["user_id"])
		}
		role := claimString(claims["role"])
		if userID == "" || role == "" {
			abort(c, http.StatusUnauthorized, "token lacks subject or role")
			return
		}

		c.Set(userIDKey, userID)
		c.Set(userRoleKey, role)
		c.Next()
	}
}

func claimString(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case float64:
		return fmt.Sprintf("%.0f", t)
	default:
		return fmt.Sprint(t)
	}
}

// UserID returns the authenticated caller id set by Auth.
func UserID(c *gin.Context) string {
	return c.GetString(userIDKey)
}

// UserRole returns the authenticated caller role set by Auth.
func UserRole(c *gin.Context) string {
	return c.GetString(userRoleKey)
}

func abort(c *gin.Context, status int, message string) {
	body := gin.H{"error": message}
	if rid := GetRequestID(c); rid != "" {
		body["request_id"] = rid
	}
	c.AbortWithStatusJSON(status, body)
}
