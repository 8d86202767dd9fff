package middleware

import (
	"net/http"
	"strings"
	"time"

	"entitlement-api/internal/response"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// UserIDKey is the gin context key holding the authenticated user id
const UserIDKey = "user_id"

// UserAuthMiddleware authenticates the caller from an HS256 bearer token and
// stores its subject under UserIDKey.
func UserAuthMiddleware(secret string) gin.HandlerFunc {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	)
	keyFunc := func(*jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}

	return func(c *gin.Context) {
		if secret == "" {
			response.Abort(c, http.StatusInternalServerError, "Authentication is not configured")
			return
		}

		header := c.GetHeader("Authorization")
		token, found := strings.CutPrefix(header, "Bearer ")
		token = strings.TrimSpace(token)
		if !found || token == "" {
			response.Abort(c, http.StatusUnauthorized, "Missing bearer token")
			return
		}

		claims := jwt.RegisteredClaims{}
		if _, err := parser.ParseWithClaims(token, &claims, keyFunc); err != nil {
			response.Abort(c, http.StatusUnauthorized, "Invalid or expired token")
			return
		}
		if claims.Subject == "" {
			response.Abort(c, http.StatusUnauthorized, "Token has no subject")
			return
		}

		c.Set(UserIDKey, claims.Subject)
		c.Set("request_time", time.Now())
		c.Next()
	}
}

// UserID returns the authenticated user id set by UserAuthMiddleware
func UserID(c *gin.Context) string {
	return c.GetString(UserIDKey)
}
