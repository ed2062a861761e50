package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/quiz-trove/backend/internal/auth"
	"github.com/quiz-trove/backend/pkg/response"
)

const (
	// ContextUsername is the key for the caller's username in gin context.
	ContextUsername = "username"
	// ContextUserRole is the key for user role in gin context.
	ContextUserRole = "user_role"
)

// TokenValidator checks a bearer token and returns its claims.
type TokenValidator interface {
	Validate(token string) (*auth.Claims, error)
}

// JWT returns a middleware that validates the bearer token and stores the
// caller's username and role in the context.
func JWT(validator TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			response.Unauthorized(c, "missing authorization header")
			c.Abort()
			return
		}
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			response.Unauthorized(c, "invalid authorization header")
			c.Abort()
			return
		}
		claims, err := validator.Validate(strings.TrimSpace(parts[1]))
		if err != nil {
			response.Unauthorized(c, "invalid or expired token")
			c.Abort()
			return
		}
		c.Set(ContextUsername, claims.Username)
		c.Set(ContextUserRole, claims.Role)
		c.Next()
	}
}

// Actor returns the username set by JWT, or "" on unauthenticated routes.
func Actor(c *gin.Context) string {
	return c.GetString(ContextUsername)
}
