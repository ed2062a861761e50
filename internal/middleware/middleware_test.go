package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/quiz-trove/backend/internal/auth"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newRouter(jwtService *auth.JWTService) *gin.Engine {
	r := gin.New()
	r.Use(CORS("http://localhost:3000"), Logger(zap.NewNop()))
	r.GET("/open", func(c *gin.Context) { c.String(http.StatusOK, "open") })
	r.POST("/write", JWT(jwtService), RequireRole(auth.RoleSuperAdmin, auth.RoleAdmin), func(c *gin.Context) {
		c.String(http.StatusOK, Actor(c))
	})
	return r
}

func TestJWTAndRole(t *testing.T) {
	svc := auth.NewJWTService("secret", 1)
	r := newRouter(svc)

	adminToken, err := svc.Generate("alice", auth.RoleAdmin)
	require.NoError(t, err)
	userToken, err := svc.Generate("bob", "user")
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		status int
		body   string
	}{
		{"missing header", "", http.StatusUnauthorized, ""},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized, ""},
		{"bad token", "Bearer nope", http.StatusUnauthorized, ""},
		{"wrong role", "Bearer " + userToken, http.StatusForbidden, ""},
		{"admin", "Bearer " + adminToken, http.StatusOK, "alice"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/write", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tt.status, w.Code)
			if tt.body != "" {
				assert.Equal(t, tt.body, w.Body.String())
			}
		})
	}
}

func TestCORS(t *testing.T) {
	r := newRouter(auth.NewJWTService("secret", 1))

	req := httptest.NewRequest(http.MethodOptions, "/open", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/open", nil)
	req.Header.Set("Origin", "http://evil.example")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestLoggerRequestID(t *testing.T) {
	r := newRouter(auth.NewJWTService("secret", 1))

	req := httptest.NewRequest(http.MethodGet, "/open", nil)
	req.Header.Set(HeaderRequestID, "abc")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "abc", w.Header().Get(HeaderRequestID))

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/open", nil))
	assert.NotEmpty(t, w.Header().Get(HeaderRequestID))
}
