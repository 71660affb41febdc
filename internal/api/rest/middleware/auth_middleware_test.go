package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Dhoini/channel-gatekeeper/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

var testSecret = []byte("test-secret")

func signToken(t *testing.T, secret []byte, scope string, expires time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, TokenClaims{
		Scope: scope,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "ops",
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	})
	signed, err := token.SignedString(secret)
	if err != nil {
		t.Fatalf("SignedString: %v", err)
	}
	return signed
}

func TestRequireAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mw := NewJWTMiddleware(logger.Nop(), &DefaultTokenValidator{Secret: testSecret})

	router := gin.New()
	router.GET("/admin", mw.RequireAuth(ScopeAdmin), func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString(ContextSubjectKey))
	})

	future := time.Now().Add(time.Hour)
	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"no header", "", http.StatusUnauthorized},
		{"not bearer", "Basic abc", http.StatusUnauthorized},
		{"garbage", "Bearer abc", http.StatusUnauthorized},
		{"wrong secret", "Bearer " + signToken(t, []byte("other"), ScopeAdmin, future), http.StatusUnauthorized},
		{"expired", "Bearer " + signToken(t, testSecret, ScopeAdmin, time.Now().Add(-time.Hour)), http.StatusUnauthorized},
		{"wrong scope", "Bearer " + signToken(t, testSecret, "read", future), http.StatusUnauthorized},
		{"admin", "Bearer " + signToken(t, testSecret, ScopeAdmin, future), http.StatusOK},
		{"admin among scopes", "Bearer " + signToken(t, testSecret, "read admin", future), http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/admin", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d (body %s)", w.Code, tt.want, w.Body.String())
			}
			if tt.want == http.StatusOK && w.Body.String() != "ops" {
				t.Errorf("subject = %q", w.Body.String())
			}
		})
	}
}

func TestLoggerMiddlewareRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(LoggerMiddleware(logger.Nop(), nil))
	router.GET("/ping", func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString(ContextRequestIDKey))
	})

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(RequestIDHeader, "req-1")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Body.String() != "req-1" || w.Header().Get(RequestIDHeader) != "req-1" {
		t.Errorf("request id = %q / %q", w.Body.String(), w.Header().Get(RequestIDHeader))
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	if w.Header().Get(RequestIDHeader) == "" {
		t.Errorf("request id not generated")
	}
}
