package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/Dhoini/channel-gatekeeper/pkg/logger"
	"github.com/Dhoini/channel-gatekeeper/pkg/res"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	// ContextSubjectKey ключ для хранения subject токена в контексте
	ContextSubjectKey = "subject"
	authHeaderPrefix  = "Bearer "

	// ScopeAdmin grants access to the admin endpoints
	ScopeAdmin = "admin"
)

// TokenValidator проверяет токен и возвращает claims
type TokenValidator interface {
	Validate(tokenString string) (*TokenClaims, error)
}

// TokenClaims claims токена доступа
type TokenClaims struct {
	Scope string `json:"scope"`
	jwt.RegisteredClaims
}

// JWTMiddleware проверяет bearer токены
type JWTMiddleware struct {
	log       *logger.Logger
	validator TokenValidator
}

// NewJWTMiddleware создает JWTMiddleware
func NewJWTMiddleware(log *logger.Logger, validator TokenValidator) *JWTMiddleware {
	return &JWTMiddleware{
		log:       log,
		validator: validator,
	}
}

// RequireAuth rejects requests without a valid token carrying one of
// requiredScopes. Scope may hold several space-separated values.
func (m *JWTMiddleware) RequireAuth(requiredScopes ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if !strings.HasPrefix(authHeader, authHeaderPrefix) {
			m.handleAuthError(c, "Missing authorization token")
			return
		}

		tokenString := strings.TrimPrefix(authHeader, authHeaderPrefix)
		claims, err := m.validator.Validate(tokenString)
		if err != nil {
			m.handleAuthError(c, fmt.Sprintf("Token validation failed: %v", err))
			return
		}

		if !hasRequiredScope(claims.Scope, requiredScopes) {
			m.handleAuthError(c, "Insufficient token permissions")
			return
		}

		c.Set(ContextSubjectKey, claims.Subject)
		m.log.Debugw("Request authenticated", "subject", claims.Subject, "path", c.Request.URL.Path)
		c.Next()
	}
}

func hasRequiredScope(tokenScope string, requiredScopes []string) bool {
	if len(requiredScopes) == 0 {
		return true
	}
	for _, granted := range strings.Fields(tokenScope) {
		for _, scope := range requiredScopes {
			if granted == scope {
				return true
			}
		}
	}
	return false
}

func (m *JWTMiddleware) handleAuthError(c *gin.Context, message string) {
	m.log.Warnw("HTTP authentication failed", "path", c.Request.URL.Path, "error", message)
	res.JsonResponse(c.Writer, res.ErrorResponse{
		Error:     message,
		ErrorCode: http.StatusUnauthorized,
	}, http.StatusUnauthorized)
	c.Abort()
}

// DefaultTokenValidator - реализация валидатора HS256 по умолчанию.
type DefaultTokenValidator struct {
	Secret []byte
}

// Validate разбирает и проверяет токен
func (v *DefaultTokenValidator) Validate(tokenString string) (*TokenClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &TokenClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.Secret, nil
	})

	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenMalformed):
			return nil, errors.New("malformed token")
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, errors.New("invalid token signature")
		case errors.Is(err, jwt.ErrTokenExpired), errors.Is(err, jwt.ErrTokenNotValidYet):
			return nil, errors.New("token expired")
		default:
			return nil, fmt.Errorf("invalid token: %w", err)
		}
	}

	if claims, ok := token.Claims.(*TokenClaims); ok && token.Valid {
		return claims, nil
	}
	return nil, errors.New("invalid token claims")
}
