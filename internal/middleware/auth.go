package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/waktihq/notify/internal/handler"
	"github.com/waktihq/notify/pkg/auth"
	"github.com/waktihq/notify/pkg/security"
)

const (
	ContextUserID    = "userID"
	ContextUserEmail = "userEmail"

	HeaderServiceKey = "X-Service-Key"
)

type AuthMiddleware struct {
	jwtService     auth.JWTService
	keyVerifier    security.KeyVerifier
	serviceKeyHash string
}

func NewAuthMiddleware(jwtService auth.JWTService, keyVerifier security.KeyVerifier, serviceKeyHash string) *AuthMiddleware {
	return &AuthMiddleware{
		jwtService:     jwtService,
		keyVerifier:    keyVerifier,
		serviceKeyHash: serviceKeyHash,
	}
}

// Authenticate verifies the JWT bearer token and sets the user id in context
func (m *AuthMiddleware) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, handler.NewErrorResponse("missing authorization header"))
			c.Abort()
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.JSON(http.StatusUnauthorized, handler.NewErrorResponse("invalid authorization format"))
			c.Abort()
			return
		}

		claims, err := m.jwtService.ValidateToken(parts[1])
		if err != nil {
			c.JSON(http.StatusUnauthorized, handler.NewErrorResponse("invalid token"))
			c.Abort()
			return
		}

		if _, err := uuid.Parse(claims.UserID); err != nil {
			c.JSON(http.StatusUnauthorized, handler.NewErrorResponse("invalid token subject"))
			c.Abort()
			return
		}

		c.Set(ContextUserID, claims.UserID)
		c.Set(ContextUserEmail, claims.Email)
		c.Next()
	}
}

// RequireServiceKey gates internal endpoints (queue processing, delivery
// webhook) behind the shared service key. Only a bcrypt hash of the key is
// held in config.
func (m *AuthMiddleware) RequireServiceKey() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader(HeaderServiceKey)
		if key == "" {
			c.JSON(http.StatusUnauthorized, handler.NewErrorResponse("missing service key"))
			c.Abort()
			return
		}

		if err := m.keyVerifier.Verify(m.serviceKeyHash, key); err != nil {
			c.JSON(http.StatusUnauthorized, handler.NewErrorResponse("invalid service key"))
			c.Abort()
			return
		}

		c.Next()
	}
}

// UserIDFromContext returns the authenticated user id set by Authenticate.
func UserIDFromContext(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.GetString(ContextUserID))
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}
