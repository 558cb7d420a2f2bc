// Package auth guards the API with an optional static bearer token.
package auth

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"videoinsight/internal/logging"
)

const (
	defaultHeaderName = "Authorization"
	defaultCookieName = "videoinsight_token"
)

type Service struct {
	token      string
	headerName string
	cookieName string
	logger     *slog.Logger
}

// NewService returns a token checker. An empty token disables the check.
func NewService(token string, logger *slog.Logger) *Service {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Service{
		token:      strings.TrimSpace(token),
		headerName: defaultHeaderName,
		cookieName: defaultCookieName,
		logger:     logging.WithComponent(logger, "auth"),
	}
}

func (s *Service) Enabled() bool {
	return s != nil && s.token != ""
}

// Middleware rejects requests without the configured bearer token.
func (s *Service) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.Enabled() {
			c.Next()
			return
		}
		provided := s.extractToken(c)
		if provided == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization required"})
			return
		}
		if subtle.ConstantTimeCompare([]byte(provided), []byte(s.token)) != 1 {
			s.logger.Warn("invalid access token", "provided", logging.SanitizeToken(provided), "client_ip", c.ClientIP())
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Next()
	}
}

func (s *Service) extractToken(c *gin.Context) string {
	authHeader := c.GetHeader(s.headerName)
	if strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
		return strings.TrimSpace(authHeader[7:])
	}
	if token, err := c.Cookie(s.cookieName); err == nil && token != "" {
		return token
	}
	return ""
}
