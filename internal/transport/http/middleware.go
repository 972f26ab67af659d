package http

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"quiz-round-service/internal/auth"
)

const (
	ctxActorID  = "actor_id"
	ctxUsername = "username"
)

// requestLogger logs one line per request.
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		c.Next()
		logger.Info("request",
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}

// bearerAuth validates the Bearer token and stores the actor in the context.
func bearerAuth(tokens *auth.TokenService) gin.HandlerFunc {
	return func(c *gin.Context) {
		parts := strings.SplitN(c.GetHeader("Authorization"), " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			fail(c, http.StatusUnauthorized, "missing or invalid authorization header")
			return
		}
		claims, err := tokens.Validate(parts[1])
		if err != nil {
			fail(c, http.StatusUnauthorized, "invalid or expired token")
			return
		}
		c.Set(ctxActorID, claims.Subject)
		c.Set(ctxUsername, claims.Username)
		c.Next()
	}
}

// requireAdmin must run after bearerAuth.
func requireAdmin(admins auth.AdminChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !admins.IsAdmin(c.GetString(ctxActorID)) {
			fail(c, http.StatusForbidden, "admin privileges required")
			return
		}
		c.Next()
	}
}
