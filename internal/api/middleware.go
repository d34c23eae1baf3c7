package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"guildchat/internal/auth"
	"guildchat/internal/security"
	"guildchat/internal/snowflake"
)

const ctxUserID = "user_id"

func apiError(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, gin.H{"error": gin.H{"code": code, "message": message}})
}

func (s *Server) corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")

		allowed := false
		for _, allowedOrigin := range s.cfg.CORSOrigins {
			if origin == allowedOrigin || allowedOrigin == "*" {
				allowed = true
				break
			}
		}

		if allowed {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
			c.Header("Access-Control-Max-Age", "3600")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		s.log.Info("http_request",
			"method", method,
			"path", path,
			"status", status,
			"latency_ms", latency.Milliseconds(),
			"client_ip", c.ClientIP(),
		)
	}
}

// rateLimitMiddleware keys the bucket on the authenticated user id when it
// runs after authMiddleware (the authed route group), otherwise on the
// client IP (public routes).
func (s *Server) rateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := security.ClientIPFromRequest(c.Request)
		if id, ok := c.Get(ctxUserID); ok {
			key = id.(snowflake.ID).String()
		}
		if !s.limiter.Allow(key) {
			apiError(c, http.StatusTooManyRequests, "rate_limited", "too many requests")
			return
		}
		c.Next()
	}
}

// authMiddleware resolves the bearer token through the credential gate and
// stores the user id in the request context.
func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			apiError(c, http.StatusUnauthorized, "missing_token", "authorization required")
			return
		}
		token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
		if token == "" {
			apiError(c, http.StatusUnauthorized, "missing_token", "authorization required")
			return
		}

		ctx, cancel := s.ctx(c)
		defer cancel()

		userID, err := s.gate.Authenticate(ctx, token)
		if err != nil {
			switch {
			case errors.Is(err, auth.ErrRevoked):
				apiError(c, http.StatusUnauthorized, "credential_revoked", "credential has been revoked")
			case errors.Is(err, auth.ErrStale):
				apiError(c, http.StatusUnauthorized, "token_stale", "token predates a credential change")
			default:
				apiError(c, http.StatusUnauthorized, "invalid_token", "token is invalid or expired")
			}
			return
		}

		c.Set(ctxUserID, userID)
		c.Next()
	}
}

// currentUser reads the authenticated user id set by authMiddleware.
func currentUser(c *gin.Context) snowflake.ID {
	id, _ := c.Get(ctxUserID)
	userID, _ := id.(snowflake.ID)
	return userID
}

// pathID parses a snowflake path parameter, answering 400 on garbage.
func pathID(c *gin.Context, name string) (snowflake.ID, bool) {
	id, err := snowflake.Parse(c.Param(name))
	if err != nil {
		apiError(c, http.StatusBadRequest, "invalid_id", "malformed "+name)
		return 0, false
	}
	return id, true
}
