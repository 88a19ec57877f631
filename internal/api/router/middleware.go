package router

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/cuongbtq/questionnaire-be/internal/api/handler"
	"github.com/cuongbtq/questionnaire-be/internal/domain"
	"github.com/gin-gonic/gin"
)

// TokenVerifier turns a bearer token into the caller's identity.
type TokenVerifier interface {
	Verify(token string) (domain.Identity, error)
}

// Admitter decides whether a caller may run an operation now.
type Admitter interface {
	Allow(ctx context.Context, id domain.Identity, op string) error
}

// LoggerMiddleware logs HTTP requests with slog
func LoggerMiddleware(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		// Process request
		c.Next()

		// Calculate latency
		latency := time.Since(start)

		attrs := []any{
			slog.Int("status", c.Writer.Status()),
			slog.String("method", c.Request.Method),
			slog.String("path", path),
			slog.String("query", query),
			slog.String("ip", c.ClientIP()),
			slog.String("user_agent", c.Request.UserAgent()),
			slog.Duration("latency", latency),
			slog.Int("body_size", c.Writer.Size()),
		}
		if id, ok := handler.IdentityFrom(c); ok {
			attrs = append(attrs, slog.String("uid", id.UID))
		}
		logger.Info("HTTP Request", attrs...)

		// Log errors if any
		if len(c.Errors) > 0 {
			for _, e := range c.Errors {
				logger.Debug("Request error",
					slog.String("error", e.Error()),
					slog.Uint64("type", uint64(e.Type)),
				)
			}
		}
	}
}

// CORSMiddleware handles Cross-Origin Resource Sharing. An empty allow list
// accepts any origin.
func CORSMiddleware(allowedOrigins []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		switch {
		case len(allowedOrigins) == 0:
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		case origin != "" && slices.Contains(allowedOrigins, origin):
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
			c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
			c.Writer.Header().Add("Vary", "Origin")
		}
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PATCH")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

// AuthMiddleware verifies the bearer token and stores the caller's identity.
// The client IP becomes the identity's secondary rate limit attribute.
func AuthMiddleware(verifier TokenVerifier, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, found := strings.CutPrefix(header, "Bearer ")
		if !found || strings.TrimSpace(token) == "" {
			handler.WriteError(c, logger, domain.Unauthenticated("missing bearer token"))
			return
		}

		id, err := verifier.Verify(strings.TrimSpace(token))
		if err != nil {
			logger.Debug("Rejected bearer token", slog.String("error", err.Error()))
			handler.WriteError(c, logger, domain.Unauthenticated("invalid or expired token"))
			return
		}
		id.Attribute = c.ClientIP()

		handler.SetIdentity(c, id)
		c.Next()
	}
}

// RateLimitMiddleware admits the request against the limit of op.
func RateLimitMiddleware(limiter Admitter, op string, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := handler.IdentityFrom(c)
		if !ok {
			handler.WriteError(c, logger, domain.Unauthenticated("authentication required"))
			return
		}
		if err := limiter.Allow(c.Request.Context(), id, op); err != nil {
			handler.WriteError(c, logger, err)
			return
		}
		c.Next()
	}
}
