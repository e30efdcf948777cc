package middleware

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"vibe-backend/internal/shared/telemetry"
)

// Context keys handlers may set to enrich the request log line.
const (
	IdentityKindKey = "identityKind"
	RecordIDKey     = "recordId"
	ClaimOutcomeKey = "claimOutcome"
)

// Logging emits a structured log per request.
func Logging() gin.HandlerFunc {
	return func(c *gin.Context) {
		if strings.EqualFold(c.Request.Method, "OPTIONS") {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()
		latency := time.Since(start)

		telemetry.Info("request.complete", map[string]any{
			"request_id":    RequestIDFromContext(c),
			"method":        c.Request.Method,
			"path":          c.Request.URL.Path,
			"status":        c.Writer.Status(),
			"duration_ms":   float64(latency.Microseconds()) / 1000.0,
			"account_id":    AccountIDFromContext(c),
			"identity_kind": c.GetString(IdentityKindKey),
			"record_id":     c.GetString(RecordIDKey),
			"claim_outcome": c.GetString(ClaimOutcomeKey),
			"client_ip":     c.ClientIP(),
			"user_agent":    c.Request.UserAgent(),
		})
	}
}
