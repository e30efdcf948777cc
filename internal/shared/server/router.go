package server

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"vibe-backend/internal/services/health"
	"vibe-backend/internal/shared/config"
	"vibe-backend/internal/shared/metrics"
	"vibe-backend/internal/shared/server/middleware"
	"vibe-backend/internal/shared/server/respond"
)

// Rate limit groups.
const (
	GroupSubmit  = "SUBMIT"
	GroupClaim   = "CLAIM"
	GroupRefresh = "REFRESH"
)

// RouteRegistrar attaches a feature's routes to the API group.
type RouteRegistrar interface {
	RegisterRoutes(rg *gin.RouterGroup)
}

// RouterDeps carries what NewRouter wires together.
type RouterDeps struct {
	Config   config.Config
	Verifier middleware.TokenVerifier
	Health   *health.Service
	Handlers []RouteRegistrar
}

// NewRouter constructs the Gin engine with middleware and routes registered.
func NewRouter(deps RouterDeps) *gin.Engine {
	if deps.Config.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()

	r.Use(
		middleware.RequestID(),
		middleware.Logging(),
		middleware.Recovery(),
		middleware.CORS(deps.Config.CORSAllowOrigin),
		middleware.Auth(deps.Verifier),
		middleware.RateLimit(middleware.RateLimitConfig{
			Rules:    rateLimitRules(deps.Config),
			GroupFor: rateLimitGroup,
		}),
	)

	r.GET("/health", healthHandler(deps.Health))
	r.GET("/metrics", metrics.Handler())

	api := r.Group("/api/v1")
	api.GET("/health", healthHandler(deps.Health))
	for _, h := range deps.Handlers {
		if h != nil {
			h.RegisterRoutes(api)
		}
	}
	return r
}

func healthHandler(svc *health.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		if svc == nil {
			respond.JSON(c, http.StatusOK, gin.H{"ok": true})
			return
		}
		report := svc.Status(c.Request.Context())
		status := http.StatusOK
		if !report.OK {
			status = http.StatusServiceUnavailable
		}
		respond.JSON(c, status, report)
	}
}

func rateLimitRules(cfg config.Config) map[string]middleware.RateLimitRule {
	rules := map[string]middleware.RateLimitRule{}
	if cfg.SubmitRateLimit.Rate > 0 && cfg.SubmitRateLimit.Burst > 0 {
		rules[GroupSubmit] = middleware.RateLimitRule{Rate: cfg.SubmitRateLimit.Rate, Burst: cfg.SubmitRateLimit.Burst}
	}
	if cfg.ClaimRateLimit.Rate > 0 && cfg.ClaimRateLimit.Burst > 0 {
		rules[GroupClaim] = middleware.RateLimitRule{Rate: cfg.ClaimRateLimit.Rate, Burst: cfg.ClaimRateLimit.Burst}
	}
	if cfg.RefreshRateLimit.Rate > 0 && cfg.RefreshRateLimit.Burst > 0 {
		rules[GroupRefresh] = middleware.RateLimitRule{Rate: cfg.RefreshRateLimit.Rate, Burst: cfg.RefreshRateLimit.Burst}
	}
	return rules
}

func rateLimitGroup(c *gin.Context) string {
	if c.Request.Method == http.MethodGet {
		// force_refresh rebuilds the materialized view.
		if c.FullPath() == "/api/v1/stats/global" {
			if force, _ := strconv.ParseBool(c.Query("force_refresh")); force {
				return GroupRefresh
			}
		}
		return ""
	}
	if c.Request.Method != http.MethodPost {
		return ""
	}
	switch c.FullPath() {
	case "/api/v1/analyses":
		return GroupSubmit
	case "/api/v1/claims":
		return GroupClaim
	default:
		return ""
	}
}

// Addr normalizes the listen address.
func Addr(port string) string {
	if port == "" {
		return ":8080"
	}
	if port[0] == ':' {
		return port
	}
	return ":" + port
}
