package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"vibe-backend/internal/services/health"
	"vibe-backend/internal/shared/auth"
	"vibe-backend/internal/shared/config"
)

type pingHandler struct{}

func (pingHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/analyses", func(c *gin.Context) { c.Status(http.StatusOK) })
	rg.GET("/stats/global", func(c *gin.Context) { c.Status(http.StatusOK) })
}

func newTestRouter(t *testing.T, cfg config.Config, svc *health.Service) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	verifier, err := auth.NewVerifier("test-secret")
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}
	return NewRouter(RouterDeps{Config: cfg, Verifier: verifier, Health: svc, Handlers: []RouteRegistrar{pingHandler{}}})
}

func do(r *gin.Engine, method, path string) *httptest.ResponseRecorder {
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(method, path, nil))
	return resp
}

func TestHealthReflectsDependencies(t *testing.T) {
	svc := health.NewService(0)
	svc.Register("db", func(ctx context.Context) error { return errors.New("down") })
	r := newTestRouter(t, config.Config{Env: "dev"}, svc)

	if resp := do(r, http.MethodGet, "/health"); resp.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.Code)
	}
	if resp := do(r, http.MethodGet, "/metrics"); resp.Code != http.StatusOK {
		t.Fatalf("expected metrics 200, got %d", resp.Code)
	}
}

func TestSubmitRouteIsRateLimited(t *testing.T) {
	cfg := config.Config{Env: "dev", SubmitRateLimit: config.RateLimit{Rate: 0.001, Burst: 2}}
	r := newTestRouter(t, cfg, nil)

	for i := 0; i < 2; i++ {
		if resp := do(r, http.MethodPost, "/api/v1/analyses"); resp.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, resp.Code)
		}
	}
	if resp := do(r, http.MethodPost, "/api/v1/analyses"); resp.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", resp.Code)
	}
	if resp := do(r, http.MethodGet, "/api/v1/stats/global"); resp.Code != http.StatusOK {
		t.Fatalf("reads are not limited, got %d", resp.Code)
	}
}

func TestForcedRefreshIsRateLimited(t *testing.T) {
	cfg := config.Config{Env: "dev", RefreshRateLimit: config.RateLimit{Rate: 0.001, Burst: 1}}
	r := newTestRouter(t, cfg, nil)

	if resp := do(r, http.MethodGet, "/api/v1/stats/global?force_refresh=true"); resp.Code != http.StatusOK {
		t.Fatalf("first refresh: expected 200, got %d", resp.Code)
	}
	if resp := do(r, http.MethodGet, "/api/v1/stats/global?force_refresh=true"); resp.Code != http.StatusTooManyRequests {
		t.Fatalf("second refresh: expected 429, got %d", resp.Code)
	}
	if resp := do(r, http.MethodGet, "/api/v1/stats/global"); resp.Code != http.StatusOK {
		t.Fatalf("cached reads are not limited, got %d", resp.Code)
	}
}

func TestAddr(t *testing.T) {
	cases := map[string]string{"": ":8080", "9000": ":9000", ":7000": ":7000"}
	for in, want := range cases {
		if got := Addr(in); got != want {
			t.Fatalf("Addr(%q) = %q, want %q", in, got, want)
		}
	}
}
