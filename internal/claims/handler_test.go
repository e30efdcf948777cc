package claims

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"vibe-backend/internal/records"
	"vibe-backend/internal/shared/auth"
	"vibe-backend/internal/shared/server/middleware"
)

func setupClaimRouter(t *testing.T, repo records.Repo) (*gin.Engine, *auth.Verifier) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	verifier, err := auth.NewVerifier("test-secret")
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}
	router := gin.New()
	router.Use(middleware.RequestID(), middleware.Auth(verifier))
	NewHandler(newTestService(repo)).RegisterRoutes(router.Group("/api/v1"))
	return router, verifier
}

func postClaim(t *testing.T, router *gin.Engine, bearer string, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/claims", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	return resp
}

func TestClaimEndpointLifecycle(t *testing.T) {
	repo := records.NewMemoryRepo()
	seed(t, repo, records.Record{ID: "anon-1", Fingerprint: "fp-1", ClaimToken: strPtr("tok-1"), TotalMessages: 40})
	router, verifier := setupClaimRouter(t, repo)
	token, err := verifier.Sign("github:42", "", time.Hour)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	resp := postClaim(t, router, token, map[string]string{"claimToken": "tok-1", "authenticatedAccountId": "github:42"})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	var body claimResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "merged" || body.RecordID != "github:42" || body.TotalMessages != 40 {
		t.Fatalf("unexpected body %+v", body)
	}

	resp = postClaim(t, router, token, map[string]string{"claimToken": "tok-1"})
	if resp.Code != http.StatusConflict {
		t.Fatalf("expected 409 on replay, got %d", resp.Code)
	}
}

func TestClaimEndpointRequiresAuthentication(t *testing.T) {
	router, _ := setupClaimRouter(t, records.NewMemoryRepo())
	resp := postClaim(t, router, "", map[string]string{"claimToken": "tok-1"})
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.Code)
	}
}

func TestClaimEndpointRejectsAccountMismatch(t *testing.T) {
	router, verifier := setupClaimRouter(t, records.NewMemoryRepo())
	token, _ := verifier.Sign("github:42", "", time.Hour)
	resp := postClaim(t, router, token, map[string]string{"claimToken": "tok-1", "authenticatedAccountId": "github:99"})
	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.Code)
	}
}

func TestClaimEndpointNothingToMigrate(t *testing.T) {
	repo := records.NewMemoryRepo()
	seed(t, repo, records.Record{ID: "anon-1", Fingerprint: "fp-1", ClaimToken: strPtr("tok-1")})
	router, verifier := setupClaimRouter(t, repo)
	token, _ := verifier.Sign("github:42", "", time.Hour)

	resp := postClaim(t, router, token, map[string]string{"claimToken": "tok-1"})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var body claimResponse
	_ = json.Unmarshal(resp.Body.Bytes(), &body)
	if body.Status != "nothing_to_migrate" {
		t.Fatalf("unexpected status %q", body.Status)
	}
}

type downRepo struct {
	*records.MemoryRepo
}

func (downRepo) GetByClaimToken(ctx context.Context, token string) (records.Record, error) {
	return records.Record{}, errors.New("store unavailable")
}

func TestClaimEndpointRetryableOnStoreFailure(t *testing.T) {
	router, verifier := setupClaimRouter(t, downRepo{MemoryRepo: records.NewMemoryRepo()})
	token, _ := verifier.Sign("github:42", "", time.Hour)

	resp := postClaim(t, router, token, map[string]string{"claimToken": "tok-1"})
	if resp.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.Code)
	}
}
