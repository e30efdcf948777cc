package claims

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"vibe-backend/internal/shared/server/middleware"
	"vibe-backend/internal/shared/server/respond"
)

// Handler wires HTTP handlers to the claims service.
type Handler struct {
	Svc *Service
}

// NewHandler constructs a Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{Svc: svc}
}

// RegisterRoutes attaches claim routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/claims", middleware.RequireAccount(), h.claim)
}

type claimRequest struct {
	ClaimToken             string `json:"claimToken"`
	AuthenticatedAccountID string `json:"authenticatedAccountId"`
}

type claimResponse struct {
	Status        string `json:"status"`
	State         State  `json:"state"`
	Path          Path   `json:"path,omitempty"`
	RecordID      string `json:"recordId,omitempty"`
	IdentityKind  string `json:"identityKind,omitempty"`
	TotalMessages int64  `json:"totalMessages,omitempty"`
}

func (h *Handler) claim(c *gin.Context) {
	accountID := middleware.AccountIDFromContext(c)
	var req claimRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "invalid request body", nil)
		return
	}
	if strings.TrimSpace(req.ClaimToken) == "" {
		respond.Error(c, http.StatusBadRequest, "validation_error", "claimToken is required", []map[string]string{
			{"field": "claimToken", "issue": "required"},
		})
		return
	}
	if claimed := strings.TrimSpace(req.AuthenticatedAccountID); claimed != "" && claimed != accountID {
		respond.Error(c, http.StatusForbidden, "account_mismatch", "authenticatedAccountId does not match the presented token", nil)
		return
	}

	out, err := h.Svc.Claim(c.Request.Context(), req.ClaimToken, accountID)
	c.Set(middleware.ClaimOutcomeKey, string(out.State))
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidRequest):
			respond.Error(c, http.StatusBadRequest, "validation_error", err.Error(), nil)
		default:
			respond.Error(c, http.StatusServiceUnavailable, "retryable", "claim could not be completed, retry", nil)
		}
		return
	}

	switch out.State {
	case StateMerged:
		c.Set(middleware.RecordIDKey, out.Target.ID)
		respond.OK(c, claimResponse{
			Status:        "merged",
			State:         out.State,
			Path:          out.Path,
			RecordID:      out.Target.ID,
			IdentityKind:  string(out.Target.Kind),
			TotalMessages: out.Target.TotalMessages,
		})
	case StateNothingToMigrate:
		respond.OK(c, claimResponse{Status: "nothing_to_migrate", State: out.State})
	default:
		respond.Error(c, http.StatusConflict, string(ReasonAlreadyConsumed), "claim token already used", gin.H{"state": out.State})
	}
}
