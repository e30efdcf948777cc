package phrases

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"vibe-backend/internal/shared/server/respond"
)

const defaultLimit = 10

// Handler serves regional top phrases.
type Handler struct {
	Snapshots *Snapshots
}

// NewHandler constructs a Handler.
func NewHandler(s *Snapshots) *Handler {
	return &Handler{Snapshots: s}
}

// RegisterRoutes attaches phrase routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/phrases/top", h.top)
}

func (h *Handler) top(c *gin.Context) {
	limit := defaultLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respond.Error(c, http.StatusBadRequest, "validation_error", "limit must be a positive integer", map[string]any{"limit": raw})
			return
		}
		limit = n
	}
	if limit > h.Snapshots.TopN {
		limit = h.Snapshots.TopN
	}

	snap, err := h.Snapshots.Read(c.Request.Context(), c.Query("region"), limit)
	if err != nil {
		respond.Error(c, http.StatusServiceUnavailable, "phrases_unavailable", "top phrases are temporarily unavailable", nil)
		return
	}
	respond.OK(c, snap)
}
