package stats

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"vibe-backend/internal/shared/server/respond"
)

// Handler wires HTTP handlers to the aggregator and the dashboard.
type Handler struct {
	Agg        *Aggregator
	Dashboards *Dashboards
}

// NewHandler constructs a Handler. A nil dashboards leaves the dashboard
// route unregistered.
func NewHandler(agg *Aggregator, dashboards *Dashboards) *Handler {
	return &Handler{Agg: agg, Dashboards: dashboards}
}

// RegisterRoutes attaches stats routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/stats/global", h.global)
	if h.Dashboards != nil {
		rg.GET("/stats/dashboard", h.dashboard)
	}
}

func (h *Handler) dashboard(c *gin.Context) {
	dash, err := h.Dashboards.Read(c.Request.Context())
	if err != nil {
		respond.Error(c, http.StatusServiceUnavailable, "stats_unavailable", "dashboard is temporarily unavailable", nil)
		return
	}
	respond.OK(c, dash)
}

func (h *Handler) global(c *gin.Context) {
	force, _ := strconv.ParseBool(c.Query("force_refresh"))
	var (
		summary Summary
		err     error
	)
	if force {
		summary, err = h.Agg.Recompute(c.Request.Context())
	} else {
		summary, err = h.Agg.Read(c.Request.Context())
	}
	if err != nil {
		respond.Error(c, http.StatusServiceUnavailable, "stats_unavailable", "global statistics are temporarily unavailable", nil)
		return
	}
	respond.OK(c, summary)
}
