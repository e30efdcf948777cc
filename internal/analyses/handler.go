package analyses

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"vibe-backend/internal/phrases"
	"vibe-backend/internal/rank"
	"vibe-backend/internal/records"
	"vibe-backend/internal/shared/server/middleware"
	"vibe-backend/internal/shared/server/respond"
	"vibe-backend/internal/shared/telemetry"
	"vibe-backend/internal/stats"
)

// Handler wires HTTP handlers to the analyses service.
type Handler struct {
	Svc *Service
}

// NewHandler constructs a Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{Svc: svc}
}

// RegisterRoutes attaches analysis routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/analyses", h.submit)
}

type submitRequest struct {
	Fingerprint     string         `json:"fingerprint"`
	Username        string         `json:"username"`
	ClaimToken      string         `json:"claimToken"`
	Messages        []string       `json:"messages"`
	Scores          records.Scores `json:"scores"`
	Stats           submitStats    `json:"stats"`
	CountryCode     *string        `json:"countryCode"`
	Latitude        *float64       `json:"latitude"`
	Longitude       *float64       `json:"longitude"`
	PersonalityType *string        `json:"personalityType"`
}

type submitStats struct {
	TotalMessages int64            `json:"totalMessages"`
	TotalChars    int64            `json:"totalChars"`
	WorkDays      int              `json:"workDays"`
	Tallies       map[string]int64 `json:"tallies"`
	Phrases       []phrases.Delta  `json:"phrases"`
}

type averages struct {
	Dimensions rank.Dimensions `json:"dimensions"`
	Counters   stats.Counters  `json:"counters"`
}

type submitResponse struct {
	RecordID     string              `json:"recordId"`
	IdentityKind records.Kind        `json:"identityKind"`
	Strategy     string              `json:"strategy,omitempty"`
	Created      bool                `json:"created"`
	Ranks        rank.DimensionRanks `json:"ranks"`
	CounterRanks CounterRanks        `json:"counterRanks"`
	TotalUsers   int64               `json:"totalUsers"`
	Averages     averages            `json:"averages"`
	ClaimToken   string              `json:"claimToken,omitempty"`
}

func (h *Handler) submit(c *gin.Context) {
	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "invalid request body", nil)
		return
	}
	for _, p := range req.Stats.Phrases {
		if p.Region != "" {
			respond.Error(c, http.StatusBadRequest, "validation_error", "phrase region is derived from countryCode", []map[string]string{
				{"field": "stats.phrases.region", "issue": "not_allowed"},
			})
			return
		}
	}

	out, err := h.Svc.Submit(c.Request.Context(), Submission{
		AccountID:       middleware.AccountIDFromContext(c),
		AccountName:     middleware.AccountNameFromContext(c),
		Fingerprint:     req.Fingerprint,
		Username:        req.Username,
		ClaimToken:      req.ClaimToken,
		Messages:        req.Messages,
		Scores:          req.Scores,
		TotalMessages:   req.Stats.TotalMessages,
		TotalChars:      req.Stats.TotalChars,
		WorkDays:        req.Stats.WorkDays,
		Tallies:         req.Stats.Tallies,
		Phrases:         req.Stats.Phrases,
		PersonalityType: req.PersonalityType,
		CountryCode:     req.CountryCode,
		Latitude:        req.Latitude,
		Longitude:       req.Longitude,
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidSubmission):
			respond.Error(c, http.StatusBadRequest, "validation_error", err.Error(), nil)
		case errors.Is(err, ErrUnavailable):
			telemetry.Error("analysis.submit_failed", map[string]any{"error": err.Error()})
			respond.Error(c, http.StatusServiceUnavailable, "retryable", "submission could not be stored, retry", nil)
		default:
			respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to submit analysis", nil)
		}
		return
	}

	c.Set(middleware.IdentityKindKey, string(out.Record.Kind))
	c.Set(middleware.RecordIDKey, out.Record.ID)
	respond.OK(c, submitResponse{
		RecordID:     out.Record.ID,
		IdentityKind: out.Record.Kind,
		Strategy:     string(out.Strategy),
		Created:      out.Created,
		Ranks:        out.Ranks,
		CounterRanks: out.CounterRanks,
		TotalUsers:   out.Summary.TotalUsers,
		Averages:     averages{Dimensions: out.Summary.AvgDimensions, Counters: out.Summary.AvgCounters},
		ClaimToken:   out.ClaimToken,
	})
}
