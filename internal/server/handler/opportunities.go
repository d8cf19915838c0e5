package handler

import (
	"net/http"

	"github.com/polyarb/polyarb/internal/domain"
)

// OpportunitySource exposes the scanner's latest sweep.
type OpportunitySource interface {
	Snapshot() []domain.Opportunity
}

// OpportunitiesHandler serves the most recent scan results.
type OpportunitiesHandler struct {
	source OpportunitySource
}

// NewOpportunitiesHandler creates an OpportunitiesHandler. source may be nil
// when the process runs without a scanner; the endpoint then reports 503.
func NewOpportunitiesHandler(source OpportunitySource) *OpportunitiesHandler {
	return &OpportunitiesHandler{source: source}
}

// ListOpportunities handles GET /api/opportunities.
func (h *OpportunitiesHandler) ListOpportunities(w http.ResponseWriter, r *http.Request) {
	if h.source == nil {
		writeError(w, http.StatusServiceUnavailable, "scanner not running")
		return
	}
	opps := h.source.Snapshot()
	if opps == nil {
		opps = []domain.Opportunity{}
	}
	writeJSON(w, http.StatusOK, opps)
}
