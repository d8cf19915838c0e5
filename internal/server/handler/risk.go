package handler

import (
	"log/slog"
	"net/http"

	"github.com/polyarb/polyarb/internal/domain"
	"github.com/polyarb/polyarb/internal/engine"
)

// RiskReporter exposes the risk manager state the handler reads and the
// manual reset used to resume trading after an emergency stop.
type RiskReporter interface {
	Snapshot() engine.RiskState
	Reset()
}

// PositionReporter exposes tracked market exposure.
type PositionReporter interface {
	ActivePositions() map[string]domain.PositionRecord
	NakedPositions() map[string]domain.PositionRecord
}

// RiskHandler serves risk state, position exposure, and the risk reset.
type RiskHandler struct {
	risk      RiskReporter
	positions PositionReporter
	logger    *slog.Logger
}

// NewRiskHandler creates a RiskHandler.
func NewRiskHandler(risk RiskReporter, positions PositionReporter, logger *slog.Logger) *RiskHandler {
	return &RiskHandler{
		risk:      risk,
		positions: positions,
		logger:    logger,
	}
}

type riskResponse struct {
	PositionSize   float64 `json:"position_size"`
	DailyPnL       float64 `json:"daily_pnl"`
	HistoryLen     int     `json:"history_len"`
	TradingEnabled bool    `json:"trading_enabled"`
}

// GetRisk returns the current risk manager snapshot.
// GET /api/risk
func (h *RiskHandler) GetRisk(w http.ResponseWriter, r *http.Request) {
	s := h.risk.Snapshot()
	writeJSON(w, http.StatusOK, riskResponse{
		PositionSize:   s.CurrentPositionSize,
		DailyPnL:       s.DailyPnL,
		HistoryLen:     s.HistoryLen,
		TradingEnabled: s.TradingEnabled,
	})
}

// ResetRisk clears the loss history and re-enables trading after an
// emergency stop. The stop is sticky, so this is the only way to resume
// without a restart.
// POST /api/risk/reset
func (h *RiskHandler) ResetRisk(w http.ResponseWriter, r *http.Request) {
	before := h.risk.Snapshot()
	h.risk.Reset()

	h.logger.WarnContext(r.Context(), "handler: risk state reset via api",
		slog.Bool("was_enabled", before.TradingEnabled),
		slog.Float64("daily_pnl", before.DailyPnL),
	)

	writeJSON(w, http.StatusOK, map[string]any{
		"reset":       true,
		"was_enabled": before.TradingEnabled,
	})
}

type positionsResponse struct {
	Active map[string]domain.PositionRecord `json:"active"`
	Naked  map[string]domain.PositionRecord `json:"naked"`
}

// GetPositions returns tracked exposure per market, with naked (one-sided)
// exposure broken out separately.
// GET /api/positions
func (h *RiskHandler) GetPositions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, positionsResponse{
		Active: h.positions.ActivePositions(),
		Naked:  h.positions.NakedPositions(),
	})
}
