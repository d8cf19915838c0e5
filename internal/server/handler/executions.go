package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/polyarb/polyarb/internal/domain"
	"github.com/polyarb/polyarb/internal/ledger"
)

// ExecutionLedger is the slice of the trade ledger the handler reads.
type ExecutionLedger interface {
	Recent(limit int) []domain.LedgerRecord
	Summary() ledger.Metrics
}

// ExecutionHistory reads persisted executions.
type ExecutionHistory interface {
	ListRecent(ctx context.Context, limit int) ([]domain.Execution, error)
	SumPnL(ctx context.Context, since time.Time) (float64, error)
}

// ExecutionsHandler serves execution history and ledger metrics.
type ExecutionsHandler struct {
	ledger ExecutionLedger
	store  ExecutionHistory
	audit  domain.AuditStore
	logger *slog.Logger
}

// NewExecutionsHandler creates an ExecutionsHandler. store and audit may be
// nil when the process runs without Postgres; the corresponding endpoints
// then report 503.
func NewExecutionsHandler(ledger ExecutionLedger, store ExecutionHistory, audit domain.AuditStore, logger *slog.Logger) *ExecutionsHandler {
	return &ExecutionsHandler{
		ledger: ledger,
		store:  store,
		audit:  audit,
		logger: logger,
	}
}

type listExecutionsResponse struct {
	Executions []domain.Execution `json:"executions"`
}

// ListExecutions returns persisted executions, newest first.
// GET /api/executions?limit=50
func (h *ExecutionsHandler) ListExecutions(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, http.StatusServiceUnavailable, "execution store not configured")
		return
	}

	limit := parseLimit(r, 50, 500)
	execs, err := h.store.ListRecent(r.Context(), limit)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list executions failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list executions")
		return
	}
	if execs == nil {
		execs = []domain.Execution{}
	}

	writeJSON(w, http.StatusOK, listExecutionsResponse{Executions: execs})
}

type ledgerResponse struct {
	Records []domain.LedgerRecord `json:"records"`
}

// RecentLedger returns the in-memory ledger records for the current session.
// GET /api/ledger?limit=50
func (h *ExecutionsHandler) RecentLedger(w http.ResponseWriter, r *http.Request) {
	records := h.ledger.Recent(parseLimit(r, 50, 500))
	if records == nil {
		records = []domain.LedgerRecord{}
	}
	writeJSON(w, http.StatusOK, ledgerResponse{Records: records})
}

type metricsResponse struct {
	Trades     int     `json:"trades"`
	BothFilled int     `json:"both_filled"`
	OneFilled  int     `json:"one_filled"`
	Timeouts   int     `json:"timeouts"`
	Failed     int     `json:"failed"`
	WinRate    float64 `json:"win_rate"`
	TotalPnL   float64 `json:"total_pnl"`
	AvgEdge    float64 `json:"avg_edge"`
	TodayPnL   float64 `json:"today_pnl"`
}

// Metrics returns the session trade metrics. TotalPnL covers this process's
// lifetime; TodayPnL comes from the store and survives restarts.
// GET /api/metrics
func (h *ExecutionsHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	m := h.ledger.Summary()
	resp := metricsResponse{
		Trades:     m.Trades,
		BothFilled: m.BothFilled,
		OneFilled:  m.OneFilled,
		Timeouts:   m.Timeouts,
		Failed:     m.Failed,
		WinRate:    m.WinRate,
		TotalPnL:   m.TotalPnL,
		AvgEdge:    m.AvgEdge,
	}
	if h.store != nil {
		midnight := time.Now().UTC().Truncate(24 * time.Hour)
		pnl, err := h.store.SumPnL(r.Context(), midnight)
		if err != nil {
			h.logger.WarnContext(r.Context(), "handler: daily pnl query failed",
				slog.String("error", err.Error()),
			)
		} else {
			resp.TodayPnL = pnl
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

type auditResponse struct {
	Entries []domain.AuditEntry `json:"entries"`
}

// ListAudit returns audit log entries, newest first.
// GET /api/audit?limit=100&offset=0
func (h *ExecutionsHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	if h.audit == nil {
		writeError(w, http.StatusServiceUnavailable, "audit store not configured")
		return
	}

	entries, err := h.audit.List(r.Context(), parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list audit failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list audit log")
		return
	}
	if entries == nil {
		entries = []domain.AuditEntry{}
	}

	writeJSON(w, http.StatusOK, auditResponse{Entries: entries})
}
