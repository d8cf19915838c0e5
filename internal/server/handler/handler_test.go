package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/polyarb/polyarb/internal/domain"
	"github.com/polyarb/polyarb/internal/engine"
	"github.com/polyarb/polyarb/internal/ledger"
)

type fakeLedger struct {
	records []domain.LedgerRecord
	metrics ledger.Metrics
}

func (f *fakeLedger) Recent(limit int) []domain.LedgerRecord {
	if limit < len(f.records) {
		return f.records[:limit]
	}
	return f.records
}

func (f *fakeLedger) Summary() ledger.Metrics { return f.metrics }

type fakeHistory struct {
	execs     []domain.Execution
	todayPnL  float64
	gotLimit  int
	gotSince  time.Time
	returnErr error
}

func (f *fakeHistory) ListRecent(_ context.Context, limit int) ([]domain.Execution, error) {
	f.gotLimit = limit
	return f.execs, f.returnErr
}

func (f *fakeHistory) SumPnL(_ context.Context, since time.Time) (float64, error) {
	f.gotSince = since
	return f.todayPnL, f.returnErr
}

type fakeRisk struct {
	state  engine.RiskState
	resets int
}

func (f *fakeRisk) Snapshot() engine.RiskState { return f.state }
func (f *fakeRisk) Reset()                     { f.resets++ }

type fakePositions struct {
	active map[string]domain.PositionRecord
	naked  map[string]domain.PositionRecord
}

func (f *fakePositions) ActivePositions() map[string]domain.PositionRecord { return f.active }
func (f *fakePositions) NakedPositions() map[string]domain.PositionRecord  { return f.naked }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestMetrics(t *testing.T) {
	h := NewExecutionsHandler(&fakeLedger{metrics: ledger.Metrics{
		Trades:   4,
		WinRate:  0.75,
		TotalPnL: 1.2,
	}}, nil, nil, testLogger())

	rec := httptest.NewRecorder()
	h.Metrics(rec, httptest.NewRequest(http.MethodGet, "/api/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var got metricsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Trades != 4 || got.WinRate != 0.75 || got.TotalPnL != 1.2 {
		t.Fatalf("unexpected metrics: %+v", got)
	}
	if got.TodayPnL != 0 {
		t.Fatalf("today_pnl = %v, want 0 without a store", got.TodayPnL)
	}
}

func TestMetricsDailyPnLFromStore(t *testing.T) {
	store := &fakeHistory{todayPnL: 2.7}
	h := NewExecutionsHandler(&fakeLedger{}, store, nil, testLogger())

	rec := httptest.NewRecorder()
	h.Metrics(rec, httptest.NewRequest(http.MethodGet, "/api/metrics", nil))

	var got metricsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.TodayPnL != 2.7 {
		t.Fatalf("today_pnl = %v, want 2.7", got.TodayPnL)
	}
	midnight := time.Now().UTC().Truncate(24 * time.Hour)
	if !store.gotSince.Equal(midnight) {
		t.Fatalf("since = %v, want UTC midnight %v", store.gotSince, midnight)
	}
}

func TestListOpportunities(t *testing.T) {
	h := NewOpportunitiesHandler(snapshotFunc(func() []domain.Opportunity {
		return []domain.Opportunity{{MarketID: "m1", Edge: 4.2, Executable: true}}
	}))

	rec := httptest.NewRecorder()
	h.ListOpportunities(rec, httptest.NewRequest(http.MethodGet, "/api/opportunities", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var got []domain.Opportunity
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(got) != 1 || got[0].MarketID != "m1" {
		t.Fatalf("unexpected opportunities: %+v", got)
	}
}

func TestListOpportunitiesWithoutScanner(t *testing.T) {
	h := NewOpportunitiesHandler(nil)

	rec := httptest.NewRecorder()
	h.ListOpportunities(rec, httptest.NewRequest(http.MethodGet, "/api/opportunities", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

type snapshotFunc func() []domain.Opportunity

func (f snapshotFunc) Snapshot() []domain.Opportunity { return f() }

func TestListExecutionsWithoutStore(t *testing.T) {
	h := NewExecutionsHandler(&fakeLedger{}, nil, nil, testLogger())

	rec := httptest.NewRecorder()
	h.ListExecutions(rec, httptest.NewRequest(http.MethodGet, "/api/executions", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestListExecutionsLimit(t *testing.T) {
	store := &fakeHistory{execs: []domain.Execution{{ID: "e1", MarketID: "m1"}}}
	h := NewExecutionsHandler(&fakeLedger{}, store, nil, testLogger())

	rec := httptest.NewRecorder()
	h.ListExecutions(rec, httptest.NewRequest(http.MethodGet, "/api/executions?limit=9999", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if store.gotLimit != 500 {
		t.Fatalf("limit = %d, want capped at 500", store.gotLimit)
	}
	var got listExecutionsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(got.Executions) != 1 || got.Executions[0].ID != "e1" {
		t.Fatalf("unexpected executions: %+v", got.Executions)
	}
}

func TestRecentLedgerEmptyIsArray(t *testing.T) {
	h := NewExecutionsHandler(&fakeLedger{}, nil, nil, testLogger())

	rec := httptest.NewRecorder()
	h.RecentLedger(rec, httptest.NewRequest(http.MethodGet, "/api/ledger", nil))

	var got map[string]json.RawMessage
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if string(got["records"]) != "[]" {
		t.Fatalf("records = %s, want []", got["records"])
	}
}

func TestGetRisk(t *testing.T) {
	risk := &fakeRisk{state: engine.RiskState{
		CurrentPositionSize: 22.5,
		DailyPnL:            -3.1,
		HistoryLen:          7,
		TradingEnabled:      true,
	}}
	h := NewRiskHandler(risk, &fakePositions{}, testLogger())

	rec := httptest.NewRecorder()
	h.GetRisk(rec, httptest.NewRequest(http.MethodGet, "/api/risk", nil))

	var got riskResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.PositionSize != 22.5 || got.DailyPnL != -3.1 || !got.TradingEnabled {
		t.Fatalf("unexpected risk state: %+v", got)
	}
}

func TestResetRisk(t *testing.T) {
	risk := &fakeRisk{state: engine.RiskState{TradingEnabled: false}}
	h := NewRiskHandler(risk, &fakePositions{}, testLogger())

	rec := httptest.NewRecorder()
	h.ResetRisk(rec, httptest.NewRequest(http.MethodPost, "/api/risk/reset", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if risk.resets != 1 {
		t.Fatalf("resets = %d, want 1", risk.resets)
	}
	var got map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got["was_enabled"] != false {
		t.Fatalf("was_enabled = %v, want false", got["was_enabled"])
	}
}

func TestGetPositions(t *testing.T) {
	now := time.Now()
	h := NewRiskHandler(&fakeRisk{}, &fakePositions{
		active: map[string]domain.PositionRecord{
			"m1": {MarketID: "m1", Size: 10, RecordedAt: now},
		},
		naked: map[string]domain.PositionRecord{
			"m2": {MarketID: "m2", Size: 5, Loss: -0.4, RecordedAt: now},
		},
	}, testLogger())

	rec := httptest.NewRecorder()
	h.GetPositions(rec, httptest.NewRequest(http.MethodGet, "/api/positions", nil))

	var got positionsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(got.Active) != 1 || len(got.Naked) != 1 {
		t.Fatalf("unexpected positions: %+v", got)
	}
	if got.Naked["m2"].Loss != -0.4 {
		t.Fatalf("naked loss = %v, want -0.4", got.Naked["m2"].Loss)
	}
}
