package engine

import (
	"fmt"
	"math"
	"testing"

	"github.com/polyarb/polyarb/internal/domain"
)

func testRiskConfig() RiskConfig {
	return RiskConfig{
		InitialPositionSize: 10,
		MaxScalingSize:      100,
		ScalingFactor:       1.5,
		ScalingWindow:       10,
		MinSuccessRate:      0.8,
		EmergencyStopLoss:   -50,
	}
}

func recordOutcome(r *RiskManager, status domain.FillStatus, pnl float64) {
	r.Record(&domain.Execution{
		ID:         fmt.Sprintf("exec-%p-%f", r, pnl),
		FillStatus: status,
		PnL:        pnl,
		Size:       10,
	})
}

func TestAdaptiveSizeWarmup(t *testing.T) {
	r := NewRiskManager(testRiskConfig(), testLogger())
	for i := 0; i < 9; i++ {
		recordOutcome(r, domain.FillStatusBoth, 0.1)
		if got := r.AdaptiveSize(); got != 10 {
			t.Fatalf("size during warmup=%v want 10", got)
		}
	}
}

func TestAdaptiveSizeScalesUpOnCleanWindow(t *testing.T) {
	r := NewRiskManager(testRiskConfig(), testLogger())
	for i := 0; i < 10; i++ {
		recordOutcome(r, domain.FillStatusBoth, 0.1)
	}
	if got := r.AdaptiveSize(); got != 15 {
		t.Fatalf("size=%v want 15 after clean window", got)
	}
}

func TestAdaptiveSizeIdempotentWithoutNewOutcome(t *testing.T) {
	r := NewRiskManager(testRiskConfig(), testLogger())
	for i := 0; i < 10; i++ {
		recordOutcome(r, domain.FillStatusBoth, 0.1)
	}
	first := r.AdaptiveSize()
	second := r.AdaptiveSize()
	if first != second {
		t.Fatalf("size changed without a new outcome: %v -> %v", first, second)
	}
}

func TestAdaptiveSizeScalesDownOnDegradedWindow(t *testing.T) {
	r := NewRiskManager(testRiskConfig(), testLogger())
	// Climb one step first so there is room to come back down.
	for i := 0; i < 10; i++ {
		recordOutcome(r, domain.FillStatusBoth, 0.1)
	}
	if got := r.AdaptiveSize(); got != 15 {
		t.Fatalf("setup: size=%v want 15", got)
	}
	for i := 0; i < 5; i++ {
		recordOutcome(r, domain.FillStatusOne, -0.1)
	}
	if got := r.AdaptiveSize(); got != 10 {
		t.Fatalf("size=%v want 10 after degraded window", got)
	}
}

func TestAdaptiveSizeNeverBelowInitialOrAboveMax(t *testing.T) {
	cfg := testRiskConfig()
	cfg.ScalingWindow = 2
	r := NewRiskManager(cfg, testLogger())

	for i := 0; i < 20; i++ {
		recordOutcome(r, domain.FillStatusOne, -0.1)
		if got := r.AdaptiveSize(); got < cfg.InitialPositionSize {
			t.Fatalf("size=%v dropped below initial %v", got, cfg.InitialPositionSize)
		}
	}
	for i := 0; i < 40; i++ {
		recordOutcome(r, domain.FillStatusBoth, 0.1)
		if got := r.AdaptiveSize(); got > cfg.MaxScalingSize {
			t.Fatalf("size=%v exceeded max %v", got, cfg.MaxScalingSize)
		}
	}
	if got := r.AdaptiveSize(); got != cfg.MaxScalingSize {
		t.Fatalf("size=%v want saturated max %v", got, cfg.MaxScalingSize)
	}
}

func TestEmergencyStopIsSticky(t *testing.T) {
	r := NewRiskManager(testRiskConfig(), testLogger())
	recordOutcome(r, domain.FillStatusOne, -60)

	if r.TradingEnabled() {
		t.Fatalf("trading should be disabled after breaching -50")
	}
	if got := r.AdaptiveSize(); got != 0 {
		t.Fatalf("size=%v want 0 while stopped", got)
	}

	// Winning trades do not lift the stop.
	recordOutcome(r, domain.FillStatusBoth, 100)
	if r.TradingEnabled() {
		t.Fatalf("stop must stay engaged until explicit reset")
	}
	if got := r.AdaptiveSize(); got != 0 {
		t.Fatalf("size=%v want 0, stop is sticky", got)
	}

	r.Reset()
	if !r.TradingEnabled() {
		t.Fatalf("reset should re-enable trading")
	}
	if got := r.AdaptiveSize(); got != 10 {
		t.Fatalf("size=%v want initial 10 after reset", got)
	}
}

func TestRecordCapsHistory(t *testing.T) {
	r := NewRiskManager(testRiskConfig(), testLogger())
	for i := 0; i < 50; i++ {
		recordOutcome(r, domain.FillStatusBoth, 0.1)
	}
	if got := r.Snapshot().HistoryLen; got != 20 {
		t.Fatalf("history=%d want cap 20", got)
	}
}

func TestDailyPnLAccumulates(t *testing.T) {
	r := NewRiskManager(testRiskConfig(), testLogger())
	recordOutcome(r, domain.FillStatusBoth, 1.5)
	recordOutcome(r, domain.FillStatusOne, -0.5)
	if got := r.DailyPnL(); math.Abs(got-1.0) > 1e-9 {
		t.Fatalf("daily pnl=%v want 1.0", got)
	}
}
