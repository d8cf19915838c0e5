package engine

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/polyarb/polyarb/internal/domain"
)

func deadlineIn(d time.Duration) time.Time { return time.Now().Add(d) }

func TestExecuteBothLegsFill(t *testing.T) {
	h := newTestHarness()
	h.fake.plan(testTokenA, 0)
	h.fake.plan(testTokenB, 1)

	exec := h.executor.Execute(context.Background(), testMarketID, 0.45, 0.48, 10, deadlineIn(time.Second))

	if exec.FillStatus != domain.FillStatusBoth {
		t.Fatalf("fill_status=%v want %v", exec.FillStatus, domain.FillStatusBoth)
	}
	if exec.PnL != 0 {
		t.Fatalf("pnl=%v want 0 for hedged arbitrage", exec.PnL)
	}
	if exec.CompletedAt.IsZero() {
		t.Fatalf("execution not finalized")
	}
	rec, ok := h.validator.ActivePositions()[testMarketID]
	if !ok || rec.Type != domain.ExposureHedged {
		t.Fatalf("position=%+v want hedged record", rec)
	}
}

func TestExecuteOneFilledUnwindClearsPosition(t *testing.T) {
	h := newTestHarness()
	h.fake.plan(testTokenA, 0, 0)          // leg A fills, then the exit order
	h.fake.plan(testTokenB, fillNever)     // leg B never does
	h.fake.setBook(testTokenB, 0.40, 0.60) // 0.45 + 0.60 >= 1.0, no retry
	h.fake.setBook(testTokenA, 0.40, 0.50) // unwind at bid 0.40

	exec := h.executor.Execute(context.Background(), testMarketID, 0.45, 0.48, 10, deadlineIn(20*time.Millisecond))

	if exec.FillStatus != domain.FillStatusOne {
		t.Fatalf("fill_status=%v want %v", exec.FillStatus, domain.FillStatusOne)
	}
	want := -(0.45 - 0.40) * 10
	if math.Abs(exec.PnL-want) > 1e-9 {
		t.Fatalf("pnl=%v want %v", exec.PnL, want)
	}
	// The naked record was created, flagged with the loss, then cleared by
	// the validated unwind.
	if got := len(h.validator.ActivePositions()); got != 0 {
		t.Fatalf("positions remaining=%d want 0 after unwind", got)
	}
	if !strings.Contains(exec.Notes, "cleared by unwind") {
		t.Fatalf("notes=%q missing unwind confirmation", exec.Notes)
	}
}

func TestExecuteOneFilledRetryBecomesBothFilled(t *testing.T) {
	h := newTestHarness()
	h.fake.plan(testTokenA, 0)
	h.fake.plan(testTokenB, fillNever, 0) // original stalls, retry fills
	h.fake.setBook(testTokenB, 0.25, 0.30)

	exec := h.executor.Execute(context.Background(), testMarketID, 0.45, 0.48, 10, deadlineIn(20*time.Millisecond))

	if exec.FillStatus != domain.FillStatusBoth {
		t.Fatalf("fill_status=%v want %v after successful retry", exec.FillStatus, domain.FillStatusBoth)
	}
	if exec.PnL != 0 {
		t.Fatalf("pnl=%v want 0 for effective hedge", exec.PnL)
	}
	rec := h.validator.ActivePositions()[testMarketID]
	if rec.Type != domain.ExposureHedged {
		t.Fatalf("position type=%v want hedged", rec.Type)
	}
}

func TestExecuteTimeoutCancelsBothLegs(t *testing.T) {
	h := newTestHarness()
	h.fake.plan(testTokenA, fillNever)
	h.fake.plan(testTokenB, fillNever)

	exec := h.executor.Execute(context.Background(), testMarketID, 0.45, 0.48, 10, deadlineIn(20*time.Millisecond))

	if exec.FillStatus != domain.FillStatusTimeout {
		t.Fatalf("fill_status=%v want %v", exec.FillStatus, domain.FillStatusTimeout)
	}
	if exec.PnL != 0 {
		t.Fatalf("pnl=%v want 0, nothing was filled", exec.PnL)
	}
	for _, leg := range []*domain.Order{exec.LegA, exec.LegB} {
		if !h.fake.order(leg.ID).cancelled {
			t.Fatalf("leg %s not cancelled on venue", leg.ID)
		}
		if leg.Status != domain.OrderStatusCancelled {
			t.Fatalf("leg %s status=%v want cancelled", leg.ID, leg.Status)
		}
	}
	if got := len(h.validator.ActivePositions()); got != 0 {
		t.Fatalf("timeout left %d position records", got)
	}
}

func TestExecuteMarketLookupFailure(t *testing.T) {
	h := newTestHarness()
	h.fake.marketErr = errors.New("gamma 502")

	exec := h.executor.Execute(context.Background(), testMarketID, 0.45, 0.48, 10, deadlineIn(time.Second))

	if exec.FillStatus != domain.FillStatusFailed {
		t.Fatalf("fill_status=%v want %v", exec.FillStatus, domain.FillStatusFailed)
	}
	if exec.CompletedAt.IsZero() {
		t.Fatalf("failed execution not finalized")
	}
	if h.fake.placedCount() != 0 {
		t.Fatalf("orders placed despite market lookup failure")
	}
}

func TestExecuteSecondLegPlacementFailureCancelsFirst(t *testing.T) {
	h := newTestHarness()
	h.fake.plan(testTokenA, fillNever)
	h.fake.placeErr[testTokenB] = errors.New("insufficient balance")

	exec := h.executor.Execute(context.Background(), testMarketID, 0.45, 0.48, 10, deadlineIn(time.Second))

	if exec.FillStatus != domain.FillStatusFailed {
		t.Fatalf("fill_status=%v want %v", exec.FillStatus, domain.FillStatusFailed)
	}
	if exec.LegA == nil {
		t.Fatalf("leg A should have been placed")
	}
	if !h.fake.order(exec.LegA.ID).cancelled {
		t.Fatalf("leg A not cancelled after leg B placement failed")
	}
	if got := len(h.validator.ActivePositions()); got != 0 {
		t.Fatalf("failed placement left %d position records", got)
	}
}

func TestExecuteFillStatusMatchesLegState(t *testing.T) {
	// fill_status is BothFilled exactly when both legs report filled.
	tests := []struct {
		name  string
		planA int
		planB int
	}{
		{"both fill", 0, 0},
		{"only A fills", 0, fillNever},
		{"only B fills", fillNever, 0},
		{"neither fills", fillNever, fillNever},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHarness()
			h.fake.plan(testTokenA, tt.planA)
			h.fake.plan(testTokenB, tt.planB)
			h.fake.setBook(testTokenA, 0.40, 0.50)
			h.fake.setBook(testTokenB, 0.40, 0.60)
			h.fake.plan(testTokenA, 0)
			h.fake.plan(testTokenB, 0)

			exec := h.executor.Execute(context.Background(), testMarketID, 0.45, 0.48, 10, deadlineIn(20*time.Millisecond))

			both := exec.LegA.Filled() && exec.LegB.Filled()
			if (exec.FillStatus == domain.FillStatusBoth) != both {
				t.Fatalf("fill_status=%v but legA=%v legB=%v",
					exec.FillStatus, exec.LegA.Status, exec.LegB.Status)
			}
		})
	}
}
