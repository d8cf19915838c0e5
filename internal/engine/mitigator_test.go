package engine

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/polyarb/polyarb/internal/domain"
)

// oneFilledExec builds an execution where leg A filled at entryPrice and
// leg B is still resting.
func oneFilledExec(t *testing.T, fake *fakeExchange, entryPrice, size float64) *domain.Execution {
	t.Helper()
	exec := placeLegs(t, fake, size, entryPrice, 0.48)
	exec.LegA.ApplyFill(size, 0)
	exec.FillStatus = domain.FillStatusOne
	return exec
}

func TestMitigateRetryFillsUnfilledLeg(t *testing.T) {
	fake := newFakeExchange()
	fake.plan(testTokenB, fillNever, 0) // original resting order, then the retry
	fake.setBook(testTokenB, 0.25, 0.30)
	exec := oneFilledExec(t, fake, 0.60, 10)

	mi := NewMitigator(fake, time.Millisecond, 20*time.Millisecond, -0.01, testLogger())
	res := mi.Mitigate(context.Background(), exec)

	if !res.Retried {
		t.Fatalf("expected retry path, notes=%q", res.Notes)
	}
	if res.PnL != 0 {
		t.Fatalf("pnl=%v want 0", res.PnL)
	}
	if !exec.LegB.Filled() {
		t.Fatalf("leg B not filled after retry, status=%v", exec.LegB.Status)
	}
	if exec.LegB.Price != 0.30 {
		t.Fatalf("leg B price=%v want retry ask 0.30", exec.LegB.Price)
	}
	if exec.ManualReview {
		t.Fatalf("retry success should not need manual review")
	}
}

func TestMitigateRetryReplacesCancelledLeg(t *testing.T) {
	fake := newFakeExchange()
	fake.plan(testTokenB, fillNever, 0)
	fake.setBook(testTokenB, 0.25, 0.30)
	exec := oneFilledExec(t, fake, 0.60, 10)
	original := exec.LegB

	mi := NewMitigator(fake, time.Millisecond, 20*time.Millisecond, -0.01, testLogger())
	res := mi.Mitigate(context.Background(), exec)

	if !res.Retried {
		t.Fatalf("expected retry path, notes=%q", res.Notes)
	}
	if original.Status != domain.OrderStatusCancelled {
		t.Fatalf("original leg status=%v want cancelled to stay terminal", original.Status)
	}
	if exec.LegB == original {
		t.Fatalf("retry must be a new order record, not a revived cancelled one")
	}
	if exec.LegB.ID == original.ID {
		t.Fatalf("retry order id %q must differ from the cancelled order's", exec.LegB.ID)
	}
	if !exec.BothLegsFilled() {
		t.Fatalf("execution should read both-filled after the retry, legB=%v", exec.LegB.Status)
	}
}

func TestMitigateRetryNotViableUnwindsAtBid(t *testing.T) {
	fake := newFakeExchange()
	fake.plan(testTokenB, fillNever)
	fake.plan(testTokenA, 0, 0) // original leg, then the exit order
	fake.setBook(testTokenB, 0.40, 0.45) // 0.60 + 0.45 >= 1.0, no retry
	fake.setBook(testTokenA, 0.55, 0.65)
	exec := oneFilledExec(t, fake, 0.60, 10)

	mi := NewMitigator(fake, time.Millisecond, 20*time.Millisecond, -0.01, testLogger())
	res := mi.Mitigate(context.Background(), exec)

	want := -(0.60 - 0.55) * 10
	if math.Abs(res.PnL-want) > 1e-9 {
		t.Fatalf("pnl=%v want %v", res.PnL, want)
	}
	if res.Retried {
		t.Fatalf("should not have retried")
	}
	if res.ExitOrder == nil || !res.ExitOrder.Filled() {
		t.Fatalf("exit order should be filled, got %+v", res.ExitOrder)
	}
	if res.ExitOrder.Side != domain.SideSell {
		t.Fatalf("exit side=%v want sell", res.ExitOrder.Side)
	}
	if exec.ManualReview {
		t.Fatalf("clean unwind should not need manual review")
	}
}

func TestMitigateRetryWindowExpiresThenUnwinds(t *testing.T) {
	fake := newFakeExchange()
	fake.plan(testTokenB, fillNever, fillNever) // original and retry both stall
	fake.plan(testTokenA, 0, 0)
	fake.setBook(testTokenB, 0.25, 0.30) // retry viable but never fills
	fake.setBook(testTokenA, 0.50, 0.65)
	exec := oneFilledExec(t, fake, 0.60, 10)

	mi := NewMitigator(fake, time.Millisecond, 10*time.Millisecond, -0.01, testLogger())
	res := mi.Mitigate(context.Background(), exec)

	if res.Retried {
		t.Fatalf("stalled retry must not count as success")
	}
	want := -(0.60 - 0.50) * 10
	if math.Abs(res.PnL-want) > 1e-9 {
		t.Fatalf("pnl=%v want %v", res.PnL, want)
	}
}

func TestMitigateBookUnavailableAssumesLoss(t *testing.T) {
	fake := newFakeExchange()
	fake.plan(testTokenB, fillNever)
	fake.bookErr[testTokenB] = errors.New("venue down")
	fake.bookErr[testTokenA] = errors.New("venue down")
	exec := oneFilledExec(t, fake, 0.60, 10)

	mi := NewMitigator(fake, time.Millisecond, 10*time.Millisecond, -0.02, testLogger())
	res := mi.Mitigate(context.Background(), exec)

	if res.PnL != -0.02 {
		t.Fatalf("pnl=%v want assumed loss -0.02", res.PnL)
	}
	if !exec.ManualReview {
		t.Fatalf("assumed-loss path must flag manual review")
	}
}

func TestMitigateNeverReturnsPositiveLossPath(t *testing.T) {
	// Whatever the book looks like, a non-retried outcome carries a
	// strictly negative pnl.
	fake := newFakeExchange()
	fake.plan(testTokenB, fillNever)
	fake.plan(testTokenA, 0, 0)
	fake.setBook(testTokenB, 0, 0.45)
	fake.setBook(testTokenA, 0.58, 0.65)
	exec := oneFilledExec(t, fake, 0.60, 5)

	mi := NewMitigator(fake, time.Millisecond, 10*time.Millisecond, -0.01, testLogger())
	res := mi.Mitigate(context.Background(), exec)

	if res.Retried {
		t.Fatalf("expected unwind path")
	}
	if res.PnL >= 0 {
		t.Fatalf("unwind pnl=%v, want negative", res.PnL)
	}
}
