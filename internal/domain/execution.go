package domain

import "time"

// FillStatus is the outcome of monitoring both legs of an execution.
type FillStatus string

const (
	// FillStatusNone is the initial state before monitoring resolves, and
	// the final state of executions that never reached the exchange.
	FillStatusNone FillStatus = "none_filled"

	FillStatusBoth    FillStatus = "both_filled"
	FillStatusOne     FillStatus = "one_filled"
	FillStatusTimeout FillStatus = "timeout"

	// FillStatusFailed marks executions that were aborted before or during
	// placement (market lookup failure, placement rejection, risk gate).
	FillStatusFailed FillStatus = "failed"
)

// Execution records one dual-leg arbitrage attempt. It is created by the
// executor, owned exclusively by the goroutine running it, finalized exactly
// once, and then treated as immutable by the risk manager and the ledger.
type Execution struct {
	ID       string
	MarketID string

	// LegA buys the first outcome token, LegB the complementary one. Either
	// may be nil when placement never happened.
	LegA *Order
	LegB *Order

	// PriceA/PriceB/Size are the requested entry prices and per-leg size.
	PriceA float64
	PriceB float64
	Size   float64

	StartedAt   time.Time
	CompletedAt time.Time

	FillStatus FillStatus
	PnL        float64
	Notes      string

	// ManualReview is set when mitigation could not cleanly resolve the
	// position (book data unavailable, unwind rejected) and an operator
	// needs to follow up.
	ManualReview bool
}

// BothLegsFilled reports whether both legs reached Filled status.
func (e *Execution) BothLegsFilled() bool {
	return e.LegA.Filled() && e.LegB.Filled()
}

// FilledLeg returns the filled leg and the unfilled leg when exactly one leg
// is filled, or (nil, nil) otherwise.
func (e *Execution) FilledLeg() (filled, unfilled *Order) {
	aFilled := e.LegA.Filled()
	bFilled := e.LegB.Filled()
	switch {
	case aFilled && !bFilled:
		return e.LegA, e.LegB
	case bFilled && !aFilled:
		return e.LegB, e.LegA
	default:
		return nil, nil
	}
}

// ReplaceLeg swaps the given leg for a replacement order, keeping its slot.
// Used by mitigation, where a retry is a new order rather than a revival of
// the cancelled one.
func (e *Execution) ReplaceLeg(old, repl *Order) {
	switch old {
	case e.LegA:
		e.LegA = repl
	case e.LegB:
		e.LegB = repl
	}
}

// ExpectedEdge is the percentage profit implied by the requested leg prices.
func (e *Execution) ExpectedEdge() float64 {
	return (1.0 - (e.PriceA + e.PriceB)) * 100
}

// LedgerRecord is the observability record emitted once per completed
// execution.
type LedgerRecord struct {
	ID           string
	MarketID     string
	MarketName   string
	PriceA       float64
	PriceB       float64
	ExpectedEdge float64
	RealizedEdge float64
	Status       FillStatus
	PnL          float64
	Notes        string
	Timestamp    time.Time
}
