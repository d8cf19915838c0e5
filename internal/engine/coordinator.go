package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/polyarb/polyarb/internal/domain"
)

// Ledger receives finalized executions for recording and publication.
type Ledger interface {
	Record(ctx context.Context, exec *domain.Execution, opp domain.Opportunity)
}

// Alerter delivers out-of-band operator notifications.
type Alerter interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Coordinator admits opportunities into execution. Admission is gated, in
// order, by the risk manager's trading switch, a concurrency cap, and a
// positive adaptive size. Admitted executions run on the caller's
// goroutine; rejected ones return a finalized Failed execution together
// with a sentinel error naming the gate.
type Coordinator struct {
	risk      *RiskManager
	executor  *DualLegExecutor
	validator *PositionValidator
	ledger    Ledger
	alerter   Alerter
	sem       *semaphore.Weighted
	timeout   time.Duration
	inflight  atomic.Int64
	logger    *slog.Logger
}

// NewCoordinator creates a Coordinator admitting at most maxConcurrent
// simultaneous executions, each bounded by timeout. Ledger and alerter may
// be nil.
func NewCoordinator(risk *RiskManager, executor *DualLegExecutor, validator *PositionValidator, ledger Ledger, alerter Alerter, maxConcurrent int64, timeout time.Duration, logger *slog.Logger) *Coordinator {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Coordinator{
		risk:      risk,
		executor:  executor,
		validator: validator,
		ledger:    ledger,
		alerter:   alerter,
		sem:       semaphore.NewWeighted(maxConcurrent),
		timeout:   timeout,
		logger:    logger.With(slog.String("component", "coordinator")),
	}
}

// Submit attempts to execute one opportunity. sizeOverride > 0 bypasses
// adaptive sizing for manually triggered executions. Every admitted
// execution is recorded in the risk manager and ledger before it returns.
func (c *Coordinator) Submit(ctx context.Context, opp domain.Opportunity, sizeOverride float64) (*domain.Execution, error) {
	if !c.risk.TradingEnabled() {
		return c.reject(ctx, opp, domain.ErrTradingDisabled)
	}
	if !c.sem.TryAcquire(1) {
		return c.reject(ctx, opp, domain.ErrConcurrencyLimit)
	}
	defer c.sem.Release(1)

	size := sizeOverride
	if size <= 0 {
		size = c.risk.AdaptiveSize()
	}
	if size <= 0 {
		return c.reject(ctx, opp, domain.ErrZeroSize)
	}

	c.inflight.Add(1)
	defer c.inflight.Add(-1)

	c.logger.InfoContext(ctx, "opportunity admitted",
		slog.String("market_id", opp.MarketID),
		slog.Float64("edge_pct", opp.Edge),
		slog.Float64("size", size))

	deadline := time.Now().Add(c.timeout)
	exec := c.executor.Execute(ctx, opp.MarketID, opp.PriceA, opp.PriceB, size, deadline)

	wasEnabled := c.risk.TradingEnabled()
	c.risk.Record(exec)
	if c.ledger != nil {
		c.ledger.Record(ctx, exec, opp)
	}
	c.notifyOutcome(ctx, exec, wasEnabled)

	return exec, nil
}

// InFlight returns the number of executions currently running.
func (c *Coordinator) InFlight() int64 {
	return c.inflight.Load()
}

// reject returns a finalized Failed execution for an opportunity that never
// started, with the gate's sentinel error for the caller to inspect.
func (c *Coordinator) reject(ctx context.Context, opp domain.Opportunity, gate error) (*domain.Execution, error) {
	now := time.Now().UTC()
	exec := &domain.Execution{
		ID:          uuid.New().String(),
		MarketID:    opp.MarketID,
		PriceA:      opp.PriceA,
		PriceB:      opp.PriceB,
		StartedAt:   now,
		CompletedAt: now,
		FillStatus:  domain.FillStatusFailed,
		Notes:       fmt.Sprintf("rejected before execution: %v", gate),
	}
	c.logger.InfoContext(ctx, "opportunity rejected",
		slog.String("market_id", opp.MarketID),
		slog.String("reason", gate.Error()))
	return exec, gate
}

// notifyOutcome raises operator alerts for naked exposure and for the
// emergency stop tripping on this execution's recorded loss.
func (c *Coordinator) notifyOutcome(ctx context.Context, exec *domain.Execution, wasEnabled bool) {
	if c.alerter == nil {
		return
	}
	if naked := c.validator.NakedPositions(); len(naked) > 0 {
		if rec, ok := naked[exec.MarketID]; ok {
			msg := fmt.Sprintf("market %s: %s size %.2f loss %.4f", rec.MarketID, rec.Type, rec.Size, rec.Loss)
			if err := c.alerter.Notify(ctx, "naked_exposure", "Naked exposure recorded", msg); err != nil {
				c.logger.WarnContext(ctx, "alert delivery failed", slog.String("error", err.Error()))
			}
		}
	}
	if wasEnabled && !c.risk.TradingEnabled() {
		msg := fmt.Sprintf("daily pnl %.4f breached emergency threshold, trading disabled", c.risk.DailyPnL())
		if err := c.alerter.Notify(ctx, "emergency_stop", "Emergency stop engaged", msg); err != nil {
			c.logger.WarnContext(ctx, "alert delivery failed", slog.String("error", err.Error()))
		}
	}
}
