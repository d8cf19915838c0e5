// Package engine implements the arbitrage execution and risk engine: the
// dual-leg executor, fill monitoring, partial-fill mitigation, position
// validation, adaptive risk sizing, and the execution coordinator that ties
// them together.
package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/polyarb/polyarb/internal/domain"
	"github.com/polyarb/polyarb/internal/exchange"
)

// defaultPollInterval is the cadence at which leg fill status is polled.
const defaultPollInterval = 500 * time.Millisecond

// FillMonitor polls both legs of one execution until both fill or the
// deadline passes. It blocks only the goroutine of the execution it serves.
type FillMonitor struct {
	client   exchange.Client
	interval time.Duration
	logger   *slog.Logger
}

// NewFillMonitor creates a FillMonitor polling at the given interval.
// A non-positive interval falls back to the 500ms default.
func NewFillMonitor(client exchange.Client, interval time.Duration, logger *slog.Logger) *FillMonitor {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	return &FillMonitor{
		client:   client,
		interval: interval,
		logger:   logger.With(slog.String("component", "fill_monitor")),
	}
}

// Monitor polls each leg's live status until the deadline. It returns
// FillStatusBoth the instant both legs report filled, without waiting out
// the rest of the deadline. At the deadline it returns FillStatusOne when
// exactly one leg is filled and FillStatusTimeout when neither is. The
// deadline is mandatory; Monitor never blocks unboundedly.
func (m *FillMonitor) Monitor(ctx context.Context, exec *domain.Execution, deadline time.Time) domain.FillStatus {
	ctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		m.pollLeg(ctx, exec, exec.LegA)
		m.pollLeg(ctx, exec, exec.LegB)

		if exec.BothLegsFilled() {
			return domain.FillStatusBoth
		}

		select {
		case <-ctx.Done():
			return m.classifyAtDeadline(exec)
		case <-ticker.C:
		}
	}
}

// pollLeg refreshes one leg's fill state. A failed status query is logged
// and treated as no new information this tick.
func (m *FillMonitor) pollLeg(ctx context.Context, exec *domain.Execution, leg *domain.Order) {
	if leg == nil || leg.Status.Terminal() {
		return
	}

	state, err := m.client.GetOrderStatus(ctx, leg.ID)
	if err != nil {
		m.logger.DebugContext(ctx, "leg status poll failed, retrying next tick",
			slog.String("execution_id", exec.ID),
			slog.String("order_id", leg.ID),
			slog.String("error", err.Error()),
		)
		return
	}

	leg.ApplyFill(state.FilledSize, state.RemainingSize)
}

// classifyAtDeadline maps the legs' final monitored state to the execution
// outcome once the deadline has passed.
func (m *FillMonitor) classifyAtDeadline(exec *domain.Execution) domain.FillStatus {
	aFilled := exec.LegA.Filled()
	bFilled := exec.LegB.Filled()
	switch {
	case aFilled && bFilled:
		return domain.FillStatusBoth
	case aFilled || bFilled:
		return domain.FillStatusOne
	default:
		return domain.FillStatusTimeout
	}
}
