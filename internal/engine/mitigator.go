package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/polyarb/polyarb/internal/domain"
	"github.com/polyarb/polyarb/internal/exchange"
)

const (
	defaultRetryWindow = 10 * time.Second
	defaultAssumedLoss = -0.01
)

// MitigationResult is the outcome of resolving a one-sided fill. Exactly
// one of two shapes comes back: an effective hedge (Retried true, PnL zero)
// or a resolved naked position with a strictly negative PnL. When ExitOrder
// is non-nil and filled, the position was unwound on-book.
type MitigationResult struct {
	PnL       float64
	Notes     string
	Retried   bool
	ExitOrder *domain.Order
}

// Mitigator resolves executions where exactly one leg filled. It first
// retries the unfilled leg at the current ask when the pair still sums
// under 1.0, and otherwise unwinds the filled leg at the best bid. Every
// path produces a bounded, recorded outcome.
type Mitigator struct {
	client       exchange.Client
	pollInterval time.Duration
	retryWindow  time.Duration
	assumedLoss  float64
	logger       *slog.Logger
}

// NewMitigator creates a Mitigator. Non-positive pollInterval or
// retryWindow fall back to 500ms and 10s; a non-negative assumedLoss falls
// back to -0.01.
func NewMitigator(client exchange.Client, pollInterval, retryWindow time.Duration, assumedLoss float64, logger *slog.Logger) *Mitigator {
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	if retryWindow <= 0 {
		retryWindow = defaultRetryWindow
	}
	if assumedLoss >= 0 {
		assumedLoss = defaultAssumedLoss
	}
	return &Mitigator{
		client:       client,
		pollInterval: pollInterval,
		retryWindow:  retryWindow,
		assumedLoss:  assumedLoss,
		logger:       logger.With(slog.String("component", "mitigator")),
	}
}

// Mitigate resolves a one-filled execution. It never returns leaving the
// caller with an unquantified position: either both legs end up filled, or
// the result carries a negative PnL for the validator to flag.
func (mi *Mitigator) Mitigate(ctx context.Context, exec *domain.Execution) MitigationResult {
	filled, unfilled := exec.FilledLeg()
	if filled == nil || unfilled == nil {
		exec.ManualReview = true
		mi.logger.ErrorContext(ctx, "mitigation invoked without a one-sided fill",
			slog.String("execution_id", exec.ID))
		return MitigationResult{
			PnL:   mi.assumedLoss,
			Notes: "mitigation failed: inconsistent leg state, manual review required",
		}
	}

	log := mi.logger.With(
		slog.String("execution_id", exec.ID),
		slog.String("market_id", exec.MarketID),
		slog.String("filled_token", filled.TokenID),
		slog.String("unfilled_token", unfilled.TokenID),
	)

	// The original unfilled order must not fill behind our back while we
	// decide between retry and unwind.
	if !unfilled.Status.Terminal() {
		if err := mi.client.CancelOrder(ctx, unfilled.ID); err != nil {
			log.WarnContext(ctx, "cancel of stale unfilled leg failed",
				slog.String("order_id", unfilled.ID),
				slog.String("error", err.Error()))
		}
		unfilled.Status = domain.OrderStatusCancelled
	}

	if res, ok := mi.retryUnfilledLeg(ctx, log, exec, filled, unfilled); ok {
		return res
	}
	return mi.unwindFilledLeg(ctx, log, exec, filled)
}

// retryUnfilledLeg re-places the missing leg at the current ask when the
// combined cost still locks in a profit. Returns ok=true only when the
// retry order filled inside the retry window.
func (mi *Mitigator) retryUnfilledLeg(ctx context.Context, log *slog.Logger, exec *domain.Execution, filled, unfilled *domain.Order) (MitigationResult, bool) {
	book, err := mi.client.GetOrderBook(ctx, unfilled.TokenID)
	if err != nil {
		log.WarnContext(ctx, "orderbook fetch failed, skipping retry",
			slog.String("error", err.Error()))
		return MitigationResult{}, false
	}

	ask := book.BestAsk()
	if ask <= 0 || filled.Price+ask >= 1.0 {
		log.InfoContext(ctx, "retry not viable at current ask",
			slog.Float64("filled_price", filled.Price),
			slog.Float64("ask", ask))
		return MitigationResult{}, false
	}

	orderID, err := mi.client.PlaceOrder(ctx, unfilled.TokenID, domain.SideBuy, filled.FilledSize, ask)
	if err != nil {
		log.WarnContext(ctx, "retry order placement failed",
			slog.String("error", err.Error()))
		return MitigationResult{}, false
	}

	log.InfoContext(ctx, "retry order placed for unfilled leg",
		slog.String("order_id", orderID),
		slog.Float64("price", ask))

	// The cancelled original stays terminal; the retry is a new order that
	// takes over the leg slot only once it fills.
	retry := &domain.Order{
		ID:            orderID,
		TokenID:       unfilled.TokenID,
		Side:          domain.SideBuy,
		Size:          filled.FilledSize,
		Price:         ask,
		CreatedAt:     time.Now().UTC(),
		Status:        domain.OrderStatusPending,
		RemainingSize: filled.FilledSize,
	}
	if retry.ID == "" {
		retry.ID = uuid.New().String()
	}

	if mi.waitForFill(ctx, orderID, mi.retryWindow) {
		retry.ApplyFill(filled.FilledSize, 0)
		exec.ReplaceLeg(unfilled, retry)
		log.InfoContext(ctx, "retry order filled, position hedged")
		return MitigationResult{
			PnL:     0,
			Notes:   fmt.Sprintf("unfilled leg re-placed at %.4f and filled, effective hedge", ask),
			Retried: true,
		}, true
	}

	if err := mi.client.CancelOrder(ctx, orderID); err != nil {
		log.WarnContext(ctx, "retry order cancel failed",
			slog.String("order_id", orderID),
			slog.String("error", err.Error()))
	}
	log.InfoContext(ctx, "retry window expired without fill, proceeding to unwind")
	return MitigationResult{}, false
}

// unwindFilledLeg sells the filled leg at the best bid and books the
// realized loss. When book data or placement is unavailable it falls back
// to the assumed-loss constant and flags manual review.
func (mi *Mitigator) unwindFilledLeg(ctx context.Context, log *slog.Logger, exec *domain.Execution, filled *domain.Order) MitigationResult {
	fallback := func(reason string) MitigationResult {
		exec.ManualReview = true
		log.ErrorContext(ctx, "unwind unavailable, assuming loss",
			slog.String("reason", reason),
			slog.Float64("assumed_loss", mi.assumedLoss))
		return MitigationResult{
			PnL:   mi.assumedLoss,
			Notes: fmt.Sprintf("unwind unavailable (%s): assumed loss %.4f recorded, manual review required", reason, mi.assumedLoss),
		}
	}

	book, err := mi.client.GetOrderBook(ctx, filled.TokenID)
	if err != nil {
		return fallback("orderbook fetch failed")
	}
	bid := book.BestBid()
	if bid <= 0 {
		return fallback("no bids on book")
	}

	size := filled.FilledSize
	exitID, err := mi.client.PlaceOrder(ctx, filled.TokenID, domain.SideSell, size, bid)
	if err != nil {
		return fallback("exit order placement failed")
	}

	pnl := -(filled.Price - bid) * size
	exit := &domain.Order{
		ID:            exitID,
		TokenID:       filled.TokenID,
		Side:          domain.SideSell,
		Size:          size,
		Price:         bid,
		CreatedAt:     time.Now().UTC(),
		Status:        domain.OrderStatusPending,
		RemainingSize: size,
	}
	if exit.ID == "" {
		exit.ID = uuid.New().String()
	}

	if mi.waitForFill(ctx, exitID, mi.retryWindow) {
		exit.ApplyFill(size, 0)
		log.InfoContext(ctx, "filled leg unwound",
			slog.Float64("entry", filled.Price),
			slog.Float64("exit", bid),
			slog.Float64("pnl", pnl))
		return MitigationResult{
			PnL:       pnl,
			Notes:     fmt.Sprintf("filled leg unwound at %.4f (entry %.4f), realized pnl %.4f", bid, filled.Price, pnl),
			ExitOrder: exit,
		}
	}

	exec.ManualReview = true
	log.WarnContext(ctx, "exit order not filled within window, leaving it resting",
		slog.String("order_id", exitID))
	return MitigationResult{
		PnL:       pnl,
		Notes:     fmt.Sprintf("exit order at %.4f resting unfilled, estimated pnl %.4f, manual review required", bid, pnl),
		ExitOrder: exit,
	}
}

// waitForFill polls one order until it reports fully filled or the window
// elapses.
func (mi *Mitigator) waitForFill(ctx context.Context, orderID string, window time.Duration) bool {
	ctx, cancel := context.WithTimeout(ctx, window)
	defer cancel()

	ticker := time.NewTicker(mi.pollInterval)
	defer ticker.Stop()

	for {
		state, err := mi.client.GetOrderStatus(ctx, orderID)
		if err == nil && state.FilledSize > 0 && state.RemainingSize == 0 {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}
