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

// DualLegExecutor places both legs of an arbitrage pair, monitors their
// fills, and drives mitigation when only one side fills. Execute always
// returns a finalized execution and always classifies the resulting
// position through the validator before returning.
type DualLegExecutor struct {
	client    exchange.Client
	monitor   *FillMonitor
	mitigator *Mitigator
	validator *PositionValidator
	logger    *slog.Logger
}

// NewDualLegExecutor wires the executor with its collaborators.
func NewDualLegExecutor(client exchange.Client, monitor *FillMonitor, mitigator *Mitigator, validator *PositionValidator, logger *slog.Logger) *DualLegExecutor {
	return &DualLegExecutor{
		client:    client,
		monitor:   monitor,
		mitigator: mitigator,
		validator: validator,
		logger:    logger.With(slog.String("component", "executor")),
	}
}

// Execute runs one dual-leg arbitrage attempt: resolve the market's token
// pair, place a buy on each outcome, monitor until both fill or the
// deadline passes, and mitigate a one-sided fill. The returned execution is
// always finalized with a CompletedAt timestamp, a terminal FillStatus, and
// a PnL, whatever path was taken.
func (e *DualLegExecutor) Execute(ctx context.Context, marketID string, priceA, priceB, size float64, deadline time.Time) *domain.Execution {
	exec := &domain.Execution{
		ID:         uuid.New().String(),
		MarketID:   marketID,
		PriceA:     priceA,
		PriceB:     priceB,
		Size:       size,
		StartedAt:  time.Now().UTC(),
		FillStatus: domain.FillStatusNone,
	}

	log := e.logger.With(
		slog.String("execution_id", exec.ID),
		slog.String("market_id", marketID),
	)
	log.InfoContext(ctx, "execution started",
		slog.Float64("price_a", priceA),
		slog.Float64("price_b", priceB),
		slog.Float64("size", size),
		slog.Float64("edge_pct", exec.ExpectedEdge()))

	market, err := e.client.GetMarket(ctx, marketID)
	if err != nil {
		return e.fail(ctx, exec, fmt.Errorf("%w: %v", domain.ErrMarketLookup, err))
	}
	tokenA, tokenB := market.TokenIDs[0], market.TokenIDs[1]

	exec.LegA, err = e.placeLeg(ctx, tokenA, size, priceA)
	if err != nil {
		return e.fail(ctx, exec, fmt.Errorf("%w: leg A: %v", domain.ErrOrderPlacement, err))
	}
	exec.LegB, err = e.placeLeg(ctx, tokenB, size, priceB)
	if err != nil {
		e.cancelLeg(ctx, log, exec.LegA)
		return e.fail(ctx, exec, fmt.Errorf("%w: leg B: %v", domain.ErrOrderPlacement, err))
	}

	status := e.monitor.Monitor(ctx, exec, deadline)
	exec.FillStatus = status

	var exit *domain.Order
	switch status {
	case domain.FillStatusBoth:
		exec.PnL = 0
		exec.Notes = "both legs filled, hedged arbitrage position"

	case domain.FillStatusOne:
		res := e.mitigator.Mitigate(ctx, exec)
		exec.PnL = res.PnL
		exec.Notes = res.Notes
		exit = res.ExitOrder
		if res.Retried && exec.BothLegsFilled() {
			exec.FillStatus = domain.FillStatusBoth
		}

	case domain.FillStatusTimeout:
		e.cancelLeg(ctx, log, exec.LegA)
		e.cancelLeg(ctx, log, exec.LegB)
		exec.PnL = 0
		exec.Notes = "no fills before deadline, both orders cancelled"
	}

	valid := e.validator.Validate(marketID, exec.LegA, exec.LegB)
	if !valid {
		e.validator.FlagLoss(marketID, exec.PnL)
		exec.Notes += " [naked exposure flagged]"
	}
	if exit != nil && e.validator.ValidateExit(marketID, exit) {
		exec.Notes += " [position cleared by unwind]"
	}

	exec.CompletedAt = time.Now().UTC()
	log.InfoContext(ctx, "execution finalized",
		slog.String("fill_status", string(exec.FillStatus)),
		slog.Float64("pnl", exec.PnL),
		slog.Bool("manual_review", exec.ManualReview))
	return exec
}

// placeLeg submits one buy order and returns its pending domain state.
func (e *DualLegExecutor) placeLeg(ctx context.Context, tokenID string, size, price float64) (*domain.Order, error) {
	orderID, err := e.client.PlaceOrder(ctx, tokenID, domain.SideBuy, size, price)
	if err != nil {
		return nil, err
	}
	return &domain.Order{
		ID:            orderID,
		TokenID:       tokenID,
		Side:          domain.SideBuy,
		Size:          size,
		Price:         price,
		CreatedAt:     time.Now().UTC(),
		Status:        domain.OrderStatusPending,
		RemainingSize: size,
	}, nil
}

// cancelLeg cancels an open leg. Cancellation failures are logged and
// otherwise ignored: the monitor already reported the leg unfilled.
func (e *DualLegExecutor) cancelLeg(ctx context.Context, log *slog.Logger, leg *domain.Order) {
	if leg == nil || leg.Status.Terminal() {
		return
	}
	if err := e.client.CancelOrder(ctx, leg.ID); err != nil {
		log.WarnContext(ctx, "order cancellation failed",
			slog.String("order_id", leg.ID),
			slog.String("error", err.Error()))
	}
	leg.Status = domain.OrderStatusCancelled
}

// fail finalizes an execution that never reached monitoring. The validator
// still runs so that a partially placed attempt cannot slip past position
// accounting.
func (e *DualLegExecutor) fail(ctx context.Context, exec *domain.Execution, err error) *domain.Execution {
	exec.FillStatus = domain.FillStatusFailed
	exec.Notes = err.Error()
	e.validator.Validate(exec.MarketID, exec.LegA, exec.LegB)
	exec.CompletedAt = time.Now().UTC()
	e.logger.ErrorContext(ctx, "execution failed before monitoring",
		slog.String("execution_id", exec.ID),
		slog.String("market_id", exec.MarketID),
		slog.String("error", err.Error()))
	return exec
}
