// Package exchange defines the venue capability interface consumed by the
// execution engine. The production Polymarket implementation lives in the
// polymarket subpackage; tests use deterministic scripted fakes.
package exchange

import (
	"context"

	"github.com/polyarb/polyarb/internal/domain"
)

// OrderState is the venue-reported state of a resting order.
type OrderState struct {
	Status        string // venue status string, e.g. "live", "matched", "cancelled"
	FilledSize    float64
	RemainingSize float64
	Price         float64
}

// MarketQuote pairs a market with its listed outcome prices. HasPrices is
// false when the listing endpoint did not carry prices for the market.
type MarketQuote struct {
	Market    domain.Market
	PriceA    float64
	PriceB    float64
	HasPrices bool
}

// MarketLister enumerates live markets with quotes. Implemented by the
// Polymarket client against the Gamma listing endpoint.
type MarketLister interface {
	ListMarkets(ctx context.Context, limit, offset int) ([]MarketQuote, error)
}

// Client is the set of venue operations the engine depends on. Every call
// may fail (network, auth, rejection); callers convert failures into
// execution-level outcomes rather than propagating them.
type Client interface {
	// PlaceOrder places a GTC limit order and returns the venue order ID.
	PlaceOrder(ctx context.Context, tokenID string, side domain.Side, size, price float64) (string, error)

	// CancelOrder cancels a resting order. Cancellation failures are
	// non-fatal to the caller.
	CancelOrder(ctx context.Context, orderID string) error

	// GetOrderStatus returns the live fill state of an order.
	GetOrderStatus(ctx context.Context, orderID string) (OrderState, error)

	// GetOrderBook returns the current book for one outcome token.
	GetOrderBook(ctx context.Context, tokenID string) (domain.OrderBook, error)

	// GetMarket resolves a market and its two outcome tokens.
	GetMarket(ctx context.Context, marketID string) (domain.Market, error)
}
