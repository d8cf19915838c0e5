package domain

import (
	"context"
	"time"
)

// PriceCache provides fast access to the latest outcome-token prices.
type PriceCache interface {
	SetPrice(ctx context.Context, tokenID string, price float64, ts time.Time) error
	GetPrices(ctx context.Context, tokenIDs []string) (map[string]float64, error)
}

// OrderbookCache stores live order book snapshots for scanner reads.
type OrderbookCache interface {
	SetSnapshot(ctx context.Context, tokenID string, book OrderBook) error
	GetSnapshot(ctx context.Context, tokenID string) (OrderBook, error)
	GetBBO(ctx context.Context, tokenID string) (bestBid, bestAsk float64, err error)
}

// RateLimiter provides distributed rate limiting for upstream API calls.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// SignalBus provides pub/sub for live events and durable streams for the
// execution ledger feed.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	StreamAppend(ctx context.Context, stream string, payload []byte) error
}
