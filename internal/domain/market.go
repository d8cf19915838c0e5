package domain

import "time"

// Market is a binary-outcome prediction market with two complementary
// outcome tokens whose fair prices sum to 1.0.
type Market struct {
	ID       string
	Question string
	Slug     string
	Outcomes [2]string
	TokenIDs [2]string
	Volume   float64
	Active   bool
	Closed   bool
}

// PriceLevel is a single price+size entry in an order book.
type PriceLevel struct {
	Price float64
	Size  float64
}

// OrderBook is a snapshot of resting liquidity for one outcome token.
// Asks are sorted best (lowest) first, bids best (highest) first.
type OrderBook struct {
	TokenID   string
	Asks      []PriceLevel
	Bids      []PriceLevel
	Timestamp time.Time
}

// BestAsk returns the lowest ask price, or 0 when the book has no asks.
func (b OrderBook) BestAsk() float64 {
	if len(b.Asks) == 0 {
		return 0
	}
	return b.Asks[0].Price
}

// BestBid returns the highest bid price, or 0 when the book has no bids.
func (b OrderBook) BestBid() float64 {
	if len(b.Bids) == 0 {
		return 0
	}
	return b.Bids[0].Price
}

// Opportunity is a scored arbitrage candidate produced by the scanner and
// consumed read-only by the coordinator.
type Opportunity struct {
	ID         string
	MarketID   string
	MarketName string
	PriceA     float64
	PriceB     float64
	SumPrice   float64
	Edge       float64 // percent: (1 - sum) * 100
	Executable bool
	Volume     float64
	UpdatedAt  time.Time
}
