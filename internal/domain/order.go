package domain

import "time"

// Side indicates whether an order buys or sells an outcome token.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// OrderStatus tracks the order lifecycle. Pending may move to any other
// status; PartialFill may only move to Filled, Cancelled, or Expired.
// Filled, Cancelled, Failed, and Expired are terminal.
type OrderStatus string

const (
	OrderStatusPending     OrderStatus = "pending"
	OrderStatusPartialFill OrderStatus = "partial_fill"
	OrderStatusFilled      OrderStatus = "filled"
	OrderStatusCancelled   OrderStatus = "cancelled"
	OrderStatusFailed      OrderStatus = "failed"
	OrderStatusExpired     OrderStatus = "expired"
)

// Terminal reports whether the status permits no further transitions.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusFailed, OrderStatusExpired:
		return true
	}
	return false
}

// Order is one leg's lifecycle record. Its identity fields (ID, TokenID,
// Side, Size, Price, CreatedAt) are immutable after placement; Status,
// FilledSize, and RemainingSize are updated only by the fill monitor and
// the partial-fill mitigator of the execution that owns the order.
type Order struct {
	ID            string
	TokenID       string
	Side          Side
	Size          float64
	Price         float64
	CreatedAt     time.Time
	Status        OrderStatus
	FilledSize    float64
	RemainingSize float64
}

// Filled reports whether the order has been completely filled.
func (o *Order) Filled() bool {
	return o != nil && o.Status == OrderStatusFilled
}

// ApplyFill updates the fill fields and derives the status from the filled
// quantity: Filled when the full requested size is filled, PartialFill when
// some but not all of it is.
func (o *Order) ApplyFill(filledSize, remainingSize float64) {
	o.FilledSize = filledSize
	o.RemainingSize = remainingSize
	switch {
	case filledSize >= o.Size && o.Size > 0:
		o.Status = OrderStatusFilled
	case filledSize > 0:
		o.Status = OrderStatusPartialFill
	}
}
