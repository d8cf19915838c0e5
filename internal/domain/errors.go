package domain

import "errors"

var (
	ErrNotFound     = errors.New("not found")
	ErrUnauthorized = errors.New("unauthorized")
	ErrRateLimited  = errors.New("rate limited")

	// Execution failure taxonomy. Each is scoped to the single execution it
	// occurred in; none of them surfaces as a process crash.
	ErrMarketLookup    = errors.New("market tokens unresolvable")
	ErrOrderPlacement  = errors.New("order placement rejected")
	ErrBookUnavailable = errors.New("order book unavailable")

	// Risk-gate rejections. These mean the execution was never started and
	// the exchange was never contacted.
	ErrTradingDisabled  = errors.New("trading disabled by risk management")
	ErrConcurrencyLimit = errors.New("max concurrent executions reached")
	ErrZeroSize         = errors.New("position size is zero")
)
