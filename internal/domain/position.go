package domain

import "time"

// ExposureType classifies the net exposure an execution left in a market.
type ExposureType string

const (
	// ExposureHedged means both legs filled; the position carries no
	// directional risk.
	ExposureHedged ExposureType = "hedged"

	// ExposureNakedA / ExposureNakedB mean exactly one leg filled and the
	// market carries unintended directional risk until it is unwound.
	ExposureNakedA ExposureType = "naked_a"
	ExposureNakedB ExposureType = "naked_b"

	// ExposureNone means neither leg filled.
	ExposureNone ExposureType = "none"
)

// Naked reports whether the exposure is a one-sided position.
func (t ExposureType) Naked() bool {
	return t == ExposureNakedA || t == ExposureNakedB
}

// PositionRecord is the per-market exposure bookkeeping entry owned by the
// position validator. Loss is the flagged realized loss attached to a naked
// record by mitigation; it is zero for hedged records.
type PositionRecord struct {
	MarketID   string
	Type       ExposureType
	Size       float64
	Loss       float64
	RecordedAt time.Time
}
