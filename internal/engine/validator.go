package engine

import (
	"log/slog"
	"sync"
	"time"

	"github.com/polyarb/polyarb/internal/domain"
)

// PositionValidator keeps the authoritative in-memory record of open
// exposure per market. Every execution passes through Validate before it is
// finalized, so no naked position can exist without a record here.
type PositionValidator struct {
	mu        sync.RWMutex
	positions map[string]domain.PositionRecord
	logger    *slog.Logger
}

// NewPositionValidator creates an empty validator.
func NewPositionValidator(logger *slog.Logger) *PositionValidator {
	return &PositionValidator{
		positions: make(map[string]domain.PositionRecord),
		logger:    logger.With(slog.String("component", "position_validator")),
	}
}

// Validate classifies the execution's final position for a market and
// records it. Both legs filled records a hedged position and returns true.
// Neither leg filled leaves no position and returns true. Exactly one leg
// filled records the corresponding naked exposure and returns false.
// Re-validating an unchanged state is idempotent: the existing record's
// timestamp and any flagged loss are preserved.
func (v *PositionValidator) Validate(marketID string, legA, legB *domain.Order) bool {
	aFilled := legA.Filled()
	bFilled := legB.Filled()

	v.mu.Lock()
	defer v.mu.Unlock()

	switch {
	case aFilled && bFilled:
		v.record(marketID, domain.ExposureHedged, legA.FilledSize)
		return true
	case aFilled:
		v.record(marketID, domain.ExposureNakedA, legA.FilledSize)
		v.logger.Warn("naked exposure recorded",
			slog.String("market_id", marketID),
			slog.String("exposure", string(domain.ExposureNakedA)),
			slog.Float64("size", legA.FilledSize))
		return false
	case bFilled:
		v.record(marketID, domain.ExposureNakedB, legB.FilledSize)
		v.logger.Warn("naked exposure recorded",
			slog.String("market_id", marketID),
			slog.String("exposure", string(domain.ExposureNakedB)),
			slog.Float64("size", legB.FilledSize))
		return false
	default:
		delete(v.positions, marketID)
		return true
	}
}

// record upserts a position, keeping the original timestamp and loss when
// the classification has not changed.
func (v *PositionValidator) record(marketID string, typ domain.ExposureType, size float64) {
	if existing, ok := v.positions[marketID]; ok && existing.Type == typ {
		existing.Size = size
		v.positions[marketID] = existing
		return
	}
	v.positions[marketID] = domain.PositionRecord{
		MarketID:   marketID,
		Type:       typ,
		Size:       size,
		RecordedAt: time.Now().UTC(),
	}
}

// FlagLoss attaches a realized or assumed loss to the market's position
// record. Naked exposure is always flagged with a nonzero loss before the
// execution is returned to its caller.
func (v *PositionValidator) FlagLoss(marketID string, loss float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	rec, ok := v.positions[marketID]
	if !ok {
		return
	}
	rec.Loss = loss
	v.positions[marketID] = rec
}

// ValidateExit clears a naked position once the unwind order that closed it
// has fully filled. It returns true when the record was cleared.
func (v *PositionValidator) ValidateExit(marketID string, exit *domain.Order) bool {
	if exit == nil || !exit.Filled() {
		return false
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	rec, ok := v.positions[marketID]
	if !ok || !rec.Type.Naked() {
		return false
	}
	delete(v.positions, marketID)
	v.logger.Info("naked position cleared by unwind",
		slog.String("market_id", marketID),
		slog.String("exit_order_id", exit.ID),
		slog.Float64("loss", rec.Loss))
	return true
}

// ActivePositions returns a copy of every recorded position.
func (v *PositionValidator) ActivePositions() map[string]domain.PositionRecord {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make(map[string]domain.PositionRecord, len(v.positions))
	for k, rec := range v.positions {
		out[k] = rec
	}
	return out
}

// NakedPositions returns only the positions with unhedged exposure.
func (v *PositionValidator) NakedPositions() map[string]domain.PositionRecord {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make(map[string]domain.PositionRecord)
	for k, rec := range v.positions {
		if rec.Type.Naked() {
			out[k] = rec
		}
	}
	return out
}

// EmergencyCloseAll drops every recorded position and returns the affected
// market IDs. Used by operators after manual intervention on-venue.
func (v *PositionValidator) EmergencyCloseAll() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	ids := make([]string, 0, len(v.positions))
	for k := range v.positions {
		ids = append(ids, k)
	}
	v.positions = make(map[string]domain.PositionRecord)
	if len(ids) > 0 {
		v.logger.Warn("emergency close: all position records dropped",
			slog.Int("count", len(ids)))
	}
	return ids
}
