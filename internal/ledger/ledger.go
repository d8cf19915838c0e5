// Package ledger keeps the record of completed executions: a bounded
// in-memory ring for fast status queries, durable persistence through the
// execution store, and live publication on the signal bus.
package ledger

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/polyarb/polyarb/internal/domain"
)

const (
	// maxRecords bounds the in-memory ledger; older entries live only in
	// the execution store.
	maxRecords = 500

	// PubSubChannel carries one JSON LedgerRecord per completed execution.
	PubSubChannel = "polyarb:executions"
	// StreamKey is the durable stream the archiver reads back.
	StreamKey = "polyarb:executions:stream"
)

// Ledger records finalized executions. Store and bus are optional; a nil
// store keeps the ledger memory-only and a nil bus skips publication.
type Ledger struct {
	mu      sync.RWMutex
	records []domain.LedgerRecord

	store  domain.ExecutionStore
	bus    domain.SignalBus
	logger *slog.Logger
}

// New creates a Ledger.
func New(store domain.ExecutionStore, bus domain.SignalBus, logger *slog.Logger) *Ledger {
	return &Ledger{
		store:  store,
		bus:    bus,
		logger: logger.With(slog.String("component", "ledger")),
	}
}

// Record folds one finalized execution into the ledger: newest-first in
// memory, persisted to the store, and published on the bus. Store and bus
// failures are logged but never propagate; the execution outcome is already
// decided and recording must not un-decide it.
func (l *Ledger) Record(ctx context.Context, exec *domain.Execution, opp domain.Opportunity) {
	rec := buildRecord(exec, opp)

	l.mu.Lock()
	l.records = append([]domain.LedgerRecord{rec}, l.records...)
	if len(l.records) > maxRecords {
		l.records = l.records[:maxRecords]
	}
	l.mu.Unlock()

	if l.store != nil {
		if err := l.store.Create(ctx, *exec); err != nil {
			l.logger.ErrorContext(ctx, "persisting execution failed",
				slog.String("execution_id", exec.ID),
				slog.String("error", err.Error()))
		}
	}
	l.publish(ctx, rec)
}

// Recent returns up to limit ledger records, newest first.
func (l *Ledger) Recent(limit int) []domain.LedgerRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if limit <= 0 || limit > len(l.records) {
		limit = len(l.records)
	}
	out := make([]domain.LedgerRecord, limit)
	copy(out, l.records[:limit])
	return out
}

// Len returns the number of in-memory records.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.records)
}

// Metrics summarizes the in-memory ledger for status reporting.
type Metrics struct {
	Trades     int
	BothFilled int
	OneFilled  int
	Timeouts   int
	Failed     int
	WinRate    float64
	TotalPnL   float64
	AvgEdge    float64
}

// Summary computes metrics over every in-memory record.
func (l *Ledger) Summary() Metrics {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var m Metrics
	var edgeSum float64
	for _, rec := range l.records {
		m.Trades++
		m.TotalPnL += rec.PnL
		edgeSum += rec.ExpectedEdge
		switch rec.Status {
		case domain.FillStatusBoth:
			m.BothFilled++
		case domain.FillStatusOne:
			m.OneFilled++
		case domain.FillStatusTimeout:
			m.Timeouts++
		case domain.FillStatusFailed:
			m.Failed++
		}
	}
	if m.Trades > 0 {
		m.WinRate = float64(m.BothFilled) / float64(m.Trades)
		m.AvgEdge = edgeSum / float64(m.Trades)
	}
	return m
}

func (l *Ledger) publish(ctx context.Context, rec domain.LedgerRecord) {
	if l.bus == nil {
		return
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		l.logger.ErrorContext(ctx, "marshaling ledger record failed",
			slog.String("execution_id", rec.ID),
			slog.String("error", err.Error()))
		return
	}
	if err := l.bus.Publish(ctx, PubSubChannel, payload); err != nil {
		l.logger.WarnContext(ctx, "publishing ledger record failed",
			slog.String("error", err.Error()))
	}
	if err := l.bus.StreamAppend(ctx, StreamKey, payload); err != nil {
		l.logger.WarnContext(ctx, "appending ledger stream failed",
			slog.String("error", err.Error()))
	}
}

func buildRecord(exec *domain.Execution, opp domain.Opportunity) domain.LedgerRecord {
	rec := domain.LedgerRecord{
		ID:           exec.ID,
		MarketID:     exec.MarketID,
		MarketName:   opp.MarketName,
		PriceA:       exec.PriceA,
		PriceB:       exec.PriceB,
		ExpectedEdge: exec.ExpectedEdge(),
		Status:       exec.FillStatus,
		PnL:          exec.PnL,
		Notes:        exec.Notes,
		Timestamp:    exec.CompletedAt,
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	if exec.Size > 0 {
		rec.RealizedEdge = exec.PnL / exec.Size * 100
	}
	return rec
}
