package engine

import (
	"log/slog"
	"sync"
	"time"

	"github.com/polyarb/polyarb/internal/domain"
)

// RiskConfig tunes adaptive sizing and the emergency stop.
type RiskConfig struct {
	InitialPositionSize float64
	MaxScalingSize      float64
	ScalingFactor       float64
	ScalingWindow       int
	MinSuccessRate      float64
	EmergencyStopLoss   float64
}

// Outcome is one completed execution as seen by the risk manager.
type Outcome struct {
	ExecutionID string
	FillStatus  domain.FillStatus
	PnL         float64
	Size        float64
	Timestamp   time.Time
}

// RiskState is a read-only snapshot of the risk manager.
type RiskState struct {
	CurrentPositionSize float64
	DailyPnL            float64
	HistoryLen          int
	TradingEnabled      bool
}

// RiskManager tracks recent execution outcomes and adapts position size:
// scale up through a streak of clean fills, scale down when the windowed
// success rate degrades, and stop trading entirely once cumulative daily
// loss breaches the emergency threshold. The stop is sticky until Reset.
type RiskManager struct {
	mu          sync.Mutex
	cfg         RiskConfig
	size        float64
	dailyPnL    float64
	history     []Outcome
	enabled     bool
	pendingStep bool
	logger      *slog.Logger
}

// NewRiskManager creates a RiskManager starting at the configured initial
// size with trading enabled.
func NewRiskManager(cfg RiskConfig, logger *slog.Logger) *RiskManager {
	size := cfg.InitialPositionSize
	if size > cfg.MaxScalingSize {
		size = cfg.MaxScalingSize
	}
	return &RiskManager{
		cfg:     cfg,
		size:    size,
		enabled: true,
		logger:  logger.With(slog.String("component", "risk_manager")),
	}
}

// AdaptiveSize returns the position size for the next execution, applying
// at most one scaling step per recorded outcome. With no new outcome since
// the last call it returns the same value. Once the emergency stop has
// tripped it returns 0 until Reset.
func (r *RiskManager) AdaptiveSize() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.enabled {
		return 0
	}
	if r.dailyPnL <= r.cfg.EmergencyStopLoss {
		r.trip()
		return 0
	}
	if len(r.history) < r.cfg.ScalingWindow {
		return r.size
	}
	if !r.pendingStep {
		return r.size
	}
	r.pendingStep = false

	window := r.history[len(r.history)-r.cfg.ScalingWindow:]
	successes := 0
	for _, o := range window {
		if o.FillStatus == domain.FillStatusBoth {
			successes++
		}
	}
	rate := float64(successes) / float64(len(window))

	prev := r.size
	if rate >= r.cfg.MinSuccessRate {
		r.size *= r.cfg.ScalingFactor
		if r.size > r.cfg.MaxScalingSize {
			r.size = r.cfg.MaxScalingSize
		}
	} else {
		r.size /= r.cfg.ScalingFactor
		if r.size < r.cfg.InitialPositionSize {
			r.size = r.cfg.InitialPositionSize
		}
	}
	if r.size != prev {
		r.logger.Info("position size adjusted",
			slog.Float64("success_rate", rate),
			slog.Float64("from", prev),
			slog.Float64("to", r.size))
	}
	return r.size
}

// Record folds a finalized execution into the outcome history and daily
// PnL. History is capped at twice the scaling window, oldest entries
// dropped first. A daily loss at or below the emergency threshold disables
// trading immediately.
func (r *RiskManager) Record(exec *domain.Execution) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.history = append(r.history, Outcome{
		ExecutionID: exec.ID,
		FillStatus:  exec.FillStatus,
		PnL:         exec.PnL,
		Size:        exec.Size,
		Timestamp:   time.Now().UTC(),
	})
	if max := 2 * r.cfg.ScalingWindow; len(r.history) > max {
		r.history = r.history[len(r.history)-max:]
	}
	r.dailyPnL += exec.PnL
	r.pendingStep = true

	if r.enabled && r.dailyPnL <= r.cfg.EmergencyStopLoss {
		r.trip()
	}
}

// trip disables trading. Caller holds the lock.
func (r *RiskManager) trip() {
	if !r.enabled {
		return
	}
	r.enabled = false
	r.logger.Error("emergency stop: daily loss threshold breached, trading disabled",
		slog.Float64("daily_pnl", r.dailyPnL),
		slog.Float64("threshold", r.cfg.EmergencyStopLoss))
}

// TradingEnabled reports whether new executions may be admitted.
func (r *RiskManager) TradingEnabled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.enabled
}

// DailyPnL returns the cumulative recorded PnL since the last Reset.
func (r *RiskManager) DailyPnL() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dailyPnL
}

// Snapshot returns the current risk state for status reporting.
func (r *RiskManager) Snapshot() RiskState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return RiskState{
		CurrentPositionSize: r.size,
		DailyPnL:            r.dailyPnL,
		HistoryLen:          len(r.history),
		TradingEnabled:      r.enabled,
	}
}

// Reset clears daily PnL and outcome history, restores the initial position
// size, and re-enables trading. This is the only way back from the
// emergency stop; it is an explicit operator action.
func (r *RiskManager) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dailyPnL = 0
	r.history = nil
	r.size = r.cfg.InitialPositionSize
	r.pendingStep = false
	r.enabled = true
	r.logger.Info("risk state reset, trading re-enabled")
}
