// Package scanner discovers arbitrage opportunities: it pages through live
// markets, filters out untradeable ones, computes the edge implied by the
// outcome price pair, and hands the best candidates to the coordinator.
package scanner

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/polyarb/polyarb/internal/domain"
	"github.com/polyarb/polyarb/internal/exchange"
)

// rateLimitKey throttles Gamma listing calls across all scanner instances
// sharing the same limiter backend.
const rateLimitKey = "polyarb:scan:gamma"

// snapshotCap bounds the retained per-sweep opportunity snapshot.
const snapshotCap = 50

// Submitter admits an opportunity into execution. Implemented by the
// engine coordinator.
type Submitter interface {
	Submit(ctx context.Context, opp domain.Opportunity, sizeOverride float64) (*domain.Execution, error)
}

// Config tunes scan cadence and opportunity filters.
type Config struct {
	Interval time.Duration
	PageSize int
	MaxPages int

	// MinEdge is the minimum profit percentage for an opportunity to be
	// executable.
	MinEdge float64
	// MinVolume filters out thin markets.
	MinVolume float64
	// MinPrice/MaxPrice exclude near-resolved markets whose outcome prices
	// sit at the boundaries, where fills are unrealistic.
	MinPrice float64
	MaxPrice float64

	// MaxExecutionsPerScan bounds how many opportunities one sweep submits.
	MaxExecutionsPerScan int

	// RateLimit/RateWindow throttle listing calls. Zero disables the check.
	RateLimit  int
	RateWindow time.Duration
}

// Scanner sweeps the venue's market listings on a fixed interval. Limiter,
// books, and prices are optional; submitter may be nil for scan-only mode.
type Scanner struct {
	source    exchange.MarketLister
	submitter Submitter
	limiter   domain.RateLimiter
	books     domain.OrderbookCache
	prices    domain.PriceCache
	cfg       Config
	logger    *slog.Logger

	wg sync.WaitGroup

	mu     sync.RWMutex
	latest []domain.Opportunity
}

// New creates a Scanner.
func New(source exchange.MarketLister, submitter Submitter, limiter domain.RateLimiter, books domain.OrderbookCache, prices domain.PriceCache, cfg Config, logger *slog.Logger) *Scanner {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 100
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 5
	}
	if cfg.MaxExecutionsPerScan <= 0 {
		cfg.MaxExecutionsPerScan = 1
	}
	return &Scanner{
		source:    source,
		submitter: submitter,
		limiter:   limiter,
		books:     books,
		prices:    prices,
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "scanner")),
	}
}

// Run sweeps until the context is cancelled.
func (s *Scanner) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.logger.InfoContext(ctx, "scanner started",
		slog.Duration("interval", s.cfg.Interval),
		slog.Float64("min_edge_pct", s.cfg.MinEdge))

	for {
		opps, err := s.ScanOnce(ctx)
		if err != nil {
			s.logger.WarnContext(ctx, "scan sweep failed", slog.String("error", err.Error()))
		} else {
			s.dispatch(ctx, opps)
		}

		select {
		case <-ctx.Done():
			s.wg.Wait()
			s.logger.InfoContext(ctx, "scanner stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// ScanOnce pages through live markets and returns the executable
// opportunities found, best edge first.
func (s *Scanner) ScanOnce(ctx context.Context) ([]domain.Opportunity, error) {
	if err := s.throttle(ctx); err != nil {
		return nil, err
	}

	var opps []domain.Opportunity
	for page := 0; page < s.cfg.MaxPages; page++ {
		quotes, err := s.source.ListMarkets(ctx, s.cfg.PageSize, page*s.cfg.PageSize)
		if err != nil {
			return nil, fmt.Errorf("scanner: list markets page %d: %w", page, err)
		}
		for i := range quotes {
			if opp, ok := s.analyze(ctx, quotes[i]); ok {
				opps = append(opps, opp)
			}
		}
		if len(quotes) < s.cfg.PageSize {
			break
		}
	}

	sort.Slice(opps, func(i, j int) bool { return opps[i].Edge > opps[j].Edge })
	s.retain(opps)
	s.logger.DebugContext(ctx, "scan sweep complete", slog.Int("opportunities", len(opps)))
	return opps, nil
}

// retain stores the sweep's best opportunities as the latest snapshot,
// capped so a broad sweep cannot grow the retained slice without bound.
func (s *Scanner) retain(opps []domain.Opportunity) {
	n := len(opps)
	if n > snapshotCap {
		n = snapshotCap
	}
	latest := make([]domain.Opportunity, n)
	copy(latest, opps[:n])

	s.mu.Lock()
	s.latest = latest
	s.mu.Unlock()
}

// Snapshot returns a copy of the most recent sweep's opportunities, best
// edge first. Empty until the first sweep completes.
func (s *Scanner) Snapshot() []domain.Opportunity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Opportunity, len(s.latest))
	copy(out, s.latest)
	return out
}

// analyze filters one quoted market and computes its edge. It returns
// ok=false for markets that cannot be traded at all; executable marks
// whether the edge clears the configured threshold.
func (s *Scanner) analyze(ctx context.Context, q exchange.MarketQuote) (domain.Opportunity, bool) {
	m := q.Market
	if !m.Active || m.Closed {
		return domain.Opportunity{}, false
	}
	if m.TokenIDs[0] == "" || m.TokenIDs[1] == "" {
		return domain.Opportunity{}, false
	}
	if m.Volume < s.cfg.MinVolume {
		return domain.Opportunity{}, false
	}

	priceA, priceB, ok := s.resolvePrices(ctx, q)
	if !ok {
		return domain.Opportunity{}, false
	}

	if priceA < s.cfg.MinPrice || priceA > s.cfg.MaxPrice ||
		priceB < s.cfg.MinPrice || priceB > s.cfg.MaxPrice {
		return domain.Opportunity{}, false
	}

	sum := priceA + priceB
	edge := (1.0 - sum) * 100
	return domain.Opportunity{
		ID:         uuid.New().String(),
		MarketID:   m.ID,
		MarketName: m.Question,
		PriceA:     priceA,
		PriceB:     priceB,
		SumPrice:   sum,
		Edge:       edge,
		Executable: edge >= s.cfg.MinEdge,
		Volume:     m.Volume,
		UpdatedAt:  time.Now().UTC(),
	}, true
}

// resolvePrices finds an entry price for each outcome token. A live book
// ask beats the listing's possibly stale quote; the feed's cached price
// covers tokens with no listing quote and no book snapshot yet.
func (s *Scanner) resolvePrices(ctx context.Context, q exchange.MarketQuote) (priceA, priceB float64, ok bool) {
	m := q.Market
	if q.HasPrices {
		priceA, priceB = q.PriceA, q.PriceB
	}

	if s.books != nil {
		if _, askA, err := s.books.GetBBO(ctx, m.TokenIDs[0]); err == nil && askA > 0 {
			priceA = askA
		}
		if _, askB, err := s.books.GetBBO(ctx, m.TokenIDs[1]); err == nil && askB > 0 {
			priceB = askB
		}
	}

	if (priceA <= 0 || priceB <= 0) && s.prices != nil {
		cached, err := s.prices.GetPrices(ctx, []string{m.TokenIDs[0], m.TokenIDs[1]})
		if err == nil {
			if priceA <= 0 {
				priceA = cached[m.TokenIDs[0]]
			}
			if priceB <= 0 {
				priceB = cached[m.TokenIDs[1]]
			}
		}
	}

	return priceA, priceB, priceA > 0 && priceB > 0
}

// dispatch launches the best executable opportunities, bounded by the
// per-scan cap. Each submission runs on its own goroutine so a slow
// execution never stalls the next sweep; the coordinator's admission gate
// bounds how many actually run at once.
func (s *Scanner) dispatch(ctx context.Context, opps []domain.Opportunity) {
	if s.submitter == nil {
		return
	}
	launched := 0
	for i := range opps {
		if launched >= s.cfg.MaxExecutionsPerScan {
			return
		}
		if !opps[i].Executable {
			return // sorted by edge, the rest are worse
		}
		launched++
		opp := opps[i]
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			exec, err := s.submitter.Submit(ctx, opp, 0)
			if err != nil {
				s.logger.InfoContext(ctx, "submission rejected",
					slog.String("market_id", opp.MarketID),
					slog.String("reason", err.Error()))
				return
			}
			s.logger.InfoContext(ctx, "opportunity executed",
				slog.String("market_id", opp.MarketID),
				slog.String("fill_status", string(exec.FillStatus)),
				slog.Float64("pnl", exec.PnL))
		}()
	}
}

func (s *Scanner) throttle(ctx context.Context) error {
	if s.limiter == nil || s.cfg.RateLimit <= 0 {
		return nil
	}
	allowed, err := s.limiter.Allow(ctx, rateLimitKey, s.cfg.RateLimit, s.cfg.RateWindow)
	if err != nil {
		// A broken limiter backend should not halt scanning.
		s.logger.WarnContext(ctx, "rate limiter unavailable", slog.String("error", err.Error()))
		return nil
	}
	if !allowed {
		return fmt.Errorf("scanner: %w", domain.ErrRateLimited)
	}
	return nil
}
