package scanner

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/polyarb/polyarb/internal/domain"
	"github.com/polyarb/polyarb/internal/exchange"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeLister struct {
	pages [][]exchange.MarketQuote
	calls int
}

func (f *fakeLister) ListMarkets(ctx context.Context, limit, offset int) ([]exchange.MarketQuote, error) {
	page := offset / limit
	f.calls++
	if page >= len(f.pages) {
		return nil, nil
	}
	return f.pages[page], nil
}

type fakeSubmitter struct {
	mu        sync.Mutex
	submitted []domain.Opportunity
	err       error
}

func (f *fakeSubmitter) Submit(ctx context.Context, opp domain.Opportunity, sizeOverride float64) (*domain.Execution, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.mu.Lock()
	f.submitted = append(f.submitted, opp)
	f.mu.Unlock()
	return &domain.Execution{ID: "exec", MarketID: opp.MarketID, FillStatus: domain.FillStatusBoth}, nil
}

func (f *fakeSubmitter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.submitted)
}

func quote(id string, priceA, priceB, volume float64) exchange.MarketQuote {
	return exchange.MarketQuote{
		Market: domain.Market{
			ID:       id,
			Question: "Q " + id,
			TokenIDs: [2]string{"tok-" + id + "-a", "tok-" + id + "-b"},
			Volume:   volume,
			Active:   true,
		},
		PriceA:    priceA,
		PriceB:    priceB,
		HasPrices: true,
	}
}

func testConfig() Config {
	return Config{
		Interval:  time.Second,
		PageSize:  100,
		MaxPages:  3,
		MinEdge:   2.0,
		MinVolume: 1000,
		MinPrice:  0.05,
		MaxPrice:  0.95,
	}
}

func TestScanOnceFiltersAndSorts(t *testing.T) {
	lister := &fakeLister{pages: [][]exchange.MarketQuote{{
		quote("wide", 0.40, 0.50, 5000),   // edge 10
		quote("narrow", 0.47, 0.50, 5000), // edge 3
		quote("negative", 0.55, 0.50, 5000),
		quote("thin", 0.40, 0.50, 10), // volume below floor
		func() exchange.MarketQuote {
			q := quote("closed", 0.40, 0.50, 5000)
			q.Market.Closed = true
			return q
		}(),
		func() exchange.MarketQuote {
			q := quote("boundary", 0.02, 0.50, 5000)
			return q
		}(),
		func() exchange.MarketQuote {
			q := quote("tokenless", 0.40, 0.50, 5000)
			q.Market.TokenIDs = [2]string{"", ""}
			return q
		}(),
		func() exchange.MarketQuote {
			q := quote("unpriced", 0, 0, 5000)
			q.HasPrices = false
			return q
		}(),
	}}}
	s := New(lister, nil, nil, nil, nil, testConfig(), testLogger())

	opps, err := s.ScanOnce(context.Background())
	if err != nil {
		t.Fatalf("ScanOnce: %v", err)
	}

	// thin, closed, boundary, tokenless, unpriced are dropped entirely;
	// wide, narrow, negative survive with computed edges.
	if len(opps) != 3 {
		t.Fatalf("opportunities=%d want 3: %+v", len(opps), opps)
	}
	if opps[0].MarketID != "wide" || opps[1].MarketID != "narrow" || opps[2].MarketID != "negative" {
		t.Fatalf("sort order wrong: %s %s %s", opps[0].MarketID, opps[1].MarketID, opps[2].MarketID)
	}
	if math.Abs(opps[0].Edge-10) > 1e-9 {
		t.Fatalf("edge=%v want 10", opps[0].Edge)
	}
	if !opps[0].Executable || !opps[1].Executable {
		t.Fatalf("positive-edge opportunities should be executable")
	}
	if opps[2].Executable {
		t.Fatalf("negative edge must not be executable")
	}
}

func TestScanOncePaginates(t *testing.T) {
	full := make([]exchange.MarketQuote, 100)
	for i := range full {
		full[i] = quote("m", 0.55, 0.50, 5000)
	}
	lister := &fakeLister{pages: [][]exchange.MarketQuote{full, {quote("last", 0.40, 0.50, 5000)}}}
	s := New(lister, nil, nil, nil, nil, testConfig(), testLogger())

	opps, err := s.ScanOnce(context.Background())
	if err != nil {
		t.Fatalf("ScanOnce: %v", err)
	}
	if lister.calls != 2 {
		t.Fatalf("calls=%d want 2 (second page short)", lister.calls)
	}
	found := false
	for _, o := range opps {
		if o.MarketID == "last" {
			found = true
		}
	}
	if !found {
		t.Fatalf("second page opportunity missing")
	}
}

func TestDispatchSubmitsBestFirstUntilCap(t *testing.T) {
	lister := &fakeLister{pages: [][]exchange.MarketQuote{{
		quote("small", 0.47, 0.50, 5000),
		quote("big", 0.40, 0.50, 5000),
	}}}
	sub := &fakeSubmitter{}
	cfg := testConfig()
	cfg.MaxExecutionsPerScan = 1
	s := New(lister, sub, nil, nil, nil, cfg, testLogger())

	opps, err := s.ScanOnce(context.Background())
	if err != nil {
		t.Fatalf("ScanOnce: %v", err)
	}
	s.dispatch(context.Background(), opps)
	s.wg.Wait()

	if sub.count() != 1 {
		t.Fatalf("submitted=%d want 1", sub.count())
	}
	if sub.submitted[0].MarketID != "big" {
		t.Fatalf("submitted %s want best edge first", sub.submitted[0].MarketID)
	}
}

func TestDispatchRejectionsSubmitNothing(t *testing.T) {
	lister := &fakeLister{}
	sub := &fakeSubmitter{err: domain.ErrTradingDisabled}
	cfg := testConfig()
	cfg.MaxExecutionsPerScan = 5
	s := New(lister, sub, nil, nil, nil, cfg, testLogger())

	opps := []domain.Opportunity{
		{MarketID: "a", Edge: 5, Executable: true},
		{MarketID: "b", Edge: 4, Executable: true},
	}
	s.dispatch(context.Background(), opps)
	s.wg.Wait()
	if sub.count() != 0 {
		t.Fatalf("submitted=%d want 0 when the gate rejects", sub.count())
	}
}

func TestDispatchSkipsNonExecutable(t *testing.T) {
	lister := &fakeLister{}
	sub := &fakeSubmitter{}
	cfg := testConfig()
	cfg.MaxExecutionsPerScan = 5
	s := New(lister, sub, nil, nil, nil, cfg, testLogger())

	opps := []domain.Opportunity{
		{MarketID: "a", Edge: 1, Executable: false},
		{MarketID: "b", Edge: 0.5, Executable: false},
	}
	s.dispatch(context.Background(), opps)
	s.wg.Wait()
	if sub.count() != 0 {
		t.Fatalf("submitted=%d want 0 for non-executable sweep", sub.count())
	}
}

// blockingSubmitter stalls every Submit until released, standing in for an
// execution that takes the full monitoring plus retry window.
type blockingSubmitter struct {
	started atomic.Int32
	release chan struct{}
}

func (b *blockingSubmitter) Submit(ctx context.Context, opp domain.Opportunity, sizeOverride float64) (*domain.Execution, error) {
	b.started.Add(1)
	<-b.release
	return &domain.Execution{ID: "exec", MarketID: opp.MarketID, FillStatus: domain.FillStatusBoth}, nil
}

func TestDispatchDoesNotBlockOnSlowExecution(t *testing.T) {
	sub := &blockingSubmitter{release: make(chan struct{})}
	cfg := testConfig()
	cfg.MaxExecutionsPerScan = 2
	s := New(&fakeLister{}, sub, nil, nil, nil, cfg, testLogger())

	opps := []domain.Opportunity{
		{MarketID: "a", Edge: 5, Executable: true},
		{MarketID: "b", Edge: 4, Executable: true},
	}

	done := make(chan struct{})
	go func() {
		s.dispatch(context.Background(), opps)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("dispatch blocked on in-flight submissions")
	}

	deadline := time.Now().Add(2 * time.Second)
	for sub.started.Load() != 2 {
		if time.Now().After(deadline) {
			t.Fatalf("started=%d want 2", sub.started.Load())
		}
		time.Sleep(time.Millisecond)
	}

	close(sub.release)
	s.wg.Wait()
}

type fakeLimiter struct {
	allowed bool
}

func (f *fakeLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	return f.allowed, nil
}

func TestScanOnceRateLimited(t *testing.T) {
	lister := &fakeLister{pages: [][]exchange.MarketQuote{{quote("m", 0.40, 0.50, 5000)}}}
	cfg := testConfig()
	cfg.RateLimit = 10
	cfg.RateWindow = time.Minute
	s := New(lister, nil, &fakeLimiter{allowed: false}, nil, nil, cfg, testLogger())

	_, err := s.ScanOnce(context.Background())
	if err == nil {
		t.Fatalf("expected rate limit error")
	}
	if lister.calls != 0 {
		t.Fatalf("listing called despite throttle")
	}
}

func TestSnapshotRetainsLatestSweep(t *testing.T) {
	page := make([]exchange.MarketQuote, snapshotCap+10)
	for i := range page {
		page[i] = quote(fmt.Sprintf("m%d", i), 0.40, 0.50, 5000)
	}
	lister := &fakeLister{pages: [][]exchange.MarketQuote{page}}
	s := New(lister, nil, nil, nil, nil, testConfig(), testLogger())

	if got := s.Snapshot(); len(got) != 0 {
		t.Fatalf("snapshot before first sweep should be empty, got %d", len(got))
	}

	if _, err := s.ScanOnce(context.Background()); err != nil {
		t.Fatalf("ScanOnce: %v", err)
	}

	snap := s.Snapshot()
	if len(snap) != snapshotCap {
		t.Fatalf("snapshot=%d want cap %d", len(snap), snapshotCap)
	}
	for i := 1; i < len(snap); i++ {
		if snap[i].Edge > snap[i-1].Edge {
			t.Fatalf("snapshot not sorted by edge at %d", i)
		}
	}

	// Mutating the returned slice must not touch the retained copy.
	snap[0].MarketID = "mutated"
	if s.Snapshot()[0].MarketID == "mutated" {
		t.Fatalf("Snapshot must return a copy")
	}
}

type fakePriceCache struct {
	prices map[string]float64
	calls  int
}

func (f *fakePriceCache) SetPrice(ctx context.Context, tokenID string, price float64, ts time.Time) error {
	return nil
}

func (f *fakePriceCache) GetPrices(ctx context.Context, tokenIDs []string) (map[string]float64, error) {
	f.calls++
	out := make(map[string]float64, len(tokenIDs))
	for _, id := range tokenIDs {
		if p, ok := f.prices[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func TestAnalyzeFallsBackToPriceCache(t *testing.T) {
	q := quote("gap", 0, 0, 5000)
	q.HasPrices = false
	lister := &fakeLister{pages: [][]exchange.MarketQuote{{q}}}
	prices := &fakePriceCache{prices: map[string]float64{
		"tok-gap-a": 0.40,
		"tok-gap-b": 0.50,
	}}
	s := New(lister, nil, nil, nil, prices, testConfig(), testLogger())

	opps, err := s.ScanOnce(context.Background())
	if err != nil {
		t.Fatalf("ScanOnce: %v", err)
	}
	if prices.calls == 0 {
		t.Fatalf("price cache never consulted")
	}
	if len(opps) != 1 {
		t.Fatalf("opportunities=%d want 1", len(opps))
	}
	if math.Abs(opps[0].Edge-10) > 1e-9 {
		t.Fatalf("edge=%v want 10 from cached prices", opps[0].Edge)
	}
}
