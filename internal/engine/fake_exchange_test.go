package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/polyarb/polyarb/internal/domain"
	"github.com/polyarb/polyarb/internal/exchange"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testHarness bundles the engine components with fast polling intervals so
// scripted scenarios complete in milliseconds.
type testHarness struct {
	fake      *fakeExchange
	monitor   *FillMonitor
	mitigator *Mitigator
	validator *PositionValidator
	executor  *DualLegExecutor
}

func newTestHarness() *testHarness {
	fake := newFakeExchange()
	log := testLogger()
	monitor := NewFillMonitor(fake, time.Millisecond, log)
	mitigator := NewMitigator(fake, time.Millisecond, 20*time.Millisecond, -0.01, log)
	validator := NewPositionValidator(log)
	return &testHarness{
		fake:      fake,
		monitor:   monitor,
		mitigator: mitigator,
		validator: validator,
		executor:  NewDualLegExecutor(fake, monitor, mitigator, validator, log),
	}
}

const (
	testMarketID = "mkt-1"
	testTokenA   = "tok-a"
	testTokenB   = "tok-b"
)

// fillNever marks an order that will not fill however long it is polled.
const fillNever = -1

type fakeOrder struct {
	tokenID   string
	side      domain.Side
	size      float64
	price     float64
	polls     int
	fillAfter int
	cancelled bool
}

// fakeExchange is a scripted in-memory venue. Fill behavior is queued per
// token: each PlaceOrder on a token consumes the next entry from that
// token's plan, which is the number of status polls to answer unfilled
// before reporting a full fill (fillNever for no fill ever). An exhausted
// plan defaults to never filling.
type fakeExchange struct {
	mu        sync.Mutex
	market    domain.Market
	marketErr error
	placeErr  map[string]error
	plans     map[string][]int
	books     map[string]domain.OrderBook
	bookErr   map[string]error
	orders    map[string]*fakeOrder
	placed    []string
	nextID    int
}

var _ exchange.Client = (*fakeExchange)(nil)

func newFakeExchange() *fakeExchange {
	return &fakeExchange{
		market: domain.Market{
			ID:       testMarketID,
			Question: "Will it resolve YES?",
			Outcomes: [2]string{"Yes", "No"},
			TokenIDs: [2]string{testTokenA, testTokenB},
			Active:   true,
		},
		placeErr: make(map[string]error),
		plans:    make(map[string][]int),
		books:    make(map[string]domain.OrderBook),
		bookErr:  make(map[string]error),
		orders:   make(map[string]*fakeOrder),
	}
}

// plan queues fill behavior for successive orders on a token.
func (f *fakeExchange) plan(tokenID string, fillAfterPolls ...int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.plans[tokenID] = append(f.plans[tokenID], fillAfterPolls...)
}

func (f *fakeExchange) setBook(tokenID string, bid, ask float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	book := domain.OrderBook{TokenID: tokenID}
	if bid > 0 {
		book.Bids = []domain.PriceLevel{{Price: bid, Size: 1000}}
	}
	if ask > 0 {
		book.Asks = []domain.PriceLevel{{Price: ask, Size: 1000}}
	}
	f.books[tokenID] = book
}

func (f *fakeExchange) PlaceOrder(ctx context.Context, tokenID string, side domain.Side, size, price float64) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.placeErr[tokenID]; err != nil {
		return "", err
	}
	fillAfter := fillNever
	if q := f.plans[tokenID]; len(q) > 0 {
		fillAfter = q[0]
		f.plans[tokenID] = q[1:]
	}
	f.nextID++
	id := fmt.Sprintf("ord-%d", f.nextID)
	f.orders[id] = &fakeOrder{
		tokenID:   tokenID,
		side:      side,
		size:      size,
		price:     price,
		fillAfter: fillAfter,
	}
	f.placed = append(f.placed, id)
	return id, nil
}

func (f *fakeExchange) CancelOrder(ctx context.Context, orderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[orderID]
	if !ok {
		return fmt.Errorf("fake: unknown order %s", orderID)
	}
	o.cancelled = true
	return nil
}

func (f *fakeExchange) GetOrderStatus(ctx context.Context, orderID string) (exchange.OrderState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[orderID]
	if !ok {
		return exchange.OrderState{}, fmt.Errorf("fake: unknown order %s", orderID)
	}
	o.polls++
	if o.fillAfter != fillNever && o.polls > o.fillAfter && !o.cancelled {
		return exchange.OrderState{
			Status:        "matched",
			FilledSize:    o.size,
			RemainingSize: 0,
			Price:         o.price,
		}, nil
	}
	return exchange.OrderState{
		Status:        "live",
		FilledSize:    0,
		RemainingSize: o.size,
		Price:         o.price,
	}, nil
}

func (f *fakeExchange) GetOrderBook(ctx context.Context, tokenID string) (domain.OrderBook, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.bookErr[tokenID]; err != nil {
		return domain.OrderBook{}, err
	}
	return f.books[tokenID], nil
}

func (f *fakeExchange) GetMarket(ctx context.Context, marketID string) (domain.Market, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.marketErr != nil {
		return domain.Market{}, f.marketErr
	}
	return f.market, nil
}

func (f *fakeExchange) order(id string) fakeOrder {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.orders[id]
}

func (f *fakeExchange) placedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.placed)
}
