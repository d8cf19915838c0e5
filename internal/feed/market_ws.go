// Package feed maintains live market data. It subscribes to the CLOB
// market WebSocket and keeps the price and orderbook caches current so the
// scanner reads fresh quotes without hitting the REST API.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/polyarb/polyarb/internal/domain"
)

const (
	// writeWait bounds each write to the peer.
	writeWait = 10 * time.Second

	// pongWait is how long we wait for a pong before treating the
	// connection as dead. pingPeriod must be shorter.
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	handshakeTimeout = 15 * time.Second

	reconnectDelay    = 2 * time.Second
	maxReconnectDelay = 60 * time.Second
)

// wsCommand is the subscription payload sent after connecting.
type wsCommand struct {
	Type    string   `json:"type"`
	Channel string   `json:"channel,omitempty"`
	Assets  []string `json:"assets_ids,omitempty"`
}

type wsLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

type wsBookMessage struct {
	AssetID   string    `json:"asset_id"`
	Bids      []wsLevel `json:"bids"`
	Asks      []wsLevel `json:"asks"`
	Timestamp string    `json:"timestamp"`
}

type wsPriceChange struct {
	AssetID   string `json:"asset_id"`
	Side      string `json:"side"`
	Price     string `json:"price"`
	Size      string `json:"size"`
	Timestamp string `json:"timestamp"`
}

// MarketFeed subscribes to book and price_change for a set of outcome
// tokens and writes every update into the caches. It reconnects with
// exponential backoff until its context is cancelled.
type MarketFeed struct {
	wsURL    string
	tokenIDs []string
	prices   domain.PriceCache
	books    domain.OrderbookCache
	logger   *slog.Logger
}

// NewMarketFeed creates a feed for the given token IDs.
func NewMarketFeed(wsURL string, tokenIDs []string, prices domain.PriceCache, books domain.OrderbookCache, logger *slog.Logger) *MarketFeed {
	return &MarketFeed{
		wsURL:    wsURL,
		tokenIDs: tokenIDs,
		prices:   prices,
		books:    books,
		logger:   logger.With(slog.String("component", "market_feed")),
	}
}

// Run connects and processes messages until ctx is cancelled. Each
// disconnect triggers a reconnect with exponential backoff; the delay
// resets after a session that stayed up past the first backoff step.
func (f *MarketFeed) Run(ctx context.Context) error {
	if len(f.tokenIDs) == 0 {
		f.logger.Info("no tokens to subscribe, feed idle")
		<-ctx.Done()
		return ctx.Err()
	}

	delay := reconnectDelay
	for {
		started := time.Now()
		err := f.runSession(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if time.Since(started) > delay {
			delay = reconnectDelay
		}
		f.logger.Warn("market feed disconnected, reconnecting",
			slog.String("error", err.Error()),
			slog.Duration("delay", delay),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

// runSession dials, subscribes, and reads until the connection drops or ctx
// is cancelled.
func (f *MarketFeed) runSession(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, f.wsURL, nil)
	if err != nil {
		return fmt.Errorf("feed: connect: %w", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for _, channel := range []string{"book", "price_change"} {
		cmd := wsCommand{Type: "subscribe", Channel: channel, Assets: f.tokenIDs}
		data, err := json.Marshal(cmd)
		if err != nil {
			return fmt.Errorf("feed: marshal subscribe: %w", err)
		}
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return fmt.Errorf("feed: subscribe %s: %w", channel, err)
		}
	}
	f.logger.Info("market feed subscribed", slog.Int("tokens", len(f.tokenIDs)))

	// Close the connection when ctx ends so ReadMessage unblocks, and keep
	// the peer alive with periodic pings.
	pingDone := make(chan struct{})
	defer close(pingDone)
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				_ = conn.WriteMessage(
					websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				)
				conn.Close()
				return
			case <-pingDone:
				return
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("feed: read: %w", err)
		}
		f.handleMessage(ctx, raw)
	}
}

// handleMessage routes one raw frame by its event_type. Unparseable frames
// are dropped.
func (f *MarketFeed) handleMessage(ctx context.Context, raw []byte) {
	var envelope struct {
		EventType string `json:"event_type"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return
	}

	switch envelope.EventType {
	case "book":
		var msg wsBookMessage
		if err := json.Unmarshal(raw, &msg); err != nil || msg.AssetID == "" {
			return
		}
		f.applyBook(ctx, msg)
	case "price_change":
		var msg wsPriceChange
		if err := json.Unmarshal(raw, &msg); err != nil || msg.AssetID == "" {
			return
		}
		f.applyPriceChange(ctx, msg)
	}
}

func (f *MarketFeed) applyBook(ctx context.Context, msg wsBookMessage) {
	book := parseBook(msg)
	if err := f.books.SetSnapshot(ctx, book.TokenID, book); err != nil {
		f.logger.Debug("set book snapshot failed",
			slog.String("token_id", book.TokenID),
			slog.String("error", err.Error()),
		)
	}

	bid, ask := book.BestBid(), book.BestAsk()
	if bid > 0 && ask > 0 {
		mid := (bid + ask) / 2
		if err := f.prices.SetPrice(ctx, book.TokenID, mid, book.Timestamp); err != nil {
			f.logger.Debug("set price failed",
				slog.String("token_id", book.TokenID),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (f *MarketFeed) applyPriceChange(ctx context.Context, msg wsPriceChange) {
	price, err := strconv.ParseFloat(msg.Price, 64)
	if err != nil || price <= 0 {
		return
	}
	if err := f.prices.SetPrice(ctx, msg.AssetID, price, parseWSTimestamp(msg.Timestamp)); err != nil {
		f.logger.Debug("set price failed",
			slog.String("token_id", msg.AssetID),
			slog.String("error", err.Error()),
		)
	}
}

// parseBook converts a raw book frame to a domain.OrderBook with asks
// sorted best (lowest) first and bids best (highest) first. Levels that do
// not parse are skipped.
func parseBook(msg wsBookMessage) domain.OrderBook {
	book := domain.OrderBook{
		TokenID:   msg.AssetID,
		Timestamp: parseWSTimestamp(msg.Timestamp),
	}
	for _, lvl := range msg.Bids {
		if level, ok := parseLevel(lvl); ok {
			book.Bids = append(book.Bids, level)
		}
	}
	for _, lvl := range msg.Asks {
		if level, ok := parseLevel(lvl); ok {
			book.Asks = append(book.Asks, level)
		}
	}
	sort.Slice(book.Bids, func(i, j int) bool { return book.Bids[i].Price > book.Bids[j].Price })
	sort.Slice(book.Asks, func(i, j int) bool { return book.Asks[i].Price < book.Asks[j].Price })
	return book
}

func parseLevel(lvl wsLevel) (domain.PriceLevel, bool) {
	price, err := strconv.ParseFloat(lvl.Price, 64)
	if err != nil || price <= 0 {
		return domain.PriceLevel{}, false
	}
	size, err := strconv.ParseFloat(lvl.Size, 64)
	if err != nil {
		return domain.PriceLevel{}, false
	}
	return domain.PriceLevel{Price: price, Size: size}, true
}

// parseWSTimestamp handles the feed's millisecond-epoch strings, falling
// back to now.
func parseWSTimestamp(s string) time.Time {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil || ms <= 0 {
		return time.Now()
	}
	return time.UnixMilli(ms)
}
