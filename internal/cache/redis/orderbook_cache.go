package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/polyarb/polyarb/internal/domain"
)

// bookTTL expires snapshots the feed stopped refreshing.
const bookTTL = 5 * time.Minute

// OrderbookCache implements domain.OrderbookCache on Redis.
//
// Key schema:
//
//	polyarb:book:{tokenID}      - JSON-encoded full snapshot
//	polyarb:book:{tokenID}:bbo  - hash with fields "bid" and "ask"
//
// The BBO hash is maintained alongside the snapshot so scanner-side best
// bid/offer reads never deserialize whole books.
type OrderbookCache struct {
	rdb *redis.Client
}

// NewOrderbookCache creates an OrderbookCache backed by the given Client.
func NewOrderbookCache(c *Client) *OrderbookCache {
	return &OrderbookCache{rdb: c.Underlying()}
}

var _ domain.OrderbookCache = (*OrderbookCache)(nil)

func bookKey(tokenID string) string {
	return "polyarb:book:" + tokenID
}

func bookBBOKey(tokenID string) string {
	return "polyarb:book:" + tokenID + ":bbo"
}

// SetSnapshot stores a full book snapshot and refreshes the BBO hash.
func (oc *OrderbookCache) SetSnapshot(ctx context.Context, tokenID string, book domain.OrderBook) error {
	payload, err := json.Marshal(book)
	if err != nil {
		return fmt.Errorf("redis: marshal book %s: %w", tokenID, err)
	}

	pipe := oc.rdb.Pipeline()
	pipe.Set(ctx, bookKey(tokenID), payload, bookTTL)

	bboKey := bookBBOKey(tokenID)
	pipe.Del(ctx, bboKey)
	fields := map[string]interface{}{}
	if bid := book.BestBid(); bid > 0 {
		fields["bid"] = strconv.FormatFloat(bid, 'f', -1, 64)
	}
	if ask := book.BestAsk(); ask > 0 {
		fields["ask"] = strconv.FormatFloat(ask, 'f', -1, 64)
	}
	if len(fields) > 0 {
		pipe.HSet(ctx, bboKey, fields)
		pipe.Expire(ctx, bboKey, bookTTL)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set book snapshot %s: %w", tokenID, err)
	}
	return nil
}

// GetSnapshot returns the cached book for a token, or domain.ErrNotFound.
func (oc *OrderbookCache) GetSnapshot(ctx context.Context, tokenID string) (domain.OrderBook, error) {
	payload, err := oc.rdb.Get(ctx, bookKey(tokenID)).Bytes()
	if err == redis.Nil {
		return domain.OrderBook{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.OrderBook{}, fmt.Errorf("redis: get book snapshot %s: %w", tokenID, err)
	}

	var book domain.OrderBook
	if err := json.Unmarshal(payload, &book); err != nil {
		return domain.OrderBook{}, fmt.Errorf("redis: decode book snapshot %s: %w", tokenID, err)
	}
	return book, nil
}

// GetBBO returns the best bid and ask without loading the full book. It
// returns domain.ErrNotFound when nothing is cached.
func (oc *OrderbookCache) GetBBO(ctx context.Context, tokenID string) (bestBid, bestAsk float64, err error) {
	vals, err := oc.rdb.HGetAll(ctx, bookBBOKey(tokenID)).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("redis: get bbo %s: %w", tokenID, err)
	}
	if len(vals) == 0 {
		return 0, 0, domain.ErrNotFound
	}
	if bidStr, ok := vals["bid"]; ok {
		bestBid, _ = strconv.ParseFloat(bidStr, 64)
	}
	if askStr, ok := vals["ask"]; ok {
		bestAsk, _ = strconv.ParseFloat(askStr, 64)
	}
	return bestBid, bestAsk, nil
}
