package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/polyarb/polyarb/internal/domain"
	"github.com/polyarb/polyarb/internal/exchange"
)

var _ exchange.MarketLister = (*Client)(nil)

// GetMarket resolves one market's metadata, including the two outcome
// token IDs the executor places legs against.
func (c *Client) GetMarket(ctx context.Context, marketID string) (domain.Market, error) {
	body, err := c.doGammaGet(ctx, "/markets/"+url.PathEscape(marketID))
	if err != nil {
		return domain.Market{}, fmt.Errorf("%w: market %s: %v", domain.ErrMarketLookup, marketID, err)
	}

	var m apiMarket
	if err := json.Unmarshal(body, &m); err != nil {
		return domain.Market{}, fmt.Errorf("polymarket: decode market: %w", err)
	}

	market := m.toMarket()
	if market.TokenIDs[0] == "" || market.TokenIDs[1] == "" {
		return domain.Market{}, fmt.Errorf("%w: market %s has no token pair", domain.ErrMarketLookup, marketID)
	}
	return market, nil
}

// ListMarkets returns a page of markets with their current outcome prices.
// The scanner feeds on this to find candidate opportunities.
func (c *Client) ListMarkets(ctx context.Context, limit, offset int) ([]exchange.MarketQuote, error) {
	params := url.Values{}
	params.Set("limit", strconv.Itoa(limit))
	params.Set("offset", strconv.Itoa(offset))
	params.Set("active", "true")
	params.Set("closed", "false")

	body, err := c.doGammaGet(ctx, "/markets?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("polymarket: list markets: %w", err)
	}

	var apiMarkets []apiMarket
	if err := json.Unmarshal(body, &apiMarkets); err != nil {
		return nil, fmt.Errorf("polymarket: decode markets: %w", err)
	}

	quotes := make([]exchange.MarketQuote, 0, len(apiMarkets))
	for i := range apiMarkets {
		m := &apiMarkets[i]
		q := exchange.MarketQuote{Market: m.toMarket()}
		q.PriceA, q.PriceB, q.HasPrices = m.outcomePrices()
		quotes = append(quotes, q)
	}
	return quotes, nil
}

// doGammaGet sends an unauthenticated GET to the Gamma API.
func (c *Client) doGammaGet(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.gammaURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if err := checkHTTPStatus(resp.StatusCode, body); err != nil {
		return nil, err
	}
	return body, nil
}
