package polymarket

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/big"
	"net/http"
	"time"

	"github.com/polyarb/polyarb/internal/domain"
	"github.com/polyarb/polyarb/internal/exchange"
)

const (
	// usdcScale converts share and collateral quantities to the venue's
	// 6-decimal fixed point representation.
	usdcScale = 1e6

	zeroAddress = "0x0000000000000000000000000000000000000000"
)

// Client talks to the Polymarket CLOB (orders, books) and Gamma (market
// metadata) APIs. It implements the exchange capability surface the engine
// executes against.
type Client struct {
	clobURL    string
	gammaURL   string
	httpClient *http.Client
	signer     *Signer
	creds      *APICreds
}

var _ exchange.Client = (*Client)(nil)

// NewClient creates a Client. creds may be nil; call DeriveAPIKey to obtain
// them through the signed auth flow before placing orders.
func NewClient(clobURL, gammaURL string, signer *Signer, creds *APICreds) *Client {
	return &Client{
		clobURL:  clobURL,
		gammaURL: gammaURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		signer: signer,
		creds:  creds,
	}
}

// DeriveAPIKey performs the L1 auth flow: sign a ClobAuth message with the
// wallet key and exchange it for HMAC credentials at the derive-api-key
// endpoint. On success the credentials are installed on the client.
func (c *Client) DeriveAPIKey(ctx context.Context) error {
	address := c.signer.Address().Hex()
	timestamp := time.Now().Unix()
	nonce := int64(0)

	sig, err := c.signer.SignAuthMessage(address, timestamp, nonce)
	if err != nil {
		return fmt.Errorf("polymarket: sign auth message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.clobURL+"/auth/derive-api-key", nil)
	if err != nil {
		return fmt.Errorf("polymarket: create auth request: %w", err)
	}
	req.Header.Set("POLY_ADDRESS", address)
	req.Header.Set("POLY_SIGNATURE", sig)
	req.Header.Set("POLY_TIMESTAMP", fmt.Sprintf("%d", timestamp))
	req.Header.Set("POLY_NONCE", fmt.Sprintf("%d", nonce))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("polymarket: auth request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("polymarket: read auth response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("polymarket: auth failed (HTTP %d): %s", resp.StatusCode, string(body))
	}

	var authResp struct {
		APIKey     string `json:"apiKey"`
		Secret     string `json:"secret"`
		Passphrase string `json:"passphrase"`
	}
	if err := json.Unmarshal(body, &authResp); err != nil {
		return fmt.Errorf("polymarket: decode auth response: %w", err)
	}

	c.creds = &APICreds{
		Key:        authResp.APIKey,
		Secret:     authResp.Secret,
		Passphrase: authResp.Passphrase,
	}
	return nil
}

// PlaceOrder signs and submits a limit order and returns the venue's order
// ID. size is in shares and price in probability (0..1); both are scaled
// to the venue's 6-decimal fixed point.
func (c *Client) PlaceOrder(ctx context.Context, tokenID string, side domain.Side, size, price float64) (string, error) {
	payload, err := c.buildOrderPayload(tokenID, side, size, price)
	if err != nil {
		return "", fmt.Errorf("polymarket: build order: %w", err)
	}
	sig, err := c.signer.SignOrder(payload)
	if err != nil {
		return "", fmt.Errorf("polymarket: sign order: %w", err)
	}

	address := c.signer.Address().Hex()
	body := map[string]any{
		"order": map[string]any{
			"salt":          payload.Salt,
			"tokenID":       payload.TokenID,
			"makerAmount":   payload.MakerAmount,
			"takerAmount":   payload.TakerAmount,
			"side":          sideString(side),
			"feeRateBps":    payload.FeeRateBps,
			"nonce":         payload.Nonce,
			"expiration":    payload.Expiration,
			"signatureType": payload.SignatureType,
			"signature":     sig,
			"maker":         address,
			"signer":        address,
			"taker":         zeroAddress,
		},
		"owner":     address,
		"orderType": "GTC",
	}

	respBody, err := c.doClobRequest(ctx, http.MethodPost, "/order", body)
	if err != nil {
		return "", fmt.Errorf("polymarket: post order: %w", err)
	}

	var result apiOrderResult
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("polymarket: decode order result: %w", err)
	}
	if !result.Success {
		return "", fmt.Errorf("polymarket: order rejected: %s", result.ErrorMsg)
	}
	return result.OrderID, nil
}

// CancelOrder cancels a single open order.
func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	body := map[string]any{"orderID": orderID}

	respBody, err := c.doClobRequest(ctx, http.MethodDelete, "/order", body)
	if err != nil {
		return fmt.Errorf("polymarket: cancel order %s: %w", orderID, err)
	}

	var result struct {
		Success  bool   `json:"success"`
		ErrorMsg string `json:"errorMsg"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return fmt.Errorf("polymarket: decode cancel response: %w", err)
	}
	if !result.Success {
		return fmt.Errorf("polymarket: cancel failed: %s", result.ErrorMsg)
	}
	return nil
}

// CancelAll cancels every open order for the authenticated wallet.
func (c *Client) CancelAll(ctx context.Context) error {
	respBody, err := c.doClobRequest(ctx, http.MethodDelete, "/cancel-all", nil)
	if err != nil {
		return fmt.Errorf("polymarket: cancel all: %w", err)
	}

	var result struct {
		Success  bool   `json:"success"`
		ErrorMsg string `json:"errorMsg"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return fmt.Errorf("polymarket: decode cancel-all response: %w", err)
	}
	if !result.Success {
		return fmt.Errorf("polymarket: cancel-all failed: %s", result.ErrorMsg)
	}
	return nil
}

// GetOrderStatus returns the live fill state of one order.
func (c *Client) GetOrderStatus(ctx context.Context, orderID string) (exchange.OrderState, error) {
	respBody, err := c.doClobRequest(ctx, http.MethodGet, "/order/"+orderID, nil)
	if err != nil {
		return exchange.OrderState{}, fmt.Errorf("polymarket: get order %s: %w", orderID, err)
	}

	var order apiOrder
	if err := json.Unmarshal(respBody, &order); err != nil {
		return exchange.OrderState{}, fmt.Errorf("polymarket: decode order: %w", err)
	}
	return order.toOrderState(), nil
}

// GetOrderBook returns the current book for one token.
func (c *Client) GetOrderBook(ctx context.Context, tokenID string) (domain.OrderBook, error) {
	respBody, err := c.doClobRequest(ctx, http.MethodGet, "/book?token_id="+tokenID, nil)
	if err != nil {
		return domain.OrderBook{}, fmt.Errorf("%w: token %s: %v", domain.ErrBookUnavailable, tokenID, err)
	}

	var book apiBook
	if err := json.Unmarshal(respBody, &book); err != nil {
		return domain.OrderBook{}, fmt.Errorf("polymarket: decode book: %w", err)
	}
	return book.toOrderBook(tokenID), nil
}

// buildOrderPayload converts share size and probability price into the
// venue's maker/taker amounts. Buying spends collateral (maker) for shares
// (taker); selling is the inverse.
func (c *Client) buildOrderPayload(tokenID string, side domain.Side, size, price float64) (OrderPayload, error) {
	if size <= 0 || price <= 0 || price >= 1 {
		return OrderPayload{}, fmt.Errorf("invalid size %v price %v", size, price)
	}

	shares := int64(math.Round(size * usdcScale))
	collateral := int64(math.Round(size * price * usdcScale))

	var makerAmount, takerAmount int64
	var sideCode int
	if side == domain.SideBuy {
		makerAmount, takerAmount = collateral, shares
		sideCode = 0
	} else {
		makerAmount, takerAmount = shares, collateral
		sideCode = 1
	}

	salt, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 64))
	if err != nil {
		return OrderPayload{}, fmt.Errorf("generating salt: %w", err)
	}

	address := c.signer.Address().Hex()
	return OrderPayload{
		Salt:          salt.String(),
		Maker:         address,
		Signer:        address,
		Taker:         zeroAddress,
		TokenID:       tokenID,
		MakerAmount:   fmt.Sprintf("%d", makerAmount),
		TakerAmount:   fmt.Sprintf("%d", takerAmount),
		Expiration:    "0",
		Nonce:         "0",
		FeeRateBps:    "0",
		Side:          sideCode,
		SignatureType: 0,
	}, nil
}

func sideString(side domain.Side) string {
	if side == domain.SideSell {
		return "SELL"
	}
	return "BUY"
}

// doClobRequest builds, HMAC-signs, and sends a CLOB request, returning
// the raw response body.
func (c *Client) doClobRequest(ctx context.Context, method, path string, body any) ([]byte, error) {
	var bodyReader io.Reader
	var bodyStr string

	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyStr = string(jsonBody)
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.clobURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if c.creds != nil {
		headers := c.creds.L2Headers(c.signer.Address().Hex(), method, path, bodyStr)
		for k, v := range headers {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if err := checkHTTPStatus(resp.StatusCode, respBody); err != nil {
		return nil, err
	}
	return respBody, nil
}

// checkHTTPStatus maps non-2xx status codes to domain errors.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}
	bodyStr := string(body)
	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, bodyStr)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, bodyStr)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, bodyStr)
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, bodyStr)
	}
}
