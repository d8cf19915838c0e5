package polymarket

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/polyarb/polyarb/internal/domain"
	"github.com/polyarb/polyarb/internal/exchange"
)

// flexBool unmarshals from JSON bool or string ("true"/"false"); the Gamma
// API sends "active" in both shapes depending on endpoint.
type flexBool bool

func (f *flexBool) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*f = flexBool(b)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*f = flexBool(strings.EqualFold(s, "true") || s == "1")
	return nil
}

// apiOrder is an order as returned by the CLOB API.
type apiOrder struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	AssetID      string `json:"asset_id"`
	Side         string `json:"side"`
	OriginalSize string `json:"original_size"`
	SizeMatched  string `json:"size_matched"`
	Price        string `json:"price"`
	CreatedAt    string `json:"created_at"`
}

// toOrderState maps a CLOB order onto the live fill state the engine
// monitors. RemainingSize is derived; the API reports only the original
// and matched sizes.
func (a *apiOrder) toOrderState() exchange.OrderState {
	orig, _ := strconv.ParseFloat(a.OriginalSize, 64)
	matched, _ := strconv.ParseFloat(a.SizeMatched, 64)
	price, _ := strconv.ParseFloat(a.Price, 64)
	remaining := orig - matched
	if remaining < 0 {
		remaining = 0
	}
	return exchange.OrderState{
		Status:        a.Status,
		FilledSize:    matched,
		RemainingSize: remaining,
		Price:         price,
	}
}

// apiOrderResult is the response from placing an order.
type apiOrderResult struct {
	Success     bool   `json:"success"`
	ErrorMsg    string `json:"errorMsg,omitempty"`
	OrderID     string `json:"orderID,omitempty"`
	Status      string `json:"status,omitempty"`
	ShouldRetry bool   `json:"shouldRetry,omitempty"`
}

// apiBookLevel is a single price level in the CLOB book response.
type apiBookLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// apiBook is the CLOB /book response.
type apiBook struct {
	AssetID   string         `json:"asset_id"`
	Bids      []apiBookLevel `json:"bids"`
	Asks      []apiBookLevel `json:"asks"`
	Timestamp string         `json:"timestamp"`
}

func (b *apiBook) toOrderBook(tokenID string) domain.OrderBook {
	book := domain.OrderBook{TokenID: tokenID}
	for _, lvl := range b.Bids {
		p, _ := strconv.ParseFloat(lvl.Price, 64)
		s, _ := strconv.ParseFloat(lvl.Size, 64)
		book.Bids = append(book.Bids, domain.PriceLevel{Price: p, Size: s})
	}
	for _, lvl := range b.Asks {
		p, _ := strconv.ParseFloat(lvl.Price, 64)
		s, _ := strconv.ParseFloat(lvl.Size, 64)
		book.Asks = append(book.Asks, domain.PriceLevel{Price: p, Size: s})
	}
	if ts, err := strconv.ParseInt(b.Timestamp, 10, 64); err == nil {
		book.Timestamp = time.UnixMilli(ts)
	} else {
		book.Timestamp = time.Now().UTC()
	}
	return book
}

// apiToken is a token entry inside a Gamma market response.
type apiToken struct {
	TokenID string `json:"token_id"`
	Outcome string `json:"outcome"`
	Winner  bool   `json:"winner"`
}

// apiMarket is a market as returned by the Gamma API.
type apiMarket struct {
	ID            string     `json:"id"`
	Question      string     `json:"question"`
	Slug          string     `json:"slug"`
	Active        flexBool   `json:"active"`
	Closed        bool       `json:"closed"`
	Outcomes      string     `json:"outcomes"`       // JSON-encoded, e.g. "[\"Yes\",\"No\"]"
	OutcomePrices string     `json:"outcomePrices"`  // JSON-encoded, e.g. "[\"0.5\",\"0.5\"]"
	ClobTokenIDs  string     `json:"clobTokenIds"`   // JSON-encoded, e.g. "[\"123\",\"456\"]"
	Tokens        []apiToken `json:"tokens"`
	Volume        string     `json:"volume"`
	EndDateISO    string     `json:"end_date_iso"`
}

// toMarket converts a Gamma market to the domain type. Token IDs come from
// the tokens array when present and the JSON-encoded clobTokenIds field
// otherwise.
func (m *apiMarket) toMarket() domain.Market {
	dm := domain.Market{
		ID:       m.ID,
		Question: m.Question,
		Slug:     m.Slug,
		Active:   bool(m.Active),
		Closed:   m.Closed,
		Outcomes: [2]string{"Yes", "No"},
	}

	if v, err := strconv.ParseFloat(m.Volume, 64); err == nil {
		dm.Volume = v
	}

	if m.Outcomes != "" {
		var outcomes []string
		if err := json.Unmarshal([]byte(m.Outcomes), &outcomes); err == nil {
			for i := 0; i < len(outcomes) && i < 2; i++ {
				dm.Outcomes[i] = outcomes[i]
			}
		}
	}

	for i, tok := range m.Tokens {
		if i >= 2 {
			break
		}
		dm.TokenIDs[i] = tok.TokenID
		if tok.Outcome != "" {
			dm.Outcomes[i] = tok.Outcome
		}
	}
	if dm.TokenIDs[0] == "" && m.ClobTokenIDs != "" {
		var ids []string
		if err := json.Unmarshal([]byte(m.ClobTokenIDs), &ids); err == nil {
			for i := 0; i < len(ids) && i < 2; i++ {
				dm.TokenIDs[i] = ids[i]
			}
		}
	}

	return dm
}

// outcomePrices parses the market's current outcome prices, when present.
func (m *apiMarket) outcomePrices() (float64, float64, bool) {
	if m.OutcomePrices == "" {
		return 0, 0, false
	}
	var raw []string
	if err := json.Unmarshal([]byte(m.OutcomePrices), &raw); err != nil || len(raw) < 2 {
		return 0, 0, false
	}
	a, errA := strconv.ParseFloat(raw[0], 64)
	b, errB := strconv.ParseFloat(raw[1], 64)
	if errA != nil || errB != nil {
		return 0, 0, false
	}
	return a, b, true
}
