// Package market fetches ticker prices from the external market-data API.
// It is only consulted when an execution request for a price-based order
// arrives without a current price.
package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
)

const defaultBaseURL = "https://api.bybit.com"

var ErrNoTicker = errors.New("no ticker data for symbol")

// Client is a thin wrapper over the tickers endpoint.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type tickersResponse struct {
	Result struct {
		List []struct {
			Symbol    string `json:"symbol"`
			LastPrice string `json:"lastPrice"`
		} `json:"list"`
	} `json:"result"`
}

// LastPrice returns the latest traded price for a linear contract symbol.
func (c *Client) LastPrice(ctx context.Context, symbol string) (float64, error) {
	endpoint := fmt.Sprintf("%s/v5/market/tickers?category=linear&symbol=%s",
		c.baseURL, url.QueryEscape(symbol))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("ticker request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("ticker request returned status %d", resp.StatusCode)
	}

	var body tickersResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, fmt.Errorf("failed to decode ticker response: %w", err)
	}

	if len(body.Result.List) == 0 {
		return 0, ErrNoTicker
	}

	price, err := strconv.ParseFloat(body.Result.List[0].LastPrice, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid last price %q: %w", body.Result.List[0].LastPrice, err)
	}

	log.Debug().
		Str("symbol", symbol).
		Float64("last_price", price).
		Msg("fetched fallback ticker price")

	return price, nil
}
