// Package rest is the unauthenticated read side of the CLOB HTTP API. The
// signing client in package exchange sends its requests through Do.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"poly-trade-bot/internal/clob"
	"poly-trade-bot/internal/errs"

	"go.uber.org/zap"
)

const DefaultBaseURL = "https://clob.polymarket.com"

type Client struct {
	baseURL string
	http    *http.Client
	log     *zap.Logger

	tickMu sync.RWMutex
	ticks  map[string]float64
}

// HTTPError is a non-2xx exchange response.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Body)
}

func New(baseURL string, timeout time.Duration, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL: baseURL,
		http: &http.Client{
			Timeout: timeout,
		},
		log:   log,
		ticks: make(map[string]float64),
	}
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

// Markets returns one page of markets and the cursor of the next page.
func (c *Client) Markets(ctx context.Context, cursor string) ([]clob.Market, string, error) {
	query := url.Values{}
	if cursor != "" {
		query.Set("next_cursor", cursor)
	}
	payload, err := c.Do(ctx, http.MethodGet, "/markets", query, nil, nil)
	if err != nil {
		return nil, "", err
	}
	markets, next := clob.ParseMarkets(payload)
	return markets, next, nil
}

func (c *Client) Market(ctx context.Context, id string) (clob.Market, error) {
	if strings.TrimSpace(id) == "" {
		return clob.Market{}, errs.Validation("market id is required")
	}
	payload, err := c.Do(ctx, http.MethodGet, "/markets/"+url.PathEscape(id), nil, nil, nil)
	if err != nil {
		if IsStatus(err, http.StatusNotFound) {
			return clob.Market{}, errs.NotFound("market %s not found", id)
		}
		return clob.Market{}, err
	}
	m, ok := payload.(map[string]any)
	if !ok {
		return clob.Market{}, errs.NotFound("market %s not found", id)
	}
	market := clob.ParseMarket(m)
	if market.ID == "" {
		return clob.Market{}, errs.NotFound("market %s not found", id)
	}
	return market, nil
}

func (c *Client) OrderBook(ctx context.Context, tokenID string) (clob.OrderBook, error) {
	if strings.TrimSpace(tokenID) == "" {
		return clob.OrderBook{}, errs.Validation("token id is required")
	}
	payload, err := c.Do(ctx, http.MethodGet, "/book", url.Values{"token_id": {tokenID}}, nil, nil)
	if err != nil {
		return clob.OrderBook{}, err
	}
	return clob.ParseOrderBook(tokenID, payload, time.Now().UTC()), nil
}

// TickSize returns the minimum price increment for a token. Values are
// cached for the life of the client.
func (c *Client) TickSize(ctx context.Context, tokenID string) (float64, error) {
	c.tickMu.RLock()
	tick, ok := c.ticks[tokenID]
	c.tickMu.RUnlock()
	if ok {
		return tick, nil
	}
	payload, err := c.Do(ctx, http.MethodGet, "/tick-size", url.Values{"token_id": {tokenID}}, nil, nil)
	if err != nil {
		return 0, err
	}
	m, _ := payload.(map[string]any)
	tick, ok = clob.FloatFromAny(m["minimum_tick_size"])
	if !ok || tick <= 0 {
		return 0, errs.Upstream(fmt.Errorf("tick size missing for token %s", tokenID))
	}
	c.tickMu.Lock()
	c.ticks[tokenID] = tick
	c.tickMu.Unlock()
	return tick, nil
}

// Ping checks reachability and returns the round trip latency. A 404 still
// proves the host answered.
func (c *Client) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if _, err := c.Do(ctx, http.MethodGet, "/time", nil, nil, nil); err != nil && !IsStatus(err, http.StatusNotFound) {
		return 0, err
	}
	return time.Since(start), nil
}

// Do performs a request and decodes the JSON response. Non-2xx responses
// and transport failures come back as upstream errors.
func (c *Client) Do(ctx context.Context, method, path string, query url.Values, body []byte, header http.Header) (any, error) {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, err
	}
	for key, values := range header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errs.Upstream(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		c.log.Debug("clob request failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
		)
		return nil, errs.Upstream(&HTTPError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(payload))})
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errs.Upstream(err)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}
	var data any
	if err := json.Unmarshal(raw, &data); err != nil {
		// Some endpoints answer with a bare string such as "OK".
		return strings.TrimSpace(string(raw)), nil
	}
	return data, nil
}

func IsStatus(err error, status int) bool {
	var httpErr *HTTPError
	return errors.As(err, &httpErr) && httpErr.StatusCode == status
}
