// Package clobtest provides an in-memory exchange client for tests.
package clobtest

import (
	"context"
	"strconv"
	"sync"
	"time"

	"poly-trade-bot/internal/clob"
	"poly-trade-bot/internal/errs"
)

// Client is a scripted exchange client. Books and prices are set per token;
// placed orders are recorded and returned as PENDING unless Reject is set.
type Client struct {
	mu sync.Mutex

	Addr    string
	InitErr error
	Reject  string
	// Delay blocks PlaceOrder until the context ends or the delay passes.
	Delay time.Duration

	books    map[string]clob.OrderBook
	prices   map[string][]clob.PriceData
	placed   []clob.OrderRequest
	canceled []string
	failWith error
	seq      int
}

func New() *Client {
	return &Client{
		Addr:   "0x0000000000000000000000000000000000000001",
		books:  make(map[string]clob.OrderBook),
		prices: make(map[string][]clob.PriceData),
	}
}

func (c *Client) SetBook(tokenID string, book clob.OrderBook) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.books[tokenID] = book
}

// QueuePrices scripts PriceData answers for tokenID. The last one repeats.
func (c *Client) QueuePrices(tokenID string, prices ...clob.PriceData) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prices[tokenID] = append(c.prices[tokenID], prices...)
}

// FailWith makes every exchange call return err.
func (c *Client) FailWith(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failWith = err
}

func (c *Client) Placed() []clob.OrderRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]clob.OrderRequest(nil), c.placed...)
}

func (c *Client) Canceled() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.canceled...)
}

func (c *Client) Err() error {
	return c.InitErr
}

func (c *Client) Address() string {
	return c.Addr
}

func (c *Client) fail() error {
	if c.InitErr != nil {
		return c.InitErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failWith
}

func (c *Client) Markets(ctx context.Context, cursor string) ([]clob.Market, string, error) {
	if err := c.fail(); err != nil {
		return nil, "", err
	}
	return []clob.Market{{ID: "0xmarket", Question: "fake", Active: true}}, "", nil
}

func (c *Client) Market(ctx context.Context, id string) (clob.Market, error) {
	if err := c.fail(); err != nil {
		return clob.Market{}, err
	}
	return clob.Market{ID: id, Question: "fake", Active: true}, nil
}

func (c *Client) OrderBook(ctx context.Context, tokenID string) (clob.OrderBook, error) {
	if err := c.fail(); err != nil {
		return clob.OrderBook{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	book, ok := c.books[tokenID]
	if !ok {
		return clob.OrderBook{TokenID: tokenID}, nil
	}
	return book, nil
}

func (c *Client) PriceData(ctx context.Context, tokenID string) (clob.PriceData, error) {
	if err := c.fail(); err != nil {
		return clob.PriceData{}, err
	}
	c.mu.Lock()
	queue := c.prices[tokenID]
	if len(queue) > 0 {
		next := queue[0]
		if len(queue) > 1 {
			c.prices[tokenID] = queue[1:]
		}
		c.mu.Unlock()
		if next.TokenID == "" {
			next.TokenID = tokenID
		}
		if next.Timestamp.IsZero() {
			next.Timestamp = time.Now().UTC()
		}
		return next, nil
	}
	book := c.books[tokenID]
	c.mu.Unlock()
	return clob.PriceFromBook(tokenID, book, time.Now().UTC()), nil
}

func (c *Client) PlaceOrder(ctx context.Context, req clob.OrderRequest) (clob.Order, error) {
	if err := c.fail(); err != nil {
		return clob.Order{}, err
	}
	if c.Delay > 0 {
		select {
		case <-time.After(c.Delay):
		case <-ctx.Done():
			return clob.Order{}, ctx.Err()
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.placed = append(c.placed, req)
	c.seq++
	order := clob.Order{
		ID:        "0xfake" + strconv.Itoa(c.seq),
		TokenID:   req.TokenID,
		Side:      req.Side,
		Price:     req.Price,
		Size:      req.Size,
		OrderType: req.OrderType.Submittable(),
		Status:    clob.StatusPending,
		CreatedAt: time.Now().UTC(),
	}
	if c.Reject != "" {
		order.Status = clob.StatusRejected
		order.ErrorMsg = c.Reject
	}
	return order, nil
}

func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	if err := c.fail(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.canceled = append(c.canceled, orderID)
	return nil
}

func (c *Client) OpenOrders(ctx context.Context) ([]clob.Order, error) {
	if err := c.fail(); err != nil {
		return nil, err
	}
	return []clob.Order{}, nil
}

func (c *Client) Order(ctx context.Context, orderID string) (clob.Order, error) {
	if err := c.fail(); err != nil {
		return clob.Order{}, err
	}
	return clob.Order{}, errs.NotFound("order %s not found", orderID)
}

func (c *Client) Balance(ctx context.Context) (clob.Balance, error) {
	if err := c.fail(); err != nil {
		return clob.Balance{}, err
	}
	return clob.Balance{Available: 100}, nil
}

func (c *Client) Trades(ctx context.Context, filter clob.TradeFilter) ([]clob.Trade, error) {
	if err := c.fail(); err != nil {
		return nil, err
	}
	return []clob.Trade{}, nil
}
