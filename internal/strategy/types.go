// Package strategy defines the pluggable trading strategies and the registry
// that builds them by type name.
package strategy

import (
	"context"
	"encoding/json"
	"time"

	"poly-trade-bot/internal/clob"

	"go.uber.org/zap"
)

// Trader is what a strategy may do against the exchange.
type Trader interface {
	OrderBook(ctx context.Context, tokenID string) (clob.OrderBook, error)
	PriceData(ctx context.Context, tokenID string) (clob.PriceData, error)
	PlaceOrder(ctx context.Context, req clob.OrderRequest) (clob.Order, error)
}

// Context is fixed when a strategy instance is built.
type Context struct {
	StrategyID string
	AccountID  string
	Trader     Trader
	Config     map[string]any
	Log        *zap.Logger
	Now        func() time.Time
}

func (c Context) logger() *zap.Logger {
	if c.Log == nil {
		return zap.NewNop()
	}
	return c.Log
}

func (c Context) now() time.Time {
	if c.Now == nil {
		return time.Now()
	}
	return c.Now()
}

// Result reports one execution. Execute never panics or returns an error
// directly; failures land in Err with Success false.
type Result struct {
	Success bool         `json:"success"`
	Orders  []clob.Order `json:"orders,omitempty"`
	Message string       `json:"message,omitempty"`
	Err     error        `json:"-"`
}

func (r Result) Error() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

func success(orders []clob.Order, message string) Result {
	return Result{Success: true, Orders: orders, Message: message}
}

func failure(message string, err error, orders []clob.Order) Result {
	return Result{Success: false, Orders: orders, Message: message, Err: err}
}

type Strategy interface {
	// Execute runs one tick.
	Execute(ctx context.Context) Result
	// Validate checks the configuration without touching the network.
	Validate() error
	Describe() string
}

// decodeConfig copies the loosely typed config blob into dst using its json
// tags.
func decodeConfig(raw map[string]any, dst any) error {
	if len(raw) == 0 {
		return nil
	}
	payload, err := json.Marshal(raw)
	if err != nil {
		return err
	}
	return json.Unmarshal(payload, dst)
}
