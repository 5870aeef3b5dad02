// Package exec is the single path orders take to the exchange, for both
// strategies and direct requests. It validates, applies risk caps, counts and
// records each submission. It does not retry.
package exec

import (
	"context"
	"sync"
	"time"

	"poly-trade-bot/internal/clob"
	"poly-trade-bot/internal/config"
	"poly-trade-bot/internal/metrics"
	"poly-trade-bot/internal/timescale"

	"go.uber.org/zap"
)

type Placer interface {
	PlaceOrder(ctx context.Context, req clob.OrderRequest) (clob.Order, error)
}

type Recorder interface {
	EnqueueOrder(event timescale.OrderEvent)
}

// Origin tags an order with who asked for it.
type Origin struct {
	AccountID  string
	StrategyID string
}

type Executor struct {
	mu       sync.RWMutex
	risk     config.RiskConfig
	metrics  *metrics.Metrics
	recorder Recorder
	log      *zap.Logger
	now      func() time.Time
}

func New(risk config.RiskConfig, m *metrics.Metrics, recorder Recorder, log *zap.Logger) *Executor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Executor{
		risk:     risk,
		metrics:  metrics.OrNoop(m),
		recorder: recorder,
		log:      log,
		now:      time.Now,
	}
}

// PlaceOrder submits req through client. IOC is sent as GTC. An order the
// exchange declines is returned with status REJECTED and a nil error.
func (e *Executor) PlaceOrder(ctx context.Context, client Placer, origin Origin, req clob.OrderRequest) (clob.Order, error) {
	if err := Validate(req); err != nil {
		return clob.Order{}, err
	}
	if err := CheckRisk(e.Risk(), req); err != nil {
		return clob.Order{}, err
	}
	req.OrderType = req.OrderType.Submittable()
	fields := []zap.Field{
		zap.String("account_id", origin.AccountID),
		zap.String("token_id", req.TokenID),
		zap.String("side", string(req.Side)),
		zap.Float64("price", req.Price),
		zap.Float64("size", req.Size),
		zap.String("order_type", string(req.OrderType)),
	}
	if origin.StrategyID != "" {
		fields = append(fields, zap.String("strategy_id", origin.StrategyID))
	}

	order, err := client.PlaceOrder(ctx, req)
	if err != nil {
		e.metrics.OrdersFailed.Inc()
		e.log.Warn("order submission failed", append(fields, zap.Error(err))...)
		e.record(origin, req, clob.Order{Status: clob.StatusRejected, ErrorMsg: err.Error()})
		return clob.Order{}, err
	}
	order.AccountID = origin.AccountID
	if order.Status == clob.StatusRejected {
		e.metrics.OrdersRejected.Inc()
		e.log.Warn("order rejected", append(fields, zap.String("reason", order.ErrorMsg))...)
	} else {
		e.metrics.OrdersPlaced.Inc()
		e.log.Info("order placed", append(fields, zap.String("order_id", order.ID), zap.String("status", string(order.Status)))...)
	}
	e.record(origin, req, order)
	return order, nil
}

func (e *Executor) Risk() config.RiskConfig {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.risk
}

// SetRisk replaces the caps applied to subsequent orders.
func (e *Executor) SetRisk(risk config.RiskConfig) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.risk = risk
}

// Bind returns a Placer that routes through e with a fixed origin.
func (e *Executor) Bind(client Placer, origin Origin) Placer {
	return bound{exec: e, client: client, origin: origin}
}

type bound struct {
	exec   *Executor
	client Placer
	origin Origin
}

func (b bound) PlaceOrder(ctx context.Context, req clob.OrderRequest) (clob.Order, error) {
	return b.exec.PlaceOrder(ctx, b.client, b.origin, req)
}

func (e *Executor) record(origin Origin, req clob.OrderRequest, order clob.Order) {
	if e.recorder == nil {
		return
	}
	e.recorder.EnqueueOrder(timescale.OrderEvent{
		Time:       e.now().UTC(),
		AccountID:  origin.AccountID,
		StrategyID: origin.StrategyID,
		OrderID:    order.ID,
		TokenID:    req.TokenID,
		Side:       string(req.Side),
		Price:      req.Price,
		Size:       req.Size,
		OrderType:  string(req.OrderType),
		Status:     string(order.Status),
		Error:      order.ErrorMsg,
	})
}
