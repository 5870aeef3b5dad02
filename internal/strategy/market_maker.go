package strategy

import (
	"context"
	"fmt"
	"math"
	"strings"

	"poly-trade-bot/internal/clob"
	"poly-trade-bot/internal/errs"

	"go.uber.org/zap"
)

const TypeMarketMaker = "market-maker"

type MarketMakerConfig struct {
	TokenID string  `json:"tokenId"`
	Spread  float64 `json:"spread"`
	Size    float64 `json:"size"`
	NegRisk bool    `json:"negRisk,omitempty"`
}

// MarketMaker quotes both sides around the book mid every tick. It keeps no
// inventory and never cancels earlier quotes.
type MarketMaker struct {
	sc        Context
	cfg       MarketMakerConfig
	decodeErr error
}

func NewMarketMaker(sc Context) Strategy {
	m := &MarketMaker{sc: sc}
	m.decodeErr = decodeConfig(sc.Config, &m.cfg)
	return m
}

func (m *MarketMaker) Config() MarketMakerConfig {
	return m.cfg
}

func (m *MarketMaker) Validate() error {
	if m.decodeErr != nil {
		return errs.Config("market-maker config: %v", m.decodeErr)
	}
	if strings.TrimSpace(m.cfg.TokenID) == "" {
		return errs.Config("market-maker: tokenId is required")
	}
	if !(m.cfg.Spread > 0 && m.cfg.Spread < 1) {
		return errs.Config("market-maker: spread must be in (0,1), got %v", m.cfg.Spread)
	}
	if !(m.cfg.Size > 0) {
		return errs.Config("market-maker: size must be > 0, got %v", m.cfg.Size)
	}
	return nil
}

func (m *MarketMaker) Describe() string {
	return fmt.Sprintf("market maker on %s, spread %.2f%%, size %v", m.cfg.TokenID, m.cfg.Spread*100, m.cfg.Size)
}

// Quotes returns the bid and ask this strategy would post around mid.
func (m *MarketMaker) Quotes(mid float64) (buy, sell float64) {
	return roundPrice(mid * (1 - m.cfg.Spread/2)), roundPrice(mid * (1 + m.cfg.Spread/2))
}

func (m *MarketMaker) Execute(ctx context.Context) Result {
	if err := m.Validate(); err != nil {
		return failure("invalid configuration", err, nil)
	}
	book, err := m.sc.Trader.OrderBook(ctx, m.cfg.TokenID)
	if err != nil {
		return failure("order book unavailable", err, nil)
	}
	bid, hasBid := book.BestBid()
	ask, hasAsk := book.BestAsk()
	if !hasBid || !hasAsk {
		return failure("order book is one-sided", errs.Validation("no two-sided market for %s", m.cfg.TokenID), nil)
	}
	mid := (bid + ask) / 2
	buyPrice, sellPrice := m.Quotes(mid)

	orders := make([]clob.Order, 0, 2)
	for _, leg := range []struct {
		side  clob.Side
		price float64
	}{
		{clob.SideBuy, buyPrice},
		{clob.SideSell, sellPrice},
	} {
		order, err := m.sc.Trader.PlaceOrder(ctx, clob.OrderRequest{
			TokenID:   m.cfg.TokenID,
			Side:      leg.side,
			Price:     leg.price,
			Size:      m.cfg.Size,
			OrderType: clob.OrderTypeGTC,
			NegRisk:   m.cfg.NegRisk,
		})
		if err != nil {
			return failure(fmt.Sprintf("%s quote failed", strings.ToLower(string(leg.side))), err, orders)
		}
		orders = append(orders, order)
	}
	m.sc.logger().Info("market maker quoted",
		zap.String("strategy_id", m.sc.StrategyID),
		zap.String("token_id", m.cfg.TokenID),
		zap.Float64("mid", mid),
		zap.Float64("buy_price", buyPrice),
		zap.Float64("sell_price", sellPrice),
	)
	return success(orders, "market making orders submitted")
}

// roundPrice trims float noise; the exchange client rounds to tick size.
func roundPrice(p float64) float64 {
	return math.Round(p*1e6) / 1e6
}
