package strategy

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"poly-trade-bot/internal/clob"
	"poly-trade-bot/internal/errs"

	"go.uber.org/zap"
)

const (
	TypeMomentum = "momentum"

	maxMomentumSamples = 4096
)

type MomentumConfig struct {
	TokenID string `json:"tokenId"`
	// LookbackPeriod is in minutes.
	LookbackPeriod    float64 `json:"lookbackPeriod"`
	MomentumThreshold float64 `json:"momentumThreshold"`
	Size              float64 `json:"size"`
	NegRisk           bool    `json:"negRisk,omitempty"`
}

// Momentum buys into rising prices and sells into falling ones once the
// relative move across the lookback window reaches the threshold.
type Momentum struct {
	sc        Context
	cfg       MomentumConfig
	decodeErr error

	mu      sync.Mutex
	history []clob.PriceData
}

func NewMomentum(sc Context) Strategy {
	m := &Momentum{sc: sc}
	m.decodeErr = decodeConfig(sc.Config, &m.cfg)
	return m
}

func (m *Momentum) Config() MomentumConfig {
	return m.cfg
}

func (m *Momentum) Validate() error {
	if m.decodeErr != nil {
		return errs.Config("momentum config: %v", m.decodeErr)
	}
	if strings.TrimSpace(m.cfg.TokenID) == "" {
		return errs.Config("momentum: tokenId is required")
	}
	if !(m.cfg.LookbackPeriod > 0) {
		return errs.Config("momentum: lookbackPeriod must be > 0, got %v", m.cfg.LookbackPeriod)
	}
	if !(m.cfg.MomentumThreshold > 0) {
		return errs.Config("momentum: momentumThreshold must be > 0, got %v", m.cfg.MomentumThreshold)
	}
	if !(m.cfg.Size > 0) {
		return errs.Config("momentum: size must be > 0, got %v", m.cfg.Size)
	}
	return nil
}

func (m *Momentum) Describe() string {
	return fmt.Sprintf("momentum on %s, threshold %.2f%% over %v min, size %v",
		m.cfg.TokenID, m.cfg.MomentumThreshold*100, m.cfg.LookbackPeriod, m.cfg.Size)
}

// Observe appends sample and drops samples older than the lookback window.
func (m *Momentum) Observe(sample clob.PriceData) {
	now := m.sc.now()
	if sample.Timestamp.IsZero() {
		sample.Timestamp = now
	}
	cutoff := now.Add(-time.Duration(m.cfg.LookbackPeriod * float64(time.Minute)))
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = append(m.history, sample)
	kept := m.history[:0]
	for _, p := range m.history {
		if p.Timestamp.After(cutoff) {
			kept = append(kept, p)
		}
	}
	if len(kept) > maxMomentumSamples {
		kept = kept[len(kept)-maxMomentumSamples:]
	}
	m.history = kept
}

// Momentum is (newest-oldest)/oldest over the retained window, or 0 with
// fewer than two samples.
func (m *Momentum) Momentum() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.history) < 2 {
		return 0
	}
	oldest := m.history[0].Price
	newest := m.history[len(m.history)-1].Price
	if oldest == 0 {
		return 0
	}
	return (newest - oldest) / oldest
}

func (m *Momentum) Execute(ctx context.Context) Result {
	if err := m.Validate(); err != nil {
		return failure("invalid configuration", err, nil)
	}
	sample, err := m.sc.Trader.PriceData(ctx, m.cfg.TokenID)
	if err != nil {
		return failure("price unavailable", err, nil)
	}
	m.Observe(sample)
	momentum := m.Momentum()
	if math.Abs(momentum) < m.cfg.MomentumThreshold {
		return success(nil, "insufficient momentum")
	}
	side := clob.SideSell
	if momentum > 0 {
		side = clob.SideBuy
	}
	order, err := m.sc.Trader.PlaceOrder(ctx, clob.OrderRequest{
		TokenID:   m.cfg.TokenID,
		Side:      side,
		Price:     sample.Price,
		Size:      m.cfg.Size,
		OrderType: clob.OrderTypeGTC,
		NegRisk:   m.cfg.NegRisk,
	})
	if err != nil {
		return failure("momentum order failed", err, nil)
	}
	m.sc.logger().Info("momentum order submitted",
		zap.String("strategy_id", m.sc.StrategyID),
		zap.String("token_id", m.cfg.TokenID),
		zap.String("side", string(side)),
		zap.Float64("price", sample.Price),
		zap.Float64("momentum", momentum),
	)
	return success([]clob.Order{order}, fmt.Sprintf("momentum %s order submitted", strings.ToLower(string(side))))
}
