package exec

import (
	"math"
	"strings"

	"poly-trade-bot/internal/clob"
	"poly-trade-bot/internal/config"
	"poly-trade-bot/internal/errs"
)

// Validate rejects malformed order requests before any exchange call.
func Validate(req clob.OrderRequest) error {
	if strings.TrimSpace(req.TokenID) == "" {
		return errs.Validation("tokenId is required")
	}
	if !req.Side.Valid() {
		return errs.Validation("side must be BUY or SELL, got %q", req.Side)
	}
	if math.IsNaN(req.Price) || req.Price <= 0 || req.Price >= 1 {
		return errs.Validation("price must be between 0 and 1, got %v", req.Price)
	}
	if math.IsNaN(req.Size) || req.Size <= 0 {
		return errs.Validation("size must be > 0, got %v", req.Size)
	}
	switch req.OrderType {
	case "", clob.OrderTypeGTC, clob.OrderTypeFOK, clob.OrderTypeGTD, clob.OrderTypeIOC:
	default:
		return errs.Validation("unknown order type %q", req.OrderType)
	}
	return nil
}

// CheckRisk enforces the configured per-order caps. Zero disables a cap.
func CheckRisk(cfg config.RiskConfig, req clob.OrderRequest) error {
	if cfg.MaxOrderSize > 0 && req.Size > cfg.MaxOrderSize {
		return errs.Validation("size %v exceeds max order size %v", req.Size, cfg.MaxOrderSize)
	}
	if notional := req.Size * req.Price; cfg.MaxOrderNotional > 0 && notional > cfg.MaxOrderNotional {
		return errs.Validation("notional %.4f exceeds max order notional %v", notional, cfg.MaxOrderNotional)
	}
	return nil
}
