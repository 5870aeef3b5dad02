package exchange

import (
	"strconv"

	"poly-trade-bot/internal/clob"
	"poly-trade-bot/internal/errs"

	"github.com/shopspring/decimal"
)

const (
	sizeDecimals   = 2
	amountDecimals = 6
)

// orderAmounts converts price and size into the integer maker/taker amounts
// the exchange settles in, both scaled by 10^6. BUY pays collateral for
// shares; SELL is the reverse.
func orderAmounts(side clob.Side, price, size, tick float64) (maker, taker string, err error) {
	if tick <= 0 {
		return "", "", errs.Validation("tick size must be > 0")
	}
	tickDec := decimal.NewFromFloat(tick)
	priceDecimals := tickDecimals(tickDec)
	px := decimal.NewFromFloat(price).Round(priceDecimals)
	if px.LessThan(tickDec) || px.GreaterThan(decimal.NewFromInt(1).Sub(tickDec)) {
		return "", "", errs.Validation("price %s outside [%s, %s]", px, tickDec, decimal.NewFromInt(1).Sub(tickDec))
	}
	shares := decimal.NewFromFloat(size).Truncate(sizeDecimals)
	if !shares.IsPositive() {
		return "", "", errs.Validation("size %v rounds to zero", size)
	}
	notional := shares.Mul(px).Truncate(priceDecimals + sizeDecimals)

	var makerAmt, takerAmt decimal.Decimal
	switch side {
	case clob.SideBuy:
		makerAmt, takerAmt = notional, shares
	case clob.SideSell:
		makerAmt, takerAmt = shares, notional
	default:
		return "", "", errs.Validation("invalid side %q", side)
	}
	return toBaseUnits(makerAmt), toBaseUnits(takerAmt), nil
}

func tickDecimals(tick decimal.Decimal) int32 {
	if exp := tick.Exponent(); exp < 0 {
		return -exp
	}
	return 0
}

func toBaseUnits(d decimal.Decimal) string {
	return d.Shift(amountDecimals).Truncate(0).String()
}

func sideWire(side clob.Side) string {
	if side == clob.SideSell {
		return "SELL"
	}
	return "BUY"
}

func expirationWire(req clob.OrderRequest) string {
	if req.OrderType.Submittable() != clob.OrderTypeGTD || req.Expiration <= 0 {
		return "0"
	}
	return strconv.FormatInt(req.Expiration, 10)
}
