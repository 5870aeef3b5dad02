package clob

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Exchange payloads mix strings and numbers for the same field across
// endpoints, so decoding goes through loosely typed maps.

// ParseMarkets accepts either a paginated {data, next_cursor} payload or a
// bare array.
func ParseMarkets(payload any) ([]Market, string) {
	items, cursor := dataAndCursor(payload)
	out := make([]Market, 0, len(items))
	for _, item := range items {
		m, ok := toMap(item)
		if !ok {
			continue
		}
		market := ParseMarket(m)
		if market.ID == "" {
			continue
		}
		out = append(out, market)
	}
	return out, cursor
}

func ParseMarket(m map[string]any) Market {
	conditionID := stringFromMap(m, "condition_id", "conditionId")
	id := conditionID
	if id == "" {
		id = stringFromMap(m, "id")
	}
	market := Market{
		ID:          id,
		Question:    stringFromMap(m, "question"),
		Slug:        stringFromMap(m, "market_slug", "slug"),
		ConditionID: conditionID,
		EndDate:     stringFromMap(m, "end_date_iso", "endDate"),
		Active:      boolFromAny(m["active"]),
		Closed:      boolFromAny(m["closed"]),
		NegRisk:     boolFromAny(m["neg_risk"]),
		Liquidity:   floatFromMap(m, "liquidity"),
		Volume:      floatFromMap(m, "volume"),
	}
	if tokens, ok := toSlice(m["tokens"]); ok {
		for _, raw := range tokens {
			tok, ok := toMap(raw)
			if !ok {
				continue
			}
			market.Outcomes = append(market.Outcomes, MarketOutcome{
				ID:     stringFromMap(tok, "token_id", "tokenId", "id"),
				Name:   stringFromMap(tok, "outcome", "name"),
				Price:  floatFromMap(tok, "price"),
				Winner: boolFromAny(tok["winner"]),
			})
		}
	}
	return market
}

func ParseOrderBook(tokenID string, payload any, now time.Time) OrderBook {
	m, _ := toMap(payload)
	book := OrderBook{
		Market:    stringFromMap(m, "market"),
		TokenID:   stringFromMap(m, "asset_id"),
		Hash:      stringFromMap(m, "hash"),
		Bids:      parseLevels(m["bids"]),
		Asks:      parseLevels(m["asks"]),
		Timestamp: now,
	}
	if book.TokenID == "" {
		book.TokenID = tokenID
	}
	if ts := timeFromMillis(m["timestamp"]); !ts.IsZero() {
		book.Timestamp = ts
	}
	return book
}

func parseLevels(v any) []BookLevel {
	items, _ := toSlice(v)
	levels := make([]BookLevel, 0, len(items))
	for _, item := range items {
		m, ok := toMap(item)
		if !ok {
			continue
		}
		levels = append(levels, BookLevel{
			Price: floatFromMap(m, "price"),
			Size:  floatFromMap(m, "size"),
		})
	}
	return levels
}

// ParseOrders accepts a bare array or a {data} envelope.
func ParseOrders(payload any) []Order {
	items, _ := dataAndCursor(payload)
	out := make([]Order, 0, len(items))
	for _, item := range items {
		m, ok := toMap(item)
		if !ok {
			continue
		}
		out = append(out, ParseOrder(m))
	}
	return out
}

func ParseOrder(m map[string]any) Order {
	createdAt := timeFromSeconds(m["created_at"])
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	side := SideSell
	if strings.EqualFold(stringFromMap(m, "side"), string(SideBuy)) {
		side = SideBuy
	}
	return Order{
		ID:          stringFromMap(m, "id", "orderID", "orderId"),
		TokenID:     stringFromMap(m, "asset_id", "tokenId"),
		Side:        side,
		Price:       floatFromMap(m, "price"),
		Size:        floatFromMap(m, "original_size", "size"),
		SizeMatched: floatFromMap(m, "size_matched"),
		Status:      ParseOrderStatus(stringFromMap(m, "status")),
		OrderType:   ParseOrderType(stringFromMap(m, "order_type", "orderType")),
		CreatedAt:   createdAt,
	}
}

func ParseTrades(payload any) []Trade {
	items, _ := dataAndCursor(payload)
	out := make([]Trade, 0, len(items))
	for _, item := range items {
		m, ok := toMap(item)
		if !ok {
			continue
		}
		side := SideSell
		if strings.EqualFold(stringFromMap(m, "side"), string(SideBuy)) {
			side = SideBuy
		}
		ts := timeFromSeconds(m["match_time"])
		if ts.IsZero() {
			ts = timeFromSeconds(m["last_update"])
		}
		out = append(out, Trade{
			ID:        stringFromMap(m, "id"),
			OrderID:   stringFromMap(m, "taker_order_id", "order_id"),
			TokenID:   stringFromMap(m, "asset_id"),
			Side:      side,
			Price:     floatFromMap(m, "price"),
			Size:      floatFromMap(m, "size"),
			Status:    stringFromMap(m, "status"),
			Timestamp: ts,
		})
	}
	return out
}

// OrderIDFromResponse finds the order id in a post-order response, which
// the exchange has spelled several ways.
func OrderIDFromResponse(resp map[string]any) string {
	return stringFromMap(resp, "orderID", "orderId", "orderHash", "id")
}

func dataAndCursor(payload any) ([]any, string) {
	if arr, ok := toSlice(payload); ok {
		return arr, ""
	}
	m, ok := toMap(payload)
	if !ok {
		return nil, ""
	}
	data, _ := toSlice(m["data"])
	return data, stringFromMap(m, "next_cursor")
}

func toMap(v any) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	return m, ok
}

func toSlice(v any) ([]any, bool) {
	s, ok := v.([]any)
	return s, ok
}

func stringFromMap(m map[string]any, keys ...string) string {
	for _, key := range keys {
		if v, ok := m[key]; ok {
			if s := stringFromAny(v); s != "" {
				return s
			}
		}
	}
	return ""
}

func stringFromAny(v any) string {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case json.Number:
		return val.String()
	default:
		return ""
	}
}

func floatFromMap(m map[string]any, keys ...string) float64 {
	for _, key := range keys {
		if v, ok := m[key]; ok {
			if f, ok := FloatFromAny(v); ok {
				return f
			}
		}
	}
	return 0
}

// FloatFromAny reads numbers the exchange sends either as JSON numbers or
// as decimal strings.
func FloatFromAny(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case json.Number:
		f, err := val.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func boolFromAny(v any) bool {
	switch val := v.(type) {
	case bool:
		return val
	case string:
		b, _ := strconv.ParseBool(strings.TrimSpace(val))
		return b
	default:
		return false
	}
}

func timeFromSeconds(v any) time.Time {
	f, ok := FloatFromAny(v)
	if !ok || f <= 0 {
		return time.Time{}
	}
	return time.Unix(int64(f), 0).UTC()
}

func timeFromMillis(v any) time.Time {
	f, ok := FloatFromAny(v)
	if !ok || f <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(int64(f)).UTC()
}
