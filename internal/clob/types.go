// Package clob holds the exchange-facing data model shared by the read-only
// and the signing clients.
package clob

import (
	"strings"
	"time"
)

type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

type OrderType string

const (
	OrderTypeGTC OrderType = "GTC"
	OrderTypeFOK OrderType = "FOK"
	OrderTypeGTD OrderType = "GTD"
	OrderTypeIOC OrderType = "IOC"
)

// Submittable maps an order type onto one the exchange accepts. IOC has no
// exchange equivalent and is sent as GTC; empty defaults to GTC.
func (t OrderType) Submittable() OrderType {
	switch OrderType(strings.ToUpper(string(t))) {
	case OrderTypeFOK:
		return OrderTypeFOK
	case OrderTypeGTD:
		return OrderTypeGTD
	default:
		return OrderTypeGTC
	}
}

func ParseOrderType(raw string) OrderType {
	switch OrderType(strings.ToUpper(strings.TrimSpace(raw))) {
	case OrderTypeFOK:
		return OrderTypeFOK
	case OrderTypeGTD:
		return OrderTypeGTD
	case OrderTypeIOC:
		return OrderTypeIOC
	default:
		return OrderTypeGTC
	}
}

type OrderStatus string

const (
	StatusPending   OrderStatus = "PENDING"
	StatusFilled    OrderStatus = "FILLED"
	StatusCancelled OrderStatus = "CANCELLED"
	StatusRejected  OrderStatus = "REJECTED"
)

// ParseOrderStatus maps exchange status strings (LIVE, MATCHED,
// CANCELED, ...) onto the local lifecycle.
func ParseOrderStatus(raw string) OrderStatus {
	upper := strings.ToUpper(raw)
	switch {
	case strings.Contains(upper, "FILLED"), strings.Contains(upper, "MATCHED"):
		return StatusFilled
	case strings.Contains(upper, "CANCEL"):
		return StatusCancelled
	case strings.Contains(upper, "REJECT"):
		return StatusRejected
	default:
		return StatusPending
	}
}

type Order struct {
	ID          string      `json:"id"`
	AccountID   string      `json:"accountId"`
	TokenID     string      `json:"tokenId"`
	Side        Side        `json:"side"`
	Price       float64     `json:"price"`
	Size        float64     `json:"size"`
	SizeMatched float64     `json:"sizeMatched,omitempty"`
	Status      OrderStatus `json:"status"`
	OrderType   OrderType   `json:"orderType"`
	CreatedAt   time.Time   `json:"createdAt"`
	ErrorMsg    string      `json:"errorMsg,omitempty"`
}

// OrderRequest is an order intent before signing.
type OrderRequest struct {
	TokenID    string    `json:"tokenId"`
	Side       Side      `json:"side"`
	Price      float64   `json:"price"`
	Size       float64   `json:"size"`
	OrderType  OrderType `json:"orderType,omitempty"`
	NegRisk    bool      `json:"negRisk,omitempty"`
	Expiration int64     `json:"expiration,omitempty"`
}

type BookLevel struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

type OrderBook struct {
	Market    string      `json:"market"`
	TokenID   string      `json:"tokenId"`
	Bids      []BookLevel `json:"bids"`
	Asks      []BookLevel `json:"asks"`
	Hash      string      `json:"hash,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// BestBid returns the highest bid regardless of the order the exchange
// listed the levels in.
func (b OrderBook) BestBid() (float64, bool) {
	best, ok := 0.0, false
	for _, lvl := range b.Bids {
		if lvl.Price <= 0 {
			continue
		}
		if !ok || lvl.Price > best {
			best, ok = lvl.Price, true
		}
	}
	return best, ok
}

func (b OrderBook) BestAsk() (float64, bool) {
	best, ok := 0.0, false
	for _, lvl := range b.Asks {
		if lvl.Price <= 0 {
			continue
		}
		if !ok || lvl.Price < best {
			best, ok = lvl.Price, true
		}
	}
	return best, ok
}

// Mid is (bestBid+bestAsk)/2 when both sides exist, otherwise whichever side
// exists, otherwise 0.
func (b OrderBook) Mid() float64 {
	bid, hasBid := b.BestBid()
	ask, hasAsk := b.BestAsk()
	switch {
	case hasBid && hasAsk:
		return (bid + ask) / 2
	case hasBid:
		return bid
	case hasAsk:
		return ask
	default:
		return 0
	}
}

type PriceData struct {
	TokenID   string    `json:"tokenId" msgpack:"tokenId"`
	Price     float64   `json:"price" msgpack:"price"`
	Timestamp time.Time `json:"timestamp" msgpack:"timestamp"`
	Volume24h float64   `json:"volume24h" msgpack:"volume24h"`
	Change24h float64   `json:"change24h" msgpack:"change24h"`
}

// PriceFromBook derives a sample from the book's mid. Volume and change are
// left to the price source.
func PriceFromBook(tokenID string, book OrderBook, now time.Time) PriceData {
	return PriceData{
		TokenID:   tokenID,
		Price:     book.Mid(),
		Timestamp: now,
	}
}

type MarketOutcome struct {
	ID     string  `json:"id"`
	Name   string  `json:"name"`
	Price  float64 `json:"price"`
	Winner bool    `json:"winner,omitempty"`
}

type Market struct {
	ID          string          `json:"id"`
	Question    string          `json:"question"`
	Slug        string          `json:"slug"`
	ConditionID string          `json:"conditionId"`
	EndDate     string          `json:"endDate"`
	Active      bool            `json:"active"`
	Closed      bool            `json:"closed"`
	NegRisk     bool            `json:"negRisk,omitempty"`
	Liquidity   float64         `json:"liquidity"`
	Volume      float64         `json:"volume"`
	Outcomes    []MarketOutcome `json:"outcomes"`
}

type MarketFilter struct {
	Limit  int
	Offset int
	Active bool
}

type Trade struct {
	ID        string    `json:"id"`
	OrderID   string    `json:"orderId"`
	TokenID   string    `json:"tokenId"`
	Side      Side      `json:"side"`
	Price     float64   `json:"price"`
	Size      float64   `json:"size"`
	Status    string    `json:"status,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type TradeFilter struct {
	TokenID string
	Limit   int
	Offset  int
}

type Balance struct {
	Available float64 `json:"available"`
	Locked    float64 `json:"locked"`
}
