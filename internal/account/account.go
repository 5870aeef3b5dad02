// Package account owns account records and the signing client derived from
// each account's credentials.
package account

import (
	"context"
	"time"

	"poly-trade-bot/internal/clob"
)

const DefaultChainID int64 = 137

type Account struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Address       string    `json:"address"`
	PrivateKey    string    `json:"-"`
	SignatureType int       `json:"signatureType"`
	Funder        string    `json:"funder,omitempty"`
	ChainID       int64     `json:"chainId"`
	Enabled       bool      `json:"enabled"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// Spec is the input for Create.
type Spec struct {
	Name          string `json:"name"`
	PrivateKey    string `json:"privateKey"`
	SignatureType int    `json:"signatureType"`
	Funder        string `json:"funder"`
	ChainID       int64  `json:"chainId"`
	Enabled       *bool  `json:"enabled"`
}

// Patch carries the fields Update merges; nil means unchanged.
type Patch struct {
	Name          *string `json:"name"`
	PrivateKey    *string `json:"privateKey"`
	SignatureType *int    `json:"signatureType"`
	Funder        *string `json:"funder"`
	ChainID       *int64  `json:"chainId"`
	Enabled       *bool   `json:"enabled"`
}

// Client is the per-account exchange handle.
type Client interface {
	Err() error
	Address() string
	Markets(ctx context.Context, cursor string) ([]clob.Market, string, error)
	Market(ctx context.Context, id string) (clob.Market, error)
	OrderBook(ctx context.Context, tokenID string) (clob.OrderBook, error)
	PriceData(ctx context.Context, tokenID string) (clob.PriceData, error)
	PlaceOrder(ctx context.Context, req clob.OrderRequest) (clob.Order, error)
	CancelOrder(ctx context.Context, orderID string) error
	OpenOrders(ctx context.Context) ([]clob.Order, error)
	Order(ctx context.Context, orderID string) (clob.Order, error)
	Balance(ctx context.Context) (clob.Balance, error)
	Trades(ctx context.Context, filter clob.TradeFilter) ([]clob.Trade, error)
}

// ClientFactory builds a client for an account. It must not block on the
// network.
type ClientFactory func(Account) Client
