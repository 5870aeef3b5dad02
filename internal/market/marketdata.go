// Package market is the read-only, account-independent view of markets,
// order books and prices, shared by every consumer.
package market

import (
	"context"
	"sync"
	"time"

	"poly-trade-bot/internal/clob"
	"poly-trade-bot/internal/clob/rest"

	"go.uber.org/zap"
)

const (
	defaultLimit = 50
	maxPages     = 10

	// MaxLimit and MaxOffset bound a single listing request.
	MaxLimit  = 500
	MaxOffset = 10000
)

// Reader is the quote source behind MarketData.
type Reader interface {
	Markets(ctx context.Context, cursor string) ([]clob.Market, string, error)
	Market(ctx context.Context, id string) (clob.Market, error)
	OrderBook(ctx context.Context, tokenID string) (clob.OrderBook, error)
	Ping(ctx context.Context) (time.Duration, error)
}

type MarketData struct {
	newReader func() Reader
	log       *zap.Logger
	now       func() time.Time

	once   sync.Once
	reader Reader
}

// New defers building the reader until the first query.
func New(newReader func() Reader, log *zap.Logger) *MarketData {
	if log == nil {
		log = zap.NewNop()
	}
	return &MarketData{newReader: newReader, log: log, now: time.Now}
}

// NewREST is New over an unauthenticated CLOB client. Quotes do not vary by
// chain, so one client serves every account.
func NewREST(baseURL string, timeout time.Duration, log *zap.Logger) *MarketData {
	return New(func() Reader {
		return rest.New(baseURL, timeout, log)
	}, log)
}

func (m *MarketData) client() Reader {
	m.once.Do(func() {
		m.reader = m.newReader()
		m.log.Debug("market data client ready")
	})
	return m.reader
}

// Markets pages through the exchange listing until filter.Offset+Limit
// markets survive the filter or the listing ends.
func (m *MarketData) Markets(ctx context.Context, filter clob.MarketFilter) ([]clob.Market, error) {
	return ListMarkets(ctx, m.client(), filter)
}

func (m *MarketData) Market(ctx context.Context, id string) (clob.Market, error) {
	return m.client().Market(ctx, id)
}

func (m *MarketData) OrderBook(ctx context.Context, tokenID string) (clob.OrderBook, error) {
	return m.client().OrderBook(ctx, tokenID)
}

// PriceData derives the current price from the book mid.
func (m *MarketData) PriceData(ctx context.Context, tokenID string) (clob.PriceData, error) {
	book, err := m.client().OrderBook(ctx, tokenID)
	if err != nil {
		return clob.PriceData{}, err
	}
	return clob.PriceFromBook(tokenID, book, m.now().UTC()), nil
}

func (m *MarketData) Ping(ctx context.Context) (time.Duration, error) {
	return m.client().Ping(ctx)
}

// Pager is any source of paginated market listings.
type Pager interface {
	Markets(ctx context.Context, cursor string) ([]clob.Market, string, error)
}

func ListMarkets(ctx context.Context, src Pager, filter clob.MarketFilter) ([]clob.Market, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	limit = min(limit, MaxLimit)
	offset := min(max(filter.Offset, 0), MaxOffset)
	want := offset + limit
	out := make([]clob.Market, 0, min(want, MaxLimit))
	cursor := ""
	for page := 0; page < maxPages && len(out) < want; page++ {
		markets, next, err := src.Markets(ctx, cursor)
		if err != nil {
			return nil, err
		}
		for _, mk := range markets {
			if filter.Active && (!mk.Active || mk.Closed) {
				continue
			}
			out = append(out, mk)
		}
		if next == "" || next == "LTE=" || next == cursor {
			break
		}
		cursor = next
	}
	if offset >= len(out) {
		return []clob.Market{}, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
