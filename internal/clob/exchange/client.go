package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"poly-trade-bot/internal/clob"
	"poly-trade-bot/internal/clob/rest"
	"poly-trade-bot/internal/errs"
	"poly-trade-bot/internal/state"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// endCursor marks the last page of a paginated listing.
const endCursor = "LTE="

type Config struct {
	BaseURL       string
	Timeout       time.Duration
	ChainID       int64
	PrivateKey    string
	Funder        string
	SignatureType SignatureType
}

// Client is the signing, account-scoped exchange client. Construction never
// touches the network; API credentials are derived on first use and cached
// in the state store.
type Client struct {
	rest          *rest.Client
	signer        *Signer
	funder        string
	signatureType SignatureType
	chainID       int64
	store         state.Store
	log           *zap.Logger
	initErr       error

	now  func() time.Time
	salt func() int64

	credsMu sync.Mutex
	creds   *state.APICredentials
}

// New builds a client. A bad private key does not fail construction: the
// client is returned and every operation reports the key error.
func New(cfg Config, store state.Store, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.ChainID == 0 {
		cfg.ChainID = ChainPolygon
	}
	c := &Client{
		rest:          rest.New(cfg.BaseURL, cfg.Timeout, log),
		funder:        strings.TrimSpace(cfg.Funder),
		signatureType: cfg.SignatureType,
		chainID:       cfg.ChainID,
		store:         store,
		log:           log,
		now:           time.Now,
		salt:          randomSalt,
	}
	signer, err := NewSigner(cfg.PrivateKey, cfg.ChainID)
	if err != nil {
		c.initErr = errs.Validation("invalid private key: %v", err)
		return c
	}
	c.signer = signer
	return c
}

func randomSalt() int64 {
	return rand.Int64N(time.Now().UnixMilli())
}

// Err reports the construction error, if any.
func (c *Client) Err() error {
	return c.initErr
}

func (c *Client) Address() string {
	if c.signer == nil {
		return ""
	}
	return c.signer.Address().Hex()
}

func (c *Client) makerAddress() string {
	if c.funder != "" {
		return common.HexToAddress(c.funder).Hex()
	}
	return c.signer.Address().Hex()
}

func (c *Client) Markets(ctx context.Context, cursor string) ([]clob.Market, string, error) {
	if c.initErr != nil {
		return nil, "", c.initErr
	}
	return c.rest.Markets(ctx, cursor)
}

func (c *Client) Market(ctx context.Context, id string) (clob.Market, error) {
	if c.initErr != nil {
		return clob.Market{}, c.initErr
	}
	return c.rest.Market(ctx, id)
}

func (c *Client) OrderBook(ctx context.Context, tokenID string) (clob.OrderBook, error) {
	if c.initErr != nil {
		return clob.OrderBook{}, c.initErr
	}
	return c.rest.OrderBook(ctx, tokenID)
}

func (c *Client) PriceData(ctx context.Context, tokenID string) (clob.PriceData, error) {
	book, err := c.OrderBook(ctx, tokenID)
	if err != nil {
		return clob.PriceData{}, err
	}
	return clob.PriceFromBook(tokenID, book, c.now().UTC()), nil
}

// CreateOrder builds and signs an order without submitting it.
func (c *Client) CreateOrder(ctx context.Context, req clob.OrderRequest) (SignedOrder, error) {
	if c.initErr != nil {
		return SignedOrder{}, c.initErr
	}
	if strings.TrimSpace(req.TokenID) == "" {
		return SignedOrder{}, errs.Validation("token id is required")
	}
	if _, err := exchangeAddress(c.chainID, req.NegRisk); err != nil {
		return SignedOrder{}, err
	}
	tick, err := c.rest.TickSize(ctx, req.TokenID)
	if err != nil {
		return SignedOrder{}, err
	}
	makerAmt, takerAmt, err := orderAmounts(req.Side, req.Price, req.Size, tick)
	if err != nil {
		return SignedOrder{}, err
	}
	wire := OrderWire{
		Salt:          c.salt(),
		Maker:         c.makerAddress(),
		Signer:        c.signer.Address().Hex(),
		Taker:         zeroAddress,
		TokenID:       req.TokenID,
		MakerAmount:   makerAmt,
		TakerAmount:   takerAmt,
		Expiration:    expirationWire(req),
		Nonce:         "0",
		FeeRateBps:    "0",
		Side:          sideWire(req.Side),
		SignatureType: int(c.signatureType),
	}
	sig, err := c.signer.SignOrder(wire, req.NegRisk)
	if err != nil {
		return SignedOrder{}, err
	}
	wire.Signature = sig
	return SignedOrder{Wire: wire, Request: req, NegRisk: req.NegRisk}, nil
}

// PostOrder submits a signed order. An order the exchange declines comes
// back with status REJECTED and no error; transport and HTTP failures are
// errors.
func (c *Client) PostOrder(ctx context.Context, signed SignedOrder) (clob.Order, error) {
	creds, err := c.Credentials(ctx)
	if err != nil {
		return clob.Order{}, err
	}
	orderType := signed.Request.OrderType.Submittable()
	body, err := json.Marshal(postOrderBody{
		Order:     signed.Wire,
		Owner:     creds.Key,
		OrderType: string(orderType),
	})
	if err != nil {
		return clob.Order{}, err
	}
	payload, err := c.authed(ctx, creds, http.MethodPost, "/order", nil, body)
	if err != nil {
		return clob.Order{}, err
	}
	order := clob.Order{
		TokenID:   signed.Request.TokenID,
		Side:      signed.Request.Side,
		Price:     signed.Request.Price,
		Size:      signed.Request.Size,
		OrderType: orderType,
		CreatedAt: c.now().UTC(),
	}
	resp, _ := payload.(map[string]any)
	if ok, present := resp["success"].(bool); present && !ok {
		order.Status = clob.StatusRejected
		order.ErrorMsg, _ = resp["errorMsg"].(string)
		order.ID = clob.OrderIDFromResponse(resp)
		return order, nil
	}
	order.ID = clob.OrderIDFromResponse(resp)
	status, _ := resp["status"].(string)
	order.Status = clob.ParseOrderStatus(status)
	if msg, _ := resp["errorMsg"].(string); msg != "" {
		order.ErrorMsg = msg
	}
	return order, nil
}

func (c *Client) PlaceOrder(ctx context.Context, req clob.OrderRequest) (clob.Order, error) {
	signed, err := c.CreateOrder(ctx, req)
	if err != nil {
		return clob.Order{}, err
	}
	return c.PostOrder(ctx, signed)
}

func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	if strings.TrimSpace(orderID) == "" {
		return errs.Validation("order id is required")
	}
	creds, err := c.Credentials(ctx)
	if err != nil {
		return err
	}
	body, err := json.Marshal(cancelBody{OrderID: orderID})
	if err != nil {
		return err
	}
	payload, err := c.authed(ctx, creds, http.MethodDelete, "/order", nil, body)
	if err != nil {
		return err
	}
	resp, _ := payload.(map[string]any)
	if notCanceled, ok := resp["not_canceled"].(map[string]any); ok {
		if reason, ok := notCanceled[orderID]; ok {
			return errs.Upstream(fmt.Errorf("cancel %s: %v", orderID, reason))
		}
	}
	return nil
}

func (c *Client) OpenOrders(ctx context.Context) ([]clob.Order, error) {
	creds, err := c.Credentials(ctx)
	if err != nil {
		return nil, err
	}
	var out []clob.Order
	err = c.paginate(ctx, creds, "/data/orders", url.Values{}, func(payload any) {
		out = append(out, clob.ParseOrders(payload)...)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Order(ctx context.Context, orderID string) (clob.Order, error) {
	if strings.TrimSpace(orderID) == "" {
		return clob.Order{}, errs.Validation("order id is required")
	}
	creds, err := c.Credentials(ctx)
	if err != nil {
		return clob.Order{}, err
	}
	payload, err := c.authed(ctx, creds, http.MethodGet, "/data/order/"+url.PathEscape(orderID), nil, nil)
	if err != nil {
		if rest.IsStatus(err, http.StatusNotFound) {
			return clob.Order{}, errs.NotFound("order %s not found", orderID)
		}
		return clob.Order{}, err
	}
	m, ok := payload.(map[string]any)
	if !ok || len(m) == 0 {
		return clob.Order{}, errs.NotFound("order %s not found", orderID)
	}
	order := clob.ParseOrder(m)
	if order.ID == "" {
		order.ID = orderID
	}
	return order, nil
}

// Balance reports collateral in whole units.
func (c *Client) Balance(ctx context.Context) (clob.Balance, error) {
	creds, err := c.Credentials(ctx)
	if err != nil {
		return clob.Balance{}, err
	}
	query := url.Values{
		"asset_type":     {"COLLATERAL"},
		"signature_type": {strconv.Itoa(int(c.signatureType))},
	}
	payload, err := c.authed(ctx, creds, http.MethodGet, "/balance-allowance", query, nil)
	if err != nil {
		return clob.Balance{}, err
	}
	m, _ := payload.(map[string]any)
	available, _ := clob.FloatFromAny(m["balance"])
	locked, _ := clob.FloatFromAny(m["locked"])
	return clob.Balance{
		Available: available / 1e6,
		Locked:    locked / 1e6,
	}, nil
}

func (c *Client) Trades(ctx context.Context, filter clob.TradeFilter) ([]clob.Trade, error) {
	creds, err := c.Credentials(ctx)
	if err != nil {
		return nil, err
	}
	query := url.Values{}
	if filter.TokenID != "" {
		query.Set("asset_id", filter.TokenID)
	}
	var out []clob.Trade
	err = c.paginate(ctx, creds, "/data/trades", query, func(payload any) {
		out = append(out, clob.ParseTrades(payload)...)
	})
	if err != nil {
		return nil, err
	}
	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return []clob.Trade{}, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// Ping measures round trip latency to the exchange.
func (c *Client) Ping(ctx context.Context) (time.Duration, error) {
	if c.initErr != nil {
		return 0, c.initErr
	}
	return c.rest.Ping(ctx)
}

// Credentials returns the L2 API credentials, deriving them from the
// private key on first use.
func (c *Client) Credentials(ctx context.Context) (state.APICredentials, error) {
	if c.initErr != nil {
		return state.APICredentials{}, c.initErr
	}
	c.credsMu.Lock()
	defer c.credsMu.Unlock()
	if c.creds != nil {
		return *c.creds, nil
	}
	key := state.CredentialsKey(c.rest.BaseURL(), c.signer.Address().Hex(), c.chainID)
	if cached, ok, err := state.LoadCredentials(ctx, c.store, key); err != nil {
		c.log.Warn("credential cache read failed", zap.String("address", c.Address()), zap.Error(err))
	} else if ok {
		c.creds = &cached
		return cached, nil
	}
	creds, err := c.deriveCredentials(ctx)
	if err != nil {
		return state.APICredentials{}, err
	}
	if err := state.SaveCredentials(ctx, c.store, key, creds); err != nil {
		c.log.Warn("credential cache write failed", zap.String("address", c.Address()), zap.Error(err))
	}
	c.creds = &creds
	c.log.Info("api credentials ready", zap.String("address", c.Address()))
	return creds, nil
}

func (c *Client) deriveCredentials(ctx context.Context) (state.APICredentials, error) {
	headers, err := l1Headers(c.signer, c.now().Unix(), 0)
	if err != nil {
		return state.APICredentials{}, err
	}
	payload, err := c.rest.Do(ctx, http.MethodGet, "/auth/derive-api-key", nil, nil, headers)
	if creds := credentialsFromPayload(payload); err == nil && creds.Valid() {
		return creds, nil
	}
	if err != nil {
		c.log.Debug("derive api key failed, creating", zap.Error(err))
	}
	headers, err = l1Headers(c.signer, c.now().Unix(), 0)
	if err != nil {
		return state.APICredentials{}, err
	}
	payload, err = c.rest.Do(ctx, http.MethodPost, "/auth/api-key", nil, nil, headers)
	if err != nil {
		return state.APICredentials{}, err
	}
	creds := credentialsFromPayload(payload)
	if !creds.Valid() {
		return state.APICredentials{}, errs.Upstream(errors.New("exchange returned incomplete api credentials"))
	}
	return creds, nil
}

func credentialsFromPayload(payload any) state.APICredentials {
	m, _ := payload.(map[string]any)
	str := func(key string) string {
		s, _ := m[key].(string)
		return s
	}
	return state.APICredentials{
		Key:        str("apiKey"),
		Secret:     str("secret"),
		Passphrase: str("passphrase"),
	}
}

func (c *Client) authed(ctx context.Context, creds state.APICredentials, method, path string, query url.Values, body []byte) (any, error) {
	headers, err := l2Headers(c.signer.Address().Hex(), creds, c.now().Unix(), method, path, body)
	if err != nil {
		return nil, err
	}
	return c.rest.Do(ctx, method, path, query, body, headers)
}

func (c *Client) paginate(ctx context.Context, creds state.APICredentials, path string, query url.Values, page func(any)) error {
	cursor := ""
	for {
		q := url.Values{}
		for k, v := range query {
			q[k] = v
		}
		if cursor != "" {
			q.Set("next_cursor", cursor)
		}
		payload, err := c.authed(ctx, creds, http.MethodGet, path, q, nil)
		if err != nil {
			return err
		}
		page(payload)
		m, ok := payload.(map[string]any)
		if !ok {
			return nil
		}
		next, _ := m["next_cursor"].(string)
		if next == "" || next == endCursor || next == cursor {
			return nil
		}
		cursor = next
	}
}
