package api

import (
	"fmt"
	"net/http"
	"strings"

	"poly-trade-bot/internal/account"
	"poly-trade-bot/internal/alerts"
	"poly-trade-bot/internal/clob"
	"poly-trade-bot/internal/errs"
	"poly-trade-bot/internal/exec"
	"poly-trade-bot/internal/market"
	"poly-trade-bot/internal/scheduler"

	"go.uber.org/zap"
)

const (
	defaultMarketLimit = 5

	defaultTradeLimit = 50
	maxTradeLimit     = 500
	maxTradeOffset    = 10000
)

func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Accounts.List())
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	acc, ok := s.deps.Accounts.Get(id)
	if !ok {
		s.writeError(w, r, errs.NotFound("account %s not found", id))
		return
	}
	writeJSON(w, http.StatusOK, acc)
}

func (s *Server) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	var spec account.Spec
	if err := decodeBody(r, &spec); err != nil {
		s.writeError(w, r, err)
		return
	}
	acc, err := s.deps.Accounts.Create(spec)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, acc)
}

func (s *Server) handleUpdateAccount(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var patch account.Patch
	if err := decodeBody(r, &patch); err != nil {
		s.writeError(w, r, err)
		return
	}
	acc, ok, err := s.deps.Accounts.Update(id, patch)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !ok {
		s.writeError(w, r, errs.NotFound("account %s not found", id))
		return
	}
	writeJSON(w, http.StatusOK, acc)
}

func (s *Server) handleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !s.deps.Accounts.Delete(id) {
		s.writeError(w, r, errs.NotFound("account %s not found", id))
		return
	}
	writeJSON(w, http.StatusOK, successBody{Success: true})
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	_, c, err := s.clientFor(r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	balance, err := c.Balance(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, balance)
}

func (s *Server) handleListMarkets(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", defaultMarketLimit, market.MaxLimit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	offset, err := queryInt(r, "offset", 0, market.MaxOffset)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	filter := clob.MarketFilter{Limit: limit, Offset: offset, Active: r.URL.Query().Get("active") == "true"}

	var markets []clob.Market
	if accountID := strings.TrimSpace(r.URL.Query().Get("accountId")); accountID != "" {
		_, c, err := s.clientFor(accountID)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		markets, err = market.ListMarkets(r.Context(), c, filter)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
	} else {
		markets, err = s.deps.Markets.Markets(r.Context(), filter)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, markets)
}

func (s *Server) handleGetMarket(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("marketId")
	var (
		mk  clob.Market
		err error
	)
	if accountID := strings.TrimSpace(r.URL.Query().Get("accountId")); accountID != "" {
		var c account.Client
		if _, c, err = s.clientFor(accountID); err == nil {
			mk, err = c.Market(r.Context(), id)
		}
	} else {
		mk, err = s.deps.Markets.Market(r.Context(), id)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mk)
}

func (s *Server) handleOrderBook(w http.ResponseWriter, r *http.Request) {
	tokenID := strings.TrimSpace(r.URL.Query().Get("tokenId"))
	if tokenID == "" {
		s.writeError(w, r, errs.Validation("tokenId is required"))
		return
	}
	var (
		book clob.OrderBook
		err  error
	)
	if accountID := strings.TrimSpace(r.URL.Query().Get("accountId")); accountID != "" {
		var c account.Client
		if _, c, err = s.clientFor(accountID); err == nil {
			book, err = c.OrderBook(r.Context(), tokenID)
		}
	} else {
		book, err = s.deps.Markets.OrderBook(r.Context(), tokenID)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if book.Market == "" {
		book.Market = r.PathValue("marketId")
	}
	writeJSON(w, http.StatusOK, book)
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	_, c, err := s.client(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	orders, err := c.OpenOrders(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orders)
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	_, c, err := s.client(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	order, err := c.Order(r.Context(), r.PathValue("orderId"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

type placeOrderBody struct {
	AccountID  string `json:"accountId"`
	TokenID    string `json:"tokenId"`
	Side       string `json:"side"`
	Price      number `json:"price"`
	Size       number `json:"size"`
	OrderType  string `json:"orderType"`
	NegRisk    bool   `json:"negRisk"`
	Expiration int64  `json:"expiration"`
}

func (s *Server) handlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	var body placeOrderBody
	if err := decodeBody(r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	if strings.TrimSpace(body.AccountID) == "" {
		s.writeError(w, r, errs.Validation("accountId is required"))
		return
	}
	accountID, c, err := s.clientFor(strings.TrimSpace(body.AccountID))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	req := clob.OrderRequest{
		TokenID:    strings.TrimSpace(body.TokenID),
		Side:       clob.Side(strings.ToUpper(strings.TrimSpace(body.Side))),
		Price:      float64(body.Price),
		Size:       float64(body.Size),
		OrderType:  clob.ParseOrderType(body.OrderType),
		NegRisk:    body.NegRisk,
		Expiration: body.Expiration,
	}
	order, err := s.deps.Executor.PlaceOrder(r.Context(), c, exec.Origin{AccountID: accountID}, req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, order)
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	accountID, c, err := s.client(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	orderID := r.PathValue("orderId")
	if err := c.CancelOrder(r.Context(), orderID); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.log.Info("order cancelled", zap.String("account_id", accountID), zap.String("order_id", orderID))
	writeJSON(w, http.StatusOK, successBody{Success: true})
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	_, c, err := s.client(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	limit, err := queryInt(r, "limit", defaultTradeLimit, maxTradeLimit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	offset, err := queryInt(r, "offset", 0, maxTradeOffset)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	trades, err := c.Trades(r.Context(), clob.TradeFilter{
		TokenID: strings.TrimSpace(r.URL.Query().Get("tokenId")),
		Limit:   limit,
		Offset:  offset,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, trades)
}

// handlePrice feeds account-scoped samples into the alert engine.
func (s *Server) handlePrice(w http.ResponseWriter, r *http.Request) {
	tokenID := r.PathValue("tokenId")
	accountID := strings.TrimSpace(r.URL.Query().Get("accountId"))
	if accountID == "" {
		price, err := s.deps.Markets.PriceData(r.Context(), tokenID)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, price)
		return
	}
	_, c, err := s.clientFor(accountID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	price, err := c.PriceData(r.Context(), tokenID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if s.deps.Alerts != nil {
		s.deps.Alerts.UpdatePriceCache(price)
	}
	writeJSON(w, http.StatusOK, price)
}

func (s *Server) handleListStrategies(w http.ResponseWriter, r *http.Request) {
	if accountID := strings.TrimSpace(r.URL.Query().Get("accountId")); accountID != "" {
		writeJSON(w, http.StatusOK, s.deps.Scheduler.ListByAccount(accountID))
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Scheduler.List())
}

func (s *Server) handleStrategyTypes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Scheduler.Types())
}

func (s *Server) handleGetStrategy(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	rec, ok := s.deps.Scheduler.Get(id)
	if !ok {
		s.writeError(w, r, errs.NotFound("strategy %s not found", id))
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleCreateStrategy(w http.ResponseWriter, r *http.Request) {
	var spec scheduler.Spec
	if err := decodeBody(r, &spec); err != nil {
		s.writeError(w, r, err)
		return
	}
	rec, err := s.deps.Scheduler.Create(spec)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) handleUpdateStrategy(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var patch scheduler.Patch
	if err := decodeBody(r, &patch); err != nil {
		s.writeError(w, r, err)
		return
	}
	rec, ok, err := s.deps.Scheduler.Update(id, patch)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !ok {
		s.writeError(w, r, errs.NotFound("strategy %s not found", id))
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleDeleteStrategy(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !s.deps.Scheduler.Delete(id) {
		s.writeError(w, r, errs.NotFound("strategy %s not found", id))
		return
	}
	writeJSON(w, http.StatusOK, successBody{Success: true})
}

func (s *Server) handleStartStrategy(w http.ResponseWriter, r *http.Request) {
	s.controlStrategy(w, r, s.deps.Scheduler.Start)
}

func (s *Server) handleStopStrategy(w http.ResponseWriter, r *http.Request) {
	s.controlStrategy(w, r, s.deps.Scheduler.Stop)
}

// controlStrategy applies fn and returns the resulting record so callers can
// see whether a start actually armed the timer.
func (s *Server) controlStrategy(w http.ResponseWriter, r *http.Request, fn func(id string)) {
	id := r.PathValue("id")
	if _, ok := s.deps.Scheduler.Get(id); !ok {
		s.writeError(w, r, errs.NotFound("strategy %s not found", id))
		return
	}
	fn(id)
	rec, _ := s.deps.Scheduler.Get(id)
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	if accountID := strings.TrimSpace(r.URL.Query().Get("accountId")); accountID != "" {
		writeJSON(w, http.StatusOK, s.deps.Alerts.ListByAccount(accountID))
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Alerts.List())
}

func (s *Server) handleGetAlert(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	a, ok := s.deps.Alerts.Get(id)
	if !ok {
		s.writeError(w, r, errs.NotFound("alert %s not found", id))
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleCreateAlert(w http.ResponseWriter, r *http.Request) {
	var spec alerts.Spec
	if err := decodeBody(r, &spec); err != nil {
		s.writeError(w, r, err)
		return
	}
	a, err := s.deps.Alerts.Create(spec)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

func (s *Server) handleUpdateAlert(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var patch alerts.Patch
	if err := decodeBody(r, &patch); err != nil {
		s.writeError(w, r, err)
		return
	}
	a, ok, err := s.deps.Alerts.Update(id, patch)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !ok {
		s.writeError(w, r, errs.NotFound("alert %s not found", id))
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleDeleteAlert(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !s.deps.Alerts.Delete(id) {
		s.writeError(w, r, errs.NotFound("alert %s not found", id))
		return
	}
	writeJSON(w, http.StatusOK, successBody{Success: true})
}

type networkResult struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	LatencyMS int64  `json:"latency"`
	Error     string `json:"error,omitempty"`
}

func (s *Server) handleNetworkTest(w http.ResponseWriter, r *http.Request) {
	latency, err := s.deps.Markets.Ping(r.Context())
	res := networkResult{Success: err == nil, LatencyMS: latency.Milliseconds()}
	if err != nil {
		res.Message = "exchange unreachable"
		res.Error = err.Error()
	} else {
		res.Message = fmt.Sprintf("exchange reachable in %dms", res.LatencyMS)
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": s.now().UTC(),
	})
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	s.writeError(w, r, errs.NotFound("route %s %s not found", r.Method, r.URL.Path))
}
