// Package api is the HTTP and websocket boundary. Handlers decode the request,
// call one core component and encode the result; they hold no state.
package api

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"poly-trade-bot/internal/account"
	"poly-trade-bot/internal/alerts"
	"poly-trade-bot/internal/clob"
	"poly-trade-bot/internal/config"
	"poly-trade-bot/internal/exec"
	"poly-trade-bot/internal/scheduler"

	"go.uber.org/zap"
)

// Markets is the shared read-only market view.
type Markets interface {
	Markets(ctx context.Context, filter clob.MarketFilter) ([]clob.Market, error)
	Market(ctx context.Context, id string) (clob.Market, error)
	OrderBook(ctx context.Context, tokenID string) (clob.OrderBook, error)
	PriceData(ctx context.Context, tokenID string) (clob.PriceData, error)
	Ping(ctx context.Context) (time.Duration, error)
}

type Deps struct {
	Accounts  *account.Registry
	Markets   Markets
	Alerts    *alerts.Engine
	Scheduler *scheduler.Scheduler
	Executor  *exec.Executor
	// Realtime serves /ws when set.
	Realtime http.Handler
	// Metrics serves MetricsPath when set.
	Metrics     http.Handler
	MetricsPath string
}

type Server struct {
	router *http.ServeMux
	server *http.Server
	deps   Deps
	log    *zap.Logger
	now    func() time.Time
}

func NewServer(addr string, deps Deps, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	if deps.Executor == nil {
		deps.Executor = exec.New(config.RiskConfig{}, nil, nil, log)
	}
	s := &Server{
		router: http.NewServeMux(),
		deps:   deps,
		log:    log,
		now:    time.Now,
	}
	s.routes()
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() {
	// Accounts
	s.router.HandleFunc("GET /api/accounts", s.handleListAccounts)
	s.router.HandleFunc("POST /api/accounts", s.handleCreateAccount)
	s.router.HandleFunc("GET /api/accounts/{id}", s.handleGetAccount)
	s.router.HandleFunc("PUT /api/accounts/{id}", s.handleUpdateAccount)
	s.router.HandleFunc("DELETE /api/accounts/{id}", s.handleDeleteAccount)
	s.router.HandleFunc("GET /api/accounts/{id}/balance", s.handleBalance)

	// Markets
	s.router.HandleFunc("GET /api/markets", s.handleListMarkets)
	s.router.HandleFunc("GET /api/markets/{marketId}", s.handleGetMarket)
	s.router.HandleFunc("GET /api/markets/{marketId}/orderbook", s.handleOrderBook)

	// Orders and trades
	s.router.HandleFunc("GET /api/orders", s.handleListOrders)
	s.router.HandleFunc("POST /api/orders", s.handlePlaceOrder)
	s.router.HandleFunc("GET /api/orders/{orderId}", s.handleGetOrder)
	s.router.HandleFunc("DELETE /api/orders/{orderId}", s.handleCancelOrder)
	s.router.HandleFunc("GET /api/trades", s.handleTrades)

	// Price
	s.router.HandleFunc("GET /api/price/{tokenId}", s.handlePrice)

	// Strategies
	s.router.HandleFunc("GET /api/strategies", s.handleListStrategies)
	s.router.HandleFunc("GET /api/strategies/types", s.handleStrategyTypes)
	s.router.HandleFunc("POST /api/strategies", s.handleCreateStrategy)
	s.router.HandleFunc("GET /api/strategies/{id}", s.handleGetStrategy)
	s.router.HandleFunc("PUT /api/strategies/{id}", s.handleUpdateStrategy)
	s.router.HandleFunc("DELETE /api/strategies/{id}", s.handleDeleteStrategy)
	s.router.HandleFunc("POST /api/strategies/{id}/start", s.handleStartStrategy)
	s.router.HandleFunc("POST /api/strategies/{id}/stop", s.handleStopStrategy)

	// Alerts
	s.router.HandleFunc("GET /api/alerts", s.handleListAlerts)
	s.router.HandleFunc("POST /api/alerts", s.handleCreateAlert)
	s.router.HandleFunc("GET /api/alerts/{id}", s.handleGetAlert)
	s.router.HandleFunc("PUT /api/alerts/{id}", s.handleUpdateAlert)
	s.router.HandleFunc("DELETE /api/alerts/{id}", s.handleDeleteAlert)

	// Status
	s.router.HandleFunc("GET /api/network/test", s.handleNetworkTest)
	s.router.HandleFunc("GET /health", s.handleHealth)
	if s.deps.Metrics != nil {
		path := s.deps.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		s.router.Handle("GET "+path, s.deps.Metrics)
	}
	if s.deps.Realtime != nil {
		s.router.Handle("GET /ws", s.deps.Realtime)
	}

	s.router.HandleFunc("/", s.handleNotFound)
}

// Handler is the router wrapped with CORS and request logging.
func (s *Server) Handler() http.Handler {
	return s.logRequests(cors(s.router))
}

func (s *Server) Start() error {
	s.log.Info("http server listening", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// logRequests logs method, path, status and latency. Bodies are never logged
// since they may carry private keys.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := s.now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		fields := []zap.Field{
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Int64("duration_ms", s.now().Sub(start).Milliseconds()),
		}
		if rec.status >= http.StatusInternalServerError {
			s.log.Warn("http request", fields...)
			return
		}
		s.log.Debug("http request", fields...)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Hijack lets websocket upgrades pass through the recorder.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}
