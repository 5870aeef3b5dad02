// Package realtime streams price samples to websocket observers. Each
// subscription samples on its own timer; nothing is shared between
// subscriptions.
package realtime

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"poly-trade-bot/internal/account"
	"poly-trade-bot/internal/alerts"
	"poly-trade-bot/internal/clob"
	"poly-trade-bot/internal/config"
	"poly-trade-bot/internal/errs"
	"poly-trade-bot/internal/metrics"
	"poly-trade-bot/internal/timescale"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

const (
	DefaultInterval = 5 * time.Second
	MinInterval     = 250 * time.Millisecond

	readLimit = 64 << 10
)

type PriceSource interface {
	PriceData(ctx context.Context, tokenID string) (clob.PriceData, error)
}

type Clients interface {
	Client(id string) (account.Client, bool)
}

type AlertSink interface {
	UpdatePriceCache(sample clob.PriceData) []alerts.Alert
}

type PriceRecorder interface {
	EnqueuePrice(sample timescale.PriceSample)
}

// Sink delivers messages to one observer. An error means the observer is
// gone.
type Sink interface {
	Send(ctx context.Context, msg Message) error
}

type Hub struct {
	market          PriceSource
	clients         Clients
	alerts          AlertSink
	recorder        PriceRecorder
	defaultInterval time.Duration
	minInterval     time.Duration
	origins         []string
	metrics         *metrics.Metrics
	log             *zap.Logger

	root   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	active atomic.Int64
}

func NewHub(market PriceSource, clients Clients, alertSink AlertSink, recorder PriceRecorder, cfg config.RealtimeConfig, m *metrics.Metrics, log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	def, floor := cfg.DefaultInterval, cfg.MinInterval
	if floor <= 0 {
		floor = MinInterval
	}
	if def <= 0 {
		def = DefaultInterval
	}
	if def < floor {
		def = floor
	}
	root, cancel := context.WithCancel(context.Background())
	return &Hub{
		market:          market,
		clients:         clients,
		alerts:          alertSink,
		recorder:        recorder,
		defaultInterval: def,
		minInterval:     floor,
		origins:         cfg.AllowedOrigins,
		metrics:         metrics.OrNoop(m),
		log:             log,
		root:            root,
		cancel:          cancel,
	}
}

// Subscriptions reports how many samplers are running.
func (h *Hub) Subscriptions() int {
	return int(h.active.Load())
}

// Close cancels every subscription and waits for samplers and connections
// to finish.
func (h *Hub) Close() {
	h.cancel()
	h.wg.Wait()
}

// Interval converts a requested period in milliseconds, applying the default
// and the floor.
func (h *Hub) Interval(ms int64) time.Duration {
	if ms <= 0 {
		return h.defaultInterval
	}
	d := time.Duration(ms) * time.Millisecond
	if d < h.minInterval {
		return h.minInterval
	}
	return d
}

// Subscribe validates req and starts a sampler that pushes to sink until ctx
// ends, the sink fails or the account disappears.
func (h *Hub) Subscribe(ctx context.Context, sink Sink, req Request) error {
	tokenID := strings.TrimSpace(req.TokenID)
	if tokenID == "" {
		return errs.Validation("tokenId is required")
	}
	accountID := strings.TrimSpace(req.AccountID)
	if accountID == "" && h.market == nil {
		return errs.Validation("accountId is required")
	}
	if h.root.Err() != nil {
		return errors.New("realtime hub closed")
	}
	sub := subscription{tokenID: tokenID, accountID: accountID, interval: h.Interval(req.Interval)}
	h.active.Add(1)
	h.metrics.ActiveSubscriptions.Inc()
	h.wg.Add(1)
	go h.run(ctx, sink, sub)
	h.log.Info("price subscription started",
		zap.String("token_id", tokenID),
		zap.String("account_id", accountID),
		zap.Duration("interval", sub.interval),
	)
	return nil
}

type subscription struct {
	tokenID   string
	accountID string
	interval  time.Duration
}

func (h *Hub) run(ctx context.Context, sink Sink, sub subscription) {
	defer h.wg.Done()
	defer func() {
		h.active.Add(-1)
		h.metrics.ActiveSubscriptions.Dec()
		h.log.Debug("price subscription ended", zap.String("token_id", sub.tokenID))
	}()
	ctx, cancel := mergeDone(ctx, h.root)
	defer cancel()
	ticker := time.NewTicker(sub.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !h.sample(ctx, sink, sub) {
				return
			}
		}
	}
}

// sample runs one tick and reports whether the subscription should go on.
// The fetch itself is bound to the hub, not the subscription, so a
// disconnect does not abort a request already in flight.
func (h *Hub) sample(ctx context.Context, sink Sink, sub subscription) bool {
	log := h.log.With(zap.String("token_id", sub.tokenID))
	var (
		price clob.PriceData
		err   error
	)
	if sub.accountID != "" {
		var client account.Client
		ok := h.clients != nil
		if ok {
			client, ok = h.clients.Client(sub.accountID)
		}
		if !ok {
			log.Warn("price subscription account not found", zap.String("account_id", sub.accountID))
			_ = sink.Send(ctx, Message{Type: TypeError, TokenID: sub.tokenID, Error: "account not found"})
			return false
		}
		price, err = client.PriceData(h.root, sub.tokenID)
	} else {
		price, err = h.market.PriceData(h.root, sub.tokenID)
	}
	if err != nil {
		h.metrics.PriceSampleFailures.Inc()
		log.Warn("price sample failed", zap.Error(err))
		return sink.Send(ctx, Message{Type: TypeError, TokenID: sub.tokenID, Error: err.Error()}) == nil
	}
	h.metrics.PriceSamples.Inc()
	if h.recorder != nil {
		h.recorder.EnqueuePrice(timescale.PriceSample{
			Time:      price.Timestamp,
			TokenID:   price.TokenID,
			AccountID: sub.accountID,
			Price:     price.Price,
			Volume24h: price.Volume24h,
			Change24h: price.Change24h,
		})
	}
	if err := sink.Send(ctx, Message{Type: TypePriceUpdate, TokenID: sub.tokenID, Data: price}); err != nil {
		return false
	}
	if sub.accountID == "" || h.alerts == nil {
		return true
	}
	fired := h.alerts.UpdatePriceCache(price)
	if len(fired) == 0 {
		return true
	}
	return sink.Send(ctx, Message{Type: TypeAlertTriggered, TokenID: sub.tokenID, Data: fired}) == nil
}

// ServeHTTP upgrades the request and serves one observer until it
// disconnects. Every subscription made on the connection ends with it.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.root.Err() != nil {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.origins})
	if err != nil {
		h.log.Warn("websocket accept failed", zap.Error(err))
		return
	}
	h.wg.Add(1)
	defer h.wg.Done()
	conn.SetReadLimit(readLimit)
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	ctx, cancel := mergeDone(r.Context(), h.root)
	defer cancel()
	s := &session{hub: h, conn: conn, subs: make(map[string][]context.CancelFunc)}
	h.log.Info("observer connected", zap.String("remote", r.RemoteAddr))
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			if status := websocket.CloseStatus(err); status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway || ctx.Err() != nil {
				h.log.Info("observer disconnected", zap.String("remote", r.RemoteAddr))
			} else {
				h.log.Warn("observer read failed", zap.String("remote", r.RemoteAddr), zap.Error(err))
			}
			return
		}
		s.handle(ctx, typ, data)
	}
}

type session struct {
	hub  *Hub
	conn *websocket.Conn
	subs map[string][]context.CancelFunc
}

func (s *session) handle(ctx context.Context, typ websocket.MessageType, data []byte) {
	req, err := decodeRequest(typ, data)
	if err != nil {
		s.sendError(ctx, "", "invalid message")
		return
	}
	switch req.Type {
	case TypeSubscribePrice:
		format, ok := normalizeFormat(req.Format)
		if !ok {
			s.sendError(ctx, req.TokenID, "unsupported format "+req.Format)
			return
		}
		subCtx, cancel := context.WithCancel(ctx)
		if err := s.hub.Subscribe(subCtx, connSink{conn: s.conn, format: format}, req); err != nil {
			cancel()
			s.sendError(ctx, req.TokenID, err.Error())
			return
		}
		token := strings.TrimSpace(req.TokenID)
		s.subs[token] = append(s.subs[token], cancel)
	case TypeUnsubscribePrice:
		token := strings.TrimSpace(req.TokenID)
		for _, cancel := range s.subs[token] {
			cancel()
		}
		delete(s.subs, token)
	default:
		s.sendError(ctx, req.TokenID, "unknown message type "+req.Type)
	}
}

func (s *session) sendError(ctx context.Context, tokenID, message string) {
	_ = connSink{conn: s.conn, format: FormatJSON}.Send(ctx, Message{Type: TypeError, TokenID: tokenID, Error: message})
}

// connSink writes to a websocket. Conn writes are safe for concurrent use.
type connSink struct {
	conn   *websocket.Conn
	format string
}

func (c connSink) Send(ctx context.Context, msg Message) error {
	typ, data, err := encode(c.format, msg)
	if err != nil {
		return err
	}
	return c.conn.Write(ctx, typ, data)
}

// mergeDone returns a context derived from a that is also cancelled when b
// is done.
func mergeDone(a, b context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(a)
	stop := context.AfterFunc(b, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}
