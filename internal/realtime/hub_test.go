package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"poly-trade-bot/internal/account"
	"poly-trade-bot/internal/alerts"
	"poly-trade-bot/internal/clob"
	"poly-trade-bot/internal/clob/clobtest"
	"poly-trade-bot/internal/config"
	"poly-trade-bot/internal/errs"
	"poly-trade-bot/internal/timescale"

	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

const testInterval = 10 * time.Millisecond

var fastConfig = config.RealtimeConfig{DefaultInterval: testInterval, MinInterval: time.Millisecond}

type fakeSink struct {
	mu   sync.Mutex
	msgs []Message
	err  error
}

func (s *fakeSink) Send(ctx context.Context, msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.msgs = append(s.msgs, msg)
	return nil
}

func (s *fakeSink) messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.msgs...)
}

func (s *fakeSink) ofType(typ string) []Message {
	var out []Message
	for _, m := range s.messages() {
		if m.Type == typ {
			out = append(out, m)
		}
	}
	return out
}

type clientMap map[string]account.Client

func (c clientMap) Client(id string) (account.Client, bool) {
	cl, ok := c[id]
	return cl, ok
}

type fixedSource struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fixedSource) PriceData(ctx context.Context, tokenID string) (clob.PriceData, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return clob.PriceData{}, f.err
	}
	return clob.PriceData{TokenID: tokenID, Price: 0.42, Timestamp: time.Now().UTC()}, nil
}

type memRecorder struct {
	mu      sync.Mutex
	samples []timescale.PriceSample
}

func (m *memRecorder) EnqueuePrice(sample timescale.PriceSample) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.samples = append(m.samples, sample)
}

func (m *memRecorder) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.samples)
}

func TestInterval(t *testing.T) {
	h := NewHub(&fixedSource{}, nil, nil, nil, config.RealtimeConfig{}, nil, zap.NewNop())
	defer h.Close()
	require.Equal(t, DefaultInterval, h.Interval(0))
	require.Equal(t, MinInterval, h.Interval(10))
	require.Equal(t, 2*time.Second, h.Interval(2000))
}

func TestSubscribeRequiresToken(t *testing.T) {
	h := NewHub(&fixedSource{}, nil, nil, nil, fastConfig, nil, zap.NewNop())
	defer h.Close()
	err := h.Subscribe(context.Background(), &fakeSink{}, Request{Type: TypeSubscribePrice})
	require.ErrorIs(t, err, errs.ErrValidation)
	require.Zero(t, h.Subscriptions())
}

func TestMarketSubscriptionPushesPrices(t *testing.T) {
	src := &fixedSource{}
	rec := &memRecorder{}
	engine := alerts.NewEngine(zap.NewNop(), nil, nil)
	_, err := engine.Create(alerts.Spec{AccountID: "acc_1", TokenID: "tok", Condition: alerts.PriceAbove, Threshold: 0.1})
	require.NoError(t, err)

	h := NewHub(src, nil, engine, rec, fastConfig, nil, zap.NewNop())
	defer h.Close()
	sink := &fakeSink{}
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, h.Subscribe(ctx, sink, Request{TokenID: "tok"}))

	require.Eventually(t, func() bool { return len(sink.ofType(TypePriceUpdate)) >= 2 }, time.Second, testInterval)
	update := sink.ofType(TypePriceUpdate)[0]
	require.Equal(t, 0.42, update.Data.(clob.PriceData).Price)
	require.Empty(t, sink.ofType(TypeAlertTriggered), "market-only subscriptions do not evaluate alerts")
	require.Greater(t, rec.count(), 0)

	cancel()
	require.Eventually(t, func() bool { return h.Subscriptions() == 0 }, time.Second, testInterval)
}

func TestAccountSubscriptionTriggersAlertsOnce(t *testing.T) {
	fake := clobtest.New()
	fake.QueuePrices("tok",
		clob.PriceData{Price: 0.49},
		clob.PriceData{Price: 0.51},
	)
	engine := alerts.NewEngine(zap.NewNop(), nil, nil)
	alert, err := engine.Create(alerts.Spec{AccountID: "acc_1", TokenID: "tok", Condition: alerts.PriceAbove, Threshold: 0.5})
	require.NoError(t, err)

	h := NewHub(nil, clientMap{"acc_1": fake}, engine, nil, fastConfig, nil, zap.NewNop())
	defer h.Close()
	sink := &fakeSink{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, h.Subscribe(ctx, sink, Request{TokenID: "tok", AccountID: "acc_1"}))

	require.Eventually(t, func() bool { return len(sink.ofType(TypePriceUpdate)) >= 4 }, time.Second, testInterval)
	fired := sink.ofType(TypeAlertTriggered)
	require.Len(t, fired, 1)
	batch := fired[0].Data.([]alerts.Alert)
	require.Len(t, batch, 1)
	require.Equal(t, alert.ID, batch[0].ID)
	require.NotNil(t, batch[0].TriggeredAt)

	cached, ok := engine.LatestPrice("tok")
	require.True(t, ok)
	require.Equal(t, 0.51, cached.Price)
}

func TestMissingAccountEndsSubscription(t *testing.T) {
	h := NewHub(nil, clientMap{}, nil, nil, fastConfig, nil, zap.NewNop())
	defer h.Close()
	sink := &fakeSink{}
	require.NoError(t, h.Subscribe(context.Background(), sink, Request{TokenID: "tok", AccountID: "acc_gone"}))

	require.Eventually(t, func() bool { return h.Subscriptions() == 0 }, time.Second, testInterval)
	msgs := sink.messages()
	require.Len(t, msgs, 1)
	require.Equal(t, TypeError, msgs[0].Type)
	require.Equal(t, "account not found", msgs[0].Error)
}

func TestUpstreamFailureKeepsSampling(t *testing.T) {
	src := &fixedSource{err: errors.New("timeout")}
	h := NewHub(src, nil, nil, nil, fastConfig, nil, zap.NewNop())
	defer h.Close()
	sink := &fakeSink{}
	require.NoError(t, h.Subscribe(context.Background(), sink, Request{TokenID: "tok"}))

	require.Eventually(t, func() bool { return len(sink.ofType(TypeError)) >= 3 }, time.Second, testInterval)
	require.Equal(t, 1, h.Subscriptions())
	require.Empty(t, sink.ofType(TypePriceUpdate))
	errMsg := sink.ofType(TypeError)[0]
	require.Equal(t, "tok", errMsg.TokenID)
	require.Equal(t, "timeout", errMsg.Error)

	src.mu.Lock()
	src.err = nil
	src.mu.Unlock()
	require.Eventually(t, func() bool { return len(sink.ofType(TypePriceUpdate)) > 0 }, time.Second, testInterval)
}

func TestSinkFailureEndsSubscription(t *testing.T) {
	h := NewHub(&fixedSource{}, nil, nil, nil, fastConfig, nil, zap.NewNop())
	defer h.Close()
	sink := &fakeSink{err: errors.New("closed")}
	require.NoError(t, h.Subscribe(context.Background(), sink, Request{TokenID: "tok"}))
	require.Eventually(t, func() bool { return h.Subscriptions() == 0 }, time.Second, testInterval)
}

func TestSubscriptionsAreIndependent(t *testing.T) {
	src := &fixedSource{}
	h := NewHub(src, nil, nil, nil, fastConfig, nil, zap.NewNop())
	defer h.Close()
	a, b := &fakeSink{}, &fakeSink{}
	ctxA, cancelA := context.WithCancel(context.Background())
	require.NoError(t, h.Subscribe(ctxA, a, Request{TokenID: "tok"}))
	require.NoError(t, h.Subscribe(context.Background(), b, Request{TokenID: "tok"}))
	require.Equal(t, 2, h.Subscriptions())

	cancelA()
	require.Eventually(t, func() bool { return h.Subscriptions() == 1 }, time.Second, testInterval)
	n := len(b.messages())
	require.Eventually(t, func() bool { return len(b.messages()) > n }, time.Second, testInterval)
}

func TestWebsocketSubscribeJSON(t *testing.T) {
	h := NewHub(&fixedSource{}, nil, nil, nil, fastConfig, nil, zap.NewNop())
	server := httptest.NewServer(h)
	defer server.Close()
	defer h.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, wsURL(server.URL), nil)
	require.NoError(t, err)

	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(`{"type":"subscribe_price","tokenId":"tok","interval":10}`)))
	typ, data, err := conn.Read(ctx)
	require.NoError(t, err)
	require.Equal(t, websocket.MessageText, typ)

	var env Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	require.Equal(t, TypePriceUpdate, env.Type)
	var price clob.PriceData
	require.NoError(t, json.Unmarshal(env.Data, &price))
	require.Equal(t, "tok", price.TokenID)
	require.Equal(t, 0.42, price.Price)

	require.NoError(t, conn.Close(websocket.StatusNormalClosure, ""))
	require.Eventually(t, func() bool { return h.Subscriptions() == 0 }, time.Second, testInterval)
}

func TestWebsocketSubscribeMsgpack(t *testing.T) {
	h := NewHub(&fixedSource{}, nil, nil, nil, fastConfig, nil, zap.NewNop())
	server := httptest.NewServer(h)
	defer server.Close()
	defer h.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, wsURL(server.URL), nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	req, err := msgpack.Marshal(Request{Type: TypeSubscribePrice, TokenID: "tok", Interval: 10, Format: FormatMsgpack})
	require.NoError(t, err)
	require.NoError(t, conn.Write(ctx, websocket.MessageBinary, req))

	typ, data, err := conn.Read(ctx)
	require.NoError(t, err)
	require.Equal(t, websocket.MessageBinary, typ)
	var msg struct {
		Type string         `msgpack:"type"`
		Data clob.PriceData `msgpack:"data"`
	}
	require.NoError(t, msgpack.Unmarshal(data, &msg))
	require.Equal(t, TypePriceUpdate, msg.Type)
	require.Equal(t, 0.42, msg.Data.Price)
}

func TestWebsocketRejectsBadMessages(t *testing.T) {
	h := NewHub(&fixedSource{}, nil, nil, nil, fastConfig, nil, zap.NewNop())
	server := httptest.NewServer(h)
	defer server.Close()
	defer h.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, wsURL(server.URL), nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	for _, raw := range []string{
		`not json`,
		`{"type":"subscribe_price"}`,
		`{"type":"subscribe_price","tokenId":"tok","format":"xml"}`,
		`{"type":"ping"}`,
	} {
		require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(raw)))
		_, data, err := conn.Read(ctx)
		require.NoError(t, err)
		var env Envelope
		require.NoError(t, json.Unmarshal(data, &env))
		require.Equal(t, TypeError, env.Type, raw)
		require.NotEmpty(t, env.Error)
	}
	require.Zero(t, h.Subscriptions())
}

func TestClientReceivesUpdates(t *testing.T) {
	h := NewHub(&fixedSource{}, nil, nil, nil, fastConfig, nil, zap.NewNop())
	server := httptest.NewServer(h)
	defer server.Close()
	defer h.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	client := NewClient(wsURL(server.URL), 10*time.Millisecond, zap.NewNop())
	require.NoError(t, client.Connect(ctx))
	require.NoError(t, client.Subscribe(ctx, Request{TokenID: "tok", Interval: 10}))

	got := make(chan Envelope, 1)
	runCtx, runCancel := context.WithCancel(ctx)
	defer runCancel()
	go func() {
		_ = client.Run(runCtx, func(env Envelope) {
			select {
			case got <- env:
			default:
			}
		})
	}()

	select {
	case env := <-got:
		require.Equal(t, TypePriceUpdate, env.Type)
		require.Equal(t, "tok", env.TokenID)
	case <-ctx.Done():
		t.Fatalf("timed out waiting for price update")
	}
}

func TestClientResubscribesBeforeFirstConnect(t *testing.T) {
	client := NewClient("ws://127.0.0.1:0", time.Millisecond, zap.NewNop())
	err := client.Subscribe(context.Background(), Request{TokenID: "tok"})
	require.Error(t, err)
	require.Len(t, client.subs, 1)
	require.Equal(t, TypeSubscribePrice, client.subs[0].Type)
	require.Equal(t, FormatJSON, client.subs[0].Format)
}

func wsURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http")
}
