package app

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"poly-trade-bot/internal/config"
	"poly-trade-bot/internal/state/sqlite"

	"go.uber.org/zap"
)

const testKey = "4f3edf983ac636a65a842ce7c78d9aa706d3b113bce036f81af8f9b72d3d80b2"

func fakeCLOB(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/time", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`1700000000`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestApp(t *testing.T) *App {
	t.Helper()
	cfg := config.Default()
	cfg.CLOB.BaseURL = fakeCLOB(t).URL
	cfg.CLOB.Timeout = time.Second
	cfg.Scheduler.Period = time.Hour
	cfg.HTTP.Addr = "127.0.0.1:0"
	cfg.State.SQLitePath = ""
	cfg.Timescale.Enabled = false
	cfg.Telegram = config.TelegramConfig{}
	a, err := New(cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	t.Cleanup(func() {
		a.hub.Close()
		a.scheduler.Close()
	})
	return a
}

func call(t *testing.T, h http.Handler, method, path, body string) (int, string) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, reader))
	return rec.Code, rec.Body.String()
}

func TestAppWiresAccountDeletion(t *testing.T) {
	a := newTestApp(t)
	h := a.Handler()

	code, body := call(t, h, http.MethodPost, "/api/accounts", `{"name":"main","privateKey":"`+testKey+`"}`)
	if code != http.StatusCreated {
		t.Fatalf("create account: %d %s", code, body)
	}
	var acc struct {
		ID      string `json:"id"`
		ChainID int64  `json:"chainId"`
	}
	if err := json.Unmarshal([]byte(body), &acc); err != nil {
		t.Fatalf("decode account: %v", err)
	}
	if acc.ChainID != 137 {
		t.Fatalf("expected chain 137, got %d", acc.ChainID)
	}

	code, body = call(t, h, http.MethodPost, "/api/strategies",
		`{"accountId":"`+acc.ID+`","type":"momentum","enabled":true,"config":{"tokenId":"tok","lookbackPeriod":5,"momentumThreshold":0.02,"size":1}}`)
	if code != http.StatusCreated {
		t.Fatalf("create strategy: %d %s", code, body)
	}
	code, body = call(t, h, http.MethodPost, "/api/alerts", `{"accountId":"`+acc.ID+`","tokenId":"tok","condition":"PRICE_ABOVE","threshold":0.6}`)
	if code != http.StatusCreated {
		t.Fatalf("create alert: %d %s", code, body)
	}
	if _, running := a.strategyCounts(); running != 1 {
		t.Fatalf("expected one running strategy, got %d", running)
	}

	code, _ = call(t, h, http.MethodDelete, "/api/accounts/"+acc.ID, "")
	if code != http.StatusOK {
		t.Fatalf("delete account: %d", code)
	}
	if _, running := a.strategyCounts(); running != 0 {
		t.Fatalf("expected strategies stopped after account delete, got %d running", running)
	}
	if n := len(a.alerts.List()); n != 0 {
		t.Fatalf("expected alerts removed with account, got %d", n)
	}
}

func TestAppServesMetricsAndNetworkTest(t *testing.T) {
	a := newTestApp(t)
	h := a.Handler()

	code, body := call(t, h, http.MethodGet, "/api/network/test", "")
	if code != http.StatusOK || !strings.Contains(body, `"success":true`) {
		t.Fatalf("network test: %d %s", code, body)
	}
	code, body = call(t, h, http.MethodGet, "/metrics", "")
	if code != http.StatusOK {
		t.Fatalf("metrics: %d", code)
	}
	if !strings.Contains(body, "poly_trade_bot_running_strategies") {
		t.Fatalf("expected prometheus output, got %s", body)
	}
}

func TestOpenStoreSQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.db")
	store, err := openStore(config.StateConfig{SQLitePath: path})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()
	if _, ok := store.(*sqlite.Store); !ok {
		t.Fatalf("expected sqlite store, got %T", store)
	}
	if err := store.Set(context.Background(), "k", "v"); err != nil {
		t.Fatalf("set: %v", err)
	}
	val, ok, err := store.Get(context.Background(), "k")
	if err != nil || !ok || val != "v" {
		t.Fatalf("unexpected get: %q %v %v", val, ok, err)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	a := newTestApp(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context canceled, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("run did not return after cancel")
	}
}
