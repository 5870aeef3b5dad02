package app

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"poly-trade-bot/internal/account"
	"poly-trade-bot/internal/alerts"
	"poly-trade-bot/internal/api"
	"poly-trade-bot/internal/config"
	"poly-trade-bot/internal/exec"
	"poly-trade-bot/internal/market"
	"poly-trade-bot/internal/metrics"
	"poly-trade-bot/internal/realtime"
	"poly-trade-bot/internal/scheduler"
	"poly-trade-bot/internal/state"
	"poly-trade-bot/internal/state/sqlite"
	"poly-trade-bot/internal/timescale"

	"go.uber.org/zap"
)

type App struct {
	cfg       *config.Config
	log       *zap.Logger
	store     state.Store
	timescale *timescale.Writer
	metrics   *metrics.Metrics
	telegram  *alerts.Telegram
	alerts    *alerts.Engine
	accounts  *account.Registry
	market    *market.MarketData
	executor  *exec.Executor
	scheduler *scheduler.Scheduler
	hub       *realtime.Hub
	server    *api.Server
	startedAt time.Time

	opsMu          sync.RWMutex
	paused         bool
	riskOverride   *config.RiskConfig
	operatorWarned bool
}

func New(cfg *config.Config, log *zap.Logger) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if log == nil {
		log = zap.NewNop()
	}
	store, err := openStore(cfg.State)
	if err != nil {
		return nil, err
	}
	writer, err := timescale.New(cfg.Timescale, log.Named("timescale"))
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	m := metrics.NewNoop()
	var metricsHandler http.Handler
	if cfg.Metrics.EnabledValue() {
		prom := metrics.NewPrometheus()
		m = prom.Metrics
		metricsHandler = prom.Handler()
	}

	telegram := alerts.NewTelegram(cfg.Telegram, log.Named("telegram"))
	engine := alerts.NewEngine(log.Named("alerts"), m, telegram)
	accounts := account.NewRegistry(account.ExchangeFactory(cfg.CLOB.BaseURL, cfg.CLOB.Timeout, store, log.Named("exchange")), log.Named("accounts"))
	accounts.SetDefaultChainID(cfg.CLOB.DefaultChainID)
	marketData := market.NewREST(cfg.CLOB.BaseURL, cfg.CLOB.Timeout, log.Named("market"))
	executor := exec.New(cfg.Risk, m, writer, log.Named("exec"))
	sched := scheduler.New(nil, accounts, executor, cfg.Scheduler, m, log.Named("scheduler"))
	hub := realtime.NewHub(marketData, accounts, engine, writer, cfg.Realtime, m, log.Named("realtime"))

	accounts.OnDelete(sched.StopAccount)
	accounts.OnDelete(func(id string) {
		if n := engine.DeleteByAccount(id); n > 0 {
			log.Info("alerts removed with account", zap.String("account_id", id), zap.Int("count", n))
		}
	})

	server := api.NewServer(cfg.HTTP.Addr, api.Deps{
		Accounts:    accounts,
		Markets:     marketData,
		Alerts:      engine,
		Scheduler:   sched,
		Executor:    executor,
		Realtime:    hub,
		Metrics:     metricsHandler,
		MetricsPath: cfg.Metrics.Path,
	}, log.Named("http"))

	return &App{
		cfg:       cfg,
		log:       log,
		store:     store,
		timescale: writer,
		metrics:   m,
		telegram:  telegram,
		alerts:    engine,
		accounts:  accounts,
		market:    marketData,
		executor:  executor,
		scheduler: sched,
		hub:       hub,
		server:    server,
		startedAt: time.Now(),
	}, nil
}

// openStore uses sqlite when a path is configured and memory otherwise.
func openStore(cfg config.StateConfig) (state.Store, error) {
	path := strings.TrimSpace(cfg.SQLitePath)
	if path == "" {
		return state.NewMemory(), nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return sqlite.New(path)
}

// Handler exposes the HTTP surface without binding a listener.
func (a *App) Handler() http.Handler {
	return a.server.Handler()
}

func (a *App) Run(ctx context.Context) error {
	defer a.close()
	a.timescale.Start(ctx)

	pingCtx, cancel := context.WithTimeout(ctx, a.cfg.CLOB.Timeout)
	latency, err := a.market.Ping(pingCtx)
	cancel()
	if err != nil {
		a.log.Warn("exchange unreachable at startup", zap.String("base_url", a.cfg.CLOB.BaseURL), zap.Error(err))
	} else {
		a.log.Info("exchange reachable", zap.String("base_url", a.cfg.CLOB.BaseURL), zap.Duration("latency", latency))
	}

	a.startOperator(ctx)

	errCh := make(chan error, 1)
	go func() {
		errCh <- a.server.Start()
	}()

	var runErr error
	select {
	case <-ctx.Done():
		runErr = ctx.Err()
	case err := <-errCh:
		runErr = err
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), a.cfg.HTTP.ShutdownTimeout)
	defer cancelShutdown()
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.log.Warn("http shutdown failed", zap.Error(err))
	}
	return runErr
}

func (a *App) close() {
	a.hub.Close()
	stopped := a.scheduler.StopAll()
	a.scheduler.Close()
	a.log.Info("shutdown complete", zap.Int("strategies_stopped", stopped))
	if err := a.timescale.Close(); err != nil {
		a.log.Warn("timescale close failed", zap.Error(err))
	}
	if err := a.store.Close(); err != nil {
		a.log.Warn("state store close failed", zap.Error(err))
	}
	_ = a.log.Sync()
}

// strategyCounts reports how many strategies exist and how many are running.
func (a *App) strategyCounts() (total, running int) {
	recs := a.scheduler.List()
	for _, rec := range recs {
		if rec.Status == scheduler.StateRunning {
			running++
		}
	}
	return len(recs), running
}
