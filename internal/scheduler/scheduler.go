// Package scheduler owns strategy records and runs each enabled strategy on a
// fixed period against its account's client.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"poly-trade-bot/internal/account"
	"poly-trade-bot/internal/clob"
	"poly-trade-bot/internal/config"
	"poly-trade-bot/internal/errs"
	"poly-trade-bot/internal/exec"
	"poly-trade-bot/internal/metrics"
	"poly-trade-bot/internal/strategy"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const DefaultPeriod = 30 * time.Second

// Accounts resolves the account a strategy trades for.
type Accounts interface {
	Get(id string) (account.Account, bool)
	Client(id string) (account.Client, bool)
}

type Record struct {
	ID        string         `json:"id"`
	AccountID string         `json:"accountId"`
	Name      string         `json:"name"`
	Type      string         `json:"type"`
	Config    map[string]any `json:"config"`
	Enabled   bool           `json:"enabled"`
	Status    State          `json:"status"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
	LastRun   *RunInfo       `json:"lastRun,omitempty"`
}

// RunInfo describes the most recent completed tick.
type RunInfo struct {
	At      time.Time `json:"at"`
	Success bool      `json:"success"`
	Message string    `json:"message,omitempty"`
	Error   string    `json:"error,omitempty"`
	Orders  int       `json:"orders"`
}

type Spec struct {
	AccountID string         `json:"accountId"`
	Name      string         `json:"name"`
	Type      string         `json:"type"`
	Config    map[string]any `json:"config"`
	Enabled   bool           `json:"enabled"`
}

// Patch fields left nil are unchanged. A non-nil Config replaces the whole
// blob.
type Patch struct {
	AccountID *string        `json:"accountId"`
	Name      *string        `json:"name"`
	Type      *string        `json:"type"`
	Config    map[string]any `json:"config"`
	Enabled   *bool          `json:"enabled"`
}

type Scheduler struct {
	registry  *strategy.Registry
	accounts  Accounts
	executor  *exec.Executor
	period    time.Duration
	hotReload bool
	metrics   *metrics.Metrics
	log       *zap.Logger
	now       func() time.Time

	root   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	entries map[string]*entry
	closed  bool
}

type entry struct {
	rec Record
	sm  *StateMachine
	run *run
	// inFlight outlives restarts so a new timer waits out an execution
	// started by the one it replaced.
	inFlight atomic.Bool
}

// run is one armed timer. A restart replaces it; ticks from a replaced run
// still record their result.
type run struct {
	cancel   context.CancelFunc
	inFlight *atomic.Bool
}

func New(registry *strategy.Registry, accounts Accounts, executor *exec.Executor, cfg config.SchedulerConfig, m *metrics.Metrics, log *zap.Logger) *Scheduler {
	if log == nil {
		log = zap.NewNop()
	}
	if registry == nil {
		registry = strategy.DefaultRegistry()
	}
	if executor == nil {
		executor = exec.New(config.RiskConfig{}, m, nil, log)
	}
	period := cfg.Period
	if period <= 0 {
		period = DefaultPeriod
	}
	root, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		registry:  registry,
		accounts:  accounts,
		executor:  executor,
		period:    period,
		hotReload: cfg.HotReloadValue(),
		metrics:   metrics.OrNoop(m),
		log:       log,
		now:       time.Now,
		root:      root,
		cancel:    cancel,
		entries:   make(map[string]*entry),
	}
}

func (s *Scheduler) Types() []string {
	return s.registry.Types()
}

// Create stores a strategy and starts it when enabled. The type must be
// registered, the account must exist and the config must validate.
func (s *Scheduler) Create(spec Spec) (Record, error) {
	spec.AccountID = strings.TrimSpace(spec.AccountID)
	spec.Type = strings.TrimSpace(spec.Type)
	if err := s.check(spec.AccountID, spec.Type, spec.Config); err != nil {
		return Record{}, err
	}
	now := s.now().UTC()
	rec := Record{
		ID:        "strategy_" + uuid.NewString(),
		AccountID: spec.AccountID,
		Name:      strings.TrimSpace(spec.Name),
		Type:      spec.Type,
		Config:    copyConfig(spec.Config),
		Enabled:   spec.Enabled,
		Status:    StateStopped,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if rec.Name == "" {
		rec.Name = rec.Type
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	e := &entry{rec: rec, sm: NewStateMachine()}
	s.entries[rec.ID] = e
	s.log.Info("strategy created",
		zap.String("strategy_id", rec.ID),
		zap.String("account_id", rec.AccountID),
		zap.String("type", rec.Type),
	)
	if rec.Enabled {
		s.startLocked(e)
	}
	return s.snapshot(e), nil
}

func (s *Scheduler) check(accountID, typ string, cfg map[string]any) error {
	if accountID == "" {
		return errs.Validation("accountId is required")
	}
	if typ == "" {
		return errs.Validation("type is required")
	}
	if !s.registry.Has(typ) {
		return errs.Validation("unknown strategy type %q", typ)
	}
	if s.accounts == nil {
		return errs.NotFound("account %s not found", accountID)
	}
	if _, ok := s.accounts.Get(accountID); !ok {
		return errs.NotFound("account %s not found", accountID)
	}
	strat, ok := s.registry.Create(typ, strategy.Context{AccountID: accountID, Config: cfg, Log: s.log})
	if !ok {
		return errs.Validation("unknown strategy type %q", typ)
	}
	return strat.Validate()
}

func (s *Scheduler) Get(id string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return Record{}, false
	}
	return s.snapshot(e), true
}

// List returns strategies ordered by creation time.
func (s *Scheduler) List() []Record {
	return s.filter(func(*Record) bool { return true })
}

func (s *Scheduler) ListByAccount(accountID string) []Record {
	return s.filter(func(r *Record) bool { return r.AccountID == accountID })
}

func (s *Scheduler) filter(keep func(*Record) bool) []Record {
	s.mu.Lock()
	out := make([]Record, 0, len(s.entries))
	for _, e := range s.entries {
		if keep(&e.rec) {
			out = append(out, s.snapshot(e))
		}
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Update applies patch. Toggling Enabled starts or stops the strategy. With
// hot reload on, a running strategy whose type, account or config changed is
// restarted so the new settings take effect.
func (s *Scheduler) Update(id string, patch Patch) (Record, bool, error) {
	s.mu.Lock()
	e, ok := s.entries[id]
	if !ok {
		s.mu.Unlock()
		return Record{}, false, nil
	}
	next := e.rec
	s.mu.Unlock()

	reload := false
	if patch.AccountID != nil {
		if accountID := strings.TrimSpace(*patch.AccountID); accountID != next.AccountID {
			next.AccountID = accountID
			reload = true
		}
	}
	if patch.Type != nil {
		if typ := strings.TrimSpace(*patch.Type); typ != next.Type {
			next.Type = typ
			reload = true
		}
	}
	if patch.Config != nil {
		next.Config = copyConfig(patch.Config)
		reload = true
	}
	if patch.Name != nil {
		next.Name = strings.TrimSpace(*patch.Name)
	}
	if reload {
		if err := s.check(next.AccountID, next.Type, next.Config); err != nil {
			return Record{}, true, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok = s.entries[id]
	if !ok {
		return Record{}, false, nil
	}
	wasEnabled := e.rec.Enabled
	e.rec.AccountID = next.AccountID
	e.rec.Type = next.Type
	e.rec.Config = next.Config
	e.rec.Name = next.Name
	if patch.Enabled != nil {
		e.rec.Enabled = *patch.Enabled
	}
	e.rec.UpdatedAt = s.now().UTC()

	switch {
	case patch.Enabled != nil && *patch.Enabled != wasEnabled:
		if e.rec.Enabled {
			s.startLocked(e)
		} else {
			s.stopLocked(e)
		}
	case reload && s.hotReload && e.sm.State() == StateRunning:
		s.log.Info("strategy reloading", zap.String("strategy_id", id))
		s.startLocked(e)
	}
	return s.snapshot(e), true, nil
}

// Delete stops the strategy and removes it.
func (s *Scheduler) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return false
	}
	s.stopLocked(e)
	delete(s.entries, id)
	s.log.Info("strategy deleted", zap.String("strategy_id", id))
	return true
}

// Start arms the strategy's timer, replacing any existing one. Missing or
// disabled strategies are ignored. If the account or its client is gone the
// strategy stays stopped.
func (s *Scheduler) Start(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[id]; ok {
		s.startLocked(e)
	}
}

// Stop cancels future ticks. A tick already executing runs to completion.
func (s *Scheduler) Stop(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[id]; ok {
		s.stopLocked(e)
	}
}

// StopAccount stops every strategy bound to accountID. It is registered as
// the account delete hook.
func (s *Scheduler) StopAccount(accountID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if e.rec.AccountID == accountID && e.run != nil {
			s.stopLocked(e)
			s.log.Info("strategy stopped with account",
				zap.String("strategy_id", e.rec.ID),
				zap.String("account_id", accountID),
			)
		}
	}
}

func (s *Scheduler) Running(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	return ok && e.sm.State() == StateRunning
}

// StopAll stops every running strategy and reports how many were stopped.
func (s *Scheduler) StopAll() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.entries {
		if e.run != nil {
			s.stopLocked(e)
			n++
		}
	}
	return n
}

// StartEnabled starts every enabled strategy that is not running.
func (s *Scheduler) StartEnabled() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.entries {
		if e.rec.Enabled && e.run == nil {
			s.startLocked(e)
			if e.run != nil {
				n++
			}
		}
	}
	return n
}

// Close stops all timers, cancels in-flight ticks and waits for them.
func (s *Scheduler) Close() {
	s.mu.Lock()
	for _, e := range s.entries {
		s.stopLocked(e)
	}
	s.closed = true
	s.mu.Unlock()
	s.cancel()
	s.wg.Wait()
}

func (s *Scheduler) startLocked(e *entry) {
	if !e.rec.Enabled || s.closed {
		return
	}
	s.stopLocked(e)
	log := s.log.With(zap.String("strategy_id", e.rec.ID), zap.String("account_id", e.rec.AccountID))
	if s.accounts == nil {
		log.Warn("strategy not started: no account registry")
		return
	}
	acc, ok := s.accounts.Get(e.rec.AccountID)
	if !ok {
		log.Warn("strategy not started: account not found")
		return
	}
	if !acc.Enabled {
		log.Warn("strategy not started: account disabled")
		return
	}
	client, ok := s.accounts.Client(e.rec.AccountID)
	if !ok {
		log.Warn("strategy not started: account client unavailable")
		return
	}
	origin := exec.Origin{AccountID: e.rec.AccountID, StrategyID: e.rec.ID}
	strat, ok := s.registry.Create(e.rec.Type, strategy.Context{
		StrategyID: e.rec.ID,
		AccountID:  e.rec.AccountID,
		Trader:     trader{client: client, placer: s.executor.Bind(client, origin)},
		Config:     copyConfig(e.rec.Config),
		Log:        log,
	})
	if !ok {
		log.Warn("strategy not started: unknown type", zap.String("type", e.rec.Type))
		return
	}

	ctx, cancel := context.WithCancel(s.root)
	r := &run{cancel: cancel, inFlight: &e.inFlight}
	e.run = r
	e.sm.Apply(EventStart)
	s.metrics.RunningStrategies.Inc()
	log.Info("strategy started", zap.String("type", e.rec.Type), zap.Duration("period", s.period))

	s.wg.Add(1)
	go s.loop(ctx, e.rec.ID, e.rec.AccountID, r, strat, log)
}

func (s *Scheduler) stopLocked(e *entry) {
	if e.run == nil {
		return
	}
	e.run.cancel()
	e.run = nil
	e.sm.Apply(EventStop)
	s.metrics.RunningStrategies.Dec()
	s.log.Info("strategy stopped", zap.String("strategy_id", e.rec.ID))
}

func (s *Scheduler) loop(ctx context.Context, id, accountID string, r *run, strat strategy.Strategy, log *zap.Logger) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx, id, accountID, r, strat, log)
		}
	}
}

// tick starts one execution unless the previous one is still running. The
// execution uses the scheduler's root context, so stopping the strategy does
// not abort an order already on its way.
func (s *Scheduler) tick(ctx context.Context, id, accountID string, r *run, strat strategy.Strategy, log *zap.Logger) {
	if ctx.Err() != nil {
		return
	}
	if _, ok := s.accounts.Client(accountID); !ok {
		log.Warn("account gone, stopping strategy")
		s.stopRun(id, r)
		return
	}
	if !r.inFlight.CompareAndSwap(false, true) {
		s.metrics.StrategyTicksSkipped.Inc()
		log.Warn("strategy tick skipped: previous tick still running")
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer r.inFlight.Store(false)
		res := s.execute(strat, log)
		s.recordRun(id, res)
	}()
}

func (s *Scheduler) execute(strat strategy.Strategy, log *zap.Logger) (res strategy.Result) {
	s.metrics.StrategyTicks.Inc()
	defer func() {
		if p := recover(); p != nil {
			res = strategy.Result{Message: "strategy panicked", Err: fmt.Errorf("panic: %v", p)}
		}
		if !res.Success {
			s.metrics.StrategyTickFailures.Inc()
			log.Warn("strategy tick failed", zap.String("message", res.Message), zap.Error(res.Err))
			return
		}
		log.Debug("strategy tick", zap.String("message", res.Message), zap.Int("orders", len(res.Orders)))
	}()
	return strat.Execute(s.root)
}

func (s *Scheduler) recordRun(id string, res strategy.Result) {
	info := &RunInfo{
		At:      s.now().UTC(),
		Success: res.Success,
		Message: res.Message,
		Error:   res.Error(),
		Orders:  len(res.Orders),
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[id]; ok {
		e.rec.LastRun = info
	}
}

// stopRun stops id only if r is still its current run.
func (s *Scheduler) stopRun(id string, r *run) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[id]; ok && e.run == r {
		s.stopLocked(e)
	}
}

func (s *Scheduler) snapshot(e *entry) Record {
	rec := e.rec
	rec.Status = e.sm.State()
	rec.Config = copyConfig(e.rec.Config)
	if e.rec.LastRun != nil {
		last := *e.rec.LastRun
		rec.LastRun = &last
	}
	return rec
}

func copyConfig(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// trader routes a strategy's reads to its account client and its orders
// through the executor.
type trader struct {
	client account.Client
	placer exec.Placer
}

func (t trader) OrderBook(ctx context.Context, tokenID string) (clob.OrderBook, error) {
	return t.client.OrderBook(ctx, tokenID)
}

func (t trader) PriceData(ctx context.Context, tokenID string) (clob.PriceData, error) {
	return t.client.PriceData(ctx, tokenID)
}

func (t trader) PlaceOrder(ctx context.Context, req clob.OrderRequest) (clob.Order, error) {
	return t.placer.PlaceOrder(ctx, req)
}
