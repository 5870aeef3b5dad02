package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"poly-trade-bot/internal/account"
	"poly-trade-bot/internal/clob"
	"poly-trade-bot/internal/clob/clobtest"
	"poly-trade-bot/internal/config"
	"poly-trade-bot/internal/errs"
	"poly-trade-bot/internal/metrics"
	"poly-trade-bot/internal/strategy"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	testKey    = "4f3edf983ac636a65a842ce7c78d9aa706d3b113bce036f81af8f9b72d3d80b2"
	testPeriod = 10 * time.Millisecond
)

type counter struct{ n atomic.Int64 }

func (c *counter) Inc()        { c.n.Add(1) }
func (c *counter) Load() int64 { return c.n.Load() }

// stub counts executions per instance. Every Start builds a new instance.
type stub struct {
	id    int
	ticks atomic.Int64
	block chan struct{}
	fail  bool
}

func (p *stub) Execute(ctx context.Context) strategy.Result {
	p.ticks.Add(1)
	if p.block != nil {
		<-p.block
	}
	if p.fail {
		return strategy.Result{Message: "boom", Err: errors.New("boom")}
	}
	return strategy.Result{Success: true}
}

func (p *stub) Validate() error {
	return nil
}

func (p *stub) Describe() string {
	return "stub"
}

type stubs struct {
	mu        sync.Mutex
	instances []*stub
	configs   []map[string]any
	block     chan struct{}
	fail      bool
}

func (ps *stubs) ctor(sc strategy.Context) strategy.Strategy {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	p := &stub{id: len(ps.instances), block: ps.block, fail: ps.fail}
	if sc.Trader != nil {
		ps.instances = append(ps.instances, p)
		ps.configs = append(ps.configs, sc.Config)
	}
	return p
}

func (ps *stubs) started() []*stub {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return append([]*stub(nil), ps.instances...)
}

type fixture struct {
	sched    *Scheduler
	accounts *account.Registry
	stubs    *stubs
	skipped  *counter
	failures *counter
	accID    string
}

func newFixture(t *testing.T, hotReload bool, block chan struct{}) *fixture {
	t.Helper()
	accounts := account.NewRegistry(func(account.Account) account.Client { return clobtest.New() }, zap.NewNop())
	acc, err := accounts.Create(account.Spec{PrivateKey: testKey})
	require.NoError(t, err)

	ps := &stubs{block: block}
	reg := strategy.DefaultRegistry()
	reg.Register("stub", ps.ctor)

	m := metrics.NewNoop()
	skipped, failures := &counter{}, &counter{}
	m.StrategyTicksSkipped = skipped
	m.StrategyTickFailures = failures

	sched := New(reg, accounts, nil, config.SchedulerConfig{Period: testPeriod, HotReload: &hotReload}, m, zap.NewNop())
	accounts.OnDelete(sched.StopAccount)
	t.Cleanup(sched.Close)
	return &fixture{sched: sched, accounts: accounts, stubs: ps, skipped: skipped, failures: failures, accID: acc.ID}
}

func TestCreateValidates(t *testing.T) {
	f := newFixture(t, true, nil)

	_, err := f.sched.Create(Spec{Type: "stub"})
	require.ErrorIs(t, err, errs.ErrValidation)

	_, err = f.sched.Create(Spec{AccountID: "acc_missing", Type: "stub"})
	require.ErrorIs(t, err, errs.ErrNotFound)

	_, err = f.sched.Create(Spec{AccountID: f.accID, Type: "arbitrage"})
	require.ErrorIs(t, err, errs.ErrValidation)

	// the type is checked before the account
	_, err = f.sched.Create(Spec{AccountID: "acc_missing", Type: "arbitrage"})
	require.ErrorIs(t, err, errs.ErrValidation)

	_, err = f.sched.Create(Spec{AccountID: f.accID, Type: strategy.TypeMarketMaker, Config: map[string]any{"tokenId": "tok", "spread": 2, "size": 1}})
	require.ErrorIs(t, err, errs.ErrConfig)

	require.Empty(t, f.sched.List())
}

func TestCreateEnabledStartsTicking(t *testing.T) {
	f := newFixture(t, true, nil)

	rec, err := f.sched.Create(Spec{AccountID: f.accID, Type: "stub", Enabled: true})
	require.NoError(t, err)
	require.Equal(t, StateRunning, rec.Status)
	require.Equal(t, "stub", rec.Name)
	require.True(t, f.sched.Running(rec.ID))

	require.Eventually(t, func() bool {
		ps := f.stubs.started()
		return len(ps) == 1 && ps[0].ticks.Load() >= 2
	}, time.Second, testPeriod)

	require.Eventually(t, func() bool {
		got, ok := f.sched.Get(rec.ID)
		return ok && got.LastRun != nil && got.LastRun.Success
	}, time.Second, testPeriod)
}

func TestCreateDisabledStaysStopped(t *testing.T) {
	f := newFixture(t, true, nil)

	rec, err := f.sched.Create(Spec{AccountID: f.accID, Type: "stub"})
	require.NoError(t, err)
	require.Equal(t, StateStopped, rec.Status)

	f.sched.Start(rec.ID)
	require.False(t, f.sched.Running(rec.ID))
	require.Empty(t, f.stubs.started())
}

func TestStartTwiceKeepsOneTimer(t *testing.T) {
	f := newFixture(t, true, nil)
	rec, err := f.sched.Create(Spec{AccountID: f.accID, Type: "stub", Enabled: true})
	require.NoError(t, err)

	f.sched.Start(rec.ID)
	ps := f.stubs.started()
	require.Len(t, ps, 2)

	time.Sleep(5 * testPeriod)
	first := ps[0].ticks.Load()
	time.Sleep(5 * testPeriod)
	require.Equal(t, first, ps[0].ticks.Load(), "replaced timer kept ticking")
	require.Greater(t, ps[1].ticks.Load(), int64(0))
}

func TestStopIsIdempotent(t *testing.T) {
	f := newFixture(t, true, nil)
	rec, err := f.sched.Create(Spec{AccountID: f.accID, Type: "stub", Enabled: true})
	require.NoError(t, err)

	f.sched.Stop(rec.ID)
	require.False(t, f.sched.Running(rec.ID))
	f.sched.Stop(rec.ID)
	f.sched.Stop("strategy_missing")

	got, ok := f.sched.Get(rec.ID)
	require.True(t, ok)
	require.Equal(t, StateStopped, got.Status)
	require.True(t, got.Enabled)
}

func TestAccountDeleteStopsStrategies(t *testing.T) {
	f := newFixture(t, true, nil)
	rec, err := f.sched.Create(Spec{AccountID: f.accID, Type: "stub", Enabled: true})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		ps := f.stubs.started()
		return len(ps) == 1 && ps[0].ticks.Load() > 0
	}, time.Second, testPeriod)

	require.True(t, f.accounts.Delete(f.accID))
	_, ok := f.accounts.Client(f.accID)
	require.False(t, ok)
	require.False(t, f.sched.Running(rec.ID))

	ticks := f.stubs.started()[0].ticks.Load()
	time.Sleep(5 * testPeriod)
	require.Equal(t, ticks, f.stubs.started()[0].ticks.Load())

	f.sched.Start(rec.ID)
	require.False(t, f.sched.Running(rec.ID))
}

func TestDisabledAccountGatesNewStartsOnly(t *testing.T) {
	f := newFixture(t, true, nil)
	rec, err := f.sched.Create(Spec{AccountID: f.accID, Type: "stub", Enabled: true})
	require.NoError(t, err)
	require.True(t, f.sched.Running(rec.ID))

	off := false
	_, ok, err := f.accounts.Update(f.accID, account.Patch{Enabled: &off})
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, f.sched.Running(rec.ID), "disabling the account stopped a running strategy")

	f.sched.Start(rec.ID)
	require.False(t, f.sched.Running(rec.ID))
}

func TestSlowTickIsSkippedNotOverlapped(t *testing.T) {
	block := make(chan struct{})
	f := newFixture(t, true, block)
	_, err := f.sched.Create(Spec{AccountID: f.accID, Type: "stub", Enabled: true})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return f.skipped.Load() >= 2 }, time.Second, testPeriod)
	require.Equal(t, int64(1), f.stubs.started()[0].ticks.Load())
	close(block)
	require.Eventually(t, func() bool { return f.stubs.started()[0].ticks.Load() >= 2 }, time.Second, testPeriod)
}

func TestRestartWaitsForRunningTick(t *testing.T) {
	block := make(chan struct{})
	f := newFixture(t, true, block)
	rec, err := f.sched.Create(Spec{AccountID: f.accID, Type: "stub", Enabled: true})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		ps := f.stubs.started()
		return len(ps) == 1 && ps[0].ticks.Load() == 1
	}, time.Second, testPeriod)

	f.sched.Start(rec.ID)
	ps := f.stubs.started()
	require.Len(t, ps, 2)
	skipped := f.skipped.Load()
	time.Sleep(10 * testPeriod)
	require.Equal(t, int64(0), ps[1].ticks.Load(), "restarted timer overlapped a running tick")
	require.Greater(t, f.skipped.Load(), skipped)

	close(block)
	require.Eventually(t, func() bool { return ps[1].ticks.Load() >= 1 }, time.Second, testPeriod)
	require.Equal(t, int64(1), ps[0].ticks.Load())
}

func TestFailingTickKeepsTimer(t *testing.T) {
	f := newFixture(t, true, nil)
	f.stubs.fail = true
	rec, err := f.sched.Create(Spec{AccountID: f.accID, Type: "stub", Enabled: true})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return f.failures.Load() >= 3 }, time.Second, testPeriod)
	require.True(t, f.sched.Running(rec.ID))
	require.Eventually(t, func() bool {
		got, _ := f.sched.Get(rec.ID)
		return got.LastRun != nil && !got.LastRun.Success && got.LastRun.Error == "boom"
	}, time.Second, testPeriod)
}

func TestUpdateEnabledToggles(t *testing.T) {
	f := newFixture(t, true, nil)
	rec, err := f.sched.Create(Spec{AccountID: f.accID, Type: "stub"})
	require.NoError(t, err)

	on, off := true, false
	got, ok, err := f.sched.Update(rec.ID, Patch{Enabled: &on})
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, StateRunning, got.Status)

	got, _, err = f.sched.Update(rec.ID, Patch{Enabled: &off})
	require.NoError(t, err)
	require.Equal(t, StateStopped, got.Status)

	_, ok, err = f.sched.Update("strategy_missing", Patch{Enabled: &on})
	require.NoError(t, err)
	require.False(t, ok)
}

func TestUpdateConfigHotReload(t *testing.T) {
	f := newFixture(t, true, nil)
	rec, err := f.sched.Create(Spec{AccountID: f.accID, Type: "stub", Enabled: true, Config: map[string]any{"v": 1}})
	require.NoError(t, err)

	_, _, err = f.sched.Update(rec.ID, Patch{Config: map[string]any{"v": 2}})
	require.NoError(t, err)
	require.Len(t, f.stubs.started(), 2)
	f.stubs.mu.Lock()
	require.Equal(t, 2, f.stubs.configs[1]["v"])
	f.stubs.mu.Unlock()
	require.True(t, f.sched.Running(rec.ID))
}

func TestUpdateConfigWithoutHotReload(t *testing.T) {
	f := newFixture(t, false, nil)
	rec, err := f.sched.Create(Spec{AccountID: f.accID, Type: "stub", Enabled: true})
	require.NoError(t, err)

	name := "renamed"
	got, _, err := f.sched.Update(rec.ID, Patch{Name: &name, Config: map[string]any{"v": 2}})
	require.NoError(t, err)
	require.Equal(t, "renamed", got.Name)
	require.Equal(t, 2, got.Config["v"])
	require.Len(t, f.stubs.started(), 1)
}

func TestUpdateRejectsInvalidConfig(t *testing.T) {
	f := newFixture(t, true, nil)
	rec, err := f.sched.Create(Spec{
		AccountID: f.accID,
		Type:      strategy.TypeMarketMaker,
		Config:    map[string]any{"tokenId": "tok", "spread": 0.1, "size": 1},
	})
	require.NoError(t, err)

	_, ok, err := f.sched.Update(rec.ID, Patch{Config: map[string]any{"tokenId": "tok", "spread": 0.1, "size": 0}})
	require.True(t, ok)
	require.ErrorIs(t, err, errs.ErrConfig)

	got, _ := f.sched.Get(rec.ID)
	require.Equal(t, 1, got.Config["size"])
}

func TestDeleteStops(t *testing.T) {
	f := newFixture(t, true, nil)
	rec, err := f.sched.Create(Spec{AccountID: f.accID, Type: "stub", Enabled: true})
	require.NoError(t, err)

	require.True(t, f.sched.Delete(rec.ID))
	require.False(t, f.sched.Running(rec.ID))
	_, ok := f.sched.Get(rec.ID)
	require.False(t, ok)
	require.False(t, f.sched.Delete(rec.ID))
}

func TestListByAccountAndPauseAll(t *testing.T) {
	f := newFixture(t, true, nil)
	other, err := f.accounts.Create(account.Spec{PrivateKey: testKey})
	require.NoError(t, err)

	_, err = f.sched.Create(Spec{AccountID: f.accID, Type: "stub", Enabled: true})
	require.NoError(t, err)
	_, err = f.sched.Create(Spec{AccountID: other.ID, Type: "stub", Enabled: true})
	require.NoError(t, err)

	require.Len(t, f.sched.List(), 2)
	require.Len(t, f.sched.ListByAccount(other.ID), 1)

	require.Equal(t, 2, f.sched.StopAll())
	require.Equal(t, 2, f.sched.StartEnabled())
	require.Equal(t, 0, f.sched.StartEnabled())
}

func TestMarketMakerTicksThroughExecutor(t *testing.T) {
	fake := clobtest.New()
	fake.SetBook("tok", clob.OrderBook{
		TokenID: "tok",
		Bids:    []clob.BookLevel{{Price: 0.40, Size: 5}},
		Asks:    []clob.BookLevel{{Price: 0.60, Size: 5}},
	})
	accounts := account.NewRegistry(func(account.Account) account.Client { return fake }, zap.NewNop())
	acc, err := accounts.Create(account.Spec{PrivateKey: testKey})
	require.NoError(t, err)
	sched := New(nil, accounts, nil, config.SchedulerConfig{Period: testPeriod}, nil, zap.NewNop())
	t.Cleanup(sched.Close)

	_, err = sched.Create(Spec{
		AccountID: acc.ID,
		Type:      strategy.TypeMarketMaker,
		Enabled:   true,
		Config:    map[string]any{"tokenId": "tok", "spread": 0.1, "size": 2},
	})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(fake.Placed()) >= 2 }, time.Second, testPeriod)

	placed := fake.Placed()
	require.Equal(t, clob.SideBuy, placed[0].Side)
	require.InDelta(t, 0.475, placed[0].Price, 1e-9)
	require.Equal(t, clob.SideSell, placed[1].Side)
	require.InDelta(t, 0.525, placed[1].Price, 1e-9)
}
