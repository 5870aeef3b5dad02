package alerts

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"poly-trade-bot/internal/clob"
	"poly-trade-bot/internal/errs"
	"poly-trade-bot/internal/metrics"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Notifier is told about every batch of newly fired alerts.
type Notifier interface {
	NotifyTriggered(ctx context.Context, fired []Alert) error
}

const notifyTimeout = 15 * time.Second

// Engine owns the alert set and the latest sample per token. One mutex
// covers both so evaluation and CRUD cannot interleave on an alert.
type Engine struct {
	log      *zap.Logger
	metrics  *metrics.Metrics
	notifier Notifier
	now      func() time.Time

	mu     sync.Mutex
	alerts map[string]*Alert
	prices map[string]clob.PriceData
}

func NewEngine(log *zap.Logger, m *metrics.Metrics, notifier Notifier) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		log:      log,
		metrics:  metrics.OrNoop(m),
		notifier: notifier,
		now:      time.Now,
		alerts:   make(map[string]*Alert),
		prices:   make(map[string]clob.PriceData),
	}
}

func (e *Engine) Create(spec Spec) (Alert, error) {
	if strings.TrimSpace(spec.AccountID) == "" {
		return Alert{}, errs.Validation("accountId is required")
	}
	if strings.TrimSpace(spec.TokenID) == "" {
		return Alert{}, errs.Validation("tokenId is required")
	}
	if !spec.Condition.Valid() {
		return Alert{}, errs.Validation("invalid condition %q", spec.Condition)
	}
	now := e.now().UTC()
	a := &Alert{
		ID:        "alert_" + uuid.NewString(),
		AccountID: spec.AccountID,
		TokenID:   strings.TrimSpace(spec.TokenID),
		Condition: spec.Condition,
		Threshold: spec.Threshold,
		Enabled:   true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if spec.Enabled != nil {
		a.Enabled = *spec.Enabled
	}
	e.mu.Lock()
	e.alerts[a.ID] = a
	e.mu.Unlock()
	e.log.Info("alert created",
		zap.String("alert_id", a.ID),
		zap.String("account_id", a.AccountID),
		zap.String("token_id", a.TokenID),
		zap.String("condition", string(a.Condition)),
		zap.Float64("threshold", a.Threshold),
	)
	return *a, nil
}

func (e *Engine) Get(id string) (Alert, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	a, ok := e.alerts[id]
	if !ok {
		return Alert{}, false
	}
	return *a, true
}

func (e *Engine) List() []Alert {
	return e.filter(func(*Alert) bool { return true })
}

func (e *Engine) ListByAccount(accountID string) []Alert {
	return e.filter(func(a *Alert) bool { return a.AccountID == accountID })
}

func (e *Engine) filter(keep func(*Alert) bool) []Alert {
	e.mu.Lock()
	out := make([]Alert, 0, len(e.alerts))
	for _, a := range e.alerts {
		if keep(a) {
			out = append(out, *a)
		}
	}
	e.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Update applies patch. Setting Triggered to false re-arms the alert and
// clears TriggeredAt; setting it to true is refused because only evaluation
// fires alerts.
func (e *Engine) Update(id string, patch Patch) (Alert, bool, error) {
	if patch.Triggered != nil && *patch.Triggered {
		return Alert{}, false, errs.Validation("triggered can only be cleared")
	}
	if patch.Condition != nil && !patch.Condition.Valid() {
		return Alert{}, false, errs.Validation("invalid condition %q", *patch.Condition)
	}
	if patch.TokenID != nil && strings.TrimSpace(*patch.TokenID) == "" {
		return Alert{}, false, errs.Validation("tokenId cannot be empty")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	a, ok := e.alerts[id]
	if !ok {
		return Alert{}, false, nil
	}
	if patch.TokenID != nil {
		a.TokenID = strings.TrimSpace(*patch.TokenID)
	}
	if patch.Condition != nil {
		a.Condition = *patch.Condition
	}
	if patch.Threshold != nil {
		a.Threshold = *patch.Threshold
	}
	if patch.Enabled != nil {
		a.Enabled = *patch.Enabled
	}
	if patch.Triggered != nil {
		a.Triggered = false
		a.TriggeredAt = nil
		a.TriggerValue = 0
	}
	a.UpdatedAt = e.now().UTC()
	return *a, true, nil
}

func (e *Engine) Delete(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.alerts[id]; !ok {
		return false
	}
	delete(e.alerts, id)
	return true
}

// DeleteByAccount drops every alert owned by accountID and returns how many
// were removed.
func (e *Engine) DeleteByAccount(accountID string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for id, a := range e.alerts {
		if a.AccountID == accountID {
			delete(e.alerts, id)
			n++
		}
	}
	return n
}

// UpdatePriceCache stores sample as the latest for its token and evaluates
// alerts against it, returning the alerts that fired.
func (e *Engine) UpdatePriceCache(sample clob.PriceData) []Alert {
	e.mu.Lock()
	e.prices[sample.TokenID] = sample
	e.mu.Unlock()
	return e.CheckAlerts(sample)
}

// LatestPrice returns the cached sample for tokenID.
func (e *Engine) LatestPrice(tokenID string) (clob.PriceData, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.prices[tokenID]
	return p, ok
}

// CheckAlerts fires every enabled, untriggered alert on sample's token whose
// condition holds. Previously fired alerts are never returned again.
func (e *Engine) CheckAlerts(sample clob.PriceData) []Alert {
	now := e.now().UTC()
	var fired []Alert
	e.mu.Lock()
	for _, a := range e.alerts {
		if !a.Enabled || a.Triggered || a.TokenID != sample.TokenID {
			continue
		}
		if !a.Condition.Met(sample, a.Threshold) {
			continue
		}
		at := now
		a.Triggered = true
		a.TriggeredAt = &at
		a.TriggerValue = sample.Price
		if a.Condition == VolumeAbove || a.Condition == VolumeBelow {
			a.TriggerValue = sample.Volume24h
		}
		a.UpdatedAt = now
		fired = append(fired, *a)
	}
	e.mu.Unlock()
	if len(fired) == 0 {
		return nil
	}
	sort.Slice(fired, func(i, j int) bool { return fired[i].ID < fired[j].ID })
	for _, a := range fired {
		e.metrics.AlertsTriggered.Inc()
		e.log.Info("alert triggered",
			zap.String("alert_id", a.ID),
			zap.String("account_id", a.AccountID),
			zap.String("token_id", a.TokenID),
			zap.String("condition", string(a.Condition)),
			zap.Float64("threshold", a.Threshold),
			zap.Float64("value", a.TriggerValue),
		)
	}
	e.notify(fired)
	return fired
}

func (e *Engine) notify(fired []Alert) {
	if e.notifier == nil {
		return
	}
	batch := append([]Alert(nil), fired...)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		if err := e.notifier.NotifyTriggered(ctx, batch); err != nil {
			e.log.Warn("alert notification failed", zap.Int("alerts", len(batch)), zap.Error(err))
		}
	}()
}
