package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"poly-trade-bot/internal/alerts"
	"poly-trade-bot/internal/config"

	"go.uber.org/zap"
)

const operatorOffsetKey = "telegram:operator:last_update_id"

type operatorMeta struct {
	UpdateID int64
	UserID   int64
	Username string
	ChatID   int64
	Raw      string
}

type operatorAuditEvent struct {
	UpdateID     int64              `json:"update_id"`
	Time         time.Time          `json:"time"`
	Action       string             `json:"action"`
	Command      string             `json:"command"`
	UserID       int64              `json:"user_id"`
	Username     string             `json:"username,omitempty"`
	ChatID       int64              `json:"chat_id"`
	StrategyID   string             `json:"strategy_id,omitempty"`
	Affected     int                `json:"affected,omitempty"`
	PausedBefore bool               `json:"paused_before"`
	PausedAfter  bool               `json:"paused_after"`
	RiskBefore   *config.RiskConfig `json:"risk_before,omitempty"`
	RiskAfter    *config.RiskConfig `json:"risk_after,omitempty"`
}

func (a *App) startOperator(ctx context.Context) {
	if a.cfg == nil || a.telegram == nil || a.log == nil {
		return
	}
	if !a.cfg.Telegram.OperatorEnabled {
		return
	}
	chatID, err := strconv.ParseInt(strings.TrimSpace(a.cfg.Telegram.ChatID), 10, 64)
	if err != nil {
		a.log.Warn("telegram operator disabled: invalid chat_id", zap.Error(err))
		return
	}
	pollInterval := a.cfg.Telegram.OperatorPollInterval
	if pollInterval <= 0 {
		pollInterval = 3 * time.Second
	}
	allowedUsers := make(map[int64]struct{}, len(a.cfg.Telegram.OperatorAllowedUserIDs))
	for _, id := range a.cfg.Telegram.OperatorAllowedUserIDs {
		allowedUsers[id] = struct{}{}
	}
	a.log.Info("telegram operator started", zap.Int("allowed_users", len(allowedUsers)))
	go a.operatorLoop(ctx, chatID, allowedUsers, pollInterval)
}

func (a *App) operatorLoop(ctx context.Context, chatID int64, allowedUsers map[int64]struct{}, pollInterval time.Duration) {
	offset := a.loadOperatorOffset(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		updates, err := a.telegram.GetUpdates(ctx, offset, pollInterval)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			a.logOperatorError(err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(pollInterval):
			}
			continue
		}
		if a.operatorWarned {
			a.log.Info("telegram operator recovered")
			a.operatorWarned = false
		}
		for _, upd := range updates {
			if upd.UpdateID >= offset {
				offset = upd.UpdateID + 1
				a.saveOperatorOffset(ctx, offset)
			}
			a.handleOperatorUpdate(ctx, upd, chatID, allowedUsers)
		}
	}
}

func (a *App) handleOperatorUpdate(ctx context.Context, upd alerts.Update, chatID int64, allowedUsers map[int64]struct{}) {
	if upd.Message == nil {
		return
	}
	msg := upd.Message
	if msg.Chat == nil || msg.From == nil {
		return
	}
	if msg.Chat.ID != chatID {
		return
	}
	if len(allowedUsers) > 0 {
		if _, ok := allowedUsers[msg.From.ID]; !ok {
			return
		}
	}
	cmd, args, ok := parseOperatorCommand(msg.Text)
	if !ok {
		return
	}
	meta := operatorMeta{
		UpdateID: upd.UpdateID,
		UserID:   msg.From.ID,
		Username: msg.From.Username,
		ChatID:   msg.Chat.ID,
		Raw:      msg.Text,
	}
	resp, err := a.handleOperatorCommand(ctx, cmd, args, meta)
	if err != nil {
		resp = fmt.Sprintf("command failed: %v", err)
	}
	if resp == "" {
		return
	}
	if err := a.telegram.Send(ctx, resp); err != nil {
		a.log.Warn("operator response failed", zap.Error(err))
	}
}

func parseOperatorCommand(text string) (string, []string, bool) {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "/") {
		return "", nil, false
	}
	fields := strings.Fields(trimmed)
	if len(fields) == 0 {
		return "", nil, false
	}
	cmd := strings.ToLower(strings.TrimPrefix(fields[0], "/"))
	// Group chats append the bot name: /status@poly_bot.
	if at := strings.IndexByte(cmd, '@'); at >= 0 {
		cmd = cmd[:at]
	}
	return cmd, fields[1:], true
}

func (a *App) handleOperatorCommand(ctx context.Context, cmd string, args []string, meta operatorMeta) (string, error) {
	switch cmd {
	case "status":
		return a.operatorStatus(), nil
	case "strategies":
		return a.operatorStrategies(), nil
	case "pause":
		before := a.isPaused()
		stopped := a.scheduler.StopAll()
		after := a.setPaused(true)
		a.auditOperatorEvent(ctx, meta, operatorAuditEvent{
			Action:       "pause",
			Affected:     stopped,
			PausedBefore: before,
			PausedAfter:  after,
		})
		return fmt.Sprintf("trading paused, %d strategies stopped", stopped), nil
	case "resume":
		before := a.isPaused()
		started := a.scheduler.StartEnabled()
		after := a.setPaused(false)
		a.auditOperatorEvent(ctx, meta, operatorAuditEvent{
			Action:       "resume",
			Affected:     started,
			PausedBefore: before,
			PausedAfter:  after,
		})
		return fmt.Sprintf("trading resumed, %d strategies started", started), nil
	case "start", "stop":
		return a.handleStrategyCommand(ctx, cmd, args, meta)
	case "risk":
		return a.handleRiskCommand(ctx, args, meta)
	default:
		return operatorHelpText(), nil
	}
}

func (a *App) handleStrategyCommand(ctx context.Context, cmd string, args []string, meta operatorMeta) (string, error) {
	if len(args) != 1 {
		return "", fmt.Errorf("usage: /%s <strategy_id>", cmd)
	}
	id := args[0]
	if _, ok := a.scheduler.Get(id); !ok {
		return "", fmt.Errorf("strategy %s not found", id)
	}
	paused := a.isPaused()
	if cmd == "start" {
		if paused {
			return "", errors.New("trading is paused, /resume first")
		}
		a.scheduler.Start(id)
	} else {
		a.scheduler.Stop(id)
	}
	a.auditOperatorEvent(ctx, meta, operatorAuditEvent{
		Action:       "strategy_" + cmd,
		StrategyID:   id,
		PausedBefore: paused,
		PausedAfter:  paused,
	})
	rec, _ := a.scheduler.Get(id)
	return fmt.Sprintf("strategy %s %s", id, strings.ToLower(string(rec.Status))), nil
}

func (a *App) handleRiskCommand(ctx context.Context, args []string, meta operatorMeta) (string, error) {
	if len(args) == 0 || strings.EqualFold(args[0], "show") {
		return a.riskStatus(), nil
	}
	switch strings.ToLower(args[0]) {
	case "reset":
		before := a.riskOverrideSnapshot()
		a.clearRiskOverride()
		a.auditOperatorEvent(ctx, meta, operatorAuditEvent{
			Action:     "risk_reset",
			RiskBefore: before,
		})
		return "risk override cleared", nil
	case "set":
		overrides, err := parseRiskOverrides(args[1:])
		if err != nil {
			return "", err
		}
		before := a.riskOverrideSnapshot()
		next, err := applyRiskOverrides(a.riskConfig(), overrides)
		if err != nil {
			return "", err
		}
		if next == a.cfg.Risk {
			a.clearRiskOverride()
		} else {
			a.setRiskOverride(next)
		}
		a.auditOperatorEvent(ctx, meta, operatorAuditEvent{
			Action:     "risk_set",
			RiskBefore: before,
			RiskAfter:  a.riskOverrideSnapshot(),
		})
		return "risk override updated", nil
	default:
		return "", errors.New("unknown risk command: use /risk show|set|reset")
	}
}

func parseRiskOverrides(args []string) (map[string]string, error) {
	if len(args) == 0 {
		return nil, errors.New("risk set requires key=value pairs")
	}
	out := make(map[string]string)
	for _, arg := range args {
		key, val, ok := strings.Cut(arg, "=")
		key = strings.ToLower(strings.TrimSpace(key))
		val = strings.TrimSpace(val)
		if !ok || key == "" || val == "" {
			return nil, fmt.Errorf("invalid risk setting: %s", arg)
		}
		out[key] = val
	}
	return out, nil
}

func applyRiskOverrides(base config.RiskConfig, overrides map[string]string) (config.RiskConfig, error) {
	next := base
	for key, val := range overrides {
		parsed, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return config.RiskConfig{}, fmt.Errorf("%s: %w", key, err)
		}
		if parsed < 0 {
			return config.RiskConfig{}, fmt.Errorf("%s must be >= 0", key)
		}
		switch key {
		case "max_order_size":
			next.MaxOrderSize = parsed
		case "max_order_notional":
			next.MaxOrderNotional = parsed
		default:
			return config.RiskConfig{}, fmt.Errorf("unknown risk key: %s", key)
		}
	}
	return next, nil
}

func (a *App) operatorStatus() string {
	total, running := a.strategyCounts()
	risk := a.riskConfig()
	return strings.Join([]string{
		fmt.Sprintf("uptime: %s", time.Since(a.startedAt).Truncate(time.Second)),
		fmt.Sprintf("paused: %t", a.isPaused()),
		fmt.Sprintf("accounts: %d", len(a.accounts.List())),
		fmt.Sprintf("strategies: %d running / %d total", running, total),
		fmt.Sprintf("alerts: %d", len(a.alerts.List())),
		fmt.Sprintf("subscriptions: %d", a.hub.Subscriptions()),
		fmt.Sprintf("risk_override_active: %t", a.riskOverrideActive()),
		fmt.Sprintf("max_order_size: %s", formatCap(risk.MaxOrderSize)),
		fmt.Sprintf("max_order_notional: %s", formatCap(risk.MaxOrderNotional)),
	}, "\n")
}

func (a *App) operatorStrategies() string {
	recs := a.scheduler.List()
	if len(recs) == 0 {
		return "no strategies"
	}
	lines := make([]string, 0, len(recs))
	for _, rec := range recs {
		line := fmt.Sprintf("%s %s [%s] account=%s", rec.ID, rec.Type, rec.Status, rec.AccountID)
		if rec.LastRun != nil {
			outcome := "ok"
			if !rec.LastRun.Success {
				outcome = "failed"
			}
			line += fmt.Sprintf(" last=%s %s", rec.LastRun.At.UTC().Format(time.RFC3339), outcome)
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func (a *App) riskStatus() string {
	effective := a.riskConfig()
	lines := []string{
		fmt.Sprintf("risk effective: max_order_size=%s max_order_notional=%s", formatCap(effective.MaxOrderSize), formatCap(effective.MaxOrderNotional)),
	}
	if override := a.riskOverrideSnapshot(); override != nil {
		lines = append(lines, fmt.Sprintf("risk override: max_order_size=%s max_order_notional=%s", formatCap(override.MaxOrderSize), formatCap(override.MaxOrderNotional)))
	} else {
		lines = append(lines, "risk override: none")
	}
	return strings.Join(lines, "\n")
}

func formatCap(v float64) string {
	if v == 0 {
		return "off"
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func operatorHelpText() string {
	return strings.Join([]string{
		"commands:",
		"/status - current bot status",
		"/strategies - list strategies",
		"/pause - stop every running strategy",
		"/resume - start every enabled strategy",
		"/start <id> - start one strategy",
		"/stop <id> - stop one strategy",
		"/risk show - show active risk caps",
		"/risk set key=value ... - override caps (keys: max_order_size, max_order_notional)",
		"/risk reset - clear risk override",
	}, "\n")
}

func (a *App) isPaused() bool {
	a.opsMu.RLock()
	defer a.opsMu.RUnlock()
	return a.paused
}

func (a *App) setPaused(paused bool) bool {
	a.opsMu.Lock()
	defer a.opsMu.Unlock()
	a.paused = paused
	return a.paused
}

// riskConfig is the override when one is set, otherwise the configured caps.
func (a *App) riskConfig() config.RiskConfig {
	a.opsMu.RLock()
	override := a.riskOverride
	a.opsMu.RUnlock()
	if override == nil {
		return a.cfg.Risk
	}
	return *override
}

func (a *App) riskOverrideActive() bool {
	a.opsMu.RLock()
	defer a.opsMu.RUnlock()
	return a.riskOverride != nil
}

func (a *App) riskOverrideSnapshot() *config.RiskConfig {
	a.opsMu.RLock()
	defer a.opsMu.RUnlock()
	if a.riskOverride == nil {
		return nil
	}
	copy := *a.riskOverride
	return &copy
}

func (a *App) setRiskOverride(risk config.RiskConfig) {
	a.opsMu.Lock()
	a.riskOverride = &risk
	a.opsMu.Unlock()
	a.executor.SetRisk(risk)
}

func (a *App) clearRiskOverride() {
	a.opsMu.Lock()
	a.riskOverride = nil
	a.opsMu.Unlock()
	a.executor.SetRisk(a.cfg.Risk)
}

func (a *App) logOperatorError(err error) {
	if a.operatorWarned {
		return
	}
	a.operatorWarned = true
	a.log.Warn("telegram operator failed", zap.Error(err))
}

func (a *App) loadOperatorOffset(ctx context.Context) int64 {
	if a.store == nil {
		return 0
	}
	raw, ok, err := a.store.Get(ctx, operatorOffsetKey)
	if err != nil || !ok {
		return 0
	}
	val, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || val < 0 {
		return 0
	}
	return val
}

func (a *App) saveOperatorOffset(ctx context.Context, offset int64) {
	if a.store == nil {
		return
	}
	_ = a.store.Set(ctx, operatorOffsetKey, strconv.FormatInt(offset, 10))
}

func (a *App) auditOperatorEvent(ctx context.Context, meta operatorMeta, event operatorAuditEvent) {
	event.UpdateID = meta.UpdateID
	event.Time = time.Now().UTC()
	event.Command = meta.Raw
	event.UserID = meta.UserID
	event.Username = meta.Username
	event.ChatID = meta.ChatID
	if a.log != nil {
		a.log.Info("operator command", zap.String("action", event.Action), zap.Int64("user_id", event.UserID), zap.String("strategy_id", event.StrategyID))
	}
	if a.store == nil {
		return
	}
	key := fmt.Sprintf("ops:audit:%d:%d", event.Time.UnixNano(), event.UpdateID)
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	_ = a.store.Set(ctx, key, string(payload))
}
