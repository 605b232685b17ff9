// Package risk implements the runtime capital-protection governor: a
// rolling trade window drives a mode machine (NORMAL/HOT/CAUTION/SEVERE)
// that biases position sizes and can block trading outright.
package risk

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tradewind-ai/tradewind/internal/config"
	"github.com/tradewind-ai/tradewind/internal/metrics"
)

// Mode is the governor's protection level
type Mode string

const (
	ModeNormal  Mode = "NORMAL"
	ModeHot     Mode = "HOT"
	ModeCaution Mode = "CAUTION"
	ModeSevere  Mode = "SEVERE"
)

const maxWindowSize = 100

// modeGaugeValues for the prometheus risk-mode gauge
var modeGaugeValues = map[Mode]float64{
	ModeNormal:  0,
	ModeHot:     1,
	ModeCaution: 2,
	ModeSevere:  3,
}

// modeSeverity orders modes by restrictiveness. HOT ranks with NORMAL:
// it loosens sizing rather than protecting capital.
var modeSeverity = map[Mode]int{
	ModeNormal:  0,
	ModeHot:     0,
	ModeCaution: 1,
	ModeSevere:  2,
}

// TradeRecord is one trade in the rolling window. Trades enter the
// window provisionally (pnl 0, success true) and are excluded from the
// evaluation metrics until resolved.
type TradeRecord struct {
	ID        string    `json:"id"`
	Symbol    string    `json:"symbol"`
	Side      string    `json:"side"`
	PnL       float64   `json:"pnl"`
	Success   bool      `json:"success"`
	Resolved  bool      `json:"resolved"`
	Timestamp time.Time `json:"timestamp"`
}

// Status is the governor's evaluated state
type Status struct {
	Mode          Mode      `json:"mode"`
	RiskBias      float64   `json:"risk_bias"`
	BlockTrading  bool      `json:"block_trading"`
	Reason        string    `json:"reason"`
	WinRate       float64   `json:"win_rate"`
	LossStreak    int       `json:"loss_streak"`
	AvgPnL        float64   `json:"avg_pnl"`
	DailyLossPct  float64   `json:"daily_loss_pct"`
	DrawdownPct   float64   `json:"drawdown_pct"`
	Trades        int       `json:"trades"`
	CooldownUntil time.Time `json:"cooldown_until,omitempty"`
	EvaluatedAt   time.Time `json:"evaluated_at"`
}

// ModeChangeHook fires on transitions between modes. Used by the engine
// to enqueue alerts on entry into CAUTION or SEVERE.
type ModeChangeHook func(from, to Mode, status Status)

// Governor owns the rolling trade window and balance tracking. One
// logical owner (the engine) mutates it; readers get snapshots.
type Governor struct {
	mu  sync.Mutex
	cfg config.RiskConfig

	window            []TradeRecord
	dailyPnL          float64
	dailyStartBalance float64
	peakBalance       float64
	currentBalance    float64
	tradingDay        string

	status        Status
	cooldownUntil time.Time

	onModeChange ModeChangeHook
	persister    *statePersister
	clock        func() time.Time
	log          zerolog.Logger
}

// NewGovernor creates a governor and restores persisted state when a
// state path is configured.
func NewGovernor(cfg config.RiskConfig) (*Governor, error) {
	g := &Governor{
		cfg:    cfg,
		status: Status{Mode: ModeNormal, RiskBias: 1.0},
		clock:  time.Now,
		log:    log.With().Str("component", "risk_governor").Logger(),
	}

	if cfg.StatePath != "" {
		persister, err := newStatePersister(cfg.StatePath)
		if err != nil {
			return nil, err
		}
		g.persister = persister

		if line, ok := persister.lastLine(); ok {
			g.dailyPnL = line.DailyPnL
			g.peakBalance = line.PeakBalance
			g.currentBalance = line.CurrentBalance
			g.tradingDay = line.TradingDay
			g.log.Info().
				Str("trading_day", line.TradingDay).
				Float64("daily_pnl", line.DailyPnL).
				Float64("peak_balance", line.PeakBalance).
				Msg("Restored risk state")
		}
	}

	metrics.RiskMode.Set(modeGaugeValues[ModeNormal])
	return g, nil
}

// SetModeChangeHook registers the transition callback
func (g *Governor) SetModeChangeHook(hook ModeChangeHook) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onModeChange = hook
}

// UpdateBalance records the current balance, rolling the daily counters
// on UTC calendar-day change and ratcheting the peak.
func (g *Governor) UpdateBalance(balance float64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	today := g.clock().UTC().Format("2006-01-02")
	if g.tradingDay != today {
		if g.tradingDay != "" {
			g.log.Info().
				Str("previous_day", g.tradingDay).
				Float64("daily_pnl", g.dailyPnL).
				Msg("Trading day rolled over, resetting daily counters")
		}
		g.tradingDay = today
		g.dailyPnL = 0
		g.dailyStartBalance = balance
	}
	if g.dailyStartBalance == 0 {
		g.dailyStartBalance = balance
	}
	if balance > g.peakBalance {
		g.peakBalance = balance
	}
	g.currentBalance = balance
}

// RecordTrade appends to the rolling window, updates the daily PnL and
// running balance, persists a state line, and re-evaluates.
func (g *Governor) RecordTrade(record TradeRecord) Status {
	g.mu.Lock()
	defer g.mu.Unlock()

	if record.Timestamp.IsZero() {
		record.Timestamp = g.clock().UTC()
	}
	g.window = append(g.window, record)
	if len(g.window) > maxWindowSize {
		g.window = g.window[len(g.window)-maxWindowSize:]
	}

	if record.Resolved {
		g.dailyPnL += record.PnL
		g.currentBalance += record.PnL
	}

	status := g.evaluateLocked()
	g.persist()
	return status
}

// ResolveTrade attaches the realized outcome to a provisional trade and
// re-evaluates. Returns false when the id is unknown.
func (g *Governor) ResolveTrade(id string, pnl float64, success bool) (Status, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	found := false
	for i := range g.window {
		if g.window[i].ID != id {
			continue
		}
		prev := g.window[i].PnL
		g.window[i].PnL = pnl
		g.window[i].Success = success
		if g.window[i].Resolved {
			g.dailyPnL += pnl - prev
			g.currentBalance += pnl - prev
		} else {
			g.window[i].Resolved = true
			g.dailyPnL += pnl
			g.currentBalance += pnl
		}
		found = true
		break
	}
	if !found {
		return g.status, false
	}

	status := g.evaluateLocked()
	g.persist()
	return status, true
}

// CheckTradeAllowed gates an order of the given size
func (g *Governor) CheckTradeAllowed(symbol string, size float64) (bool, Status) {
	status := g.Evaluate()
	if status.BlockTrading {
		metrics.RiskBlockedTrades.Inc()
		g.log.Warn().
			Str("symbol", symbol).
			Float64("size", size).
			Str("mode", string(status.Mode)).
			Str("reason", status.Reason).
			Msg("Trade blocked by risk governor")
		return false, status
	}
	return true, status
}

// AdjustedSize scales a base position size by the current risk bias
func (g *Governor) AdjustedSize(baseSize float64) float64 {
	return baseSize * g.Evaluate().RiskBias
}

// Evaluate recomputes the status. An active cooldown pins the mode
// against relaxation, but fresh data can still escalate to a stricter
// mode at any time.
func (g *Governor) Evaluate() Status {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.evaluateLocked()
}

// Summary returns the status plus balance context for the dashboard
func (g *Governor) Summary() map[string]any {
	g.mu.Lock()
	defer g.mu.Unlock()

	status := g.evaluateLocked()
	return map[string]any{
		"status":              status,
		"trading_day":         g.tradingDay,
		"daily_pnl":           g.dailyPnL,
		"daily_start_balance": g.dailyStartBalance,
		"peak_balance":        g.peakBalance,
		"current_balance":     g.currentBalance,
		"window_size":         len(g.window),
	}
}

// evaluateLocked recomputes under g.mu. While a cooldown is active the
// cached status is returned unless the fresh evaluation is stricter:
// the cooldown only prevents the mode from relaxing early, never from
// escalating on new trade data.
func (g *Governor) evaluateLocked() Status {
	now := g.clock().UTC()

	winRate, lossStreak, avgPnL, trades := g.windowMetrics()

	dailyLossPct := 0.0
	if g.dailyStartBalance > 0 && g.dailyPnL < 0 {
		dailyLossPct = -g.dailyPnL / g.dailyStartBalance * 100
	}
	drawdownPct := 0.0
	if g.peakBalance > 0 && g.currentBalance < g.peakBalance {
		drawdownPct = (g.peakBalance - g.currentBalance) / g.peakBalance * 100
	}

	status := Status{
		Mode:         ModeNormal,
		RiskBias:     1.0,
		WinRate:      winRate,
		LossStreak:   lossStreak,
		AvgPnL:       avgPnL,
		DailyLossPct: dailyLossPct,
		DrawdownPct:  drawdownPct,
		Trades:       trades,
		EvaluatedAt:  now,
	}

	// First match wins
	switch {
	case drawdownPct >= g.cfg.DrawdownSevere:
		status.Mode, status.RiskBias, status.BlockTrading = ModeSevere, 0.45, true
		status.Reason = "drawdown severe"
	case drawdownPct >= g.cfg.DrawdownCaution:
		status.Mode, status.RiskBias = ModeCaution, 0.70
		status.Reason = "drawdown caution"
	case dailyLossPct >= g.cfg.DailyLossSevere:
		status.Mode, status.RiskBias, status.BlockTrading = ModeSevere, 0.45, true
		status.Reason = "daily loss severe"
	case dailyLossPct >= g.cfg.DailyLossCaution:
		status.Mode, status.RiskBias = ModeCaution, 0.70
		status.Reason = "daily loss caution"
	case lossStreak >= g.cfg.LossStreakSevere:
		status.Mode, status.RiskBias, status.BlockTrading = ModeSevere, 0.45, true
		status.Reason = "loss streak halt"
	case lossStreak >= g.cfg.LossStreakCaution:
		status.Mode, status.RiskBias = ModeCaution, 0.70
		status.Reason = "loss streak caution"
	case winRate >= g.cfg.HotWinRate && trades >= g.cfg.HotMinTrades && avgPnL >= g.cfg.HotMinAvgPnL:
		status.Mode, status.RiskBias = ModeHot, 1.12
		status.Reason = "hot streak"
	}

	if now.Before(g.cooldownUntil) && modeSeverity[status.Mode] <= modeSeverity[g.status.Mode] {
		return g.status
	}

	switch status.Mode {
	case ModeCaution:
		status.CooldownUntil = now.Add(g.cfg.CautionCooldown())
	case ModeSevere:
		status.CooldownUntil = now.Add(g.cfg.SevereCooldown())
	}

	previous := g.status.Mode
	g.status = status
	g.cooldownUntil = status.CooldownUntil

	metrics.RiskMode.Set(modeGaugeValues[status.Mode])
	metrics.RiskDrawdownPct.Set(drawdownPct)

	if previous != status.Mode {
		g.log.Info().
			Str("from", string(previous)).
			Str("to", string(status.Mode)).
			Str("reason", status.Reason).
			Float64("risk_bias", status.RiskBias).
			Msg("Risk mode changed")
		if g.onModeChange != nil {
			g.onModeChange(previous, status.Mode, status)
		}
	}

	return status
}

// windowMetrics computes win rate, loss streak, and average pnl over
// the last lookback_trades resolved trades.
func (g *Governor) windowMetrics() (winRate float64, lossStreak int, avgPnL float64, trades int) {
	lookback := g.cfg.LookbackTrades
	if lookback <= 0 {
		lookback = 12
	}

	var resolved []TradeRecord
	for i := len(g.window) - 1; i >= 0 && len(resolved) < lookback; i-- {
		if g.window[i].Resolved {
			resolved = append(resolved, g.window[i])
		}
	}
	trades = len(resolved)
	if trades == 0 {
		return 0, 0, 0, 0
	}

	// resolved is newest-first
	wins := 0
	total := 0.0
	for _, r := range resolved {
		if r.Success {
			wins++
		}
		total += r.PnL
	}
	for _, r := range resolved {
		if r.Success {
			break
		}
		lossStreak++
	}

	return float64(wins) / float64(trades), lossStreak, total / float64(trades), trades
}

// persist appends a state line; callers hold g.mu
func (g *Governor) persist() {
	if g.persister == nil {
		return
	}
	line := stateLine{
		Timestamp:      g.clock().UTC(),
		TradingDay:     g.tradingDay,
		DailyPnL:       g.dailyPnL,
		PeakBalance:    g.peakBalance,
		CurrentBalance: g.currentBalance,
		CurrentMode:    string(g.status.Mode),
		RiskBias:       g.status.RiskBias,
	}
	if err := g.persister.append(line); err != nil {
		g.log.Error().Err(err).Msg("Failed to persist risk state")
	}
}

// Close flushes the state log
func (g *Governor) Close() error {
	if g.persister == nil {
		return nil
	}
	return g.persister.close()
}
