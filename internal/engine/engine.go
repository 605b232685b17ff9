// Package engine owns the trading event loop: it consumes closed
// klines, runs the agent orchestration graph, consults the risk
// governor, executes approved decisions, and feeds execution outcomes
// back into the reasoning store.
package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tradewind-ai/tradewind/internal/agents"
	"github.com/tradewind-ai/tradewind/internal/exchange"
	"github.com/tradewind-ai/tradewind/internal/indicators"
	"github.com/tradewind-ai/tradewind/internal/market"
	"github.com/tradewind-ai/tradewind/internal/memory"
	"github.com/tradewind-ai/tradewind/internal/metrics"
	"github.com/tradewind-ai/tradewind/internal/risk"
)

// orderExecutor is the slice of the executor the engine needs
type orderExecutor interface {
	ExecuteMarketOrder(ctx context.Context, req exchange.OrderRequest) *exchange.OrderResult
}

// balanceSource reports the account balance before each trade
type balanceSource interface {
	GetBalanceUSDT(ctx context.Context) (float64, error)
}

// outcomeStore correlates execution results back to reasoning entries
type outcomeStore interface {
	UpdateOutcome(ctx context.Context, agent, digest string, outcome memory.Outcome) (bool, error)
}

// ContextProvider fetches best-effort external context (sentiment,
// fear & greed). Failures must degrade to an empty map.
type ContextProvider func(ctx context.Context) map[string]any

// ChartProvider renders a chart artifact for the visual agent
type ChartProvider func(ctx context.Context) []byte

// Config holds the engine's trading parameters
type Config struct {
	Symbol           string
	Timeframe        string
	MinKlinesToStart int
	BaseRiskPerTrade float64 // fraction of balance per trade
	MinNotional      float64 // minimum order value in USDT
}

// Deps are the engine's collaborators. Observer, ContextProvider,
// ChartProvider, and Outcomes may be nil.
type Deps struct {
	Stream   market.Stream
	Buffer   *indicators.Buffer
	Graph    *agents.Graph
	Governor *risk.Governor
	Executor orderExecutor
	Balance  balanceSource
	Outcomes outcomeStore
	Signals  *SignalLog
	Observer Observer
	Context  ContextProvider
	Chart    ChartProvider
}

// Engine drives one symbol/timeframe pair
type Engine struct {
	cfg  Config
	deps Deps

	cycleCount   atomic.Int64
	cycleRunning atomic.Bool
	closedKlines atomic.Int64
	holdStreak   atomic.Int64

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	log zerolog.Logger
}

// New creates the engine
func New(cfg Config, deps Deps) (*Engine, error) {
	if deps.Stream == nil || deps.Buffer == nil || deps.Graph == nil ||
		deps.Governor == nil || deps.Executor == nil || deps.Balance == nil {
		return nil, fmt.Errorf("engine requires stream, buffer, graph, governor, executor, and balance source")
	}
	if cfg.MinKlinesToStart <= 0 {
		cfg.MinKlinesToStart = 20
	}
	if cfg.BaseRiskPerTrade <= 0 {
		cfg.BaseRiskPerTrade = 0.01
	}

	return &Engine{
		cfg:  cfg,
		deps: deps,
		log: log.With().
			Str("component", "engine").
			Str("symbol", cfg.Symbol).
			Str("timeframe", cfg.Timeframe).
			Logger(),
	}, nil
}

// Start registers the kline callback and starts the stream. Idempotent.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	e.running = true
	e.cancel = cancel
	e.mu.Unlock()

	e.deps.Stream.OnKline(func(k market.Kline) {
		e.onKline(runCtx, k)
	})
	if err := e.deps.Stream.Start(runCtx); err != nil {
		return fmt.Errorf("failed to start market stream: %w", err)
	}

	e.log.Info().
		Int("min_klines", e.cfg.MinKlinesToStart).
		Msg("Engine started")
	return nil
}

// Stop halts the stream, cancels the in-flight cycle, and waits for it
// to unwind. Idempotent.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	cancel := e.cancel
	e.mu.Unlock()

	e.deps.Stream.Stop()
	cancel()
	e.wg.Wait()

	if e.deps.Signals != nil {
		e.deps.Signals.Close()
	}
	e.log.Info().Msg("Engine stopped")
}

// Status returns a read-only snapshot for the status API
func (e *Engine) Status() map[string]any {
	e.mu.Lock()
	running := e.running
	e.mu.Unlock()

	return map[string]any{
		"running":       running,
		"symbol":        e.cfg.Symbol,
		"timeframe":     e.cfg.Timeframe,
		"cycles":        e.cycleCount.Load(),
		"closed_klines": e.closedKlines.Load(),
		"hold_streak":   e.holdStreak.Load(),
		"buffer_count":  e.deps.Buffer.Count(),
		"current_price": e.deps.Stream.CurrentPrice(),
	}
}

// onKline handles one stream update. Only closed klines feed the
// buffer; one cycle runs at a time and an overlapping closed kline is
// dropped with a warning.
func (e *Engine) onKline(ctx context.Context, k market.Kline) {
	if !k.IsClosed {
		return
	}

	if !e.deps.Buffer.Append(k.Close, k.High, k.Low, k.Volume, k.Open, k.OpenTime) {
		e.log.Warn().
			Float64("open", k.Open).
			Float64("high", k.High).
			Float64("low", k.Low).
			Float64("close", k.Close).
			Msg("Rejected invalid kline")
		return
	}
	metrics.BufferCandles.Set(float64(e.deps.Buffer.Count()))

	closed := e.closedKlines.Add(1)
	if closed < int64(e.cfg.MinKlinesToStart) {
		e.log.Debug().
			Int64("observed", closed).
			Int("required", e.cfg.MinKlinesToStart).
			Msg("Warming up")
		return
	}

	if !e.cycleRunning.CompareAndSwap(false, true) {
		metrics.CyclesTotal.WithLabelValues("skipped").Inc()
		e.log.Warn().Msg("Cycle still running, dropping overlapping kline")
		return
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer e.cycleRunning.Store(false)
		e.runCycle(ctx, k.Close)
	}()
}

// runCycle executes one full analysis cycle
func (e *Engine) runCycle(ctx context.Context, price float64) {
	start := time.Now()
	defer func() {
		metrics.CycleDuration.Observe(time.Since(start).Seconds())
		if r := recover(); r != nil {
			metrics.CyclesTotal.WithLabelValues("failed").Inc()
			e.log.Error().Interface("panic", r).Msg("Cycle panicked")
		}
	}()

	cycle := e.cycleCount.Add(1)
	cycleLog := e.log.With().Int64("cycle", cycle).Logger()

	current := e.deps.Buffer.CurrentIndicators()
	if len(current) == 0 {
		metrics.CyclesTotal.WithLabelValues("skipped").Inc()
		cycleLog.Warn().Msg("No indicators available, skipping cycle")
		return
	}

	threadID := fmt.Sprintf("%s_%s_%d", e.cfg.Symbol, e.cfg.Timeframe, cycle)
	state := agents.NewCycleState(threadID, e.cfg.Symbol, e.cfg.Timeframe, cycle)
	state.Price = price
	state.Indicators = current
	state.Microstructure = toAny(e.deps.Stream.Microstructure().Map())

	if e.deps.Context != nil {
		state.SentimentContext = e.deps.Context(ctx)
	}
	if e.deps.Chart != nil {
		state.ChartImage = e.deps.Chart(ctx)
	}

	if err := e.deps.Graph.RunCycle(ctx, state); err != nil {
		metrics.CyclesTotal.WithLabelValues("failed").Inc()
		cycleLog.Error().Err(err).Msg("Cycle aborted")
		return
	}

	e.emitReports(state)

	decision := state.Decision()
	if decision == nil {
		metrics.CyclesTotal.WithLabelValues("failed").Inc()
		cycleLog.Error().Msg("Cycle produced no decision")
		return
	}

	e.logSignal(state, decision, price, time.Since(start))

	if decision.FinalDecision == "BUY" || decision.FinalDecision == "SELL" {
		e.holdStreak.Store(0)
		e.executeDecision(ctx, cycleLog, state, decision, price)
	} else {
		streak := e.holdStreak.Add(1)
		cycleLog.Info().
			Int64("hold_streak", streak).
			Str("confidence", decision.ConfidenceInDecision).
			Msg("Holding")
	}

	metrics.CyclesTotal.WithLabelValues("completed").Inc()
}

// executeDecision runs the risk checks and places the order
func (e *Engine) executeDecision(ctx context.Context, cycleLog zerolog.Logger, state *agents.CycleState, decision *agents.DecisionReport, price float64) {
	assessment := state.Risk()
	if assessment != nil {
		switch assessment.Verdict {
		case "VETO", "DELAY":
			cycleLog.Warn().
				Str("verdict", assessment.Verdict).
				Float64("risk_score", assessment.RiskScore).
				Msg("Risk agent rejected the decision")
			return
		}
	}

	balance, err := e.deps.Balance.GetBalanceUSDT(ctx)
	if err != nil {
		cycleLog.Error().Err(err).Msg("Failed to fetch balance, skipping execution")
		return
	}
	e.deps.Governor.UpdateBalance(balance)

	baseSize := balance * e.cfg.BaseRiskPerTrade
	allowed, status := e.deps.Governor.CheckTradeAllowed(e.cfg.Symbol, baseSize)
	if !allowed {
		cycleLog.Warn().
			Str("mode", string(status.Mode)).
			Str("reason", status.Reason).
			Msg("Trade blocked by risk governor")
		e.observe(EventRiskBlocked, map[string]any{
			"symbol":   e.cfg.Symbol,
			"decision": decision.FinalDecision,
			"mode":     string(status.Mode),
			"reason":   status.Reason,
		})
		return
	}

	size := e.deps.Governor.AdjustedSize(baseSize)
	if assessment != nil && assessment.Verdict == "APPROVE_REDUCED" {
		size *= 0.5
	}
	if price <= 0 || size < e.cfg.MinNotional {
		cycleLog.Warn().
			Float64("size", size).
			Float64("min_notional", e.cfg.MinNotional).
			Msg("Position size below minimum notional, skipping")
		return
	}
	quantity := size / price

	result := e.deps.Executor.ExecuteMarketOrder(ctx, exchange.OrderRequest{
		Symbol:   e.cfg.Symbol,
		Side:     exchange.Side(decision.FinalDecision),
		Quantity: quantity,
	})

	tradeID := uuid.NewString()
	e.deps.Governor.RecordTrade(risk.TradeRecord{
		ID:        tradeID,
		Symbol:    e.cfg.Symbol,
		Side:      decision.FinalDecision,
		PnL:       0,
		Success:   result.Success(),
		Resolved:  !result.Success(), // filled trades resolve when the position closes
		Timestamp: time.Now().UTC(),
	})

	if result.Success() {
		cycleLog.Info().
			Str("trade_id", tradeID).
			Int64("order_id", result.OrderID).
			Float64("avg_price", result.AvgFillPrice).
			Float64("quantity", quantity).
			Msg("Order executed")
	} else {
		cycleLog.Error().
			Str("status", result.Status).
			Str("error", result.Error).
			Msg("Order execution failed")
	}

	e.attachOutcome(ctx, decision, result, tradeID)
}

// attachOutcome writes the execution result onto the decision entry
func (e *Engine) attachOutcome(ctx context.Context, decision *agents.DecisionReport, result *exchange.OrderResult, tradeID string) {
	digest := decision.Book().ReasoningDigest
	if e.deps.Outcomes == nil || digest == "" {
		return
	}

	found, err := e.deps.Outcomes.UpdateOutcome(ctx, string(agents.KindDecision), digest, memory.Outcome{
		Success:      result.Success(),
		Reward:       0,
		RewardSignal: "execution",
		Notes:        result.Status,
		TradeID:      tradeID,
	})
	if err != nil {
		e.log.Error().Err(err).Str("digest", digest).Msg("Failed to update reasoning outcome")
	} else if !found {
		e.log.Warn().Str("digest", digest).Msg("Decision entry not found for outcome update")
	}
}

// emitReports sends observer events for every agent report
func (e *Engine) emitReports(state *agents.CycleState) {
	for key, report := range state.Reports() {
		book := report.Book()
		e.observe(EventAgentOutput, map[string]any{
			"thread_id": state.ThreadID,
			"agent":     key,
			"report":    report.Raw(),
			"attempts":  book.Attempts,
			"failed":    book.ValidationFailed,
		})
		if book.ReasoningDigest != "" {
			e.observe(EventReasoning, map[string]any{
				"thread_id": state.ThreadID,
				"agent":     key,
				"digest":    book.ReasoningDigest,
			})
		}
	}
}

// observe invokes the hook; a nil hook is tolerated
func (e *Engine) observe(eventType string, payload map[string]any) {
	if e.deps.Observer == nil {
		return
	}
	e.deps.Observer(eventType, payload)
}

func (e *Engine) logSignal(state *agents.CycleState, decision *agents.DecisionReport, price float64, elapsed time.Duration) {
	if e.deps.Signals == nil {
		return
	}
	e.deps.Signals.Append(SignalRecord{
		Symbol:     e.cfg.Symbol,
		Timeframe:  e.cfg.Timeframe,
		Cycle:      state.Cycle,
		Decision:   decision.FinalDecision,
		Confidence: decision.ConfidenceInDecision,
		Reasoning:  extractReasoning(decision.Raw()),
		Price:      price,
		ExecutionTimes: map[string]int64{
			"cycle_ms": elapsed.Milliseconds(),
		},
	})
}

func extractReasoning(raw map[string]any) string {
	for _, key := range []string{"reason", "reasoning", "combined_reasoning"} {
		if v, ok := raw[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

func toAny(in map[string]float64) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
