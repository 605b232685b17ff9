package exchange

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"

	"github.com/tradewind-ai/tradewind/internal/metrics"
)

// Executor failure/success statuses
const (
	StatusFilled               = "FILLED"
	StatusFilledWithProtection = "FILLED_WITH_PROTECTION"
	StatusCircuitBreakerOpen   = "CIRCUIT_BREAKER_OPEN"
	StatusInvalidQuantity      = "INVALID_QUANTITY"
	StatusNoOrderID            = "NO_ORDER_ID"
	StatusFillTimeout          = "FILL_TIMEOUT"
	StatusFailed               = "FAILED"
)

const (
	defaultFailureThreshold = 5
	defaultResetTimeout     = 60 * time.Second
	defaultPollAttempts     = 10
	defaultPollInterval     = 500 * time.Millisecond
)

// OrderRequest is one market-order execution request
type OrderRequest struct {
	Symbol     string
	Side       Side
	Quantity   float64
	StopLoss   float64 // 0 disables
	TakeProfit float64 // 0 disables
	ReduceOnly bool
}

// OrderResult is the executor's outcome
type OrderResult struct {
	Status            string  `json:"status"`
	OrderID           int64   `json:"order_id,omitempty"`
	AvgFillPrice      float64 `json:"avg_fill_price,omitempty"`
	ExecutedQty       float64 `json:"executed_qty,omitempty"`
	StopLossOrderID   int64   `json:"stop_loss_order_id,omitempty"`
	TakeProfitOrderID int64   `json:"take_profit_order_id,omitempty"`
	Error             string  `json:"error,omitempty"`
	ExecutionMs       int64   `json:"execution_ms"`
}

// Success reports whether the parent order filled
func (r *OrderResult) Success() bool {
	return r.Status == StatusFilled || r.Status == StatusFilledWithProtection
}

// ExecutorConfig tunes the circuit breaker and fill polling
type ExecutorConfig struct {
	FailureThreshold uint32
	ResetTimeout     time.Duration
	PollAttempts     int
	PollInterval     time.Duration
	QuantityDecimals int32
	PriceDecimals    int32
}

// Executor wraps the exchange with a circuit breaker. While the breaker
// is open every execution fails fast with CIRCUIT_BREAKER_OPEN.
type Executor struct {
	ex      Exchange
	breaker *gobreaker.CircuitBreaker
	cfg     ExecutorConfig
	log     zerolog.Logger
}

// NewExecutor creates the order executor
func NewExecutor(ex Exchange, cfg ExecutorConfig) *Executor {
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = defaultFailureThreshold
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = defaultResetTimeout
	}
	if cfg.PollAttempts <= 0 {
		cfg.PollAttempts = defaultPollAttempts
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.PriceDecimals == 0 {
		cfg.PriceDecimals = 2
	}

	executorLog := log.With().Str("component", "order_executor").Logger()
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "order_executor",
		Timeout: cfg.ResetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.ExecutorBreakerState.Set(breakerStateValue(to))
			executorLog.Warn().
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Circuit breaker state changed")
		},
	})

	return &Executor{ex: ex, breaker: breaker, cfg: cfg, log: executorLog}
}

// ExecuteMarketOrder places a market order, polls it to FILLED, and
// optionally attaches reduce-only protective orders. It never returns
// an error; failures are statuses.
func (e *Executor) ExecuteMarketOrder(ctx context.Context, req OrderRequest) *OrderResult {
	start := time.Now()
	result := e.execute(ctx, req)
	result.ExecutionMs = time.Since(start).Milliseconds()

	outcome := "failed"
	if result.Success() {
		outcome = "filled"
	}
	metrics.OrdersTotal.WithLabelValues(result.Status).Inc()
	e.log.Info().
		Str("symbol", req.Symbol).
		Str("side", string(req.Side)).
		Str("status", result.Status).
		Str("outcome", outcome).
		Int64("execution_ms", result.ExecutionMs).
		Msg("Order execution finished")

	return result
}

func (e *Executor) execute(ctx context.Context, req OrderRequest) *OrderResult {
	quantity := decimal.NewFromFloat(req.Quantity).Truncate(e.cfg.QuantityDecimals)
	if quantity.IsZero() || quantity.IsNegative() {
		return &OrderResult{
			Status: StatusInvalidQuantity,
			Error:  fmt.Sprintf("quantity %v truncates to zero at %d decimals", req.Quantity, e.cfg.QuantityDecimals),
		}
	}
	qtyStr := quantity.String()

	filled, err := e.breaker.Execute(func() (interface{}, error) {
		return e.placeAndPoll(ctx, req, qtyStr)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return &OrderResult{Status: StatusCircuitBreakerOpen, Error: err.Error()}
		}
		var failure *executionFailure
		if errors.As(err, &failure) {
			return &OrderResult{Status: failure.status, OrderID: failure.orderID, Error: failure.Error()}
		}
		return &OrderResult{Status: StatusFailed, Error: err.Error()}
	}

	result := filled.(*OrderResult)
	if !req.ReduceOnly && req.StopLoss > 0 && req.TakeProfit > 0 {
		e.attachProtection(ctx, req, qtyStr, result)
	}
	return result
}

// executionFailure carries a failure status through the breaker so the
// breaker counts it against the trip threshold.
type executionFailure struct {
	status  string
	orderID int64
	err     error
}

func (f *executionFailure) Error() string {
	if f.err != nil {
		return f.err.Error()
	}
	return f.status
}

func (f *executionFailure) Unwrap() error { return f.err }

// placeAndPoll runs inside the breaker
func (e *Executor) placeAndPoll(ctx context.Context, req OrderRequest, quantity string) (*OrderResult, error) {
	ack, err := e.ex.PlaceMarketOrder(ctx, req.Symbol, req.Side, quantity, req.ReduceOnly)
	if err != nil {
		return nil, &executionFailure{status: StatusFailed, err: err}
	}
	if ack.OrderID == 0 {
		return nil, &executionFailure{status: StatusNoOrderID, err: errors.New("exchange returned no order id")}
	}

	for attempt := 0; attempt < e.cfg.PollAttempts; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(e.cfg.PollInterval)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, &executionFailure{status: StatusFillTimeout, orderID: ack.OrderID, err: ctx.Err()}
			case <-timer.C:
			}
		}

		info, err := e.ex.GetOrder(ctx, req.Symbol, ack.OrderID)
		if err != nil {
			e.log.Warn().Err(err).Int64("order_id", ack.OrderID).Msg("Order poll failed")
			continue
		}
		if info.Status == "FILLED" {
			return &OrderResult{
				Status:       StatusFilled,
				OrderID:      info.OrderID,
				AvgFillPrice: info.AvgPrice,
				ExecutedQty:  info.ExecutedQty,
			}, nil
		}
		if terminalFailureStatuses[info.Status] {
			return nil, &executionFailure{
				status:  StatusFailed,
				orderID: ack.OrderID,
				err:     fmt.Errorf("order %d ended %s", ack.OrderID, info.Status),
			}
		}
	}

	return nil, &executionFailure{
		status:  StatusFillTimeout,
		orderID: ack.OrderID,
		err:     fmt.Errorf("order %d not filled after %d polls", ack.OrderID, e.cfg.PollAttempts),
	}
}

// attachProtection places reduce-only SL/TP on the opposite side.
// Failures are logged, never fatal to the filled parent.
func (e *Executor) attachProtection(ctx context.Context, req OrderRequest, quantity string, result *OrderResult) {
	opposite := req.Side.Opposite()
	protected := true

	slPrice := decimal.NewFromFloat(req.StopLoss).Truncate(e.cfg.PriceDecimals).String()
	if ack, err := e.ex.PlaceStopLossMarket(ctx, req.Symbol, opposite, quantity, slPrice); err != nil {
		protected = false
		e.log.Error().Err(err).
			Str("symbol", req.Symbol).
			Str("stop_price", slPrice).
			Msg("Failed to place stop-loss, position is unprotected")
	} else {
		result.StopLossOrderID = ack.OrderID
	}

	tpPrice := decimal.NewFromFloat(req.TakeProfit).Truncate(e.cfg.PriceDecimals).String()
	if ack, err := e.ex.PlaceTakeProfitMarket(ctx, req.Symbol, opposite, quantity, tpPrice); err != nil {
		protected = false
		e.log.Error().Err(err).
			Str("symbol", req.Symbol).
			Str("stop_price", tpPrice).
			Msg("Failed to place take-profit")
	} else {
		result.TakeProfitOrderID = ack.OrderID
	}

	if protected {
		result.Status = StatusFilledWithProtection
	}
}

func breakerStateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateOpen:
		return 1
	case gobreaker.StateHalfOpen:
		return 2
	default:
		return 0
	}
}
