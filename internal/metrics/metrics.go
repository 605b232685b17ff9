package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Exchange API error categories (bounded set). Metric labels must stay
// bounded or cardinality grows without limit.
const (
	ExchangeErrorTimeout     = "timeout"
	ExchangeErrorRateLimit   = "rate_limit"
	ExchangeErrorAuth        = "authentication"
	ExchangeErrorNetwork     = "network"
	ExchangeErrorInvalidReq  = "invalid_request"
	ExchangeErrorServerError = "server_error"
	ExchangeErrorOther       = "other"
)

// NormalizeExchangeError maps arbitrary error messages to a bounded set
func NormalizeExchangeError(err error) string {
	if err == nil {
		return ""
	}
	errStr := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errStr, "timeout") || strings.Contains(errStr, "deadline"):
		return ExchangeErrorTimeout
	case strings.Contains(errStr, "rate") || strings.Contains(errStr, "429"):
		return ExchangeErrorRateLimit
	case strings.Contains(errStr, "auth") || strings.Contains(errStr, "401") || strings.Contains(errStr, "403"):
		return ExchangeErrorAuth
	case strings.Contains(errStr, "network") || strings.Contains(errStr, "connection"):
		return ExchangeErrorNetwork
	case strings.Contains(errStr, "400") || strings.Contains(errStr, "invalid"):
		return ExchangeErrorInvalidReq
	case strings.Contains(errStr, "500") || strings.Contains(errStr, "502") || strings.Contains(errStr, "503"):
		return ExchangeErrorServerError
	default:
		return ExchangeErrorOther
	}
}

// Engine cycle metrics
var (
	CyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradewind_cycles_total",
		Help: "Total decision cycles by outcome",
	}, []string{"outcome"}) // completed, failed, skipped

	CycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tradewind_cycle_duration_seconds",
		Help:    "Duration of a full decision cycle",
		Buckets: []float64{1, 5, 10, 20, 30, 60, 120, 180},
	})

	BufferCandles = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tradewind_buffer_candles",
		Help: "Number of closed candles in the indicator buffer",
	})
)

// Agent metrics
var (
	AgentAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradewind_agent_attempts_total",
		Help: "Agent generation attempts by agent and outcome",
	}, []string{"agent", "outcome"}) // valid, invalid, error

	AgentDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tradewind_agent_duration_seconds",
		Help:    "Duration of a single agent invocation including retries",
		Buckets: []float64{0.5, 1, 2, 5, 10, 15, 30, 60},
	}, []string{"agent"})

	LLMFallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradewind_llm_fallbacks_total",
		Help: "Fallback activations per target model",
	}, []string{"model"})
)

// Risk governor metrics
var (
	// 0=NORMAL 1=HOT 2=CAUTION 3=SEVERE
	RiskMode = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tradewind_risk_mode",
		Help: "Current risk mode (0=NORMAL 1=HOT 2=CAUTION 3=SEVERE)",
	})

	RiskBlockedTrades = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tradewind_risk_blocked_trades_total",
		Help: "Trades blocked by the risk governor",
	})

	RiskDrawdownPct = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tradewind_risk_drawdown_pct",
		Help: "Current drawdown from peak balance in percent",
	})
)

// Executor metrics
var (
	OrdersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradewind_orders_total",
		Help: "Order placements by final status",
	}, []string{"status"})

	ExecutorBreakerState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tradewind_executor_breaker_state",
		Help: "Order executor circuit breaker state (0=closed 1=half-open 2=open)",
	})

	ExchangeErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradewind_exchange_errors_total",
		Help: "Exchange API errors by category",
	}, []string{"category"})
)

// Alert metrics
var (
	AlertQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tradewind_alert_queue_depth",
		Help: "Alerts currently queued for dispatch",
	})

	AlertsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradewind_alerts_sent_total",
		Help: "Alert deliveries by channel and outcome",
	}, []string{"channel", "outcome"}) // sent, failed, suppressed
)

// Reasoning store metrics
var (
	MemoryOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradewind_memory_ops_total",
		Help: "Reasoning store operations by kind and outcome",
	}, []string{"op", "outcome"})
)

// Status API metrics
var (
	apiRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradewind_api_requests_total",
		Help: "Status API requests by method, path, and status code",
	}, []string{"method", "path", "status"})

	apiDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tradewind_api_request_duration_ms",
		Help:    "Status API request duration in milliseconds",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
	}, []string{"method", "path"})
)

// RecordAPIRequest records a single status API request
func RecordAPIRequest(method, path, status string, durationMs float64) {
	apiRequests.WithLabelValues(method, path, status).Inc()
	apiDuration.WithLabelValues(method, path).Observe(durationMs)
}
