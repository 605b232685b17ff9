package exchange

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedExchange drives the executor through canned outcomes
type scriptedExchange struct {
	Exchange

	ackID    int64
	placeErr error
	statuses []string
	polls    int

	slErr error
	tpErr error

	marketCalls []Side
	condCalls   []condCall
}

type condCall struct {
	kind string
	side Side
	qty  string
}

func (s *scriptedExchange) PlaceMarketOrder(_ context.Context, _ string, side Side, _ string, _ bool) (*OrderAck, error) {
	s.marketCalls = append(s.marketCalls, side)
	if s.placeErr != nil {
		return nil, s.placeErr
	}
	return &OrderAck{OrderID: s.ackID, Status: "NEW"}, nil
}

func (s *scriptedExchange) GetOrder(_ context.Context, _ string, orderID int64) (*OrderInfo, error) {
	status := "NEW"
	if s.polls < len(s.statuses) {
		status = s.statuses[s.polls]
	} else if len(s.statuses) > 0 {
		status = s.statuses[len(s.statuses)-1]
	}
	s.polls++
	return &OrderInfo{OrderID: orderID, Status: status, AvgPrice: 65000, ExecutedQty: 0.5}, nil
}

func (s *scriptedExchange) PlaceStopLossMarket(_ context.Context, _ string, side Side, qty, _ string) (*OrderAck, error) {
	s.condCalls = append(s.condCalls, condCall{"SL", side, qty})
	if s.slErr != nil {
		return nil, s.slErr
	}
	return &OrderAck{OrderID: 2001, Status: "NEW"}, nil
}

func (s *scriptedExchange) PlaceTakeProfitMarket(_ context.Context, _ string, side Side, qty, _ string) (*OrderAck, error) {
	s.condCalls = append(s.condCalls, condCall{"TP", side, qty})
	if s.tpErr != nil {
		return nil, s.tpErr
	}
	return &OrderAck{OrderID: 2002, Status: "NEW"}, nil
}

func fastExecutor(ex Exchange) *Executor {
	return NewExecutor(ex, ExecutorConfig{
		PollAttempts:     3,
		PollInterval:     time.Millisecond,
		QuantityDecimals: 3,
	})
}

func buyRequest() OrderRequest {
	return OrderRequest{Symbol: "BTCUSDT", Side: SideBuy, Quantity: 0.5}
}

func TestExecuteMarketOrderFilled(t *testing.T) {
	ex := &scriptedExchange{ackID: 42, statuses: []string{"FILLED"}}
	result := fastExecutor(ex).ExecuteMarketOrder(context.Background(), buyRequest())

	assert.Equal(t, StatusFilled, result.Status)
	assert.True(t, result.Success())
	assert.Equal(t, int64(42), result.OrderID)
	assert.Equal(t, 65000.0, result.AvgFillPrice)
}

func TestExecuteMarketOrderWithProtection(t *testing.T) {
	ex := &scriptedExchange{ackID: 42, statuses: []string{"FILLED"}}

	req := buyRequest()
	req.StopLoss = 63000
	req.TakeProfit = 68000
	result := fastExecutor(ex).ExecuteMarketOrder(context.Background(), req)

	assert.Equal(t, StatusFilledWithProtection, result.Status)
	assert.Equal(t, int64(2001), result.StopLossOrderID)
	assert.Equal(t, int64(2002), result.TakeProfitOrderID)

	require.Len(t, ex.condCalls, 2)
	for _, call := range ex.condCalls {
		assert.Equal(t, SideSell, call.side, "protective orders go the opposite way")
		assert.Equal(t, "0.5", call.qty)
	}
}

func TestProtectionFailureDoesNotFailParent(t *testing.T) {
	ex := &scriptedExchange{ackID: 42, statuses: []string{"FILLED"}, slErr: errors.New("margin check failed")}

	req := buyRequest()
	req.StopLoss = 63000
	req.TakeProfit = 68000
	result := fastExecutor(ex).ExecuteMarketOrder(context.Background(), req)

	assert.Equal(t, StatusFilled, result.Status)
	assert.True(t, result.Success())
	assert.Zero(t, result.StopLossOrderID)
	assert.Equal(t, int64(2002), result.TakeProfitOrderID)
}

func TestReduceOnlySkipsProtection(t *testing.T) {
	ex := &scriptedExchange{ackID: 42, statuses: []string{"FILLED"}}

	req := buyRequest()
	req.ReduceOnly = true
	req.StopLoss = 63000
	req.TakeProfit = 68000
	result := fastExecutor(ex).ExecuteMarketOrder(context.Background(), req)

	assert.Equal(t, StatusFilled, result.Status)
	assert.Empty(t, ex.condCalls)
}

func TestInvalidQuantity(t *testing.T) {
	ex := &scriptedExchange{ackID: 42}

	req := buyRequest()
	req.Quantity = 0.0001 // truncates to zero at 3 decimals
	result := fastExecutor(ex).ExecuteMarketOrder(context.Background(), req)

	assert.Equal(t, StatusInvalidQuantity, result.Status)
	assert.Empty(t, ex.marketCalls, "no order reaches the exchange")
}

func TestNoOrderID(t *testing.T) {
	ex := &scriptedExchange{ackID: 0}
	result := fastExecutor(ex).ExecuteMarketOrder(context.Background(), buyRequest())
	assert.Equal(t, StatusNoOrderID, result.Status)
}

func TestTerminalStatusFails(t *testing.T) {
	ex := &scriptedExchange{ackID: 42, statuses: []string{"NEW", "CANCELED"}}
	result := fastExecutor(ex).ExecuteMarketOrder(context.Background(), buyRequest())

	assert.Equal(t, StatusFailed, result.Status)
	assert.Contains(t, result.Error, "CANCELED")
}

func TestFillTimeout(t *testing.T) {
	ex := &scriptedExchange{ackID: 42, statuses: []string{"NEW"}}
	result := fastExecutor(ex).ExecuteMarketOrder(context.Background(), buyRequest())

	assert.Equal(t, StatusFillTimeout, result.Status)
	assert.Equal(t, 3, ex.polls)
}

func TestCircuitBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	ex := &scriptedExchange{placeErr: errors.New("connection reset")}
	executor := NewExecutor(ex, ExecutorConfig{
		FailureThreshold: 5,
		ResetTimeout:     time.Minute,
		PollAttempts:     1,
		PollInterval:     time.Millisecond,
		QuantityDecimals: 3,
	})

	for i := 0; i < 5; i++ {
		result := executor.ExecuteMarketOrder(context.Background(), buyRequest())
		assert.Equal(t, StatusFailed, result.Status)
	}

	calls := len(ex.marketCalls)
	result := executor.ExecuteMarketOrder(context.Background(), buyRequest())
	assert.Equal(t, StatusCircuitBreakerOpen, result.Status)
	assert.Len(t, ex.marketCalls, calls, "open breaker fails fast without touching the exchange")
}
