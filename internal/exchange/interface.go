// Package exchange holds the derivatives-exchange contract, its
// Binance futures and paper implementations, and the circuit-broken
// order executor.
package exchange

import "context"

// Exchange is the contract the executor and engine consume. Both the
// Binance futures client and the paper engine implement it.
// Implementations return an error on transport failure and structured
// values on success.
type Exchange interface {
	PlaceMarketOrder(ctx context.Context, symbol string, side Side, quantity string, reduceOnly bool) (*OrderAck, error)
	PlaceStopLossMarket(ctx context.Context, symbol string, side Side, quantity, stopPrice string) (*OrderAck, error)
	PlaceTakeProfitMarket(ctx context.Context, symbol string, side Side, quantity, stopPrice string) (*OrderAck, error)
	GetOrder(ctx context.Context, symbol string, orderID int64) (*OrderInfo, error)
	CancelOrder(ctx context.Context, symbol string, orderID int64) error
	CancelAllOpenOrders(ctx context.Context, symbol string) error
	GetPosition(ctx context.Context, symbol string) (*Position, error)
	GetBalanceUSDT(ctx context.Context) (float64, error)
	GetKlines(ctx context.Context, symbol, interval string, limit int) ([]Kline, error)
	GetTicker(ctx context.Context, symbol string) (*Ticker, error)
}
