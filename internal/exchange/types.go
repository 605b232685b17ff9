package exchange

import "time"

// Side is the order direction
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite returns the other direction, used for protective orders
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderAck is the exchange's acknowledgment of a placed order
type OrderAck struct {
	OrderID int64  `json:"order_id"`
	Status  string `json:"status"`
}

// OrderInfo is the polled state of an order
type OrderInfo struct {
	OrderID     int64   `json:"order_id"`
	Symbol      string  `json:"symbol"`
	Status      string  `json:"status"` // NEW, PARTIALLY_FILLED, FILLED, CANCELED, EXPIRED, REJECTED
	AvgPrice    float64 `json:"avg_price"`
	ExecutedQty float64 `json:"executed_qty"`
}

// Position is the current exposure on one symbol
type Position struct {
	Symbol           string  `json:"symbol"`
	PositionAmt      float64 `json:"position_amt"` // signed: negative is short
	EntryPrice       float64 `json:"entry_price"`
	UnrealizedProfit float64 `json:"unrealized_profit"`
}

// Kline is one OHLCV candle
type Kline struct {
	OpenTime  int64   `json:"open_time"`
	CloseTime int64   `json:"close_time"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
}

// Ticker is the latest price snapshot
type Ticker struct {
	Symbol    string    `json:"symbol"`
	LastPrice float64   `json:"last_price"`
	Timestamp time.Time `json:"timestamp"`
}

// terminal order statuses that are not FILLED
var terminalFailureStatuses = map[string]bool{
	"CANCELED": true,
	"EXPIRED":  true,
	"REJECTED": true,
}
