package exchange

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Paper is a deterministic in-memory exchange: market orders fill
// immediately at the current mark price, conditional orders rest until
// cancelled. It lets the default mode trade without credentials.
type Paper struct {
	mu sync.Mutex

	balance   float64
	marks     map[string]float64
	positions map[string]*Position
	orders    map[int64]*OrderInfo
	open      map[int64]string // resting conditional orders by symbol
	nextID    int64

	log zerolog.Logger
}

// NewPaper creates a paper exchange with a starting USDT balance
func NewPaper(startingBalance float64) *Paper {
	return &Paper{
		balance:   startingBalance,
		marks:     make(map[string]float64),
		positions: make(map[string]*Position),
		orders:    make(map[int64]*OrderInfo),
		open:      make(map[int64]string),
		nextID:    1000,
		log:       log.With().Str("component", "paper_exchange").Logger(),
	}
}

// SetMarkPrice sets the fill price for a symbol. The engine feeds it
// from the kline stream.
func (p *Paper) SetMarkPrice(symbol string, price float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.marks[symbol] = price
}

func (p *Paper) PlaceMarketOrder(_ context.Context, symbol string, side Side, quantity string, reduceOnly bool) (*OrderAck, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	mark, ok := p.marks[symbol]
	if !ok || mark <= 0 {
		return nil, fmt.Errorf("no mark price for %s", symbol)
	}
	qty, err := strconv.ParseFloat(quantity, 64)
	if err != nil || qty <= 0 {
		return nil, fmt.Errorf("invalid quantity %q", quantity)
	}

	id := p.nextOrderID()
	p.orders[id] = &OrderInfo{
		OrderID:     id,
		Symbol:      symbol,
		Status:      "FILLED",
		AvgPrice:    mark,
		ExecutedQty: qty,
	}
	p.applyFill(symbol, side, qty, mark, reduceOnly)

	p.log.Info().
		Str("symbol", symbol).
		Str("side", string(side)).
		Float64("quantity", qty).
		Float64("price", mark).
		Int64("order_id", id).
		Msg("Paper order filled")

	return &OrderAck{OrderID: id, Status: "FILLED"}, nil
}

func (p *Paper) PlaceStopLossMarket(_ context.Context, symbol string, side Side, quantity, stopPrice string) (*OrderAck, error) {
	return p.restConditional(symbol, "STOP_MARKET", stopPrice)
}

func (p *Paper) PlaceTakeProfitMarket(_ context.Context, symbol string, side Side, quantity, stopPrice string) (*OrderAck, error) {
	return p.restConditional(symbol, "TAKE_PROFIT_MARKET", stopPrice)
}

func (p *Paper) restConditional(symbol, kind, stopPrice string) (*OrderAck, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, err := strconv.ParseFloat(stopPrice, 64); err != nil {
		return nil, fmt.Errorf("invalid stop price %q", stopPrice)
	}

	id := p.nextOrderID()
	p.orders[id] = &OrderInfo{OrderID: id, Symbol: symbol, Status: "NEW"}
	p.open[id] = symbol

	p.log.Debug().
		Str("symbol", symbol).
		Str("type", kind).
		Str("stop_price", stopPrice).
		Int64("order_id", id).
		Msg("Paper conditional order resting")

	return &OrderAck{OrderID: id, Status: "NEW"}, nil
}

func (p *Paper) GetOrder(_ context.Context, symbol string, orderID int64) (*OrderInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	order, ok := p.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("unknown order %d", orderID)
	}
	copied := *order
	return &copied, nil
}

func (p *Paper) CancelOrder(_ context.Context, symbol string, orderID int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	order, ok := p.orders[orderID]
	if !ok {
		return fmt.Errorf("unknown order %d", orderID)
	}
	if order.Status == "NEW" {
		order.Status = "CANCELED"
		delete(p.open, orderID)
	}
	return nil
}

func (p *Paper) CancelAllOpenOrders(_ context.Context, symbol string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for id, sym := range p.open {
		if sym != symbol {
			continue
		}
		p.orders[id].Status = "CANCELED"
		delete(p.open, id)
	}
	return nil
}

func (p *Paper) GetPosition(_ context.Context, symbol string) (*Position, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	pos, ok := p.positions[symbol]
	if !ok {
		return &Position{Symbol: symbol}, nil
	}
	copied := *pos
	if mark, ok := p.marks[symbol]; ok && copied.PositionAmt != 0 {
		copied.UnrealizedProfit = (mark - copied.EntryPrice) * copied.PositionAmt
	}
	return &copied, nil
}

func (p *Paper) GetBalanceUSDT(_ context.Context) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.balance, nil
}

func (p *Paper) GetKlines(_ context.Context, symbol, interval string, limit int) ([]Kline, error) {
	return nil, nil
}

func (p *Paper) GetTicker(_ context.Context, symbol string) (*Ticker, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	mark, ok := p.marks[symbol]
	if !ok {
		return nil, fmt.Errorf("no mark price for %s", symbol)
	}
	return &Ticker{Symbol: symbol, LastPrice: mark, Timestamp: time.Now().UTC()}, nil
}

// applyFill updates the position and realizes pnl on reductions;
// callers hold p.mu.
func (p *Paper) applyFill(symbol string, side Side, qty, price float64, reduceOnly bool) {
	pos, ok := p.positions[symbol]
	if !ok {
		pos = &Position{Symbol: symbol}
		p.positions[symbol] = pos
	}

	signed := qty
	if side == SideSell {
		signed = -qty
	}

	// Reduction realizes pnl on the closed amount
	if pos.PositionAmt != 0 && (pos.PositionAmt > 0) != (signed > 0) {
		closed := minAbs(pos.PositionAmt, signed)
		pnl := (price - pos.EntryPrice) * closed
		p.balance += pnl
	}

	newAmt := pos.PositionAmt + signed
	if reduceOnly && (newAmt > 0) == (pos.PositionAmt > 0) && absFloat(newAmt) > absFloat(pos.PositionAmt) {
		// reduce-only must not grow the position
		newAmt = 0
	}

	if newAmt == 0 {
		delete(p.positions, symbol)
		return
	}
	if (pos.PositionAmt >= 0) != (newAmt >= 0) || pos.PositionAmt == 0 {
		pos.EntryPrice = price
	}
	pos.PositionAmt = newAmt
}

func (p *Paper) nextOrderID() int64 {
	p.nextID++
	return p.nextID
}

func minAbs(position, opposing float64) float64 {
	a, b := absFloat(position), absFloat(opposing)
	if a < b {
		b = a
	}
	if position > 0 {
		return b
	}
	return -b
}

func absFloat(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
