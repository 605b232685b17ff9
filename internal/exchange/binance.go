package exchange

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tradewind-ai/tradewind/internal/metrics"
)

// Binance implements Exchange against USDT-margined futures
type Binance struct {
	client *futures.Client
	log    zerolog.Logger
}

// BinanceConfig configures the futures client
type BinanceConfig struct {
	APIKey    string
	SecretKey string
	Testnet   bool
}

// NewBinance creates the futures exchange client
func NewBinance(cfg BinanceConfig) *Binance {
	if cfg.Testnet {
		futures.UseTestnet = true
		log.Info().Msg("Binance futures client initialized (TESTNET mode)")
	} else {
		log.Warn().Msg("Binance futures client initialized (LIVE TRADING mode)")
	}

	return &Binance{
		client: futures.NewClient(cfg.APIKey, cfg.SecretKey),
		log:    log.With().Str("component", "binance_futures").Logger(),
	}
}

func (b *Binance) PlaceMarketOrder(ctx context.Context, symbol string, side Side, quantity string, reduceOnly bool) (*OrderAck, error) {
	svc := b.client.NewCreateOrderService().
		Symbol(symbol).
		Side(futures.SideType(side)).
		Type(futures.OrderTypeMarket).
		Quantity(quantity)
	if reduceOnly {
		svc = svc.ReduceOnly(true)
	}

	resp, err := svc.Do(ctx)
	if err != nil {
		metrics.ExchangeErrors.WithLabelValues(metrics.NormalizeExchangeError(err)).Inc()
		return nil, fmt.Errorf("failed to place market order: %w", err)
	}

	b.log.Info().
		Str("symbol", symbol).
		Str("side", string(side)).
		Str("quantity", quantity).
		Int64("order_id", resp.OrderID).
		Msg("Market order placed")

	return &OrderAck{OrderID: resp.OrderID, Status: string(resp.Status)}, nil
}

func (b *Binance) PlaceStopLossMarket(ctx context.Context, symbol string, side Side, quantity, stopPrice string) (*OrderAck, error) {
	return b.placeConditional(ctx, symbol, side, quantity, stopPrice, futures.OrderTypeStopMarket)
}

func (b *Binance) PlaceTakeProfitMarket(ctx context.Context, symbol string, side Side, quantity, stopPrice string) (*OrderAck, error) {
	return b.placeConditional(ctx, symbol, side, quantity, stopPrice, futures.OrderTypeTakeProfitMarket)
}

// placeConditional places a reduce-only algo order. With an empty
// quantity the order closes the whole position exchange-side.
func (b *Binance) placeConditional(ctx context.Context, symbol string, side Side, quantity, stopPrice string, orderType futures.OrderType) (*OrderAck, error) {
	svc := b.client.NewCreateOrderService().
		Symbol(symbol).
		Side(futures.SideType(side)).
		Type(orderType).
		StopPrice(stopPrice)
	if quantity == "" {
		svc = svc.ClosePosition(true)
	} else {
		svc = svc.Quantity(quantity).ReduceOnly(true)
	}

	resp, err := svc.Do(ctx)
	if err != nil {
		metrics.ExchangeErrors.WithLabelValues(metrics.NormalizeExchangeError(err)).Inc()
		return nil, fmt.Errorf("failed to place %s order: %w", orderType, err)
	}

	return &OrderAck{OrderID: resp.OrderID, Status: string(resp.Status)}, nil
}

func (b *Binance) GetOrder(ctx context.Context, symbol string, orderID int64) (*OrderInfo, error) {
	order, err := b.client.NewGetOrderService().
		Symbol(symbol).
		OrderID(orderID).
		Do(ctx)
	if err != nil {
		metrics.ExchangeErrors.WithLabelValues(metrics.NormalizeExchangeError(err)).Inc()
		return nil, fmt.Errorf("failed to get order %d: %w", orderID, err)
	}

	return &OrderInfo{
		OrderID:     order.OrderID,
		Symbol:      order.Symbol,
		Status:      string(order.Status),
		AvgPrice:    parseFloat(order.AvgPrice),
		ExecutedQty: parseFloat(order.ExecutedQuantity),
	}, nil
}

func (b *Binance) CancelOrder(ctx context.Context, symbol string, orderID int64) error {
	_, err := b.client.NewCancelOrderService().
		Symbol(symbol).
		OrderID(orderID).
		Do(ctx)
	if err != nil {
		metrics.ExchangeErrors.WithLabelValues(metrics.NormalizeExchangeError(err)).Inc()
		return fmt.Errorf("failed to cancel order %d: %w", orderID, err)
	}
	return nil
}

func (b *Binance) CancelAllOpenOrders(ctx context.Context, symbol string) error {
	if err := b.client.NewCancelAllOpenOrdersService().Symbol(symbol).Do(ctx); err != nil {
		metrics.ExchangeErrors.WithLabelValues(metrics.NormalizeExchangeError(err)).Inc()
		return fmt.Errorf("failed to cancel open orders for %s: %w", symbol, err)
	}
	return nil
}

func (b *Binance) GetPosition(ctx context.Context, symbol string) (*Position, error) {
	risks, err := b.client.NewGetPositionRiskService().Symbol(symbol).Do(ctx)
	if err != nil {
		metrics.ExchangeErrors.WithLabelValues(metrics.NormalizeExchangeError(err)).Inc()
		return nil, fmt.Errorf("failed to get position for %s: %w", symbol, err)
	}

	for _, r := range risks {
		if r.Symbol == symbol {
			return &Position{
				Symbol:           r.Symbol,
				PositionAmt:      parseFloat(r.PositionAmt),
				EntryPrice:       parseFloat(r.EntryPrice),
				UnrealizedProfit: parseFloat(r.UnRealizedProfit),
			}, nil
		}
	}
	return &Position{Symbol: symbol}, nil
}

func (b *Binance) GetBalanceUSDT(ctx context.Context) (float64, error) {
	balances, err := b.client.NewGetBalanceService().Do(ctx)
	if err != nil {
		metrics.ExchangeErrors.WithLabelValues(metrics.NormalizeExchangeError(err)).Inc()
		return 0, fmt.Errorf("failed to get balances: %w", err)
	}

	for _, bal := range balances {
		if bal.Asset == "USDT" {
			return parseFloat(bal.Balance), nil
		}
	}
	return 0, nil
}

func (b *Binance) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]Kline, error) {
	raw, err := b.client.NewKlinesService().
		Symbol(symbol).
		Interval(interval).
		Limit(limit).
		Do(ctx)
	if err != nil {
		metrics.ExchangeErrors.WithLabelValues(metrics.NormalizeExchangeError(err)).Inc()
		return nil, fmt.Errorf("failed to get klines for %s: %w", symbol, err)
	}

	klines := make([]Kline, 0, len(raw))
	for _, k := range raw {
		klines = append(klines, Kline{
			OpenTime:  k.OpenTime,
			CloseTime: k.CloseTime,
			Open:      parseFloat(k.Open),
			High:      parseFloat(k.High),
			Low:       parseFloat(k.Low),
			Close:     parseFloat(k.Close),
			Volume:    parseFloat(k.Volume),
		})
	}
	return klines, nil
}

func (b *Binance) GetTicker(ctx context.Context, symbol string) (*Ticker, error) {
	prices, err := b.client.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		metrics.ExchangeErrors.WithLabelValues(metrics.NormalizeExchangeError(err)).Inc()
		return nil, fmt.Errorf("failed to get ticker for %s: %w", symbol, err)
	}
	if len(prices) == 0 {
		return nil, fmt.Errorf("no ticker returned for %s", symbol)
	}

	return &Ticker{
		Symbol:    prices[0].Symbol,
		LastPrice: parseFloat(prices[0].Price),
		Timestamp: time.Now().UTC(),
	}, nil
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}
