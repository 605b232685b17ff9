// Package market delivers live kline and order-flow data to the engine:
// a futures kline stream with automatic reconnection, a microstructure
// collector over the combined depth/aggTrade stream, and a Redis-backed
// cache for best-effort external context snapshots.
package market

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Kline is one candlestick as delivered by the stream. The engine only
// acts on IsClosed klines; in-progress updates refresh price and volume.
type Kline struct {
	OpenTime int64 // ms since epoch
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   float64
	IsClosed bool
}

// KlineHandler receives every kline update, closed or not
type KlineHandler func(Kline)

// Stream is the market-data contract the engine consumes
type Stream interface {
	OnKline(KlineHandler)
	CurrentPrice() float64
	CurrentVolume() float64
	Microstructure() Metrics
	Start(ctx context.Context) error
	Stop()
}

const (
	streamReconnectBase = time.Second
	streamReconnectMax  = 30 * time.Second
)

// KlineStream subscribes to the futures kline websocket for one
// symbol/timeframe and reconnects with exponential backoff until Stop.
type KlineStream struct {
	symbol    string
	timeframe string
	micro     *Collector // optional

	mu      sync.RWMutex
	handler KlineHandler
	price   float64
	volume  float64
	running bool
	cancel  context.CancelFunc
	done    chan struct{}

	log zerolog.Logger
}

// NewKlineStream creates a stream for one symbol and timeframe. The
// collector is optional; without it Microstructure returns zero metrics.
func NewKlineStream(symbol, timeframe string, micro *Collector) *KlineStream {
	return &KlineStream{
		symbol:    symbol,
		timeframe: timeframe,
		micro:     micro,
		log: log.With().
			Str("component", "kline_stream").
			Str("symbol", symbol).
			Str("timeframe", timeframe).
			Logger(),
	}
}

// OnKline registers the kline callback. Must be called before Start.
func (s *KlineStream) OnKline(h KlineHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = h
}

// CurrentPrice returns the last observed close price
func (s *KlineStream) CurrentPrice() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.price
}

// CurrentVolume returns the last observed kline volume
func (s *KlineStream) CurrentVolume() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.volume
}

// Microstructure returns the latest order-flow snapshot
func (s *KlineStream) Microstructure() Metrics {
	if s.micro == nil {
		return Metrics{}
	}
	return s.micro.Snapshot()
}

// Start begins delivery. Idempotent: a second call while running is a no-op.
func (s *KlineStream) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.running = true
	s.cancel = cancel
	s.done = make(chan struct{})
	done := s.done
	s.mu.Unlock()

	go func() {
		defer close(done)
		s.serve(runCtx)
	}()

	if s.micro != nil {
		s.micro.Start(ctx)
	}

	s.log.Info().Msg("Kline stream started")
	return nil
}

// Stop halts delivery and waits for the serve loop to exit. Idempotent.
func (s *KlineStream) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	done := s.done
	s.mu.Unlock()

	cancel()
	<-done
	if s.micro != nil {
		s.micro.Stop()
	}
	s.log.Info().Msg("Kline stream stopped")
}

// serve maintains the websocket subscription, reconnecting with
// exponential backoff until the context is cancelled.
func (s *KlineStream) serve(ctx context.Context) {
	backoff := streamReconnectBase

	for {
		if ctx.Err() != nil {
			return
		}

		disconnected := make(chan error, 1)
		doneC, stopC, err := futures.WsKlineServe(s.symbol, s.timeframe,
			func(event *futures.WsKlineEvent) {
				s.dispatch(event)
			},
			func(err error) {
				select {
				case disconnected <- err:
				default:
				}
			},
		)
		if err != nil {
			s.log.Warn().Err(err).Dur("backoff", backoff).Msg("Kline subscribe failed, retrying")
			if !sleepCtx(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff)
			continue
		}

		backoff = streamReconnectBase
		s.log.Debug().Msg("Kline websocket connected")

		select {
		case <-ctx.Done():
			close(stopC)
			<-doneC
			return
		case err := <-disconnected:
			close(stopC)
			<-doneC
			s.log.Warn().Err(err).Dur("backoff", backoff).Msg("Kline websocket dropped, reconnecting")
			if !sleepCtx(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff)
		case <-doneC:
			s.log.Warn().Dur("backoff", backoff).Msg("Kline websocket closed, reconnecting")
			if !sleepCtx(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff)
		}
	}
}

func (s *KlineStream) dispatch(event *futures.WsKlineEvent) {
	k := Kline{
		OpenTime: event.Kline.StartTime,
		Open:     parseFloat(event.Kline.Open),
		High:     parseFloat(event.Kline.High),
		Low:      parseFloat(event.Kline.Low),
		Close:    parseFloat(event.Kline.Close),
		Volume:   parseFloat(event.Kline.Volume),
		IsClosed: event.Kline.IsFinal,
	}

	s.mu.Lock()
	s.price = k.Close
	s.volume = k.Volume
	handler := s.handler
	s.mu.Unlock()

	if handler != nil {
		handler(k)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func nextBackoff(d time.Duration) time.Duration {
	d *= 2
	if d > streamReconnectMax {
		d = streamReconnectMax
	}
	return d
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}
