package market

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	defaultStreamBase = "wss://fstream.binance.com/stream"
	testnetStreamBase = "wss://stream.binancefuture.com/stream"

	microReadTimeout  = 90 * time.Second
	microPingInterval = 50 * time.Second
)

// Metrics is the order-flow snapshot read at cycle start
type Metrics struct {
	OBI      float64 `json:"obi"`       // (bid_depth - ask_depth) / (bid_depth + ask_depth)
	CVD      float64 `json:"cvd"`       // cumulative volume delta since start
	Spread   float64 `json:"spread"`    // best ask - best bid
	BidDepth float64 `json:"bid_depth"` // summed bid quantity over tracked levels
	AskDepth float64 `json:"ask_depth"` // summed ask quantity over tracked levels
}

// Map returns the snapshot keyed the way agent prompts consume it
func (m Metrics) Map() map[string]float64 {
	return map[string]float64{
		"obi":       m.OBI,
		"cvd":       m.CVD,
		"spread":    m.Spread,
		"bid_depth": m.BidDepth,
		"ask_depth": m.AskDepth,
	}
}

// Collector maintains microstructure metrics from the combined
// depth/aggTrade websocket. It reconnects with exponential backoff and
// keeps the last snapshot readable across reconnects.
type Collector struct {
	url string

	mu      sync.RWMutex
	metrics Metrics
	running bool
	cancel  context.CancelFunc
	done    chan struct{}

	log zerolog.Logger
}

// NewCollector creates a collector for one symbol
func NewCollector(symbol string, testnet bool) *Collector {
	base := defaultStreamBase
	if testnet {
		base = testnetStreamBase
	}
	lower := strings.ToLower(symbol)
	return &Collector{
		url: fmt.Sprintf("%s?streams=%s@depth20@100ms/%s@aggTrade", base, lower, lower),
		log: log.With().
			Str("component", "microstructure").
			Str("symbol", symbol).
			Logger(),
	}
}

// Snapshot returns the current metrics
func (c *Collector) Snapshot() Metrics {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.metrics
}

// Start begins collection. Idempotent.
func (c *Collector) Start(ctx context.Context) {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	c.running = true
	c.cancel = cancel
	c.done = make(chan struct{})
	done := c.done
	c.mu.Unlock()

	go func() {
		defer close(done)
		c.run(runCtx)
	}()
}

// Stop halts collection and waits for the read loop. Idempotent.
func (c *Collector) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	cancel := c.cancel
	done := c.done
	c.mu.Unlock()

	cancel()
	<-done
}

func (c *Collector) run(ctx context.Context) {
	backoff := streamReconnectBase

	for {
		if ctx.Err() != nil {
			return
		}

		err := c.connectAndRead(ctx)
		if ctx.Err() != nil {
			return
		}

		c.log.Warn().Err(err).Dur("backoff", backoff).Msg("Microstructure stream dropped, reconnecting")
		if !sleepCtx(ctx, backoff) {
			return
		}
		backoff = nextBackoff(backoff)
	}
}

func (c *Collector) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	c.log.Debug().Msg("Microstructure websocket connected")

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go func() {
		ticker := time.NewTicker(microPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-pingCtx.Done():
				return
			case <-ticker.C:
				deadline := time.Now().Add(10 * time.Second)
				if err := conn.WriteControl(websocket.PongMessage, nil, deadline); err != nil {
					return
				}
			}
		}
	}()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		conn.SetReadDeadline(time.Now().Add(microReadTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		c.handleMessage(msg)
	}
}

// handleMessage routes one combined-stream envelope
func (c *Collector) handleMessage(data []byte) {
	var envelope struct {
		Stream string          `json:"stream"`
		Data   json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		c.log.Debug().Err(err).Msg("Ignoring malformed stream message")
		return
	}

	switch {
	case strings.Contains(envelope.Stream, "@depth"):
		var depth struct {
			Bids [][2]string `json:"b"`
			Asks [][2]string `json:"a"`
		}
		if err := json.Unmarshal(envelope.Data, &depth); err != nil {
			c.log.Debug().Err(err).Msg("Ignoring malformed depth payload")
			return
		}
		c.applyDepth(levels(depth.Bids), levels(depth.Asks))

	case strings.Contains(envelope.Stream, "@aggTrade"):
		var trade struct {
			Quantity   string `json:"q"`
			BuyerMaker bool   `json:"m"`
		}
		if err := json.Unmarshal(envelope.Data, &trade); err != nil {
			c.log.Debug().Err(err).Msg("Ignoring malformed trade payload")
			return
		}
		c.applyTrade(parseFloat(trade.Quantity), trade.BuyerMaker)
	}
}

// applyDepth recomputes imbalance, depth, and spread from a book snapshot.
// Levels are [price, quantity] pairs, best first.
func (c *Collector) applyDepth(bids, asks [][2]float64) {
	var bidDepth, askDepth float64
	for _, lvl := range bids {
		bidDepth += lvl[1]
	}
	for _, lvl := range asks {
		askDepth += lvl[1]
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.metrics.BidDepth = bidDepth
	c.metrics.AskDepth = askDepth
	if total := bidDepth + askDepth; total > 0 {
		c.metrics.OBI = (bidDepth - askDepth) / total
	} else {
		c.metrics.OBI = 0
	}
	if len(bids) > 0 && len(asks) > 0 {
		c.metrics.Spread = asks[0][0] - bids[0][0]
	}
}

// applyTrade accumulates volume delta. A buyer-maker trade is a sell
// aggressor and subtracts from CVD.
func (c *Collector) applyTrade(qty float64, buyerMaker bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if buyerMaker {
		c.metrics.CVD -= qty
	} else {
		c.metrics.CVD += qty
	}
}

func levels(raw [][2]string) [][2]float64 {
	out := make([][2]float64, 0, len(raw))
	for _, lvl := range raw {
		out = append(out, [2]float64{parseFloat(lvl[0]), parseFloat(lvl[1])})
	}
	return out
}
