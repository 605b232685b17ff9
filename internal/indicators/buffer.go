// Package indicators maintains bounded OHLCV buffers and the derived
// indicator snapshot consumed by the analysis cycle.
package indicators

import (
	"math"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	// MaxLen bounds every price and indicator sequence
	MaxLen = 300
	// MinCandlesForCalc is the minimum candle count before the snapshot
	// is computed at all
	MinCandlesForCalc = 30
	// MinCandlesForReliableCalc gates the full indicator map in
	// CurrentIndicators
	MinCandlesForReliableCalc = 30
)

// Buffer holds bounded ordered sequences of OHLCV data plus a cache of
// the latest indicator snapshot. All operations are serialized under a
// single mutex.
type Buffer struct {
	mu sync.Mutex

	opens     []float64
	highs     []float64
	lows      []float64
	closes    []float64
	volumes   []float64
	openTimes []int64

	snapshot      map[string]any
	indicatorSeqs map[string][]float64
	bandwidthHist []float64

	log zerolog.Logger
}

// NewBuffer creates an empty indicator buffer
func NewBuffer() *Buffer {
	return &Buffer{
		indicatorSeqs: make(map[string][]float64),
		log:           log.With().Str("component", "indicator_buffer").Logger(),
	}
}

// Append ingests one closed candle. The open price is synthesized from
// the previous close when openPrice <= 0. Returns false without mutating
// any buffer when the OHLC values are non-finite, non-positive, or
// violate low <= {open, close} <= high.
func (b *Buffer) Append(closePrice, high, low, volume, openPrice float64, openTime int64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if openPrice <= 0 {
		if len(b.closes) > 0 {
			openPrice = b.closes[len(b.closes)-1]
		} else {
			openPrice = closePrice
		}
	}

	if !validOHLC(openPrice, high, low, closePrice) || volume < 0 || !isFinite(volume) {
		b.log.Debug().
			Float64("open", openPrice).
			Float64("high", high).
			Float64("low", low).
			Float64("close", closePrice).
			Float64("volume", volume).
			Msg("Rejected invalid candle")
		return false
	}

	b.opens = push(b.opens, openPrice)
	b.highs = push(b.highs, high)
	b.lows = push(b.lows, low)
	b.closes = push(b.closes, closePrice)
	b.volumes = push(b.volumes, volume)
	b.openTimes = pushInt64(b.openTimes, openTime)

	if len(b.closes) >= MinCandlesForCalc {
		b.recompute()
	} else {
		b.snapshot = nil
	}

	return true
}

// Count returns the number of buffered candles
func (b *Buffer) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.closes)
}

// LastPrice returns the most recent close, or 0 when empty
func (b *Buffer) LastPrice() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.closes) == 0 {
		return 0
	}
	return b.closes[len(b.closes)-1]
}

// CurrentIndicators returns the latest indicator snapshot. With at least
// one candle it always carries last_price, curr_vol, and avg_vol_20; the
// full indicator map appears only once MinCandlesForReliableCalc candles
// have been observed. Non-finite values are omitted.
func (b *Buffer) CurrentIndicators() map[string]any {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make(map[string]any)
	if len(b.closes) == 0 {
		return out
	}

	out["last_price"] = b.closes[len(b.closes)-1]
	out["curr_vol"] = b.volumes[len(b.volumes)-1]
	out["avg_vol_20"] = tailMean(b.volumes, 20)

	if len(b.closes) >= MinCandlesForReliableCalc && b.snapshot != nil {
		for k, v := range b.snapshot {
			if f, ok := v.(float64); ok && !isFinite(f) {
				continue
			}
			out[k] = v
		}
	}

	return out
}

// Sequences returns the recent price and indicator sequences that are
// entirely finite and of exact length n.
func (b *Buffer) Sequences(n int) map[string][]float64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make(map[string][]float64)
	if n <= 0 {
		return out
	}

	candidates := map[string][]float64{
		"open":   b.opens,
		"high":   b.highs,
		"low":    b.lows,
		"close":  b.closes,
		"volume": b.volumes,
	}
	for name, seq := range b.indicatorSeqs {
		candidates[name] = seq
	}

	for name, seq := range candidates {
		if len(seq) < n {
			continue
		}
		window := seq[len(seq)-n:]
		if !allFinite(window) {
			continue
		}
		cp := make([]float64, n)
		copy(cp, window)
		out[name] = cp
	}

	return out
}

// Clear drops all buffered data and the snapshot cache
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.opens = nil
	b.highs = nil
	b.lows = nil
	b.closes = nil
	b.volumes = nil
	b.openTimes = nil
	b.snapshot = nil
	b.indicatorSeqs = make(map[string][]float64)
	b.bandwidthHist = nil
}

// recompute rebuilds the snapshot from the full buffers. Caller holds
// the mutex. Individual indicator failures leave that indicator absent.
func (b *Buffer) recompute() {
	snap := make(map[string]any)
	price := b.closes[len(b.closes)-1]

	if rsi, ok := computeRSI(b.closes); ok {
		snap["rsi"] = rsi
		b.appendSeq("rsi", rsi)
	}

	if macdLine, signalLine, histogram, ok := computeMACD(b.closes); ok {
		snap["macd_line"] = macdLine
		snap["macd_signal"] = signalLine
		snap["macd_histogram"] = histogram
		b.appendSeq("macd", macdLine)
	}

	for _, period := range []int{9, 20, 21} {
		if ema, ok := computeEMA(b.closes, period); ok {
			switch period {
			case 9:
				snap["ema_9"] = ema
			case 20:
				snap["ema_20"] = ema
			case 21:
				snap["ema_21"] = ema
			}
		}
	}

	if lower, middle, upper, ok := computeBollinger(b.closes); ok && middle != 0 {
		snap["bb_lower"] = lower
		snap["bb_middle"] = middle
		snap["bb_upper"] = upper

		bandwidth := (upper - lower) / middle * 100
		snap["bandwidth"] = bandwidth
		if upper != lower {
			snap["percent_b"] = (price - lower) / (upper - lower)
		}
		snap["band_position"] = bandPosition(price, lower, middle, upper)

		b.bandwidthHist = push(b.bandwidthHist, bandwidth)
		if len(b.bandwidthHist) > 20 {
			b.bandwidthHist = b.bandwidthHist[len(b.bandwidthHist)-20:]
		}
		snap["squeeze_status"] = squeezeStatus(bandwidth, b.bandwidthHist)

		if kcLower, kcUpper, kcOK := computeKeltner(b.highs, b.lows, b.closes); kcOK {
			snap["bb_inside_kc"] = lower > kcLower && upper < kcUpper
		}
	}

	if adx, ok := computeADX(b.highs, b.lows, b.closes, adxPeriod); ok {
		snap["adx"] = adx
		b.appendSeq("adx", adx)
	}

	if atrValues := computeATR(b.highs, b.lows, b.closes, atrPeriod); atrValues != nil {
		atr := atrValues[len(atrValues)-1]
		if isFinite(atr) {
			snap["atr"] = atr
			b.appendSeq("atr", atr)
		}
	}

	if level, direction, ok := computeSuperTrend(b.highs, b.lows, b.closes); ok {
		snap["supertrend"] = level
		snap["supertrend_direction"] = direction
	}

	b.snapshot = snap
}

func (b *Buffer) appendSeq(name string, value float64) {
	b.indicatorSeqs[name] = push(b.indicatorSeqs[name], value)
}

func push(seq []float64, v float64) []float64 {
	seq = append(seq, v)
	if len(seq) > MaxLen {
		seq = seq[len(seq)-MaxLen:]
	}
	return seq
}

func pushInt64(seq []int64, v int64) []int64 {
	seq = append(seq, v)
	if len(seq) > MaxLen {
		seq = seq[len(seq)-MaxLen:]
	}
	return seq
}

func validOHLC(open, high, low, closePrice float64) bool {
	for _, v := range []float64{open, high, low, closePrice} {
		if !isFinite(v) || v <= 0 {
			return false
		}
	}
	return low <= open && open <= high && low <= closePrice && closePrice <= high
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func allFinite(values []float64) bool {
	for _, v := range values {
		if !isFinite(v) {
			return false
		}
	}
	return true
}

func tailMean(values []float64, n int) float64 {
	if len(values) == 0 {
		return 0
	}
	if len(values) > n {
		values = values[len(values)-n:]
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
