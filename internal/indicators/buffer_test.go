package indicators

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// feedTrend appends n candles with gently oscillating closes around an
// uptrend so indicators have realistic variation.
func feedTrend(t *testing.T, b *Buffer, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		base := 100.0 + float64(i)*0.5
		wiggle := 1.5 * math.Sin(float64(i)/3)
		closePrice := base + wiggle
		high := closePrice + 1.0
		low := closePrice - 1.0
		ok := b.Append(closePrice, high, low, 1000+float64(i%7)*50, 0, int64(i)*180_000)
		require.True(t, ok, "candle %d rejected", i)
	}
}

func TestAppendRejectsInvalidOHLC(t *testing.T) {
	tests := []struct {
		name                   string
		close_, high, low, vol float64
	}{
		{"close above high", 110, 105, 100, 10},
		{"close below low", 95, 105, 100, 10},
		{"negative price", -5, 105, 100, 10},
		{"zero high", 100, 0, 90, 10},
		{"nan close", math.NaN(), 105, 100, 10},
		{"inf high", 100, math.Inf(1), 95, 10},
		{"negative volume", 100, 105, 95, -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBuffer()
			assert.False(t, b.Append(tt.close_, tt.high, tt.low, tt.vol, 0, 0))
			assert.Equal(t, 0, b.Count(), "rejected candle must not mutate buffers")
		})
	}
}

func TestAppendSynthesizesOpen(t *testing.T) {
	b := NewBuffer()
	require.True(t, b.Append(100, 101, 99, 10, 0, 0))
	// Second candle with no open: open synthesized from previous close (100).
	// high must still bound the synthesized open.
	require.True(t, b.Append(100.5, 101, 99.5, 10, 0, 1))

	seqs := b.Sequences(2)
	require.Contains(t, seqs, "open")
	assert.Equal(t, []float64{100, 100}, seqs["open"])
}

func TestAppendRejectsOpenOutsideRange(t *testing.T) {
	b := NewBuffer()
	require.True(t, b.Append(100, 101, 99, 10, 0, 0))
	// Synthesized open would be 100, above this candle's high
	assert.False(t, b.Append(95, 96, 94, 10, 0, 1))
	assert.Equal(t, 1, b.Count())
}

func TestCurrentIndicatorsWarmup(t *testing.T) {
	b := NewBuffer()
	feedTrend(t, b, 5)

	ind := b.CurrentIndicators()
	assert.Contains(t, ind, "last_price")
	assert.Contains(t, ind, "curr_vol")
	assert.Contains(t, ind, "avg_vol_20")
	assert.NotContains(t, ind, "rsi", "full map requires %d candles", MinCandlesForReliableCalc)
}

func TestCurrentIndicatorsFullSnapshot(t *testing.T) {
	b := NewBuffer()
	feedTrend(t, b, 60)

	ind := b.CurrentIndicators()
	for _, key := range []string{"rsi", "macd_line", "macd_signal", "ema_9", "ema_20", "ema_21",
		"bb_upper", "bb_middle", "bb_lower", "bandwidth", "percent_b", "adx", "atr", "supertrend"} {
		require.Contains(t, ind, key)
		v, ok := ind[key].(float64)
		require.True(t, ok, "%s must be a scalar", key)
		assert.False(t, math.IsNaN(v) || math.IsInf(v, 0), "%s must be finite", key)
	}

	assert.Contains(t, []string{"BELOW_LOWER", "LOWER", "MIDDLE", "UPPER", "ABOVE_UPPER"}, ind["band_position"])
	assert.Contains(t, []string{"SQUEEZE", "NO_SQUEEZE"}, ind["squeeze_status"])
}

func TestCurrentIndicatorsEmptyBuffer(t *testing.T) {
	b := NewBuffer()
	assert.Empty(t, b.CurrentIndicators())
}

func TestSequencesExactLengthAndFinite(t *testing.T) {
	b := NewBuffer()
	feedTrend(t, b, 40)

	seqs := b.Sequences(10)
	require.Contains(t, seqs, "close")
	assert.Len(t, seqs["close"], 10)
	require.Contains(t, seqs, "rsi")
	assert.Len(t, seqs["rsi"], 10)

	// More than available: omitted entirely
	seqs = b.Sequences(500)
	assert.NotContains(t, seqs, "close")
}

func TestBufferBounded(t *testing.T) {
	b := NewBuffer()
	feedTrend(t, b, MaxLen+50)

	assert.Equal(t, MaxLen, b.Count())
	seqs := b.Sequences(MaxLen)
	assert.Len(t, seqs["close"], MaxLen)
}

func TestClear(t *testing.T) {
	b := NewBuffer()
	feedTrend(t, b, 40)
	b.Clear()

	assert.Equal(t, 0, b.Count())
	assert.Empty(t, b.CurrentIndicators())
	assert.Empty(t, b.Sequences(5))
}

func TestBandPosition(t *testing.T) {
	lower, middle, upper := 90.0, 100.0, 110.0

	assert.Equal(t, "BELOW_LOWER", bandPosition(89, lower, middle, upper))
	assert.Equal(t, "LOWER", bandPosition(92, lower, middle, upper))
	assert.Equal(t, "MIDDLE", bandPosition(100, lower, middle, upper))
	assert.Equal(t, "UPPER", bandPosition(108, lower, middle, upper))
	assert.Equal(t, "ABOVE_UPPER", bandPosition(111, lower, middle, upper))
}

func TestADXNeedsEnoughData(t *testing.T) {
	highs := make([]float64, 10)
	lows := make([]float64, 10)
	closes := make([]float64, 10)
	for i := range closes {
		closes[i] = 100 + float64(i)
		highs[i] = closes[i] + 1
		lows[i] = closes[i] - 1
	}
	_, ok := computeADX(highs, lows, closes, 14)
	assert.False(t, ok)
}

func TestSuperTrendFlipsOnReversal(t *testing.T) {
	n := 80
	highs := make([]float64, n)
	lows := make([]float64, n)
	closes := make([]float64, n)
	for i := 0; i < n; i++ {
		var c float64
		if i < 40 {
			c = 100 + float64(i)*2
		} else {
			c = 180 - float64(i-40)*2
		}
		closes[i] = c
		highs[i] = c + 1
		lows[i] = c - 1
	}

	_, direction, ok := computeSuperTrend(highs, lows, closes)
	require.True(t, ok)
	assert.Equal(t, -1.0, direction, "sustained decline should flip direction down")
}
