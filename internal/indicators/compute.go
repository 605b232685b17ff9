package indicators

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/cinar/indicator/v2/momentum"
	"github.com/cinar/indicator/v2/trend"
	"github.com/cinar/indicator/v2/volatility"
	"github.com/rs/zerolog/log"
)

// Minimum input lengths per indicator. When a precondition fails the
// indicator is omitted from the snapshot, never defaulted.
const (
	rsiPeriod        = 14
	rsiMinLen        = rsiPeriod + 1
	macdFast         = 12
	macdSlow         = 26
	macdSignalPeriod = 9
	macdMinLen       = macdSlow + macdSignalPeriod
	bbPeriod         = 20
	bbMinLen         = bbPeriod
	adxPeriod        = 14
	adxMinLen        = adxPeriod*2 - 1
	atrPeriod        = 14
	atrMinLen        = atrPeriod + 1
	supertrendPeriod = 10
	supertrendMult   = 3.0
	kcPeriod         = 20
	kcMult           = 1.5

	warnInterval = 300 * time.Second
)

// warnLimiter rate-limits per-indicator warnings
type warnLimiter struct {
	mu   sync.Mutex
	last map[string]time.Time
}

var computeWarnings = &warnLimiter{last: make(map[string]time.Time)}

func (w *warnLimiter) warn(indicator, msg string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.last[indicator]; ok && time.Since(t) < warnInterval {
		return
	}
	w.last[indicator] = time.Now()
	log.Warn().Str("indicator", indicator).Msg(msg)
}

func sliceToChan(values []float64) <-chan float64 {
	ch := make(chan float64, len(values))
	for _, v := range values {
		ch <- v
	}
	close(ch)
	return ch
}

func collect(ch <-chan float64) []float64 {
	var out []float64
	for v := range ch {
		out = append(out, v)
	}
	return out
}

func lastFinite(values []float64, indicator string) (float64, bool) {
	if len(values) == 0 {
		return 0, false
	}
	v := values[len(values)-1]
	if math.IsNaN(v) || math.IsInf(v, 0) {
		computeWarnings.warn(indicator, "Indicator produced non-finite trailing value")
		return 0, false
	}
	return v, true
}

// computeRSI returns the latest RSI-14 value
func computeRSI(closes []float64) (float64, bool) {
	if len(closes) < rsiMinLen {
		return 0, false
	}
	rsi := momentum.NewRsiWithPeriod[float64](rsiPeriod)
	return lastFinite(collect(rsi.Compute(sliceToChan(closes))), "rsi")
}

// computeMACD returns the latest MACD line, signal line, and histogram
func computeMACD(closes []float64) (macdLine, signalLine, histogram float64, ok bool) {
	if len(closes) < macdMinLen {
		return 0, 0, 0, false
	}
	macd := trend.NewMacdWithPeriod[float64](macdFast, macdSlow, macdSignalPeriod)
	macdChan, sigChan := macd.Compute(sliceToChan(closes))

	var macdValues, sigValues []float64
	for {
		m, mok := <-macdChan
		s, sok := <-sigChan
		if !mok || !sok {
			break
		}
		macdValues = append(macdValues, m)
		sigValues = append(sigValues, s)
	}

	m, mok := lastFinite(macdValues, "macd")
	s, sok := lastFinite(sigValues, "macd")
	if !mok || !sok {
		return 0, 0, 0, false
	}
	return m, s, m - s, true
}

// computeEMA returns the latest EMA for the given period
func computeEMA(closes []float64, period int) (float64, bool) {
	if len(closes) < period {
		return 0, false
	}
	ema := trend.NewEmaWithPeriod[float64](period)
	return lastFinite(collect(ema.Compute(sliceToChan(closes))), "ema")
}

// computeBollinger returns the latest lower, middle, upper bands
func computeBollinger(closes []float64) (lower, middle, upper float64, ok bool) {
	if len(closes) < bbMinLen {
		return 0, 0, 0, false
	}
	bb := volatility.NewBollingerBandsWithPeriod[float64](bbPeriod)
	lowerChan, middleChan, upperChan := bb.Compute(sliceToChan(closes))

	var lowers, middles, uppers []float64
	for {
		l, lok := <-lowerChan
		m, mok := <-middleChan
		u, uok := <-upperChan
		if !lok || !mok || !uok {
			break
		}
		lowers = append(lowers, l)
		middles = append(middles, m)
		uppers = append(uppers, u)
	}

	l, lok := lastFinite(lowers, "bbands")
	m, mok := lastFinite(middles, "bbands")
	u, uok := lastFinite(uppers, "bbands")
	if !lok || !mok || !uok {
		return 0, 0, 0, false
	}
	return l, m, u, true
}

// computeATR returns the Wilder-smoothed average true range series.
// ATR is not available in cinar/indicator v2, so we implement it ourselves.
func computeATR(highs, lows, closes []float64, period int) []float64 {
	n := len(closes)
	if n < period+1 {
		return nil
	}

	tr := make([]float64, n)
	tr[0] = highs[0] - lows[0]
	for i := 1; i < n; i++ {
		tr[i] = math.Max(highs[i]-lows[i],
			math.Max(math.Abs(highs[i]-closes[i-1]),
				math.Abs(lows[i]-closes[i-1])))
	}

	return smoothWilder(tr, period)
}

// computeADX returns the latest Average Directional Index value.
// ADX is not available in cinar/indicator v2, so we implement it ourselves.
func computeADX(highs, lows, closes []float64, period int) (float64, bool) {
	n := len(closes)
	if n < period*2 {
		return 0, false
	}

	tr := make([]float64, n)
	plusDM := make([]float64, n)
	minusDM := make([]float64, n)

	for i := 1; i < n; i++ {
		tr[i] = math.Max(highs[i]-lows[i],
			math.Max(math.Abs(highs[i]-closes[i-1]),
				math.Abs(lows[i]-closes[i-1])))

		upMove := highs[i] - highs[i-1]
		downMove := lows[i-1] - lows[i]

		if upMove > downMove && upMove > 0 {
			plusDM[i] = upMove
		}
		if downMove > upMove && downMove > 0 {
			minusDM[i] = downMove
		}
	}

	smoothTR := smoothWilder(tr, period)
	smoothPlusDM := smoothWilder(plusDM, period)
	smoothMinusDM := smoothWilder(minusDM, period)

	dx := make([]float64, n)
	for i := period; i < n; i++ {
		if smoothTR[i] != 0 {
			plusDI := 100 * smoothPlusDM[i] / smoothTR[i]
			minusDI := 100 * smoothMinusDM[i] / smoothTR[i]

			diSum := plusDI + minusDI
			if diSum != 0 {
				dx[i] = 100 * math.Abs(plusDI-minusDI) / diSum
			}
		}
	}

	adxValues := smoothWilder(dx, period)
	adx := adxValues[n-1]
	if adx == 0 || math.IsNaN(adx) || math.IsInf(adx, 0) {
		return 0, false
	}
	return adx, true
}

// computeSuperTrend returns the latest SuperTrend level and direction
// (+1 uptrend, -1 downtrend) using ATR bands with a directional flip.
func computeSuperTrend(highs, lows, closes []float64) (level, direction float64, ok bool) {
	n := len(closes)
	if n < supertrendPeriod+2 {
		return 0, 0, false
	}

	atr := computeATR(highs, lows, closes, supertrendPeriod)
	if atr == nil {
		return 0, 0, false
	}

	upper := make([]float64, n)
	lower := make([]float64, n)
	st := make([]float64, n)
	dir := make([]float64, n)

	for i := supertrendPeriod; i < n; i++ {
		mid := (highs[i] + lows[i]) / 2
		basicUpper := mid + supertrendMult*atr[i]
		basicLower := mid - supertrendMult*atr[i]

		if i == supertrendPeriod {
			upper[i] = basicUpper
			lower[i] = basicLower
			st[i] = basicUpper
			dir[i] = -1
			continue
		}

		// Bands only ratchet in the trend direction
		if basicUpper < upper[i-1] || closes[i-1] > upper[i-1] {
			upper[i] = basicUpper
		} else {
			upper[i] = upper[i-1]
		}
		if basicLower > lower[i-1] || closes[i-1] < lower[i-1] {
			lower[i] = basicLower
		} else {
			lower[i] = lower[i-1]
		}

		if dir[i-1] < 0 {
			if closes[i] > upper[i] {
				dir[i] = 1
				st[i] = lower[i]
			} else {
				dir[i] = -1
				st[i] = upper[i]
			}
		} else {
			if closes[i] < lower[i] {
				dir[i] = -1
				st[i] = upper[i]
			} else {
				dir[i] = 1
				st[i] = lower[i]
			}
		}
	}

	v := st[n-1]
	if math.IsNaN(v) || math.IsInf(v, 0) {
		computeWarnings.warn("supertrend", "Indicator produced non-finite trailing value")
		return 0, 0, false
	}
	return v, dir[n-1], true
}

// computeKeltner returns the latest Keltner Channel bounds (EMA ± mult × ATR)
func computeKeltner(highs, lows, closes []float64) (lower, upper float64, ok bool) {
	if len(closes) < kcPeriod+1 {
		return 0, 0, false
	}
	mid, midOK := computeEMA(closes, kcPeriod)
	atr := computeATR(highs, lows, closes, kcPeriod)
	if !midOK || atr == nil {
		return 0, 0, false
	}
	a := atr[len(atr)-1]
	if math.IsNaN(a) || math.IsInf(a, 0) {
		return 0, 0, false
	}
	return mid - kcMult*a, mid + kcMult*a, true
}

// smoothWilder applies Wilder's smoothing method
func smoothWilder(data []float64, period int) []float64 {
	n := len(data)
	result := make([]float64, n)

	if n < period {
		return result
	}

	sum := 0.0
	for i := 0; i < period; i++ {
		sum += data[i]
	}
	result[period-1] = sum / float64(period)

	for i := period; i < n; i++ {
		result[i] = (result[i-1]*float64(period-1) + data[i]) / float64(period)
	}

	return result
}

// bandPosition classifies the close relative to the Bollinger bands
func bandPosition(price, lower, middle, upper float64) string {
	lowerMid := (lower + middle) / 2
	upperMid := (middle + upper) / 2
	switch {
	case price < lower:
		return "BELOW_LOWER"
	case price < lowerMid:
		return "LOWER"
	case price <= upperMid:
		return "MIDDLE"
	case price <= upper:
		return "UPPER"
	default:
		return "ABOVE_UPPER"
	}
}

// squeezeStatus reports whether the current bandwidth sits below the 20th
// percentile of the recent bandwidth history.
func squeezeStatus(bandwidth float64, history []float64) string {
	if len(history) < 20 {
		return "NO_SQUEEZE"
	}
	sorted := make([]float64, len(history))
	copy(sorted, history)
	sort.Float64s(sorted)
	idx := len(sorted) / 5
	if bandwidth < sorted[idx] {
		return "SQUEEZE"
	}
	return "NO_SQUEEZE"
}
