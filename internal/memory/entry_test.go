package memory

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDigest(t *testing.T) {
	d := Digest("analyze BTCUSDT 5m")
	assert.Len(t, d, 16)
	assert.Equal(t, d, Digest("analyze BTCUSDT 5m"))
	assert.NotEqual(t, d, Digest("analyze BTCUSDT 15m"))
	assert.Equal(t, strings.ToLower(d), d)
}

func TestExtractAction(t *testing.T) {
	tests := []struct {
		name   string
		result map[string]any
		want   string
	}{
		{"action key", map[string]any{"action": "BUY"}, "BUY"},
		{"final_decision key", map[string]any{"final_decision": "SELL"}, "SELL"},
		{"signal key", map[string]any{"signal": "HOLD"}, "HOLD"},
		{"decision key", map[string]any{"decision": "BUY"}, "BUY"},
		{"action wins over signal", map[string]any{"action": "SELL", "signal": "BUY"}, "SELL"},
		{"empty string skipped", map[string]any{"action": "", "signal": "HOLD"}, "HOLD"},
		{"nothing", map[string]any{"note": "hm"}, "UNKNOWN"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, extractAction(tt.result))
		})
	}
}

func TestExtractConfidence(t *testing.T) {
	tests := []struct {
		name   string
		result map[string]any
		want   float64
	}{
		{"numeric", map[string]any{"confidence": 0.72}, 0.72},
		{"decision label", map[string]any{"confidence_in_decision": "HIGH"}, 0.8},
		{"label medium", map[string]any{"confidence": "MEDIUM"}, 0.55},
		{"label lowercase", map[string]any{"confidence": "low"}, 0.35},
		{"numeric wins over label", map[string]any{"confidence": 0.9, "confidence_in_decision": "LOW"}, 0.9},
		{"unknown label", map[string]any{"confidence": "SOMEWHAT"}, 0.5},
		{"absent", map[string]any{}, 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, extractConfidence(tt.result), 1e-9)
		})
	}
}

func TestExtractReasoning(t *testing.T) {
	assert.Equal(t, "clear trend", extractReasoning(map[string]any{"reasoning": "clear trend"}, "raw"))
	assert.Equal(t, "short", extractReasoning(map[string]any{}, "short"))

	long := strings.Repeat("x", 600)
	got := extractReasoning(map[string]any{}, long)
	assert.Len(t, got, 500)
}

func TestConfidenceBucket(t *testing.T) {
	assert.Equal(t, "high", confidenceBucket(0.8))
	assert.Equal(t, "medium", confidenceBucket(0.5))
	assert.Equal(t, "medium", confidenceBucket(0.79))
	assert.Equal(t, "low", confidenceBucket(0.49))
}

func TestJaccard(t *testing.T) {
	a := tokenize("BTCUSDT breakout above resistance")
	b := tokenize("btcusdt breakout below support")
	sim := jaccard(a, b)
	assert.Greater(t, sim, 0.0)
	assert.Less(t, sim, 1.0)

	assert.Equal(t, 1.0, jaccard(a, a))
	assert.Zero(t, jaccard(a, tokenize("")))
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, cosineSimilarity([]float32{1, 0}, []float32{2, 0}), 1e-9)
	assert.InDelta(t, 0.0, cosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.Zero(t, cosineSimilarity([]float32{1}, []float32{1, 2}))
	assert.Zero(t, cosineSimilarity([]float32{0, 0}, []float32{1, 1}))
}
