package agents

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildReportValid(t *testing.T) {
	tests := []struct {
		kind   Kind
		result map[string]any
	}{
		{KindTechnical, map[string]any{"signal": "BUY", "confidence": "HIGH"}},
		{KindQabba, map[string]any{"signal": "SELL_QABBA", "order_flow_bias": "selling"}},
		{KindSentiment, map[string]any{"overall_sentiment": "POSITIVE", "confidence_score": 0.75}},
		{KindVisual, map[string]any{"action": "HOLD", "trend_direction": "neutral"}},
		{KindDecision, map[string]any{"final_decision": "BUY", "confidence_in_decision": "MEDIUM"}},
		{KindRisk, map[string]any{"verdict": "APPROVE_REDUCED", "risk_score": 6.5}},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			report, errs := BuildReport(tt.kind, tt.result)
			require.Empty(t, errs)
			require.NotNil(t, report)
			assert.Equal(t, tt.kind, report.Kind())
			assert.Equal(t, tt.result, report.Raw())
		})
	}
}

func TestBuildReportTypedFields(t *testing.T) {
	report, errs := BuildReport(KindTechnical, map[string]any{"signal": "SELL", "confidence": "LOW", "reason": "weak"})
	require.Empty(t, errs)

	tech := report.(*TechnicalReport)
	assert.Equal(t, "SELL", tech.Signal)
	assert.Equal(t, "LOW", tech.Confidence)
}

func TestBuildReportInvalidEnum(t *testing.T) {
	_, errs := BuildReport(KindTechnical, map[string]any{"signal": "HOLD_LONG", "confidence": "HIGH"})
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], `invalid signal "HOLD_LONG"`)
	assert.Contains(t, errs[0], "BUY, SELL, HOLD")
}

func TestBuildReportMissingFields(t *testing.T) {
	_, errs := BuildReport(KindDecision, map[string]any{})
	require.Len(t, errs, 2)
	assert.Contains(t, errs[0], "missing required field")
}

func TestBuildReportRangeViolation(t *testing.T) {
	_, errs := BuildReport(KindSentiment, map[string]any{"overall_sentiment": "NEUTRAL", "confidence_score": 1.4})
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "outside [0,1]")

	_, errs = BuildReport(KindRisk, map[string]any{"verdict": "VETO", "risk_score": 11.0})
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "outside [0,10]")
}

func TestBuildReportWrongType(t *testing.T) {
	_, errs := BuildReport(KindSentiment, map[string]any{"overall_sentiment": "NEUTRAL", "confidence_score": "high"})
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "must be a number")
}

func TestBuildReportParseError(t *testing.T) {
	_, errs := BuildReport(KindTechnical, map[string]any{"parse_error": true, "raw": "gibberish"})
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "parseable JSON object")
}

func TestFallbackReportsAreStructurallyValid(t *testing.T) {
	kinds := []Kind{KindTechnical, KindQabba, KindSentiment, KindVisual, KindDecision, KindRisk}
	for _, kind := range kinds {
		t.Run(string(kind), func(t *testing.T) {
			fallback := FallbackReport(kind, 3, []string{"some error"})
			assert.True(t, fallback.Book().ValidationFailed)
			assert.Equal(t, 3, fallback.Book().Attempts)

			// The fallback payload must itself pass validation
			revalidated, errs := BuildReport(kind, fallback.Raw())
			assert.Empty(t, errs)
			assert.NotNil(t, revalidated)
		})
	}
}

func TestCycleStateDistinctKeys(t *testing.T) {
	state := NewCycleState("BTCUSDT_5m_1", "BTCUSDT", "5m", 1)

	tech, _ := BuildReport(KindTechnical, map[string]any{"signal": "BUY", "confidence": "HIGH"})
	dec, _ := BuildReport(KindDecision, map[string]any{"final_decision": "SELL", "confidence_in_decision": "LOW"})
	state.SetReport(tech)
	state.SetReport(dec)

	reports := state.Reports()
	assert.Same(t, tech, reports[KeyTechnicalReport])
	assert.Same(t, dec, reports[KeyDecisionReport])
	assert.Equal(t, "BUY", state.Technical().Signal)
	assert.Equal(t, "SELL", state.Decision().FinalDecision)
}
