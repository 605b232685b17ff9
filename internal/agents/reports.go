// Package agents runs the per-cycle analysis pipeline: each agent
// builds a prompt, calls the generation chain, and validates the
// structured result before it is merged into the cycle state.
package agents

import (
	"fmt"
	"sort"
	"strings"
)

// Kind identifies an agent in the orchestration graph
type Kind string

const (
	KindTechnical Kind = "technical"
	KindQabba     Kind = "qabba"
	KindSentiment Kind = "sentiment"
	KindVisual    Kind = "visual"
	KindDecision  Kind = "decision"
	KindRisk      Kind = "risk"
)

// Bookkeeping carries the execution trail attached to every report
type Bookkeeping struct {
	Attempts         int      `json:"_attempts"`
	ValidationErrors []string `json:"_validation_errors,omitempty"`
	ValidationFailed bool     `json:"_validation_failed,omitempty"`
	ReasoningDigest  string   `json:"_reasoning_digest,omitempty"`
}

// Report is one agent's validated output
type Report interface {
	Kind() Kind
	Book() *Bookkeeping
	// Raw returns the full parsed payload, used when rendering
	// upstream reports into downstream prompts.
	Raw() map[string]any
}

type base struct {
	kind Kind
	raw  map[string]any
	Bookkeeping
}

func (b *base) Kind() Kind          { return b.kind }
func (b *base) Book() *Bookkeeping  { return &b.Bookkeeping }
func (b *base) Raw() map[string]any { return b.raw }

// TechnicalReport is the indicator-driven signal
type TechnicalReport struct {
	base
	Signal     string
	Confidence string
}

// QabbaReport is the band/order-flow signal
type QabbaReport struct {
	base
	Signal        string
	OrderFlowBias string
}

// SentimentReport summarizes external sentiment context
type SentimentReport struct {
	base
	OverallSentiment string
	ConfidenceScore  float64
}

// VisualReport is the chart-artifact read
type VisualReport struct {
	base
	Action         string
	TrendDirection string
}

// DecisionReport is the merged final decision
type DecisionReport struct {
	base
	FinalDecision        string
	ConfidenceInDecision string
}

// RiskAssessment is the last-word verdict on the decision
type RiskAssessment struct {
	base
	Verdict   string
	RiskScore float64
}

var (
	signalValues    = []string{"BUY", "SELL", "HOLD"}
	qabbaSignals    = []string{"BUY_QABBA", "SELL_QABBA", "HOLD_QABBA"}
	flowBiases      = []string{"buying", "selling", "neutral"}
	confidences     = []string{"HIGH", "MEDIUM", "LOW"}
	sentimentValues = []string{"POSITIVE", "NEGATIVE", "NEUTRAL"}
	trendDirections = []string{"bullish", "bearish", "neutral"}
	riskVerdicts    = []string{"APPROVE", "APPROVE_REDUCED", "VETO", "DELAY"}
)

// validator accumulates rule violations against one parsed result
type validator struct {
	result map[string]any
	errs   []string
}

func (v *validator) requireEnum(field string, allowed []string) string {
	raw, ok := v.result[field]
	if !ok {
		v.errs = append(v.errs, fmt.Sprintf("missing required field %q", field))
		return ""
	}
	s, ok := raw.(string)
	if !ok {
		v.errs = append(v.errs, fmt.Sprintf("field %q must be a string", field))
		return ""
	}
	for _, a := range allowed {
		if s == a {
			return s
		}
	}
	v.errs = append(v.errs, fmt.Sprintf("invalid %s %q: must be one of %s", field, s, strings.Join(allowed, ", ")))
	return ""
}

func (v *validator) requireRange(field string, min, max float64) float64 {
	raw, ok := v.result[field]
	if !ok {
		v.errs = append(v.errs, fmt.Sprintf("missing required field %q", field))
		return 0
	}
	f, ok := raw.(float64)
	if !ok {
		v.errs = append(v.errs, fmt.Sprintf("field %q must be a number", field))
		return 0
	}
	if f < min || f > max {
		v.errs = append(v.errs, fmt.Sprintf("%s %v outside [%g,%g]", field, f, min, max))
		return 0
	}
	return f
}

// BuildReport validates a parsed result against the rule set for kind.
// The error list is empty on success; on failure the report is nil and
// the caller decides whether to retry or fall back.
func BuildReport(kind Kind, result map[string]any) (Report, []string) {
	if pe, ok := result["parse_error"].(bool); ok && pe {
		return nil, []string{"response did not contain a parseable JSON object"}
	}

	v := &validator{result: result}
	var report Report

	switch kind {
	case KindTechnical:
		r := &TechnicalReport{base: base{kind: kind, raw: result}}
		r.Signal = v.requireEnum("signal", signalValues)
		r.Confidence = v.requireEnum("confidence", confidences)
		report = r
	case KindQabba:
		r := &QabbaReport{base: base{kind: kind, raw: result}}
		r.Signal = v.requireEnum("signal", qabbaSignals)
		r.OrderFlowBias = v.requireEnum("order_flow_bias", flowBiases)
		report = r
	case KindSentiment:
		r := &SentimentReport{base: base{kind: kind, raw: result}}
		r.OverallSentiment = v.requireEnum("overall_sentiment", sentimentValues)
		r.ConfidenceScore = v.requireRange("confidence_score", 0, 1)
		report = r
	case KindVisual:
		r := &VisualReport{base: base{kind: kind, raw: result}}
		r.Action = v.requireEnum("action", signalValues)
		r.TrendDirection = v.requireEnum("trend_direction", trendDirections)
		report = r
	case KindDecision:
		r := &DecisionReport{base: base{kind: kind, raw: result}}
		r.FinalDecision = v.requireEnum("final_decision", signalValues)
		r.ConfidenceInDecision = v.requireEnum("confidence_in_decision", confidences)
		report = r
	case KindRisk:
		r := &RiskAssessment{base: base{kind: kind, raw: result}}
		r.Verdict = v.requireEnum("verdict", riskVerdicts)
		r.RiskScore = v.requireRange("risk_score", 0, 10)
		report = r
	default:
		return nil, []string{fmt.Sprintf("unknown agent kind %q", kind)}
	}

	if len(v.errs) > 0 {
		sort.Strings(v.errs)
		return nil, v.errs
	}
	return report, nil
}

// FallbackReport builds the minimal structurally-valid report emitted
// when validation never succeeds: HOLD/neutral fields, the error list
// attached, _validation_failed set.
func FallbackReport(kind Kind, attempts int, errs []string) Report {
	book := Bookkeeping{
		Attempts:         attempts,
		ValidationErrors: errs,
		ValidationFailed: true,
	}

	switch kind {
	case KindTechnical:
		raw := map[string]any{"signal": "HOLD", "confidence": "LOW"}
		return &TechnicalReport{base: base{kind, raw, book}, Signal: "HOLD", Confidence: "LOW"}
	case KindQabba:
		raw := map[string]any{"signal": "HOLD_QABBA", "order_flow_bias": "neutral"}
		return &QabbaReport{base: base{kind, raw, book}, Signal: "HOLD_QABBA", OrderFlowBias: "neutral"}
	case KindSentiment:
		raw := map[string]any{"overall_sentiment": "NEUTRAL", "confidence_score": 0.0}
		return &SentimentReport{base: base{kind, raw, book}, OverallSentiment: "NEUTRAL"}
	case KindVisual:
		raw := map[string]any{"action": "HOLD", "trend_direction": "neutral"}
		return &VisualReport{base: base{kind, raw, book}, Action: "HOLD", TrendDirection: "neutral"}
	case KindRisk:
		raw := map[string]any{"verdict": "DELAY", "risk_score": 5.0}
		return &RiskAssessment{base: base{kind, raw, book}, Verdict: "DELAY", RiskScore: 5.0}
	default:
		raw := map[string]any{"final_decision": "HOLD", "confidence_in_decision": "LOW"}
		return &DecisionReport{base: base{kind, raw, book}, FinalDecision: "HOLD", ConfidenceInDecision: "LOW"}
	}
}
