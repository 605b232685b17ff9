package agents

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

const technicalSystemPrompt = `You are a technical analysis specialist for cryptocurrency futures.
Analyze the supplied indicator snapshot and respond ONLY with a JSON object.`

const qabbaSystemPrompt = `You are a volatility-band and order-flow specialist.
Read the Bollinger/Keltner state and microstructure metrics and respond ONLY with a JSON object.`

const sentimentSystemPrompt = `You are a market sentiment analyst.
Weigh the supplied news and sentiment context and respond ONLY with a JSON object.`

const visualSystemPrompt = `You are a chart pattern analyst.
Read the attached chart image and respond ONLY with a JSON object.`

const decisionSystemPrompt = `You are the final decision maker for a cryptocurrency trading system.
Weigh every analyst report you are given and respond ONLY with a JSON object.`

const riskSystemPrompt = `You are the risk officer with veto power over trade decisions.
Assess the proposed decision against the indicator state and respond ONLY with a JSON object.`

// systemPrompts by agent kind
var systemPrompts = map[Kind]string{
	KindTechnical: technicalSystemPrompt,
	KindQabba:     qabbaSystemPrompt,
	KindSentiment: sentimentSystemPrompt,
	KindVisual:    visualSystemPrompt,
	KindDecision:  decisionSystemPrompt,
	KindRisk:      riskSystemPrompt,
}

// SystemPrompt returns the system prompt for an agent kind, honoring
// any loaded overrides.
func SystemPrompt(kind Kind) string {
	if prompt, ok := overriddenPrompt(kind); ok {
		return prompt
	}
	return systemPrompts[kind]
}

// BuildPrompt renders the state slice relevant to one agent into its
// prompt template.
func BuildPrompt(kind Kind, state *CycleState) string {
	switch kind {
	case KindTechnical:
		return fmt.Sprintf(`Analyze %s on the %s timeframe.

Current Price: %.4f

Technical Indicators:
%s

Respond with:
{"signal": "BUY" | "SELL" | "HOLD", "confidence": "HIGH" | "MEDIUM" | "LOW", "reason": "..."}`,
			state.Symbol, state.Timeframe, state.Price, formatIndicators(state.Indicators))

	case KindQabba:
		return fmt.Sprintf(`Analyze the volatility-band state for %s (%s).

Indicators:
%s

Microstructure:
%s

Respond with:
{"signal": "BUY_QABBA" | "SELL_QABBA" | "HOLD_QABBA", "order_flow_bias": "buying" | "selling" | "neutral", "reason": "..."}`,
			state.Symbol, state.Timeframe,
			formatIndicators(state.Indicators), formatIndicators(state.Microstructure))

	case KindSentiment:
		context := "No external sentiment context available."
		if len(state.SentimentContext) > 0 {
			if b, err := json.MarshalIndent(state.SentimentContext, "", "  "); err == nil {
				context = string(b)
			}
		}
		return fmt.Sprintf(`Assess market sentiment for %s.

Context:
%s

Respond with:
{"overall_sentiment": "POSITIVE" | "NEGATIVE" | "NEUTRAL", "confidence_score": 0.0-1.0, "reason": "..."}`,
			state.Symbol, context)

	case KindVisual:
		return fmt.Sprintf(`Read the attached %s %s chart.

Respond with:
{"action": "BUY" | "SELL" | "HOLD", "trend_direction": "bullish" | "bearish" | "neutral", "reason": "..."}`,
			state.Symbol, state.Timeframe)

	case KindDecision:
		return fmt.Sprintf(`Make the final trading decision for %s (%s) at price %.4f.

Analyst Reports:
%s

Respond with:
{"final_decision": "BUY" | "SELL" | "HOLD", "confidence_in_decision": "HIGH" | "MEDIUM" | "LOW", "combined_reasoning": "..."}`,
			state.Symbol, state.Timeframe, state.Price, formatReports(state))

	case KindRisk:
		decision := "No decision report available."
		if d := state.Decision(); d != nil {
			decision = formatIndicators(d.Raw())
		}
		return fmt.Sprintf(`Assess the risk of the proposed decision for %s.

Proposed Decision:
%s

Indicators:
%s

Respond with:
{"verdict": "APPROVE" | "APPROVE_REDUCED" | "VETO" | "DELAY", "risk_score": 0-10, "reason": "..."}`,
			state.Symbol, decision, formatIndicators(state.Indicators))
	}
	return ""
}

// formatIndicators renders a snapshot map in stable key order
func formatIndicators(values map[string]any) string {
	if len(values) == 0 {
		return "  (none)"
	}
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for _, k := range keys {
		switch v := values[k].(type) {
		case float64:
			fmt.Fprintf(&sb, "  %s: %.4f\n", k, v)
		default:
			fmt.Fprintf(&sb, "  %s: %v\n", k, v)
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

// formatReports renders every upstream report for the decision prompt
func formatReports(state *CycleState) string {
	var sb strings.Builder
	for _, kind := range []Kind{KindTechnical, KindQabba, KindSentiment, KindVisual} {
		r := state.Report(kind)
		if r == nil {
			continue
		}
		fmt.Fprintf(&sb, "%s:\n%s\n\n", kind, formatIndicators(r.Raw()))
	}
	if sb.Len() == 0 {
		return "  (no reports)"
	}
	return strings.TrimRight(sb.String(), "\n")
}
