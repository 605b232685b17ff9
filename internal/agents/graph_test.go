package agents

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradewind-ai/tradewind/internal/llm"
)

// kindGen dispatches canned responses on the system prompt, so the
// concurrent optional branches stay deterministic.
type kindGen struct {
	mu        sync.Mutex
	responses map[Kind]string
	calls     []Kind
}

func (g *kindGen) Generate(_ context.Context, _ string, params llm.GenerateParams) (*llm.Result, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for kind, system := range systemPrompts {
		if system == params.SystemPrompt {
			g.calls = append(g.calls, kind)
			return &llm.Result{Text: g.responses[kind], Model: "test-model"}, nil
		}
	}
	return &llm.Result{Text: ""}, nil
}

func validResponses() map[Kind]string {
	return map[Kind]string{
		KindTechnical: `{"signal": "BUY", "confidence": "HIGH", "reason": "momentum"}`,
		KindQabba:     `{"signal": "BUY_QABBA", "order_flow_bias": "buying"}`,
		KindSentiment: `{"overall_sentiment": "POSITIVE", "confidence_score": 0.7}`,
		KindVisual:    `{"action": "BUY", "trend_direction": "bullish"}`,
		KindDecision:  `{"final_decision": "BUY", "confidence_in_decision": "HIGH", "combined_reasoning": "all agree"}`,
		KindRisk:      `{"verdict": "APPROVE", "risk_score": 3.0}`,
	}
}

func TestGraphFullCycle(t *testing.T) {
	gen := &kindGen{responses: validResponses()}
	graph := NewGraph(fastRunner(gen, nil), GraphConfig{SentimentEnabled: true, VisualEnabled: true})

	state := testState()
	state.ChartImage = []byte{0x89, 0x50}
	require.NoError(t, graph.RunCycle(context.Background(), state))

	reports := state.Reports()
	assert.Len(t, reports, 6)
	assert.Equal(t, "BUY", state.Decision().FinalDecision)
	assert.Equal(t, "APPROVE", state.Risk().Verdict)

	// risk runs last
	assert.Equal(t, KindRisk, gen.calls[len(gen.calls)-1])
	// decision runs after both optional branches
	assert.Equal(t, KindDecision, gen.calls[len(gen.calls)-2])
}

func TestGraphVisualSkippedWithoutChart(t *testing.T) {
	gen := &kindGen{responses: validResponses()}
	graph := NewGraph(fastRunner(gen, nil), GraphConfig{VisualEnabled: true})

	state := testState()
	require.NoError(t, graph.RunCycle(context.Background(), state))

	assert.Nil(t, state.Report(KindVisual))
	assert.Nil(t, state.Report(KindSentiment))
	assert.NotNil(t, state.Decision())
}

func TestGraphTechnicalFailureSynthesizesHold(t *testing.T) {
	responses := validResponses()
	responses[KindTechnical] = `{"signal": "SIDEWAYS", "confidence": "HIGH"}`
	gen := &kindGen{responses: responses}
	graph := NewGraph(fastRunner(gen, nil), GraphConfig{})

	state := testState()
	require.NoError(t, graph.RunCycle(context.Background(), state))

	require.NotNil(t, state.Decision())
	assert.Equal(t, "HOLD", state.Decision().FinalDecision)
	assert.True(t, state.Decision().Book().ValidationFailed)

	// downstream analysis agents never ran, risk still did
	assert.Nil(t, state.Report(KindQabba))
	assert.NotNil(t, state.Risk())
	assert.Equal(t, KindRisk, gen.calls[len(gen.calls)-1])
}

func TestGraphDecisionFailureDefaultsToHold(t *testing.T) {
	responses := validResponses()
	responses[KindDecision] = `{"final_decision": "YOLO", "confidence_in_decision": "HIGH"}`
	gen := &kindGen{responses: responses}
	graph := NewGraph(fastRunner(gen, nil), GraphConfig{})

	state := testState()
	require.NoError(t, graph.RunCycle(context.Background(), state))

	assert.Equal(t, "HOLD", state.Decision().FinalDecision)
	assert.True(t, state.Decision().Book().ValidationFailed)
	assert.NotNil(t, state.Risk())
}

func TestGraphOptionalFailureSkipped(t *testing.T) {
	responses := validResponses()
	responses[KindSentiment] = `{"overall_sentiment": "MIXED", "confidence_score": 0.5}`
	gen := &kindGen{responses: responses}
	graph := NewGraph(fastRunner(gen, nil), GraphConfig{SentimentEnabled: true})

	state := testState()
	require.NoError(t, graph.RunCycle(context.Background(), state))

	assert.Nil(t, state.Report(KindSentiment))
	assert.Equal(t, "BUY", state.Decision().FinalDecision)
}
