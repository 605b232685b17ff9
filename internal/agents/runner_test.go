package agents

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradewind-ai/tradewind/internal/llm"
	"github.com/tradewind-ai/tradewind/internal/memory"
)

// seqGen replays canned responses in call order
type seqGen struct {
	mu        sync.Mutex
	responses []string
	errs      []error
	prompts   []string
}

func (g *seqGen) Generate(_ context.Context, prompt string, _ llm.GenerateParams) (*llm.Result, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prompts = append(g.prompts, prompt)
	i := len(g.prompts) - 1
	if i < len(g.errs) && g.errs[i] != nil {
		return nil, g.errs[i]
	}
	text := ""
	if i < len(g.responses) {
		text = g.responses[i]
	}
	return &llm.Result{Text: text, Model: "test-model", LatencyMs: 5}, nil
}

// recordingStore captures reasoning entries in memory
type recordingStore struct {
	mu      sync.Mutex
	agents  []string
	prompts []string
}

func (s *recordingStore) Store(_ context.Context, agent, prompt string, _ map[string]any, _, _ string, _ int64, _ map[string]any) (*memory.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agents = append(s.agents, agent)
	s.prompts = append(s.prompts, prompt)
	return &memory.Entry{PromptDigest: memory.Digest(prompt)}, nil
}

func testState() *CycleState {
	state := NewCycleState("BTCUSDT_5m_1", "BTCUSDT", "5m", 1)
	state.Price = 65000
	state.Indicators = map[string]any{"rsi": 55.2}
	return state
}

func fastRunner(gen llm.Generator, store ReasoningStore) *Runner {
	return NewRunner(gen, store, RunnerConfig{BackoffBase: time.Millisecond})
}

func TestRunnerFirstTrySuccess(t *testing.T) {
	gen := &seqGen{responses: []string{`{"signal": "BUY", "confidence": "HIGH"}`}}
	store := &recordingStore{}
	runner := fastRunner(gen, store)

	report, err := runner.Run(context.Background(), KindTechnical, testState())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Book().Attempts)
	assert.False(t, report.Book().ValidationFailed)
	assert.Len(t, report.Book().ReasoningDigest, 16)
	require.Len(t, store.agents, 1)
	assert.Equal(t, "technical", store.agents[0])
}

func TestRunnerRetriesWithCorrectiveFeedback(t *testing.T) {
	gen := &seqGen{responses: []string{
		`{"signal": "HOLD_LONG", "confidence": "HIGH"}`,
		`{"signal": "HOLD", "confidence": "HIGH"}`,
	}}
	runner := fastRunner(gen, nil)

	report, err := runner.Run(context.Background(), KindTechnical, testState())
	require.NoError(t, err)

	assert.Equal(t, 2, report.Book().Attempts)
	require.Len(t, gen.prompts, 2)
	assert.NotContains(t, gen.prompts[0], "failed validation")
	assert.Contains(t, gen.prompts[1], `invalid signal "HOLD_LONG"`)
	assert.Contains(t, gen.prompts[1], "corrected JSON object")
}

func TestRunnerExhaustedEmitsFallback(t *testing.T) {
	bad := `{"signal": "MAYBE", "confidence": "HIGH"}`
	gen := &seqGen{responses: []string{bad, bad, bad}}
	runner := fastRunner(gen, nil)

	report, err := runner.Run(context.Background(), KindTechnical, testState())
	require.NoError(t, err)

	assert.True(t, report.Book().ValidationFailed)
	assert.Equal(t, 3, report.Book().Attempts)
	assert.Equal(t, "HOLD", report.(*TechnicalReport).Signal)
	require.NotEmpty(t, report.Book().ValidationErrors)
	assert.Contains(t, report.Book().ValidationErrors[0], "MAYBE")
	assert.Len(t, gen.prompts, 3)
}

func TestRunnerRetriesGenerationErrors(t *testing.T) {
	gen := &seqGen{
		errs:      []error{errors.New("all models exhausted"), nil},
		responses: []string{"", `{"signal": "SELL", "confidence": "LOW"}`},
	}
	runner := fastRunner(gen, nil)

	report, err := runner.Run(context.Background(), KindTechnical, testState())
	require.NoError(t, err)

	assert.Equal(t, 2, report.Book().Attempts)
	assert.Equal(t, "SELL", report.(*TechnicalReport).Signal)
}

func TestRunnerPersistsFallback(t *testing.T) {
	gen := &seqGen{responses: []string{"no json", "no json", "no json"}}
	store := &recordingStore{}
	runner := fastRunner(gen, store)

	report, err := runner.Run(context.Background(), KindTechnical, testState())
	require.NoError(t, err)

	assert.True(t, report.Book().ValidationFailed)
	require.Len(t, store.agents, 1)
	assert.Len(t, report.Book().ReasoningDigest, 16)
}

// stallGen never answers; it waits for the attempt context to expire
type stallGen struct {
	mu    sync.Mutex
	calls int
}

func (g *stallGen) Generate(ctx context.Context, _ string, _ llm.GenerateParams) (*llm.Result, error) {
	g.mu.Lock()
	g.calls++
	g.mu.Unlock()
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestRunnerEnforcesPerAgentTimeout(t *testing.T) {
	gen := &stallGen{}
	var seen []string
	runner := NewRunner(gen, nil, RunnerConfig{
		MaxAttempts: 2,
		BackoffBase: time.Millisecond,
		Timeout: func(agent string) time.Duration {
			seen = append(seen, agent)
			return 10 * time.Millisecond
		},
	})

	report, err := runner.Run(context.Background(), KindTechnical, testState())
	require.NoError(t, err)

	// every attempt hit its deadline and the runner fell back
	assert.Equal(t, 2, gen.calls)
	assert.Equal(t, []string{"technical", "technical"}, seen)
	assert.True(t, report.Book().ValidationFailed)
	require.NotEmpty(t, report.Book().ValidationErrors)
	assert.Contains(t, report.Book().ValidationErrors[0], "deadline")
}

func TestRunnerContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	gen := &seqGen{errs: []error{context.Canceled}}
	runner := fastRunner(gen, nil)

	report, err := runner.Run(ctx, KindTechnical, testState())
	require.Error(t, err)
	require.NotNil(t, report)
	assert.True(t, report.Book().ValidationFailed)
}
