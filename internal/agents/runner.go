package agents

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tradewind-ai/tradewind/internal/llm"
	"github.com/tradewind-ai/tradewind/internal/memory"
	"github.com/tradewind-ai/tradewind/internal/metrics"
)

const (
	defaultMaxAttempts = 3
	defaultBackoffBase = time.Second
)

// ReasoningStore is the slice of the reasoning store the runner needs
type ReasoningStore interface {
	Store(ctx context.Context, agent, prompt string, result map[string]any, raw, backend string, latencyMs int64, metadata map[string]any) (*memory.Entry, error)
}

// Runner executes one agent: prompt, generate, parse, validate, retry
// with corrective feedback, fall back when validation never succeeds.
type Runner struct {
	gen         llm.Generator
	store       ReasoningStore
	maxAttempts int
	backoffBase time.Duration
	maxTokens   int
	temperature float64
	timeout     func(agent string) time.Duration
	log         zerolog.Logger
}

// RunnerConfig configures agent execution. Timeout, when set, bounds
// each generation attempt per agent; zero or negative means unbounded.
type RunnerConfig struct {
	MaxAttempts int
	BackoffBase time.Duration
	MaxTokens   int
	Temperature float64
	Timeout     func(agent string) time.Duration
}

// NewRunner creates a runner. The store may be nil; reports then carry
// no reasoning digest.
func NewRunner(gen llm.Generator, store ReasoningStore, cfg RunnerConfig) *Runner {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = defaultBackoffBase
	}
	return &Runner{
		gen:         gen,
		store:       store,
		maxAttempts: cfg.MaxAttempts,
		backoffBase: cfg.BackoffBase,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		timeout:     cfg.Timeout,
		log:         log.With().Str("component", "agent_runner").Logger(),
	}
}

// Run executes the agent for kind against the cycle state. It always
// returns a structurally valid report; the error is non-nil only when
// the context was cancelled.
func (r *Runner) Run(ctx context.Context, kind Kind, state *CycleState) (Report, error) {
	agent := string(kind)
	basePrompt := BuildPrompt(kind, state)
	params := llm.GenerateParams{
		SystemPrompt: SystemPrompt(kind),
		MaxTokens:    r.maxTokens,
		Temperature:  r.temperature,
	}

	start := time.Now()
	defer func() {
		metrics.AgentDuration.WithLabelValues(agent).Observe(time.Since(start).Seconds())
	}()

	prompt := basePrompt
	var lastErrs []string

	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		if attempt > 1 {
			if err := r.backoff(ctx, attempt); err != nil {
				return FallbackReport(kind, attempt-1, lastErrs), err
			}
		}

		result, err := r.generate(ctx, agent, prompt, params)
		if err != nil {
			if ctx.Err() != nil {
				return FallbackReport(kind, attempt, lastErrs), ctx.Err()
			}
			metrics.AgentAttempts.WithLabelValues(agent, "error").Inc()
			lastErrs = []string{err.Error()}
			r.log.Warn().Err(err).
				Str("agent", agent).
				Int("attempt", attempt).
				Msg("Generation failed")
			continue
		}

		parsed := llm.ParseStructured(result.Text)
		report, errs := BuildReport(kind, parsed)
		if len(errs) > 0 {
			metrics.AgentAttempts.WithLabelValues(agent, "invalid").Inc()
			lastErrs = errs
			r.log.Warn().
				Str("agent", agent).
				Int("attempt", attempt).
				Strs("errors", errs).
				Msg("Report failed validation")
			prompt = withCorrectiveFeedback(basePrompt, errs)
			continue
		}

		metrics.AgentAttempts.WithLabelValues(agent, "ok").Inc()
		report.Book().Attempts = attempt
		r.persist(ctx, kind, report, basePrompt, parsed, result)
		return report, nil
	}

	metrics.AgentAttempts.WithLabelValues(agent, "exhausted").Inc()
	r.log.Error().
		Str("agent", agent).
		Strs("errors", lastErrs).
		Msg("Agent exhausted retries, emitting fallback report")

	fallback := FallbackReport(kind, r.maxAttempts, lastErrs)
	r.persist(ctx, kind, fallback, basePrompt, fallback.Raw(), nil)
	return fallback, nil
}

// generate runs one attempt, bounded by the per-agent timeout. The
// deadline applies to the attempt only; an expired attempt is retried
// as long as the parent context is alive.
func (r *Runner) generate(ctx context.Context, agent, prompt string, params llm.GenerateParams) (*llm.Result, error) {
	if r.timeout == nil {
		return r.gen.Generate(ctx, prompt, params)
	}
	d := r.timeout(agent)
	if d <= 0 {
		return r.gen.Generate(ctx, prompt, params)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, d)
	defer cancel()
	return r.gen.Generate(attemptCtx, prompt, params)
}

// backoff sleeps for base * 2^(attempt-2), honoring cancellation
func (r *Runner) backoff(ctx context.Context, attempt int) error {
	delay := r.backoffBase << (attempt - 2)
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// persist appends the reasoning entry and sets the report digest
func (r *Runner) persist(ctx context.Context, kind Kind, report Report, prompt string, parsed map[string]any, result *llm.Result) {
	if r.store == nil {
		return
	}

	raw, backend := "", ""
	var latencyMs int64
	if result != nil {
		raw = result.Text
		backend = result.Model
		latencyMs = result.LatencyMs
	}

	metadata := map[string]any{
		"attempts": report.Book().Attempts,
	}
	if report.Book().ValidationFailed {
		metadata["validation_failed"] = true
	}

	entry, err := r.store.Store(ctx, string(kind), prompt, parsed, raw, backend, latencyMs, metadata)
	if err != nil {
		r.log.Warn().Err(err).Str("agent", string(kind)).Msg("Failed to persist reasoning entry")
		return
	}
	report.Book().ReasoningDigest = entry.PromptDigest
}

// withCorrectiveFeedback appends the validation errors verbatim so the
// next attempt can correct them.
func withCorrectiveFeedback(prompt string, errs []string) string {
	var sb strings.Builder
	sb.WriteString(prompt)
	sb.WriteString("\n\nYour previous response failed validation:\n")
	for _, e := range errs {
		fmt.Fprintf(&sb, "- %s\n", e)
	}
	sb.WriteString("Respond again with a corrected JSON object.")
	return sb.String()
}
