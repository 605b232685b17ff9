package agents

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Graph is the fixed-order agent pipeline for one cycle:
// technical → qabba → (sentiment ∥ visual) → decision → risk.
type Graph struct {
	runner           *Runner
	sentimentEnabled bool
	visualEnabled    bool
	log              zerolog.Logger
}

// GraphConfig gates the optional agents
type GraphConfig struct {
	SentimentEnabled bool
	VisualEnabled    bool
}

// NewGraph creates the orchestration graph
func NewGraph(runner *Runner, cfg GraphConfig) *Graph {
	return &Graph{
		runner:           runner,
		sentimentEnabled: cfg.SentimentEnabled,
		visualEnabled:    cfg.VisualEnabled,
		log:              log.With().Str("component", "agent_graph").Logger(),
	}
}

// RunCycle executes the pipeline against the state. The state always
// ends with a decision report and a risk assessment; a failed technical
// or decision agent yields a synthetic HOLD. The error is non-nil only
// on context cancellation.
func (g *Graph) RunCycle(ctx context.Context, state *CycleState) error {
	technical, err := g.runner.Run(ctx, KindTechnical, state)
	if err != nil {
		return err
	}
	state.SetReport(technical)

	if technical.Book().ValidationFailed {
		g.log.Warn().
			Str("thread_id", state.ThreadID).
			Msg("Technical agent failed, emitting synthetic HOLD decision")
		state.SetReport(syntheticHold(technical.Book().ValidationErrors))
		return g.runRisk(ctx, state)
	}

	qabba, err := g.runner.Run(ctx, KindQabba, state)
	if err != nil {
		return err
	}
	state.SetReport(qabba)

	if err := g.runOptional(ctx, state); err != nil {
		return err
	}

	decision, err := g.runner.Run(ctx, KindDecision, state)
	if err != nil {
		return err
	}
	state.SetReport(decision)

	if decision.Book().ValidationFailed {
		g.log.Warn().
			Str("thread_id", state.ThreadID).
			Msg("Decision agent failed, decision defaults to HOLD")
	}

	return g.runRisk(ctx, state)
}

// runOptional executes the enabled optional agents concurrently, each
// against a fork of the state, and merges their reports back.
func (g *Graph) runOptional(ctx context.Context, state *CycleState) error {
	type branch struct {
		kind    Kind
		enabled bool
	}
	branches := []branch{
		{KindSentiment, g.sentimentEnabled},
		{KindVisual, g.visualEnabled && state.ChartImage != nil},
	}

	eg, egCtx := errgroup.WithContext(ctx)
	results := make([]Report, len(branches))

	for i, b := range branches {
		if !b.enabled {
			continue
		}
		i, b := i, b
		eg.Go(func() error {
			report, err := g.runner.Run(egCtx, b.kind, state.fork())
			if err != nil {
				return err
			}
			results[i] = report
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return err
	}

	for i, b := range branches {
		report := results[i]
		if report == nil {
			continue
		}
		if report.Book().ValidationFailed {
			// Optional agents are skipped on failure, not merged
			g.log.Warn().
				Str("agent", string(b.kind)).
				Str("thread_id", state.ThreadID).
				Msg("Optional agent failed, skipping its report")
			continue
		}
		state.SetReport(report)
	}
	return nil
}

// runRisk executes the risk agent, always last
func (g *Graph) runRisk(ctx context.Context, state *CycleState) error {
	risk, err := g.runner.Run(ctx, KindRisk, state)
	if err != nil {
		return err
	}
	state.SetReport(risk)
	return nil
}

// syntheticHold is the HOLD decision emitted when the technical agent
// never produced a valid report.
func syntheticHold(upstreamErrs []string) Report {
	report := FallbackReport(KindDecision, 0, upstreamErrs)
	return report
}
