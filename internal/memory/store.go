package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pgvector/pgvector-go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tradewind-ai/tradewind/internal/metrics"
)

// PoolInterface abstracts pgxpool.Pool so tests can use pgxmock
type PoolInterface interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// EmbeddingFunc generates an embedding for text. Optional; when absent
// similarity falls back to token overlap.
type EmbeddingFunc func(ctx context.Context, text string) ([]float32, error)

// Store is the Postgres-backed reasoning store
type Store struct {
	pool        PoolInterface
	embed       EmbeddingFunc
	maxPerAgent int
	log         zerolog.Logger
}

// StoreConfig configures the reasoning store
type StoreConfig struct {
	MaxEntriesPerAgent int
	EmbeddingFunc      EmbeddingFunc
}

// NewStore creates a reasoning store over a pgx pool
func NewStore(pool PoolInterface, cfg StoreConfig) *Store {
	if cfg.MaxEntriesPerAgent <= 0 {
		cfg.MaxEntriesPerAgent = 2000
	}
	return &Store{
		pool:        pool,
		embed:       cfg.EmbeddingFunc,
		maxPerAgent: cfg.MaxEntriesPerAgent,
		log:         log.With().Str("component", "reasoning_store").Logger(),
	}
}

const entryColumns = `
	id, agent, prompt_digest, prompt, reasoning, action, confidence,
	backend, latency_ms, metadata, embedding, created_at,
	outcome_success, outcome_reward, outcome_reward_signal,
	outcome_near_miss, outcome_notes, outcome_trade_id, evaluated_at,
	judge_verdict, judge_score, judge_confidence, judge_notes,
	judge_tags, judge_success_estimate, judged_at`

// Store persists one prompt→decision trace. A duplicate
// (agent, prompt_digest) updates the existing row instead of appending,
// and the per-agent cap is enforced by FIFO eviction.
func (s *Store) Store(ctx context.Context, agent, prompt string, result map[string]any, raw, backend string, latencyMs int64, metadata map[string]any) (*Entry, error) {
	entry := &Entry{
		ID:           uuid.New(),
		Agent:        agent,
		PromptDigest: Digest(prompt),
		Prompt:       prompt,
		Reasoning:    extractReasoning(result, raw),
		Action:       extractAction(result),
		Confidence:   extractConfidence(result),
		Backend:      backend,
		LatencyMs:    latencyMs,
		Metadata:     metadata,
		CreatedAt:    time.Now().UTC(),
	}

	if s.embed != nil {
		if vec, err := s.embed(ctx, prompt); err == nil {
			entry.Embedding = vec
		} else {
			s.log.Debug().Err(err).Str("agent", agent).Msg("Embedding unavailable, storing without")
		}
	}

	var metadataJSON []byte
	if metadata != nil {
		var err error
		metadataJSON, err = json.Marshal(metadata)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal metadata: %w", err)
		}
	}

	// untyped nil when absent so the driver sees SQL NULL
	var embedding interface{}
	if entry.Embedding != nil {
		embedding = pgvector.NewVector(entry.Embedding)
	}

	query := `
		INSERT INTO reasoning_entries (
			id, agent, prompt_digest, prompt, reasoning, action, confidence,
			backend, latency_ms, metadata, embedding, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12
		)
		ON CONFLICT (agent, prompt_digest) DO UPDATE SET
			reasoning = EXCLUDED.reasoning,
			action = EXCLUDED.action,
			confidence = EXCLUDED.confidence,
			backend = EXCLUDED.backend,
			latency_ms = EXCLUDED.latency_ms,
			metadata = EXCLUDED.metadata
	`

	_, err := s.pool.Exec(ctx, query,
		entry.ID, entry.Agent, entry.PromptDigest, entry.Prompt,
		entry.Reasoning, entry.Action, entry.Confidence,
		entry.Backend, entry.LatencyMs, metadataJSON, embedding, entry.CreatedAt,
	)
	if err != nil {
		metrics.MemoryOps.WithLabelValues("store", "error").Inc()
		return nil, fmt.Errorf("failed to store reasoning entry: %w", err)
	}

	if err := s.evict(ctx, agent); err != nil {
		s.log.Warn().Err(err).Str("agent", agent).Msg("Cap eviction failed")
	}

	metrics.MemoryOps.WithLabelValues("store", "ok").Inc()
	s.log.Debug().
		Str("agent", agent).
		Str("digest", entry.PromptDigest).
		Str("action", entry.Action).
		Msg("Stored reasoning entry")

	return entry, nil
}

// evict drops the oldest rows beyond the per-agent cap
func (s *Store) evict(ctx context.Context, agent string) error {
	query := `
		DELETE FROM reasoning_entries
		WHERE agent = $1 AND id IN (
			SELECT id FROM reasoning_entries
			WHERE agent = $1
			ORDER BY created_at DESC
			OFFSET $2
		)
	`
	_, err := s.pool.Exec(ctx, query, agent, s.maxPerAgent)
	return err
}

// GetRecent returns the newest entries for one agent
func (s *Store) GetRecent(ctx context.Context, agent string, limit int) ([]*Entry, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM reasoning_entries
		WHERE agent = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, entryColumns)

	rows, err := s.pool.Query(ctx, query, agent, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent entries: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

// GetByDigest returns one entry by its prompt digest
func (s *Store) GetByDigest(ctx context.Context, agent, digest string) (*Entry, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM reasoning_entries
		WHERE agent = $1 AND prompt_digest = $2
	`, entryColumns)

	rows, err := s.pool.Query(ctx, query, agent, digest)
	if err != nil {
		return nil, fmt.Errorf("failed to query entry by digest: %w", err)
	}
	defer rows.Close()

	entries, err := scanEntries(rows)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}
	return entries[0], nil
}

// Search performs a case-insensitive substring match over prompt and
// reasoning text.
func (s *Store) Search(ctx context.Context, agent, query string, limit int) ([]*Entry, error) {
	sql := fmt.Sprintf(`
		SELECT %s FROM reasoning_entries
		WHERE agent = $1 AND (prompt ILIKE $2 OR reasoning ILIKE $2)
		ORDER BY created_at DESC
		LIMIT $3
	`, entryColumns)

	rows, err := s.pool.Query(ctx, sql, agent, "%"+query+"%", limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search entries: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

// UpdateOutcome attaches a trade outcome to the entry with the given
// digest. Returns false when the digest is unknown.
func (s *Store) UpdateOutcome(ctx context.Context, agent, digest string, outcome Outcome) (bool, error) {
	query := `
		UPDATE reasoning_entries SET
			outcome_success = $3,
			outcome_reward = $4,
			outcome_reward_signal = $5,
			outcome_near_miss = $6,
			outcome_notes = $7,
			outcome_trade_id = $8,
			evaluated_at = $9
		WHERE agent = $1 AND prompt_digest = $2
	`

	evaluatedAt := outcome.EvaluatedAt
	if evaluatedAt.IsZero() {
		evaluatedAt = time.Now().UTC()
	}

	tag, err := s.pool.Exec(ctx, query,
		agent, digest,
		outcome.Success, outcome.Reward, outcome.RewardSignal,
		outcome.NearMiss, outcome.Notes, outcome.TradeID, evaluatedAt,
	)
	if err != nil {
		metrics.MemoryOps.WithLabelValues("update_outcome", "error").Inc()
		return false, fmt.Errorf("failed to update outcome: %w", err)
	}

	updated := tag.RowsAffected() > 0
	if updated {
		metrics.MemoryOps.WithLabelValues("update_outcome", "ok").Inc()
	}
	return updated, nil
}

// AttachJudge attaches a self-judgment verdict to the entry with the
// given digest. Returns false when the digest is unknown.
func (s *Store) AttachJudge(ctx context.Context, agent, digest string, judge Judge) (bool, error) {
	query := `
		UPDATE reasoning_entries SET
			judge_verdict = $3,
			judge_score = $4,
			judge_confidence = $5,
			judge_notes = $6,
			judge_tags = $7,
			judge_success_estimate = $8,
			judged_at = $9
		WHERE agent = $1 AND prompt_digest = $2
	`

	judgedAt := judge.JudgedAt
	if judgedAt.IsZero() {
		judgedAt = time.Now().UTC()
	}

	tag, err := s.pool.Exec(ctx, query,
		agent, digest,
		judge.Verdict, judge.Score, judge.Confidence,
		judge.Notes, judge.Tags, judge.SuccessEstimate, judgedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to attach judge verdict: %w", err)
	}

	return tag.RowsAffected() > 0, nil
}

// GetSuccessRate summarizes the latest evaluated entries for one agent.
// Entries without an outcome are excluded from the denominator.
func (s *Store) GetSuccessRate(ctx context.Context, agent string, lookback int) (*SuccessStats, error) {
	query := `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE outcome_success),
			COALESCE(AVG(outcome_reward), 0),
			COALESCE(SUM(outcome_reward), 0)
		FROM (
			SELECT outcome_success, outcome_reward
			FROM reasoning_entries
			WHERE agent = $1 AND evaluated_at IS NOT NULL
			ORDER BY created_at DESC
			LIMIT $2
		) recent
	`

	stats := &SuccessStats{}
	err := s.pool.QueryRow(ctx, query, agent, lookback).Scan(
		&stats.TotalEvaluated, &stats.Successful,
		&stats.AvgReward, &stats.TotalReward,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to compute success rate: %w", err)
	}

	if stats.TotalEvaluated > 0 {
		stats.SuccessRate = float64(stats.Successful) / float64(stats.TotalEvaluated)
	}
	return stats, nil
}

// RelevantContext returns past entries similar to the prompt. Cosine
// distance over embeddings when available, token overlap otherwise.
// When the pgvector query is unavailable, entries that still carry
// embeddings are re-ranked in process against the query vector. With
// preferSuccessful the similarity of entries whose outcome succeeded
// is boosted by 1.5 before ranking.
func (s *Store) RelevantContext(ctx context.Context, agent, prompt string, limit int, minSimilarity float64, preferSuccessful bool) ([]*Entry, error) {
	var candidates []*Entry
	var similarities map[uuid.UUID]float64

	var queryVec []float32
	if s.embed != nil {
		if vec, err := s.embed(ctx, prompt); err == nil {
			queryVec = vec
			var vecErr error
			candidates, similarities, vecErr = s.vectorCandidates(ctx, agent, queryVec, limit*4)
			if vecErr != nil {
				s.log.Warn().Err(vecErr).Msg("Vector similarity failed, ranking in process")
				candidates = nil
			}
		}
	}

	if candidates == nil {
		recent, err := s.GetRecent(ctx, agent, 200)
		if err != nil {
			return nil, err
		}
		candidates = recent
		similarities = make(map[uuid.UUID]float64, len(recent))
		promptTokens := tokenize(prompt)
		for _, e := range recent {
			if queryVec != nil && e.Embedding != nil {
				similarities[e.ID] = cosineSimilarity(queryVec, e.Embedding)
			} else {
				similarities[e.ID] = jaccard(promptTokens, tokenize(e.Prompt))
			}
		}
	}

	type scored struct {
		entry *Entry
		score float64
	}
	ranked := make([]scored, 0, len(candidates))
	for _, e := range candidates {
		score := similarities[e.ID]
		if preferSuccessful && e.Outcome != nil && e.Outcome.Success {
			score *= 1.5
		}
		if score < minSimilarity {
			continue
		}
		ranked = append(ranked, scored{e, score})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].score > ranked[j].score
	})
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}

	out := make([]*Entry, len(ranked))
	for i, r := range ranked {
		out[i] = r.entry
	}
	return out, nil
}

// vectorCandidates runs the pgvector cosine query
func (s *Store) vectorCandidates(ctx context.Context, agent string, queryVec []float32, limit int) ([]*Entry, map[uuid.UUID]float64, error) {
	vec := pgvector.NewVector(queryVec)

	query := fmt.Sprintf(`
		SELECT %s, 1 - (embedding <=> $1) AS similarity
		FROM reasoning_entries
		WHERE agent = $2 AND embedding IS NOT NULL
		ORDER BY embedding <=> $1
		LIMIT $3
	`, entryColumns)

	rows, err := s.pool.Query(ctx, query, vec, agent, limit)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query similar entries: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	similarities := make(map[uuid.UUID]float64)
	for rows.Next() {
		entry, extra, err := scanEntry(rows, 1)
		if err != nil {
			return nil, nil, err
		}
		entries = append(entries, entry)
		similarities[entry.ID] = extra[0]
	}
	return entries, similarities, rows.Err()
}

// SynthesizeStrategies mines rules from evaluated entries, grouping by
// confidence bucket and action.
func (s *Store) SynthesizeStrategies(ctx context.Context, agent string, minSuccessRate float64, minSampleSize int) ([]Strategy, error) {
	query := `
		SELECT action, confidence, outcome_success, COALESCE(outcome_reward, 0)
		FROM reasoning_entries
		WHERE agent = $1 AND evaluated_at IS NOT NULL
	`

	rows, err := s.pool.Query(ctx, query, agent)
	if err != nil {
		return nil, fmt.Errorf("failed to query evaluated entries: %w", err)
	}
	defer rows.Close()

	type group struct {
		total, successful int
		totalReward       float64
	}
	groups := make(map[string]*group)

	for rows.Next() {
		var action string
		var confidence float64
		var success *bool
		var reward float64
		if err := rows.Scan(&action, &confidence, &success, &reward); err != nil {
			return nil, fmt.Errorf("failed to scan evaluated entry: %w", err)
		}

		key := confidenceBucket(confidence) + "|" + action
		g, ok := groups[key]
		if !ok {
			g = &group{}
			groups[key] = g
		}
		g.total++
		if success != nil && *success {
			g.successful++
		}
		g.totalReward += reward
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var strategies []Strategy
	for _, key := range keys {
		g := groups[key]
		if g.total < minSampleSize {
			continue
		}
		rate := float64(g.successful) / float64(g.total)
		if rate < minSuccessRate {
			continue
		}
		parts := strings.SplitN(key, "|", 2)
		bucket, action := parts[0], parts[1]

		strategies = append(strategies, Strategy{
			Type:        "confidence_action_rule",
			Rule:        fmt.Sprintf("%s with %s confidence succeeds %.0f%% of the time", action, bucket, rate*100),
			Condition:   fmt.Sprintf("action=%s confidence=%s", action, bucket),
			SuccessRate: rate,
			SampleSize:  g.total,
			AvgReward:   g.totalReward / float64(g.total),
		})
	}

	return strategies, nil
}

// GetStats returns per-agent entry counts for the status API
func (s *Store) GetStats(ctx context.Context) (map[string]any, error) {
	query := `
		SELECT agent, COUNT(*), COUNT(*) FILTER (WHERE evaluated_at IS NOT NULL)
		FROM reasoning_entries
		GROUP BY agent
		ORDER BY agent
	`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query store stats: %w", err)
	}
	defer rows.Close()

	agents := make(map[string]any)
	total := 0
	for rows.Next() {
		var agent string
		var count, evaluated int
		if err := rows.Scan(&agent, &count, &evaluated); err != nil {
			return nil, fmt.Errorf("failed to scan stats row: %w", err)
		}
		agents[agent] = map[string]any{"entries": count, "evaluated": evaluated}
		total += count
	}

	return map[string]any{
		"total_entries": total,
		"agents":        agents,
	}, rows.Err()
}

// confidenceBucket maps a scalar confidence to its bucket label
func confidenceBucket(confidence float64) string {
	switch {
	case confidence >= 0.8:
		return "high"
	case confidence >= 0.5:
		return "medium"
	default:
		return "low"
	}
}

// scanEntries scans all rows into entries
func scanEntries(rows pgx.Rows) ([]*Entry, error) {
	var entries []*Entry
	for rows.Next() {
		entry, _, err := scanEntry(rows, 0)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// scanEntry scans one row plus extraCols trailing float columns
func scanEntry(rows pgx.Rows, extraCols int) (*Entry, []float64, error) {
	var entry Entry
	var metadataJSON []byte
	var embeddingVec *pgvector.Vector

	var outcomeSuccess, outcomeNearMiss *bool
	var outcomeReward *float64
	var outcomeRewardSignal, outcomeNotes, outcomeTradeID *string
	var evaluatedAt *time.Time

	var judgeVerdict, judgeNotes *string
	var judgeScore, judgeConfidence, judgeSuccessEstimate *float64
	var judgeTags []string
	var judgedAt *time.Time

	dest := []interface{}{
		&entry.ID, &entry.Agent, &entry.PromptDigest, &entry.Prompt,
		&entry.Reasoning, &entry.Action, &entry.Confidence,
		&entry.Backend, &entry.LatencyMs, &metadataJSON, &embeddingVec, &entry.CreatedAt,
		&outcomeSuccess, &outcomeReward, &outcomeRewardSignal,
		&outcomeNearMiss, &outcomeNotes, &outcomeTradeID, &evaluatedAt,
		&judgeVerdict, &judgeScore, &judgeConfidence, &judgeNotes,
		&judgeTags, &judgeSuccessEstimate, &judgedAt,
	}

	extras := make([]float64, extraCols)
	for i := range extras {
		dest = append(dest, &extras[i])
	}

	if err := rows.Scan(dest...); err != nil {
		return nil, nil, fmt.Errorf("failed to scan reasoning entry: %w", err)
	}

	if metadataJSON != nil {
		if err := json.Unmarshal(metadataJSON, &entry.Metadata); err != nil {
			return nil, nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	if embeddingVec != nil {
		entry.Embedding = embeddingVec.Slice()
	}

	if evaluatedAt != nil {
		entry.Outcome = &Outcome{
			EvaluatedAt: *evaluatedAt,
		}
		if outcomeSuccess != nil {
			entry.Outcome.Success = *outcomeSuccess
		}
		if outcomeReward != nil {
			entry.Outcome.Reward = *outcomeReward
		}
		if outcomeRewardSignal != nil {
			entry.Outcome.RewardSignal = *outcomeRewardSignal
		}
		if outcomeNearMiss != nil {
			entry.Outcome.NearMiss = *outcomeNearMiss
		}
		if outcomeNotes != nil {
			entry.Outcome.Notes = *outcomeNotes
		}
		if outcomeTradeID != nil {
			entry.Outcome.TradeID = *outcomeTradeID
		}
	}

	if judgedAt != nil {
		entry.Judge = &Judge{
			Tags:     judgeTags,
			JudgedAt: *judgedAt,
		}
		if judgeVerdict != nil {
			entry.Judge.Verdict = *judgeVerdict
		}
		if judgeScore != nil {
			entry.Judge.Score = *judgeScore
		}
		if judgeConfidence != nil {
			entry.Judge.Confidence = *judgeConfidence
		}
		if judgeNotes != nil {
			entry.Judge.Notes = *judgeNotes
		}
		if judgeSuccessEstimate != nil {
			entry.Judge.SuccessEstimate = *judgeSuccessEstimate
		}
	}

	return &entry, extras, nil
}
