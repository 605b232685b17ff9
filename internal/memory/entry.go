// Package memory is the durable reasoning store: one row per
// (agent, prompt) pair with outcome and judge attachments.
package memory

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Entry is a single prompt→decision trace
type Entry struct {
	ID           uuid.UUID      `json:"id"`
	Agent        string         `json:"agent"`
	PromptDigest string         `json:"prompt_digest"`
	Prompt       string         `json:"prompt"`
	Reasoning    string         `json:"reasoning"`
	Action       string         `json:"action"`
	Confidence   float64        `json:"confidence"` // 0.0 to 1.0
	Backend      string         `json:"backend"`
	LatencyMs    int64          `json:"latency_ms"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	Embedding    []float32      `json:"embedding,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`

	Outcome *Outcome `json:"outcome,omitempty"`
	Judge   *Judge   `json:"judge,omitempty"`
}

// Outcome records how the decision played out
type Outcome struct {
	Success      bool      `json:"success"`
	Reward       float64   `json:"reward"`
	RewardSignal string    `json:"reward_signal,omitempty"`
	NearMiss     bool      `json:"near_miss,omitempty"`
	Notes        string    `json:"notes,omitempty"`
	TradeID      string    `json:"trade_id,omitempty"`
	EvaluatedAt  time.Time `json:"evaluated_at"`
}

// Judge records a self-judgment verdict for the entry
type Judge struct {
	Verdict         string    `json:"verdict"`
	Score           float64   `json:"score"`
	Confidence      float64   `json:"confidence"`
	Notes           string    `json:"notes,omitempty"`
	Tags            []string  `json:"tags,omitempty"`
	SuccessEstimate float64   `json:"success_estimate"`
	JudgedAt        time.Time `json:"judged_at"`
}

// SuccessStats summarizes evaluated entries for one agent
type SuccessStats struct {
	TotalEvaluated int     `json:"total_evaluated"`
	Successful     int     `json:"successful"`
	SuccessRate    float64 `json:"success_rate"`
	AvgReward      float64 `json:"avg_reward"`
	TotalReward    float64 `json:"total_reward"`
}

// Strategy is a synthesized rule mined from evaluated entries
type Strategy struct {
	Type        string  `json:"type"`
	Rule        string  `json:"rule"`
	Condition   string  `json:"condition"`
	SuccessRate float64 `json:"success_rate"`
	SampleSize  int     `json:"sample_size"`
	AvgReward   float64 `json:"avg_reward"`
}

// Digest returns the 16-hex-character prompt fingerprint
func Digest(prompt string) string {
	sum := sha256.Sum256([]byte(prompt))
	return hex.EncodeToString(sum[:])[:16]
}

// confidenceLabels maps categorical confidence to a scalar
var confidenceLabels = map[string]float64{
	"LOW":    0.35,
	"MEDIUM": 0.55,
	"HIGH":   0.8,
}

// extractAction pulls the decision action out of a normalized result
func extractAction(result map[string]any) string {
	for _, key := range []string{"action", "final_decision", "signal", "decision"} {
		if v, ok := result[key].(string); ok && v != "" {
			return v
		}
	}
	return "UNKNOWN"
}

// extractConfidence pulls a scalar confidence out of a normalized result
func extractConfidence(result map[string]any) float64 {
	if v, ok := result["confidence"].(float64); ok {
		return v
	}
	if label, ok := result["confidence_in_decision"].(string); ok {
		if v, ok := confidenceLabels[strings.ToUpper(label)]; ok {
			return v
		}
	}
	if label, ok := result["confidence"].(string); ok {
		if v, ok := confidenceLabels[strings.ToUpper(label)]; ok {
			return v
		}
	}
	return 0.5
}

// extractReasoning pulls the reasoning text, falling back to a raw
// response prefix.
func extractReasoning(result map[string]any, raw string) string {
	for _, key := range []string{"reason", "reasoning", "combined_reasoning"} {
		if v, ok := result[key].(string); ok && v != "" {
			return v
		}
	}
	if len(raw) > 500 {
		return raw[:500]
	}
	return raw
}
