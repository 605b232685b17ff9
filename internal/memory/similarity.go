package memory

import (
	"math"
	"strings"
)

// tokenize lowercases and splits on whitespace, returning a set
func tokenize(text string) map[string]struct{} {
	tokens := make(map[string]struct{})
	for _, t := range strings.Fields(strings.ToLower(text)) {
		tokens[t] = struct{}{}
	}
	return tokens
}

// jaccard is intersection over union of two token sets
func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	intersection := 0
	for t := range a {
		if _, ok := b[t]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	return float64(intersection) / float64(union)
}

// cosineSimilarity between two embedding vectors. Zero when lengths
// differ or either vector is zero.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
