package face

import "math"

// Matcher decides whether two embeddings belong to the same person using
// cosine similarity against a tunable threshold. The threshold trades
// false accepts against false rejects, so it is configuration, not a
// constant buried in the comparison.
type Matcher struct {
	threshold float64
}

// DefaultThreshold is the cosine-similarity cutoff used when no override
// is configured.
const DefaultThreshold = 0.6

// NewMatcher builds a matcher with the given similarity threshold.
// Non-positive values fall back to DefaultThreshold.
func NewMatcher(threshold float64) *Matcher {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Matcher{threshold: threshold}
}

// Threshold returns the configured cutoff.
func (m *Matcher) Threshold() float64 { return m.threshold }

// Similarity returns the cosine similarity of a and b in [-1, 1].
// Mismatched lengths and zero-magnitude vectors score 0, which can never
// reach a sane threshold: malformed input fails closed instead of
// panicking mid-request.
func (m *Matcher) Similarity(a, b Embedding) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// IsMatch reports whether a and b score at or above the threshold.
// Symmetric in its arguments.
func (m *Matcher) IsMatch(a, b Embedding) bool {
	return m.Similarity(a, b) >= m.threshold
}
