// Package matching scores stored signatures against a query signature.
package matching

import (
	"math"

	"github.com/camden-git/objectmatch/signature"
)

const (
	// LoweRatio is the fixed ratio-test threshold.
	LoweRatio = 0.7
	// DefaultMinSimilarity is the cosine acceptance floor when a query does
	// not set one.
	DefaultMinSimilarity = 0.5
)

// Score is the outcome of comparing one candidate with the query.
// Normalized and MatchesCount are only set by the ratio-test matcher.
type Score struct {
	Similarity   float64
	Normalized   *float64
	MatchesCount *int
	Accepted     bool
}

// Matcher compares a query signature with a candidate signature.
type Matcher interface {
	Match(query, candidate signature.Signature) Score
}

// RatioTestMatcher counts query descriptors whose nearest candidate
// descriptor is clearly closer than the second nearest.
type RatioTestMatcher struct {
	Ratio float64
}

// Match accepts the candidate when at least one descriptor passes the ratio
// test. Sets with fewer than two descriptors never match.
func (m RatioTestMatcher) Match(query, candidate signature.Signature) Score {
	q, _ := query.(*signature.DescriptorSet)
	c, _ := candidate.(*signature.DescriptorSet)
	count := m.Count(q, c)

	score := Score{Similarity: float64(count), MatchesCount: &count, Accepted: count > 0}
	if n := q.Len(); n > 0 {
		normalized := float64(count) / float64(n)
		score.Normalized = &normalized
	}
	return score
}

// Count runs an exhaustive two-nearest-neighbour search for every query
// descriptor and returns how many pass the ratio test.
func (m RatioTestMatcher) Count(query, candidate *signature.DescriptorSet) int {
	if query.Len() < 2 || candidate.Len() < 2 || query.Dim != candidate.Dim {
		return 0
	}
	ratio := m.Ratio
	if ratio <= 0 {
		ratio = LoweRatio
	}

	good := 0
	for i := 0; i < query.Len(); i++ {
		qRow := query.Row(i)
		best, second := math.Inf(1), math.Inf(1)
		for j := 0; j < candidate.Len(); j++ {
			d := euclidean(qRow, candidate.Row(j))
			if d < best {
				best, second = d, best
			} else if d < second {
				second = d
			}
		}
		if best < ratio*second {
			good++
		}
	}
	return good
}

func euclidean(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

// CosineMatcher accepts candidates whose cosine similarity to the query is
// at least MinSimilarity.
type CosineMatcher struct {
	MinSimilarity float64
}

func (m CosineMatcher) Match(query, candidate signature.Signature) Score {
	q, _ := query.(signature.Embedding)
	c, _ := candidate.(signature.Embedding)
	if len(q) == 0 || len(q) != len(c) {
		return Score{}
	}
	sim := CosineSimilarity(q, c)
	return Score{Similarity: sim, Accepted: sim >= m.MinSimilarity}
}

// CosineSimilarity returns the cosine of the angle between a and b, or 0
// when either has no magnitude.
func CosineSimilarity(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
