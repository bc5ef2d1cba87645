// Package similarity scores a single field pair into [0,1]. Three kinds are
// supported: free text (TF-IDF cosine over the two-value corpus), numeric
// (relative difference) and exact match.
package similarity

import (
	"math"
	"strings"
	"unicode"
)

// Kind selects the scoring function for a field.
type Kind int

const (
	// Text scores with TF-IDF weighted cosine similarity.
	Text Kind = iota
	// Numeric scores with clamped relative difference.
	Numeric
	// Exact scores 1.0 on equality, 0.0 otherwise.
	Exact
)

func (k Kind) String() string {
	switch k {
	case Text:
		return "text"
	case Numeric:
		return "numeric"
	case Exact:
		return "exact"
	}
	return "unknown"
}

// TFIDFCosine computes the cosine of the TF-IDF vectors of two strings, with
// the two strings themselves as the document corpus. The score is symmetric;
// identical strings score 1.0 and disjoint vocabularies score 0.0.
func TFIDFCosine(a, b string) float64 {
	tokensA := tokenize(a)
	tokensB := tokenize(b)
	if len(tokensA) == 0 || len(tokensB) == 0 {
		if len(tokensA) == 0 && len(tokensB) == 0 {
			return 1.0
		}
		return 0.0
	}

	tfA := termFrequencies(tokensA)
	tfB := termFrequencies(tokensB)

	// Smoothed inverse document frequency over the two-document corpus:
	// idf(t) = ln((1+N)/(1+df)) + 1 with N = 2.
	idf := func(term string) float64 {
		df := 0
		if tfA[term] > 0 {
			df++
		}
		if tfB[term] > 0 {
			df++
		}
		return math.Log(3.0/(1.0+float64(df))) + 1.0
	}

	var dot, normA, normB float64
	seen := make(map[string]struct{}, len(tfA)+len(tfB))
	for term := range tfA {
		seen[term] = struct{}{}
	}
	for term := range tfB {
		seen[term] = struct{}{}
	}
	for term := range seen {
		w := idf(term)
		wa := float64(tfA[term]) * w
		wb := float64(tfB[term]) * w
		dot += wa * wb
		normA += wa * wa
		normB += wb * wb
	}
	if normA == 0 || normB == 0 {
		return 0.0
	}
	// Clamp: sqrt rounding can nudge the ratio a hair past 1.
	return clamp01(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}

// NumericScore computes 1 - |a-b| / max(|a|,|b|), clamped into [0,1]. Both
// values zero score 1.0; a single zero operand falls back to exact matching,
// which for unequal values is 0.0.
func NumericScore(a, b float64) float64 {
	absA, absB := math.Abs(a), math.Abs(b)
	if absA == 0 && absB == 0 {
		return 1.0
	}
	if absA == 0 || absB == 0 {
		if a == b {
			return 1.0
		}
		return 0.0
	}
	score := 1.0 - math.Abs(a-b)/math.Max(absA, absB)
	return clamp01(score)
}

// ExactScore is 1.0 iff both values are equal.
func ExactScore(a, b string) float64 {
	if a == b {
		return 1.0
	}
	return 0.0
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// tokenize lowercases and splits on non-alphanumeric runes, discarding
// single-rune tokens.
func tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	tokens := fields[:0]
	for _, f := range fields {
		if len([]rune(f)) >= 2 {
			tokens = append(tokens, f)
		}
	}
	return tokens
}

func termFrequencies(tokens []string) map[string]int {
	tf := make(map[string]int, len(tokens))
	for _, t := range tokens {
		tf[t]++
	}
	return tf
}
