// Package compute implements the statistic formulas and the tiered
// computation backend.
package compute

import (
	"math"
	"strings"
	"time"
	"unicode"
)

// Params holds the formula constants. The weights and the chars-per-page
// convention are heuristic; the defaults must be preserved for
// reproducibility, but they are configurable.
type Params struct {
	CharsPerPage     float64
	DiversityWeight  float64
	WordLengthWeight float64
	LongWordWeight   float64
	LongWordMin      int
	AvgWordLenCap    float64
	// MinElapsedMinutes floor-guards the WPM division.
	MinElapsedMinutes float64
}

// DefaultParams returns the stock formula constants.
func DefaultParams() Params {
	return Params{
		CharsPerPage:      1800,
		DiversityWeight:   50,
		WordLengthWeight:  25,
		LongWordWeight:    25,
		LongWordMin:       8,
		AvgWordLenCap:     8,
		MinElapsedMinutes: 0.05,
	}
}

// Accuracy computes round(100*correct/total) clamped to [0,100]. With zero
// keystrokes accuracy is 100 by convention.
func Accuracy(keyCount, errorCount int, p Params) int {
	if keyCount <= 0 {
		return 100
	}
	correct := keyCount - errorCount
	if correct < 0 {
		correct = 0
	}
	acc := int(math.Round(100 * float64(correct) / float64(keyCount)))
	if acc < 0 {
		acc = 0
	}
	if acc > 100 {
		acc = 100
	}
	return acc
}

// WPM computes round((keystrokes/5)/elapsedMinutes) with the elapsed time
// floor-guarded by p.MinElapsedMinutes.
func WPM(keyCount int, typingTime time.Duration, p Params) int {
	if keyCount <= 0 {
		return 0
	}
	minutes := typingTime.Minutes()
	if minutes < p.MinElapsedMinutes {
		minutes = p.MinElapsedMinutes
	}
	return int(math.Round((float64(keyCount) / 5.0) / minutes))
}

// PageCount converts a character count to pages.
func PageCount(characterCount int, p Params) float64 {
	if p.CharsPerPage <= 0 {
		return 0
	}
	return float64(characterCount) / p.CharsPerPage
}

// textMetrics aggregates one streaming pass over a content sample.
type textMetrics struct {
	words      int
	uniqueWord int
	totalLen   int
	longWords  int
	chars      int
}

// scanText walks content once, without building a per-word slice. seen is a
// reusable scratch set; it is cleared before use.
func scanText(content string, longMin int, seen map[string]struct{}) textMetrics {
	for k := range seen {
		delete(seen, k)
	}
	var tm textMetrics
	start := -1
	flush := func(end int) {
		if start < 0 {
			return
		}
		word := content[start:end]
		tm.words++
		runes := 0
		for range word {
			runes++
		}
		tm.totalLen += runes
		if runes >= longMin {
			tm.longWords++
		}
		if _, ok := seen[word]; !ok {
			seen[word] = struct{}{}
			tm.uniqueWord++
		}
		start = -1
	}
	for i, r := range content {
		if unicode.IsSpace(r) {
			flush(i)
			continue
		}
		tm.chars++
		if start < 0 {
			start = i
		}
	}
	flush(len(content))
	return tm
}

// Complexity computes the 0-100 weighted complexity score from a text pass.
func complexity(tm textMetrics, p Params) float64 {
	if tm.words == 0 {
		return 0
	}
	diversity := float64(tm.uniqueWord) / float64(tm.words)
	avgLen := float64(tm.totalLen) / float64(tm.words)
	if avgLen > p.AvgWordLenCap {
		avgLen = p.AvgWordLenCap
	}
	longRatio := float64(tm.longWords) / float64(tm.words)
	score := p.DiversityWeight*diversity +
		p.WordLengthWeight*avgLen/p.AvgWordLenCap +
		p.LongWordWeight*longRatio
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return score
}

// Complexity scores a content sample directly. Exposed for reporting and
// tests; the calculator uses the same pass internally.
func Complexity(content string, p Params) float64 {
	seen := make(map[string]struct{})
	return complexity(scanText(content, p.LongWordMin, seen), p)
}

// WordCount counts non-empty whitespace-separated tokens.
func WordCount(content string) int {
	return len(strings.Fields(content))
}
