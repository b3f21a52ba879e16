// Package textutil provides text processing helpers shared by the
// grounding, claim-extraction and retrieval packages.
package textutil

import (
	"math"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// MinSentenceLength is the minimum length, in bytes, for a fragment to
// count as a sentence. Shorter fragments (headings, list markers, stray
// punctuation) are discarded as noise.
const MinSentenceLength = 20

// MinTermLength is the minimum token length, in runes, considered a
// content term. Shorter tokens carry no grounding signal.
const MinTermLength = 4

var sentenceBoundary = regexp.MustCompile(`[.!?]+\s+|\n+`)

// SplitSentences splits text on sentence-terminal punctuation or
// newlines and discards fragments shorter than MinSentenceLength.
func SplitSentences(text string) []string {
	parts := sentenceBoundary.Split(text, -1)
	sentences := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if len(part) < MinSentenceLength {
			continue
		}
		sentences = append(sentences, part)
	}
	return sentences
}

// Tokenize lowercases text and splits it into alphanumeric tokens,
// keeping only tokens of at least MinTermLength runes.
func Tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		if utf8.RuneCountInString(f) < MinTermLength {
			continue
		}
		tokens = append(tokens, f)
	}
	return tokens
}

// TermSet returns the set of content terms in text.
func TermSet(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, tok := range Tokenize(text) {
		set[tok] = struct{}{}
	}
	return set
}

// OverlapRatio returns |terms ∩ against| / |terms|. An empty terms set
// yields 0.
func OverlapRatio(terms, against map[string]struct{}) float64 {
	if len(terms) == 0 {
		return 0
	}
	matched := 0
	for t := range terms {
		if _, ok := against[t]; ok {
			matched++
		}
	}
	return float64(matched) / float64(len(terms))
}

// SharesTerm reports whether terms and against share at least one term.
func SharesTerm(terms, against map[string]struct{}) bool {
	for t := range terms {
		if _, ok := against[t]; ok {
			return true
		}
	}
	return false
}

// Clamp clamps v to the [lo, hi] range.
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Clamp01 clamps v to the [0, 1] range.
func Clamp01(v float64) float64 {
	return Clamp(v, 0, 1)
}

// HalfLifeDecay returns the exponential decay factor for the given age
// and half-life, clamped to [0, 1]. A negative age (a future timestamp,
// e.g. from a clock-skewed connector) clamps to 1; a non-positive
// half-life yields 0.
func HalfLifeDecay(age, halfLife float64) float64 {
	if halfLife <= 0 {
		return 0
	}
	return Clamp01(math.Exp(-math.Ln2 * age / halfLife))
}

// TruncateString truncates s to at most maxLen Unicode characters.
func TruncateString(s string, maxLen int) string {
	if utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	runes := []rune(s)
	return string(runes[:maxLen])
}
