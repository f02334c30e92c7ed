package memory

import (
	"math"
	"sort"
	"strings"
	"unicode"

	"github.com/mnemora/mnemora/types"
)

// Pure relevance/keyword scoring helpers shared by the tiers and the
// transformers. No state, no I/O.

var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {},
	"by": {}, "for": {}, "from": {}, "has": {}, "have": {}, "in": {},
	"is": {}, "it": {}, "its": {}, "of": {}, "on": {}, "or": {}, "that": {},
	"the": {}, "to": {}, "was": {}, "were": {}, "will": {}, "with": {},
	"this": {}, "not": {}, "but": {},
}

var errorKeywords = []string{
	"error", "fail", "failed", "failure", "exception", "panic", "crash",
	"timeout", "fatal", "broken",
}

var decisionKeywords = []string{
	"decided", "decision", "chose", "choose", "selected", "agreed",
	"approved", "opted",
}

// Tokenize lower-cases the text and splits it on non-alphanumeric runes.
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// TokenSimilarity computes the Jaccard similarity of two texts' token sets.
func TokenSimilarity(a, b string) float64 {
	setA := tokenSet(a)
	setB := tokenSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}

	intersection := 0
	for tok := range setA {
		if _, ok := setB[tok]; ok {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	return float64(intersection) / float64(union)
}

func tokenSet(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, tok := range Tokenize(text) {
		set[tok] = struct{}{}
	}
	return set
}

// ExtractKeywords returns up to max non-stopword tokens ranked by frequency,
// ties broken alphabetically for determinism.
func ExtractKeywords(text string, max int) []string {
	counts := make(map[string]int)
	for _, tok := range Tokenize(text) {
		if len(tok) < 3 {
			continue
		}
		if _, stop := stopwords[tok]; stop {
			continue
		}
		counts[tok]++
	}

	keywords := make([]string, 0, len(counts))
	for tok := range counts {
		keywords = append(keywords, tok)
	}
	sort.Slice(keywords, func(i, j int) bool {
		if counts[keywords[i]] != counts[keywords[j]] {
			return counts[keywords[i]] > counts[keywords[j]]
		}
		return keywords[i] < keywords[j]
	})

	if max > 0 && len(keywords) > max {
		keywords = keywords[:max]
	}
	return keywords
}

// ScoreImportance computes a [0,1] importance from content length and
// metadata hints. Error and decision flags force high importance.
func ScoreImportance(content string, metadata types.Metadata) float64 {
	score := 0.3 + math.Min(0.2, float64(len(content))/2000.0)

	lower := strings.ToLower(content)
	if metadata.Flag("error") || containsAny(lower, errorKeywords) {
		score = math.Max(score, 0.8)
	}
	if metadata.Flag("decision") || containsAny(lower, decisionKeywords) {
		score = math.Max(score, 0.7)
	}
	if metadata.Flag("important") {
		score = math.Max(score, 0.75)
	}
	if v, ok := metadata["importance"]; ok {
		if f, isNum := v.AsFloat(); isNum {
			score = math.Max(score, f)
		}
	}

	return types.ClampUnit(score)
}

func containsAny(text string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(text, n) {
			return true
		}
	}
	return false
}
