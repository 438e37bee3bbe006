package core

import (
	"strings"
	"unicode"
)

// Matcher maps a free-text name to the closest of a set of known names.
// Best returns the index of the winning candidate, its score in [0,1], and
// whether that score clears the matcher's threshold.
type Matcher interface {
	Best(query string, candidates []string) (index int, score float64, ok bool)
}

// DefaultMatchThreshold is the minimum similarity accepted as the same entity.
const DefaultMatchThreshold = 0.75

// typoMinRunes is the shortest token that may match another with one edit.
// Shorter tokens ("ramesh", "mahesh", "v29") must match exactly.
const typoMinRunes = 7

// SimilarityMatcher scores names by token overlap and containment, and
// accepts the best candidate at or above Threshold. Names whose model numbers
// disagree never match.
type SimilarityMatcher struct {
	Threshold float64
}

func NewSimilarityMatcher(threshold float64) *SimilarityMatcher {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultMatchThreshold
	}
	return &SimilarityMatcher{Threshold: threshold}
}

func (m *SimilarityMatcher) Best(query string, candidates []string) (int, float64, bool) {
	q := NormalizeName(query)
	if q == "" || len(candidates) == 0 {
		return -1, 0, false
	}
	best, bestScore := -1, 0.0
	for i, c := range candidates {
		s := similarity(q, NormalizeName(c))
		if s > bestScore {
			best, bestScore = i, s
		}
		if s == 1 {
			break
		}
	}
	return best, bestScore, best >= 0 && bestScore >= m.Threshold
}

// NormalizeName lowercases, drops punctuation and collapses whitespace.
func NormalizeName(s string) string {
	var b strings.Builder
	space := false
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
		case unicode.IsSpace(r) || r == '-' || r == '_' || r == '/':
			space = true
		}
	}
	return b.String()
}

func similarity(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}
	if strings.ReplaceAll(a, " ", "") == strings.ReplaceAll(b, " ", "") {
		return 0.95
	}
	ta, tb := strings.Fields(a), strings.Fields(b)
	if !modelsCompatible(ta, tb) {
		return 0
	}
	score := tokenOverlap(ta, tb)
	// "vivo v29" inside "vivo v29 pro": strong, but below an exact match.
	if containsTokens(a, b) || containsTokens(b, a) {
		score = max(score, 0.9)
	}
	return score
}

// modelsCompatible reports whether the tokens carrying digits ("v29", "128gb",
// "14") of one name are a subset of the other's.
func modelsCompatible(a, b []string) bool {
	da, db := digitTokens(a), digitTokens(b)
	if len(da) > len(db) {
		da, db = db, da
	}
	for t := range da {
		if !db[t] {
			return false
		}
	}
	return true
}

func digitTokens(tokens []string) map[string]bool {
	out := make(map[string]bool)
	for _, t := range tokens {
		if strings.IndexFunc(t, unicode.IsDigit) >= 0 {
			out[t] = true
		}
	}
	return out
}

func containsTokens(haystack, needle string) bool {
	return strings.Contains(" "+haystack+" ", " "+needle+" ")
}

// tokenOverlap is a Jaccard score where an exact token counts 1 and a
// one-edit typo of a long token counts 0.8.
func tokenOverlap(ta, tb []string) float64 {
	used := make([]bool, len(tb))
	var matched float64
	pairs := 0
	for _, x := range dedupe(ta) {
		best, bestIdx := 0.0, -1
		for j, y := range tb {
			if used[j] {
				continue
			}
			if s := tokenScore(x, y); s > best {
				best, bestIdx = s, j
			}
		}
		if bestIdx >= 0 {
			used[bestIdx] = true
			matched += best
			pairs++
		}
	}
	union := len(dedupe(ta)) + len(dedupe(tb)) - pairs
	if union == 0 {
		return 0
	}
	return matched / float64(union)
}

func tokenScore(x, y string) float64 {
	if x == y {
		return 1
	}
	rx, ry := []rune(x), []rune(y)
	if len(rx) < typoMinRunes || len(ry) < typoMinRunes {
		return 0
	}
	if strings.IndexFunc(x, unicode.IsDigit) >= 0 || strings.IndexFunc(y, unicode.IsDigit) >= 0 {
		return 0
	}
	if levenshtein(rx, ry) <= 1 {
		return 0.8
	}
	return 0
}

func dedupe(tokens []string) []string {
	seen := make(map[string]bool, len(tokens))
	out := tokens[:0:0]
	for _, t := range tokens {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}

func levenshtein(a, b []rune) int {
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		cur[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			cur[j] = min(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}
