package observe

import (
	"strings"
	"unicode"
)

// SimilarityThreshold is the word-overlap ratio above which two texts are
// considered the same finding.
const SimilarityThreshold = 0.70

// Similar reports whether b repeats a. Texts are similar when their
// alphanumeric-only lowercase forms match, or when the words longer than
// three characters they share make up more than SimilarityThreshold of the
// larger word set.
func Similar(a, b string) bool {
	na, nb := normalize(a), normalize(b)
	if na == nb {
		return true
	}
	wa, wb := words(a), words(b)
	if len(wa) == 0 || len(wb) == 0 {
		return false
	}
	shared := 0
	for w := range wa {
		if _, ok := wb[w]; ok {
			shared++
		}
	}
	larger := max(len(wa), len(wb))
	return float64(shared)/float64(larger) > SimilarityThreshold
}

func normalize(s string) string {
	var sb strings.Builder
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

func tokenize(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func words(s string) map[string]struct{} {
	fields := tokenize(strings.ToLower(s))
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		if len([]rune(f)) > 3 {
			set[f] = struct{}{}
		}
	}
	return set
}
