package findings

import "strings"

// TokenSetSimilarity returns the Jaccard similarity of the two texts'
// lower-cased token sets, in [0,1]. Used for optional fuzzy dedup when
// the oracle rephrases an existing finding.
func TokenSetSimilarity(a, b string) float64 {
	setA := tokenSet(a)
	setB := tokenSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}

	intersection := 0
	for tok := range setA {
		if setB[tok] {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	return float64(intersection) / float64(union)
}

func tokenSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, tok := range strings.Fields(strings.ToLower(s)) {
		tok = strings.Trim(tok, `.,;:!?"'()[]{}`)
		if tok != "" {
			set[tok] = true
		}
	}
	return set
}
