package normalize

import (
	"github.com/antzucaro/matchr"

	"github.com/roledraft/roledraft/internal/schema"
)

// defaultSuggestionThreshold is the minimum Jaro-Winkler similarity for an
// unknown field name to earn a "did you mean" suggestion. Below this the
// name is assumed to be genuinely foreign rather than a drifted alias.
const defaultSuggestionThreshold = 0.80

// nearestKey finds the canonical key (or alias) most similar to name using
// Jaro-Winkler similarity on folded names. Returns ok=false when no
// candidate reaches the configured threshold.
func (n *Normalizer) nearestKey(name string) (key string, score float64, ok bool) {
	folded := schema.Fold(name)
	if folded == "" {
		return "", 0, false
	}

	best := ""
	bestScore := 0.0
	for _, candidate := range n.schema.Keys() {
		s := matchr.JaroWinkler(folded, schema.Fold(candidate), true)
		if s > bestScore {
			best, bestScore = candidate, s
		}
	}

	if bestScore < n.suggestThreshold {
		return "", 0, false
	}
	return best, bestScore, true
}
