package taxonomy

import "sort"

// OTT flags that mark a taxon as not currently usable.
var deprecatedFlags = map[string]bool{
	"barren":           true,
	"environmental":    true,
	"hidden":           true,
	"hidden_inherited": true,
	"merged":           true,
	"not_otu":          true,
	"suppressed":       true,
}

func isDeprecated(t Taxon) bool {
	if t.IsSuppressed {
		return true
	}
	for _, f := range t.Flags {
		if deprecatedFlags[f] {
			return true
		}
	}
	return false
}

// ChooseMatch picks one TNRS candidate. Candidates are ranked by, in order:
// exact before approximate, accepted name before synonym, usable taxon before
// deprecated, higher score. Remaining ties keep the service's own order.
func ChooseMatch(matches []Match) (Match, bool) {

	if len(matches) == 0 {
		return Match{}, false
	}

	ranked := make([]Match, len(matches))
	copy(ranked, matches)

	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.IsApproximateMatch != b.IsApproximateMatch {
			return !a.IsApproximateMatch
		}
		if a.IsSynonym != b.IsSynonym {
			return !a.IsSynonym
		}
		if da, db := isDeprecated(a.Taxon), isDeprecated(b.Taxon); da != db {
			return !da
		}
		return a.Score > b.Score
	})

	return ranked[0], true
}
