package model

// Rank is one taxonomic level of a Lineage.
type Rank string

const (
	RankDomain  Rank = "domain"
	RankKingdom Rank = "kingdom"
	RankPhylum  Rank = "phylum"
	RankClass   Rank = "class"
	RankOrder   Rank = "order"
	RankFamily  Rank = "family"
	RankGenus   Rank = "genus"
	RankSpecies Rank = "species"
)

// NumRanks is the number of rank columns in every output row.
const NumRanks = 8

// Canonical rank order. Output headers follow this order exactly.
var RANKS = [NumRanks]Rank{
	RankDomain,
	RankKingdom,
	RankPhylum,
	RankClass,
	RankOrder,
	RankFamily,
	RankGenus,
	RankSpecies,
}

const (
	// Required input headers (case-sensitive).
	OTU_COLUMN     = "OTU"
	CONTROL_COLUMN = "control"

	// Placeholder for ranks the resolver could not fill.
	UNKNOWN_TAXON = "unknown"

	DEFAULT_PRUNING_VALUE = 1.5
)

// RankIndex returns the column position of a rank name, or -1 when the rank is
// not one of the canonical output ranks (e.g. "subspecies", "no rank").
func RankIndex(name string) int {
	for i, r := range RANKS {
		if string(r) == name {
			return i
		}
	}
	return -1
}

// RankHeader returns the rank names in canonical order, for use as CSV headers.
func RankHeader() []string {
	header := make([]string, 0, NumRanks)
	for _, r := range RANKS {
		header = append(header, string(r))
	}
	return header
}
