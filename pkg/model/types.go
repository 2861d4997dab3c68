package model

// One input row. Never mutated after parsing.
type OtuRecord struct {
	OtuID        string
	ControlCount float64
	SiteCounts   map[string]float64
}

// Parsed input table. Rows keep the file order, Sites keep the column order
// (control excluded).
type AbundanceTable struct {
	Rows  []*OtuRecord
	Sites []string
}

// OtuIDs returns the identifiers in input row order.
func (t *AbundanceTable) OtuIDs() []string {
	ids := make([]string, 0, len(t.Rows))
	for _, r := range t.Rows {
		ids = append(ids, r.OtuID)
	}
	return ids
}

// PrunedRecord holds site counts after contamination pruning: either the
// original count or 0.
type PrunedRecord struct {
	OtuID          string
	AdjustedCounts map[string]float64
}

// OutputProportions is a PrunedRecord normalized within each site.
type OutputProportions struct {
	OtuID       string
	Proportions map[string]float64
}

// Lineage is the resolved taxonomy of one OTU. Names is indexed like RANKS and
// is an array, so copies never share storage.
type Lineage struct {
	OtuID       string
	Names       [NumRanks]string
	OttID       int64  // 0 when unresolved
	MatchedName string // name the service actually matched (may be a truncated query)
	Resolved    bool
}

// UnknownLineage returns a lineage with every rank set to UNKNOWN_TAXON.
func UnknownLineage(otuID string) Lineage {
	l := Lineage{OtuID: otuID}
	for i := range l.Names {
		l.Names[i] = UNKNOWN_TAXON
	}
	return l
}

func (l Lineage) Name(r Rank) string {
	i := RankIndex(string(r))
	if i < 0 {
		return UNKNOWN_TAXON
	}
	return l.Names[i]
}

// One assembled row: rank names followed by one proportion per site.
type OutputRow struct {
	OtuID       string
	Ranks       [NumRanks]string
	Proportions []float64
}
