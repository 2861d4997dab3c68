package model

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// ErrInvalidPruningValue is wrapped by every rejected pruning value.
var ErrInvalidPruningValue = errors.New("pruning value must be a finite number >= 0")

// CheckPruningValue rejects NaN, infinite and negative pruning values.
func CheckPruningValue(v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return fmt.Errorf("%w: got %v", ErrInvalidPruningValue, v)
	}
	return nil
}

// Prune zeroes every site count below pruningValue * control. A count equal to
// the threshold survives. With a zero control the threshold is 0, so nothing
// is pruned.
func Prune(rec *OtuRecord, sites []string, pruningValue float64) PrunedRecord {

	threshold := pruningValue * rec.ControlCount

	adjusted := make(map[string]float64, len(sites))
	for _, site := range sites {
		count := rec.SiteCounts[site]
		if count < threshold {
			adjusted[site] = 0
		} else {
			adjusted[site] = count
		}
	}

	return PrunedRecord{OtuID: rec.OtuID, AdjustedCounts: adjusted}
}

// Normalize converts adjusted counts into within-site proportions. A site
// whose adjusted counts sum to zero gets proportion 0 for every OTU.
func Normalize(pruned []PrunedRecord, sites []string) []OutputProportions {

	sums := make(map[string]float64, len(sites))
	column := make([]float64, len(pruned))
	for _, site := range sites {
		for i := range pruned {
			column[i] = pruned[i].AdjustedCounts[site]
		}
		sums[site] = floats.Sum(column)
	}

	out := make([]OutputProportions, 0, len(pruned))
	for _, p := range pruned {
		props := make(map[string]float64, len(sites))
		for _, site := range sites {
			total := sums[site]
			if total == 0 {
				props[site] = 0
				continue
			}
			props[site] = p.AdjustedCounts[site] / total
		}
		out = append(out, OutputProportions{OtuID: p.OtuID, Proportions: props})
	}

	return out
}

// PruneAndNormalize runs pruning and normalization over a whole table. The
// result has one entry per input row, in input order.
func PruneAndNormalize(table *AbundanceTable, pruningValue float64) ([]OutputProportions, error) {

	if err := CheckPruningValue(pruningValue); err != nil {
		return nil, err
	}

	pruned := make([]PrunedRecord, 0, len(table.Rows))
	for _, rec := range table.Rows {
		pruned = append(pruned, Prune(rec, table.Sites, pruningValue))
	}

	return Normalize(pruned, table.Sites), nil
}
