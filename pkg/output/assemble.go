package output

import (
	"github.com/yumyai/process-otu-data/pkg/model"
)

// Assemble joins proportions with lineages by OTU identifier. Rows follow the
// order of props (the input row order) and proportions follow siteOrder. An OTU
// without a lineage gets an unknown one.
func Assemble(props []model.OutputProportions, lineages []model.Lineage, siteOrder []string) []model.OutputRow {

	byOTU := make(map[string]model.Lineage, len(lineages))
	for _, l := range lineages {
		byOTU[l.OtuID] = l
	}

	rows := make([]model.OutputRow, 0, len(props))
	for _, p := range props {
		lineage, ok := byOTU[p.OtuID]
		if !ok {
			lineage = model.UnknownLineage(p.OtuID)
		}

		values := make([]float64, len(siteOrder))
		for i, site := range siteOrder {
			values[i] = p.Proportions[site]
		}

		rows = append(rows, model.OutputRow{
			OtuID:       p.OtuID,
			Ranks:       lineage.Names,
			Proportions: values,
		})
	}

	return rows
}
