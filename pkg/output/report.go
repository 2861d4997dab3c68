package output

import (
	"context"
	"io"

	"github.com/gocarina/gocsv"
)

// One line of the unresolved-taxonomy report.
type UnresolvedRow struct {
	OTU      string `csv:"otu"`
	Query    string `csv:"query"`
	Attempts int    `csv:"attempts"`
	Reason   string `csv:"reason"`
	LookupID string `csv:"lookup_id"`
}

func WriteUnresolvedCSV(w io.Writer, rows []UnresolvedRow) error {
	if rows == nil {
		rows = []UnresolvedRow{}
	}
	return gocsv.Marshal(&rows, w)
}

// WriteUnresolvedReport writes the report to path atomically.
func WriteUnresolvedReport(ctx context.Context, path string, rows []UnresolvedRow) error {
	return writeAtomic(ctx, path, func(w io.Writer) error {
		return WriteUnresolvedCSV(w, rows)
	})
}
