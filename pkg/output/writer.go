package output

import (
	"bufio"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/yumyai/process-otu-data/internal/util"
	"github.com/yumyai/process-otu-data/pkg/model"
)

// WriteError means the output destination could not be written. Nothing is
// left at Path when it is returned.
type WriteError struct {
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write %s: %v", e.Path, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// FormatProportion renders a proportion with the fewest digits that round-trip.
func FormatProportion(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// WriteCSV writes the rank header, the site header and one line per row.
func WriteCSV(w io.Writer, rows []model.OutputRow, sites []string) error {

	cw := csv.NewWriter(w)

	header := append(model.RankHeader(), sites...)
	if err := cw.Write(header); err != nil {
		return err
	}

	record := make([]string, 0, model.NumRanks+len(sites))
	for _, row := range rows {
		record = record[:0]
		record = append(record, row.Ranks[:]...)
		for _, v := range row.Proportions {
			record = append(record, FormatProportion(v))
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}

// WriteFile writes the table to path atomically.
func WriteFile(ctx context.Context, path string, rows []model.OutputRow, sites []string) error {
	return writeAtomic(ctx, path, func(w io.Writer) error {
		return WriteCSV(w, rows, sites)
	})
}

// writeAtomic writes into a temp file next to path and renames it into place
// once everything is flushed. On failure or cancellation the temp file is
// removed and path is untouched.
func writeAtomic(ctx context.Context, path string, fill func(io.Writer) error) (err error) {

	dir := util.ParentDir(path)
	if !util.DirExists(dir) {
		return &WriteError{Path: path, Err: fmt.Errorf("directory %s does not exist", dir)}
	}
	if util.DirExists(path) {
		return &WriteError{Path: path, Err: fmt.Errorf("%s is a directory", path)}
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return &WriteError{Path: path, Err: err}
	}
	tmpName := tmp.Name()

	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmpName)
		}
	}()

	bw := bufio.NewWriter(tmp)
	if err = fill(bw); err != nil {
		return &WriteError{Path: path, Err: err}
	}
	if err = bw.Flush(); err != nil {
		return &WriteError{Path: path, Err: err}
	}
	if err = tmp.Sync(); err != nil {
		return &WriteError{Path: path, Err: err}
	}
	if err = tmp.Close(); err != nil {
		return &WriteError{Path: path, Err: err}
	}
	if err = ctx.Err(); err != nil {
		return err
	}
	if err = os.Chmod(tmpName, 0o644); err != nil {
		return &WriteError{Path: path, Err: err}
	}
	if err = os.Rename(tmpName, path); err != nil {
		return &WriteError{Path: path, Err: err}
	}
	return nil
}
