package model

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/csimplestring/go-csv/detector"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Accepted delimiters, strongest first. The order settles ties.
var delimiterPriority = []rune{',', '\t', ';'}

// DetermineDelimiter returns the most likely delimiter of a CSV-like input.
// Only comma, tab and semicolon are accepted; when several are consistent the
// first in delimiterPriority wins. When the detector has no usable answer the
// header line decides, and comma wins ties.
func DetermineDelimiter(raw []byte) rune {
	d := detector.New()
	candidates := make(map[rune]bool)
	for _, c := range d.DetectDelimiter(bytes.NewReader(raw), '"') {
		if c != "" {
			candidates[rune(c[0])] = true
		}
	}
	for _, c := range delimiterPriority {
		if candidates[c] {
			return c
		}
	}

	first := raw
	if i := bytes.IndexByte(raw, '\n'); i >= 0 {
		first = raw[:i]
	}
	best, bestCount := ',', bytes.Count(first, []byte{','})
	for _, c := range delimiterPriority[1:] {
		if n := bytes.Count(first, []byte(string(c))); n > bestCount {
			best, bestCount = c, n
		}
	}
	return best
}

// ReadTable parses and validates an abundance table. The first column must be
// "OTU", exactly one column must be "control", every other column is a site.
func ReadTable(r io.Reader) (*AbundanceTable, error) {

	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}
	raw = bytes.TrimPrefix(raw, utf8BOM)

	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, &SchemaError{Msg: "input is empty, a header row is required"}
	}

	delim := DetermineDelimiter(raw)

	reader := csv.NewReader(bytes.NewReader(raw))
	reader.Comma = delim

	header, err := reader.Read()
	if err != nil {
		return nil, csvError(err)
	}

	controlIdx, sites, err := validateHeader(header)
	if err != nil {
		return nil, err
	}

	table := &AbundanceTable{Sites: sites}
	firstSeen := make(map[string]int)

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, csvError(err)
		}
		line, _ := reader.FieldPos(0)

		otu_id := strings.TrimSpace(record[0])
		if otu_id == "" {
			return nil, &FormatError{Row: line, Column: OTU_COLUMN, Value: record[0], Msg: "empty OTU identifier"}
		}
		if prev, dup := firstSeen[otu_id]; dup {
			return nil, &SchemaError{Msg: fmt.Sprintf("OTU %q appears on line %d and line %d", otu_id, prev, line)}
		}
		firstSeen[otu_id] = line

		rec := &OtuRecord{
			OtuID:      otu_id,
			SiteCounts: make(map[string]float64, len(sites)),
		}

		for i := 1; i < len(record); i++ {
			v, perr := parseAbundance(record[i])
			if perr != nil {
				return nil, &FormatError{Row: line, Column: header[i], Value: record[i], Msg: perr.Error()}
			}
			if i == controlIdx {
				rec.ControlCount = v
			} else {
				rec.SiteCounts[header[i]] = v
			}
		}

		table.Rows = append(table.Rows, rec)
	}

	return table, nil
}

// validateHeader returns the control column index and the site names in order.
func validateHeader(header []string) (int, []string, error) {

	if strings.TrimSpace(header[0]) != OTU_COLUMN {
		return -1, nil, &SchemaError{Msg: fmt.Sprintf("first column must be %q, got %q", OTU_COLUMN, header[0])}
	}

	controlIdx := -1
	seen := map[string]int{header[0]: 0}
	var sites []string

	for i := 1; i < len(header); i++ {
		name := strings.TrimSpace(header[i])
		header[i] = name

		switch {
		case name == "":
			return -1, nil, &SchemaError{Msg: fmt.Sprintf("column %d has an empty header", i+1)}
		case name == OTU_COLUMN:
			return -1, nil, &SchemaError{Msg: fmt.Sprintf("duplicate %q column at position %d", OTU_COLUMN, i+1)}
		case name == CONTROL_COLUMN:
			if controlIdx >= 0 {
				return -1, nil, &SchemaError{Msg: fmt.Sprintf("duplicate %q column at position %d", CONTROL_COLUMN, i+1)}
			}
			controlIdx = i
		default:
			if prev, dup := seen[name]; dup {
				return -1, nil, &SchemaError{Msg: fmt.Sprintf("site column %q appears at positions %d and %d", name, prev+1, i+1)}
			}
			sites = append(sites, name)
		}
		seen[name] = i
	}

	if controlIdx < 0 {
		return -1, nil, &SchemaError{Msg: fmt.Sprintf("no %q column found", CONTROL_COLUMN)}
	}

	return controlIdx, sites, nil
}

func parseAbundance(cell string) (float64, error) {
	s := strings.TrimSpace(cell)
	if s == "" {
		return 0, errors.New("empty abundance")
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, errors.New("not a number")
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, errors.New("not a finite number")
	}
	if v < 0 {
		return 0, errors.New("negative abundance")
	}
	return v, nil
}

// csvError turns reader failures (ragged rows, stray quotes) into FormatErrors.
func csvError(err error) error {
	var pe *csv.ParseError
	if errors.As(err, &pe) {
		return &FormatError{Row: pe.Line, Msg: pe.Err.Error()}
	}
	return fmt.Errorf("read input: %w", err)
}
