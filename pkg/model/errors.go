package model

import "fmt"

// SchemaError: the table is missing required columns, has duplicated
// required columns or repeats an OTU identifier.
type SchemaError struct {
	Msg string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("schema error: %s", e.Msg)
}

// FormatError points at a cell that is not a valid abundance. Row is the
// 1-based line number in the input file (the header is line 1).
type FormatError struct {
	Row    int
	Column string
	Value  string
	Msg    string
}

func (e *FormatError) Error() string {
	if e.Column == "" {
		return fmt.Sprintf("format error at line %d: %s", e.Row, e.Msg)
	}
	return fmt.Sprintf("format error at line %d, column %q: %s (value %q)", e.Row, e.Column, e.Msg, e.Value)
}
