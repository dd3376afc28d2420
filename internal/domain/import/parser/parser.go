// Package parser turns uploaded statement text into rows of string cells.
// CSV text is split with a quote-aware line splitter; spreadsheet binaries are
// decoded through excelize into the same row-of-strings shape.
package parser

import (
	"fmt"
	"strings"
)

// Document is a parsed delimited file: one header row plus data rows.
type Document struct {
	Headers []string
	Rows    []Row
}

// Row is one data line of a Document. Number is 1-based and stable for the
// lifetime of the import job.
type Row struct {
	Number int
	Cells  []string
}

// SplitLine splits one line of text into cells. A comma separates fields
// unless it appears inside a double-quote-delimited span; a double quote
// toggles the in-quotes state. Cells are whitespace-trimmed and fully-quoted
// cells have their surrounding quotes stripped. Malformed quoting degenerates
// to best-effort splitting; there is no error condition.
func SplitLine(line string) []string {
	var cells []string
	var cell strings.Builder
	inQuotes := false

	for _, r := range line {
		switch {
		case r == '"':
			inQuotes = !inQuotes
			cell.WriteRune(r)
		case r == ',' && !inQuotes:
			cells = append(cells, cleanCell(cell.String()))
			cell.Reset()
		default:
			cell.WriteRune(r)
		}
	}
	cells = append(cells, cleanCell(cell.String()))

	return cells
}

func cleanCell(raw string) string {
	cell := strings.TrimSpace(raw)
	if len(cell) >= 2 && strings.HasPrefix(cell, `"`) && strings.HasSuffix(cell, `"`) {
		cell = cell[1 : len(cell)-1]
	}
	return cell
}

// ParseDocument splits a raw text block into a header row and data rows.
// Lines are '\n'-delimited; a trailing '\r' is dropped. Blank lines are
// ignored and do not consume a row number.
func ParseDocument(text string) (*Document, error) {
	lines := strings.Split(text, "\n")

	doc := &Document{}
	rowNumber := 0
	for _, line := range lines {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}

		cells := SplitLine(line)
		if doc.Headers == nil {
			doc.Headers = cells
			continue
		}

		rowNumber++
		doc.Rows = append(doc.Rows, Row{Number: rowNumber, Cells: cells})
	}

	if doc.Headers == nil {
		return nil, fmt.Errorf("file has no header row")
	}

	return doc, nil
}

// CellAt returns the cell at index idx, or "" when the row is short.
func (r Row) CellAt(idx int) string {
	if idx < 0 || idx >= len(r.Cells) {
		return ""
	}
	return r.Cells[idx]
}
