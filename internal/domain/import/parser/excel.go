package parser

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

// DecodeWorkbook decodes an XLSX workbook into the same Document shape as
// ParseDocument. Only the first sheet is read; cell values arrive as the
// strings excelize renders, so the downstream pipeline treats them exactly
// like CSV cells.
func DecodeWorkbook(data []byte) (*Document, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("workbook has no sheets")
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %s: %w", sheets[0], err)
	}

	doc := &Document{}
	rowNumber := 0
	for _, cells := range rows {
		if isBlankRow(cells) {
			continue
		}

		trimmed := make([]string, len(cells))
		for i, c := range cells {
			trimmed[i] = strings.TrimSpace(c)
		}

		if doc.Headers == nil {
			doc.Headers = trimmed
			continue
		}

		rowNumber++
		doc.Rows = append(doc.Rows, Row{Number: rowNumber, Cells: trimmed})
	}

	if doc.Headers == nil {
		return nil, fmt.Errorf("workbook has no header row")
	}

	return doc, nil
}

func isBlankRow(cells []string) bool {
	for _, c := range cells {
		if c != "" {
			return false
		}
	}
	return true
}
