package excel

import (
	"fmt"
	"os"
	"strings"

	"github.com/xuri/excelize/v2"
)

// Table is one sheet read back as strings
type Table struct {
	Sheet   string
	Headers []string
	Rows    [][]string
}

// Column returns the values under header, or false when absent
func (t *Table) Column(header string) ([]string, bool) {
	idx := -1
	for i, h := range t.Headers {
		if h == header {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, false
	}
	out := make([]string, len(t.Rows))
	for i, row := range t.Rows {
		if idx < len(row) {
			out[i] = row[idx]
		}
	}
	return out, true
}

// Sheets lists the sheet names of the workbook at path
func Sheets(path string) ([]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()
	return f.GetSheetList(), nil
}

// ReadTable reads a sheet whose first row is a header
func ReadTable(path, sheet string) (*Table, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("workbook not found: %s", path)
	}
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()

	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %s: %w", sheet, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("sheet %s has no header row", sheet)
	}

	t := &Table{Sheet: sheet, Headers: make([]string, len(rows[0]))}
	for i, h := range rows[0] {
		t.Headers[i] = strings.TrimSpace(h)
	}
	for _, row := range rows[1:] {
		cells := make([]string, len(t.Headers))
		for j, cell := range row {
			if j < len(cells) {
				cells[j] = strings.TrimSpace(cell)
			}
		}
		t.Rows = append(t.Rows, cells)
	}
	return t, nil
}
