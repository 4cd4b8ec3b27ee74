package excel

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"megstats/domain/cluster"
	"megstats/internal"
	apperrors "megstats/internal/errors"
	"megstats/ports"

	"github.com/xuri/excelize/v2"
)

// SummarySheet lists every significant cluster, one row each
const SummarySheet = "summary"

var summaryHeaders = []string{"cluster", "hemisphere", "n_vertices", "n_points", "time_start", "time_end", "p_value", "stat"}

// TimeCourseWriter writes one workbook per cluster result: a summary sheet
// plus one sheet per significant cluster holding a time column followed by
// every subject series and the condition mean.
type TimeCourseWriter struct {
	logger *internal.Logger
}

var _ ports.TimeCourseWriter = (*TimeCourseWriter)(nil)

// NewTimeCourseWriter creates a workbook writer
func NewTimeCourseWriter(logger *internal.Logger) *TimeCourseWriter {
	if logger == nil {
		logger = internal.DefaultLogger
	}
	return &TimeCourseWriter{logger: logger}
}

// ClusterSheet names the sheet of a cluster index
func ClusterSheet(idx int) string {
	return fmt.Sprintf("cluster%02d", idx)
}

// SeriesHeader names a subject column
func SeriesHeader(condition, subject string) string {
	return condition + ":" + subject
}

// WriteTimeCourses writes ex to path
func (w *TimeCourseWriter) WriteTimeCourses(ctx context.Context, path string, ex *cluster.Extraction) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SummarySheet); err != nil {
		return apperrors.StorageError(path, err)
	}
	rows := make([][]interface{}, 0, len(ex.Clusters))
	for _, c := range ex.Clusters {
		rows = append(rows, []interface{}{c.Index, string(c.Hemisphere), len(c.Vertices), c.Size, c.TimeStart, c.TimeEnd, c.PValue, c.Stat})
	}
	if err := writeTable(f, SummarySheet, summaryHeaders, rows); err != nil {
		return apperrors.StorageError(path, err)
	}

	for _, c := range ex.Clusters {
		sheet := ClusterSheet(c.Index)
		if _, err := f.NewSheet(sheet); err != nil {
			return apperrors.StorageError(path, err)
		}
		headers, rows := timeCourseTable(ex.Times, c)
		if err := writeTable(f, sheet, headers, rows); err != nil {
			return apperrors.StorageError(path, err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return apperrors.StorageError(path, err)
	}
	if err := f.SaveAs(path); err != nil {
		return apperrors.StorageError(path, err)
	}
	w.logger.Debug("wrote %d cluster sheets to %s", len(ex.Clusters), path)
	return nil
}

func timeCourseTable(times []float64, c cluster.Extract) ([]string, [][]interface{}) {
	headers := []string{"time"}
	var columns [][]float64
	for _, tc := range c.TimeCourses {
		for _, s := range tc.Series {
			headers = append(headers, SeriesHeader(string(tc.Condition), string(s.Subject)))
			columns = append(columns, s.Values)
		}
		headers = append(headers, SeriesHeader(string(tc.Condition), "mean"))
		columns = append(columns, tc.Mean())
	}

	rows := make([][]interface{}, len(times))
	for i, t := range times {
		row := make([]interface{}, 0, len(columns)+1)
		row = append(row, t)
		for _, col := range columns {
			if i < len(col) {
				row = append(row, col[i])
			} else {
				row = append(row, nil)
			}
		}
		rows[i] = row
	}
	return headers, rows
}

func writeTable(f *excelize.File, sheet string, headers []string, rows [][]interface{}) error {
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(sheet, cell, h); err != nil {
			return err
		}
	}
	for r, row := range rows {
		for c, v := range row {
			if v == nil {
				continue
			}
			cell, _ := excelize.CoordinatesToCellName(c+1, r+2)
			if err := f.SetCellValue(sheet, cell, v); err != nil {
				return err
			}
		}
	}
	return nil
}
