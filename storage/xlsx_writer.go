package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/xuri/excelize/v2"
)

const defaultSheet = "Sheet1"

// XLSXWriter collects summaries into one workbook, one sheet per view. The
// file is saved on Close.
type XLSXWriter struct {
	path   string
	file   *excelize.File
	header int
	sheets int
}

// NewXLSXWriter prepares an empty workbook that will be saved at path.
func NewXLSXWriter(path string) (*XLSXWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("xlsx: create output dir: %w", err)
	}

	f := excelize.NewFile()
	style, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"#DDEBF7"}},
	})
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("xlsx: header style: %w", err)
	}
	return &XLSXWriter{path: path, file: f, header: style}, nil
}

// Write adds a sheet per summary named after its view.
func (x *XLSXWriter) Write(summaries []Summary) error {
	for _, s := range summaries {
		if err := x.writeSheet(s); err != nil {
			return fmt.Errorf("xlsx: %s: %w", s.View, err)
		}
	}
	return nil
}

func (x *XLSXWriter) writeSheet(s Summary) error {
	name := sheetName(s.View)
	idx, err := x.file.NewSheet(name)
	if err != nil {
		return err
	}
	if x.sheets == 0 {
		x.file.SetActiveSheet(idx)
	}
	x.sheets++

	header := s.Table.Header()
	if err := x.file.SetSheetRow(name, "A1", &header); err != nil {
		return err
	}
	last, err := excelize.CoordinatesToCellName(len(header), 1)
	if err != nil {
		return err
	}
	if err := x.file.SetCellStyle(name, "A1", last, x.header); err != nil {
		return err
	}

	for i, rec := range s.Table.Records() {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		row := make([]any, len(rec))
		for j, v := range rec {
			row[j] = cellValue(v)
		}
		if err := x.file.SetSheetRow(name, cell, &row); err != nil {
			return err
		}
	}

	lastCol, _ := excelize.ColumnNumberToName(len(header))
	return x.file.SetColWidth(name, "A", lastCol, 24)
}

// Close saves the workbook.
func (x *XLSXWriter) Close() error {
	defer x.file.Close()
	if x.sheets > 0 {
		if err := x.file.DeleteSheet(defaultSheet); err != nil {
			return fmt.Errorf("xlsx: drop default sheet: %w", err)
		}
	}
	if err := x.file.SaveAs(x.path); err != nil {
		return fmt.Errorf("xlsx: save %q: %w", x.path, err)
	}
	return nil
}

// cellValue stores numeric text as a number so spreadsheet formulas work.
func cellValue(v string) any {
	if v == "" {
		return nil
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return f
	}
	return v
}

// sheetName trims to the 31-character limit spreadsheets impose.
func sheetName(view string) string {
	if len(view) > 31 {
		return view[:31]
	}
	return view
}
