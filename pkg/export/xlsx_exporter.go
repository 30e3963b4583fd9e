package export

import (
	"bytes"
	"fmt"

	"github.com/xuri/excelize/v2"
)

// XLSXExporter renders datasets and flattened form documents into Excel files.
type XLSXExporter struct{}

// NewXLSXExporter builds an Excel exporter.
func NewXLSXExporter() *XLSXExporter {
	return &XLSXExporter{}
}

// Render writes the dataset into a single-sheet workbook.
func (e *XLSXExporter) Render(data Dataset, sheet string) ([]byte, error) {
	if len(data.Headers) == 0 {
		return nil, fmt.Errorf("xlsx requires at least one header")
	}
	if sheet == "" {
		sheet = "Sheet1"
	}

	f := excelize.NewFile()
	defer f.Close() //nolint:errcheck
	index, err := f.NewSheet(sheet)
	if err != nil {
		return nil, fmt.Errorf("create sheet: %w", err)
	}
	f.SetActiveSheet(index)
	if sheet != "Sheet1" {
		_ = f.DeleteSheet("Sheet1")
	}

	headerRow := make([]interface{}, len(data.Headers))
	for i, header := range data.Headers {
		headerRow[i] = header
	}
	if err := f.SetSheetRow(sheet, "A1", &headerRow); err != nil {
		return nil, fmt.Errorf("write xlsx headers: %w", err)
	}

	for i, row := range data.Rows {
		record := make([]interface{}, len(data.Headers))
		for j, header := range data.Headers {
			record[j] = row[header]
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, fmt.Errorf("resolve xlsx cell: %w", err)
		}
		if err := f.SetSheetRow(sheet, cell, &record); err != nil {
			return nil, fmt.Errorf("write xlsx row: %w", err)
		}
	}

	return e.output(f)
}

// RenderDocument writes a section-grouped form document as stacked label/value
// rows, one sheet for the whole document.
func (e *XLSXExporter) RenderDocument(doc Document) ([]byte, error) {
	sheet := "Sheet1"
	f := excelize.NewFile()
	defer f.Close() //nolint:errcheck

	rowNum := 1
	writeRow := func(values ...interface{}) error {
		cell, err := excelize.CoordinatesToCellName(1, rowNum)
		if err != nil {
			return err
		}
		rowNum++
		return f.SetSheetRow(sheet, cell, &values)
	}

	if doc.Title != "" {
		if err := writeRow(doc.Title); err != nil {
			return nil, fmt.Errorf("write xlsx title: %w", err)
		}
	}
	if doc.Subtitle != "" {
		if err := writeRow(doc.Subtitle); err != nil {
			return nil, fmt.Errorf("write xlsx subtitle: %w", err)
		}
	}

	for _, section := range doc.Sections {
		rowNum++
		if section.Title != "" {
			if err := writeRow(section.Title); err != nil {
				return nil, fmt.Errorf("write xlsx section: %w", err)
			}
		}
		for _, item := range section.Items {
			if err := writeRow(item.Label, item.Value); err != nil {
				return nil, fmt.Errorf("write xlsx item: %w", err)
			}
		}
		for _, table := range section.Tables {
			if table.Label != "" {
				if err := writeRow(table.Label); err != nil {
					return nil, fmt.Errorf("write xlsx table label: %w", err)
				}
			}
			headers := make([]interface{}, len(table.Headers))
			for i, header := range table.Headers {
				headers[i] = header
			}
			if err := writeRow(headers...); err != nil {
				return nil, fmt.Errorf("write xlsx table headers: %w", err)
			}
			for _, row := range table.Rows {
				cells := make([]interface{}, len(row))
				for i, cell := range row {
					cells[i] = cell
				}
				if err := writeRow(cells...); err != nil {
					return nil, fmt.Errorf("write xlsx table row: %w", err)
				}
			}
		}
	}

	return e.output(f)
}

func (e *XLSXExporter) output(f *excelize.File) ([]byte, error) {
	buf := &bytes.Buffer{}
	if err := f.Write(buf); err != nil {
		return nil, fmt.Errorf("render xlsx: %w", err)
	}
	return buf.Bytes(), nil
}
