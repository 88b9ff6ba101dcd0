package parser

import (
	"context"
	"fmt"
	"io"

	"github.com/stepdash/backend/internal/models"
	"github.com/xuri/excelize/v2"
)

// XLSXParser reads the first sheet of an Office Open XML workbook. The first
// row is the header; blank rows are skipped and empty cells are left out of
// the row.
type XLSXParser struct{}

func NewXLSXParser() *XLSXParser {
	return &XLSXParser{}
}

func (p *XLSXParser) Name() string {
	return "xlsx"
}

func (p *XLSXParser) CanParse(fileName string) bool {
	return hasExt(fileName, ".xlsx", ".xlsm")
}

func (p *XLSXParser) Parse(ctx context.Context, r io.Reader) (*models.Table, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return models.NewTable(nil), nil
	}

	rows, err := f.Rows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %s: %w", sheets[0], err)
	}
	defer rows.Close()

	var table *models.Table
	interned := newCellIntern()
	for rows.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		cells, err := rows.Columns()
		if err != nil {
			return nil, fmt.Errorf("failed to read row: %w", err)
		}
		if table == nil {
			table = models.NewTable(normalizeHeaders(cells))
			continue
		}

		row := make(models.Row, len(cells))
		for i, raw := range cells {
			if i >= len(table.Columns) || raw == "" {
				continue
			}
			row[table.Columns[i]] = interned.cell(raw)
		}
		if len(row) == 0 {
			continue
		}
		table.Rows = append(table.Rows, row)
	}
	if err := rows.Error(); err != nil {
		return nil, fmt.Errorf("failed to iterate sheet: %w", err)
	}

	if table == nil {
		return models.NewTable(nil), nil
	}
	return table, nil
}

// LegacyExcelParser claims .xls files so they fail with a clear message
// instead of "unsupported file type".
type LegacyExcelParser struct{}

func NewLegacyExcelParser() *LegacyExcelParser {
	return &LegacyExcelParser{}
}

func (p *LegacyExcelParser) Name() string {
	return "xls"
}

func (p *LegacyExcelParser) CanParse(fileName string) bool {
	return hasExt(fileName, ".xls")
}

func (p *LegacyExcelParser) Parse(context.Context, io.Reader) (*models.Table, error) {
	return nil, ErrLegacyExcel
}
