package parser

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/stepdash/backend/internal/models"
)

// maxReportedErrors bounds the error list folded into one parse failure.
const maxReportedErrors = 10

// CSVParser reads comma separated files with a header row. Cells are typed
// dynamically and empty lines are skipped.
type CSVParser struct {
	comma rune
}

func NewCSVParser() *CSVParser {
	return &CSVParser{comma: ','}
}

func (p *CSVParser) Name() string {
	return "csv"
}

func (p *CSVParser) CanParse(fileName string) bool {
	return hasExt(fileName, ".csv")
}

func (p *CSVParser) Parse(ctx context.Context, r io.Reader) (*models.Table, error) {
	cr := csv.NewReader(r)
	cr.Comma = p.comma
	cr.LazyQuotes = true
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err == io.EOF {
		return models.NewTable(nil), nil
	}
	if err != nil {
		return nil, fmt.Errorf("CSV parsing errors: %w", err)
	}
	table := models.NewTable(normalizeHeaders(header))
	cells := newCellIntern()

	var problems []string
	line := 1
	for {
		if line%1000 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			var perr *csv.ParseError
			if !errors.As(err, &perr) || !errors.Is(perr.Err, csv.ErrFieldCount) {
				return nil, fmt.Errorf("CSV parsing errors: %w", err)
			}
			problems = append(problems, fieldCountMessage(perr.Line, len(table.Columns), len(record)))
			continue
		}

		row := make(models.Row, len(table.Columns))
		for i, col := range table.Columns {
			row[col] = cells.cell(record[i])
		}
		table.Rows = append(table.Rows, row)
	}

	if len(problems) > 0 {
		if len(problems) > maxReportedErrors {
			extra := len(problems) - maxReportedErrors
			problems = append(problems[:maxReportedErrors], fmt.Sprintf("and %d more", extra))
		}
		return nil, fmt.Errorf("CSV parsing errors: %s", strings.Join(problems, ", "))
	}
	return table, nil
}

func fieldCountMessage(line, want, got int) string {
	kind := "Too many fields"
	if got < want {
		kind = "Too few fields"
	}
	return fmt.Sprintf("%s: expected %d fields but parsed %d (line %d)", kind, want, got, line)
}
