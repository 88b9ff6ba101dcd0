package datastore

import (
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/stepdash/backend/internal/models"
)

// ValueTypeMixed marks a column whose non-empty cells have different types.
const ValueTypeMixed models.ValueType = "mixed"

// ColumnSummary describes one column of the active dataset.
type ColumnSummary struct {
	Name     string           `json:"name"`
	NonEmpty int              `json:"nonEmpty"`
	Type     models.ValueType `json:"type"`
}

// Summary is the table summary step's view of a file.
type Summary struct {
	File            models.FileRecord `json:"file"`
	HumanSize       string            `json:"humanSize"`
	RowCount        int               `json:"rowCount"`
	HeaderCount     int               `json:"headerCount"`
	Columns         []ColumnSummary   `json:"columns"`
	EmptyFieldCount int               `json:"emptyFieldCount"`
	EmptyPercentage string            `json:"emptyPercentage"`
}

// isEmpty reports whether a cell counts as empty for the summary: absent,
// null, or a string that is blank after trimming.
func isEmpty(v any, present bool) bool {
	if !present || v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && strings.TrimSpace(s) == ""
}

// Summarize computes the summary of a file's rows.
func Summarize(rec models.FileRecord, t *models.Table) Summary {
	sum := Summary{
		File:            rec,
		HumanSize:       humanize.Bytes(uint64(max(rec.SizeBytes, 0))),
		EmptyPercentage: "0",
		Columns:         []ColumnSummary{},
	}
	if t == nil {
		return sum
	}

	sum.RowCount = len(t.Rows)
	sum.HeaderCount = len(t.Columns)

	for _, col := range t.Columns {
		cs := ColumnSummary{Name: col, Type: models.ValueTypeNull}
		for _, row := range t.Rows {
			v, ok := row[col]
			if isEmpty(v, ok) {
				sum.EmptyFieldCount++
				continue
			}
			cs.NonEmpty++
			vt := models.TypeOf(v)
			switch {
			case cs.Type == models.ValueTypeNull:
				cs.Type = vt
			case cs.Type != vt:
				cs.Type = ValueTypeMixed
			}
		}
		sum.Columns = append(sum.Columns, cs)
	}

	if total := sum.RowCount * sum.HeaderCount; total > 0 {
		pct := float64(sum.EmptyFieldCount) / float64(total) * 100
		sum.EmptyPercentage = strconv.FormatFloat(pct, 'f', 1, 64)
	}
	return sum
}
