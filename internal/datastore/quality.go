package datastore

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/stepdash/backend/internal/models"
)

// ErrUnknownOperation is returned for cleaning operation ids that do not exist.
var ErrUnknownOperation = errors.New("unknown cleaning operation")

// Operation is one cleaning step of the data processor.
type Operation string

const (
	OpRemoveMissing    Operation = "remove-missing"
	OpRemoveDuplicates Operation = "remove-duplicates"
	OpTrimWhitespace   Operation = "trim-whitespace"
)

// operationOrder is the order operations run in, whatever order they were requested in.
var operationOrder = []Operation{OpRemoveMissing, OpRemoveDuplicates, OpTrimWhitespace}

// ParseOperations validates operation ids and drops duplicates.
func ParseOperations(ids []string) ([]Operation, error) {
	seen := make(map[Operation]bool, len(ids))
	var ops []Operation
	for _, id := range ids {
		op := Operation(id)
		switch op {
		case OpRemoveMissing, OpRemoveDuplicates, OpTrimWhitespace:
		default:
			return nil, fmt.Errorf("%w: %q", ErrUnknownOperation, id)
		}
		if !seen[op] {
			seen[op] = true
			ops = append(ops, op)
		}
	}
	return ops, nil
}

// QualityMetrics are the data processor's statistics for a table.
type QualityMetrics struct {
	TotalRows            int      `json:"totalRows"`
	Headers              []string `json:"headers"`
	RowsWithMissing      int      `json:"rowsWithMissing"`
	DuplicateRows        int      `json:"duplicateRows"`
	FieldsWithWhitespace int      `json:"fieldsWithWhitespace"`
}

// CleanReport describes what a cleaning pass changed.
type CleanReport struct {
	Operations        []Operation `json:"operations"`
	RowsBefore        int         `json:"rowsBefore"`
	RowsAfter         int         `json:"rowsAfter"`
	RemovedMissing    int         `json:"removedMissing"`
	RemovedDuplicates int         `json:"removedDuplicates"`
	TrimmedFields     int         `json:"trimmedFields"`
}

// hasMissing reports whether any column is absent, null or the empty string.
// Whitespace-only strings are not missing here; trimming handles them.
func hasMissing(row models.Row, columns []string) bool {
	for _, col := range columns {
		v, ok := row[col]
		if !ok || v == nil || v == "" {
			return true
		}
	}
	return false
}

// rowKey is the canonical JSON of a row. encoding/json sorts map keys, so
// rows with equal cells produce equal keys.
func rowKey(row models.Row) string {
	b, err := json.Marshal(row)
	if err != nil {
		return fmt.Sprintf("%v", map[string]any(row))
	}
	return string(b)
}

func needsTrim(v any) bool {
	s, ok := v.(string)
	return ok && s != strings.TrimSpace(s)
}

// Measure computes quality metrics for a table.
func Measure(t *models.Table) QualityMetrics {
	m := QualityMetrics{Headers: []string{}}
	if t == nil {
		return m
	}
	m.TotalRows = len(t.Rows)
	m.Headers = append(m.Headers, t.Columns...)

	seen := make(map[string]bool, len(t.Rows))
	for _, row := range t.Rows {
		if hasMissing(row, t.Columns) {
			m.RowsWithMissing++
		}
		key := rowKey(row)
		if seen[key] {
			m.DuplicateRows++
		} else {
			seen[key] = true
		}
		for _, v := range row {
			if needsTrim(v) {
				m.FieldsWithWhitespace++
			}
		}
	}
	return m
}

// Clean applies ops to a copy of t in the fixed order remove-missing,
// remove-duplicates, trim-whitespace.
func Clean(t *models.Table, ops []Operation) (*models.Table, CleanReport) {
	want := make(map[Operation]bool, len(ops))
	for _, op := range ops {
		want[op] = true
	}

	report := CleanReport{Operations: []Operation{}}
	if t == nil {
		return models.NewTable(nil), report
	}
	rows := t.Rows
	report.RowsBefore = len(rows)

	for _, op := range operationOrder {
		if !want[op] {
			continue
		}
		report.Operations = append(report.Operations, op)

		switch op {
		case OpRemoveMissing:
			kept := make([]models.Row, 0, len(rows))
			for _, row := range rows {
				if !hasMissing(row, t.Columns) {
					kept = append(kept, row)
				}
			}
			report.RemovedMissing = len(rows) - len(kept)
			rows = kept

		case OpRemoveDuplicates:
			seen := make(map[string]bool, len(rows))
			kept := make([]models.Row, 0, len(rows))
			for _, row := range rows {
				key := rowKey(row)
				if seen[key] {
					continue
				}
				seen[key] = true
				kept = append(kept, row)
			}
			report.RemovedDuplicates = len(rows) - len(kept)
			rows = kept

		case OpTrimWhitespace:
			trimmed := make([]models.Row, len(rows))
			for i, row := range rows {
				out := make(models.Row, len(row))
				for k, v := range row {
					if needsTrim(v) {
						v = strings.TrimSpace(v.(string))
						report.TrimmedFields++
					}
					out[k] = v
				}
				trimmed[i] = out
			}
			rows = trimmed
		}
	}

	out := models.NewTable(t.Columns)
	out.Rows = append(out.Rows, rows...)
	report.RowsAfter = len(out.Rows)
	return out, report
}
