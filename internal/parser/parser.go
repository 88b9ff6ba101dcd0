package parser

import (
	"context"
	"errors"
	"io"
	"strconv"
	"strings"

	"github.com/stepdash/backend/internal/models"
)

// Parser turns an uploaded file into a table of typed rows.
type Parser interface {
	// Name returns the unique name of the parser.
	Name() string
	// CanParse reports whether this parser handles files with the given name.
	CanParse(fileName string) bool
	// Parse reads the whole file and returns its rows.
	Parse(ctx context.Context, r io.Reader) (*models.Table, error)
}

var (
	// ErrUnsupportedFileType is returned when no parser accepts a file name.
	ErrUnsupportedFileType = errors.New("Unsupported file type. Please upload CSV or Excel files.")

	// ErrLegacyExcel is returned for binary .xls workbooks.
	ErrLegacyExcel = errors.New("legacy .xls workbooks are not supported, save the file as .xlsx")
)

var (
	boolTrue  = map[string]bool{"true": true, "TRUE": true, "True": true}
	boolFalse = map[string]bool{"false": true, "FALSE": true, "False": true}
)

// InferType guesses the ValueType of a raw cell.
func InferType(raw string) models.ValueType {
	s := strings.TrimSpace(raw)
	if raw == "" {
		return models.ValueTypeNull
	}
	if boolTrue[s] || boolFalse[s] {
		return models.ValueTypeBoolean
	}
	if isInteger(s) {
		return models.ValueTypeInteger
	}
	if isFloat(s) {
		return models.ValueTypeFloat
	}
	return models.ValueTypeString
}

// isInteger avoids strconv for the common non-numeric case.
func isInteger(s string) bool {
	if s == "" {
		return false
	}
	start := 0
	if s[0] == '+' || s[0] == '-' {
		start = 1
	}
	if start == len(s) {
		return false
	}
	for i := start; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	_, err := strconv.ParseInt(s, 10, 64)
	return err == nil
}

// isFloat accepts plain decimal and exponent notation but not Inf/NaN or hex.
func isFloat(s string) bool {
	digits := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9':
			digits = true
		case c == '.', c == 'e', c == 'E', c == '+', c == '-':
		default:
			return false
		}
	}
	if !digits {
		return false
	}
	_, err := strconv.ParseFloat(s, 64)
	return err == nil
}

// ParseValue converts a raw cell into the Go value for the given type.
// Whitespace is preserved for strings so cleaning can detect it.
func ParseValue(raw string, t models.ValueType) any {
	s := strings.TrimSpace(raw)
	switch t {
	case models.ValueTypeNull:
		return nil
	case models.ValueTypeBoolean:
		return boolTrue[s]
	case models.ValueTypeInteger:
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return raw
		}
		return v
	case models.ValueTypeFloat:
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return raw
		}
		return v
	default:
		return raw
	}
}

// Cell infers and converts a raw cell in one step.
func Cell(raw string) any {
	return ParseValue(raw, InferType(raw))
}

// normalizeHeaders strips a UTF-8 BOM and renames duplicate column names
// (name, name_1, name_2, ...).
func normalizeHeaders(header []string) []string {
	out := make([]string, len(header))
	seen := make(map[string]int, len(header))
	for i, h := range header {
		if i == 0 {
			h = strings.TrimPrefix(h, "\ufeff")
		}
		name := h
		if n, dup := seen[h]; dup {
			for {
				n++
				name = h + "_" + strconv.Itoa(n)
				if _, taken := seen[name]; !taken {
					break
				}
			}
			seen[h] = n
		}
		seen[name] = 0
		out[i] = name
	}
	return out
}
