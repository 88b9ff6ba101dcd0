package parser

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stepdash/backend/internal/models"
)

func TestInferType(t *testing.T) {
	tests := []struct {
		raw  string
		want models.ValueType
	}{
		{"", models.ValueTypeNull},
		{"true", models.ValueTypeBoolean},
		{"FALSE", models.ValueTypeBoolean},
		{"True", models.ValueTypeBoolean},
		{"tRuE", models.ValueTypeString},
		{"42", models.ValueTypeInteger},
		{"-7", models.ValueTypeInteger},
		{" 12 ", models.ValueTypeInteger},
		{"3.14", models.ValueTypeFloat},
		{"1e5", models.ValueTypeFloat},
		{".5", models.ValueTypeFloat},
		{"-", models.ValueTypeString},
		{"1.2.3", models.ValueTypeString},
		{"NaN", models.ValueTypeString},
		{"Inf", models.ValueTypeString},
		{"0x1F", models.ValueTypeString},
		{"   ", models.ValueTypeString},
		{"hello", models.ValueTypeString},
	}

	for _, tt := range tests {
		if got := InferType(tt.raw); got != tt.want {
			t.Errorf("InferType(%q) = %s, want %s", tt.raw, got, tt.want)
		}
	}
}

func TestCell(t *testing.T) {
	tests := []struct {
		raw  string
		want any
	}{
		{"", nil},
		{"true", true},
		{"false", false},
		{"42", int64(42)},
		{"2.5", 2.5},
		{" padded ", " padded "},
		{"  ", "  "},
	}

	for _, tt := range tests {
		if got := Cell(tt.raw); got != tt.want {
			t.Errorf("Cell(%q) = %#v, want %#v", tt.raw, got, tt.want)
		}
	}
}

func TestNormalizeHeaders(t *testing.T) {
	got := normalizeHeaders([]string{"\ufeffid", "name", "name", "name_1", "name"})
	want := []string{"id", "name", "name_1", "name_1_1", "name_2"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("normalizeHeaders = %v, want %v", got, want)
	}
}

func TestRegistry_FindParser(t *testing.T) {
	r := NewRegistry()

	tests := []struct {
		file    string
		want    string
		wantErr error
	}{
		{"data.csv", "csv", nil},
		{"DATA.CSV", "csv", nil},
		{"book.xlsx", "xlsx", nil},
		{"macro.xlsm", "xlsx", nil},
		{"old.xls", "xls", nil},
		{"notes.txt", "", ErrUnsupportedFileType},
		{"csv", "", ErrUnsupportedFileType},
	}

	for _, tt := range tests {
		t.Run(tt.file, func(t *testing.T) {
			p, err := r.FindParser(tt.file)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if p.Name() != tt.want {
				t.Errorf("expected parser %s, got %s", tt.want, p.Name())
			}
		})
	}
}

func TestRegistry_GetParserByName(t *testing.T) {
	r := GetGlobalRegistry()
	if _, err := r.GetParserByName("CSV"); err != nil {
		t.Errorf("expected csv parser, got %v", err)
	}
	if _, err := r.GetParserByName("parquet"); err == nil {
		t.Error("expected error for unknown parser")
	}
}

func TestNewFileID(t *testing.T) {
	now := time.UnixMilli(1700000000123)
	id := NewFileID(now)

	if !strings.HasPrefix(id, "file_1700000000123_") {
		t.Fatalf("unexpected id prefix: %s", id)
	}
	if suffix := strings.TrimPrefix(id, "file_1700000000123_"); len(suffix) != 9 {
		t.Errorf("expected 9 char suffix, got %q", suffix)
	}
	if NewFileID(now) == id {
		t.Error("expected distinct ids for the same instant")
	}
}
