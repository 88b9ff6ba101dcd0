package parser

import (
	"strconv"
	"strings"
	"testing"
	"unsafe"
)

func TestCellIntern(t *testing.T) {
	ci := newCellIntern()

	a := ci.cell(strings.Clone("open"))
	b := ci.cell(strings.Clone("open"))
	sa, sb := a.(string), b.(string)
	if unsafe.StringData(sa) != unsafe.StringData(sb) {
		t.Error("Expected repeated strings to share storage")
	}
	if ci.len() != 1 {
		t.Errorf("Expected pool size 1, got %d", ci.len())
	}
}

func TestCellInternSkipsNonStrings(t *testing.T) {
	ci := newCellIntern()

	if v := ci.cell("42"); v != int64(42) {
		t.Errorf("Expected int64 42, got %T %v", v, v)
	}
	if v := ci.cell(""); v != nil {
		t.Errorf("Expected nil for empty cell, got %v", v)
	}
	long := strings.Repeat("x", maxInternLen+1)
	if v := ci.cell(long); v != long {
		t.Errorf("Expected long string passed through")
	}
	if ci.len() > 1 {
		t.Errorf("Expected only short strings pooled, got %d", ci.len())
	}
}

func TestCellInternLimit(t *testing.T) {
	ci := newCellIntern()
	for i := 0; i < maxInternPoolSize+10; i++ {
		ci.intern("v" + strconv.Itoa(i))
	}
	if ci.len() != maxInternPoolSize {
		t.Errorf("Expected pool capped at %d, got %d", maxInternPoolSize, ci.len())
	}
}
