package parser

import (
	"fmt"
	"strings"
)

// Registry holds all available parsers and picks one per file name.
type Registry struct {
	parsers []Parser
}

// Global registry instance
var globalRegistry = NewRegistry()

func NewRegistry() *Registry {
	return &Registry{
		parsers: []Parser{
			NewCSVParser(),
			NewXLSXParser(),
			NewLegacyExcelParser(),
		},
	}
}

// GetGlobalRegistry returns the singleton registry.
func GetGlobalRegistry() *Registry {
	return globalRegistry
}

// Register adds a new parser to the registry.
func (r *Registry) Register(p Parser) {
	r.parsers = append(r.parsers, p)
}

// FindParser returns the first parser that accepts fileName. The error is
// ErrUnsupportedFileType itself so its message can be shown as is.
func (r *Registry) FindParser(fileName string) (Parser, error) {
	for _, p := range r.parsers {
		if p.CanParse(fileName) {
			return p, nil
		}
	}
	return nil, ErrUnsupportedFileType
}

// GetParserByName returns a parser by its name.
func (r *Registry) GetParserByName(name string) (Parser, error) {
	name = strings.ToLower(name)
	for _, p := range r.parsers {
		if strings.ToLower(p.Name()) == name {
			return p, nil
		}
	}
	return nil, fmt.Errorf("parser not found: %s", name)
}

func hasExt(fileName string, exts ...string) bool {
	lower := strings.ToLower(fileName)
	for _, ext := range exts {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}
