// Package datastore keeps the uploaded tabular files of one wizard session
// and derives the views the dataset steps show from them.
package datastore

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/stepdash/backend/internal/models"
)

var (
	ErrFileNotFound  = errors.New("file not found")
	ErrRowOutOfRange = errors.New("row index out of range")
	ErrNoData        = errors.New("no data uploaded")
	ErrEmptyKey      = errors.New("processed data key is empty")
)

// Metadata describes the store as a whole.
type Metadata struct {
	LastUpdated      *time.Time              `json:"lastUpdated"`
	ProcessingStatus models.ProcessingStatus `json:"processingStatus"`
	Errors           []string                `json:"errors"`
}

// Snapshot is a read-only copy of the store without row data.
type Snapshot struct {
	Files         []models.FileRecord `json:"files"`
	RowCounts     map[string]int      `json:"rowCounts"`
	ProcessedKeys []string            `json:"processedKeys"`
	Metadata      Metadata            `json:"metadata"`
}

// Store holds file records, their parsed rows and free-form processed data.
// Tables handed out by the store are shared and must not be mutated;
// replacing a file's rows swaps in a new table.
type Store struct {
	mu        sync.RWMutex
	files     []models.FileRecord
	raw       map[string]*models.Table
	processed map[string]json.RawMessage
	meta      Metadata
	now       func() time.Time
}

// New returns an empty store.
func New() *Store {
	return &Store{
		raw:       make(map[string]*models.Table),
		processed: make(map[string]json.RawMessage),
		meta:      Metadata{ProcessingStatus: models.ProcessingIdle},
		now:       time.Now,
	}
}

func (s *Store) touch() {
	t := s.now()
	s.meta.LastUpdated = &t
}

// AddOriginalData appends a file record and stores its rows.
func (s *Store) AddOriginalData(fileID, name, mimeType string, size int64, table *models.Table) models.FileRecord {
	if table == nil {
		table = models.NewTable(nil)
	}
	rec := models.FileRecord{
		ID:         fileID,
		Name:       name,
		MimeType:   mimeType,
		SizeBytes:  size,
		UploadedAt: s.now(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.files = append(s.files, rec)
	s.raw[fileID] = table
	s.touch()
	return rec
}

// GetOriginalData returns the rows stored for fileID.
func (s *Store) GetOriginalData(fileID string) (*models.Table, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.raw[fileID]
	return t, ok
}

// ReplaceOriginalData swaps the rows of an existing file.
func (s *Store) ReplaceOriginalData(fileID string, table *models.Table) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.raw[fileID]; !ok {
		return fmt.Errorf("%w: %s", ErrFileNotFound, fileID)
	}
	s.raw[fileID] = table
	s.touch()
	return nil
}

// UpdateProcessedData stores a derived value under key.
func (s *Store) UpdateProcessedData(key string, value json.RawMessage) error {
	if key == "" {
		return ErrEmptyKey
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processed[key] = append(json.RawMessage(nil), value...)
	s.touch()
	return nil
}

// GetProcessedData returns the value stored under key.
func (s *Store) GetProcessedData(key string) (json.RawMessage, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.processed[key]
	return v, ok
}

// SetProcessingStatus records the status. Any status may follow any other.
func (s *Store) SetProcessingStatus(status models.ProcessingStatus) {
	s.mu.Lock()
	s.meta.ProcessingStatus = status
	s.mu.Unlock()
}

// ProcessingStatus returns the current status.
func (s *Store) ProcessingStatus() models.ProcessingStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.meta.ProcessingStatus
}

// AddError appends a message to the error log. The log is never trimmed.
func (s *Store) AddError(message string) {
	s.mu.Lock()
	s.meta.Errors = append(s.meta.Errors, message)
	s.mu.Unlock()
}

// Errors returns a copy of the error log.
func (s *Store) Errors() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.meta.Errors...)
}

// Clear empties the store.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files = nil
	s.raw = make(map[string]*models.Table)
	s.processed = make(map[string]json.RawMessage)
	s.meta = Metadata{ProcessingStatus: models.ProcessingIdle}
}

// Files returns the file records in upload order.
func (s *Store) Files() []models.FileRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.FileRecord(nil), s.files...)
}

// File returns the record for fileID.
func (s *Store) File(fileID string) (models.FileRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, f := range s.files {
		if f.ID == fileID {
			return f, true
		}
	}
	return models.FileRecord{}, false
}

// LatestFile returns the most recently uploaded file, which every dataset
// step treats as the active one.
func (s *Store) LatestFile() (models.FileRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.files) == 0 {
		return models.FileRecord{}, false
	}
	return s.files[len(s.files)-1], true
}

// ActiveTable returns the latest file together with its rows.
func (s *Store) ActiveTable() (models.FileRecord, *models.Table, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.files) == 0 {
		return models.FileRecord{}, nil, false
	}
	rec := s.files[len(s.files)-1]
	return rec, s.raw[rec.ID], true
}

// Row returns one row of a file by zero-based index.
func (s *Store) Row(fileID string, index int) (models.Row, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.raw[fileID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrFileNotFound, fileID)
	}
	if index < 0 || index >= len(t.Rows) {
		return nil, fmt.Errorf("%w: %d of %d", ErrRowOutOfRange, index, len(t.Rows))
	}
	return t.Rows[index].Clone(), nil
}

// ApplyCleaning cleans the active file and replaces its rows with the result.
func (s *Store) ApplyCleaning(ops []Operation) (models.FileRecord, *models.Table, CleanReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.files) == 0 {
		return models.FileRecord{}, nil, CleanReport{}, ErrNoData
	}
	rec := s.files[len(s.files)-1]
	cleaned, report := Clean(s.raw[rec.ID], ops)
	s.raw[rec.ID] = cleaned
	s.touch()
	return rec, cleaned, report, nil
}

// Snapshot returns a copy of the store metadata.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		Files:         append([]models.FileRecord{}, s.files...),
		RowCounts:     make(map[string]int, len(s.raw)),
		ProcessedKeys: make([]string, 0, len(s.processed)),
		Metadata: Metadata{
			ProcessingStatus: s.meta.ProcessingStatus,
			Errors:           append([]string{}, s.meta.Errors...),
		},
	}
	if s.meta.LastUpdated != nil {
		t := *s.meta.LastUpdated
		snap.Metadata.LastUpdated = &t
	}
	for id, t := range s.raw {
		snap.RowCounts[id] = t.Len()
	}
	for k := range s.processed {
		snap.ProcessedKeys = append(snap.ProcessedKeys, k)
	}
	sort.Strings(snap.ProcessedKeys)
	return snap
}
