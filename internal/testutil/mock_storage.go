// Package testutil provides test doubles shared across package tests.
package testutil

import (
	"bytes"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/stepdash/backend/internal/models"
	"github.com/stepdash/backend/internal/storage"
)

// MockStorage implements storage.Store in memory.
type MockStorage struct {
	mu       sync.RWMutex
	files    map[string]*models.FileInfo
	fileData map[string][]byte
	nextID   int

	// SaveErr, when set, is returned by Save.
	SaveErr error
}

func NewMockStorage() *MockStorage {
	return &MockStorage{
		files:    make(map[string]*models.FileInfo),
		fileData: make(map[string][]byte),
	}
}

var _ storage.Store = (*MockStorage)(nil)

func (m *MockStorage) Save(name string, r io.Reader) (*models.FileInfo, error) {
	if m.SaveErr != nil {
		return nil, m.SaveErr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.nextID++
	id := fmt.Sprintf("test-id-%d", m.nextID)
	m.mu.Unlock()
	return m.AddFile(id, name, data), nil
}

func (m *MockStorage) Open(id string) (io.ReadCloser, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.fileData[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, id)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *MockStorage) Get(id string) (*models.FileInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	info, ok := m.files[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, id)
	}
	cp := *info
	return &cp, nil
}

func (m *MockStorage) List(limit int) ([]*models.FileInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.FileInfo
	for _, info := range m.files {
		if limit > 0 && len(out) >= limit {
			break
		}
		cp := *info
		out = append(out, &cp)
	}
	return out, nil
}

func (m *MockStorage) SetStatus(id, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	info, ok := m.files[id]
	if !ok {
		return fmt.Errorf("%w: %s", storage.ErrNotFound, id)
	}
	info.Status = status
	return nil
}

func (m *MockStorage) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.files[id]; !ok {
		return fmt.Errorf("%w: %s", storage.ErrNotFound, id)
	}
	delete(m.files, id)
	delete(m.fileData, id)
	return nil
}

// Test helpers

// AddFile stores data under a fixed id.
func (m *MockStorage) AddFile(id, name string, data []byte) *models.FileInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	info := &models.FileInfo{
		ID:         id,
		Name:       name,
		Size:       int64(len(data)),
		UploadedAt: time.Now(),
		Status:     storage.StatusUploaded,
	}
	m.files[id] = info
	m.fileData[id] = data
	cp := *info
	return &cp
}

// GetFileCount returns the number of stored files.
func (m *MockStorage) GetFileCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.files)
}
