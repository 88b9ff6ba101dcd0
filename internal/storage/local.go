// Package storage keeps raw uploads on disk until their parse job has run.
package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stepdash/backend/internal/models"
)

var (
	ErrNotFound = errors.New("upload not found")
	ErrTooLarge = errors.New("upload exceeds the size limit")
)

// File status values.
const (
	StatusUploaded = "uploaded"
	StatusParsing  = "parsing"
)

// Store defines the interface for raw upload storage.
type Store interface {
	Save(name string, r io.Reader) (*models.FileInfo, error)
	Open(id string) (io.ReadCloser, error)
	Get(id string) (*models.FileInfo, error)
	List(limit int) ([]*models.FileInfo, error)
	SetStatus(id, status string) error
	Delete(id string) error
}

// LocalStore implements Store on the local filesystem. Files are named by
// a uuid so user supplied names never reach the path.
type LocalStore struct {
	mu        sync.RWMutex
	uploadDir string
	maxSize   int64
	files     map[string]*models.FileInfo
}

// NewLocalStore creates the upload directory if needed. maxSize <= 0
// disables the size limit.
func NewLocalStore(uploadDir string, maxSize int64) (*LocalStore, error) {
	if err := os.MkdirAll(uploadDir, 0755); err != nil {
		return nil, fmt.Errorf("creating upload directory: %w", err)
	}
	return &LocalStore{
		uploadDir: uploadDir,
		maxSize:   maxSize,
		files:     make(map[string]*models.FileInfo),
	}, nil
}

// Save copies r into a new file.
func (s *LocalStore) Save(name string, r io.Reader) (*models.FileInfo, error) {
	id := uuid.NewString()
	path := filepath.Join(s.uploadDir, id)

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating file: %w", err)
	}

	src := r
	if s.maxSize > 0 {
		src = io.LimitReader(r, s.maxSize+1)
	}
	size, err := io.Copy(f, src)
	closeErr := f.Close()
	if err == nil {
		err = closeErr
	}
	if err == nil && s.maxSize > 0 && size > s.maxSize {
		err = fmt.Errorf("%w (%d bytes)", ErrTooLarge, s.maxSize)
	}
	if err != nil {
		os.Remove(path)
		if errors.Is(err, ErrTooLarge) {
			return nil, err
		}
		return nil, fmt.Errorf("writing file: %w", err)
	}

	info := &models.FileInfo{
		ID:         id,
		Name:       name,
		Size:       size,
		UploadedAt: time.Now(),
		Status:     StatusUploaded,
	}

	s.mu.Lock()
	s.files[id] = info
	s.mu.Unlock()
	return info, nil
}

// Open returns a reader over the stored bytes.
func (s *LocalStore) Open(id string) (io.ReadCloser, error) {
	path, err := s.filePath(id)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", id, err)
	}
	return f, nil
}

// Get returns a copy of the file metadata.
func (s *LocalStore) Get(id string) (*models.FileInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	info, ok := s.files[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	cp := *info
	return &cp, nil
}

// List returns up to limit files, newest first. limit <= 0 returns all.
func (s *LocalStore) List(limit int) ([]*models.FileInfo, error) {
	s.mu.RLock()
	list := make([]*models.FileInfo, 0, len(s.files))
	for _, info := range s.files {
		cp := *info
		list = append(list, &cp)
	}
	s.mu.RUnlock()

	sort.Slice(list, func(i, j int) bool {
		return list[i].UploadedAt.After(list[j].UploadedAt)
	})
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	return list, nil
}

// SetStatus records where the upload is in its parse lifecycle.
func (s *LocalStore) SetStatus(id, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	info, ok := s.files[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	info.Status = status
	return nil
}

// Delete removes a file and its metadata.
func (s *LocalStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.files[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err := os.Remove(filepath.Join(s.uploadDir, id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("deleting file: %w", err)
	}
	delete(s.files, id)
	return nil
}

func (s *LocalStore) filePath(id string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.files[id]; !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return filepath.Join(s.uploadDir, id), nil
}
