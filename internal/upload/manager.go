// Package upload runs the asynchronous parse of an uploaded file into a
// wizard session's data store.
package upload

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stepdash/backend/internal/models"
	"github.com/stepdash/backend/internal/parser"
	"github.com/stepdash/backend/internal/storage"
	"go.uber.org/zap"
)

// ErrJobNotFound is returned by GetJob for unknown or pruned jobs.
var ErrJobNotFound = errors.New("job not found")

// Target receives the outcome of a parse job. A wizard session implements it.
type Target interface {
	ID() string
	SetProcessingStatus(status models.ProcessingStatus)
	AddError(message string)
	AddDataset(ctx context.Context, fileID, name, mimeType string, size int64, table *models.Table) error
}

// Job represents one async parse.
type Job struct {
	ID          string           `json:"id"`
	SessionID   string           `json:"sessionId"`
	UploadID    string           `json:"uploadId"`
	FileID      string           `json:"fileId,omitempty"`
	FileName    string           `json:"fileName"`
	MimeType    string           `json:"mimeType"`
	Size        int64            `json:"size"`
	Status      models.JobStatus `json:"status"`
	Progress    float64          `json:"progress"`
	Stage       string           `json:"stage"`
	Rows        int              `json:"rows"`
	Message     string           `json:"message,omitempty"`
	Error       string           `json:"error,omitempty"`
	CreatedAt   time.Time        `json:"createdAt"`
	CompletedAt *time.Time       `json:"completedAt,omitempty"`
}

// Manager handles async parse jobs.
type Manager struct {
	mu       sync.RWMutex
	jobs     map[string]*Job
	store    storage.Store
	registry *parser.Registry
	log      *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager creates a job manager reading raw uploads from store.
func NewManager(store storage.Store, registry *parser.Registry, log *zap.Logger) *Manager {
	if registry == nil {
		registry = parser.GetGlobalRegistry()
	}
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		jobs:     make(map[string]*Job),
		store:    store,
		registry: registry,
		log:      log.Named("upload"),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// StartJob parses an upload in the background and returns immediately.
func (m *Manager) StartJob(target Target, info *models.FileInfo, mimeType string) *Job {
	job := &Job{
		ID:        uuid.NewString(),
		SessionID: target.ID(),
		UploadID:  info.ID,
		FileName:  info.Name,
		MimeType:  mimeType,
		Size:      info.Size,
		Status:    models.JobStatusPending,
		Stage:     "queued",
		CreatedAt: time.Now(),
	}

	m.mu.Lock()
	m.jobs[job.ID] = job
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.processJob(job, target)
	}()

	cp := *job
	return &cp
}

// GetJob returns a copy of the job state.
func (m *Manager) GetJob(id string) (*Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	cp := *job
	return &cp, nil
}

// Wait blocks until every started job has finished.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// Close cancels running parses and waits for them to return.
func (m *Manager) Close() {
	m.cancel()
	m.wg.Wait()
}

func (m *Manager) processJob(job *Job, target Target) {
	log := m.log.With(zap.String("job", job.ID[:8]), zap.String("session", job.SessionID), zap.String("file", job.FileName))
	log.Info("parse started", zap.Int64("size", job.Size))
	start := time.Now()

	target.SetProcessingStatus(models.ProcessingProcessing)
	if err := m.store.SetStatus(job.UploadID, storage.StatusParsing); err != nil {
		log.Warn("recording upload status failed", zap.Error(err))
	}
	defer func() {
		if err := m.store.Delete(job.UploadID); err != nil {
			log.Warn("removing raw upload failed", zap.Error(err))
		}
	}()

	table, err := m.parse(job)
	if err != nil {
		m.fail(job, target, log, err)
		return
	}

	m.updateJobStatus(job, models.JobStatusParsing, "storing rows", 80)
	fileID := parser.NewFileID(time.Now())
	if err := target.AddDataset(m.ctx, fileID, job.FileName, job.MimeType, job.Size, table); err != nil {
		m.fail(job, target, log, err)
		return
	}

	target.SetProcessingStatus(models.ProcessingComplete)
	m.markJobComplete(job, fileID, table.Len())
	log.Info("parse complete",
		zap.String("fileId", fileID),
		zap.Int("rows", table.Len()),
		zap.Duration("elapsed", time.Since(start)))
}

func (m *Manager) parse(job *Job) (*models.Table, error) {
	name := job.FileName
	compressed := strings.HasSuffix(strings.ToLower(name), ".gz")
	if compressed {
		name = name[:len(name)-len(".gz")]
	}

	p, err := m.registry.FindParser(name)
	if err != nil {
		return nil, err
	}

	m.updateJobStatus(job, models.JobStatusParsing, "reading file", 10)
	rc, err := m.store.Open(job.UploadID)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	defer rc.Close()

	var r io.Reader = rc
	if compressed {
		m.updateJobStatus(job, models.JobStatusParsing, "decompressing file", 20)
		gz, err := gzip.NewReader(rc)
		if err != nil {
			return nil, fmt.Errorf("decompressing %s: %w", job.FileName, err)
		}
		defer gz.Close()
		r = gz
	}

	m.updateJobStatus(job, models.JobStatusParsing, "parsing "+p.Name(), 30)
	return p.Parse(m.ctx, r)
}

func (m *Manager) fail(job *Job, target Target, log *zap.Logger, err error) {
	msg := err.Error()
	target.SetProcessingStatus(models.ProcessingError)
	target.AddError(msg)
	m.markJobError(job, msg)
	log.Warn("parse failed", zap.Error(err))
}

func (m *Manager) updateJobStatus(job *Job, status models.JobStatus, stage string, progress float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job.Status = status
	job.Stage = stage
	job.Progress = progress
}

func (m *Manager) markJobComplete(job *Job, fileID string, rows int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	job.Status = models.JobStatusComplete
	job.Stage = "done"
	job.Progress = 100
	job.FileID = fileID
	job.Rows = rows
	job.Message = fmt.Sprintf("Successfully uploaded %s with %d rows", job.FileName, rows)
	job.CompletedAt = &now
}

func (m *Manager) markJobError(job *Job, msg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	job.Status = models.JobStatusError
	job.Stage = "failed"
	job.Error = msg
	job.CompletedAt = &now
}

// CleanupOldJobs removes finished jobs older than maxAge and returns how many were removed.
func (m *Manager) CleanupOldJobs(maxAge time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for id, job := range m.jobs {
		if job.CompletedAt != nil && job.CompletedAt.Before(cutoff) {
			delete(m.jobs, id)
			removed++
		}
	}
	return removed
}

// RunPruner calls CleanupOldJobs every interval until ctx is done.
func (m *Manager) RunPruner(ctx context.Context, interval, maxAge time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := m.CleanupOldJobs(maxAge); n > 0 {
				m.log.Debug("pruned jobs", zap.Int("count", n))
			}
		}
	}
}
