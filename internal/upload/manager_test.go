package upload

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stepdash/backend/internal/models"
	"github.com/stepdash/backend/internal/parser"
	"github.com/stepdash/backend/internal/storage"
	"github.com/stepdash/backend/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type fakeTarget struct {
	mu       sync.Mutex
	statuses []models.ProcessingStatus
	errors   []string
	datasets map[string]*models.Table
	addErr   error
	onAdd    func()
}

func newFakeTarget() *fakeTarget {
	return &fakeTarget{datasets: make(map[string]*models.Table)}
}

func (f *fakeTarget) ID() string { return "session-1" }

func (f *fakeTarget) SetProcessingStatus(s models.ProcessingStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, s)
}

func (f *fakeTarget) AddError(msg string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errors = append(f.errors, msg)
}

func (f *fakeTarget) AddDataset(_ context.Context, fileID, _, _ string, _ int64, t *models.Table) error {
	if f.onAdd != nil {
		f.onAdd()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.addErr != nil {
		return f.addErr
	}
	f.datasets[fileID] = t
	return nil
}

func runJob(t *testing.T, target *fakeTarget, name string, data []byte) (*Job, *testutil.MockStorage) {
	t.Helper()
	store := testutil.NewMockStorage()
	info := store.AddFile("upload-1", name, data)

	m := NewManager(store, parser.NewRegistry(), nil)
	defer m.Close()

	started := m.StartJob(target, info, "text/csv")
	assert.Equal(t, "session-1", started.SessionID)
	m.Wait()

	job, err := m.GetJob(started.ID)
	require.NoError(t, err)
	return job, store
}

func TestManager_ParsesCSV(t *testing.T) {
	defer goleak.VerifyNone(t)

	target := newFakeTarget()
	job, store := runJob(t, target, "people.csv", []byte("name,age\nAnn,30\nBob,25\n"))

	assert.Equal(t, models.JobStatusComplete, job.Status)
	assert.Equal(t, 100.0, job.Progress)
	assert.Equal(t, 2, job.Rows)
	assert.Equal(t, "Successfully uploaded people.csv with 2 rows", job.Message)
	require.NotNil(t, job.CompletedAt)

	table, ok := target.datasets[job.FileID]
	require.True(t, ok, "dataset stored under the job's file id")
	assert.Equal(t, int64(30), table.Rows[0]["age"])

	assert.Equal(t, []models.ProcessingStatus{models.ProcessingProcessing, models.ProcessingComplete}, target.statuses)
	assert.Empty(t, target.errors)
	assert.Equal(t, 0, store.GetFileCount(), "raw upload removed after parsing")
}

func TestManager_UploadStatusWhileParsing(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := testutil.NewMockStorage()
	info := store.AddFile("upload-1", "people.csv", []byte("name\nAnn\n"))
	assert.Equal(t, storage.StatusUploaded, info.Status)

	var during string
	target := newFakeTarget()
	target.onAdd = func() {
		if got, err := store.Get("upload-1"); err == nil {
			during = got.Status
		}
	}

	m := NewManager(store, parser.NewRegistry(), nil)
	defer m.Close()
	m.StartJob(target, info, "text/csv")
	m.Wait()

	assert.Equal(t, storage.StatusParsing, during)
	assert.Equal(t, 0, store.GetFileCount())
}

func TestManager_GzipUpload(t *testing.T) {
	defer goleak.VerifyNone(t)

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	_, _ = gz.Write([]byte("a\n1\n2\n3\n"))
	require.NoError(t, gz.Close())

	target := newFakeTarget()
	job, _ := runJob(t, target, "numbers.csv.gz", buf.Bytes())

	assert.Equal(t, models.JobStatusComplete, job.Status)
	assert.Equal(t, 3, job.Rows)
}

func TestManager_Failures(t *testing.T) {
	defer goleak.VerifyNone(t)

	tests := []struct {
		name    string
		file    string
		data    string
		addErr  error
		wantErr string
	}{
		{"unsupported type", "notes.txt", "hello", nil, "Unsupported file type. Please upload CSV or Excel files."},
		{"ragged csv", "bad.csv", "a,b\n1\n", nil, "CSV parsing errors: Too few fields: expected 2 fields but parsed 1 (line 2)"},
		{"legacy excel", "old.xls", "", nil, parser.ErrLegacyExcel.Error()},
		{"store rejects", "ok.csv", "a\n1\n", errors.New("session closed"), "session closed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := newFakeTarget()
			target.addErr = tt.addErr
			job, store := runJob(t, target, tt.file, []byte(tt.data))

			assert.Equal(t, models.JobStatusError, job.Status)
			assert.Equal(t, tt.wantErr, job.Error)
			assert.Equal(t, []string{tt.wantErr}, target.errors)
			assert.Equal(t, models.ProcessingError, target.statuses[len(target.statuses)-1])
			assert.Empty(t, target.datasets)
			assert.Equal(t, 0, store.GetFileCount())
		})
	}
}

func TestManager_GetJobAndCleanup(t *testing.T) {
	defer goleak.VerifyNone(t)

	m := NewManager(testutil.NewMockStorage(), nil, nil)
	defer m.Close()

	_, err := m.GetJob("nope")
	assert.ErrorIs(t, err, ErrJobNotFound)

	old := time.Now().Add(-2 * time.Hour)
	m.jobs["done"] = &Job{ID: "done", Status: models.JobStatusComplete, CompletedAt: &old}
	m.jobs["running"] = &Job{ID: "running", Status: models.JobStatusParsing}

	assert.Equal(t, 1, m.CleanupOldJobs(time.Hour))
	_, err = m.GetJob("done")
	assert.ErrorIs(t, err, ErrJobNotFound)
	_, err = m.GetJob("running")
	assert.NoError(t, err)
}

func TestManager_RunPruner(t *testing.T) {
	defer goleak.VerifyNone(t)

	m := NewManager(testutil.NewMockStorage(), nil, nil)
	defer m.Close()

	old := time.Now().Add(-time.Hour)
	m.mu.Lock()
	m.jobs["done"] = &Job{ID: "done", CompletedAt: &old}
	m.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.RunPruner(ctx, 5*time.Millisecond, time.Minute) }()

	require.Eventually(t, func() bool {
		_, err := m.GetJob("done")
		return err != nil
	}, time.Second, 5*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}
