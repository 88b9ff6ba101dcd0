package session

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/stepdash/backend/internal/datastore"
	"github.com/stepdash/backend/internal/models"
	"github.com/stepdash/backend/internal/parser"
	"github.com/stepdash/backend/internal/wizard"
	"go.uber.org/zap"
)

// Event is pushed to subscribers whenever the wizard state changes.
type Event struct {
	Type   string           `json:"type"`
	Reason string           `json:"reason"`
	Gate   wizard.GateState `json:"gate"`
}

// State is the full view of a session returned by the API.
type State struct {
	ID        string           `json:"id"`
	Flow      string           `json:"flow"`
	Title     string           `json:"title"`
	Steps     []wizard.Step    `json:"steps"`
	Gate      wizard.GateState `json:"gate"`
	DataKeys  []string         `json:"dataKeys"`
	CreatedAt time.Time        `json:"createdAt"`
}

// Move is the result of a navigation call. Refused moves are not errors.
type Move struct {
	Moved bool             `json:"moved"`
	Gate  wizard.GateState `json:"gate"`
}

// CleanResult is returned after cleaning the active dataset.
type CleanResult struct {
	File    models.FileRecord        `json:"file"`
	Report  datastore.CleanReport    `json:"report"`
	Metrics datastore.QualityMetrics `json:"metrics"`
}

// Session is one wizard run. Every gate and bag mutation goes through its
// mutex; the data store and grid tables lock themselves.
type Session struct {
	id        string
	flow      *wizard.Flow
	createdAt time.Time
	tempDir   string
	duckOpts  parser.DuckOptions
	log       *zap.Logger
	store     *datastore.Store

	// cleanMu orders cleans so the grid reload matches the store.
	cleanMu sync.Mutex

	mu     sync.Mutex
	gate   *wizard.Gate
	bag    *wizard.Bag
	tables map[string]*parser.DuckTable
	subs   map[chan Event]struct{}
	closed bool
}

func newSession(id string, flow *wizard.Flow, initialStep int, tempDir string, opts parser.DuckOptions, log *zap.Logger) (*Session, error) {
	gate, err := wizard.NewGate(len(flow.Steps), initialStep)
	if err != nil {
		return nil, err
	}
	return &Session{
		id:        id,
		flow:      flow,
		createdAt: time.Now(),
		tempDir:   tempDir,
		duckOpts:  opts,
		log:       log.With(zap.String("session", shortID(id))),
		store:     datastore.New(),
		gate:      gate,
		bag:       wizard.NewBag(),
		tables:    make(map[string]*parser.DuckTable),
		subs:      make(map[chan Event]struct{}),
	}, nil
}

func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}

func (s *Session) ID() string { return s.id }

func (s *Session) Flow() *wizard.Flow { return s.flow }

// Store returns the session's data store.
func (s *Session) Store() *datastore.Store { return s.store }

// State returns a snapshot of the session.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return State{
		ID:        s.id,
		Flow:      s.flow.Name,
		Title:     s.flow.Title,
		Steps:     s.flow.Steps,
		Gate:      s.gate.Snapshot(),
		DataKeys:  s.bag.Keys(),
		CreatedAt: s.createdAt,
	}
}

// Gate returns the gate snapshot.
func (s *Session) Gate() wizard.GateState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gate.Snapshot()
}

// CanNavigateToStep reports whether step is reachable.
func (s *Session) CanNavigateToStep(step int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gate.CanNavigateToStep(step)
}

// MarkStepComplete sets the ledger entry for step. Moved reports whether
// the ledger changed; out-of-range steps are ignored.
func (s *Session) MarkStepComplete(step int) Move {
	return s.mutate("complete", false, func() bool {
		was := s.gate.IsStepComplete(step)
		s.gate.MarkStepComplete(step)
		return s.gate.IsStepComplete(step) != was
	})
}

// MarkStepIncomplete clears the ledger entry for step.
func (s *Session) MarkStepIncomplete(step int) Move {
	return s.mutate("incomplete", false, func() bool {
		was := s.gate.IsStepComplete(step)
		s.gate.MarkStepIncomplete(step)
		return s.gate.IsStepComplete(step) != was
	})
}

// GoToStep moves to step when it is reachable.
func (s *Session) GoToStep(step int) Move {
	return s.mutate("goto", true, func() bool { return s.gate.GoToStep(step) })
}

// NextStep advances when the current step is complete.
func (s *Session) NextStep() Move {
	return s.mutate("next", true, s.gate.NextStep)
}

// PrevStep moves back one step.
func (s *Session) PrevStep() Move {
	return s.mutate("prev", true, s.gate.PrevStep)
}

// Reset returns to the initial step and empties the ledger and the data bag.
// Uploaded data is kept.
func (s *Session) Reset() wizard.GateState {
	return s.mutate("reset", false, func() bool {
		s.gate.Reset()
		s.bag.Clear()
		return true
	}).Gate
}

// mutate runs fn under the session lock and notifies subscribers when fn
// reports a change. When navigated is set, a move that lands on a
// processor step runs the processor completion hook.
func (s *Session) mutate(reason string, navigated bool, fn func() bool) Move {
	s.mu.Lock()
	changed := fn()
	if changed && navigated {
		s.completeProcessorLocked(false)
	}
	state := s.gate.Snapshot()
	if changed {
		s.publishLocked(Event{Type: "state", Reason: reason, Gate: state})
	}
	s.mu.Unlock()
	return Move{Moved: changed, Gate: state}
}

// Data returns a copy of the data bag.
func (s *Session) Data() map[string]json.RawMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bag.Snapshot()
}

// MergeData shallow-merges partial into the data bag.
func (s *Session) MergeData(partial map[string]json.RawMessage) map[string]json.RawMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bag.Merge(partial)
	return s.bag.Snapshot()
}

// Review summarises the form-demo entries of the data bag.
func (s *Session) Review() (wizard.ReviewSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bag.Review()
}

// SetProcessingStatus implements upload.Target.
func (s *Session) SetProcessingStatus(status models.ProcessingStatus) {
	s.store.SetProcessingStatus(status)
}

// AddError implements upload.Target.
func (s *Session) AddError(message string) {
	s.store.AddError(message)
}

// AddDataset loads a parsed file into a grid table, records it in the data
// store and runs the uploader completion hook.
func (s *Session) AddDataset(ctx context.Context, fileID, name, mimeType string, size int64, table *models.Table) error {
	if s.isClosed() {
		return ErrSessionClosed
	}
	dt, err := parser.NewDuckTable(s.tempDir, fileID, s.duckOpts, s.log)
	if err != nil {
		if s.isClosed() {
			return ErrSessionClosed
		}
		return err
	}
	if err := dt.Load(ctx, table); err != nil {
		dt.Close()
		if s.isClosed() {
			return ErrSessionClosed
		}
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		dt.Close()
		return ErrSessionClosed
	}
	s.tables[fileID] = dt
	s.store.AddOriginalData(fileID, name, mimeType, size, table)

	if steps := s.flow.StepsOfKind(wizard.KindUploader); len(steps) > 0 {
		uploader := steps[0]
		s.gate.MarkStepComplete(uploader)
		if s.gate.CurrentStep() == uploader {
			s.gate.NextStep()
		}
	}
	s.completeProcessorLocked(false)
	s.publishLocked(Event{Type: "state", Reason: "upload", Gate: s.gate.Snapshot()})
	s.log.Info("dataset added", zap.String("fileId", fileID), zap.Int("rows", table.Len()))
	return nil
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// completeProcessorLocked marks processor steps complete when the active
// dataset has rows. Unless force is set, only a processor step that is
// currently shown is marked.
func (s *Session) completeProcessorLocked(force bool) {
	_, table, ok := s.store.ActiveTable()
	if !ok || table.Len() == 0 {
		return
	}
	for _, i := range s.flow.StepsOfKind(wizard.KindProcessor) {
		if force || s.gate.CurrentStep() == i {
			s.gate.MarkStepComplete(i)
		}
	}
}

// Grid queries the grid table of a file.
func (s *Session) Grid(ctx context.Context, fileID string, q parser.GridQuery) (*parser.GridPage, error) {
	s.mu.Lock()
	dt, ok := s.tables[fileID]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", datastore.ErrFileNotFound, fileID)
	}
	return dt.Query(ctx, q)
}

// Clean applies cleaning operations to the active dataset, reloads its grid
// table and marks the processor step complete.
func (s *Session) Clean(ctx context.Context, ops []datastore.Operation) (*CleanResult, error) {
	s.cleanMu.Lock()
	defer s.cleanMu.Unlock()

	rec, cleaned, report, err := s.store.ApplyCleaning(ops)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	dt := s.tables[rec.ID]
	s.mu.Unlock()
	if dt != nil {
		if err := dt.Load(ctx, cleaned); err != nil {
			return nil, fmt.Errorf("reloading grid: %w", err)
		}
	}

	s.mu.Lock()
	s.completeProcessorLocked(true)
	s.publishLocked(Event{Type: "state", Reason: "clean", Gate: s.gate.Snapshot()})
	s.mu.Unlock()

	s.log.Info("dataset cleaned",
		zap.String("fileId", rec.ID),
		zap.Int("before", report.RowsBefore),
		zap.Int("after", report.RowsAfter))
	return &CleanResult{File: rec, Report: report, Metrics: datastore.Measure(cleaned)}, nil
}

// ClearStore empties the data store and drops every grid table.
func (s *Session) ClearStore() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.store.Clear()
	s.closeTablesLocked()
}

// Subscribe returns a channel of state events and a function that ends the
// subscription. Slow subscribers miss events rather than block the session.
func (s *Session) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 16)
	s.mu.Lock()
	if s.closed {
		close(ch)
		s.mu.Unlock()
		return ch, func() {}
	}
	s.subs[ch] = struct{}{}
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			if _, ok := s.subs[ch]; ok {
				delete(s.subs, ch)
				close(ch)
			}
			s.mu.Unlock()
		})
	}
}

func (s *Session) publishLocked(ev Event) {
	for ch := range s.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (s *Session) closeTablesLocked() {
	for id, dt := range s.tables {
		if err := dt.Close(); err != nil {
			s.log.Warn("closing grid table", zap.String("fileId", id), zap.Error(err))
		}
		delete(s.tables, id)
	}
}

// Close releases the grid tables and ends all subscriptions.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.closeTablesLocked()
	for ch := range s.subs {
		delete(s.subs, ch)
		close(ch)
	}
	os.Remove(s.tempDir)
}
