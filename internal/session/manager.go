// Package session owns the wizard sessions: each one bundles a navigation
// gate, a data bag, a data store and the DuckDB grid tables of its uploads.
package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stepdash/backend/internal/parser"
	"github.com/stepdash/backend/internal/wizard"
	"go.uber.org/zap"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionClosed   = errors.New("session closed")
)

// DefaultMaxSessions limits concurrent sessions to bound memory use.
const DefaultMaxSessions = 50

// KeepAliveWindow protects recently used sessions from cleanup.
const KeepAliveWindow = 5 * time.Minute

// Options configures a Manager.
type Options struct {
	TempDir     string
	MaxSessions int
	Duck        parser.DuckOptions
}

type entry struct {
	session      *Session
	lastAccessed time.Time
}

// Manager handles active wizard sessions.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*entry
	catalog  *wizard.Catalog
	opts     Options
	log      *zap.Logger
}

// NewManager creates a session manager. Sessions keep their grid tables
// under opts.TempDir.
func NewManager(catalog *wizard.Catalog, opts Options, log *zap.Logger) (*Manager, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.MaxSessions <= 0 {
		opts.MaxSessions = DefaultMaxSessions
	}
	if opts.TempDir == "" {
		opts.TempDir = filepath.Join(os.TempDir(), "stepdash")
	}
	if err := os.MkdirAll(opts.TempDir, 0755); err != nil {
		return nil, fmt.Errorf("creating temp directory: %w", err)
	}
	return &Manager{
		sessions: make(map[string]*entry),
		catalog:  catalog,
		opts:     opts,
		log:      log.Named("session"),
	}, nil
}

// Catalog returns the flow catalog sessions are created from.
func (m *Manager) Catalog() *wizard.Catalog { return m.catalog }

// Create starts a session walking the named flow.
func (m *Manager) Create(flowName string, initialStep int) (*Session, error) {
	flow, err := m.catalog.Get(flowName)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	dir := filepath.Join(m.opts.TempDir, id)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating session directory: %w", err)
	}
	s, err := newSession(id, flow, initialStep, dir, m.opts.Duck, m.log)
	if err != nil {
		os.Remove(dir)
		return nil, err
	}

	m.mu.Lock()
	evicted := m.evictLocked()
	m.sessions[id] = &entry{session: s, lastAccessed: time.Now()}
	m.mu.Unlock()

	for _, old := range evicted {
		old.Close()
	}

	m.log.Info("session created", zap.String("session", shortID(id)), zap.String("flow", flow.Name))
	return s, nil
}

// evictLocked removes the least recently used sessions until there is
// room for one more. The caller closes them after releasing m.mu.
func (m *Manager) evictLocked() []*Session {
	over := len(m.sessions) - m.opts.MaxSessions + 1
	if over <= 0 {
		return nil
	}

	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return m.sessions[ids[i]].lastAccessed.Before(m.sessions[ids[j]].lastAccessed)
	})

	var out []*Session
	for _, id := range ids[:over] {
		out = append(out, m.sessions[id].session)
		delete(m.sessions, id)
		m.log.Info("evicted session to stay under limit", zap.String("session", shortID(id)))
	}
	return out
}

// Get returns a session and refreshes its keep-alive timestamp.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	e.lastAccessed = time.Now()
	return e.session, nil
}

// TouchSession refreshes the keep-alive timestamp.
func (m *Manager) TouchSession(id string) bool {
	_, err := m.Get(id)
	return err == nil
}

// Delete closes and removes a session.
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	e, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	e.session.Close()
	m.log.Info("session deleted", zap.String("session", shortID(id)))
	return nil
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// CleanupOldSessions closes sessions idle for longer than maxAge and
// returns how many were removed.
func (m *Manager) CleanupOldSessions(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)
	keepAliveCutoff := time.Now().Add(-KeepAliveWindow)

	m.mu.Lock()
	var stale []*Session
	for id, e := range m.sessions {
		if e.lastAccessed.After(keepAliveCutoff) || !e.lastAccessed.Before(cutoff) {
			continue
		}
		stale = append(stale, e.session)
		delete(m.sessions, id)
		m.log.Info("cleaned up idle session",
			zap.String("session", shortID(id)),
			zap.Duration("idle", time.Since(e.lastAccessed).Round(time.Second)))
	}
	m.mu.Unlock()

	for _, s := range stale {
		s.Close()
	}
	return len(stale)
}

// RunCleanup calls CleanupOldSessions every interval until ctx is done.
func (m *Manager) RunCleanup(ctx context.Context, interval, maxAge time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.CleanupOldSessions(maxAge)
		}
	}
}

// Close closes every session.
func (m *Manager) Close() {
	m.mu.Lock()
	all := m.sessions
	m.sessions = make(map[string]*entry)
	m.mu.Unlock()
	for _, e := range all {
		e.session.Close()
	}
}
