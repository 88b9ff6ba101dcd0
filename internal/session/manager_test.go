package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stepdash/backend/internal/wizard"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestManager_CreateAndGet(t *testing.T) {
	m := newTestManager(t, 0)

	s, err := m.Create(wizard.DefaultFlow, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, s.Gate().CurrentStep)
	assert.Equal(t, 6, s.Gate().TotalSteps)

	got, err := m.Get(s.ID())
	require.NoError(t, err)
	assert.Same(t, s, got)

	_, err = m.Get("nope")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	_, err = m.Create("missing-flow", 0)
	assert.ErrorIs(t, err, wizard.ErrFlowNotFound)
}

func TestManager_Delete(t *testing.T) {
	m := newTestManager(t, 0)
	s, err := m.Create(wizard.DefaultFlow, 0)
	require.NoError(t, err)

	require.NoError(t, m.Delete(s.ID()))
	assert.ErrorIs(t, m.Delete(s.ID()), ErrSessionNotFound)
	assert.Equal(t, 0, m.Count())
	assert.False(t, m.TouchSession(s.ID()))
}

func TestManager_EvictsLeastRecentlyUsed(t *testing.T) {
	m := newTestManager(t, 2)

	first, err := m.Create(wizard.DefaultFlow, 0)
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	second, err := m.Create(wizard.DefaultFlow, 0)
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)

	// touching the first makes the second the oldest
	require.True(t, m.TouchSession(first.ID()))
	_, err = m.Create(wizard.DefaultFlow, 0)
	require.NoError(t, err)

	assert.Equal(t, 2, m.Count())
	_, err = m.Get(second.ID())
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = m.Get(first.ID())
	assert.NoError(t, err)
}

func TestManager_ConcurrentCreateRespectsLimit(t *testing.T) {
	const limit = 3
	m := newTestManager(t, limit)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.Create(wizard.DefaultFlow, 0)
			assert.NoError(t, err)
			assert.LessOrEqual(t, m.Count(), limit)
		}()
	}
	wg.Wait()
	assert.Equal(t, limit, m.Count())
}

func TestManager_CleanupOldSessions(t *testing.T) {
	m := newTestManager(t, 0)
	idle, err := m.Create(wizard.DefaultFlow, 0)
	require.NoError(t, err)
	active, err := m.Create(wizard.DefaultFlow, 0)
	require.NoError(t, err)

	m.mu.Lock()
	m.sessions[idle.ID()].lastAccessed = time.Now().Add(-time.Hour)
	m.mu.Unlock()

	assert.Equal(t, 1, m.CleanupOldSessions(30*time.Minute))
	_, err = m.Get(idle.ID())
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = m.Get(active.ID())
	assert.NoError(t, err)

	// the keep-alive window protects recent sessions even with a tiny max age
	assert.Equal(t, 0, m.CleanupOldSessions(time.Nanosecond))
}

func TestManager_RunCleanup(t *testing.T) {
	defer goleak.VerifyNone(t)

	m := newTestManager(t, 0)
	s, err := m.Create(wizard.DefaultFlow, 0)
	require.NoError(t, err)
	m.mu.Lock()
	m.sessions[s.ID()].lastAccessed = time.Now().Add(-time.Hour)
	m.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.RunCleanup(ctx, 5*time.Millisecond, time.Minute) }()

	require.Eventually(t, func() bool { return m.Count() == 0 }, time.Second, 5*time.Millisecond)
	cancel()
	assert.NoError(t, <-done)
}
