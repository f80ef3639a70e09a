package statusstore

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/cmdgrid/internal/command"
)

func TestStore_ExecutedLifecycle(t *testing.T) {
	s := New([]string{"a"})
	t0 := time.Now()

	assert.Equal(t, Unscheduled, s.Get("a").State)
	require.NoError(t, s.Schedule("a", t0))
	require.NoError(t, s.Start("a", t0.Add(time.Second)))
	require.NoError(t, s.Finish("a", t0.Add(2*time.Second), command.CommandOutput{ExitCode: 1}))

	st := s.Get("a")
	assert.Equal(t, Finished, st.State)
	assert.Equal(t, t0, st.ScheduledAt)
	assert.Equal(t, t0.Add(time.Second), st.StartedAt)
	assert.Equal(t, t0.Add(2*time.Second), st.FinishedAt)
	assert.Equal(t, 1, st.Output.ExitCode)
	assert.False(t, st.Cached)
	assert.True(t, s.Done())
}

func TestStore_CachedLifecycle(t *testing.T) {
	s := New([]string{"a"})
	require.NoError(t, s.Schedule("a", time.Now()))
	require.NoError(t, s.FinishCached("a", time.Now(), command.CommandOutput{}))

	st := s.Get("a")
	assert.Equal(t, Finished, st.State)
	assert.True(t, st.Cached)
	assert.True(t, st.StartedAt.IsZero())
}

func TestStore_Blocked(t *testing.T) {
	s := New([]string{"a", "b"})
	require.NoError(t, s.Block("b", "a"))
	assert.Equal(t, "a", s.Get("b").BlockedBy)
	assert.False(t, s.Done(), "a is still unscheduled")

	require.NoError(t, s.Schedule("a", time.Now()))
	require.NoError(t, s.Block("a", "upstream"))
	assert.True(t, s.Done())
	assert.Equal(t, map[State]int{Blocked: 2}, s.Count())
}

func TestStore_IllegalTransitions(t *testing.T) {
	testCases := []struct {
		name  string
		setup func(s *Store)
		act   func(s *Store) error
		from  State
		to    State
	}{
		{"start before schedule", func(s *Store) {}, func(s *Store) error { return s.Start("a", time.Now()) }, Unscheduled, Running},
		{"finish before start", func(s *Store) { s.Schedule("a", time.Now()) }, func(s *Store) error {
			return s.Finish("a", time.Now(), command.CommandOutput{})
		}, Scheduled, Finished},
		{"schedule twice", func(s *Store) { s.Schedule("a", time.Now()) }, func(s *Store) error { return s.Schedule("a", time.Now()) }, Scheduled, Scheduled},
		{"block running", func(s *Store) {
			s.Schedule("a", time.Now())
			s.Start("a", time.Now())
		}, func(s *Store) error { return s.Block("a", "x") }, Running, Blocked},
		{"restart finished", func(s *Store) {
			s.Schedule("a", time.Now())
			s.FinishCached("a", time.Now(), command.CommandOutput{})
		}, func(s *Store) error { return s.Start("a", time.Now()) }, Finished, Running},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			s := New([]string{"a"})
			tc.setup(s)
			before := s.Get("a")

			err := tc.act(s)

			var terr *TransitionError
			require.ErrorAs(t, err, &terr)
			assert.Equal(t, tc.from, terr.From)
			assert.Equal(t, tc.to, terr.To)
			assert.Equal(t, before, s.Get("a"), "a rejected transition leaves the status untouched")
		})
	}
}

func TestStore_ConcurrentCommands(t *testing.T) {
	names := []string{"a", "b", "c", "d", "e", "f", "g", "h"}
	s := New(names)

	var wg sync.WaitGroup
	for _, name := range names {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.Schedule(name, time.Now()))
			assert.NoError(t, s.Start(name, time.Now()))
			assert.NoError(t, s.Finish(name, time.Now(), command.CommandOutput{}))
		}()
	}
	wg.Wait()

	assert.True(t, s.Done())
	assert.Equal(t, map[State]int{Finished: len(names)}, s.Count())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "blocked", Blocked.String())
	assert.Equal(t, "State(42)", State(42).String())
}
