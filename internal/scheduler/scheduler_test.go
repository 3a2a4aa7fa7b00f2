package scheduler

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Iron-Ham/pacer/internal/clock"
	"github.com/Iron-Ham/pacer/internal/coalesce"
	"github.com/Iron-Ham/pacer/internal/config"
	"github.com/Iron-Ham/pacer/internal/deferred"
	"github.com/Iron-Ham/pacer/internal/event"
	"github.com/Iron-Ham/pacer/internal/priority"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Tuner.Seed = 11
	cfg.State.Dir = t.TempDir()
	cfg.State.SaveIntervalSec = 1
	return cfg
}

func newTestScheduler(t *testing.T, cfg *config.Config, opts ...Option) (*Scheduler, *clock.Loop) {
	t.Helper()
	loop := clock.NewLoop(time.Unix(10_000, 0), nil)
	s, err := New(cfg, loop, nil, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Shutdown(context.Background()) })
	return s, loop
}

// frames drives n host frames: a tick, then 4ms of clock. Timers fire inside
// the frame's warning window so the budget admits them.
func frames(s *Scheduler, loop *clock.Loop, n int) {
	for range n {
		s.OnTick(4)
		loop.Advance(4 * time.Millisecond)
	}
}

func TestNew_RejectsBadInput(t *testing.T) {
	loop := clock.NewLoop(time.Unix(0, 0), nil)

	_, err := New(nil, loop, nil)
	assert.Error(t, err)

	_, err = New(config.Default(), nil, nil)
	assert.Error(t, err)

	cfg := config.Default()
	cfg.State.Backend = "sqlite"
	_, err = New(cfg, loop, nil)
	var verrs config.ValidationErrors
	assert.ErrorAs(t, err, &verrs)
}

func TestScheduler_CoalescesAndTunes(t *testing.T) {
	s, loop := newTestScheduler(t, testConfig(t), WithoutPersistence())

	var got [][]any
	ok := s.Register("BAG", coalesce.Func("bag", func(key string, args []any) {
		got = append(got, args)
	}), priority.Medium)
	require.True(t, ok)

	s.OnTick(4)
	for i := range 5 {
		assert.True(t, s.Submit("BAG", i))
	}
	// The first submit dispatches immediately, the rest fold into one.
	frames(s, loop, 25)

	require.Len(t, got, 2)
	assert.Equal(t, []any{4}, got[1])

	st := s.Stats()
	assert.Equal(t, uint64(5), st.Coalescer.Submitted)
	assert.Equal(t, uint64(2), st.Coalescer.Dispatched)
	assert.Equal(t, uint64(5), st.Tuner.Observed)
	assert.NotZero(t, st.Tuner.Trained)
	assert.Equal(t, uint64(26), st.Ticks)
}

func TestScheduler_DeferRunsOnTick(t *testing.T) {
	s, _ := newTestScheduler(t, testConfig(t), WithoutPersistence())

	var ran []string
	require.True(t, s.Defer(func() { ran = append(ran, "low") }, priority.Low))
	require.True(t, s.Defer(func() { ran = append(ran, "crit") }, priority.Critical, deferred.WithKey("c")))
	assert.False(t, s.Defer(nil, priority.Low))

	assert.Equal(t, 2, s.OnTick(16))
	assert.Equal(t, []string{"crit", "low"}, ran)
}

type label struct {
	name    string
	updates int
}

func (l *label) Name() string { return l.name }
func (l *label) UpdateAll()   { l.updates++ }

func TestScheduler_MarkDirtyRunsOnHostClock(t *testing.T) {
	s, loop := newTestScheduler(t, testConfig(t), WithoutPersistence())
	health := &label{name: "health"}

	assert.True(t, s.MarkDirty(health, "damage", 4))
	assert.True(t, s.MarkDirty(health, "heal", 2))
	assert.Equal(t, 1, s.Dirty().Stats().Queued)

	frames(s, loop, 5)
	assert.Equal(t, 1, health.updates)
	assert.Equal(t, uint64(1), s.Dirty().Stats().Processed)
	assert.Equal(t, uint64(1), s.Tuner().Stats().Observed, "fresh mark observed once")
}

func TestScheduler_PeriodicAndShutdownSave(t *testing.T) {
	cfg := testConfig(t)
	s, loop := newTestScheduler(t, cfg)
	path := filepath.Join(cfg.State.Dir, "tuner-state.json")

	_, err := os.Stat(path)
	require.True(t, os.IsNotExist(err))

	loop.Advance(time.Second)
	_, err = os.Stat(path)
	require.NoError(t, err, "periodic save wrote state")
	assert.Equal(t, uint64(1), s.Stats().Saves)

	require.NoError(t, s.Shutdown(context.Background()))
	assert.True(t, s.Closed())
	assert.Equal(t, uint64(2), s.Stats().Saves)
	require.NoError(t, s.Shutdown(context.Background()), "second shutdown is a no-op")
	assert.False(t, s.Submit("BAG"))
	assert.Zero(t, s.OnTick(16))
}

func TestScheduler_RestoresLearnedState(t *testing.T) {
	cfg := testConfig(t)

	first, _ := newTestScheduler(t, cfg)
	for i := range 20 {
		first.Tuner().TrackPattern([]string{"BAG", "BANK"}[i%2], "")
		first.Tuner().Train("BAG", "loot", 5, 20*time.Millisecond, true)
		first.Tuner().LearnDelay("BAG", 80*time.Millisecond, false)
	}
	want := first.Tuner().Snapshot()
	require.NoError(t, first.Shutdown(context.Background()))

	cfg.Tuner.Seed = 12
	second, _ := newTestScheduler(t, cfg)
	got := second.Tuner().Snapshot()

	assert.Equal(t, want.Network, got.Network)
	assert.Equal(t, want.Trained, got.Trained)
	assert.Equal(t, first.Tuner().GetOptimalDelay("BAG"), second.Tuner().GetOptimalDelay("BAG"))
	assert.Equal(t, first.Tuner().Predict("BAG", "loot"), second.Tuner().Predict("BAG", "loot"))
}

func TestScheduler_CorruptStateResets(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, os.WriteFile(filepath.Join(cfg.State.Dir, "tuner-state.json"), []byte(`{"version": 7}`), 0644))

	bus := event.NewBus(nil)
	var loaded []event.StateLoadedEvent
	bus.Subscribe(event.TypeStateLoaded, func(e event.Event) {
		loaded = append(loaded, e.(event.StateLoadedEvent))
	})

	s, _ := newTestScheduler(t, cfg, WithBus(bus))
	require.Len(t, loaded, 1)
	assert.True(t, loaded[0].Reset)
	assert.Zero(t, s.Tuner().Snapshot().Trained)
	assert.Same(t, bus, s.Bus())
}

func TestScheduler_ApplyConfig(t *testing.T) {
	s, _ := newTestScheduler(t, testConfig(t), WithoutPersistence())
	require.True(t, s.Tuner().Attached())

	bad := testConfig(t)
	bad.Budget.SampleSize = -1
	assert.Error(t, s.ApplyConfig(bad))
	assert.Equal(t, 120, s.Config().Budget.SampleSize, "rejected config is not applied")

	next := testConfig(t)
	next.Budget.SampleSize = 30
	next.Dirty.MaxPerBatch = 3
	next.Tuner.Enabled = false
	require.NoError(t, s.ApplyConfig(next))

	assert.Equal(t, 30, s.Budget().Config().SampleSize)
	assert.Equal(t, 3, s.Dirty().Config().MaxPerBatch)
	assert.False(t, s.Tuner().Attached())
}

func TestScheduler_HandleReloadPublishes(t *testing.T) {
	s, _ := newTestScheduler(t, testConfig(t), WithoutPersistence())

	var reloads []event.ConfigReloadedEvent
	s.Bus().Subscribe(event.TypeConfigReloaded, func(e event.Event) {
		reloads = append(reloads, e.(event.ConfigReloadedEvent))
	})

	assert.NoError(t, s.HandleReload("/tmp/pacer.yaml", config.Reload{Config: testConfig(t)}))
	assert.Error(t, s.HandleReload("/tmp/pacer.yaml", config.Reload{Err: assert.AnError}))

	require.Len(t, reloads, 2)
	assert.NoError(t, reloads[0].Err)
	assert.ErrorIs(t, reloads[1].Err, assert.AnError)
	assert.Equal(t, "/tmp/pacer.yaml", reloads[1].Path)
}

func TestScheduler_WithoutPersistence(t *testing.T) {
	s, loop := newTestScheduler(t, testConfig(t), WithoutPersistence())
	assert.Nil(t, s.Store())
	assert.NoError(t, s.Save(context.Background()))

	out, err := s.Restore(context.Background())
	require.NoError(t, err)
	assert.False(t, out.Restored)

	loop.Advance(5 * time.Second)
	assert.Zero(t, s.Stats().Saves)
}
