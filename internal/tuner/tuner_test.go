package tuner

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Iron-Ham/pacer/internal/clock"
	"github.com/Iron-Ham/pacer/internal/config"
	"github.com/Iron-Ham/pacer/internal/event"
	"github.com/Iron-Ham/pacer/internal/priority"
)

type fakeCoalescer struct {
	delays     map[string]time.Duration
	priorities map[string]priority.Class
}

func newFakeCoalescer() *fakeCoalescer {
	return &fakeCoalescer{
		delays:     make(map[string]time.Duration),
		priorities: make(map[string]priority.Class),
	}
}

func (f *fakeCoalescer) register(key string, d time.Duration, class priority.Class) {
	f.delays[key] = d
	f.priorities[key] = class
}

func (f *fakeCoalescer) Keys() []string {
	keys := make([]string, 0, len(f.delays))
	for k := range f.delays {
		keys = append(keys, k)
	}
	return keys
}

func (f *fakeCoalescer) Delay(key string) (time.Duration, bool) {
	d, ok := f.delays[key]
	return d, ok
}

func (f *fakeCoalescer) SetDelay(key string, d time.Duration) bool {
	if _, ok := f.delays[key]; !ok {
		return false
	}
	f.delays[key] = d
	return true
}

func (f *fakeCoalescer) Priority(key string) (priority.Class, bool) {
	c, ok := f.priorities[key]
	return c, ok
}

func (f *fakeCoalescer) SetPriority(key string, class priority.Class) bool {
	if _, ok := f.priorities[key]; !ok {
		return false
	}
	f.priorities[key] = class
	return true
}

type fakeDirty struct {
	raised map[string]priority.Level
}

func (f *fakeDirty) RaisePriority(name string, level priority.Level) int {
	f.raised[name] = level
	return 1
}

type fakeMetrics struct{ fps, avg float64 }

func (m fakeMetrics) FPS() float64     { return m.fps }
func (m fakeMetrics) Average() float64 { return m.avg }

func testConfig() config.TunerConfig {
	cfg := config.Default().Tuner
	cfg.Seed = 42
	return cfg
}

func newTestTuner(cfg config.TunerConfig, opts ...Option) (*Tuner, *clock.Loop) {
	loop := clock.NewLoop(time.Unix(5000, 0), nil)
	return New(cfg, loop, opts...), loop
}

func TestTuner_SeedIsDeterministic(t *testing.T) {
	a, _ := newTestTuner(testConfig())
	b, _ := newTestTuner(testConfig())
	assert.Equal(t, a.Snapshot().Network, b.Snapshot().Network)
}

func TestTuner_ExtractFeatures(t *testing.T) {
	cfg := testConfig()
	signals := SignalFunc(func(key, reason string) Signals {
		return Signals{Busy: true, GroupSize: 20, ContentClass: 7}
	})
	tu, loop := newTestTuner(cfg, WithSignals(signals), WithMetrics(fakeMetrics{fps: 35, avg: 25}))

	f := tu.ExtractFeatures("BAG", "")
	assert.Zero(t, f[0], "never seen")
	assert.Zero(t, f[1])

	for range 50 {
		tu.observe("BAG")
	}
	loop.Advance(cfg.RecencyWindow() / 4)
	f = tu.ExtractFeatures("BAG", "")

	assert.InDelta(t, 0.5, f[0], 1e-9)
	assert.InDelta(t, 0.75, f[1], 1e-9)
	assert.Equal(t, 1.0, f[2])
	assert.InDelta(t, 0.5, f[3], 1e-9)
	assert.InDelta(t, 1.0, f[4], 1e-9)
	assert.InDelta(t, 0.5, f[5], 1e-9)
	assert.InDelta(t, 0.75, f[6], 1e-9)

	for _, v := range f {
		assert.GreaterOrEqual(t, v, 0.0)
		assert.LessOrEqual(t, v, 1.0)
	}
}

func TestTuner_PredictRanges(t *testing.T) {
	tu, _ := newTestTuner(testConfig())
	p := tu.Predict("K", "")
	assert.GreaterOrEqual(t, p.Priority, 1)
	assert.LessOrEqual(t, p.Priority, 5)
	assert.GreaterOrEqual(t, p.Delay, time.Duration(0))
	assert.LessOrEqual(t, p.Delay, MaxPredictedDelay)
}

func TestTuner_TrainMovesPrediction(t *testing.T) {
	cfg := testConfig()
	cfg.LearningRate = 0.5
	tu, _ := newTestTuner(cfg)

	for range 3000 {
		tu.Train("K", "", 5, 20*time.Millisecond, true)
	}
	p := tu.Predict("K", "")
	assert.Equal(t, 5, p.Priority)
	assert.True(t, p.Preload)
	assert.InDelta(t, float64(20*time.Millisecond), float64(p.Delay), float64(15*time.Millisecond))
	assert.Equal(t, uint64(3000), tu.Stats().Trained)
}

func TestTuner_LearnDelayUsesContextClass(t *testing.T) {
	busy := false
	signals := SignalFunc(func(string, string) Signals { return Signals{Busy: busy} })
	tu, _ := newTestTuner(testConfig(), WithSignals(signals))

	tu.LearnDelay("K", 40*time.Millisecond, false)
	busy = true
	tu.LearnDelay("K", 80*time.Millisecond, true)

	solo, ok := tu.DelayStat("K", Solo)
	require.True(t, ok)
	assert.InDelta(t, 44.0, solo.DelayMs, 1e-9)
	assert.Equal(t, 80*time.Millisecond, tu.GetOptimalDelay("K"))

	busy = false
	assert.Equal(t, 44*time.Millisecond, tu.GetOptimalDelay("K"))
	assert.Equal(t, 50*time.Millisecond, tu.GetOptimalDelay("unseen"), "policy default")
}

func TestTuner_DeferredDispatchRaisesAndAppliesDelay(t *testing.T) {
	cfg := testConfig()
	cfg.ApplyEvery = 1
	bus := event.NewBus(nil)
	co := newFakeCoalescer()
	co.register("K", 50*time.Millisecond, priority.Medium)
	tu, loop := newTestTuner(cfg, WithBus(bus), WithCoalescer(co))
	tu.Attach()

	var adjusted []event.TunerDelayAdjustedEvent
	bus.Subscribe(event.TypeTunerDelayAdjusted, func(e event.Event) {
		adjusted = append(adjusted, e.(event.TunerDelayAdjustedEvent))
	})

	bus.Publish(event.NewCoalescerDeferredEvent(loop.Now(), "K", 50*time.Millisecond))

	assert.Equal(t, 55*time.Millisecond, co.delays["K"])
	require.Len(t, adjusted, 1)
	assert.Equal(t, 50*time.Millisecond, adjusted[0].Old)
	assert.Equal(t, 55*time.Millisecond, adjusted[0].New)
	assert.Equal(t, "solo", adjusted[0].Context)
}

func TestTuner_SuccessfulDispatchTrains(t *testing.T) {
	bus := event.NewBus(nil)
	co := newFakeCoalescer()
	co.register("K", 50*time.Millisecond, priority.High)
	tu, loop := newTestTuner(testConfig(), WithBus(bus), WithCoalescer(co))
	tu.Attach()

	bus.Publish(event.NewCoalescerSubmittedEvent(loop.Now(), "K", 1))
	bus.Publish(event.NewCoalescerDispatchedEvent(loop.Now(), "K", 1, 1, 0, 50*time.Millisecond, 50*time.Millisecond, time.Millisecond))

	st := tu.Stats()
	assert.Equal(t, uint64(1), st.Observed)
	assert.Equal(t, uint64(1), st.Trained)
	assert.Equal(t, 1, st.DelayEntries)
	assert.Equal(t, 50*time.Millisecond, co.delays["K"], "one success does not move the delay")
}

func TestTuner_RefreshRecommendsAndRaisesDirtyPriority(t *testing.T) {
	cfg := testConfig()
	cfg.PatternLength = 1
	bus := event.NewBus(nil)
	dirty := &fakeDirty{raised: make(map[string]priority.Level)}
	tu, loop := newTestTuner(cfg, WithBus(bus), WithDirty(dirty))
	tu.Attach()

	var recs []event.TunerRecommendationEvent
	bus.Subscribe(event.TypeTunerRecommendation, func(e event.Event) {
		recs = append(recs, e.(event.TunerRecommendationEvent))
	})

	for _, target := range []string{"bags", "bank", "bags", "bank", "bags"} {
		bus.Publish(event.NewDirtyMarkedEvent(loop.Now(), target, 3, "", true))
	}

	loop.Advance(cfg.RecommendInterval())
	require.Len(t, recs, 1)
	require.Len(t, recs[0].Recommendations, 1)
	assert.Equal(t, "bank", recs[0].Recommendations[0].Key)
	assert.Equal(t, 1.0, recs[0].Recommendations[0].Probability)
	assert.Contains(t, dirty.raised, "bank")
	assert.Equal(t, uint64(1), tu.Stats().Refreshes)
}

func TestTuner_ApplyPriorityNeverTouchesCritical(t *testing.T) {
	cfg := testConfig()
	cfg.ApplyPriority = true
	co := newFakeCoalescer()
	co.register("COMBAT", 10*time.Millisecond, priority.Critical)
	tu, _ := newTestTuner(cfg, WithCoalescer(co))

	tu.Refresh()
	assert.Equal(t, priority.Critical, co.priorities["COMBAT"])
}

func TestTuner_ApplyPriorityFollowsPrediction(t *testing.T) {
	cfg := testConfig()
	cfg.ApplyPriority = true
	cfg.LearningRate = 0.5
	co := newFakeCoalescer()
	co.register("BAG", 10*time.Millisecond, priority.Low)
	tu, _ := newTestTuner(cfg, WithCoalescer(co))
	for range 3000 {
		tu.Train("BAG", "priority", 5, 0, false)
	}

	tu.Refresh()
	assert.Equal(t, priority.High, co.priorities["BAG"])
	assert.Equal(t, uint64(1), tu.Stats().PriorityAdjustments)
}

func TestTuner_DetachStopsObserving(t *testing.T) {
	bus := event.NewBus(nil)
	tu, loop := newTestTuner(testConfig(), WithBus(bus))
	tu.Attach()
	tu.Attach()
	assert.Equal(t, 5, bus.SubscriptionCount())

	tu.Detach()
	assert.False(t, tu.Attached())
	assert.Zero(t, bus.SubscriptionCount())

	bus.Publish(event.NewCoalescerSubmittedEvent(loop.Now(), "K", 1))
	assert.Zero(t, tu.Stats().Observed)
}

func TestTuner_SnapshotRestoreKeepsPredictions(t *testing.T) {
	tu, loop := newTestTuner(testConfig())
	for i := range 50 {
		tu.observe("K")
		tu.TrackPattern([]string{"A", "B", "C"}[i%3], "")
		tu.Train("K", "", 4, 30*time.Millisecond, i%2 == 0)
		tu.LearnDelay("K", 40*time.Millisecond, i%4 != 0)
	}
	loop.Advance(time.Second)
	want := tu.Predict("K", "")
	wantNext := tu.PredictNextUpdates()
	snap := tu.Snapshot()

	fresh, _ := newTestTuner(testConfig())
	fresh.host = loop
	require.NoError(t, fresh.Restore(snap))

	assert.Equal(t, want, fresh.Predict("K", ""))
	assert.Equal(t, wantNext, fresh.PredictNextUpdates())
	assert.Equal(t, tu.GetOptimalDelay("K"), fresh.GetOptimalDelay("K"))
	assert.Equal(t, snap.Network, fresh.Snapshot().Network)
}

func TestTuner_SnapshotRestoreWithSeparatorKeys(t *testing.T) {
	tu, _ := newTestTuner(testConfig())
	for range 3 {
		for _, key := range []string{"unit|health", "unit|power", "bag"} {
			tu.TrackPattern(key, "")
		}
	}
	snap := tu.Snapshot()

	fresh, _ := newTestTuner(testConfig())
	require.NoError(t, fresh.Restore(snap))
	assert.Equal(t, tu.PredictNextUpdates(), fresh.PredictNextUpdates())
	assert.NotEmpty(t, fresh.PredictNextUpdates())
}

func TestTuner_RestoreRejectsInvalidSnapshotWhole(t *testing.T) {
	tu, _ := newTestTuner(testConfig())
	tu.LearnDelay("K", 40*time.Millisecond, true)
	before := tu.Snapshot()

	bad := before.Clone()
	bad.Network.W1 = bad.Network.W1[:1]
	bad.Delays["other"] = map[string]DelayStat{"solo": {DelayMs: 20}}
	assert.Error(t, tu.Restore(bad))

	assert.Equal(t, before, tu.Snapshot(), "nothing from the rejected snapshot was adopted")
}

func TestTuner_SnapshotClampsDelays(t *testing.T) {
	tu, _ := newTestTuner(testConfig())
	tu.LearnDelay("K", 40*time.Millisecond, true)
	// Simulate drift past the policy
	tu.delays.stats["K"][Solo].DelayMs = 10_000

	snap := tu.Snapshot()
	assert.Equal(t, 200.0, snap.Delays["K"]["solo"].DelayMs)
}

func TestTuner_Reset(t *testing.T) {
	tu, _ := newTestTuner(testConfig())
	tu.LearnDelay("K", 40*time.Millisecond, true)
	tu.TrackPattern("A", "")
	tu.TrackPattern("B", "")
	tu.Train("K", "", 3, 0, false)

	tu.Reset()
	st := tu.Stats()
	assert.Zero(t, st.Trained)
	assert.Zero(t, st.Patterns)
	assert.Zero(t, st.DelayEntries)
	assert.Empty(t, tu.PredictNextUpdates())
}
