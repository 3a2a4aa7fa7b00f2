package deferred

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

// fakeBudget admits work until its allowance runs out. Critical always passes.
type fakeBudget struct {
	allowance int
	charged   float64
}

func (f *fakeBudget) CanAfford(class priority.Class, _ float64) bool {
	if class == priority.Critical {
		return true
	}
	if f.allowance <= 0 {
		return false
	}
	f.allowance--
	return true
}

func (f *fakeBudget) Charge(ms float64) { f.charged += ms }

func unlimited() *fakeBudget { return &fakeBudget{allowance: 1 << 30} }

func newTestQueue(maxSize int) (*Queue, *clock.Loop) {
	loop := clock.NewLoop(time.Unix(1000, 0), nil)
	cfg := config.Default().Deferred
	cfg.MaxSize = maxSize
	return NewQueue(cfg, loop), loop
}

func record(order *[]string, name string) func() {
	return func() { *order = append(*order, name) }
}

func TestQueue_OrdersByPriorityThenFIFO(t *testing.T) {
	q, _ := newTestQueue(0)
	var order []string

	require.True(t, q.Push(record(&order, "low-1"), priority.Low))
	require.True(t, q.Push(record(&order, "high-1"), priority.High))
	require.True(t, q.Push(record(&order, "crit"), priority.Critical))
	require.True(t, q.Push(record(&order, "high-2"), priority.High))
	require.True(t, q.Push(record(&order, "low-2"), priority.Low))
	require.True(t, q.Push(record(&order, "medium"), priority.Medium))

	assert.Equal(t, 6, q.Drain(unlimited(), 0))
	assert.Equal(t, []string{"crit", "high-1", "high-2", "medium", "low-1", "low-2"}, order)
	assert.Zero(t, q.Len())
}

func TestQueue_UpsertByKeyKeepsMostUrgent(t *testing.T) {
	q, _ := newTestQueue(0)
	var order []string

	q.Push(record(&order, "other"), priority.Medium)
	q.Push(record(&order, "first"), priority.Low, WithKey("refresh"))
	q.Push(record(&order, "second"), priority.High, WithKey("refresh"))
	q.Push(record(&order, "third"), priority.Low, WithKey("refresh"))

	require.Equal(t, 2, q.Len())
	head, ok := q.Peek()
	require.True(t, ok)
	assert.Equal(t, "refresh", head.Key)
	assert.Equal(t, priority.High, head.Priority)

	q.Drain(unlimited(), 0)
	// The latest callback runs at the most urgent priority seen
	assert.Equal(t, []string{"third", "other"}, order)

	st := q.Stats()
	assert.Equal(t, uint64(2), st.Enqueued)
	assert.Equal(t, uint64(2), st.Replaced)
}

func TestQueue_OverflowEvictsLowNeverCritical(t *testing.T) {
	q, _ := newTestQueue(4)
	var order []string

	q.Push(record(&order, "crit-1"), priority.Critical)
	q.Push(record(&order, "low-1"), priority.Low)
	q.Push(record(&order, "crit-2"), priority.Critical)
	q.Push(record(&order, "low-2"), priority.Low)

	require.True(t, q.Push(record(&order, "low-3"), priority.Low))
	assert.Equal(t, 4, q.Len())
	assert.Equal(t, uint64(1), q.Stats().Evicted)

	q.Drain(unlimited(), 0)
	// The oldest Low item goes first; both Critical items survive
	assert.Equal(t, []string{"crit-1", "crit-2", "low-2", "low-3"}, order)
}

func TestQueue_OverflowRejectsLeastUrgentNewcomer(t *testing.T) {
	q, _ := newTestQueue(2)
	q.Push(func() {}, priority.High)
	q.Push(func() {}, priority.Medium)

	assert.False(t, q.Push(func() {}, priority.Low))
	assert.Equal(t, 2, q.Len())
	assert.Equal(t, uint64(1), q.Stats().Rejected)

	// A more urgent newcomer displaces the Medium item
	assert.True(t, q.Push(func() {}, priority.High))
	items := q.Items()
	require.Len(t, items, 2)
	assert.Equal(t, priority.High, items[0].Priority)
	assert.Equal(t, priority.High, items[1].Priority)
}

func TestQueue_OverflowAllCriticalRejects(t *testing.T) {
	q, _ := newTestQueue(2)
	q.Push(func() {}, priority.Critical)
	q.Push(func() {}, priority.Critical)

	assert.False(t, q.Push(func() {}, priority.Critical))
	assert.Equal(t, 2, q.Len())
}

func TestQueue_OverflowPublishesEvent(t *testing.T) {
	loop := clock.NewLoop(time.Unix(0, 0), nil)
	bus := event.NewBus(nil)
	cfg := config.Default().Deferred
	cfg.MaxSize = 1
	q := NewQueue(cfg, loop, WithBus(bus))

	var got []event.DeferredOverflowEvent
	bus.Subscribe(event.TypeDeferredOverflow, func(e event.Event) {
		got = append(got, e.(event.DeferredOverflowEvent))
	})

	q.Push(func() {}, priority.Low, WithKey("a"))
	q.Push(func() {}, priority.Low, WithKey("b"))

	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].Key)
	assert.False(t, got[0].Rejected)
}

func TestQueue_InvalidInput(t *testing.T) {
	q, _ := newTestQueue(0)
	assert.False(t, q.Push(nil, priority.Low))
	assert.False(t, q.Push(func() {}, priority.Class(42)))
	assert.Zero(t, q.Len())
	assert.Equal(t, uint64(2), q.Stats().Invalid)
}

func TestQueue_DrainStopsWhenBudgetDenies(t *testing.T) {
	q, _ := newTestQueue(0)
	var order []string
	for _, name := range []string{"a", "b", "c"} {
		q.Push(record(&order, name), priority.Medium, WithCost(2))
	}

	b := &fakeBudget{allowance: 2}
	assert.Equal(t, 2, q.Drain(b, 0))
	assert.Equal(t, []string{"a", "b"}, order)
	assert.Equal(t, 1, q.Len())
	assert.Equal(t, 4.0, b.charged)
}

func TestQueue_DrainCriticalIgnoresBudget(t *testing.T) {
	q, _ := newTestQueue(0)
	ran := 0
	q.Push(func() { ran++ }, priority.Critical)
	q.Push(func() { ran++ }, priority.Low)

	assert.Equal(t, 1, q.Drain(&fakeBudget{}, 0))
	assert.Equal(t, 1, ran)
	assert.Equal(t, 1, q.Len())
}

func TestQueue_DrainIsolatesFailures(t *testing.T) {
	q, _ := newTestQueue(0)
	var order []string
	q.Push(func() { panic("broken item") }, priority.High)
	q.Push(record(&order, "after"), priority.High)

	assert.Equal(t, 2, q.Drain(unlimited(), 0))
	assert.Equal(t, []string{"after"}, order)

	st := q.Stats()
	assert.Equal(t, uint64(2), st.Ran)
	assert.Equal(t, uint64(1), st.Failed)
}

func TestQueue_DrainLimit(t *testing.T) {
	q, _ := newTestQueue(0)
	for range 5 {
		q.Push(func() {}, priority.Medium)
	}
	assert.Equal(t, 2, q.Drain(unlimited(), 2))
	assert.Equal(t, 3, q.Len())

	q.SetMaxPerTick(1)
	assert.Equal(t, 1, q.Drain(unlimited(), 0))
}

func TestQueue_WorkMayPushDuringDrain(t *testing.T) {
	q, _ := newTestQueue(0)
	var order []string
	q.Push(func() {
		order = append(order, "parent")
		q.Push(record(&order, "child"), priority.Low)
	}, priority.High)

	q.Drain(unlimited(), 0)
	assert.Equal(t, []string{"parent", "child"}, order)
}

func TestQueue_Remove(t *testing.T) {
	q, _ := newTestQueue(0)
	q.Push(func() {}, priority.Low, WithKey("x"))
	assert.True(t, q.Remove("x"))
	assert.False(t, q.Remove("x"))
	assert.Zero(t, q.Len())
}

func TestQueue_SetMaxSizeShrinks(t *testing.T) {
	q, _ := newTestQueue(0)
	q.Push(func() {}, priority.Critical)
	q.Push(func() {}, priority.Low)
	q.Push(func() {}, priority.Medium)

	q.SetMaxSize(2)
	require.Equal(t, 2, q.Len())
	items := q.Items()
	assert.Equal(t, priority.Critical, items[0].Priority)
	assert.Equal(t, priority.Medium, items[1].Priority)
}

func TestQueue_EnqueueTimeFromHost(t *testing.T) {
	q, loop := newTestQueue(0)
	loop.Advance(250 * time.Millisecond)
	q.Push(func() {}, priority.Low)

	head, ok := q.Peek()
	require.True(t, ok)
	assert.Equal(t, loop.Now(), head.EnqueuedAt)
	assert.NotEmpty(t, head.ID)
}
