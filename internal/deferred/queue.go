// Package deferred holds work that could not be admitted in the current tick.
//
// Items run in priority order, Critical first, and FIFO within a priority. An
// item pushed with a key replaces any queued item with the same key and keeps
// the more urgent of the two priorities. When the queue is full the least
// urgent, oldest item is evicted; Critical items are never evicted.
package deferred

import (
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/Iron-Ham/pacer/internal/clock"
	"github.com/Iron-Ham/pacer/internal/config"
	"github.com/Iron-Ham/pacer/internal/errors"
	"github.com/Iron-Ham/pacer/internal/event"
	"github.com/Iron-Ham/pacer/internal/logging"
	"github.com/Iron-Ham/pacer/internal/priority"
	"github.com/Iron-Ham/pacer/internal/safecall"
)

// Budget is the admission control Drain consults before running each item.
type Budget interface {
	CanAfford(class priority.Class, costMs float64) bool
	Charge(ms float64)
}

// Item is a queued unit of work.
type Item struct {
	ID         string
	Key        string
	Priority   priority.Class
	CostMs     float64
	EnqueuedAt time.Time

	seq  uint64
	work func()
}

// PushOption configures an item at push time.
type PushOption func(*pushOptions)

type pushOptions struct {
	key     string
	cost    float64
	hasCost bool
}

// WithKey deduplicates the item against queued items with the same key.
func WithKey(key string) PushOption {
	return func(o *pushOptions) { o.key = key }
}

// WithCost sets the estimated cost used for admission.
func WithCost(ms float64) PushOption {
	return func(o *pushOptions) {
		o.cost = ms
		o.hasCost = true
	}
}

// Option configures a Queue.
type Option func(*Queue)

// WithLogger sets the queue's logger.
func WithLogger(l *logging.Logger) Option {
	return func(q *Queue) { q.logger = logging.OrNop(l).WithComponent("deferred") }
}

// WithBus publishes drain and overflow events.
func WithBus(b *event.Bus) Option {
	return func(q *Queue) { q.bus = b }
}

// Stats counts queue activity since creation.
type Stats struct {
	Len      int    `json:"len"`
	MaxSize  int    `json:"max_size"`
	Enqueued uint64 `json:"enqueued"`
	Replaced uint64 `json:"replaced"`
	Evicted  uint64 `json:"evicted"`
	Rejected uint64 `json:"rejected"`
	Invalid  uint64 `json:"invalid"`
	Ran      uint64 `json:"ran"`
	Failed   uint64 `json:"failed"`
}

// Queue is a bounded priority queue of deferred work. It is not safe for
// concurrent use; it belongs to the host's update thread.
type Queue struct {
	host        clock.Host
	logger      *logging.Logger
	bus         *event.Bus
	maxSize     int
	defaultCost float64
	maxPerTick  int

	items []*Item
	byKey map[string]*Item
	seq   uint64
	stats Stats
}

// NewQueue creates a Queue. A MaxSize of 0 leaves it unbounded.
func NewQueue(cfg config.DeferredConfig, host clock.Host, opts ...Option) *Queue {
	q := &Queue{
		host:        host,
		logger:      logging.NopLogger(),
		maxSize:     cfg.MaxSize,
		defaultCost: cfg.DefaultCostMs,
		maxPerTick:  cfg.MaxPerTick,
		byKey:       make(map[string]*Item),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Push queues work at the given priority and reports whether it was accepted.
// A nil work function or an unknown priority is rejected as invalid input.
func (q *Queue) Push(work func(), class priority.Class, opts ...PushOption) bool {
	if work == nil || !class.Valid() {
		q.stats.Invalid++
		q.logger.Debug("rejected deferred item",
			"error", errors.NewSchedulerError(errors.KindInvalidInput, "nil work or invalid priority", nil).
				WithComponent("deferred").Error(),
		)
		return false
	}

	var o pushOptions
	for _, opt := range opts {
		opt(&o)
	}
	cost := q.defaultCost
	if o.hasCost && o.cost >= 0 {
		cost = o.cost
	}

	if o.key != "" {
		if existing, ok := q.byKey[o.key]; ok {
			q.replace(existing, work, class, cost, o.hasCost)
			return true
		}
	}

	if q.maxSize > 0 && len(q.items) >= q.maxSize {
		if !q.makeRoom(class, o.key) {
			return false
		}
	}

	q.seq++
	item := &Item{
		ID:         uuid.NewString(),
		Key:        o.key,
		Priority:   class,
		CostMs:     cost,
		EnqueuedAt: q.host.Now(),
		seq:        q.seq,
		work:       work,
	}
	q.insert(item)
	if item.Key != "" {
		q.byKey[item.Key] = item
	}
	q.stats.Enqueued++
	return true
}

func (q *Queue) replace(existing *Item, work func(), class priority.Class, cost float64, hasCost bool) {
	existing.work = work
	if hasCost {
		existing.CostMs = cost
	}
	q.stats.Replaced++

	urgent := priority.MoreUrgent(existing.Priority, class)
	if urgent != existing.Priority {
		q.removeAt(q.indexOf(existing))
		existing.Priority = urgent
		q.insert(existing)
		q.byKey[existing.Key] = existing
	}
}

// makeRoom evicts one item to fit an incoming item of class. It refuses when
// every queued item is Critical or when the incoming item would itself be the
// least urgent entry.
func (q *Queue) makeRoom(class priority.Class, key string) bool {
	victim := q.evictionCandidate()
	if victim == -1 || class > q.items[victim].Priority {
		q.stats.Rejected++
		q.overflow("", key, class, true)
		return false
	}

	evicted := q.items[victim]
	q.removeAt(victim)
	q.stats.Evicted++
	q.overflow(evicted.ID, evicted.Key, evicted.Priority, false)
	return true
}

// evictionCandidate returns the index of the oldest item in the least urgent
// non-Critical class, or -1 when only Critical items are queued.
func (q *Queue) evictionCandidate() int {
	victim := -1
	for i := len(q.items) - 1; i >= 0; i-- {
		it := q.items[i]
		if it.Priority == priority.Critical {
			break
		}
		if victim == -1 || it.Priority == q.items[victim].Priority {
			victim = i
			continue
		}
		break
	}
	return victim
}

func (q *Queue) overflow(id, key string, class priority.Class, rejected bool) {
	err := errors.NewSchedulerError(errors.KindQueueOverflow, "deferred queue full", nil).
		WithComponent("deferred").
		WithKey(key)
	if rejected {
		q.logger.Warn("rejected deferred item", "priority", class.String(), "error", err.Error())
	} else {
		q.logger.Warn("evicted deferred item", "id", id, "priority", class.String(), "error", err.Error())
	}
	if q.bus != nil {
		q.bus.Publish(event.NewDeferredOverflowEvent(q.host.Now(), id, key, class, rejected))
	}
}

// insert places item after every item of equal or greater urgency with a
// smaller sequence number.
func (q *Queue) insert(item *Item) {
	idx, _ := slices.BinarySearchFunc(q.items, item, func(a, b *Item) int {
		if a.Priority != b.Priority {
			return int(a.Priority) - int(b.Priority)
		}
		switch {
		case a.seq < b.seq:
			return -1
		case a.seq > b.seq:
			return 1
		}
		return 0
	})
	q.items = slices.Insert(q.items, idx, item)
}

func (q *Queue) indexOf(item *Item) int {
	return slices.Index(q.items, item)
}

func (q *Queue) removeAt(i int) *Item {
	if i < 0 || i >= len(q.items) {
		return nil
	}
	item := q.items[i]
	q.items = slices.Delete(q.items, i, i+1)
	if item.Key != "" && q.byKey[item.Key] == item {
		delete(q.byKey, item.Key)
	}
	return item
}

// Peek returns a copy of the most urgent item without removing it.
func (q *Queue) Peek() (Item, bool) {
	if len(q.items) == 0 {
		return Item{}, false
	}
	it := *q.items[0]
	it.work = nil
	return it, true
}

// Remove drops the item queued under key and reports whether one existed.
func (q *Queue) Remove(key string) bool {
	item, ok := q.byKey[key]
	if !ok {
		return false
	}
	q.removeAt(q.indexOf(item))
	return true
}

// Drain runs queued items in order while b admits them, up to limit items.
// A limit of 0 uses the configured per-tick maximum, and if that is also 0 only
// the budget limits the pass. Each item runs isolated; a failing item does not
// stop the pass. Returns the number of items run.
func (q *Queue) Drain(b Budget, limit int) int {
	if limit <= 0 {
		limit = q.maxPerTick
	}

	ran, failed := 0, 0
	for len(q.items) > 0 && (limit <= 0 || ran < limit) {
		head := q.items[0]
		if !b.CanAfford(head.Priority, head.CostMs) {
			break
		}
		q.removeAt(0)

		site := safecall.Site{Component: "deferred", Key: head.Key}
		if _, err := safecall.Invoke(q.logger, site, q.host.Now, head.work); err != nil {
			failed++
			q.stats.Failed++
		}
		b.Charge(head.CostMs)
		ran++
		q.stats.Ran++
	}

	if ran > 0 && q.bus != nil {
		q.bus.Publish(event.NewDeferredDrainedEvent(q.host.Now(), ran, failed, len(q.items)))
	}
	return ran
}

// Len returns the number of queued items.
func (q *Queue) Len() int { return len(q.items) }

// Items returns the queued items in execution order.
func (q *Queue) Items() []Item {
	out := make([]Item, len(q.items))
	for i, it := range q.items {
		out[i] = *it
		out[i].work = nil
	}
	return out
}

// SetMaxSize changes the capacity, evicting the least urgent non-Critical
// items when the queue shrinks below its current length.
func (q *Queue) SetMaxSize(n int) {
	q.maxSize = max(n, 0)
	for q.maxSize > 0 && len(q.items) > q.maxSize {
		victim := q.evictionCandidate()
		if victim == -1 {
			return
		}
		evicted := q.removeAt(victim)
		q.stats.Evicted++
		q.overflow(evicted.ID, evicted.Key, evicted.Priority, false)
	}
}

// SetMaxPerTick changes the default drain limit.
func (q *Queue) SetMaxPerTick(n int) { q.maxPerTick = max(n, 0) }

// SetConfig applies capacity, drain limit and default cost. Queued items keep
// the cost they were pushed with.
func (q *Queue) SetConfig(cfg config.DeferredConfig) {
	q.defaultCost = cfg.DefaultCostMs
	q.SetMaxPerTick(cfg.MaxPerTick)
	q.SetMaxSize(cfg.MaxSize)
}

// Stats returns a snapshot of the queue counters.
func (q *Queue) Stats() Stats {
	s := q.stats
	s.Len = len(q.items)
	s.MaxSize = q.maxSize
	return s
}
