// Package dirty tracks which targets need an update and refreshes them in
// budget-sized, priority-ordered batches.
//
// Each tracked target carries a continuous priority in [1, 5]. Marking a
// target dirty raises its priority; processing it resets the priority to 3.
// Entries that wait long enough decay toward 1. Processing runs in passes
// scheduled on the host timer and never nests: a target that marks itself or
// others dirty from inside its update is queued for a later pass.
package dirty

import (
	"slices"
	"time"

	"github.com/Iron-Ham/pacer/internal/clock"
	"github.com/Iron-Ham/pacer/internal/config"
	"github.com/Iron-Ham/pacer/internal/errors"
	"github.com/Iron-Ham/pacer/internal/event"
	"github.com/Iron-Ham/pacer/internal/logging"
	"github.com/Iron-Ham/pacer/internal/priority"
	"github.com/Iron-Ham/pacer/internal/safecall"
)

// maxReasons bounds the reasons kept per entry; older reasons are dropped first.
const maxReasons = 32

// maxFlushPasses bounds ProcessAll when targets keep re-marking themselves.
const maxFlushPasses = 16

// Budget is the admission control and batch sizing the tracker relies on.
type Budget interface {
	CanAfford(class priority.Class, costMs float64) bool
	Charge(ms float64)
	AdaptiveBatchSize(base int) int
	AdaptiveBatchInterval(base time.Duration) time.Duration
}

type entry struct {
	target   any
	name     string
	dirty    bool
	queued   bool
	reasons  []string
	markedAt time.Time
	priority priority.Level
	updates  uint64
	failures uint64
}

func (e *entry) reset() {
	e.dirty = false
	e.queued = false
	e.reasons = nil
	e.markedAt = time.Time{}
	e.priority = priority.DefaultLevel
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithLogger sets the tracker's logger.
func WithLogger(l *logging.Logger) Option {
	return func(t *Tracker) { t.logger = logging.OrNop(l).WithComponent("dirty") }
}

// WithBus publishes marked, processed and dropped events.
func WithBus(b *event.Bus) Option {
	return func(t *Tracker) { t.bus = b }
}

// Tracker owns the dirty map and queue. It is not safe for concurrent use; it
// belongs to the host's update thread.
type Tracker struct {
	host   clock.Host
	budget Budget
	logger *logging.Logger
	bus    *event.Bus
	cfg    config.DirtyConfig

	entries map[any]*entry
	queue   []*entry

	processing    bool
	passScheduled bool
	passGen       uint64
	lastDecay     time.Time

	stats Stats
}

// New creates a Tracker.
func New(cfg config.DirtyConfig, host clock.Host, budget Budget, opts ...Option) *Tracker {
	t := &Tracker{
		host:      host,
		budget:    budget,
		logger:    logging.NopLogger(),
		cfg:       cfg,
		entries:   make(map[any]*entry),
		lastDecay: host.Now(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// MarkDirty marks target dirty at the default priority.
func (t *Tracker) MarkDirty(target any, reason string) bool {
	return t.MarkDirtyWithPriority(target, reason, priority.DefaultLevel)
}

// MarkDirtyWithPriority registers target on first use, flags it dirty and
// records reason. The stored priority becomes the higher of its current value
// and level; a clean entry starts from the default priority.
// Returns false when target is not trackable or the queue is full of more
// urgent entries.
func (t *Tracker) MarkDirtyWithPriority(target any, reason string, level priority.Level) bool {
	if !trackable(target) {
		t.stats.Rejected++
		err := errors.NewSchedulerError(errors.KindInvalidInput, "target is nil, not comparable, or has no update capability", nil).
			WithComponent("dirty")
		t.logger.Debug("rejected mark", "error", err.Error())
		return false
	}
	level = level.Clamp()
	now := t.host.Now()

	e, ok := t.entries[target]
	if !ok {
		e = &entry{target: target, name: nameOf(target), priority: priority.DefaultLevel}
		t.entries[target] = e
	}

	fresh := !e.dirty
	if fresh {
		if !t.makeRoom(max(e.priority, level)) {
			if !ok {
				delete(t.entries, target)
			}
			return false
		}
		e.dirty = true
		e.markedAt = now
		e.queued = true
		t.queue = append(t.queue, e)
	}
	e.priority = max(e.priority, level)

	if reason != "" {
		e.reasons = append(e.reasons, reason)
		if len(e.reasons) > maxReasons {
			e.reasons = slices.Delete(e.reasons, 0, len(e.reasons)-maxReasons)
		}
	}
	t.stats.Marked++
	if t.bus != nil {
		t.bus.Publish(event.NewDirtyMarkedEvent(now, e.name, e.priority, reason, fresh))
	}

	if !t.processing {
		t.schedulePass(t.cfg.ProcessDelay())
	}
	return true
}

// makeRoom evicts the least urgent, oldest queued entry when the queue is at
// capacity. It refuses when the incoming priority is below every queued entry.
func (t *Tracker) makeRoom(level priority.Level) bool {
	if t.cfg.MaxQueued <= 0 || len(t.queue) < t.cfg.MaxQueued {
		return true
	}
	victim := -1
	for i, e := range t.queue {
		if victim == -1 || e.priority < t.queue[victim].priority {
			victim = i
		}
	}
	if victim == -1 || level < t.queue[victim].priority {
		t.stats.Overflow++
		t.logger.Warn("dirty queue full",
			"error", errors.NewSchedulerError(errors.KindQueueOverflow, "incoming mark rejected", nil).
				WithComponent("dirty").Error(),
		)
		return false
	}

	e := t.queue[victim]
	t.queue = slices.Delete(t.queue, victim, victim+1)
	e.reset()
	t.stats.Overflow++
	t.stats.Evicted++
	t.logger.Warn("dirty queue full",
		"error", errors.NewSchedulerError(errors.KindQueueOverflow, "evicted queued target", nil).
			WithComponent("dirty").WithKey(e.name).Error(),
	)
	if t.bus != nil {
		t.bus.Publish(event.NewDirtyDroppedEvent(t.host.Now(), e.name, "evicted"))
	}
	return true
}

// IsDirty reports whether target is currently flagged dirty.
func (t *Tracker) IsDirty(target any) bool {
	if !trackable(target) {
		return false
	}
	e, ok := t.entries[target]
	return ok && e.dirty
}

// ClearDirty clears target without updating it. Returns false if it was not dirty.
func (t *Tracker) ClearDirty(target any) bool {
	if !trackable(target) {
		return false
	}
	e, ok := t.entries[target]
	if !ok || !e.dirty {
		return false
	}
	t.dequeue(e)
	e.reset()
	return true
}

// Untrack forgets target entirely. Returns false if it was not tracked.
func (t *Tracker) Untrack(target any) bool {
	if !trackable(target) {
		return false
	}
	e, ok := t.entries[target]
	if !ok {
		return false
	}
	t.dequeue(e)
	delete(t.entries, target)
	return true
}

func (t *Tracker) dequeue(e *entry) {
	if !e.queued {
		return
	}
	if i := slices.Index(t.queue, e); i >= 0 {
		t.queue = slices.Delete(t.queue, i, i+1)
	}
	e.queued = false
}

func (t *Tracker) schedulePass(d time.Duration) {
	if t.passScheduled {
		return
	}
	t.passScheduled = true
	gen := t.passGen
	t.host.After(d, func() {
		if gen != t.passGen {
			return
		}
		t.passScheduled = false
		t.ProcessDirty(0)
	})
}

// ProcessDirty runs one pass over the queue and returns how many targets were
// updated. maxItems of 0 uses the configured batch size; either way the size
// is scaled by the budget. A call made while a pass is running returns 0.
func (t *Tracker) ProcessDirty(maxItems int) int {
	if t.processing {
		t.stats.ReentrancyBlocked++
		return 0
	}
	base := maxItems
	if base <= 0 {
		base = t.cfg.MaxPerBatch
	}
	return t.pass(t.budget.AdaptiveBatchSize(base), true)
}

// ProcessAll drains the queue ignoring batch limits. It stops when the queue
// is empty or a pass updates nothing, for instance because the budget refuses.
func (t *Tracker) ProcessAll() int {
	if t.processing {
		t.stats.ReentrancyBlocked++
		return 0
	}
	total := 0
	for range maxFlushPasses {
		if len(t.queue) == 0 {
			break
		}
		n := t.pass(len(t.queue), false)
		total += n
		if n == 0 {
			break
		}
	}
	if len(t.queue) > 0 {
		t.scheduleFollowUp()
	}
	return total
}

func (t *Tracker) pass(limit int, followUp bool) int {
	t.processing = true
	defer func() { t.processing = false }()

	// A manual pass supersedes any scheduled one
	t.passGen++
	t.passScheduled = false
	t.stats.Passes++

	now := t.host.Now()
	t.decay(now)

	if t.cfg.PriorityOrdering {
		slices.SortStableFunc(t.queue, func(a, b *entry) int {
			switch {
			case a.priority > b.priority:
				return -1
			case a.priority < b.priority:
				return 1
			}
			return 0
		})
	}

	// Entries marked during this pass land after end and wait for the next one
	end := len(t.queue)
	processed := 0
	for end > 0 && processed < limit {
		e := t.queue[0]

		update, ok := resolve(e.target)
		if !ok {
			t.queue = t.queue[1:]
			end--
			t.drop(e)
			continue
		}

		class := e.priority.Class()
		if !t.budget.CanAfford(class, t.cfg.EstimatedCostMs) {
			t.stats.BudgetDeferred++
			break
		}
		t.queue = t.queue[1:]
		end--

		level := e.priority
		waited := t.host.Now().Sub(e.markedAt)
		// Clear first so a target that marks itself dirty again is kept
		e.reset()

		site := safecall.Site{Component: "dirty", Key: e.name}
		took, err := safecall.Invoke(t.logger, site, t.host.Now, update)
		t.budget.Charge(t.cfg.EstimatedCostMs)
		e.updates++
		t.stats.Processed++
		if err != nil {
			e.failures++
			t.stats.Failures++
		}
		processed++

		if t.bus != nil {
			t.bus.Publish(event.NewDirtyProcessedEvent(t.host.Now(), e.name, level, waited, took, err))
		}
	}

	if followUp && len(t.queue) > 0 {
		t.scheduleFollowUp()
	}
	return processed
}

func (t *Tracker) scheduleFollowUp() {
	t.stats.FollowUps++
	t.schedulePass(t.budget.AdaptiveBatchInterval(t.cfg.ProcessInterval()))
}

func (t *Tracker) drop(e *entry) {
	t.stats.Invalid++
	delete(t.entries, e.target)
	e.reset()
	err := errors.NewSchedulerError(errors.KindTargetInvalid, "target no longer valid", nil).
		WithComponent("dirty").
		WithKey(e.name)
	t.logger.Debug("dropped dirty target", "error", err.Error())
	if t.bus != nil {
		t.bus.Publish(event.NewDirtyDroppedEvent(t.host.Now(), e.name, "invalid"))
	}
}

// decay lowers the priority of entries that have waited at least DecayAge,
// at most once per DecayInterval.
func (t *Tracker) decay(now time.Time) {
	interval := t.cfg.DecayInterval()
	if interval <= 0 || t.cfg.DecayStep <= 0 || now.Sub(t.lastDecay) < interval {
		return
	}
	t.lastDecay = now
	t.stats.Decays++

	age := t.cfg.DecayAge()
	for _, e := range t.queue {
		if now.Sub(e.markedAt) >= age {
			e.priority = e.priority.Decay(t.cfg.DecayStep)
		}
	}
}

// RaisePriority raises every dirty entry named name to at least level and
// returns how many entries changed.
func (t *Tracker) RaisePriority(name string, level priority.Level) int {
	level = level.Clamp()
	n := 0
	for _, e := range t.queue {
		if e.name == name && e.priority < level {
			e.priority = level
			n++
		}
	}
	return n
}
