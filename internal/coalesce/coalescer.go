// Package coalesce batches repeated notifications for the same event key into
// at most one dispatch per delay window.
//
// Coalescing is lossy by contract: a dispatch carries only the arguments of the
// most recent Submit for its key. Intermediate payloads are discarded.
package coalesce

import (
	"reflect"
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

// Budget is the admission control consulted before each non-Critical dispatch.
type Budget interface {
	CanAfford(class priority.Class, costMs float64) bool
	Charge(ms float64)
}

// Subscriber receives coalesced events.
type Subscriber interface {
	OnEvent(key string, args []any)
}

// Identified subscribers are deduplicated by ID instead of by value. Implement
// it when the subscriber type is not comparable.
type Identified interface {
	SubscriberID() string
}

type funcSubscriber struct {
	id string
	fn func(key string, args []any)
}

func (f *funcSubscriber) OnEvent(key string, args []any) { f.fn(key, args) }
func (f *funcSubscriber) SubscriberID() string           { return f.id }

// Func adapts a function into a Subscriber identified by id.
func Func(id string, fn func(key string, args []any)) Subscriber {
	return &funcSubscriber{id: id, fn: fn}
}

type subscription struct {
	identity any
	sub      Subscriber
}

// KeyStats describes one event key.
type KeyStats struct {
	Key          string         `json:"key"`
	Delay        time.Duration  `json:"delay"`
	Priority     priority.Class `json:"priority"`
	Subscribers  int            `json:"subscribers"`
	Pending      int            `json:"pending"`
	Submitted    uint64         `json:"submitted"`
	Dispatched   uint64         `json:"dispatched"`
	Deferred     uint64         `json:"deferred"`
	Failures     uint64         `json:"failures"`
	BatchMin     int            `json:"batch_min"`
	BatchMax     int            `json:"batch_max"`
	BatchAvg     float64        `json:"batch_avg"`
	LastDispatch time.Time      `json:"last_dispatch"`
}

// Totals aggregates KeyStats across every key.
type Totals struct {
	Keys       int    `json:"keys"`
	Submitted  uint64 `json:"submitted"`
	Dispatched uint64 `json:"dispatched"`
	Deferred   uint64 `json:"deferred"`
	Failures   uint64 `json:"failures"`
	Rejected   uint64 `json:"rejected"`
}

type entry struct {
	key          string
	subs         []subscription
	delay        time.Duration
	priority     priority.Class
	lastDispatch time.Time

	pendingArgs  []any
	pendingCount int
	firstPending time.Time

	scheduled   bool
	generation  uint64
	dispatching bool

	stats    KeyStats
	batchSum uint64
}

// Option configures a Coalescer.
type Option func(*Coalescer)

// WithLogger sets the coalescer's logger.
func WithLogger(l *logging.Logger) Option {
	return func(c *Coalescer) { c.logger = logging.OrNop(l).WithComponent("coalescer") }
}

// WithBus publishes submitted, dispatched and deferred events.
func WithBus(b *event.Bus) Option {
	return func(c *Coalescer) { c.bus = b }
}

// Coalescer merges submissions per event key. It is not safe for concurrent
// use; it belongs to the host's update thread.
type Coalescer struct {
	host         clock.Host
	budget       Budget
	logger       *logging.Logger
	bus          *event.Bus
	defaultDelay time.Duration
	costPerSub   float64

	entries  map[string]*entry
	rejected uint64
}

// New creates a Coalescer.
func New(cfg config.CoalescerConfig, host clock.Host, budget Budget, opts ...Option) *Coalescer {
	c := &Coalescer{
		host:         host,
		budget:       budget,
		logger:       logging.NopLogger(),
		defaultDelay: cfg.DefaultDelay(),
		costPerSub:   cfg.CostPerSubscriberMs,
		entries:      make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetConfig applies new defaults. Existing keys keep their delays.
func (c *Coalescer) SetConfig(cfg config.CoalescerConfig) {
	c.defaultDelay = cfg.DefaultDelay()
	c.costPerSub = cfg.CostPerSubscriberMs
}

func identityOf(s Subscriber) (any, bool) {
	if s == nil {
		return nil, false
	}
	v := reflect.ValueOf(s)
	switch v.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan, reflect.Interface:
		if v.IsNil() {
			return nil, false
		}
	}
	if id, ok := s.(Identified); ok {
		return "id:" + id.SubscriberID(), true
	}
	if !v.Type().Comparable() {
		return nil, false
	}
	return s, true
}

func (c *Coalescer) invalid(key, msg string) {
	c.rejected++
	err := errors.NewSchedulerError(errors.KindInvalidInput, msg, nil).
		WithComponent("coalescer").
		WithKey(key)
	c.logger.Debug("rejected coalescer call", "error", err.Error())
}

// Register subscribes sub to key and reports whether the call was accepted.
// Registering the same subscriber twice is a no-op. A non-positive delay uses
// the configured default. Delay and priority are updated on every call.
func (c *Coalescer) Register(key string, delay time.Duration, sub Subscriber, class priority.Class) bool {
	if key == "" {
		c.invalid(key, "empty event key")
		return false
	}
	if !class.Valid() {
		c.invalid(key, "invalid priority")
		return false
	}
	identity, ok := identityOf(sub)
	if !ok {
		c.invalid(key, "subscriber is nil or not comparable")
		return false
	}
	if delay <= 0 {
		delay = c.defaultDelay
	}

	e, exists := c.entries[key]
	if !exists {
		e = &entry{
			key:          key,
			lastDispatch: c.host.Now(),
			stats:        KeyStats{Key: key},
		}
		c.entries[key] = e
	}
	e.delay = delay
	e.priority = class

	for _, s := range e.subs {
		if s.identity == identity {
			return true
		}
	}
	e.subs = append(e.subs, subscription{identity: identity, sub: sub})
	return true
}

// Unregister removes sub from key. The key itself is dropped, along with any
// pending dispatch, once its last subscriber is gone.
func (c *Coalescer) Unregister(key string, sub Subscriber) bool {
	e, ok := c.entries[key]
	if !ok {
		return false
	}
	identity, ok := identityOf(sub)
	if !ok {
		return false
	}
	idx := slices.IndexFunc(e.subs, func(s subscription) bool { return s.identity == identity })
	if idx < 0 {
		return false
	}
	e.subs = slices.Delete(slices.Clone(e.subs), idx, idx+1)
	if len(e.subs) == 0 {
		c.Remove(key)
	}
	return true
}

// Remove drops key and all of its subscribers. A scheduled dispatch is
// cancelled.
func (c *Coalescer) Remove(key string) bool {
	e, ok := c.entries[key]
	if !ok {
		return false
	}
	e.generation++
	delete(c.entries, key)
	return true
}

// Submit records args as the pending payload for key. Critical keys dispatch
// immediately. Otherwise the key dispatches now if its delay window has
// already passed since the last dispatch, or once the remainder of the window
// elapses. Returns false if key has no subscribers.
func (c *Coalescer) Submit(key string, args ...any) bool {
	e, ok := c.entries[key]
	if !ok {
		c.invalid(key, "submit to unregistered key")
		return false
	}

	now := c.host.Now()
	e.pendingArgs = slices.Clone(args)
	e.pendingCount++
	if e.pendingCount == 1 {
		e.firstPending = now
	}
	e.stats.Submitted++
	if c.bus != nil {
		c.bus.Publish(event.NewCoalescerSubmittedEvent(now, key, e.pendingCount))
	}

	if e.priority == priority.Critical {
		if e.dispatching {
			// A subscriber resubmitted its own key; run after this dispatch
			c.schedule(e, 0)
			return true
		}
		c.dispatch(e)
		return true
	}

	if e.scheduled {
		return true
	}
	since := now.Sub(e.lastDispatch)
	if since >= e.delay && !e.dispatching {
		c.dispatch(e)
		return true
	}
	c.schedule(e, max(e.delay-since, 0))
	return true
}

func (c *Coalescer) schedule(e *entry, d time.Duration) {
	if e.scheduled {
		return
	}
	e.scheduled = true
	gen := e.generation
	c.host.After(d, func() { c.fire(e, gen) })
}

func (c *Coalescer) fire(e *entry, gen uint64) {
	if c.entries[e.key] != e || e.generation != gen {
		return
	}
	e.scheduled = false
	c.dispatch(e)
}

func (c *Coalescer) dispatch(e *entry) {
	if e.pendingCount == 0 {
		return
	}

	cost := c.costPerSub * float64(len(e.subs))
	if e.priority != priority.Critical && !c.budget.CanAfford(e.priority, cost) {
		e.stats.Deferred++
		c.logger.Debug("dispatch deferred by budget", "key", e.key, "retry", e.delay)
		c.schedule(e, e.delay)
		if c.bus != nil {
			c.bus.Publish(event.NewCoalescerDeferredEvent(c.host.Now(), e.key, e.delay))
		}
		return
	}

	now := c.host.Now()
	count := e.pendingCount
	args := e.pendingArgs
	waited := now.Sub(e.firstPending)
	c.recordBatch(e, count)

	// Clear before invoking so a subscriber that resubmits starts a fresh window
	e.pendingArgs = nil
	e.pendingCount = 0
	e.scheduled = false
	e.generation++
	e.lastDispatch = now
	e.dispatching = true
	defer func() { e.dispatching = false }()

	subs := slices.Clone(e.subs)
	failures := 0
	var took time.Duration
	for _, s := range subs {
		site := safecall.Site{Component: "coalescer", Key: e.key}
		d, err := safecall.Invoke(c.logger, site, c.host.Now, func() { s.sub.OnEvent(e.key, args) })
		took += d
		if err != nil {
			failures++
		}
	}
	c.budget.Charge(cost)

	e.stats.Dispatched++
	e.stats.Failures += uint64(failures)
	e.stats.LastDispatch = now
	if c.bus != nil {
		c.bus.Publish(event.NewCoalescerDispatchedEvent(c.host.Now(), e.key, count, len(subs), failures, e.delay, waited, took))
	}
}

func (c *Coalescer) recordBatch(e *entry, count int) {
	s := &e.stats
	if s.Dispatched == 0 || count < s.BatchMin {
		s.BatchMin = count
	}
	if count > s.BatchMax {
		s.BatchMax = count
	}
	e.batchSum += uint64(count)
	s.BatchAvg = float64(e.batchSum) / float64(s.Dispatched+1)
}

// Flush dispatches key's pending payload now, ignoring the delay window. The
// budget still applies to non-Critical keys.
func (c *Coalescer) Flush(key string) bool {
	e, ok := c.entries[key]
	if !ok || e.pendingCount == 0 || e.dispatching {
		return false
	}
	before := e.stats.Dispatched
	c.dispatch(e)
	return e.stats.Dispatched > before
}

// FlushAll flushes every key with a pending payload and returns how many dispatched.
func (c *Coalescer) FlushAll() int {
	n := 0
	for _, key := range c.Keys() {
		if c.Flush(key) {
			n++
		}
	}
	return n
}

// SetDelay changes key's delay window. A pending dispatch keeps its timer.
func (c *Coalescer) SetDelay(key string, d time.Duration) bool {
	e, ok := c.entries[key]
	if !ok || d < 0 {
		return false
	}
	e.delay = d
	return true
}

// SetPriority changes key's priority class.
func (c *Coalescer) SetPriority(key string, class priority.Class) bool {
	e, ok := c.entries[key]
	if !ok || !class.Valid() {
		return false
	}
	e.priority = class
	return true
}

// Delay returns key's delay window.
func (c *Coalescer) Delay(key string) (time.Duration, bool) {
	e, ok := c.entries[key]
	if !ok {
		return 0, false
	}
	return e.delay, true
}

// Priority returns key's priority class.
func (c *Coalescer) Priority(key string) (priority.Class, bool) {
	e, ok := c.entries[key]
	if !ok {
		return 0, false
	}
	return e.priority, true
}

// Pending returns how many submissions are waiting for key's next dispatch.
func (c *Coalescer) Pending(key string) int {
	if e, ok := c.entries[key]; ok {
		return e.pendingCount
	}
	return 0
}

// Keys returns the registered keys in sorted order.
func (c *Coalescer) Keys() []string {
	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Stats returns statistics for key.
func (c *Coalescer) Stats(key string) (KeyStats, bool) {
	e, ok := c.entries[key]
	if !ok {
		return KeyStats{}, false
	}
	s := e.stats
	s.Delay = e.delay
	s.Priority = e.priority
	s.Subscribers = len(e.subs)
	s.Pending = e.pendingCount
	return s, true
}

// Totals aggregates statistics across all keys.
func (c *Coalescer) Totals() Totals {
	t := Totals{Keys: len(c.entries), Rejected: c.rejected}
	for _, e := range c.entries {
		t.Submitted += e.stats.Submitted
		t.Dispatched += e.stats.Dispatched
		t.Deferred += e.stats.Deferred
		t.Failures += e.stats.Failures
	}
	return t
}
