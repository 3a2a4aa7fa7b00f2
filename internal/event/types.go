// Package event defines the outcome events the scheduler publishes so that
// observers (the adaptive tuner, the TUI, diagnostics) can follow it without
// the components depending on them.
package event

import (
	"time"

	"github.com/Iron-Ham/pacer/internal/priority"
)

// Event is the interface that all events must implement.
// It provides a common way to identify and timestamp events.
type Event interface {
	// EventType returns a string identifier for this event type.
	// Convention: "category.action" (e.g., "dirty.processed", "coalescer.dispatched")
	EventType() string

	// Timestamp returns when the event occurred, in host time.
	Timestamp() time.Time
}

// baseEvent provides common fields for all events.
// Embed this in concrete event types to satisfy the Event interface.
type baseEvent struct {
	eventType string
	timestamp time.Time
}

func (e baseEvent) EventType() string    { return e.eventType }
func (e baseEvent) Timestamp() time.Time { return e.timestamp }

// newBaseEvent creates a baseEvent stamped with the given host time.
func newBaseEvent(eventType string, at time.Time) baseEvent {
	return baseEvent{
		eventType: eventType,
		timestamp: at,
	}
}

// Event type identifiers.
const (
	TypeCoalescerSubmitted  = "coalescer.submitted"
	TypeCoalescerDispatched = "coalescer.dispatched"
	TypeCoalescerDeferred   = "coalescer.deferred"
	TypeDirtyMarked         = "dirty.marked"
	TypeDirtyProcessed      = "dirty.processed"
	TypeDirtyDropped        = "dirty.dropped"
	TypeDeferredDrained     = "deferred.drained"
	TypeDeferredOverflow    = "deferred.overflow"
	TypeBudgetDenied        = "budget.denied"
	TypeTunerRecommendation = "tuner.recommendation"
	TypeTunerDelayAdjusted  = "tuner.delay_adjusted"
	TypeStateSaved          = "state.saved"
	TypeStateLoaded         = "state.loaded"
	TypeConfigReloaded      = "config.reloaded"
)

// -----------------------------------------------------------------------------
// Coalescer Events
// -----------------------------------------------------------------------------

// CoalescerSubmittedEvent is emitted when an event is accepted by the coalescer.
type CoalescerSubmittedEvent struct {
	baseEvent
	Key     string // Event key
	Pending int    // Submissions accumulated since the last dispatch
}

// NewCoalescerSubmittedEvent creates a CoalescerSubmittedEvent.
func NewCoalescerSubmittedEvent(at time.Time, key string, pending int) CoalescerSubmittedEvent {
	return CoalescerSubmittedEvent{
		baseEvent: newBaseEvent(TypeCoalescerSubmitted, at),
		Key:       key,
		Pending:   pending,
	}
}

// CoalescerDispatchedEvent is emitted after a coalesced event was delivered
// to its subscribers.
type CoalescerDispatchedEvent struct {
	baseEvent
	Key         string        // Event key
	Coalesced   int           // Number of submissions folded into this dispatch
	Subscribers int           // Number of subscribers invoked
	Failures    int           // Subscribers that panicked or errored
	Delay       time.Duration // Delay in effect for the key
	Waited      time.Duration // Time between the first pending submit and dispatch
	Took        time.Duration // Time spent invoking subscribers
}

// NewCoalescerDispatchedEvent creates a CoalescerDispatchedEvent.
func NewCoalescerDispatchedEvent(at time.Time, key string, coalesced, subscribers, failures int, delay, waited, took time.Duration) CoalescerDispatchedEvent {
	return CoalescerDispatchedEvent{
		baseEvent:   newBaseEvent(TypeCoalescerDispatched, at),
		Key:         key,
		Coalesced:   coalesced,
		Subscribers: subscribers,
		Failures:    failures,
		Delay:       delay,
		Waited:      waited,
		Took:        took,
	}
}

// Success reports whether every subscriber completed.
func (e CoalescerDispatchedEvent) Success() bool { return e.Failures == 0 }

// CoalescerDeferredEvent is emitted when the frame budget refused a dispatch
// and a retry was scheduled.
type CoalescerDeferredEvent struct {
	baseEvent
	Key   string        // Event key
	Retry time.Duration // Delay before the retry
}

// NewCoalescerDeferredEvent creates a CoalescerDeferredEvent.
func NewCoalescerDeferredEvent(at time.Time, key string, retry time.Duration) CoalescerDeferredEvent {
	return CoalescerDeferredEvent{
		baseEvent: newBaseEvent(TypeCoalescerDeferred, at),
		Key:       key,
		Retry:     retry,
	}
}

// -----------------------------------------------------------------------------
// Dirty Tracker Events
// -----------------------------------------------------------------------------

// DirtyMarkedEvent is emitted when a target is marked dirty.
type DirtyMarkedEvent struct {
	baseEvent
	Target   string         // Target name
	Priority priority.Level // Priority after the mark
	Reason   string         // Reason supplied by the caller, if any
	Fresh    bool           // True when the target was clean before this mark
}

// NewDirtyMarkedEvent creates a DirtyMarkedEvent.
func NewDirtyMarkedEvent(at time.Time, target string, level priority.Level, reason string, fresh bool) DirtyMarkedEvent {
	return DirtyMarkedEvent{
		baseEvent: newBaseEvent(TypeDirtyMarked, at),
		Target:    target,
		Priority:  level,
		Reason:    reason,
		Fresh:     fresh,
	}
}

// DirtyProcessedEvent is emitted after a dirty target's update ran.
type DirtyProcessedEvent struct {
	baseEvent
	Target   string         // Target name
	Priority priority.Level // Priority the target had when processed
	Waited   time.Duration  // Time between the first mark and processing
	Took     time.Duration  // Time spent in the update
	Err      error          // Non-nil when the update failed
}

// NewDirtyProcessedEvent creates a DirtyProcessedEvent.
func NewDirtyProcessedEvent(at time.Time, target string, level priority.Level, waited, took time.Duration, err error) DirtyProcessedEvent {
	return DirtyProcessedEvent{
		baseEvent: newBaseEvent(TypeDirtyProcessed, at),
		Target:    target,
		Priority:  level,
		Waited:    waited,
		Took:      took,
		Err:       err,
	}
}

// DirtyDroppedEvent is emitted when a dirty target is discarded without an
// update, either because it is no longer alive or because the queue overflowed.
type DirtyDroppedEvent struct {
	baseEvent
	Target string // Target name
	Reason string // "invalid" or "evicted"
}

// NewDirtyDroppedEvent creates a DirtyDroppedEvent.
func NewDirtyDroppedEvent(at time.Time, target, reason string) DirtyDroppedEvent {
	return DirtyDroppedEvent{
		baseEvent: newBaseEvent(TypeDirtyDropped, at),
		Target:    target,
		Reason:    reason,
	}
}

// -----------------------------------------------------------------------------
// Deferred Queue and Budget Events
// -----------------------------------------------------------------------------

// DeferredDrainedEvent is emitted after a drain pass ran at least one item.
type DeferredDrainedEvent struct {
	baseEvent
	Ran       int // Items executed
	Failed    int // Items that panicked or errored
	Remaining int // Items still queued
}

// NewDeferredDrainedEvent creates a DeferredDrainedEvent.
func NewDeferredDrainedEvent(at time.Time, ran, failed, remaining int) DeferredDrainedEvent {
	return DeferredDrainedEvent{
		baseEvent: newBaseEvent(TypeDeferredDrained, at),
		Ran:       ran,
		Failed:    failed,
		Remaining: remaining,
	}
}

// DeferredOverflowEvent is emitted when the bounded deferred queue drops an item.
type DeferredOverflowEvent struct {
	baseEvent
	ItemID   string         // ID of the dropped item
	Key      string         // Upsert key, if any
	Priority priority.Class // Class of the dropped item
	Rejected bool           // True when the incoming item was refused instead of evicting
}

// NewDeferredOverflowEvent creates a DeferredOverflowEvent.
func NewDeferredOverflowEvent(at time.Time, itemID, key string, class priority.Class, rejected bool) DeferredOverflowEvent {
	return DeferredOverflowEvent{
		baseEvent: newBaseEvent(TypeDeferredOverflow, at),
		ItemID:    itemID,
		Key:       key,
		Priority:  class,
		Rejected:  rejected,
	}
}

// BudgetDeniedEvent is emitted when the budget tracker refuses a request.
type BudgetDeniedEvent struct {
	baseEvent
	Priority  priority.Class // Class of the refused request
	CostMs    float64        // Estimated cost of the refused request
	ElapsedMs float64        // Work already spent this tick
}

// NewBudgetDeniedEvent creates a BudgetDeniedEvent.
func NewBudgetDeniedEvent(at time.Time, class priority.Class, costMs, elapsedMs float64) BudgetDeniedEvent {
	return BudgetDeniedEvent{
		baseEvent: newBaseEvent(TypeBudgetDenied, at),
		Priority:  class,
		CostMs:    costMs,
		ElapsedMs: elapsedMs,
	}
}

// -----------------------------------------------------------------------------
// Tuner Events
// -----------------------------------------------------------------------------

// Recommendation is one predicted-next event key.
type Recommendation struct {
	Key         string
	Probability float64
}

// TunerRecommendationEvent is emitted when the tuner refreshes its predictions.
type TunerRecommendationEvent struct {
	baseEvent
	Recommendations []Recommendation // Ordered by descending probability
}

// NewTunerRecommendationEvent creates a TunerRecommendationEvent.
func NewTunerRecommendationEvent(at time.Time, recs []Recommendation) TunerRecommendationEvent {
	return TunerRecommendationEvent{
		baseEvent:       newBaseEvent(TypeTunerRecommendation, at),
		Recommendations: recs,
	}
}

// TunerDelayAdjustedEvent is emitted when a learned delay is written back to
// the coalescer.
type TunerDelayAdjustedEvent struct {
	baseEvent
	Key     string
	Context string
	Old     time.Duration
	New     time.Duration
}

// NewTunerDelayAdjustedEvent creates a TunerDelayAdjustedEvent.
func NewTunerDelayAdjustedEvent(at time.Time, key, context string, old, updated time.Duration) TunerDelayAdjustedEvent {
	return TunerDelayAdjustedEvent{
		baseEvent: newBaseEvent(TypeTunerDelayAdjusted, at),
		Key:       key,
		Context:   context,
		Old:       old,
		New:       updated,
	}
}

// -----------------------------------------------------------------------------
// Persistence and Config Events
// -----------------------------------------------------------------------------

// StateSavedEvent is emitted after learned state was persisted.
type StateSavedEvent struct {
	baseEvent
	Backend  string
	Location string
	Patterns int
	Delays   int
}

// NewStateSavedEvent creates a StateSavedEvent.
func NewStateSavedEvent(at time.Time, backend, location string, patterns, delays int) StateSavedEvent {
	return StateSavedEvent{
		baseEvent: newBaseEvent(TypeStateSaved, at),
		Backend:   backend,
		Location:  location,
		Patterns:  patterns,
		Delays:    delays,
	}
}

// StateLoadedEvent is emitted after learned state was restored, or reset
// because the persisted copy was unusable.
type StateLoadedEvent struct {
	baseEvent
	Backend string
	Reset   bool
	Reason  string // Why state was reset, empty otherwise
}

// NewStateLoadedEvent creates a StateLoadedEvent.
func NewStateLoadedEvent(at time.Time, backend string, reset bool, reason string) StateLoadedEvent {
	return StateLoadedEvent{
		baseEvent: newBaseEvent(TypeStateLoaded, at),
		Backend:   backend,
		Reset:     reset,
		Reason:    reason,
	}
}

// ConfigReloadedEvent is emitted when a new configuration was applied or rejected.
type ConfigReloadedEvent struct {
	baseEvent
	Path string
	Err  error
}

// NewConfigReloadedEvent creates a ConfigReloadedEvent.
func NewConfigReloadedEvent(at time.Time, path string, err error) ConfigReloadedEvent {
	return ConfigReloadedEvent{
		baseEvent: newBaseEvent(TypeConfigReloaded, at),
		Path:      path,
		Err:       err,
	}
}
