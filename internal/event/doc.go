// Package event provides a pub-sub event bus for observing the scheduler.
//
// Scheduler components publish outcome events (a coalesced dispatch, a dirty
// target processed, a budget refusal) and never call their observers directly.
// The adaptive tuner learns from these events, the TUI renders them, and the
// CLI logs them.
//
// # Main Types
//
//   - [Event]: Interface that all events must implement, providing EventType() and Timestamp()
//   - [Bus]: Synchronous pub-sub event dispatcher
//   - [Handler]: Function type for event handlers (func(Event))
//
// # Event Categories
//
// Coalescer:
//   - [CoalescerSubmittedEvent], [CoalescerDispatchedEvent], [CoalescerDeferredEvent]
//
// Dirty tracker:
//   - [DirtyMarkedEvent], [DirtyProcessedEvent], [DirtyDroppedEvent]
//
// Deferred queue and budget:
//   - [DeferredDrainedEvent], [DeferredOverflowEvent], [BudgetDeniedEvent]
//
// Tuner, persistence and configuration:
//   - [TunerRecommendationEvent], [TunerDelayAdjustedEvent]
//   - [StateSavedEvent], [StateLoadedEvent], [ConfigReloadedEvent]
//
// # Threading
//
// Handlers run synchronously on the publishing goroutine, which for scheduler
// events is the host's update thread. A handler may publish or unsubscribe
// re-entrantly. A panicking handler is logged at the Critical tier and does
// not prevent delivery to the remaining handlers.
//
// # Basic Usage
//
//	bus := event.NewBus(logger)
//
//	bus.Subscribe(event.TypeDirtyProcessed, func(e event.Event) {
//	    done := e.(event.DirtyProcessedEvent)
//	    logger.Debug("processed", "target", done.Target, "waited", done.Waited)
//	})
//
//	id := bus.SubscribeAll(func(e event.Event) {
//	    logger.Debug("event", "type", e.EventType())
//	})
//	bus.Unsubscribe(id)
package event
