// Package clock supplies the host timing primitives the scheduler runs on.
//
// The scheduler never blocks and never starts goroutines. Deferred work is
// registered with a one-shot timer through [Host.After] and runs when the host
// next advances its [Loop]. Hosts that already own a timer facility can
// implement [Host] directly.
package clock

import (
	"container/heap"
	"time"

	"github.com/Iron-Ham/pacer/internal/logging"
	"github.com/Iron-Ham/pacer/internal/safecall"
)

// Host is the time source and one-shot timer supplied by the host application.
type Host interface {
	// Now returns the current host time.
	Now() time.Time
	// After runs fn once, on the host's thread, no earlier than d from now.
	After(d time.Duration, fn func())
}

// Since returns the time elapsed since t according to h.
func Since(h Host, t time.Time) time.Duration {
	return h.Now().Sub(t)
}

type timer struct {
	due time.Time
	seq uint64
	fn  func()
}

type timerHeap []*timer

func (h timerHeap) Len() int { return len(h) }
func (h timerHeap) Less(i, j int) bool {
	if h[i].due.Equal(h[j].due) {
		return h[i].seq < h[j].seq
	}
	return h[i].due.Before(h[j].due)
}
func (h timerHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *timerHeap) Push(x any)   { *h = append(*h, x.(*timer)) }
func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return t
}

// Loop is a host-driven timer wheel. Time only moves when the host calls
// Advance or AdvanceTo, which makes every timer deterministic. Loop is not
// safe for concurrent use; it belongs to the host's update thread.
type Loop struct {
	now     time.Time
	seq     uint64
	timers  timerHeap
	logger  *logging.Logger
	fired   uint64
	failed  uint64
	running bool
}

// NewLoop creates a Loop whose clock starts at start.
func NewLoop(start time.Time, logger *logging.Logger) *Loop {
	return &Loop{
		now:    start,
		logger: logging.OrNop(logger).WithComponent("clock"),
	}
}

// Now returns the loop's current time.
func (l *Loop) Now() time.Time { return l.now }

// After schedules fn to run once the loop has advanced by at least d.
// Negative durations are treated as zero.
func (l *Loop) After(d time.Duration, fn func()) {
	if fn == nil {
		return
	}
	if d < 0 {
		d = 0
	}
	l.seq++
	heap.Push(&l.timers, &timer{due: l.now.Add(d), seq: l.seq, fn: fn})
}

// Advance moves the clock forward by d and fires every due timer.
func (l *Loop) Advance(d time.Duration) int {
	return l.AdvanceTo(l.now.Add(d))
}

// AdvanceTo moves the clock to t (never backwards) and fires every timer due
// at or before t, in due-time order then scheduling order. Timers scheduled
// while firing run on a later advance even when their delay is zero, so a
// callback that re-arms itself cannot spin the loop. Returns the number of
// timers fired.
func (l *Loop) AdvanceTo(t time.Time) int {
	if t.After(l.now) {
		l.now = t
	}
	return l.fire(l.seq)
}

// Frame models one host frame. The clock moves forward by d, onFrame runs at
// the new time, then the timers that were due fire. Timers armed by onFrame
// wait for a later frame. Returns the number of timers fired.
func (l *Loop) Frame(d time.Duration, onFrame func()) int {
	if d > 0 {
		l.now = l.now.Add(d)
	}
	cutoff := l.seq
	if onFrame != nil {
		onFrame()
	}
	return l.fire(cutoff)
}

// fire runs every timer due now that was scheduled at or before cutoff.
func (l *Loop) fire(cutoff uint64) int {
	if l.running {
		return 0
	}
	l.running = true
	defer func() { l.running = false }()

	var due []*timer
	var later []*timer
	for l.timers.Len() > 0 && !l.timers[0].due.After(l.now) {
		tm := heap.Pop(&l.timers).(*timer)
		if tm.seq > cutoff {
			later = append(later, tm)
			continue
		}
		due = append(due, tm)
	}
	for _, tm := range later {
		heap.Push(&l.timers, tm)
	}

	for _, tm := range due {
		l.fired++
		if _, err := safecall.Invoke(l.logger, safecall.Site{Component: "clock"}, nil, tm.fn); err != nil {
			l.failed++
		}
	}
	return len(due)
}

// Pending returns the number of scheduled timers that have not fired.
func (l *Loop) Pending() int { return l.timers.Len() }

// NextDue returns the due time of the earliest pending timer.
func (l *Loop) NextDue() (time.Time, bool) {
	if l.timers.Len() == 0 {
		return time.Time{}, false
	}
	return l.timers[0].due, true
}

// Fired returns how many timers have run and how many of those failed.
func (l *Loop) Fired() (fired, failed uint64) {
	return l.fired, l.failed
}
