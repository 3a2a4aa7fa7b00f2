package dirty

import (
	"slices"
	"time"

	"github.com/Iron-Ham/pacer/internal/config"
	"github.com/Iron-Ham/pacer/internal/priority"
)

// Stats counts tracker activity since creation.
type Stats struct {
	Tracked           int    `json:"tracked"`
	Queued            int    `json:"queued"`
	Marked            uint64 `json:"marked"`
	Processed         uint64 `json:"processed"`
	Failures          uint64 `json:"failures"`
	Invalid           uint64 `json:"invalid"`
	Rejected          uint64 `json:"rejected"`
	Overflow          uint64 `json:"overflow"`
	Evicted           uint64 `json:"evicted"`
	BudgetDeferred    uint64 `json:"budget_deferred"`
	ReentrancyBlocked uint64 `json:"reentrancy_blocked"`
	Passes            uint64 `json:"passes"`
	FollowUps         uint64 `json:"follow_ups"`
	Decays            uint64 `json:"decays"`
}

// Stats returns a snapshot of the counters.
func (t *Tracker) Stats() Stats {
	s := t.stats
	s.Tracked = len(t.entries)
	s.Queued = len(t.queue)
	return s
}

// EntryView is a read-only copy of one tracked entry.
type EntryView struct {
	Name     string
	Dirty    bool
	Priority priority.Level
	Reasons  []string
	MarkedAt time.Time
	Updates  uint64
	Failures uint64
}

// Entry returns the state of target, or false if it is not tracked.
func (t *Tracker) Entry(target any) (EntryView, bool) {
	if !trackable(target) {
		return EntryView{}, false
	}
	e, ok := t.entries[target]
	if !ok {
		return EntryView{}, false
	}
	return EntryView{
		Name:     e.name,
		Dirty:    e.dirty,
		Priority: e.priority,
		Reasons:  slices.Clone(e.reasons),
		MarkedAt: e.markedAt,
		Updates:  e.updates,
		Failures: e.failures,
	}, true
}

// Queued returns the names of dirty entries in queue order.
func (t *Tracker) Queued() []string {
	names := make([]string, len(t.queue))
	for i, e := range t.queue {
		names[i] = e.name
	}
	return names
}

// Config returns the current configuration.
func (t *Tracker) Config() config.DirtyConfig { return t.cfg }

// SetConfig replaces the configuration. A smaller MaxQueued takes effect on
// the next mark.
func (t *Tracker) SetConfig(cfg config.DirtyConfig) { t.cfg = cfg }

// SetMaxPerBatch sets the base batch size. Values below 1 are ignored.
func (t *Tracker) SetMaxPerBatch(n int) bool {
	if n < 1 {
		return false
	}
	t.cfg.MaxPerBatch = n
	return true
}

// SetMaxQueued bounds the queue. 0 means unbounded.
func (t *Tracker) SetMaxQueued(n int) bool {
	if n < 0 {
		return false
	}
	t.cfg.MaxQueued = n
	return true
}

// SetProcessDelay sets the delay between the first mark and the pass it schedules.
func (t *Tracker) SetProcessDelay(d time.Duration) bool {
	if d < 0 {
		return false
	}
	t.cfg.ProcessDelayMs = int(d.Milliseconds())
	return true
}

// SetProcessInterval sets the base delay between follow-up passes.
func (t *Tracker) SetProcessInterval(d time.Duration) bool {
	if d <= 0 {
		return false
	}
	t.cfg.ProcessIntervalMs = int(d.Milliseconds())
	return true
}

// SetPriorityOrdering toggles sorting the queue by priority before each pass.
func (t *Tracker) SetPriorityOrdering(on bool) { t.cfg.PriorityOrdering = on }

// SetDecay configures priority decay. A zero interval or step disables it.
func (t *Tracker) SetDecay(interval, age time.Duration, step float64) bool {
	if interval < 0 || age < 0 || step < 0 {
		return false
	}
	t.cfg.DecayIntervalMs = int(interval.Milliseconds())
	t.cfg.DecayAgeMs = int(age.Milliseconds())
	t.cfg.DecayStep = step
	return true
}
