// Package sim drives a scheduler with a synthetic, seeded workload: bursts of
// coalesced events that follow a learnable sequence, dirty targets that are
// marked, updated and occasionally destroyed, and frame times that grow with
// the work charged to the budget.
package sim

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
	"time"

	"github.com/Iron-Ham/pacer/internal/clock"
	"github.com/Iron-Ham/pacer/internal/coalesce"
	"github.com/Iron-Ham/pacer/internal/deferred"
	"github.com/Iron-Ham/pacer/internal/priority"
	"github.com/Iron-Ham/pacer/internal/scheduler"
	"github.com/Iron-Ham/pacer/internal/tuner"
)

// Options shape a workload.
type Options struct {
	Targets  int     // Dirty targets alive at any time
	Events   int     // Distinct coalesced event keys
	Seed     uint64  // 0 picks a fixed default
	FrameMs  float64 // Nominal frame time before load
	Load     float64 // 0..1, how busy each frame is
	PhaseLen int     // Frames between context changes
	Churn    float64 // Chance per frame that a target is destroyed
}

// DefaultOptions returns a moderate workload at 60 fps.
func DefaultOptions() Options {
	return Options{
		Targets:  40,
		Events:   6,
		Seed:     1,
		FrameMs:  16.67,
		Load:     0.6,
		PhaseLen: 600,
		Churn:    0.002,
	}
}

var eventNames = []struct {
	key   string
	class priority.Class
}{
	{"UNIT_HEALTH", priority.High},
	{"BAG_UPDATE", priority.Medium},
	{"CHAT_MSG", priority.Low},
	{"COMBAT_LOG", priority.High},
	{"AURA_CHANGED", priority.Medium},
	{"QUEST_LOG", priority.Low},
	{"GROUP_ROSTER", priority.Medium},
	{"PLAYER_MONEY", priority.Low},
}

// phase is one stretch of host context.
type phase struct {
	name    string
	group   int
	busy    bool
	content int
}

var phases = []phase{
	{"solo", 1, false, 1},
	{"party", 5, false, 3},
	{"raid", 25, false, 6},
	{"combat", 5, true, 4},
}

// Target is a dirty-trackable widget.
type Target struct {
	name    string
	alive   bool
	weight  float64
	Updates int
}

func (t *Target) Name() string { return t.name }
func (t *Target) Alive() bool  { return t.alive }
func (t *Target) UpdateAll()   { t.Updates++ }

// Workload generates one frame of host activity at a time.
type Workload struct {
	opts    Options
	rng     *rand.Rand
	sched   *scheduler.Scheduler
	keys    []string
	targets []*Target
	serial  int

	cursor    int
	frame     int
	nextFrame time.Duration
	delivered map[string]int
	churned   int
	retired   int
	deferred  int
	housekept int
}

// NewWorkload creates a workload. Attach it to a scheduler before stepping.
func NewWorkload(opts Options) *Workload {
	def := DefaultOptions()
	if opts.Targets <= 0 {
		opts.Targets = def.Targets
	}
	if opts.Events <= 0 {
		opts.Events = def.Events
	}
	if opts.Seed == 0 {
		opts.Seed = def.Seed
	}
	if opts.FrameMs <= 0 {
		opts.FrameMs = def.FrameMs
	}
	if opts.PhaseLen <= 0 {
		opts.PhaseLen = def.PhaseLen
	}
	if opts.Churn <= 0 {
		opts.Churn = def.Churn
	}
	opts.Load = min(max(opts.Load, 0), 1)
	opts.Churn = min(opts.Churn, 1)

	w := &Workload{
		opts:      opts,
		rng:       rand.New(rand.NewPCG(opts.Seed, opts.Seed*31+7)),
		delivered: make(map[string]int),
	}
	w.nextFrame = msDuration(opts.FrameMs)
	for i := range opts.Events {
		if i < len(eventNames) {
			w.keys = append(w.keys, eventNames[i].key)
		} else {
			w.keys = append(w.keys, fmt.Sprintf("EVENT_%02d", i))
		}
	}
	for range opts.Targets {
		w.targets = append(w.targets, w.newTarget())
	}
	return w
}

func (w *Workload) newTarget() *Target {
	w.serial++
	return &Target{
		name:   fmt.Sprintf("frame-%03d", w.serial),
		alive:  true,
		weight: w.rng.Float64(),
	}
}

// Attach registers the workload's event keys on s.
func (w *Workload) Attach(s *scheduler.Scheduler) {
	w.sched = s
	for i, key := range w.keys {
		class := priority.Low
		if i < len(eventNames) {
			class = eventNames[i].class
		}
		s.Register(key, coalesce.Func("sim-"+key, func(key string, _ []any) {
			w.delivered[key]++
		}), class)
	}
}

// Options returns the effective options.
func (w *Workload) Options() Options { return w.opts }

// Keys returns the workload's event keys.
func (w *Workload) Keys() []string { return w.keys }

func (w *Workload) phase() phase {
	return phases[(w.frame/w.opts.PhaseLen)%len(phases)]
}

// Phase names the current host context.
func (w *Workload) Phase() string { return w.phase().name }

// Signals reports the current phase to the tuner.
func (w *Workload) Signals(string, string) tuner.Signals {
	p := w.phase()
	return tuner.Signals{Busy: p.busy, GroupSize: p.group, ContentClass: p.content}
}

// Frame runs one host frame on loop: the scheduler tick, this frame's
// activity, then the timers that were due.
func (w *Workload) Frame(loop *clock.Loop) {
	d := w.nextFrame
	loop.Frame(d, func() {
		w.sched.OnTick(float64(d) / float64(time.Millisecond))
		w.Step()
	})

	// Work charged this frame stretches the next one.
	spent := w.sched.Budget().Elapsed()
	jitter := (w.rng.Float64() - 0.5) * 2
	w.nextFrame = msDuration(max(w.opts.FrameMs+spent*0.8+jitter, 1))
}

// Step generates this frame's submissions, dirty marks, churn and deferred
// work. It must run on the scheduler's thread.
func (w *Workload) Step() {
	w.frame++
	load := w.opts.Load
	if w.phase().busy {
		load = math.Min(1, load*1.5)
	}

	if len(w.keys) > 0 && w.rng.Float64() < load {
		// Mostly follow the cycle so sequences are learnable.
		key := w.keys[w.cursor%len(w.keys)]
		w.cursor++
		if w.rng.Float64() < 0.2 {
			key = w.keys[w.rng.IntN(len(w.keys))]
		}
		for n := 1 + w.rng.IntN(4); n > 0; n-- {
			w.sched.Submit(key, w.frame)
		}
	}

	if w.rng.Float64() < load {
		for n := 1 + w.rng.IntN(3); n > 0; n-- {
			t := w.targets[w.rng.IntN(len(w.targets))]
			level := priority.Level(1 + math.Round(t.weight*4))
			w.sched.MarkDirty(t, w.phase().name, level)
		}
	}

	if w.rng.Float64() < w.opts.Churn {
		i := w.rng.IntN(len(w.targets))
		w.targets[i].alive = false
		w.sched.MarkDirty(w.targets[i], "destroyed", 1)
		w.retired += w.targets[i].Updates
		w.targets[i] = w.newTarget()
		w.churned++
	}

	if w.frame%30 == 0 {
		ok := w.sched.Defer(func() { w.housekept++ }, priority.Low,
			deferred.WithKey("housekeeping"), deferred.WithCost(2))
		if ok {
			w.deferred++
		}
	}
}

// Report summarizes a run.
type Report struct {
	Frames    int                      `json:"frames"`
	Simulated time.Duration            `json:"simulated"`
	Phase     string                   `json:"phase"`
	Delivered map[string]int           `json:"delivered"`
	Delays    map[string]time.Duration `json:"delays"`
	Updates   int                      `json:"updates"`
	Churned   int                      `json:"churned"`
	Deferred  int                      `json:"deferred"`
	Housekept int                      `json:"housekept"`
	Stats     scheduler.Stats          `json:"stats"`
}

// Report returns the workload's counters and the scheduler's stats.
func (w *Workload) Report(simulated time.Duration) Report {
	r := Report{
		Frames:    w.frame,
		Simulated: simulated,
		Phase:     w.Phase(),
		Delivered: make(map[string]int, len(w.delivered)),
		Delays:    make(map[string]time.Duration, len(w.keys)),
		Updates:   w.retired,
		Churned:   w.churned,
		Deferred:  w.deferred,
		Housekept: w.housekept,
		Stats:     w.sched.Stats(),
	}
	for k, v := range w.delivered {
		r.Delivered[k] = v
	}
	for _, key := range w.keys {
		if d, ok := w.sched.Coalescer().Delay(key); ok {
			r.Delays[key] = d
		}
	}
	for _, t := range w.targets {
		r.Updates += t.Updates
	}
	return r
}

// SortedKeys returns m's keys in order.
func SortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Run drives frames frames on loop and returns the report.
func Run(w *Workload, loop *clock.Loop, frames int) Report {
	start := loop.Now()
	for range frames {
		w.Frame(loop)
	}
	return w.Report(loop.Now().Sub(start))
}

func msDuration(ms float64) time.Duration {
	return time.Duration(ms * float64(time.Millisecond))
}
