// Package budget measures per-tick frame time and decides whether the
// scheduler can afford more work in the current tick.
package budget

import (
	"math"
	"time"

	"github.com/Iron-Ham/pacer/internal/clock"
	"github.com/Iron-Ham/pacer/internal/config"
	"github.com/Iron-Ham/pacer/internal/event"
	"github.com/Iron-Ham/pacer/internal/logging"
	"github.com/Iron-Ham/pacer/internal/priority"
)

// Ratios of rolling average to target frame time that select a batch scale.
const (
	comfortableRatio = 0.5
	normalRatio      = 0.9
	strainedRatio    = 1.2
)

// Option configures a Tracker.
type Option func(*Tracker)

// WithLogger sets the tracker's logger.
func WithLogger(l *logging.Logger) Option {
	return func(t *Tracker) { t.logger = logging.OrNop(l).WithComponent("budget") }
}

// WithBus publishes a BudgetDeniedEvent whenever a request is refused.
func WithBus(b *event.Bus) Option {
	return func(t *Tracker) { t.bus = b }
}

// Stats is a point-in-time snapshot of the tracker.
type Stats struct {
	Ticks            uint64  `json:"ticks"`
	Samples          int     `json:"samples"`
	AverageMs        float64 `json:"average_ms"`
	MinMs            float64 `json:"min_ms"`
	MaxMs            float64 `json:"max_ms"`
	P50Ms            float64 `json:"p50_ms"`
	P95Ms            float64 `json:"p95_ms"`
	P99Ms            float64 `json:"p99_ms"`
	FPS              float64 `json:"fps"`
	ElapsedMs        float64 `json:"elapsed_ms"`
	RemainingMs      float64 `json:"remaining_ms"`
	Checks           uint64  `json:"checks"`
	Denials          uint64  `json:"denials"`
	CriticalBypasses uint64  `json:"critical_bypasses"`
	Rejected         uint64  `json:"rejected_samples"`
}

// Tracker records frame times and gates admission of work within a tick.
//
// Elapsed work for the current tick is the larger of the host time since the
// last OnTick and the cost explicitly charged through Charge. Real hosts see
// wall time; simulated hosts whose clock stands still during a tick rely on
// charged estimates.
type Tracker struct {
	cfg    config.BudgetConfig
	host   clock.Host
	logger *logging.Logger
	bus    *event.Bus

	sample    *Sample
	tickStart time.Time
	charged   float64
	ticks     uint64

	checks   uint64
	denials  uint64
	bypasses uint64
	rejected uint64
}

// NewTracker creates a Tracker. host supplies the time used to measure
// elapsed work within a tick.
func NewTracker(cfg config.BudgetConfig, host clock.Host, opts ...Option) *Tracker {
	t := &Tracker{
		cfg:    cfg,
		host:   host,
		logger: logging.NopLogger(),
		sample: NewSample(cfg.SampleSize),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.tickStart = host.Now()
	return t
}

// OnTick records the duration of the tick that just ended and starts
// accounting for a new one. Non-finite or negative durations are not recorded.
func (t *Tracker) OnTick(frameMs float64) {
	t.ticks++
	t.tickStart = t.host.Now()
	t.charged = 0

	if math.IsNaN(frameMs) || math.IsInf(frameMs, 0) || frameMs < 0 {
		t.rejected++
		t.logger.Debug("ignoring invalid frame time", "frame_ms", frameMs)
		return
	}
	t.sample.Add(frameMs)
}

// Charge adds ms of work to the current tick's elapsed total.
func (t *Tracker) Charge(ms float64) {
	if ms > 0 && !math.IsInf(ms, 0) {
		t.charged += ms
	}
}

// Elapsed returns the work already spent this tick in milliseconds.
func (t *Tracker) Elapsed() float64 {
	wall := float64(clock.Since(t.host, t.tickStart)) / float64(time.Millisecond)
	return max(wall, t.charged)
}

// Remaining returns the work budget left this tick in milliseconds. It may be negative.
func (t *Tracker) Remaining() float64 {
	return t.cfg.WorkBudgetMs - t.Elapsed()
}

// CanAfford reports whether work of the given class and estimated cost may run now.
//
// Critical work is always admitted. Below the warning threshold everything is
// admitted; above the ceiling nothing else is. In between, the remaining
// budget must exceed the cost plus the safety margin.
func (t *Tracker) CanAfford(class priority.Class, costMs float64) bool {
	t.checks++
	if class == priority.Critical {
		t.bypasses++
		return true
	}
	if math.IsNaN(costMs) {
		t.deny(class, costMs, t.Elapsed())
		return false
	}
	costMs = max(costMs, 0)

	elapsed := t.Elapsed()
	switch {
	case elapsed < t.cfg.WarningMs:
		return true
	case elapsed > t.cfg.CeilingMs:
		t.deny(class, costMs, elapsed)
		return false
	}

	if t.cfg.WorkBudgetMs-elapsed > costMs+t.cfg.SafetyMarginMs {
		return true
	}
	t.deny(class, costMs, elapsed)
	return false
}

func (t *Tracker) deny(class priority.Class, costMs, elapsed float64) {
	t.denials++
	if t.bus != nil {
		t.bus.Publish(event.NewBudgetDeniedEvent(t.host.Now(), class, costMs, elapsed))
	}
}

// ratio returns the rolling average over the target frame time, and false
// when there is nothing to compare yet.
func (t *Tracker) ratio() (float64, bool) {
	if t.sample.Len() == 0 || t.cfg.TargetFrameMs <= 0 {
		return 0, false
	}
	return t.sample.Average() / t.cfg.TargetFrameMs, true
}

func (t *Tracker) nearCeiling() bool {
	return t.Elapsed() >= (t.cfg.WarningMs+t.cfg.CeilingMs)/2
}

// AdaptiveBatchSize scales base by recent frame performance. It grows base
// when the rolling average is comfortably under target and shrinks it, never
// below 1, when frames run long or this tick is close to the ceiling.
func (t *Tracker) AdaptiveBatchSize(base int) int {
	if base < 1 {
		base = 1
	}
	size := base
	if r, ok := t.ratio(); ok {
		switch {
		case r < comfortableRatio:
			size = int(math.Round(float64(base) * max(t.cfg.MaxBatchScale, 1)))
		case r < normalRatio:
			size = base
		case r < strainedRatio:
			size = base / 2
		default:
			size = base / 4
		}
	}
	if t.nearCeiling() {
		size = min(size, base/2)
	}
	return max(size, 1)
}

// AdaptiveBatchInterval scales a retry or poll interval the opposite way:
// shorter when frames are cheap, longer under load.
func (t *Tracker) AdaptiveBatchInterval(base time.Duration) time.Duration {
	if base <= 0 {
		return base
	}
	interval := base
	if r, ok := t.ratio(); ok {
		switch {
		case r < comfortableRatio:
			interval = base / 2
		case r < normalRatio:
			interval = base
		case r < strainedRatio:
			interval = base * 2
		default:
			interval = base * 4
		}
	}
	if t.nearCeiling() {
		interval = max(interval, base*2)
	}
	return interval
}

// Average returns the rolling average frame time in milliseconds.
func (t *Tracker) Average() float64 { return t.sample.Average() }

// Percentile returns the p-th percentile frame time in milliseconds.
func (t *Tracker) Percentile(p float64) float64 { return t.sample.Percentile(p) }

// FPS returns the frame rate implied by the rolling average, or 0 when unknown.
func (t *Tracker) FPS() float64 {
	avg := t.sample.Average()
	if avg <= 0 {
		return 0
	}
	return 1000 / avg
}

// SampleCount returns the number of frame times currently buffered.
func (t *Tracker) SampleCount() int { return t.sample.Len() }

// Config returns the active configuration.
func (t *Tracker) Config() config.BudgetConfig { return t.cfg }

// SetConfig replaces the thresholds. Buffered samples survive a resize, newest first.
func (t *Tracker) SetConfig(cfg config.BudgetConfig) {
	if cfg.SampleSize != t.sample.Cap() && cfg.SampleSize > 0 {
		t.sample = t.sample.Resize(cfg.SampleSize)
	}
	t.cfg = cfg
}

// Stats returns a snapshot of the tracker.
func (t *Tracker) Stats() Stats {
	return Stats{
		Ticks:            t.ticks,
		Samples:          t.sample.Len(),
		AverageMs:        t.sample.Average(),
		MinMs:            t.sample.Min(),
		MaxMs:            t.sample.Max(),
		P50Ms:            t.sample.Percentile(50),
		P95Ms:            t.sample.Percentile(95),
		P99Ms:            t.sample.Percentile(99),
		FPS:              t.FPS(),
		ElapsedMs:        t.Elapsed(),
		RemainingMs:      t.Remaining(),
		Checks:           t.checks,
		Denials:          t.denials,
		CriticalBypasses: t.bypasses,
		Rejected:         t.rejected,
	}
}
