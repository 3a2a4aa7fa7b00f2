package tuner

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/Iron-Ham/pacer/internal/config"
)

// Adjustment rules for learned delays.
const (
	raiseBelow    = 0.70
	lowerAbove    = 0.95
	lowerMinCount = 10
	raiseFactor   = 1.10
	lowerFactor   = 0.95
	// maxWindow halves the counters once exceeded so the success rate follows
	// recent outcomes.
	maxWindow = 100
)

// DelayStat is the learned delay for one key in one context class.
type DelayStat struct {
	DelayMs    float64 `json:"delay_ms" yaml:"delay_ms"`
	Samples    int     `json:"samples" yaml:"samples"`
	Successes  int     `json:"successes" yaml:"successes"`
	Throughput float64 `json:"throughput" yaml:"throughput"`
	LatencyMs  float64 `json:"latency_ms" yaml:"latency_ms"`
}

// Delay returns the learned delay as a time.Duration.
func (s DelayStat) Delay() time.Duration {
	return time.Duration(s.DelayMs * float64(time.Millisecond))
}

// SuccessRate returns successes over samples, or 1 with no samples.
func (s DelayStat) SuccessRate() float64 {
	if s.Samples == 0 {
		return 1
	}
	return float64(s.Successes) / float64(s.Samples)
}

// DelayState maps event key to context class name to learned statistics.
type DelayState map[string]map[string]DelayStat

// PolicyFunc returns the delay bounds for an event key.
type PolicyFunc func(key string) config.DelayPolicy

// clampMs bounds ms to p, mapping non-finite values to the policy default.
func clampMs(p config.DelayPolicy, ms float64) float64 {
	if math.IsNaN(ms) || math.IsInf(ms, 0) {
		return float64(p.Default()) / float64(time.Millisecond)
	}
	return math.Max(p.MinMs, math.Min(p.MaxMs, ms))
}

// DelayBook learns per-key, per-context coalescing delays from dispatch
// outcomes. Every stored delay lies within its key's policy.
type DelayBook struct {
	policy PolicyFunc
	stats  map[string]map[ContextClass]*DelayStat
}

// NewDelayBook creates an empty book bounded by policy.
func NewDelayBook(policy PolicyFunc) *DelayBook {
	return &DelayBook{policy: policy, stats: make(map[string]map[ContextClass]*DelayStat)}
}

// Learn folds one outcome into the statistics for key in ctx and returns the
// updated delay. The first observation seeds the delay with the observed one.
func (b *DelayBook) Learn(key string, ctx ContextClass, observed time.Duration, success bool, throughput, latencyMs float64) time.Duration {
	p := b.policy(key)
	byCtx, ok := b.stats[key]
	if !ok {
		byCtx = make(map[ContextClass]*DelayStat)
		b.stats[key] = byCtx
	}
	st, ok := byCtx[ctx]
	if !ok {
		st = &DelayStat{DelayMs: clampMs(p, float64(observed)/float64(time.Millisecond))}
		byCtx[ctx] = st
	}

	st.Samples++
	if success {
		st.Successes++
	}
	st.Throughput = throughput
	st.LatencyMs = latencyMs

	rate := st.SuccessRate()
	switch {
	case rate < raiseBelow:
		st.DelayMs *= raiseFactor
	case rate > lowerAbove && st.Samples >= lowerMinCount:
		st.DelayMs *= lowerFactor
	}
	st.DelayMs = clampMs(p, st.DelayMs)

	if st.Samples > maxWindow {
		st.Samples /= 2
		st.Successes /= 2
	}
	return st.Delay()
}

// Optimal returns the learned delay for key in ctx, falling back to the
// key's other contexts and then to the policy default.
func (b *DelayBook) Optimal(key string, ctx ContextClass) time.Duration {
	p := b.policy(key)
	byCtx := b.stats[key]
	if st, ok := byCtx[ctx]; ok {
		return p.Clamp(st.Delay())
	}
	// Fall back to the best-sampled context
	var best *DelayStat
	for _, c := range []ContextClass{Solo, Small, Large, Busy} {
		if st, ok := byCtx[c]; ok && (best == nil || st.Samples > best.Samples) {
			best = st
		}
	}
	if best != nil {
		return p.Clamp(best.Delay())
	}
	return p.Default()
}

// Stat returns the statistics for key in ctx.
func (b *DelayBook) Stat(key string, ctx ContextClass) (DelayStat, bool) {
	st, ok := b.stats[key][ctx]
	if !ok {
		return DelayStat{}, false
	}
	return *st, true
}

// Samples returns the total sample count recorded for key.
func (b *DelayBook) Samples(key string) int {
	n := 0
	for _, st := range b.stats[key] {
		n += st.Samples
	}
	return n
}

// Keys returns the learned keys in sorted order.
func (b *DelayBook) Keys() []string {
	keys := make([]string, 0, len(b.stats))
	for k := range b.stats {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of (key, context) entries.
func (b *DelayBook) Len() int {
	n := 0
	for _, byCtx := range b.stats {
		n += len(byCtx)
	}
	return n
}

// State returns a clamped copy of the book.
func (b *DelayBook) State() DelayState {
	out := make(DelayState, len(b.stats))
	for key, byCtx := range b.stats {
		m := make(map[string]DelayStat, len(byCtx))
		for ctx, st := range byCtx {
			m[ctx.String()] = *st
		}
		out[key] = m
	}
	return out.Clamp(b.policy)
}

// Clamp returns a copy of s with every delay bounded by policy.
func (s DelayState) Clamp(policy PolicyFunc) DelayState {
	out := make(DelayState, len(s))
	for key, byCtx := range s {
		p := policy(key)
		m := make(map[string]DelayStat, len(byCtx))
		for ctx, st := range byCtx {
			st.DelayMs = clampMs(p, st.DelayMs)
			m[ctx] = st
		}
		out[key] = m
	}
	return out
}

// Validate rejects unknown context classes and inconsistent counters.
func (s DelayState) Validate() error {
	for key, byCtx := range s {
		for ctx, st := range byCtx {
			if _, ok := ParseContextClass(ctx); !ok {
				return fmt.Errorf("delay %q: unknown context %q", key, ctx)
			}
			if st.Samples < 0 || st.Successes < 0 || st.Successes > st.Samples {
				return fmt.Errorf("delay %q/%s: invalid counters", key, ctx)
			}
		}
	}
	return nil
}

// restore replaces the book with a validated state, clamping every delay.
func (b *DelayBook) restore(s DelayState) {
	b.stats = make(map[string]map[ContextClass]*DelayStat, len(s))
	for key, byCtx := range s.Clamp(b.policy) {
		m := make(map[ContextClass]*DelayStat, len(byCtx))
		for name, st := range byCtx {
			ctx, _ := ParseContextClass(name)
			m[ctx] = &st
		}
		b.stats[key] = m
	}
}
