// Package tuner learns from coalescer and dirty-tracker outcomes and writes
// better delays and priorities back through their public mutators.
//
// The tuner combines three learners:
//
//   - a 7-5-3 feed-forward [Network] predicting priority, delay and preload
//     likelihood from a normalized [Features] vector
//   - a [PatternLibrary] predicting which event key follows the most recent run
//   - a [DelayBook] adjusting per-key, per-context delays from success rates
//
// It only observes through the event bus. Attach subscribes it; Detach
// removes every subscription.
package tuner

import (
	"math"
	"math/rand/v2"
	"sort"
	"time"

	"github.com/Iron-Ham/pacer/internal/clock"
	"github.com/Iron-Ham/pacer/internal/config"
	"github.com/Iron-Ham/pacer/internal/event"
	"github.com/Iron-Ham/pacer/internal/logging"
	"github.com/Iron-Ham/pacer/internal/priority"
)

// MaxPredictedDelay is the delay an output of 1 maps to.
const MaxPredictedDelay = 200 * time.Millisecond

// Coalescer is the subset of the event coalescer the tuner tunes.
type Coalescer interface {
	Keys() []string
	Delay(key string) (time.Duration, bool)
	SetDelay(key string, d time.Duration) bool
	Priority(key string) (priority.Class, bool)
	SetPriority(key string, class priority.Class) bool
}

// DirtyControl is the subset of the dirty tracker the tuner tunes.
type DirtyControl interface {
	RaisePriority(name string, level priority.Level) int
}

// Prediction is the de-normalized network output.
type Prediction struct {
	Priority int           // 1..5
	Delay    time.Duration // 0..MaxPredictedDelay
	Preload  bool
}

// Stats counts tuner activity.
type Stats struct {
	Observed            uint64  `json:"observed"`
	Trained             uint64  `json:"trained"`
	LastLoss            float64 `json:"last_loss"`
	Patterns            int     `json:"patterns"`
	DelayEntries        int     `json:"delay_entries"`
	Refreshes           uint64  `json:"refreshes"`
	Recommendations     uint64  `json:"recommendations"`
	DelayAdjustments    uint64  `json:"delay_adjustments"`
	PriorityAdjustments uint64  `json:"priority_adjustments"`
}

// Option configures a Tuner.
type Option func(*Tuner)

// WithLogger sets the tuner's logger.
func WithLogger(l *logging.Logger) Option {
	return func(t *Tuner) { t.logger = logging.OrNop(l).WithComponent("tuner") }
}

// WithBus publishes recommendation and adjustment events on b. Attach
// subscribes to the same bus.
func WithBus(b *event.Bus) Option {
	return func(t *Tuner) { t.bus = b }
}

// WithSignals sets the host signal source.
func WithSignals(s SignalSource) Option {
	return func(t *Tuner) { t.signals = s }
}

// WithMetrics sets the frame metrics source, usually the budget tracker.
func WithMetrics(m Metrics) Option {
	return func(t *Tuner) { t.metrics = m }
}

// WithCoalescer lets the tuner write delays and priorities back.
func WithCoalescer(c Coalescer) Option {
	return func(t *Tuner) { t.coalescer = c }
}

// WithDirty lets the tuner raise dirty priorities for predicted targets.
func WithDirty(d DirtyControl) Option {
	return func(t *Tuner) { t.dirty = d }
}

// Tuner is the adaptive tuner. It is not safe for concurrent use.
type Tuner struct {
	cfg       config.TunerConfig
	host      clock.Host
	logger    *logging.Logger
	bus       *event.Bus
	signals   SignalSource
	metrics   Metrics
	coalescer Coalescer
	dirty     DirtyControl

	rng          *rand.Rand
	net          *Network
	patterns     *PatternLibrary
	delays       *DelayBook
	observations map[string]*observation
	predicted    map[string]float64

	subs   []string
	ticker *clock.Ticker
	stats  Stats
}

// New creates a Tuner with fresh random weights and empty tables.
func New(cfg config.TunerConfig, host clock.Host, opts ...Option) *Tuner {
	t := &Tuner{
		cfg:    cfg,
		host:   host,
		logger: logging.NopLogger(),
	}
	for _, opt := range opts {
		opt(t)
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = uint64(host.Now().UnixNano())
	}
	t.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	t.Reset()
	return t
}

// Reset discards everything learned and starts from fresh random weights.
func (t *Tuner) Reset() {
	t.net = NewNetwork(t.rng)
	t.patterns = NewPatternLibrary(t.cfg.SequenceLength, t.cfg.PatternLength, t.cfg.MaxPatterns)
	t.delays = NewDelayBook(t.cfg.PolicyFor)
	t.observations = make(map[string]*observation)
	t.predicted = make(map[string]float64)
	t.stats.Trained = 0
	t.stats.LastLoss = 0
}

// Config returns the current configuration.
func (t *Tuner) Config() config.TunerConfig { return t.cfg }

// SetConfig updates learning parameters and policies. Learned tables are
// kept; a different pattern length needs Reset to take effect.
func (t *Tuner) SetConfig(cfg config.TunerConfig) {
	t.cfg = cfg
	t.delays.policy = t.cfg.PolicyFor
	t.patterns.seqLen = max(cfg.SequenceLength, t.patterns.patLen)
	t.patterns.maxPatterns = cfg.MaxPatterns
	if t.ticker != nil {
		t.ticker.Reset(cfg.RecommendInterval())
	}
}

func (t *Tuner) signalsFor(key, reason string) Signals {
	if t.signals == nil {
		return Signals{}
	}
	return t.signals.Signals(key, reason)
}

func (t *Tuner) frame() (fps, latencyMs float64) {
	if t.metrics == nil {
		return 0, 0
	}
	return t.metrics.FPS(), t.metrics.Average()
}

func (t *Tuner) observe(key string) {
	o, ok := t.observations[key]
	if !ok {
		o = &observation{}
		t.observations[key] = o
	}
	o.count++
	o.lastSeen = t.host.Now()
	t.stats.Observed++
}

// ExtractFeatures returns the normalized feature vector for key.
func (t *Tuner) ExtractFeatures(key, reason string) Features {
	fps, latency := t.frame()
	return buildFeatures(t.observations[key], t.host.Now(), t.cfg.RecencyWindow(), t.signalsFor(key, reason), fps, latency)
}

// Predict runs the network for key.
func (t *Tuner) Predict(key, reason string) Prediction {
	f := t.ExtractFeatures(key, reason)
	_, out := t.net.Forward(f[:])
	return Prediction{
		Priority: int(math.Round(out[0]*4)) + 1,
		Delay:    time.Duration(out[1] * float64(MaxPredictedDelay)),
		Preload:  out[2] >= 0.5,
	}
}

// Train performs one gradient step towards the observed outcome and returns
// the loss before the step.
func (t *Tuner) Train(key, reason string, actualPriority int, actualDelay time.Duration, shouldHavePreloaded bool) float64 {
	f := t.ExtractFeatures(key, reason)
	target := []float64{
		unit(float64(actualPriority-1) / 4),
		unit(float64(actualDelay) / float64(MaxPredictedDelay)),
		boolFeature(shouldHavePreloaded),
	}
	loss := t.net.Train(f[:], target, t.cfg.LearningRate)
	t.stats.Trained++
	t.stats.LastLoss = loss
	return loss
}

// TrackPattern records key as the latest event in the sequence.
func (t *Tuner) TrackPattern(key, reason string) {
	t.patterns.Track(key, t.host.Now())
}

// PredictNextUpdates returns the probability of each key following the
// current event sequence.
func (t *Tuner) PredictNextUpdates() map[string]float64 {
	return t.patterns.PredictNext()
}

// LearnDelay folds a dispatch outcome for key into the delay statistics of
// the current context class and returns the updated delay.
func (t *Tuner) LearnDelay(key string, delay time.Duration, success bool) time.Duration {
	ctx := Classify(t.signalsFor(key, ""))
	fps, latency := t.frame()
	return t.delays.Learn(key, ctx, delay, success, fps, latency)
}

// GetOptimalDelay returns the learned delay for key in the current context
// class, or the key's policy default when nothing was learned.
func (t *Tuner) GetOptimalDelay(key string) time.Duration {
	return t.delays.Optimal(key, Classify(t.signalsFor(key, "")))
}

// DelayStat returns the statistics for key in ctx.
func (t *Tuner) DelayStat(key string, ctx ContextClass) (DelayStat, bool) {
	return t.delays.Stat(key, ctx)
}

// Attach subscribes the tuner to coalescer and dirty-tracker outcomes on the
// bus passed with WithBus and starts the periodic refresh. Attach is a no-op
// without a bus or when already attached.
func (t *Tuner) Attach() {
	if t.bus == nil || len(t.subs) > 0 {
		return
	}
	t.subs = []string{
		t.bus.Subscribe(event.TypeCoalescerSubmitted, t.onSubmitted),
		t.bus.Subscribe(event.TypeCoalescerDispatched, t.onDispatched),
		t.bus.Subscribe(event.TypeCoalescerDeferred, t.onDeferred),
		t.bus.Subscribe(event.TypeDirtyMarked, t.onDirtyMarked),
		t.bus.Subscribe(event.TypeDirtyProcessed, t.onDirtyProcessed),
	}
	if interval := t.cfg.RecommendInterval(); interval > 0 {
		t.ticker = clock.Every(t.host, interval, t.Refresh)
	}
	t.logger.Debug("tuner attached", "subscriptions", len(t.subs))
}

// Detach removes every subscription and stops the periodic refresh.
func (t *Tuner) Detach() {
	for _, id := range t.subs {
		t.bus.Unsubscribe(id)
	}
	t.subs = nil
	if t.ticker != nil {
		t.ticker.Stop()
		t.ticker = nil
	}
}

// Attached reports whether the tuner is subscribed.
func (t *Tuner) Attached() bool { return len(t.subs) > 0 }

func (t *Tuner) onSubmitted(e event.Event) {
	ev, ok := e.(event.CoalescerSubmittedEvent)
	if !ok {
		return
	}
	t.observe(ev.Key)
	t.TrackPattern(ev.Key, "submit")
}

func (t *Tuner) onDispatched(e event.Event) {
	ev, ok := e.(event.CoalescerDispatchedEvent)
	if !ok {
		return
	}
	t.LearnDelay(ev.Key, ev.Delay, ev.Success())
	t.Train(ev.Key, "dispatch", t.rankOf(ev.Key), t.GetOptimalDelay(ev.Key), t.wasPredicted(ev.Key))
	t.maybeApply(ev.Key)
}

func (t *Tuner) onDeferred(e event.Event) {
	ev, ok := e.(event.CoalescerDeferredEvent)
	if !ok {
		return
	}
	delay := ev.Retry
	if t.coalescer != nil {
		if d, ok := t.coalescer.Delay(ev.Key); ok {
			delay = d
		}
	}
	t.LearnDelay(ev.Key, delay, false)
	t.maybeApply(ev.Key)
}

func (t *Tuner) onDirtyMarked(e event.Event) {
	ev, ok := e.(event.DirtyMarkedEvent)
	if !ok || !ev.Fresh {
		return
	}
	t.observe(ev.Target)
	t.TrackPattern(ev.Target, ev.Reason)
}

func (t *Tuner) onDirtyProcessed(e event.Event) {
	ev, ok := e.(event.DirtyProcessedEvent)
	if !ok || ev.Err != nil {
		return
	}
	rank := int(math.Round(float64(ev.Priority)))
	t.Train(ev.Target, "update", rank, ev.Waited, t.wasPredicted(ev.Target))
}

func (t *Tuner) wasPredicted(key string) bool {
	return t.predicted[key] >= t.cfg.RecommendThreshold
}

// rankOf maps a coalescer key's class onto the 1..5 priority scale.
func (t *Tuner) rankOf(key string) int {
	if t.coalescer == nil {
		return int(priority.DefaultLevel)
	}
	class, ok := t.coalescer.Priority(key)
	if !ok {
		return int(priority.DefaultLevel)
	}
	switch class {
	case priority.Critical:
		return 5
	case priority.High:
		return 4
	case priority.Low:
		return 2
	default:
		return 3
	}
}

func (t *Tuner) maybeApply(key string) {
	if t.cfg.ApplyEvery > 0 && t.delays.Samples(key)%t.cfg.ApplyEvery == 0 {
		t.applyDelay(key)
	}
}

// applyDelay writes the learned delay for key to the coalescer when it moved
// by at least a millisecond.
func (t *Tuner) applyDelay(key string) bool {
	if t.coalescer == nil || t.delays.Samples(key) == 0 {
		return false
	}
	cur, ok := t.coalescer.Delay(key)
	if !ok {
		return false
	}
	next := t.GetOptimalDelay(key)
	diff := next - cur
	if diff < 0 {
		diff = -diff
	}
	if diff < time.Millisecond || !t.coalescer.SetDelay(key, next) {
		return false
	}
	t.stats.DelayAdjustments++
	ctx := Classify(t.signalsFor(key, ""))
	t.logger.Debug("applied learned delay", "key", key, "context", ctx.String(), "old", cur, "new", next)
	if t.bus != nil {
		t.bus.Publish(event.NewTunerDelayAdjustedEvent(t.host.Now(), key, ctx.String(), cur, next))
	}
	return true
}

// Refresh recomputes next-event predictions, publishes the keys above the
// recommendation threshold, raises their dirty priorities and applies
// learned delays (and priorities when enabled) to every coalescer key.
func (t *Tuner) Refresh() {
	t.stats.Refreshes++
	t.predicted = t.PredictNextUpdates()

	var recs []event.Recommendation
	for key, p := range t.predicted {
		if p >= t.cfg.RecommendThreshold {
			recs = append(recs, event.Recommendation{Key: key, Probability: p})
		}
	}
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].Probability != recs[j].Probability {
			return recs[i].Probability > recs[j].Probability
		}
		return recs[i].Key < recs[j].Key
	})

	if len(recs) > 0 {
		t.stats.Recommendations += uint64(len(recs))
		if t.dirty != nil {
			for _, r := range recs {
				level := priority.Level(t.Predict(r.Key, "recommend").Priority)
				t.dirty.RaisePriority(r.Key, level)
			}
		}
		if t.bus != nil {
			t.bus.Publish(event.NewTunerRecommendationEvent(t.host.Now(), recs))
		}
	}

	if t.coalescer == nil {
		return
	}
	for _, key := range t.coalescer.Keys() {
		t.applyDelay(key)
		if t.cfg.ApplyPriority {
			t.applyPriority(key)
		}
	}
}

// applyPriority moves a non-critical key to the class the network predicts.
func (t *Tuner) applyPriority(key string) {
	cur, ok := t.coalescer.Priority(key)
	if !ok || cur == priority.Critical {
		return
	}
	next := priority.ClassFromRank(t.Predict(key, "priority").Priority)
	if next != cur && t.coalescer.SetPriority(key, next) {
		t.stats.PriorityAdjustments++
		t.logger.Debug("applied predicted priority", "key", key, "old", cur.String(), "new", next.String())
	}
}

// Stats returns a snapshot of the counters.
func (t *Tuner) Stats() Stats {
	s := t.stats
	s.Patterns = t.patterns.Len()
	s.DelayEntries = t.delays.Len()
	return s
}
