// Package scheduler wires the budget tracker, deferred queue, event
// coalescer, dirty tracker, adaptive tuner and state store to one host tick.
//
// A Scheduler is owned by the host's update thread. The host calls OnTick
// once per frame and advances its clock; every timer the components arm runs
// from that clock.
package scheduler

import (
	"context"
	"fmt"

	"github.com/Iron-Ham/pacer/internal/budget"
	"github.com/Iron-Ham/pacer/internal/clock"
	"github.com/Iron-Ham/pacer/internal/coalesce"
	"github.com/Iron-Ham/pacer/internal/config"
	"github.com/Iron-Ham/pacer/internal/deferred"
	"github.com/Iron-Ham/pacer/internal/dirty"
	"github.com/Iron-Ham/pacer/internal/errors"
	"github.com/Iron-Ham/pacer/internal/event"
	"github.com/Iron-Ham/pacer/internal/logging"
	"github.com/Iron-Ham/pacer/internal/priority"
	"github.com/Iron-Ham/pacer/internal/state"
	"github.com/Iron-Ham/pacer/internal/tuner"
)

// Stats aggregates every component's counters.
type Stats struct {
	Ticks     uint64          `json:"ticks"`
	Budget    budget.Stats    `json:"budget"`
	Deferred  deferred.Stats  `json:"deferred"`
	Coalescer coalesce.Totals `json:"coalescer"`
	Dirty     dirty.Stats     `json:"dirty"`
	Tuner     tuner.Stats     `json:"tuner"`
	Saves     uint64          `json:"saves"`
	SaveErrs  uint64          `json:"save_errors"`
}

// Scheduler owns one instance of every component.
type Scheduler struct {
	cfg    config.Config
	host   clock.Host
	logger *logging.Logger
	bus    *event.Bus

	budget    *budget.Tracker
	deferred  *deferred.Queue
	coalescer *coalesce.Coalescer
	dirty     *dirty.Tracker
	tuner     *tuner.Tuner
	store     *state.Store
	saver     *clock.Ticker

	ticks    uint64
	saves    uint64
	saveErrs uint64
	closed   bool
}

// New validates cfg, builds every component and attaches the tuner when it is
// enabled. Stored tuner state is restored unless WithoutRestore or
// WithoutPersistence is given; corrupt state resets the tuner and is not an
// error.
func New(cfg *config.Config, host clock.Host, logger *logging.Logger, opts ...Option) (*Scheduler, error) {
	if cfg == nil {
		return nil, errors.New("scheduler: config is required")
	}
	if host == nil {
		return nil, errors.New("scheduler: host is required")
	}
	if verrs := cfg.Validate(); len(verrs) > 0 {
		return nil, fmt.Errorf("scheduler: %w", config.ValidationErrors(verrs))
	}

	sc := &schedulerConfig{}
	for _, opt := range opts {
		opt(sc)
	}

	logger = logging.OrNop(logger)
	bus := sc.bus
	if bus == nil {
		bus = event.NewBus(logger)
	}

	s := &Scheduler{
		cfg:    *cfg,
		host:   host,
		logger: logger.WithComponent("scheduler"),
		bus:    bus,
	}

	s.budget = budget.NewTracker(cfg.Budget, host, budget.WithLogger(logger), budget.WithBus(bus))
	s.deferred = deferred.NewQueue(cfg.Deferred, host, deferred.WithLogger(logger), deferred.WithBus(bus))
	s.coalescer = coalesce.New(cfg.Coalescer, host, s.budget, coalesce.WithLogger(logger), coalesce.WithBus(bus))
	s.dirty = dirty.New(cfg.Dirty, host, s.budget, dirty.WithLogger(logger), dirty.WithBus(bus))

	tunerOpts := []tuner.Option{
		tuner.WithLogger(logger),
		tuner.WithBus(bus),
		tuner.WithMetrics(s.budget),
		tuner.WithCoalescer(s.coalescer),
		tuner.WithDirty(s.dirty),
	}
	if sc.signals != nil {
		tunerOpts = append(tunerOpts, tuner.WithSignals(sc.signals))
	}
	s.tuner = tuner.New(cfg.Tuner, host, tunerOpts...)

	if !sc.noStore {
		store := sc.store
		if store == nil {
			backend, err := state.Open(cfg.State)
			if err != nil {
				return nil, fmt.Errorf("scheduler: %w", err)
			}
			store = state.NewStore(backend, s.policyFor,
				state.WithLogger(logger), state.WithBus(bus), state.WithHost(host))
		}
		s.store = store
	}

	if s.store != nil && !sc.noRestore {
		if _, err := s.Restore(context.Background()); err != nil {
			s.logger.Error("restore failed, starting fresh", "error", err)
		}
	}

	if cfg.Tuner.Enabled {
		s.tuner.Attach()
	}
	s.armSaver()

	s.logger.Info("scheduler started",
		"persistence", s.store != nil,
		"save_interval", cfg.State.SaveInterval(),
	)
	return s, nil
}

// policyFor follows the tuner's current config so reloaded policies bound
// the next save.
func (s *Scheduler) policyFor(key string) config.DelayPolicy {
	cfg := s.tuner.Config()
	return cfg.PolicyFor(key)
}

func (s *Scheduler) armSaver() {
	if s.store == nil || s.cfg.State.SaveInterval() <= 0 {
		return
	}
	s.saver = clock.Every(s.host, s.cfg.State.SaveInterval(), func() {
		if err := s.Save(context.Background()); err != nil {
			s.logger.Error("periodic save failed", "error", err)
		}
	})
}

// OnTick records the host's last frame time and drains deferred work the
// budget still admits. It returns the number of deferred items run.
func (s *Scheduler) OnTick(frameMs float64) int {
	if s.closed {
		return 0
	}
	s.ticks++
	s.budget.OnTick(frameMs)
	return s.deferred.Drain(s.budget, 0)
}

// Defer queues work to run on a later tick when the budget allows.
func (s *Scheduler) Defer(work func(), class priority.Class, opts ...deferred.PushOption) bool {
	if s.closed {
		return false
	}
	return s.deferred.Push(work, class, opts...)
}

// Register subscribes sub to key on the coalescer.
func (s *Scheduler) Register(key string, sub coalesce.Subscriber, class priority.Class) bool {
	return s.coalescer.Register(key, s.tuner.GetOptimalDelay(key), sub, class)
}

// Submit forwards an event to the coalescer.
func (s *Scheduler) Submit(key string, args ...any) bool {
	if s.closed {
		return false
	}
	return s.coalescer.Submit(key, args...)
}

// MarkDirty flags target for a batched update at the given priority.
func (s *Scheduler) MarkDirty(target any, reason string, level priority.Level) bool {
	if s.closed {
		return false
	}
	return s.dirty.MarkDirtyWithPriority(target, reason, level)
}

// Save persists the tuner's learned state. It is a no-op without a store.
func (s *Scheduler) Save(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	if err := s.store.Save(ctx, s.tuner.Snapshot()); err != nil {
		s.saveErrs++
		return err
	}
	s.saves++
	return nil
}

// Restore loads stored state into the tuner.
func (s *Scheduler) Restore(ctx context.Context) (state.Outcome, error) {
	if s.store == nil {
		return state.Outcome{}, nil
	}
	return s.store.Restore(ctx, s.tuner)
}

// ApplyConfig validates cfg and pushes it to every component. Learned state
// and queued work survive. The state backend is fixed for the scheduler's
// lifetime; only the save interval follows cfg.
func (s *Scheduler) ApplyConfig(cfg *config.Config) error {
	if cfg == nil {
		return errors.New("scheduler: config is required")
	}
	if verrs := cfg.Validate(); len(verrs) > 0 {
		return config.ValidationErrors(verrs)
	}
	if cfg.State.Backend != s.cfg.State.Backend || cfg.State.Dir != s.cfg.State.Dir {
		s.logger.Warn("state backend changes apply on restart",
			"backend", cfg.State.Backend, "dir", cfg.State.Dir)
	}

	s.budget.SetConfig(cfg.Budget)
	s.deferred.SetConfig(cfg.Deferred)
	s.coalescer.SetConfig(cfg.Coalescer)
	s.dirty.SetConfig(cfg.Dirty)
	s.tuner.SetConfig(cfg.Tuner)
	switch {
	case cfg.Tuner.Enabled && !s.closed:
		s.tuner.Attach()
	case !cfg.Tuner.Enabled:
		s.tuner.Detach()
	}

	intervalChanged := cfg.State.SaveInterval() != s.cfg.State.SaveInterval()
	s.cfg = *cfg
	if intervalChanged {
		if s.saver != nil {
			s.saver.Stop()
			s.saver = nil
		}
		s.armSaver()
	}

	s.logger.Info("config applied")
	return nil
}

// HandleReload applies a watcher result and publishes config.reloaded with
// the outcome. It returns the error that kept the config from applying.
func (s *Scheduler) HandleReload(path string, r config.Reload) error {
	err := r.Err
	if err == nil {
		err = s.ApplyConfig(r.Config)
	}
	if err != nil {
		s.logger.Warn("config reload rejected", "path", path, "error", err)
	}
	s.bus.Publish(event.NewConfigReloadedEvent(s.host.Now(), path, err))
	return err
}

// Shutdown stops the periodic save, detaches the tuner, saves a final
// snapshot and closes the store. Calling it again is a no-op.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	if s.closed {
		return nil
	}
	s.closed = true

	if s.saver != nil {
		s.saver.Stop()
	}
	s.tuner.Detach()

	var errs []error
	if err := s.Save(ctx); err != nil {
		errs = append(errs, err)
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
	}
	s.logger.Info("scheduler stopped", "ticks", s.ticks, "saves", s.saves)
	return errors.Join(errs...)
}

// Closed reports whether Shutdown ran.
func (s *Scheduler) Closed() bool { return s.closed }

// Config returns the configuration in effect.
func (s *Scheduler) Config() config.Config { return s.cfg }

// Bus returns the event bus every component publishes on.
func (s *Scheduler) Bus() *event.Bus { return s.bus }

// Budget returns the frame budget tracker.
func (s *Scheduler) Budget() *budget.Tracker { return s.budget }

// Deferred returns the deferred work queue.
func (s *Scheduler) Deferred() *deferred.Queue { return s.deferred }

// Coalescer returns the event coalescer.
func (s *Scheduler) Coalescer() *coalesce.Coalescer { return s.coalescer }

// Dirty returns the dirty tracker.
func (s *Scheduler) Dirty() *dirty.Tracker { return s.dirty }

// Tuner returns the adaptive tuner.
func (s *Scheduler) Tuner() *tuner.Tuner { return s.tuner }

// Store returns the state store, or nil when persistence is disabled.
func (s *Scheduler) Store() *state.Store { return s.store }

// Stats returns a snapshot of every component's counters.
func (s *Scheduler) Stats() Stats {
	return Stats{
		Ticks:     s.ticks,
		Budget:    s.budget.Stats(),
		Deferred:  s.deferred.Stats(),
		Coalescer: s.coalescer.Totals(),
		Dirty:     s.dirty.Stats(),
		Tuner:     s.tuner.Stats(),
		Saves:     s.saves,
		SaveErrs:  s.saveErrs,
	}
}
