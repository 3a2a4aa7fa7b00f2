package scheduler

import (
	"github.com/Iron-Ham/pacer/internal/event"
	"github.com/Iron-Ham/pacer/internal/state"
	"github.com/Iron-Ham/pacer/internal/tuner"
)

// schedulerConfig holds optional configuration for a Scheduler.
type schedulerConfig struct {
	bus       *event.Bus
	store     *state.Store
	signals   tuner.SignalSource
	noStore   bool
	noRestore bool
}

// Option configures a Scheduler.
type Option func(*schedulerConfig)

// WithBus shares an existing event bus. If nil, the scheduler creates one.
func WithBus(b *event.Bus) Option {
	return func(c *schedulerConfig) { c.bus = b }
}

// WithStore persists tuner state through s instead of the backend named in
// the state config.
func WithStore(s *state.Store) Option {
	return func(c *schedulerConfig) { c.store = s }
}

// WithoutPersistence disables loading and saving learned state.
func WithoutPersistence() Option {
	return func(c *schedulerConfig) { c.noStore = true }
}

// WithoutRestore skips loading stored state at construction.
func WithoutRestore() Option {
	return func(c *schedulerConfig) { c.noRestore = true }
}

// WithSignals supplies host context (busy flag, group size, content class)
// to the tuner.
func WithSignals(s tuner.SignalSource) Option {
	return func(c *schedulerConfig) { c.signals = s }
}
