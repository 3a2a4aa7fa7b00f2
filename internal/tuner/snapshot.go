package tuner

import (
	"fmt"
	"maps"
	"time"
)

// Snapshot is everything the tuner has learned.
type Snapshot struct {
	Network      NetworkState    `json:"network" yaml:"network"`
	Patterns     PatternState    `json:"patterns" yaml:"patterns"`
	Delays       DelayState      `json:"delays" yaml:"delays"`
	Observations map[string]Seen `json:"observations,omitempty" yaml:"observations,omitempty"`
	Trained      uint64          `json:"trained" yaml:"trained"`
}

// Seen is the frequency and recency of one key.
type Seen struct {
	Count    int       `json:"count" yaml:"count"`
	LastSeen time.Time `json:"last_seen" yaml:"last_seen"`
}

// Snapshot returns a deep copy of the learned state with every delay clamped
// to its policy.
func (t *Tuner) Snapshot() Snapshot {
	obs := make(map[string]Seen, len(t.observations))
	for key, o := range t.observations {
		obs[key] = Seen{Count: o.count, LastSeen: o.lastSeen}
	}
	return Snapshot{
		Network:      t.net.State(),
		Patterns:     t.patterns.State(),
		Delays:       t.delays.State(),
		Observations: obs,
		Trained:      t.stats.Trained,
	}
}

// Validate checks s against the tuner's shape without modifying anything.
func (t *Tuner) Validate(s Snapshot) error {
	if err := s.Network.Validate(); err != nil {
		return fmt.Errorf("network: %w", err)
	}
	if err := s.Patterns.Validate(t.patterns.patLen); err != nil {
		return fmt.Errorf("patterns: %w", err)
	}
	if err := s.Delays.Validate(); err != nil {
		return fmt.Errorf("delays: %w", err)
	}
	for key, o := range s.Observations {
		if o.Count < 0 {
			return fmt.Errorf("observations: %q has negative count", key)
		}
	}
	return nil
}

// Restore replaces the learned state with s. A snapshot that fails
// validation is rejected as a whole and the current state is kept.
func (t *Tuner) Restore(s Snapshot) error {
	if err := t.Validate(s); err != nil {
		return err
	}
	net, err := networkFromState(s.Network)
	if err != nil {
		return fmt.Errorf("network: %w", err)
	}
	t.net = net
	t.patterns.restore(s.Patterns)
	t.delays.restore(s.Delays)
	t.observations = make(map[string]*observation, len(s.Observations))
	for key, o := range s.Observations {
		t.observations[key] = &observation{count: o.Count, lastSeen: o.LastSeen}
	}
	t.predicted = make(map[string]float64)
	t.stats.Trained = s.Trained
	return nil
}

// Clone returns a deep copy of s.
func (s Snapshot) Clone() Snapshot {
	out := s
	out.Network = s.Network.clone()
	out.Patterns.Recent = append([]string(nil), s.Patterns.Recent...)
	out.Patterns.Patterns = make(map[string]*Pattern, len(s.Patterns.Patterns))
	for sig, p := range s.Patterns.Patterns {
		if p == nil {
			continue
		}
		out.Patterns.Patterns[sig] = &Pattern{Count: p.Count, Next: maps.Clone(p.Next), LastSeen: p.LastSeen}
	}
	out.Delays = make(DelayState, len(s.Delays))
	for key, byCtx := range s.Delays {
		out.Delays[key] = maps.Clone(byCtx)
	}
	out.Observations = maps.Clone(s.Observations)
	return out
}
