// Package state persists what the adaptive tuner has learned.
//
// A [Store] encodes a tuner snapshot as one versioned JSON document and hands
// it to a [Backend]. Loading never merges: a document with the wrong version
// or an invalid structure is reported as corrupt, and [Store.Restore] answers
// that by resetting the tuner to fresh defaults.
package state

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Iron-Ham/pacer/internal/clock"
	"github.com/Iron-Ham/pacer/internal/errors"
	"github.com/Iron-Ham/pacer/internal/event"
	"github.com/Iron-Ham/pacer/internal/logging"
	"github.com/Iron-Ham/pacer/internal/tuner"
)

// SchemaVersion is the document version this build reads and writes.
const SchemaVersion = 1

// Document is the persisted form of a tuner snapshot.
type Document struct {
	Version      int                   `json:"version" yaml:"version"`
	Network      tuner.NetworkState    `json:"network" yaml:"network"`
	Patterns     tuner.PatternState    `json:"patterns" yaml:"patterns"`
	Delays       tuner.DelayState      `json:"delays" yaml:"delays"`
	Observations map[string]tuner.Seen `json:"observations,omitempty" yaml:"observations,omitempty"`
	Meta         Meta                  `json:"meta" yaml:"meta"`
}

// Meta describes when and how a document was written.
type Meta struct {
	SavedAt time.Time `json:"saved_at" yaml:"saved_at"`
	Trained uint64    `json:"trained" yaml:"trained"`
	Backend string    `json:"backend,omitempty" yaml:"backend,omitempty"`
}

// Snapshot converts the document back into a tuner snapshot.
func (d Document) Snapshot() tuner.Snapshot {
	return tuner.Snapshot{
		Network:      d.Network,
		Patterns:     d.Patterns,
		Delays:       d.Delays,
		Observations: d.Observations,
		Trained:      d.Meta.Trained,
	}
}

// Outcome reports what Restore did.
type Outcome struct {
	Restored bool   // Learned state was adopted
	Reset    bool   // The tuner was reset to fresh defaults
	Reason   string // Why the tuner was reset
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the store's logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Store) { s.logger = logging.OrNop(l).WithComponent("state") }
}

// WithBus publishes state.saved and state.loaded events on b.
func WithBus(b *event.Bus) Option {
	return func(s *Store) { s.bus = b }
}

// WithHost stamps documents and events with host time instead of wall time.
func WithHost(h clock.Host) Option {
	return func(s *Store) { s.host = h }
}

// Store saves and loads tuner snapshots through a Backend.
type Store struct {
	backend Backend
	policy  tuner.PolicyFunc
	logger  *logging.Logger
	bus     *event.Bus
	host    clock.Host
}

// NewStore creates a Store. policy bounds every persisted delay.
func NewStore(backend Backend, policy tuner.PolicyFunc, opts ...Option) *Store {
	s := &Store{
		backend: backend,
		policy:  policy,
		logger:  logging.NopLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Backend returns the underlying backend.
func (s *Store) Backend() Backend { return s.backend }

func (s *Store) now() time.Time {
	if s.host != nil {
		return s.host.Now()
	}
	return time.Now()
}

func (s *Store) persistErr(op string, cause error) *errors.PersistenceError {
	return errors.NewPersistenceError(op, cause).WithBackend(s.backend.Name(), s.backend.Location())
}

// Encode builds the document for snap with every delay clamped to policy.
func (s *Store) Encode(snap tuner.Snapshot) Document {
	return Document{
		Version:      SchemaVersion,
		Network:      snap.Network,
		Patterns:     snap.Patterns,
		Delays:       snap.Delays.Clamp(s.policy),
		Observations: snap.Observations,
		Meta: Meta{
			SavedAt: s.now(),
			Trained: snap.Trained,
			Backend: s.backend.Name(),
		},
	}
}

// Save persists snap, replacing whatever was stored.
func (s *Store) Save(ctx context.Context, snap tuner.Snapshot) error {
	doc := s.Encode(snap)
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return s.persistErr("save", fmt.Errorf("marshal state: %w", err))
	}
	if err := s.backend.Write(ctx, data); err != nil {
		return s.persistErr("save", err)
	}

	s.logger.Info("state saved",
		"backend", s.backend.Name(),
		"patterns", len(doc.Patterns.Patterns),
		"delays", len(doc.Delays),
	)
	if s.bus != nil {
		s.bus.Publish(event.NewStateSavedEvent(s.now(), s.backend.Name(), s.backend.Location(),
			len(doc.Patterns.Patterns), len(doc.Delays)))
	}
	return nil
}

// Load reads and decodes the stored document. Missing state wraps
// ErrStateNotFound; a wrong version or an undecodable blob is corrupt.
func (s *Store) Load(ctx context.Context) (Document, error) {
	data, err := s.backend.Read(ctx)
	if err != nil {
		return Document{}, s.persistErr("load", err)
	}
	return s.Decode(data)
}

// Decode parses a stored blob and clamps its delays to policy.
func (s *Store) Decode(data []byte) (Document, error) {
	var probe struct {
		Version int `json:"version"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return Document{}, s.persistErr("load", errors.Corruptf("decode state: %v", err))
	}
	if probe.Version != SchemaVersion {
		return Document{}, s.persistErr("load",
			fmt.Errorf("found %d, want %d: %w", probe.Version, SchemaVersion, errors.ErrVersionMismatch)).
			WithVersion(probe.Version)
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return Document{}, s.persistErr("load", errors.Corruptf("decode state: %v", err)).WithVersion(probe.Version)
	}
	doc.Delays = doc.Delays.Clamp(s.policy)
	return doc, nil
}

// Restore loads the stored document into t. Missing state leaves t untouched.
// Corrupt state resets t to fresh defaults and is not returned as an error.
// Backend failures are returned and leave t untouched.
func (s *Store) Restore(ctx context.Context, t *tuner.Tuner) (Outcome, error) {
	doc, err := s.Load(ctx)
	switch {
	case errors.Is(err, errors.ErrStateNotFound):
		s.logger.Debug("no stored state", "backend", s.backend.Name())
		return Outcome{}, nil
	case errors.IsCorrupt(err):
		return s.reset(t, err), nil
	case err != nil:
		return Outcome{}, err
	}

	if err := t.Restore(doc.Snapshot()); err != nil {
		return s.reset(t, s.persistErr("load", errors.Corruptf("invalid state: %v", err)).WithVersion(doc.Version)), nil
	}

	s.logger.Info("state restored",
		"backend", s.backend.Name(),
		"saved_at", doc.Meta.SavedAt,
		"trained", doc.Meta.Trained,
	)
	if s.bus != nil {
		s.bus.Publish(event.NewStateLoadedEvent(s.now(), s.backend.Name(), false, ""))
	}
	return Outcome{Restored: true}, nil
}

func (s *Store) reset(t *tuner.Tuner, cause error) Outcome {
	t.Reset()
	s.logger.Critical("stored state discarded", "error", cause)
	if s.bus != nil {
		s.bus.Publish(event.NewStateLoadedEvent(s.now(), s.backend.Name(), true, cause.Error()))
	}
	return Outcome{Reset: true, Reason: cause.Error()}
}

// Clear deletes the stored document.
func (s *Store) Clear(ctx context.Context) error {
	if err := s.backend.Delete(ctx); err != nil {
		return s.persistErr("reset", err)
	}
	s.logger.Info("state cleared", "backend", s.backend.Name())
	return nil
}

// Close closes the backend.
func (s *Store) Close() error { return s.backend.Close() }

// Export writes doc to w as "json" or "yaml".
func Export(w io.Writer, doc Document, format string) error {
	switch format {
	case "", "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(doc)
	case "yaml", "yml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown export format %q", format)
	}
}
