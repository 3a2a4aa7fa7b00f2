package tuner

import (
	"encoding/json"
	"fmt"
	"maps"
	"time"
)

// signature encodes a run of event keys as a JSON array, so keys may contain
// any character without two runs sharing a signature.
func signature(keys []string) string {
	b, _ := json.Marshal(keys)
	return string(b)
}

// signatureParts decodes a signature built by signature.
func signatureParts(sig string) ([]string, error) {
	var keys []string
	if err := json.Unmarshal([]byte(sig), &keys); err != nil {
		return nil, fmt.Errorf("signature %q: %w", sig, err)
	}
	return keys, nil
}

// Pattern counts what followed one signature.
type Pattern struct {
	Count    int            `json:"count" yaml:"count"`
	Next     map[string]int `json:"next" yaml:"next"`
	LastSeen time.Time      `json:"last_seen" yaml:"last_seen"`
}

// PatternState is the serializable form of a PatternLibrary.
type PatternState struct {
	Length   int                 `json:"length" yaml:"length"`
	Recent   []string            `json:"recent" yaml:"recent"`
	Last     string              `json:"last" yaml:"last"`
	Patterns map[string]*Pattern `json:"patterns" yaml:"patterns"`
}

// PatternLibrary learns which event follows each fixed-length run of events.
type PatternLibrary struct {
	seqLen      int
	patLen      int
	maxPatterns int

	recent   []string
	last     string
	patterns map[string]*Pattern
}

// NewPatternLibrary creates a library. seqLen bounds the recent buffer and is
// raised to patLen when smaller; maxPatterns of 0 means unbounded.
func NewPatternLibrary(seqLen, patLen, maxPatterns int) *PatternLibrary {
	patLen = max(patLen, 1)
	return &PatternLibrary{
		seqLen:      max(seqLen, patLen),
		patLen:      patLen,
		maxPatterns: maxPatterns,
		patterns:    make(map[string]*Pattern),
	}
}

// Track records key as the latest event.
func (l *PatternLibrary) Track(key string, now time.Time) {
	l.recent = append(l.recent, key)
	if over := len(l.recent) - l.seqLen; over > 0 {
		l.recent = append(l.recent[:0], l.recent[over:]...)
	}

	if l.last != "" {
		p, ok := l.patterns[l.last]
		if !ok {
			l.evict()
			p = &Pattern{Next: make(map[string]int)}
			l.patterns[l.last] = p
		}
		p.Count++
		p.Next[key]++
		p.LastSeen = now
	}

	if len(l.recent) >= l.patLen {
		l.last = signature(l.recent[len(l.recent)-l.patLen:])
	}
}

// evict drops the least recently seen pattern when the library is full.
func (l *PatternLibrary) evict() {
	if l.maxPatterns <= 0 || len(l.patterns) < l.maxPatterns {
		return
	}
	var oldest string
	var oldestAt time.Time
	first := true
	for sig, p := range l.patterns {
		if first || p.LastSeen.Before(oldestAt) || (p.LastSeen.Equal(oldestAt) && sig < oldest) {
			oldest, oldestAt, first = sig, p.LastSeen, false
		}
	}
	delete(l.patterns, oldest)
}

// PredictNext returns the probability of each key following the current
// signature. It is empty until a full signature has been seen at least once.
func (l *PatternLibrary) PredictNext() map[string]float64 {
	out := make(map[string]float64)
	p, ok := l.patterns[l.last]
	if l.last == "" || !ok || p.Count == 0 {
		return out
	}
	total := 0
	for _, n := range p.Next {
		total += n
	}
	for key, n := range p.Next {
		out[key] = float64(n) / float64(total)
	}
	return out
}

// Signature returns the current signature.
func (l *PatternLibrary) Signature() string { return l.last }

// Len returns the number of stored patterns.
func (l *PatternLibrary) Len() int { return len(l.patterns) }

// State returns a deep copy of the library.
func (l *PatternLibrary) State() PatternState {
	s := PatternState{
		Length:   l.patLen,
		Recent:   append([]string(nil), l.recent...),
		Last:     l.last,
		Patterns: make(map[string]*Pattern, len(l.patterns)),
	}
	for sig, p := range l.patterns {
		s.Patterns[sig] = &Pattern{Count: p.Count, Next: maps.Clone(p.Next), LastSeen: p.LastSeen}
	}
	return s
}

// Validate checks that every signature has the expected length and every
// count is consistent.
func (s PatternState) Validate(patLen int) error {
	if s.Length != patLen {
		return fmt.Errorf("pattern length %d, expected %d", s.Length, patLen)
	}
	check := func(sig string) error {
		parts, err := signatureParts(sig)
		if err != nil {
			return err
		}
		if len(parts) != patLen {
			return fmt.Errorf("signature %q has %d parts, expected %d", sig, len(parts), patLen)
		}
		return nil
	}
	if s.Last != "" {
		if err := check(s.Last); err != nil {
			return err
		}
	}
	for sig, p := range s.Patterns {
		if err := check(sig); err != nil {
			return err
		}
		if p == nil || p.Count < 0 {
			return fmt.Errorf("signature %q: invalid entry", sig)
		}
		for key, n := range p.Next {
			if n < 0 {
				return fmt.Errorf("signature %q: negative count for %q", sig, key)
			}
		}
	}
	return nil
}

// restore replaces the library contents with a validated state.
func (l *PatternLibrary) restore(s PatternState) {
	l.recent = append([]string(nil), s.Recent...)
	if over := len(l.recent) - l.seqLen; over > 0 {
		l.recent = l.recent[over:]
	}
	l.last = s.Last
	l.patterns = make(map[string]*Pattern, len(s.Patterns))
	for sig, p := range s.Patterns {
		next := maps.Clone(p.Next)
		if next == nil {
			next = make(map[string]int)
		}
		l.patterns[sig] = &Pattern{Count: p.Count, Next: next, LastSeen: p.LastSeen}
	}
	for l.maxPatterns > 0 && len(l.patterns) > l.maxPatterns {
		l.evict()
	}
}
