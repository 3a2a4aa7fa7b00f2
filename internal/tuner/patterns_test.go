package tuner

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func trackAll(l *PatternLibrary, start time.Time, keys ...string) {
	for i, k := range keys {
		l.Track(k, start.Add(time.Duration(i)*time.Second))
	}
}

func TestPatternLibrary_PredictsFollower(t *testing.T) {
	l := NewPatternLibrary(16, 2, 0)
	trackAll(l, time.Unix(0, 0), "A", "B", "C", "A", "B", "C", "A", "B")

	assert.Equal(t, `["A","B"]`, l.Signature())
	assert.Equal(t, map[string]float64{"C": 1}, l.PredictNext())
}

func TestPatternLibrary_SplitsProbability(t *testing.T) {
	l := NewPatternLibrary(16, 1, 0)
	trackAll(l, time.Unix(0, 0), "A", "B", "A", "C", "A", "B", "A")

	got := l.PredictNext()
	assert.InDelta(t, 2.0/3.0, got["B"], 1e-9)
	assert.InDelta(t, 1.0/3.0, got["C"], 1e-9)
}

func TestPatternLibrary_EmptyUntilSignatureSeen(t *testing.T) {
	l := NewPatternLibrary(16, 3, 0)
	assert.Empty(t, l.PredictNext())

	trackAll(l, time.Unix(0, 0), "A", "B")
	assert.Empty(t, l.PredictNext(), "pattern too short")

	l.Track("C", time.Unix(10, 0))
	assert.Empty(t, l.PredictNext(), "signature never followed")
}

func TestPatternLibrary_RecentBufferIsBounded(t *testing.T) {
	l := NewPatternLibrary(4, 2, 0)
	trackAll(l, time.Unix(0, 0), "a", "b", "c", "d", "e", "f")
	assert.Equal(t, []string{"c", "d", "e", "f"}, l.State().Recent)
}

func TestPatternLibrary_EvictsLeastRecentlySeen(t *testing.T) {
	l := NewPatternLibrary(8, 1, 2)
	trackAll(l, time.Unix(0, 0), "A", "B", "C", "D")

	assert.Equal(t, 2, l.Len())
	s := l.State()
	assert.NotContains(t, s.Patterns, "A")
	assert.Contains(t, s.Patterns, "B")
	assert.Contains(t, s.Patterns, "C")
}

func TestPatternState_Validate(t *testing.T) {
	l := NewPatternLibrary(8, 2, 0)
	trackAll(l, time.Unix(0, 0), "A", "B", "C")
	s := l.State()
	require.NoError(t, s.Validate(2))

	assert.Error(t, s.Validate(3), "length mismatch")

	s.Patterns[`["A","B","C"]`] = &Pattern{Count: 1}
	assert.Error(t, s.Validate(2), "signature of the wrong length")

	delete(s.Patterns, `["A","B","C"]`)
	s.Patterns["A|B"] = &Pattern{Count: 1}
	assert.Error(t, s.Validate(2), "signature that does not decode")
}

func TestPatternLibrary_KeysWithSeparators(t *testing.T) {
	ab := NewPatternLibrary(8, 2, 0)
	trackAll(ab, time.Unix(0, 0), "a|b", "c")
	bc := NewPatternLibrary(8, 2, 0)
	trackAll(bc, time.Unix(0, 0), "a", "b|c")
	assert.NotEqual(t, ab.Signature(), bc.Signature())

	l := NewPatternLibrary(8, 3, 0)
	for range 3 {
		trackAll(l, time.Unix(0, 0), "unit|health", "unit|power", "bag")
	}
	s := l.State()
	require.NoError(t, s.Validate(3))

	other := NewPatternLibrary(8, 3, 0)
	other.restore(s)
	assert.Equal(t, l.PredictNext(), other.PredictNext())
	assert.Equal(t, map[string]float64{"unit|health": 1}, other.PredictNext())
}

func TestPatternLibrary_StateRestore(t *testing.T) {
	l := NewPatternLibrary(8, 2, 0)
	trackAll(l, time.Unix(0, 0), "A", "B", "C", "A", "B")

	other := NewPatternLibrary(8, 2, 0)
	other.restore(l.State())
	assert.Equal(t, l.PredictNext(), other.PredictNext())
	assert.Equal(t, l.Signature(), other.Signature())

	// The restored copy is independent
	other.Track("Z", time.Unix(100, 0))
	assert.Equal(t, map[string]float64{"C": 1}, l.PredictNext())
}
