package tuner

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Iron-Ham/pacer/internal/config"
)

func testPolicy(string) config.DelayPolicy {
	return config.DelayPolicy{MinMs: 10, MaxMs: 100, DefaultMs: 50}
}

func TestDelayBook_FailuresRaiseDelay(t *testing.T) {
	b := NewDelayBook(testPolicy)
	d := b.Learn("BAG", Solo, 50*time.Millisecond, false, 60, 8)
	assert.Equal(t, 55*time.Millisecond, d)

	st, ok := b.Stat("BAG", Solo)
	require.True(t, ok)
	assert.Equal(t, 1, st.Samples)
	assert.Zero(t, st.Successes)
	assert.Equal(t, 60.0, st.Throughput)
}

func TestDelayBook_SuccessLowersDelayAfterTenSamples(t *testing.T) {
	b := NewDelayBook(testPolicy)
	for range 9 {
		b.Learn("BAG", Solo, 50*time.Millisecond, true, 0, 0)
	}
	assert.Equal(t, 50*time.Millisecond, b.Optimal("BAG", Solo))

	d := b.Learn("BAG", Solo, 50*time.Millisecond, true, 0, 0)
	assert.Equal(t, 47500*time.Microsecond, d)
}

func TestDelayBook_StaysWithinPolicy(t *testing.T) {
	b := NewDelayBook(testPolicy)
	for range 100 {
		b.Learn("UP", Busy, 90*time.Millisecond, false, 0, 0)
	}
	assert.Equal(t, 100*time.Millisecond, b.Optimal("UP", Busy))

	for range 300 {
		b.Learn("DOWN", Busy, 5*time.Millisecond, true, 0, 0)
	}
	assert.Equal(t, 10*time.Millisecond, b.Optimal("DOWN", Busy))
}

func TestDelayBook_Fallbacks(t *testing.T) {
	b := NewDelayBook(testPolicy)
	assert.Equal(t, 50*time.Millisecond, b.Optimal("unseen", Solo))

	b.Learn("K", Large, 30*time.Millisecond, true, 0, 0)
	assert.Equal(t, 30*time.Millisecond, b.Optimal("K", Solo), "falls back to another context")
}

func TestDelayBook_CountersStayRolling(t *testing.T) {
	b := NewDelayBook(testPolicy)
	for range maxWindow + 1 {
		b.Learn("K", Solo, 50*time.Millisecond, true, 0, 0)
	}
	st, _ := b.Stat("K", Solo)
	assert.LessOrEqual(t, st.Samples, maxWindow)
	assert.Equal(t, st.Samples, st.Successes)
}

func TestDelayState_ClampRepairsDrift(t *testing.T) {
	s := DelayState{
		"K": {
			"solo":  {DelayMs: 5000, Samples: 1},
			"small": {DelayMs: -3},
			"busy":  {DelayMs: math.NaN()},
		},
	}
	c := s.Clamp(testPolicy)
	assert.Equal(t, 100.0, c["K"]["solo"].DelayMs)
	assert.Equal(t, 10.0, c["K"]["small"].DelayMs)
	assert.Equal(t, 50.0, c["K"]["busy"].DelayMs)
	assert.Equal(t, 5000.0, s["K"]["solo"].DelayMs, "input is not modified")
}

func TestDelayState_Validate(t *testing.T) {
	assert.NoError(t, DelayState{"K": {"solo": {Samples: 2, Successes: 1}}}.Validate())
	assert.Error(t, DelayState{"K": {"combat": {}}}.Validate())
	assert.Error(t, DelayState{"K": {"solo": {Samples: 1, Successes: 2}}}.Validate())
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		in   Signals
		want ContextClass
	}{
		{"alone", Signals{GroupSize: 1}, Solo},
		{"no group", Signals{}, Solo},
		{"party", Signals{GroupSize: 5}, Small},
		{"raid", Signals{GroupSize: 25}, Large},
		{"busy wins", Signals{Busy: true, GroupSize: 25}, Busy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.in))
		})
	}
}

func TestContextClass_RoundTrip(t *testing.T) {
	for _, c := range []ContextClass{Solo, Small, Large, Busy} {
		got, ok := ParseContextClass(c.String())
		require.True(t, ok)
		assert.Equal(t, c, got)
	}
	_, ok := ParseContextClass("raid")
	assert.False(t, ok)
}
