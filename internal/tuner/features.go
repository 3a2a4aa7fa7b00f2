package tuner

import (
	"math"
	"time"
)

// Normalization ranges for the feature vector.
const (
	frequencyScale  = 100.0
	maxGroupSize    = 40.0
	contentClasses  = 8
	minFPS          = 10.0
	maxFPS          = 60.0
	maxLatencyMs    = 100.0
	smallGroupLimit = 5
)

// Signals describes the host's situation when an event is observed.
type Signals struct {
	// Busy is set while the host is under load, for example in combat.
	Busy bool
	// GroupSize is the number of participants the workload spans.
	GroupSize int
	// ContentClass is a host-defined category code in [0, 7].
	ContentClass int
}

// SignalSource lets the host describe the context of an event.
type SignalSource interface {
	Signals(key, reason string) Signals
}

// SignalFunc adapts a function to SignalSource.
type SignalFunc func(key, reason string) Signals

// Signals implements SignalSource.
func (f SignalFunc) Signals(key, reason string) Signals { return f(key, reason) }

// Metrics exposes the frame measurements used as features.
type Metrics interface {
	FPS() float64
	Average() float64
}

// ContextClass partitions learned delays by workload.
type ContextClass int

const (
	Solo ContextClass = iota
	Small
	Large
	Busy
)

var contextNames = [...]string{"solo", "small", "large", "busy"}

func (c ContextClass) String() string {
	if c < Solo || c > Busy {
		return "unknown"
	}
	return contextNames[c]
}

// Valid reports whether c is a defined class.
func (c ContextClass) Valid() bool { return c >= Solo && c <= Busy }

// ParseContextClass returns the class named s.
func ParseContextClass(s string) (ContextClass, bool) {
	for i, name := range contextNames {
		if name == s {
			return ContextClass(i), true
		}
	}
	return Solo, false
}

// Classify maps signals onto a context class. Busy wins over group size.
func Classify(s Signals) ContextClass {
	switch {
	case s.Busy:
		return Busy
	case s.GroupSize <= 1:
		return Solo
	case s.GroupSize <= smallGroupLimit:
		return Small
	default:
		return Large
	}
}

type observation struct {
	count    int
	lastSeen time.Time
}

// Features is the normalized network input.
type Features [Inputs]float64

func unit(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func boolFeature(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// buildFeatures normalizes an observation, host signals and frame metrics.
// A nil observation means the key was never seen.
func buildFeatures(obs *observation, now time.Time, window time.Duration, sig Signals, fps, latencyMs float64) Features {
	var f Features
	if obs != nil {
		f[0] = unit(float64(obs.count) / frequencyScale)
		if window > 0 {
			f[1] = unit(1 - float64(now.Sub(obs.lastSeen))/float64(window))
		}
	}
	f[2] = boolFeature(sig.Busy)
	f[3] = unit(float64(sig.GroupSize) / maxGroupSize)
	f[4] = unit(float64(sig.ContentClass) / float64(contentClasses-1))
	f[5] = unit((fps - minFPS) / (maxFPS - minFPS))
	f[6] = unit(1 - latencyMs/maxLatencyMs)
	return f
}
