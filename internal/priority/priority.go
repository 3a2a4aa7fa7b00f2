// Package priority defines the two priority scales used by the scheduler.
//
// [Class] is the discrete admission class consulted by the budget tracker and
// the deferred queue. Lower values are more urgent, so ordering a queue by
// ascending Class yields Critical work first.
//
// [Level] is the continuous dirty-entry priority. It is always clamped to
// [MinLevel, MaxLevel]; higher values are more urgent.
package priority

import (
	"fmt"
	"math"
	"strings"
)

// Class is a discrete admission priority.
type Class int

const (
	// Critical work bypasses every budget check and is never evicted.
	Critical Class = iota
	// High work is admitted ahead of Medium and Low.
	High
	// Medium is the default class.
	Medium
	// Low work is the first to be deferred or evicted.
	Low
)

// String returns the lowercase name of the class.
func (c Class) String() string {
	switch c {
	case Critical:
		return "critical"
	case High:
		return "high"
	case Medium:
		return "medium"
	case Low:
		return "low"
	default:
		return "unknown"
	}
}

// Valid reports whether c is one of the four defined classes.
func (c Class) Valid() bool {
	return c >= Critical && c <= Low
}

// MoreUrgent returns the more urgent of a and b.
func MoreUrgent(a, b Class) Class {
	if a < b {
		return a
	}
	return b
}

// ParseClass converts a case-insensitive class name into a Class.
func ParseClass(s string) (Class, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "critical":
		return Critical, nil
	case "high":
		return High, nil
	case "medium", "":
		return Medium, nil
	case "low":
		return Low, nil
	default:
		return Medium, fmt.Errorf("unknown priority class %q", s)
	}
}

// Level is a continuous dirty-entry priority in [MinLevel, MaxLevel].
type Level float64

const (
	MinLevel     Level = 1
	MaxLevel     Level = 5
	DefaultLevel Level = 3
)

// Clamp returns l bounded to [MinLevel, MaxLevel]. NaN maps to DefaultLevel.
func (l Level) Clamp() Level {
	if math.IsNaN(float64(l)) {
		return DefaultLevel
	}
	if l < MinLevel {
		return MinLevel
	}
	if l > MaxLevel {
		return MaxLevel
	}
	return l
}

// Decay lowers l by step without going below MinLevel.
func (l Level) Decay(step float64) Level {
	return (l - Level(step)).Clamp()
}

// Class maps a level onto an admission class. Levels never map to Critical;
// only explicit callers may request Critical admission.
func (l Level) Class() Class {
	switch c := l.Clamp(); {
	case c >= 4:
		return High
	case c >= 2.5:
		return Medium
	default:
		return Low
	}
}

// ClassFromRank maps a 1..5 rank (5 most urgent) onto a non-critical class.
func ClassFromRank(rank int) Class {
	return Level(rank).Class()
}
