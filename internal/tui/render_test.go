package tui

import (
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/stretchr/testify/assert"

	"github.com/Iron-Ham/pacer/internal/config"
	"github.com/Iron-Ham/pacer/internal/priority"
	"github.com/Iron-Ham/pacer/internal/scheduler"
	"github.com/Iron-Ham/pacer/internal/state"
	"github.com/Iron-Ham/pacer/internal/tuner"
)

func TestRenderStats(t *testing.T) {
	var st scheduler.Stats
	st.Coalescer.Submitted = 10
	st.Coalescer.Dispatched = 4
	st.Saves = 3

	wide := RenderStats(st, config.Default().Budget, 200)
	narrow := RenderStats(st, config.Default().Budget, 60)

	for _, want := range []string{"Frame", "Coalescer", "Dirty", "Deferred", "Tuner", "State", "60%"} {
		assert.Contains(t, wide, want)
	}
	assert.Greater(t, lipgloss.Height(narrow), lipgloss.Height(wide), "narrow terminals stack panels")
}

func TestRenderDelays(t *testing.T) {
	assert.Contains(t, RenderDelays(nil), "no event keys")

	out := RenderDelays([]DelayRow{
		{Key: "BAG_UPDATE", Class: priority.Medium, Delay: 100 * time.Millisecond, Max: 200 * time.Millisecond, Delivered: 7},
		{Key: "CHAT_MSG", Class: priority.Low, Delay: time.Second, Max: 200 * time.Millisecond},
	})
	lines := strings.Split(out, "\n")
	assert.Len(t, lines, 3)
	assert.Equal(t, DelayBarWidth/2, strings.Count(lines[1], "█"))
	assert.Contains(t, lines[1], "7 delivered")
	assert.Equal(t, DelayBarWidth, strings.Count(lines[2], "█"), "bar is capped at the policy max")
}

func TestRenderState(t *testing.T) {
	doc := state.Document{
		Version: state.SchemaVersion,
		Network: tuner.NetworkState{
			W1: [][]float64{{0, 0, 0}, {0, 0, 0}},
			W2: [][]float64{{0, 0}},
		},
		Delays: tuner.DelayState{
			"BAG": {"solo": {DelayMs: 12.5, Samples: 4}},
		},
		Observations: map[string]tuner.Seen{
			"BAG":  {Count: 9},
			"CHAT": {Count: 2},
		},
		Meta: state.Meta{Backend: "file", Trained: 17, SavedAt: time.Unix(0, 0).UTC()},
	}

	out := RenderState(doc)
	for _, want := range []string{"Tuner state", "3 inputs, 2 hidden, 1 outputs", "17", "12.5 ms", "4 samples", "1970-01-01"} {
		assert.Contains(t, out, want)
	}
	assert.Less(t, strings.Index(out, "BAG "), strings.Index(out, "CHAT "), "observations sorted by count")
}
