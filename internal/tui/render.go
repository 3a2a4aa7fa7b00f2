package tui

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/Iron-Ham/pacer/internal/config"
	"github.com/Iron-Ham/pacer/internal/priority"
	"github.com/Iron-Ham/pacer/internal/scheduler"
	"github.com/Iron-Ham/pacer/internal/sim"
	"github.com/Iron-Ham/pacer/internal/state"
	"github.com/Iron-Ham/pacer/internal/tui/styles"
)

// Layout constants
const (
	// NarrowWidth is the terminal width below which panels stack vertically
	NarrowWidth = 100
	// PanelsPerRow is how many stat panels share a row on wide terminals
	PanelsPerRow = 3
	// DelayBarWidth is the widest delay bar, drawn for the key's policy max
	DelayBarWidth = 24
)

func row(label string, value any) string {
	return styles.Label.Render(label) + styles.Value.Render(fmt.Sprint(value))
}

func panel(title string, rows ...string) string {
	lines := append([]string{styles.PanelTitle.Render(title)}, rows...)
	return styles.Panel.Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

func ms(v float64) string {
	return fmt.Sprintf("%.2f ms", v)
}

func percent(part, whole uint64) string {
	if whole == 0 {
		return "-"
	}
	return fmt.Sprintf("%.0f%%", 100*float64(part)/float64(whole))
}

// arrange lays panels out in rows, or in one column when width is narrow.
func arrange(width int, panels []string) string {
	if width > 0 && width < NarrowWidth {
		return lipgloss.JoinVertical(lipgloss.Left, panels...)
	}
	var rows []string
	for i := 0; i < len(panels); i += PanelsPerRow {
		end := min(i+PanelsPerRow, len(panels))
		rows = append(rows, lipgloss.JoinHorizontal(lipgloss.Top, panels[i:end]...))
	}
	return lipgloss.JoinVertical(lipgloss.Left, rows...)
}

// RenderStats draws one panel per component.
func RenderStats(st scheduler.Stats, budget config.BudgetConfig, width int) string {
	b := st.Budget
	frame := lipgloss.NewStyle().
		Foreground(styles.FrameColor(b.AverageMs, budget.TargetFrameMs, budget.TargetFrameMs*2)).
		Render(ms(b.AverageMs))

	panels := []string{
		panel("Frame",
			row("fps", fmt.Sprintf("%.1f", b.FPS)),
			styles.Label.Render("average")+frame,
			row("p95 / p99", ms(b.P95Ms)+" / "+ms(b.P99Ms)),
			row("max", ms(b.MaxMs)),
			row("denials", fmt.Sprintf("%d of %d", b.Denials, b.Checks)),
		),
		panel("Coalescer",
			row("keys", st.Coalescer.Keys),
			row("submitted", st.Coalescer.Submitted),
			row("dispatched", st.Coalescer.Dispatched),
			row("folded", percent(st.Coalescer.Submitted-min(st.Coalescer.Dispatched, st.Coalescer.Submitted), st.Coalescer.Submitted)),
			row("deferred", st.Coalescer.Deferred),
		),
		panel("Dirty",
			row("tracked", st.Dirty.Tracked),
			row("queued", st.Dirty.Queued),
			row("processed", st.Dirty.Processed),
			row("dropped", st.Dirty.Invalid+st.Dirty.Evicted),
			row("over budget", st.Dirty.BudgetDeferred),
		),
		panel("Deferred",
			row("queued", fmt.Sprintf("%d / %d", st.Deferred.Len, st.Deferred.MaxSize)),
			row("ran", st.Deferred.Ran),
			row("replaced", st.Deferred.Replaced),
			row("evicted", st.Deferred.Evicted),
			row("failed", st.Deferred.Failed),
		),
		panel("Tuner",
			row("observed", st.Tuner.Observed),
			row("trained", st.Tuner.Trained),
			row("loss", fmt.Sprintf("%.4f", st.Tuner.LastLoss)),
			row("patterns", st.Tuner.Patterns),
			row("adjusted", st.Tuner.DelayAdjustments),
		),
		panel("State",
			row("saves", st.Saves),
			row("save errors", st.SaveErrs),
			row("ticks", st.Ticks),
		),
	}
	return arrange(width, panels)
}

// DelayRow is one coalescer key in the delay table.
type DelayRow struct {
	Key       string
	Class     priority.Class
	Delay     time.Duration
	Max       time.Duration
	Delivered int
}

// DelayRows builds the delay table for keys from a workload report.
func DelayRows(s *scheduler.Scheduler, keys []string, report sim.Report) []DelayRow {
	cfg := s.Tuner().Config()
	rows := make([]DelayRow, 0, len(keys))
	for _, key := range keys {
		class, _ := s.Coalescer().Priority(key)
		rows = append(rows, DelayRow{
			Key:       key,
			Class:     class,
			Delay:     report.Delays[key],
			Max:       cfg.PolicyFor(key).Max(),
			Delivered: report.Delivered[key],
		})
	}
	return rows
}

// RenderDelays draws each key's current delay as a bar scaled to its policy
// maximum.
func RenderDelays(rows []DelayRow) string {
	if len(rows) == 0 {
		return styles.Muted.Render("no event keys registered")
	}
	var sb strings.Builder
	sb.WriteString(styles.PanelTitle.Render("Delays"))
	for _, r := range rows {
		fill := 0
		if r.Max > 0 {
			fill = int(float64(DelayBarWidth) * float64(r.Delay) / float64(r.Max))
		}
		fill = min(max(fill, 0), DelayBarWidth)
		bar := lipgloss.NewStyle().Foreground(styles.ClassColor(r.Class)).Render(strings.Repeat("█", fill)) +
			styles.Muted.Render(strings.Repeat("·", DelayBarWidth-fill))

		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%-14s %-8s %s %6s  %d delivered",
			r.Key, r.Class, bar, r.Delay.Round(time.Millisecond), r.Delivered))
	}
	return sb.String()
}

// RenderState summarizes a stored tuner document.
func RenderState(doc state.Document) string {
	var sb strings.Builder

	sb.WriteString(styles.Title.Render("Tuner state"))
	sb.WriteString("\n")
	sb.WriteString(row("version", doc.Version) + "\n")
	sb.WriteString(row("backend", doc.Meta.Backend) + "\n")
	if !doc.Meta.SavedAt.IsZero() {
		sb.WriteString(row("saved", doc.Meta.SavedAt.Format(time.RFC3339)) + "\n")
	}
	sb.WriteString(row("trained", doc.Meta.Trained) + "\n")
	if len(doc.Network.W1) > 0 {
		sb.WriteString(row("network", fmt.Sprintf("%d inputs, %d hidden, %d outputs",
			len(doc.Network.W1[0]), len(doc.Network.W1), len(doc.Network.W2))) + "\n")
	}
	sb.WriteString(row("patterns", len(doc.Patterns.Patterns)) + "\n")

	if len(doc.Observations) > 0 {
		sb.WriteString("\n" + styles.PanelTitle.Render("Observations") + "\n")
		keys := make([]string, 0, len(doc.Observations))
		for k := range doc.Observations {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool {
			a, b := doc.Observations[keys[i]], doc.Observations[keys[j]]
			if a.Count != b.Count {
				return a.Count > b.Count
			}
			return keys[i] < keys[j]
		})
		for _, k := range keys {
			sb.WriteString(fmt.Sprintf("  %-20s %d\n", k, doc.Observations[k].Count))
		}
	}

	if len(doc.Delays) > 0 {
		sb.WriteString("\n" + styles.PanelTitle.Render("Learned delays") + "\n")
		keys := make([]string, 0, len(doc.Delays))
		for k := range doc.Delays {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			byCtx := doc.Delays[k]
			ctxs := make([]string, 0, len(byCtx))
			for c := range byCtx {
				ctxs = append(ctxs, c)
			}
			sort.Strings(ctxs)
			for _, c := range ctxs {
				st := byCtx[c]
				sb.WriteString(fmt.Sprintf("  %-20s %-6s %8.1f ms  %d samples\n", k, c, st.DelayMs, st.Samples))
			}
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}
