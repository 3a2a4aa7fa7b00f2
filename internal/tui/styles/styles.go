package styles

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/Iron-Ham/pacer/internal/priority"
)

var (
	// Colors - all colors meet WCAG AA contrast (4.5:1) on both black and dark surfaces
	PrimaryColor   = lipgloss.Color("#A78BFA") // Purple (violet-400)
	SecondaryColor = lipgloss.Color("#10B981") // Green
	WarningColor   = lipgloss.Color("#F59E0B") // Amber
	ErrorColor     = lipgloss.Color("#F87171") // Red (red-400)
	MutedColor     = lipgloss.Color("#9CA3AF") // Gray (brighter for readability)
	SurfaceColor   = lipgloss.Color("#1F2937") // Dark surface
	TextColor      = lipgloss.Color("#F9FAFB") // Light text
	BorderColor    = lipgloss.Color("#6B7280") // Gray (gray-500)
	BlueColor      = lipgloss.Color("#60A5FA") // Blue
	OrangeColor    = lipgloss.Color("#FB923C") // Orange

	// Convenience styles for colors
	Primary   = lipgloss.NewStyle().Foreground(PrimaryColor)
	Secondary = lipgloss.NewStyle().Foreground(SecondaryColor)
	Warning   = lipgloss.NewStyle().Foreground(WarningColor)
	Error     = lipgloss.NewStyle().Foreground(ErrorColor)
	Muted     = lipgloss.NewStyle().Foreground(MutedColor)
	Text      = lipgloss.NewStyle().Foreground(TextColor)

	// Base styles
	Title = lipgloss.NewStyle().
		Bold(true).
		Foreground(PrimaryColor).
		MarginBottom(1)

	Subtitle = lipgloss.NewStyle().
			Foreground(MutedColor).
			Italic(true)

	// Header
	Header = lipgloss.NewStyle().
		Bold(true).
		Foreground(PrimaryColor).
		BorderStyle(lipgloss.NormalBorder()).
		BorderBottom(true).
		BorderForeground(BorderColor).
		MarginBottom(1)

	// Stats panels
	Panel = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(BorderColor).
		Padding(0, 1)

	PanelTitle = lipgloss.NewStyle().
			Bold(true).
			Foreground(PrimaryColor)

	Label = lipgloss.NewStyle().
		Foreground(MutedColor).
		Width(14)

	Value = lipgloss.NewStyle().
		Foreground(TextColor)

	// Paused badge
	PausedBadge = lipgloss.NewStyle().
			Bold(true).
			Foreground(TextColor).
			Background(BlueColor).
			Padding(0, 1)

	// Footer / status bar
	StatusBar = lipgloss.NewStyle().
			Foreground(TextColor).
			Background(SurfaceColor).
			Padding(0, 1)

	// Help bar
	HelpBar = lipgloss.NewStyle().
		Foreground(MutedColor).
		MarginTop(1)

	HelpKey = lipgloss.NewStyle().
		Bold(true).
		Foreground(SecondaryColor)

	// Error message
	ErrorMsg = lipgloss.NewStyle().
			Foreground(ErrorColor).
			Bold(true)

	// Success message
	SuccessMsg = lipgloss.NewStyle().
			Foreground(SecondaryColor).
			Bold(true)
)

// FrameColor grades a frame time against the target frame and the hard
// ceiling: green at or under target, amber up to ceiling, red beyond.
func FrameColor(ms, targetMs, ceilingMs float64) lipgloss.Color {
	switch {
	case ms <= targetMs:
		return SecondaryColor
	case ms <= ceilingMs:
		return WarningColor
	default:
		return ErrorColor
	}
}

// ClassColor returns the color for a priority class.
func ClassColor(c priority.Class) lipgloss.Color {
	switch c {
	case priority.Critical:
		return ErrorColor
	case priority.High:
		return OrangeColor
	case priority.Medium:
		return WarningColor
	case priority.Low:
		return BlueColor
	default:
		return MutedColor
	}
}
