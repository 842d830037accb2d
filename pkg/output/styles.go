package output

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
)

// Broker CLI palette. Indigo anchors the brand; the status colors track the
// health states the status command renders.
var (
	ColorIndigo = lipgloss.Color("#818cf8") // brand, headers, keys
	ColorGreen  = lipgloss.Color("#34d399") // healthy, ready
	ColorAmber  = lipgloss.Color("#fbbf24") // degraded, pending
	ColorRed    = lipgloss.Color("#fb7185") // unhealthy, failed
	ColorMuted  = lipgloss.Color("#6b7280") // timestamps, reaped state
	ColorGray   = lipgloss.Color("#9ca3af") // secondary text
)

// cliStyles adapts charmbracelet/log's defaults to the broker palette.
func cliStyles() *log.Styles {
	styles := log.DefaultStyles()

	styles.Levels[log.DebugLevel] = lipgloss.NewStyle().
		SetString("DEBUG").
		Foreground(ColorMuted)
	styles.Levels[log.InfoLevel] = lipgloss.NewStyle().
		SetString("INFO").
		Foreground(ColorIndigo).
		Bold(true)
	styles.Levels[log.WarnLevel] = lipgloss.NewStyle().
		SetString("WARN").
		Foreground(ColorAmber).
		Bold(true)
	styles.Levels[log.ErrorLevel] = lipgloss.NewStyle().
		SetString("ERROR").
		Foreground(ColorRed).
		Bold(true)

	styles.Timestamp = lipgloss.NewStyle().Foreground(ColorMuted)
	styles.Key = lipgloss.NewStyle().Foreground(ColorIndigo)
	styles.Value = lipgloss.NewStyle().Foreground(ColorGray)

	return styles
}
