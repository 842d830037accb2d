package output

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// AgentSummary contains data for the agents table.
type AgentSummary struct {
	Identifier  string
	Name        string
	Transport   string // http, sse, stdio, direct
	Description string
}

// ServerSummary contains data for the provider servers table.
type ServerSummary struct {
	Identifier  string
	Name        string
	Tools       int
	Description string
}

// HealthSummary contains data for the health view.
type HealthSummary struct {
	Status    string // healthy, unhealthy
	Agents    int
	Providers int
	McpReady  int
	Error     string
}

// Agents prints the configured agents table.
func (p *Printer) Agents(agents []AgentSummary) {
	if len(agents) == 0 {
		return
	}

	p.Section("AGENTS")

	t := table.NewWriter()
	t.SetOutputMirror(p.out)
	t.SetStyle(p.tableStyle())

	t.AppendHeader(table.Row{"Identifier", "Name", "Transport", "Description"})

	for _, a := range agents {
		t.AppendRow(table.Row{a.Identifier, a.Name, a.Transport, a.Description})
	}

	t.Render()
	p.Println()
}

// Servers prints the provider servers table.
func (p *Printer) Servers(servers []ServerSummary) {
	if len(servers) == 0 {
		return
	}

	p.Section("SERVERS")

	t := table.NewWriter()
	t.SetOutputMirror(p.out)
	t.SetStyle(p.tableStyle())

	t.AppendHeader(table.Row{"Identifier", "Name", "Tools", "Description"})

	for _, s := range servers {
		t.AppendRow(table.Row{s.Identifier, s.Name, s.Tools, s.Description})
	}

	t.Render()
	p.Println()
}

// Health prints the broker health summary.
func (p *Printer) Health(h HealthSummary) {
	p.Section("BROKER")

	t := table.NewWriter()
	t.SetOutputMirror(p.out)
	t.SetStyle(p.tableStyle())

	status := h.Status
	if p.isTTY {
		status = colorState(h.Status)
	}
	t.AppendRow(table.Row{"Status", status})
	t.AppendRow(table.Row{"Agents", h.Agents})
	t.AppendRow(table.Row{"Providers", h.Providers})
	t.AppendRow(table.Row{"MCP ready", h.McpReady})
	if h.Error != "" {
		t.AppendRow(table.Row{"Error", h.Error})
	}

	t.Render()
	p.Println()
}

// colorState applies color to a status value.
func colorState(state string) string {
	var style lipgloss.Style
	switch state {
	case "running", "ready", "healthy", "up":
		style = lipgloss.NewStyle().Foreground(ColorGreen)
	case "failed", "error", "unhealthy", "down":
		style = lipgloss.NewStyle().Foreground(ColorRed)
	case "pending", "degraded":
		style = lipgloss.NewStyle().Foreground(ColorAmber)
	case "stopped", "unavailable":
		style = lipgloss.NewStyle().Foreground(ColorMuted)
	default:
		style = lipgloss.NewStyle().Foreground(ColorGray)
	}
	return style.Render(state)
}

// tableStyle returns the standard table style in the broker palette.
func (p *Printer) tableStyle() table.Style {
	style := table.StyleRounded
	if p.isTTY {
		style.Color.Header = text.Colors{text.FgHiBlue, text.Bold}
		style.Color.Border = text.Colors{text.FgHiBlack}
	}
	style.Options.SeparateRows = false
	return style
}

// Section prints a section header.
func (p *Printer) Section(title string) {
	if p.isTTY {
		style := lipgloss.NewStyle().Foreground(ColorIndigo).Bold(true)
		p.Println(style.Render(title))
	} else {
		p.Println(title)
	}
}
