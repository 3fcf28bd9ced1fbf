package monitor

import "github.com/charmbracelet/lipgloss"

var (
	colorText    = lipgloss.Color("#cdd6f4")
	colorSubtext = lipgloss.Color("#a6adc8")
	colorOverlay = lipgloss.Color("#6c7086")
	colorSurface = lipgloss.Color("#313244")
	colorBase    = lipgloss.Color("#1e1e2e")

	colorRed    = lipgloss.Color("#f38ba8")
	colorGreen  = lipgloss.Color("#a6e3a1")
	colorYellow = lipgloss.Color("#f9e2af")
	colorBlue   = lipgloss.Color("#89b4fa")
	colorTeal   = lipgloss.Color("#94e2d5")
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorBase).
			Background(colorBlue).
			Padding(0, 1)

	paneStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorSurface).
			Padding(0, 1)

	paneTitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorBlue)

	sessionNameStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(colorTeal)

	dimStyle = lipgloss.NewStyle().
			Foreground(colorOverlay)

	footerStyle = lipgloss.NewStyle().
			Foreground(colorSubtext).
			Background(colorSurface).
			Padding(0, 1)

	errorStyle = lipgloss.NewStyle().
			Foreground(colorRed).
			Bold(true)

	emptyStyle = lipgloss.NewStyle().
			Foreground(colorOverlay).
			Italic(true).
			Padding(1, 2)

	parentStyle  = lipgloss.NewStyle().Foreground(colorBlue).Bold(true)
	childStyle   = lipgloss.NewStyle().Foreground(colorGreen)
	systemStyle  = lipgloss.NewStyle().Foreground(colorYellow)
	unknownStyle = lipgloss.NewStyle().Foreground(colorOverlay)

	failureStyle = lipgloss.NewStyle().Foreground(colorRed)
)

func senderStyle(sender string) lipgloss.Style {
	switch {
	case sender == SenderParent:
		return parentStyle
	case sender == SenderSystem:
		return systemStyle
	case sender == SenderUnknown:
		return unknownStyle
	}
	return childStyle
}
