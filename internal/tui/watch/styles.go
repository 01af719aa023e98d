package watch

import "github.com/charmbracelet/lipgloss"

var (
	// Base colors
	primaryColor = lipgloss.Color("212")
	mutedColor   = lipgloss.Color("241")
	successColor = lipgloss.Color("42")
	warningColor = lipgloss.Color("214")
	errorColor   = lipgloss.Color("196")

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)

	panelTitleStyle = lipgloss.NewStyle().
			Bold(true).
			Background(lipgloss.Color("237")).
			Foreground(lipgloss.Color("255")).
			Padding(0, 1)

	cursorStyle    = lipgloss.NewStyle().Foreground(primaryColor).Bold(true)
	subtleStyle    = lipgloss.NewStyle().Foreground(mutedColor)
	helpStyle      = lipgloss.NewStyle().Foreground(mutedColor)
	onlineStyle    = lipgloss.NewStyle().Foreground(successColor)
	offlineStyle   = lipgloss.NewStyle().Foreground(warningColor)
	errorStyle     = lipgloss.NewStyle().Foreground(errorColor)
	timestampStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
)
