package status

import "github.com/charmbracelet/lipgloss"

type styles struct {
	title        lipgloss.Style
	header       lipgloss.Style
	account      lipgloss.Style
	detail       lipgloss.Style
	warning      lipgloss.Style
	section      lipgloss.Style
	empty        lipgloss.Style
	key          lipgloss.Style
	connected    lipgloss.Style
	connecting   lipgloss.Style
	disconnected lipgloss.Style
	contact      lipgloss.Style
	contactJID   lipgloss.Style
	footer       lipgloss.Style
}

func newStyles() styles {
	return styles{
		title:        lipgloss.NewStyle().Bold(true),
		header:       lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
		account:      lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39")),
		detail:       lipgloss.NewStyle().Foreground(lipgloss.Color("252")),
		warning:      lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("203")),
		section:      lipgloss.NewStyle().MarginTop(1),
		empty:        lipgloss.NewStyle().Faint(true),
		key:          lipgloss.NewStyle().Foreground(lipgloss.Color("250")),
		connected:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("78")),
		connecting:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("220")),
		disconnected: lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
		contact:      lipgloss.NewStyle().Foreground(lipgloss.Color("252")),
		contactJID:   lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
		footer:       lipgloss.NewStyle().Faint(true).MarginTop(1),
	}
}
