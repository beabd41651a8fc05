package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/ahrav/go-arbiter/internal/domain"
)

// markdownWrap is the column glamour wraps rendered markdown at.
const markdownWrap = 100

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39"))

	sectionStyle = lipgloss.NewStyle().
			Bold(true).
			Underline(true)

	filePathStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("212"))

	statsStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	optionStyle = lipgloss.NewStyle().
			Bold(true)

	focusedOptionStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("0")).
				Background(lipgloss.Color("39"))

	addedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42"))

	removedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))

	contextStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("250"))

	rationaleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			Italic(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	helpKeyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39")).
			Bold(true)

	helpDescStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("250"))

	decidedBadge = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42")).
			Background(lipgloss.Color("22")).
			Padding(0, 1)

	rejectedBadge = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Background(lipgloss.Color("52")).
			Padding(0, 1)

	pendingBadge = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")).
			Background(lipgloss.Color("58")).
			Padding(0, 1)
)

var severityColors = map[domain.Severity]lipgloss.Color{
	domain.SeverityCritical:   "201",
	domain.SeverityError:      "196",
	domain.SeverityWarning:    "214",
	domain.SeverityInfo:       "39",
	domain.SeveritySuggestion: "245",
}

func severityStyle(s domain.Severity) lipgloss.Style {
	return lipgloss.NewStyle().Bold(true).Foreground(severityColors[s])
}
