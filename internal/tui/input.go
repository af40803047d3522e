package tui

import (
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
)

// inputModel asks for the employee name before checking in.
type inputModel struct {
	field textinput.Model
}

func newInputModel(prefill string) inputModel {
	ti := textinput.New()
	ti.Placeholder = "Employee name"
	ti.CharLimit = 200
	ti.Width = 40
	ti.Focus()

	if prefill != "" {
		ti.SetValue(prefill)
	}

	return inputModel{field: ti}
}

func (m inputModel) Update(msg tea.Msg) (inputModel, tea.Cmd) {
	var cmd tea.Cmd
	m.field, cmd = m.field.Update(msg)
	return m, cmd
}

func (m inputModel) View() string {
	header := titleStyle.Render("punchclock")
	label := subtitleStyle.Render("No active session. Who is checking in?")
	help := helpStyle.Render("Enter: check in • Esc: quit")

	return header + "\n" + label + "\n" + m.field.View() + "\n" + help
}

func (m inputModel) Value() string {
	return m.field.Value()
}
