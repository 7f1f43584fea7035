package spinner

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/ignitionstack/ember/internal/ui"
)

// SpinnerModel shows a spinner until the operation it waits for reports a
// ResultMsg or an error.
type SpinnerModel struct {
	spinner spinner.Model
	step    string
	err     error
	done    bool
	result  interface{}
	elapsed time.Duration
}

// ResultMsg carries the operation's result
type ResultMsg struct {
	Result  interface{}
	Elapsed time.Duration
}

func NewSpinnerModelWithMessage(message string) SpinnerModel {
	s := spinner.New()
	s.Spinner = spinner.MiniDot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color(ui.InfoColor))
	return SpinnerModel{
		spinner: s,
		step:    message,
	}
}

func (m SpinnerModel) HasError() bool {
	return m.err != nil
}

func (m SpinnerModel) GetError() error {
	return m.err
}

func (m SpinnerModel) GetResult() interface{} {
	return m.result
}

func (m SpinnerModel) Elapsed() time.Duration {
	return m.elapsed
}

func (m SpinnerModel) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m SpinnerModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" || msg.String() == "q" {
			m.err = fmt.Errorf("interrupted")
			m.done = true
			return m, tea.Quit
		}
	case error:
		m.err = msg
		m.done = true
		return m, tea.Sequence(
			tea.Printf("%s", ui.ErrorStyle.Render(fmt.Sprintf("█ Error: %s", strings.TrimSpace(msg.Error())))),
			tea.Quit,
		)
	case ResultMsg:
		m.result = msg.Result
		m.elapsed = msg.Elapsed
		m.done = true
		return m, tea.Quit
	case string:
		m.step = msg
		return m, nil
	default:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m SpinnerModel) View() string {
	if m.err != nil || m.done {
		return ""
	}
	return fmt.Sprintf("%s %s", m.spinner.View(), m.step)
}
