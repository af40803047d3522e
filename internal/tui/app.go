package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/christopherklint97/punchclock/internal/store"
	"github.com/christopherklint97/punchclock/internal/timer"
	"github.com/christopherklint97/punchclock/internal/worktime"
)

type viewState int

const (
	timerView viewState = iota
	inputView
	confirmCancelView
	doneView
)

// checkpointEvery is how many visible ticks pass between persisted folds.
const checkpointEvery = 60

// Engine is the part of the session timer the view drives.
type Engine interface {
	Start(employee string) (store.Record, error)
	Tick() (timer.Status, error)
	Checkpoint() (timer.Status, error)
	Pause() (timer.Status, error)
	Resume() (timer.Status, error)
	Stop() (store.Record, error)
	Cancel() error
	Refresh() (timer.Status, error)
}

type Result struct {
	CheckedOut *store.Record
	Cancelled  bool
}

type tickMsg struct {
	gen int
}

type statusMsg struct {
	status timer.Status
	err    error
}

type checkedOutMsg struct {
	record store.Record
	err    error
}

type cancelledMsg struct {
	err error
}

type weekMsg struct {
	week worktime.WeekSummary
	err  error
}

// App is the live timer. It ticks once a second while the terminal has
// focus; losing focus persists the running delta and stops the tick, and
// regaining it re-derives the session from the store.
type App struct {
	state   viewState
	engine  Engine
	week    func() (worktime.WeekSummary, error)
	input   inputModel
	spinner spinner.Model
	status  timer.Status
	summary *worktime.WeekSummary
	result  *Result
	errMsg  string

	visible bool
	gen     int
	ticks   int
}

// NewApp builds the view. week may be nil; employee pre-fills the check-in
// prompt.
func NewApp(engine Engine, employee string, week func() (worktime.WeekSummary, error)) *App {
	s := spinner.New()
	s.Spinner = spinner.Dot

	return &App{
		state:   timerView,
		engine:  engine,
		week:    week,
		input:   newInputModel(employee),
		spinner: s,
		visible: true,
	}
}

func (a *App) Init() tea.Cmd {
	return tea.Batch(a.run(a.engine.Refresh), a.spinner.Tick, a.tick(), a.loadWeek())
}

func (a *App) GetResult() *Result {
	return a.result
}

func (a *App) tick() tea.Cmd {
	gen := a.gen
	return tea.Tick(time.Second, func(time.Time) tea.Msg { return tickMsg{gen: gen} })
}

func (a *App) run(op func() (timer.Status, error)) tea.Cmd {
	return func() tea.Msg {
		st, err := op()
		return statusMsg{status: st, err: err}
	}
}

func (a *App) loadWeek() tea.Cmd {
	if a.week == nil {
		return nil
	}
	return func() tea.Msg {
		w, err := a.week()
		return weekMsg{week: w, err: err}
	}
}

func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return a, tea.Quit
		}
	case tea.BlurMsg:
		if !a.visible {
			return a, nil
		}
		a.visible = false
		a.gen++
		return a, a.run(a.engine.Checkpoint)
	case tea.FocusMsg:
		if a.visible {
			return a, nil
		}
		a.visible = true
		a.gen++
		return a, tea.Batch(a.run(a.engine.Refresh), a.tick(), a.loadWeek())
	case tickMsg:
		if msg.gen != a.gen || !a.visible {
			return a, nil
		}
		a.ticks++
		if a.ticks%checkpointEvery == 0 {
			return a, tea.Batch(a.run(a.engine.Checkpoint), a.loadWeek(), a.tick())
		}
		return a, tea.Batch(a.run(a.engine.Tick), a.tick())
	case statusMsg:
		return a.handleStatus(msg)
	case checkedOutMsg:
		if msg.err != nil {
			a.errMsg = msg.err.Error()
			return a, nil
		}
		a.result = &Result{CheckedOut: &msg.record}
		a.state = doneView
		return a, a.loadWeek()
	case cancelledMsg:
		if msg.err != nil {
			a.errMsg = msg.err.Error()
			a.state = timerView
			return a, nil
		}
		a.result = &Result{Cancelled: true}
		a.state = doneView
		return a, nil
	case weekMsg:
		if msg.err == nil {
			a.summary = &msg.week
		}
		return a, nil
	case spinner.TickMsg:
		var cmd tea.Cmd
		a.spinner, cmd = a.spinner.Update(msg)
		return a, cmd
	}

	switch a.state {
	case timerView:
		return a.updateTimer(msg)
	case inputView:
		return a.updateInput(msg)
	case confirmCancelView:
		return a.updateConfirmCancel(msg)
	case doneView:
		if _, ok := msg.(tea.KeyMsg); ok {
			return a, tea.Quit
		}
	}
	return a, nil
}

func (a *App) handleStatus(msg statusMsg) (tea.Model, tea.Cmd) {
	if msg.err != nil {
		a.errMsg = msg.err.Error()
		return a, nil
	}
	a.errMsg = ""
	a.status = msg.status

	switch {
	case a.state == timerView && msg.status.State == timer.Idle:
		a.state = inputView
		return a, a.input.field.Focus()
	case a.state == inputView && msg.status.State != timer.Idle:
		a.state = timerView
		a.input.field.Blur()
	}
	return a, nil
}

func (a *App) updateTimer(msg tea.Msg) (tea.Model, tea.Cmd) {
	keyMsg, ok := msg.(tea.KeyMsg)
	if !ok {
		return a, nil
	}
	switch keyMsg.String() {
	case "p":
		return a, a.run(a.engine.Pause)
	case "r":
		return a, a.run(a.engine.Resume)
	case "s":
		return a, func() tea.Msg {
			rec, err := a.engine.Stop()
			return checkedOutMsg{record: rec, err: err}
		}
	case "c":
		a.state = confirmCancelView
	case "q", "esc":
		return a, tea.Quit
	}
	return a, nil
}

func (a *App) updateInput(msg tea.Msg) (tea.Model, tea.Cmd) {
	if keyMsg, ok := msg.(tea.KeyMsg); ok {
		switch keyMsg.String() {
		case "esc":
			return a, tea.Quit
		case "enter":
			name := strings.TrimSpace(a.input.Value())
			if name == "" {
				return a, nil
			}
			return a, func() tea.Msg {
				if _, err := a.engine.Start(name); err != nil {
					return statusMsg{err: err}
				}
				st, err := a.engine.Tick()
				return statusMsg{status: st, err: err}
			}
		}
	}

	var cmd tea.Cmd
	a.input, cmd = a.input.Update(msg)
	return a, cmd
}

func (a *App) updateConfirmCancel(msg tea.Msg) (tea.Model, tea.Cmd) {
	keyMsg, ok := msg.(tea.KeyMsg)
	if !ok {
		return a, nil
	}
	switch keyMsg.String() {
	case "y":
		return a, func() tea.Msg {
			return cancelledMsg{err: a.engine.Cancel()}
		}
	case "n", "esc":
		a.state = timerView
	}
	return a, nil
}

func (a *App) View() string {
	var b strings.Builder

	switch a.state {
	case inputView:
		b.WriteString(a.input.View())
	case doneView:
		b.WriteString(a.doneView())
	default:
		b.WriteString(a.timerView())
	}

	if a.errMsg != "" {
		b.WriteString("\n" + errorStyle.Render("Error: ") + a.errMsg)
	}
	return b.String()
}

func (a *App) timerView() string {
	var b strings.Builder

	title := "punchclock"
	if s := a.status.Session; s != nil {
		title += " — " + s.Employee
	}
	b.WriteString(titleStyle.Render(title) + "\n")

	clock := clockStyle.Render(store.FormatClock(a.status.Elapsed))
	var state string
	switch a.status.State {
	case timer.Running:
		state = a.spinner.View() + " Running"
	case timer.Paused:
		state = warningStyle.Render("⏸ Paused")
	default:
		state = dimStyle.Render("Loading...")
	}
	body := clock + "  " + state
	if s := a.status.Session; s != nil {
		body += "\n" + dimStyle.Render("Checked in at "+s.StartedAt.Local().Format("Mon 15:04"))
	}
	b.WriteString(boxStyle.Render(body) + "\n")

	if w := a.summary; w != nil {
		line := fmt.Sprintf("Week %d: %.2fh worked of %.0fh expected", w.ISOWeek, w.WorkedHours(), w.TheoreticalHours)
		if w.OvertimeHours > 0 {
			line += warningStyle.Render(fmt.Sprintf(" (+%.2fh overtime)", w.OvertimeHours))
		}
		b.WriteString(subtitleStyle.Render(line) + "\n")
	}

	if a.state == confirmCancelView {
		b.WriteString(warningStyle.Render("Discard this session and its check-in? (y/n)"))
		return b.String()
	}
	b.WriteString(helpStyle.Render("p: pause • r: resume • s: check out • c: cancel • q: quit (session keeps running)"))
	return b.String()
}

func (a *App) doneView() string {
	if a.result != nil && a.result.CheckedOut != nil {
		msg := fmt.Sprintf("Checked out after %s", a.result.CheckedOut.WorkedFormatted)
		out := successStyle.Render(msg)
		if w := a.summary; w != nil {
			out += "\n" + subtitleStyle.Render(fmt.Sprintf("Week %d total: %.2fh", w.ISOWeek, w.WorkedHours()))
		}
		return out + "\n" + helpStyle.Render("Press any key to exit")
	}
	return successStyle.Render("Session cancelled") + "\n" + helpStyle.Render("Press any key to exit")
}
