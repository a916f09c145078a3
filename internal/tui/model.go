// Package tui renders the download dialog of a session in the terminal.
package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/drunlade/go-esimdl/esim"
)

// Controller is the part of esim.Session the dialog drives
type Controller interface {
	StartDownload(payload esim.Payload) error
	ConfirmPreview(accept bool) error
	SubmitConfirmationCode(code string) error
	CancelDownload() error
	CloseDialog() error
	Snapshot() esim.Snapshot
}

// SnapshotMsg carries a session state change into the program
type SnapshotMsg esim.Snapshot

// opResultMsg reports the outcome of a session operation
type opResultMsg struct {
	err  error
	quit bool
}

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	labelStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	successStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42"))
	errorStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
	helpStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Italic(true)
	cardStyle    = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("63")).
			Padding(0, 1)
)

// Model is the bubbletea model of the download dialog
type Model struct {
	ctrl     Controller
	payload  esim.Payload
	target   string
	snap     esim.Snapshot
	spinner  spinner.Model
	progress progress.Model
	code     textinput.Model
	err      error
	started  bool
	quitting bool
}

// New creates the dialog for one download. The download starts when the
// program starts.
func New(ctrl Controller, target string, payload esim.Payload) Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	code := textinput.New()
	code.Placeholder = "confirmation code"
	code.CharLimit = 64
	code.EchoMode = textinput.EchoPassword

	return Model{
		ctrl:     ctrl,
		payload:  payload,
		target:   target,
		snap:     ctrl.Snapshot(),
		spinner:  s,
		progress: progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
		code:     code,
	}
}

// Snapshot returns the last state the dialog rendered
func (m Model) Snapshot() esim.Snapshot {
	return m.snap
}

// Err returns the last operation error
func (m Model) Err() error {
	return m.err
}

// do runs a session operation off the program goroutine
func (m Model) do(op func() error, quit bool) tea.Cmd {
	return func() tea.Msg {
		return opResultMsg{err: op(), quit: quit}
	}
}

func (m Model) start() tea.Cmd {
	payload := m.payload
	return m.do(func() error { return m.ctrl.StartDownload(payload) }, false)
}

// Init starts the spinner and the download
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.start())
}

// Update handles session changes and key presses
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case SnapshotMsg:
		prev := m.snap.State
		m.snap = esim.Snapshot(msg)
		if m.snap.State != esim.StateIdle {
			m.started = true
		}
		if m.snap.State == esim.StateConfirmation && prev != esim.StateConfirmation {
			m.code.Reset()
			return m, m.code.Focus()
		}
		if m.snap.State != esim.StateConfirmation {
			m.code.Blur()
		}
		return m, nil

	case opResultMsg:
		if msg.err != nil {
			m.err = msg.err
		}
		if msg.quit {
			m.quitting = true
			return m, tea.Quit
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		width := msg.Width - 4
		if width > 60 {
			width = 60
		}
		if width > 10 {
			m.progress.Width = width
		}
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()
	if key == "ctrl+c" {
		return m, m.do(m.ctrl.CancelDownload, true)
	}

	switch m.snap.State {
	case esim.StatePreview:
		switch key {
		case "y", "Y", "enter":
			return m, m.do(func() error { return m.ctrl.ConfirmPreview(true) }, false)
		case "n", "N":
			return m, m.do(func() error { return m.ctrl.ConfirmPreview(false) }, true)
		case "esc":
			return m, m.do(m.ctrl.CancelDownload, true)
		}

	case esim.StateConfirmation:
		switch key {
		case "enter":
			code := strings.TrimSpace(m.code.Value())
			if code == "" {
				return m, nil
			}
			m.code.Reset()
			return m, m.do(func() error { return m.ctrl.SubmitConfirmationCode(code) }, false)
		case "esc":
			return m, m.do(m.ctrl.CancelDownload, true)
		}
		var cmd tea.Cmd
		m.code, cmd = m.code.Update(msg)
		return m, cmd

	case esim.StateConnecting, esim.StateProgress:
		if key == "esc" {
			return m, m.do(m.ctrl.CancelDownload, true)
		}

	case esim.StateError:
		switch key {
		case "r":
			return m, m.start()
		case "q", "esc", "enter":
			return m, m.do(m.ctrl.CloseDialog, true)
		}

	case esim.StateCompleted, esim.StateIdle:
		switch key {
		case "q", "esc", "enter":
			return m, m.do(m.ctrl.CloseDialog, true)
		}
	}

	return m, nil
}

func stageLabel(stage esim.Stage) string {
	switch stage {
	case esim.StageInitializing:
		return "Initializing"
	case esim.StageConnecting:
		return "Connecting to SM-DP+"
	case esim.StageInstalling:
		return "Installing profile"
	default:
		return "Preparing"
	}
}

func profileCard(p *esim.Profile) string {
	if p == nil {
		return cardStyle.Render(labelStyle.Render("No profile details"))
	}

	var rows []string
	add := func(label, value string) {
		if value != "" {
			rows = append(rows, fmt.Sprintf("%s %s", labelStyle.Render(label), value))
		}
	}
	add("Name:    ", p.ProfileName)
	add("Provider:", p.ServiceProviderName)
	add("Nickname:", p.ProfileNickname)
	add("ICCID:   ", p.ICCID)
	add("State:   ", p.ProfileState)
	add("Region:  ", p.RegionCode)
	return cardStyle.Render(strings.Join(rows, "\n"))
}

// View renders the dialog
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("eSIM download · " + m.target))
	b.WriteString("\n\n")

	switch m.snap.State {
	case esim.StateIdle:
		if m.started {
			b.WriteString("Download closed.\n")
		} else {
			b.WriteString(m.spinner.View() + " Starting...\n")
		}
		b.WriteString(helpStyle.Render("q: close"))

	case esim.StateConnecting, esim.StateProgress:
		fmt.Fprintf(&b, "%s %s\n\n", m.spinner.View(), stageLabel(m.snap.Stage))
		b.WriteString(m.progress.ViewAs(float64(m.snap.Progress) / 100))
		b.WriteString("\n\n")
		b.WriteString(helpStyle.Render("esc: cancel download"))

	case esim.StatePreview:
		b.WriteString("The server offers this profile:\n\n")
		b.WriteString(profileCard(m.snap.Profile))
		b.WriteString("\n\n")
		b.WriteString(helpStyle.Render("y: install · n: reject · esc: cancel"))

	case esim.StateConfirmation:
		b.WriteString("The operator requires a confirmation code.\n\n")
		b.WriteString(m.code.View())
		b.WriteString("\n\n")
		b.WriteString(helpStyle.Render("enter: submit · esc: cancel"))

	case esim.StateCompleted:
		b.WriteString(m.progress.ViewAs(1))
		b.WriteString("\n\n")
		name := m.snap.DownloadedName()
		if name != "" {
			b.WriteString(successStyle.Render(fmt.Sprintf("Profile %q installed.", name)))
		} else {
			b.WriteString(successStyle.Render("Profile installed."))
		}
		b.WriteString("\n\n")
		b.WriteString(helpStyle.Render("q: close"))

	case esim.StateError:
		b.WriteString(errorStyle.Render(errorText(m.snap)))
		b.WriteString("\n\n")
		b.WriteString(helpStyle.Render("r: retry · q: close"))
	}

	if m.err != nil {
		b.WriteString("\n")
		b.WriteString(errorStyle.Render(m.err.Error()))
	}
	b.WriteString("\n")
	return b.String()
}

func errorText(snap esim.Snapshot) string {
	switch {
	case snap.ErrorKind == esim.ErrorDisconnected:
		return "Connection to the server was lost."
	case snap.ErrorMessage != "":
		return "Download failed: " + snap.ErrorMessage
	default:
		return "Download failed."
	}
}
