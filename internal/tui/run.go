package tui

import (
	"context"
	"sync/atomic"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/drunlade/go-esimdl/esim"
)

// Forwarder relays session state changes into a running program. Its
// OnChange method is meant for esim.Callbacks.
type Forwarder struct {
	program atomic.Pointer[tea.Program]
}

// OnChange sends snap to the attached program, if any
func (f *Forwarder) OnChange(snap esim.Snapshot) {
	if p := f.program.Load(); p != nil {
		p.Send(SnapshotMsg(snap))
	}
}

// Run shows the dialog until the user closes it or ctx is cancelled, and
// returns the final model.
func Run(ctx context.Context, ctrl Controller, fwd *Forwarder, target string, payload esim.Payload) (Model, error) {
	p := tea.NewProgram(New(ctrl, target, payload), tea.WithContext(ctx))
	fwd.program.Store(p)
	defer fwd.program.Store(nil)

	final, err := p.Run()
	m, _ := final.(Model)
	return m, err
}
