package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/drunlade/go-esimdl/esim"
)

var (
	errRejected  = errors.New("profile rejected")
	errCancelled = errors.New("download cancelled")
)

// downloadSession is the part of esim.Session the plain front-end drives
type downloadSession interface {
	StartDownload(payload esim.Payload) error
	ConfirmPreview(accept bool) error
	SubmitConfirmationCode(code string) error
	CancelDownload() error
	CloseDialog() error
}

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// prompter asks questions on a line-oriented terminal
type prompter struct {
	in  *bufio.Reader
	out io.Writer

	// secret reads a line without echo, nil when input is not a terminal
	secret func() (string, error)
}

func newPrompter(in *os.File, out io.Writer) *prompter {
	p := &prompter{in: bufio.NewReader(in), out: out}
	if isTerminal(in) {
		p.secret = func() (string, error) {
			b, err := term.ReadPassword(int(in.Fd()))
			fmt.Fprintln(out)
			return string(b), err
		}
	}
	return p
}

func (p *prompter) line() (string, error) {
	s, err := p.in.ReadString('\n')
	if err != nil && (err != io.EOF || s == "") {
		return "", err
	}
	return strings.TrimSpace(s), nil
}

func (p *prompter) confirm(question string) (bool, error) {
	fmt.Fprintf(p.out, "%s [y/N]: ", question)
	answer, err := p.line()
	if err != nil {
		return false, err
	}
	switch strings.ToLower(answer) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

func (p *prompter) code(label string) (string, error) {
	for {
		fmt.Fprintf(p.out, "%s: ", label)
		var (
			code string
			err  error
		)
		if p.secret != nil {
			code, err = p.secret()
		} else {
			code, err = p.line()
		}
		if err != nil {
			return "", err
		}
		if code = strings.TrimSpace(code); code != "" {
			return code, nil
		}
	}
}

// ask runs a blocking prompt and gives up when ctx is done. An abandoned read
// is left to finish in the background.
func ask[T any](ctx context.Context, read func() (T, error)) (T, error) {
	type answer struct {
		value T
		err   error
	}
	answers := make(chan answer, 1)
	go func() {
		v, err := read()
		answers <- answer{v, err}
	}()

	select {
	case a := <-answers:
		return a.value, a.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// abort cancels the download after a failed prompt
func abort(ctx context.Context, s downloadSession, err error) error {
	cancelErr := s.CancelDownload()
	if ctx.Err() != nil {
		return errCancelled
	}
	if cancelErr != nil {
		return cancelErr
	}
	return err
}

func describeProfile(p *esim.Profile) string {
	if p == nil {
		return "  (no profile details)\n"
	}
	var b strings.Builder
	row := func(label, value string) {
		if value != "" {
			fmt.Fprintf(&b, "  %-10s %s\n", label, value)
		}
	}
	row("Name:", p.ProfileName)
	row("Provider:", p.ServiceProviderName)
	row("Nickname:", p.ProfileNickname)
	row("ICCID:", p.ICCID)
	row("State:", p.ProfileState)
	row("Region:", p.RegionCode)
	return b.String()
}

func stageName(stage esim.Stage) string {
	switch stage {
	case esim.StageInitializing:
		return "initializing"
	case esim.StageConnecting:
		return "connecting to SM-DP+"
	case esim.StageInstalling:
		return "installing profile"
	default:
		return "starting"
	}
}

// report prints a progress line when the stage changes or progress crosses
// a multiple of ten
func report(out io.Writer, prev, snap esim.Snapshot) {
	if !snap.State.IsActive() {
		return
	}
	if snap.Stage == prev.Stage && snap.Progress/10 == prev.Progress/10 {
		return
	}
	fmt.Fprintf(out, "[%3d%%] %s\n", snap.Progress, stageName(snap.Stage))
}

// runPlain drives one download from the terminal until it completes, fails
// or ctx is cancelled
func runPlain(ctx context.Context, s downloadSession, payload esim.Payload, changes <-chan esim.Snapshot, p *prompter) (esim.Snapshot, error) {
	if err := s.StartDownload(payload); err != nil {
		return esim.Snapshot{}, err
	}

	last := esim.Snapshot{State: esim.StateIdle}
	started := false
	for {
		select {
		case <-ctx.Done():
			if err := s.CancelDownload(); err != nil {
				return last, err
			}
			return last, errCancelled

		case snap := <-changes:
			report(p.out, last, snap)
			prev := last
			last = snap

			switch snap.State {
			case esim.StatePreview:
				if prev.State == esim.StatePreview {
					continue
				}
				fmt.Fprintf(p.out, "The server offers this profile:\n%s", describeProfile(snap.Profile))
				accept, err := ask(ctx, func() (bool, error) { return p.confirm("Install it?") })
				if err != nil {
					return last, abort(ctx, s, err)
				}
				if err := s.ConfirmPreview(accept); err != nil {
					return last, err
				}
				if !accept {
					return last, errRejected
				}

			case esim.StateConfirmation:
				if prev.State == esim.StateConfirmation {
					continue
				}
				code, err := ask(ctx, func() (string, error) { return p.code("Confirmation code") })
				if err != nil {
					return last, abort(ctx, s, err)
				}
				if err := s.SubmitConfirmationCode(code); err != nil {
					return last, err
				}

			case esim.StateCompleted:
				if name := snap.DownloadedName(); name != "" {
					fmt.Fprintf(p.out, "[100%%] profile %q installed\n", name)
				} else {
					fmt.Fprintln(p.out, "[100%] profile installed")
				}
				return snap, s.CloseDialog()

			case esim.StateError:
				s.CloseDialog()
				return snap, downloadError(snap)

			case esim.StateIdle:
				if started {
					return snap, errCancelled
				}

			default:
				started = true
			}
		}
	}
}

func downloadError(snap esim.Snapshot) error {
	switch {
	case snap.ErrorKind == esim.ErrorDisconnected:
		return esim.NewError(esim.ErrDisconnected, "connection to the server was lost")
	case snap.ErrorMessage != "":
		return esim.NewError(esim.ErrServer, snap.ErrorMessage)
	default:
		return esim.NewError(esim.ErrTransport, "download failed")
	}
}
