package esim

import (
	"strings"
)

// Inputs of the state machine

type startEvent struct {
	attempt string
	payload Payload
}

type channelOpenEvent struct{ attempt string }

type channelMessageEvent struct {
	attempt string
	msg     Message
}

type channelErrorEvent struct {
	attempt string
	err     error
}

type channelCloseEvent struct{ attempt string }

type confirmEvent struct{ accept bool }

type submitCodeEvent struct{ code string }

type cancelEvent struct{}

type closeDialogEvent struct{}

type rampTickEvent struct{}

type teardownEvent struct{}

// Outputs of the state machine, executed in order by the session

type openEffect struct{ attempt string }

type sendEffect struct{ cmd Command }

type closeEffect struct{}

type startRampEffect struct{}

type stopRampEffect struct{}

type completedEffect struct{}

// reportEffect hands a terminal failure to the error callback
type reportEffect struct{ err error }

// machine holds the download state. It performs no I/O: apply returns the
// effects the owner has to carry out.
type machine struct {
	step    int
	ceiling int

	attempt    string
	payload    Payload
	hasChannel bool
	rampActive bool

	state    State
	stage    Stage
	progress int
	profile  *Profile
	errKind  ErrorKind
	errMsg   string
}

func newMachine(step, ceiling int) *machine {
	if step <= 0 {
		step = DefaultRampStep
	}
	if ceiling <= 0 || ceiling > 100 {
		ceiling = DefaultRampCeiling
	}
	m := &machine{step: step, ceiling: ceiling}
	m.reset()
	return m
}

func (m *machine) reset() {
	m.attempt = ""
	m.payload = Payload{}
	m.hasChannel = false
	m.rampActive = false
	m.state = StateIdle
	m.stage = StageNone
	m.progress = 0
	m.profile = nil
	m.errKind = ErrorNone
	m.errMsg = ""
}

func (m *machine) snapshot() Snapshot {
	snap := Snapshot{
		AttemptID:    m.attempt,
		State:        m.state,
		Stage:        m.stage,
		Progress:     m.progress,
		ErrorKind:    m.errKind,
		ErrorMessage: m.errMsg,
	}
	if m.profile != nil {
		p := *m.profile
		snap.Profile = &p
	}
	return snap
}

func (m *machine) apply(ev interface{}) []interface{} {
	switch e := ev.(type) {
	case startEvent:
		return m.start(e)
	case channelOpenEvent:
		if !m.current(e.attempt) || m.state == StateIdle || m.state.IsTerminal() {
			return nil
		}
		return []interface{}{sendEffect{cmd: m.payload.command()}}
	case channelMessageEvent:
		if !m.current(e.attempt) {
			return nil
		}
		return m.receive(e.msg)
	case channelErrorEvent:
		if !m.current(e.attempt) || m.state == StateIdle || m.state == StateCompleted {
			return nil
		}
		return m.fail(ErrorFailed, "")
	case channelCloseEvent:
		if !m.current(e.attempt) || m.state == StateIdle || m.state.IsTerminal() {
			return nil
		}
		effects := m.fail(ErrorDisconnected, "")
		return append(effects, reportEffect{err: NewError(ErrDisconnected, "channel closed before the download finished")})
	case confirmEvent:
		return m.confirm(e.accept)
	case submitCodeEvent:
		code := strings.TrimSpace(e.code)
		if m.state != StateConfirmation || code == "" {
			return nil
		}
		m.state = StateProgress
		return []interface{}{sendEffect{cmd: ConfirmationCodeCommand{Code: code}}}
	case cancelEvent:
		var effects []interface{}
		if m.hasChannel {
			effects = append(effects, sendEffect{cmd: CancelCommand{}})
		}
		return append(effects, m.release()...)
	case closeDialogEvent, teardownEvent:
		return m.release()
	case rampTickEvent:
		return m.tick()
	}
	return nil
}

func (m *machine) current(attempt string) bool {
	return m.hasChannel && attempt != "" && attempt == m.attempt
}

func (m *machine) start(e startEvent) []interface{} {
	effects := m.release()

	m.attempt = e.attempt
	m.payload = e.payload
	m.hasChannel = true
	m.state = StateConnecting
	effects = append(effects, m.setStage(StageInitializing)...)

	return append(effects, openEffect{attempt: e.attempt})
}

// release stops the ramp, closes the channel and returns to idle
func (m *machine) release() []interface{} {
	var effects []interface{}
	effects = append(effects, m.stopRamp()...)
	if m.hasChannel {
		effects = append(effects, closeEffect{})
	}
	m.reset()
	return effects
}

func (m *machine) receive(msg Message) []interface{} {
	if m.state == StateIdle || m.state.IsTerminal() {
		return nil
	}

	switch msg := msg.(type) {
	case ProgressMessage:
		if !m.state.IsActive() || msg.Stage == StageNone {
			return nil
		}
		m.state = StateProgress
		return m.setStage(msg.Stage)

	case PreviewMessage:
		if !m.state.IsActive() {
			return nil
		}
		m.state = StatePreview
		m.profile = nil
		if msg.Profile != nil {
			p := *msg.Profile
			m.profile = &p
		}
		return m.stopRamp()

	case ConfirmationCodeRequiredMessage:
		if !m.state.IsActive() {
			return nil
		}
		m.state = StateConfirmation
		return m.stopRamp()

	case CompletedMessage:
		m.state = StateCompleted
		m.progress = 100
		effects := m.stopRamp()
		effects = append(effects, closeEffect{}, completedEffect{})
		m.hasChannel = false
		return effects

	case ErrorMessage:
		text := msg.Message
		if text == "" {
			text = "server reported an error"
		}
		effects := m.fail(ErrorFailed, msg.Message)
		return append(effects, reportEffect{err: NewError(ErrServer, text)})
	}

	return nil
}

func (m *machine) fail(kind ErrorKind, message string) []interface{} {
	m.state = StateError
	m.errKind = kind
	m.errMsg = message
	effects := m.stopRamp()
	if m.hasChannel {
		effects = append(effects, closeEffect{})
		m.hasChannel = false
	}
	return effects
}

func (m *machine) confirm(accept bool) []interface{} {
	if m.state != StatePreview {
		return nil
	}
	if accept {
		m.state = StateProgress
		return []interface{}{sendEffect{cmd: ConfirmCommand{Accept: true}}}
	}
	effects := []interface{}{
		sendEffect{cmd: ConfirmCommand{Accept: false}},
		sendEffect{cmd: CancelCommand{}},
	}
	return append(effects, m.release()...)
}

// setStage enters stage. Entering the current stage again, or StageNone, does
// nothing. Progress never moves backwards while a download is running.
func (m *machine) setStage(stage Stage) []interface{} {
	if stage == StageNone || stage == m.stage {
		return nil
	}
	m.stage = stage
	effects := m.stopRamp()

	if baseline, ok := StageBaseline(stage); ok && baseline > m.progress {
		m.progress = clampProgress(baseline)
	}

	if stage == StageInstalling && m.progress < m.ceiling {
		m.rampActive = true
		effects = append(effects, startRampEffect{})
	}
	return effects
}

func (m *machine) stopRamp() []interface{} {
	if !m.rampActive {
		return nil
	}
	m.rampActive = false
	return []interface{}{stopRampEffect{}}
}

func (m *machine) tick() []interface{} {
	if !m.rampActive || m.state != StateProgress || m.stage != StageInstalling {
		return nil
	}
	m.progress += m.step
	if m.progress >= m.ceiling {
		m.progress = m.ceiling
		return m.stopRamp()
	}
	return nil
}
