package esim

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChannel struct {
	id     string
	events chan<- ChannelEvent

	mu     sync.Mutex
	open   bool
	closed int
	sent   []Command
}

func (c *fakeChannel) ID() string { return c.id }

func (c *fakeChannel) Send(cmd Command) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.open && c.closed == 0 {
		c.sent = append(c.sent, cmd)
	}
	return nil
}

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed++
	return nil
}

func (c *fakeChannel) emit(ev ChannelEvent) {
	ev.ChannelID = c.id
	if ev.Kind == ChannelOpened {
		c.mu.Lock()
		c.open = true
		c.mu.Unlock()
	}
	c.events <- ev
}

func (c *fakeChannel) receive(msg Message) {
	c.emit(ChannelEvent{Kind: ChannelMessage, Message: msg})
}

func (c *fakeChannel) commands() []Command {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Command(nil), c.sent...)
}

func (c *fakeChannel) closeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type fakeTransport struct {
	mu      sync.Mutex
	opened  []*fakeChannel
	targets []string
	openErr error
}

func (t *fakeTransport) Open(ctx context.Context, id, target string, events chan<- ChannelEvent) (Channel, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.targets = append(t.targets, target)
	if t.openErr != nil {
		return nil, t.openErr
	}
	ch := &fakeChannel{id: id, events: events}
	t.opened = append(t.opened, ch)
	return ch, nil
}

func (ft *fakeTransport) channel(t *testing.T, i int) *fakeChannel {
	t.Helper()
	var ch *fakeChannel
	require.Eventually(t, func() bool {
		ft.mu.Lock()
		defer ft.mu.Unlock()
		if len(ft.opened) > i {
			ch = ft.opened[i]
			return true
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)
	return ch
}

type recorder struct {
	mu        sync.Mutex
	snaps     []Snapshot
	completed int
	errs      []error
}

func (r *recorder) callbacks() *Callbacks {
	return &Callbacks{
		OnChange: func(snap Snapshot) {
			r.mu.Lock()
			r.snaps = append(r.snaps, snap)
			r.mu.Unlock()
		},
		OnCompleted: func() {
			r.mu.Lock()
			r.completed++
			r.mu.Unlock()
		},
		OnError: func(err error, context string) {
			r.mu.Lock()
			r.errs = append(r.errs, err)
			r.mu.Unlock()
		},
	}
}

func (r *recorder) completions() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.completed
}

func (r *recorder) reported() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errs...)
}

func (r *recorder) states() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	var states []State
	for _, s := range r.snaps {
		if len(states) == 0 || states[len(states)-1] != s.State {
			states = append(states, s.State)
		}
	}
	return states
}

func newTestSession(t *testing.T, opts ...Option) (*Session, *fakeTransport, *recorder) {
	t.Helper()
	transport := &fakeTransport{}
	rec := &recorder{}
	config := DefaultConfig()
	config.RampInterval = time.Millisecond

	opts = append([]Option{
		WithConfig(config),
		WithTransport(transport),
		WithCallbacks(rec.callbacks()),
	}, opts...)

	s := NewSession("modem1", opts...)
	t.Cleanup(func() { s.Close() })
	return s, transport, rec
}

func waitState(t *testing.T, s *Session, state State) Snapshot {
	t.Helper()
	require.Eventually(t, func() bool {
		return s.Snapshot().State == state
	}, 2*time.Second, 2*time.Millisecond, "waiting for %s", state)
	return s.Snapshot()
}

func TestSessionHappyPath(t *testing.T) {
	s, transport, rec := newTestSession(t)

	require.NoError(t, s.StartDownload(Payload{SMDP: "rsp.example.com", ActivationCode: " ABC "}))
	snap := s.Snapshot()
	assert.Equal(t, StateConnecting, snap.State)
	assert.Equal(t, StageInitializing, snap.Stage)
	assert.Equal(t, 10, snap.Progress)

	ch := transport.channel(t, 0)
	ch.emit(ChannelEvent{Kind: ChannelOpened})
	require.Eventually(t, func() bool { return len(ch.commands()) == 1 }, 2*time.Second, 2*time.Millisecond)
	assert.Equal(t, StartCommand{SMDP: "rsp.example.com", ActivationCode: "ABC"}, ch.commands()[0])

	ch.receive(ProgressMessage{Stage: StageConnecting})
	ch.receive(ProgressMessage{Stage: StageInstalling})
	require.Eventually(t, func() bool { return s.Snapshot().Progress == 90 }, 2*time.Second, 2*time.Millisecond)

	ch.receive(PreviewMessage{Profile: &Profile{ICCID: "8901", ProfileName: "Travel"}})
	snap = waitState(t, s, StatePreview)
	assert.Equal(t, "Travel", snap.DownloadedName())

	require.NoError(t, s.ConfirmPreview(true))
	assert.Equal(t, StateProgress, s.Snapshot().State)
	assert.Equal(t, ConfirmCommand{Accept: true}, ch.commands()[1])

	ch.receive(CompletedMessage{})
	snap = waitState(t, s, StateCompleted)
	assert.Equal(t, 100, snap.Progress)
	assert.Equal(t, "Travel", snap.DownloadedName())
	assert.Equal(t, 1, rec.completions())
	assert.Equal(t, 1, ch.closeCount())

	assert.Equal(t, []State{StateConnecting, StateProgress, StatePreview, StateProgress, StateCompleted}, rec.states())
}

func TestSessionRampHoldsAtCeiling(t *testing.T) {
	s, transport, _ := newTestSession(t)

	require.NoError(t, s.StartDownload(testPayload))
	ch := transport.channel(t, 0)
	ch.emit(ChannelEvent{Kind: ChannelOpened})
	ch.receive(ProgressMessage{Stage: StageInstalling})

	require.Eventually(t, func() bool { return s.Snapshot().Progress == 90 }, 2*time.Second, 2*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 90, s.Snapshot().Progress)
}

func TestSessionConfirmationCode(t *testing.T) {
	s, transport, _ := newTestSession(t)

	require.NoError(t, s.StartDownload(testPayload))
	ch := transport.channel(t, 0)
	ch.emit(ChannelEvent{Kind: ChannelOpened})
	ch.receive(ConfirmationCodeRequiredMessage{})
	waitState(t, s, StateConfirmation)

	require.NoError(t, s.SubmitConfirmationCode("   "))
	assert.Equal(t, StateConfirmation, s.Snapshot().State)

	require.NoError(t, s.SubmitConfirmationCode(" 1234 "))
	assert.Equal(t, StateProgress, s.Snapshot().State)

	cmds := ch.commands()
	assert.Equal(t, ConfirmationCodeCommand{Code: "1234"}, cmds[len(cmds)-1])
}

func TestSessionRejectPreview(t *testing.T) {
	s, transport, _ := newTestSession(t)

	require.NoError(t, s.StartDownload(testPayload))
	ch := transport.channel(t, 0)
	ch.emit(ChannelEvent{Kind: ChannelOpened})
	ch.receive(PreviewMessage{Profile: &Profile{ICCID: "8901"}})
	waitState(t, s, StatePreview)

	require.NoError(t, s.ConfirmPreview(false))
	assert.Equal(t, idleSnapshot(), s.Snapshot())

	cmds := ch.commands()
	require.Len(t, cmds, 3)
	assert.Equal(t, ConfirmCommand{Accept: false}, cmds[1])
	assert.Equal(t, CancelCommand{}, cmds[2])
	assert.Equal(t, 1, ch.closeCount())
}

func TestSessionServerError(t *testing.T) {
	s, transport, rec := newTestSession(t)

	require.NoError(t, s.StartDownload(testPayload))
	ch := transport.channel(t, 0)
	ch.emit(ChannelEvent{Kind: ChannelOpened})
	ch.receive(ErrorMessage{Message: "activation code already used"})

	snap := waitState(t, s, StateError)
	assert.Equal(t, ErrorFailed, snap.ErrorKind)
	assert.Equal(t, "activation code already used", snap.ErrorMessage)

	errs := rec.reported()
	require.Len(t, errs, 1)
	assert.True(t, IsServer(errs[0]))
	assert.Contains(t, errs[0].Error(), "activation code already used")

	require.NoError(t, s.CloseDialog())
	assert.Equal(t, idleSnapshot(), s.Snapshot())
}

func TestSessionUnexpectedClose(t *testing.T) {
	s, transport, rec := newTestSession(t)

	require.NoError(t, s.StartDownload(testPayload))
	ch := transport.channel(t, 0)
	ch.emit(ChannelEvent{Kind: ChannelOpened})
	ch.receive(ProgressMessage{Stage: StageInstalling})
	ch.emit(ChannelEvent{Kind: ChannelClosed})

	snap := waitState(t, s, StateError)
	assert.Equal(t, ErrorDisconnected, snap.ErrorKind)

	errs := rec.reported()
	require.Len(t, errs, 1)
	assert.True(t, IsDisconnected(errs[0]))
}

func TestSessionCancel(t *testing.T) {
	s, transport, _ := newTestSession(t)

	require.NoError(t, s.StartDownload(testPayload))
	ch := transport.channel(t, 0)
	ch.emit(ChannelEvent{Kind: ChannelOpened})
	ch.receive(ProgressMessage{Stage: StageInstalling})
	waitState(t, s, StateProgress)

	require.NoError(t, s.CancelDownload())
	assert.Equal(t, idleSnapshot(), s.Snapshot())
	cmds := ch.commands()
	assert.Equal(t, CancelCommand{}, cmds[len(cmds)-1])

	// late events of the cancelled attempt are ignored
	ch.emit(ChannelEvent{Kind: ChannelClosed})
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, idleSnapshot(), s.Snapshot())
}

func TestSessionRestartDiscardsOldAttempt(t *testing.T) {
	s, transport, _ := newTestSession(t)

	require.NoError(t, s.StartDownload(testPayload))
	first := transport.channel(t, 0)
	first.emit(ChannelEvent{Kind: ChannelOpened})
	first.receive(ErrorMessage{Message: "boom"})
	waitState(t, s, StateError)

	require.NoError(t, s.StartDownload(testPayload))
	second := transport.channel(t, 1)
	assert.NotEqual(t, first.ID(), second.ID())
	assert.Equal(t, StateConnecting, s.Snapshot().State)

	first.receive(CompletedMessage{})
	first.emit(ChannelEvent{Kind: ChannelClosed})
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, StateConnecting, s.Snapshot().State)
	assert.Equal(t, second.ID(), s.Snapshot().AttemptID)
}

func TestSessionMalformedFrameReported(t *testing.T) {
	s, transport, rec := newTestSession(t)

	require.NoError(t, s.StartDownload(testPayload))
	ch := transport.channel(t, 0)
	ch.emit(ChannelEvent{Kind: ChannelOpened})
	ch.emit(ChannelEvent{Kind: ChannelMalformed, Err: NewError(ErrMalformedFrame, "decode frame")})

	require.Eventually(t, func() bool {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		return len(rec.errs) == 1
	}, 2*time.Second, 2*time.Millisecond)
	assert.Equal(t, StateConnecting, s.Snapshot().State)
}

func TestSessionOpenFailure(t *testing.T) {
	s, transport, _ := newTestSession(t)
	transport.openErr = errors.New("refused")

	require.NoError(t, s.StartDownload(testPayload))
	snap := s.Snapshot()
	assert.Equal(t, StateError, snap.State)
	assert.Equal(t, ErrorFailed, snap.ErrorKind)
}

func TestSessionNoTarget(t *testing.T) {
	for _, target := range []string{"", "  ", UnknownTarget} {
		transport := &fakeTransport{}
		s := NewSession(target, WithTransport(transport))

		err := s.StartDownload(testPayload)
		assert.True(t, IsNoTarget(err))
		assert.Equal(t, idleSnapshot(), s.Snapshot())
		assert.Empty(t, transport.targets)
		s.Close()
	}
}

func TestSessionClose(t *testing.T) {
	s, transport, _ := newTestSession(t)

	require.NoError(t, s.StartDownload(testPayload))
	ch := transport.channel(t, 0)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.Equal(t, 1, ch.closeCount())
	assert.Equal(t, StateIdle, s.Snapshot().State)

	assert.True(t, IsSessionClosed(s.StartDownload(testPayload)))
	assert.True(t, IsSessionClosed(s.CancelDownload()))
}

func TestSessionOverWebSocket(t *testing.T) {
	srv := newScriptedServer(t)
	rec := &recorder{}
	config := DefaultConfig()
	config.Origin = srv.URL
	config.RampInterval = time.Millisecond

	s := NewSession("modem1",
		WithConfig(config),
		WithTokenSource(StaticToken("secret")),
		WithCallbacks(rec.callbacks()),
	)
	defer s.Close()

	require.NoError(t, s.StartDownload(Payload{SMDP: "rsp.example.com", ActivationCode: "ABC", ConfirmationCode: "77"}))
	conn := srv.accept(t)

	var start map[string]interface{}
	require.NoError(t, conn.ReadJSON(&start))
	assert.Equal(t, map[string]interface{}{
		"type":             "start",
		"smdp":             "rsp.example.com",
		"activationCode":   "ABC",
		"confirmationCode": "77",
	}, start)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "progress", "stage": ServerStageAuthenticatingClient}))
	require.NoError(t, conn.WriteJSON(map[string]string{"type": "progress", "stage": ServerStageInstalling}))
	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"type":    "preview",
		"profile": map[string]string{"iccid": "8901", "serviceProviderName": "Carrier", "profileName": "", "profileState": "disabled"},
	}))
	snap := waitState(t, s, StatePreview)
	assert.Equal(t, "Carrier", snap.DownloadedName())

	require.NoError(t, s.ConfirmPreview(true))
	var confirm map[string]interface{}
	require.NoError(t, conn.ReadJSON(&confirm))
	assert.Equal(t, map[string]interface{}{"type": "confirm", "accept": true}, confirm)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "completed"}))
	waitState(t, s, StateCompleted)
	assert.Equal(t, 1, rec.completions())

	// the client closes the channel once the download completes
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure))
}
