package esim

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Transport defaults
const (
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultWriteTimeout     = 10 * time.Second
)

// Session drives eSIM downloads for one modem.
//
// All state lives on a single goroutine. Public operations post a request to
// it and return once the request has been applied, so a Snapshot taken after
// an operation returns reflects it. Channel events and ramp ticks are tagged
// and discarded when they belong to an attempt or ramp that has since been
// replaced.
type Session struct {
	target    string
	config    *Config
	callbacks *Callbacks
	logger    Logger
	transport Transport
	tokens    TokenSource
	ctx       context.Context

	requests      chan request
	channelEvents chan ChannelEvent
	ticks         chan uint64
	quit          chan struct{}
	done          chan struct{}
	closeOnce     sync.Once

	// Owned by the session goroutine
	machine *machine
	channel Channel
	ramp    *ramp

	mu       sync.RWMutex
	snapshot Snapshot
}

type request struct {
	event interface{}
	reply chan struct{}
}

// Config holds session configuration
type Config struct {
	// Origin is the server address a relative APIBase is resolved against,
	// e.g. http://10.10.10.101:9527
	Origin string

	// APIBase is the API location, DefaultAPIBase when empty
	APIBase string

	// HandshakeTimeout bounds the WebSocket opening handshake
	HandshakeTimeout time.Duration

	// WriteTimeout bounds every frame write
	WriteTimeout time.Duration

	// RampInterval is the period of the installing estimate
	RampInterval time.Duration

	// RampStep is added to progress on every ramp tick
	RampStep int

	// RampCeiling is the value the installing estimate stops at
	RampCeiling int
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		APIBase:          DefaultAPIBase,
		HandshakeTimeout: DefaultHandshakeTimeout,
		WriteTimeout:     DefaultWriteTimeout,
		RampInterval:     DefaultRampInterval,
		RampStep:         DefaultRampStep,
		RampCeiling:      DefaultRampCeiling,
	}
}

// Option configures a Session
type Option func(*Session)

// WithConfig sets the session configuration
func WithConfig(config *Config) Option {
	return func(s *Session) {
		s.config = config
	}
}

// WithCallbacks sets the session callbacks
func WithCallbacks(callbacks *Callbacks) Option {
	return func(s *Session) {
		s.callbacks = mergeCallbacks(callbacks)
	}
}

// WithContext sets the parent context for channel handshakes
func WithContext(ctx context.Context) Option {
	return func(s *Session) {
		s.ctx = ctx
	}
}

// WithSessionLogger sets the session logger
func WithSessionLogger(logger Logger) Option {
	return func(s *Session) {
		s.logger = logger
	}
}

// WithTransport replaces the WebSocket transport
func WithTransport(transport Transport) Option {
	return func(s *Session) {
		s.transport = transport
	}
}

// WithTokenSource sets the API token source of the default transport
func WithTokenSource(tokens TokenSource) Option {
	return func(s *Session) {
		s.tokens = tokens
	}
}

// NewSession creates a download session for the modem target and starts its
// goroutine. Close releases it.
func NewSession(target string, opts ...Option) *Session {
	s := &Session{
		target:        strings.TrimSpace(target),
		config:        DefaultConfig(),
		callbacks:     defaultCallbacks(),
		logger:        NoopLogger{},
		ctx:           context.Background(),
		requests:      make(chan request),
		channelEvents: make(chan ChannelEvent, 64),
		ticks:         make(chan uint64, 1),
		quit:          make(chan struct{}),
		done:          make(chan struct{}),
		snapshot:      idleSnapshot(),
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.config == nil {
		s.config = DefaultConfig()
	}
	if s.transport == nil {
		s.transport = NewWebSocketTransport(s.config, s.tokens, s.logger)
	}
	s.machine = newMachine(s.config.RampStep, s.config.RampCeiling)
	s.ramp = newRamp(s.config.RampInterval)

	go s.loop()
	return s
}

// Target returns the modem ID of the session
func (s *Session) Target() string {
	return s.target
}

// Snapshot returns the current observable state
func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot
}

// StartDownload begins a new attempt. Any previous attempt is released first.
// It returns an ErrNoTarget error, leaving the state untouched, when the
// session has no usable modem ID.
func (s *Session) StartDownload(payload Payload) error {
	if !ValidTarget(s.target) {
		return NewError(ErrNoTarget, "modem id is required")
	}
	return s.dispatch(startEvent{attempt: uuid.NewString(), payload: payload})
}

// ConfirmPreview answers the profile preview. Rejecting also cancels the
// download and returns to idle. It does nothing outside StatePreview.
func (s *Session) ConfirmPreview(accept bool) error {
	return s.dispatch(confirmEvent{accept: accept})
}

// SubmitConfirmationCode sends the trimmed code. It does nothing for a blank
// code or outside StateConfirmation.
func (s *Session) SubmitConfirmationCode(code string) error {
	return s.dispatch(submitCodeEvent{code: code})
}

// CancelDownload asks the server to cancel, closes the channel and returns
// to idle
func (s *Session) CancelDownload() error {
	return s.dispatch(cancelEvent{})
}

// CloseDialog closes the channel and returns to idle without notifying the
// server
func (s *Session) CloseDialog() error {
	return s.dispatch(closeDialogEvent{})
}

// Close tears the session down. It is idempotent; operations on a closed
// session return an ErrSessionClosed error.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		close(s.quit)
	})
	<-s.done
	return nil
}

func (s *Session) dispatch(ev interface{}) error {
	req := request{event: ev, reply: make(chan struct{})}
	select {
	case s.requests <- req:
	case <-s.done:
		return NewError(ErrSessionClosed, "session closed")
	}
	<-req.reply
	return nil
}

func (s *Session) loop() {
	defer close(s.done)

	for {
		select {
		case <-s.quit:
			s.handle(teardownEvent{})
			s.logger.Debug("Session %s closed", s.target)
			return
		case req := <-s.requests:
			s.handle(req.event)
			close(req.reply)
		case ev := <-s.channelEvents:
			s.handleChannelEvent(ev)
		case gen := <-s.ticks:
			if s.ramp.current(gen) {
				s.handle(rampTickEvent{})
			}
		}
	}
}

func (s *Session) handleChannelEvent(ev ChannelEvent) {
	switch ev.Kind {
	case ChannelOpened:
		s.emit(EventChannelOpen, ev.ChannelID, "")
		s.handle(channelOpenEvent{attempt: ev.ChannelID})
	case ChannelMessage:
		s.emit(EventFrameReceived, ev.ChannelID, ev.Message.Type())
		s.handle(channelMessageEvent{attempt: ev.ChannelID, msg: ev.Message})
	case ChannelMalformed:
		s.logger.Error("Dropped malformed frame: %v", ev.Err)
		s.emit(EventFrameDropped, ev.ChannelID, errorText(ev.Err))
		s.callbacks.OnError(ev.Err, "decode frame")
	case ChannelFailed:
		s.logger.Error("Channel %s failed: %v", ev.ChannelID, ev.Err)
		s.callbacks.OnError(ev.Err, "channel")
		s.handle(channelErrorEvent{attempt: ev.ChannelID, err: ev.Err})
	case ChannelClosed:
		s.handle(channelCloseEvent{attempt: ev.ChannelID})
	}
}

// handle applies one input and every follow-up input its effects produce,
// then publishes the resulting state
func (s *Session) handle(ev interface{}) {
	pending := []interface{}{ev}
	for len(pending) > 0 {
		next := pending[0]
		pending = pending[1:]
		for _, eff := range s.machine.apply(next) {
			if followUp := s.execute(eff); followUp != nil {
				pending = append(pending, followUp)
			}
		}
	}
	s.publish()
}

func (s *Session) execute(eff interface{}) interface{} {
	switch e := eff.(type) {
	case openEffect:
		s.emit(EventChannelOpening, e.attempt, s.target)
		ch, err := s.transport.Open(s.ctx, e.attempt, s.target, s.channelEvents)
		if err != nil {
			s.logger.Error("Open channel for %s failed: %v", s.target, err)
			s.callbacks.OnError(err, "open channel")
			return channelErrorEvent{attempt: e.attempt, err: err}
		}
		s.channel = ch

	case sendEffect:
		if s.channel == nil {
			return nil
		}
		if err := s.channel.Send(e.cmd); err != nil {
			s.logger.Error("Send %s failed: %v", e.cmd.Type(), err)
			s.callbacks.OnError(err, "send "+e.cmd.Type())
			return nil
		}
		s.emit(EventFrameSent, s.channel.ID(), e.cmd.Type())

	case closeEffect:
		if s.channel == nil {
			return nil
		}
		id := s.channel.ID()
		if err := s.channel.Close(); err != nil {
			s.logger.Debug("Close channel %s: %v", id, err)
		}
		s.channel = nil
		s.emit(EventChannelClosed, id, "")

	case startRampEffect:
		s.ramp.start(s.ticks)
		s.emit(EventRampStarted, s.machine.attempt, "")

	case stopRampEffect:
		s.ramp.halt()
		s.emit(EventRampStopped, s.machine.attempt, "")

	case reportEffect:
		s.logger.Error("Download on %s failed: %v", s.target, e.err)
		s.callbacks.OnError(e.err, "download")

	case completedEffect:
		s.logger.Info("Download on %s completed", s.target)
		s.callbacks.OnCompleted()
	}
	return nil
}

func (s *Session) publish() {
	snap := s.machine.snapshot()

	s.mu.Lock()
	changed := !snap.equal(s.snapshot)
	s.snapshot = snap
	s.mu.Unlock()

	if changed {
		s.callbacks.OnChange(snap)
	}
}

func (s *Session) emit(eventType EventType, attempt, message string) {
	s.callbacks.OnEvent(Event{
		Type:      eventType,
		AttemptID: attempt,
		Message:   message,
		Timestamp: time.Now(),
	})
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
