package esim

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ChannelEventKind categorizes events emitted by a Channel
type ChannelEventKind int

const (
	ChannelOpened ChannelEventKind = iota
	ChannelMessage
	ChannelMalformed
	ChannelFailed
	ChannelClosed
)

func (k ChannelEventKind) String() string {
	switch k {
	case ChannelOpened:
		return "opened"
	case ChannelMessage:
		return "message"
	case ChannelMalformed:
		return "malformed"
	case ChannelFailed:
		return "failed"
	case ChannelClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ChannelEvent is delivered by a Channel to its owner. Events of one channel
// are delivered in order.
type ChannelEvent struct {
	ChannelID string
	Kind      ChannelEventKind
	Message   Message
	Err       error
}

// Channel is one bidirectional message connection
type Channel interface {
	// ID returns the identifier the channel was opened with
	ID() string

	// Send writes a command. It is a silent no-op unless the channel is open.
	Send(cmd Command) error

	// Close closes the channel. It is idempotent.
	Close() error
}

// Transport opens channels to the download endpoint of a modem
type Transport interface {
	// Open starts connecting to target and returns immediately. Channel events
	// are delivered to events, tagged with id.
	Open(ctx context.Context, id, target string, events chan<- ChannelEvent) (Channel, error)
}

// TokenSource supplies the API token appended to channel addresses
type TokenSource interface {
	Token() string
}

// StaticToken is a fixed token
type StaticToken string

func (t StaticToken) Token() string { return string(t) }

// TokenFunc adapts a function to TokenSource
type TokenFunc func() string

func (f TokenFunc) Token() string { return f() }

// ValidTarget reports whether a modem ID can be used to open a channel
func ValidTarget(target string) bool {
	target = strings.TrimSpace(target)
	return target != "" && target != UnknownTarget
}

// BuildURL composes the channel address for target. A relative apiBase is
// resolved against origin. The scheme is wss when the resolved API address is
// secure and ws otherwise. The token is appended as a query parameter when
// non-blank.
func BuildURL(origin, apiBase, target, token string) (string, error) {
	if !ValidTarget(target) {
		return "", NewError(ErrNoTarget, "modem id is required")
	}

	base := strings.TrimSpace(apiBase)
	if base == "" {
		base = DefaultAPIBase
	}
	base = strings.TrimRight(base, "/")

	ref, err := url.Parse(base)
	if err != nil {
		return "", WrapError(ErrTransport, "parse api base", err)
	}

	u := ref
	if !ref.IsAbs() {
		if strings.TrimSpace(origin) == "" {
			return "", NewError(ErrTransport, "origin is required for a relative api base")
		}
		o, err := url.Parse(strings.TrimSpace(origin))
		if err != nil {
			return "", WrapError(ErrTransport, "parse origin", err)
		}
		if o.Host == "" {
			return "", NewError(ErrTransport, fmt.Sprintf("origin %q has no host", origin))
		}
		u = o.ResolveReference(ref)
	}

	switch u.Scheme {
	case "https", "wss":
		u.Scheme = "wss"
	case "http", "ws":
		u.Scheme = "ws"
	default:
		return "", NewError(ErrTransport, fmt.Sprintf("unsupported scheme %q", u.Scheme))
	}

	u.Path = strings.TrimRight(u.Path, "/") + "/modems/" + strings.TrimSpace(target) + "/esims/download"
	u.RawPath = ""
	u.Fragment = ""

	q := url.Values{}
	if token = strings.TrimSpace(token); token != "" {
		q.Set("token", token)
	}
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// redactURL hides the token query parameter
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	if q.Has("token") {
		q.Set("token", "REDACTED")
		u.RawQuery = q.Encode()
	}
	return u.String()
}

// WebSocketTransport opens channels over gorilla/websocket
type WebSocketTransport struct {
	// Origin is the address the API base is resolved against
	Origin string

	// APIBase is the API location, absolute or relative to Origin
	APIBase string

	// Tokens supplies the API token, may be nil
	Tokens TokenSource

	// HandshakeTimeout bounds the opening handshake
	HandshakeTimeout time.Duration

	// WriteTimeout bounds every frame write
	WriteTimeout time.Duration

	// NetDialContext overrides how the TCP connection is made, e.g. through an SSH tunnel
	NetDialContext func(ctx context.Context, network, addr string) (net.Conn, error)

	// TLSConfig is used for wss addresses, may be nil
	TLSConfig *tls.Config

	// Logger receives connection logs, may be nil
	Logger Logger
}

// NewWebSocketTransport creates a transport from a session configuration
func NewWebSocketTransport(config *Config, tokens TokenSource, logger Logger) *WebSocketTransport {
	if config == nil {
		config = DefaultConfig()
	}
	return &WebSocketTransport{
		Origin:           config.Origin,
		APIBase:          config.APIBase,
		Tokens:           tokens,
		HandshakeTimeout: config.HandshakeTimeout,
		WriteTimeout:     config.WriteTimeout,
		Logger:           logger,
	}
}

func (t *WebSocketTransport) logger() Logger {
	if t.Logger == nil {
		return NoopLogger{}
	}
	return t.Logger
}

func (t *WebSocketTransport) dialer() *websocket.Dialer {
	d := &websocket.Dialer{
		HandshakeTimeout: t.HandshakeTimeout,
		TLSClientConfig:  t.TLSConfig,
		NetDialContext:   t.NetDialContext,
	}
	if d.HandshakeTimeout <= 0 {
		d.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if d.NetDialContext == nil {
		d.Proxy = websocket.DefaultDialer.Proxy
	}
	return d
}

// Open builds the channel address and starts the handshake in the background
func (t *WebSocketTransport) Open(ctx context.Context, id, target string, events chan<- ChannelEvent) (Channel, error) {
	token := ""
	if t.Tokens != nil {
		token = t.Tokens.Token()
	}
	addr, err := BuildURL(t.Origin, t.APIBase, target, token)
	if err != nil {
		return nil, err
	}

	writeTimeout := t.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = DefaultWriteTimeout
	}

	dialCtx, cancel := context.WithCancel(ctx)
	c := &wsChannel{
		id:           id,
		events:       events,
		logger:       t.logger(),
		writeTimeout: writeTimeout,
		closed:       make(chan struct{}),
		cancel:       cancel,
	}

	t.logger().Info("Opening channel %s to %s", id, redactURL(addr))
	go c.run(dialCtx, t.dialer(), addr)

	return c, nil
}

type channelState int

const (
	channelConnecting channelState = iota
	channelOpen
	channelDone
)

type wsChannel struct {
	id           string
	events       chan<- ChannelEvent
	logger       Logger
	writeTimeout time.Duration

	mu    sync.Mutex
	conn  *websocket.Conn
	state channelState

	closed    chan struct{}
	closeOnce sync.Once
	cancel    context.CancelFunc
}

func (c *wsChannel) ID() string {
	return c.id
}

// post delivers an event unless the channel has been closed by its owner
func (c *wsChannel) post(ev ChannelEvent) {
	ev.ChannelID = c.id
	select {
	case c.events <- ev:
	case <-c.closed:
	}
}

func (c *wsChannel) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *wsChannel) run(ctx context.Context, dialer *websocket.Dialer, addr string) {
	conn, resp, err := dialer.DialContext(ctx, addr, nil)
	if err != nil {
		if c.isClosed() {
			return
		}
		if resp != nil {
			err = fmt.Errorf("%w (status %d)", err, resp.StatusCode)
		}
		c.logger.Error("Channel %s handshake failed: %v", c.id, err)
		c.post(ChannelEvent{Kind: ChannelFailed, Err: WrapError(ErrTransport, "handshake", err)})
		c.post(ChannelEvent{Kind: ChannelClosed})
		c.shutdown(false)
		return
	}

	c.mu.Lock()
	if c.state == channelDone {
		c.mu.Unlock()
		conn.Close()
		return
	}
	c.conn = conn
	c.state = channelOpen
	c.mu.Unlock()

	c.logger.Debug("Channel %s open", c.id)
	c.post(ChannelEvent{Kind: ChannelOpened})
	c.readPump(conn)
}

func (c *wsChannel) readPump(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if c.isClosed() {
				return
			}
			c.markDone()
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				c.logger.Info("Channel %s closed by peer: %v", c.id, err)
			} else {
				c.logger.Error("Channel %s read failed: %v", c.id, err)
				c.post(ChannelEvent{Kind: ChannelFailed, Err: WrapError(ErrTransport, "read", err)})
			}
			c.post(ChannelEvent{Kind: ChannelClosed})
			c.shutdown(false)
			return
		}

		c.logger.Debug("%s", FormatFrameLog("RECV", data))
		msg, err := DecodeMessage(data)
		if err != nil {
			c.logger.Error("Channel %s dropped frame: %v", c.id, err)
			c.post(ChannelEvent{Kind: ChannelMalformed, Err: err})
			continue
		}
		c.post(ChannelEvent{Kind: ChannelMessage, Message: msg})
	}
}

// markDone stops further writes while the remaining events are delivered
func (c *wsChannel) markDone() {
	c.mu.Lock()
	c.state = channelDone
	c.mu.Unlock()
}

func (c *wsChannel) Send(cmd Command) error {
	data, err := EncodeCommand(cmd)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != channelOpen {
		c.logger.Debug("Channel %s not open, dropping %s", c.id, cmd.Type())
		return nil
	}

	c.logger.Debug("%s", FormatFrameLog("SEND", data))
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return WrapError(ErrTransport, "set write deadline", err)
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return WrapError(ErrTransport, "write "+cmd.Type(), err)
	}
	return nil
}

func (c *wsChannel) Close() error {
	return c.shutdown(true)
}

// shutdown releases the channel. A close frame is sent only when the owner
// closes an open channel.
func (c *wsChannel) shutdown(graceful bool) error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		conn, wasOpen := c.conn, c.state == channelOpen
		c.state = channelDone
		c.mu.Unlock()

		close(c.closed)
		c.cancel()

		if conn == nil {
			return
		}
		if graceful && wasOpen {
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.writeTimeout))
		}
		err = conn.Close()
		c.logger.Debug("Channel %s closed", c.id)
	})
	return err
}
