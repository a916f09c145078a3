package esim

import (
	"time"
)

// Callbacks provides hooks for session events.
// All callbacks run on the session goroutine and must not call back into the
// Session synchronously.
type Callbacks struct {
	// OnChange is called after every change of the observable state
	OnChange func(snap Snapshot)

	// OnCompleted is called once per attempt when the server reports completion
	OnCompleted func()

	// OnError is called for errors that do not end the session by themselves,
	// such as malformed frames or failed writes
	OnError func(err error, context string)

	// OnEvent is called for channel-level events (for logging/debugging)
	OnEvent func(event Event)
}

// Event represents a channel-level event
type Event struct {
	Type      EventType
	AttemptID string
	Message   string
	Timestamp time.Time
}

// EventType categorizes events
type EventType int

const (
	EventChannelOpening EventType = iota
	EventChannelOpen
	EventChannelClosed
	EventFrameSent
	EventFrameReceived
	EventFrameDropped
	EventRampStarted
	EventRampStopped
)

func (t EventType) String() string {
	switch t {
	case EventChannelOpening:
		return "channel_opening"
	case EventChannelOpen:
		return "channel_open"
	case EventChannelClosed:
		return "channel_closed"
	case EventFrameSent:
		return "frame_sent"
	case EventFrameReceived:
		return "frame_received"
	case EventFrameDropped:
		return "frame_dropped"
	case EventRampStarted:
		return "ramp_started"
	case EventRampStopped:
		return "ramp_stopped"
	default:
		return "unknown"
	}
}

// defaultCallbacks returns callbacks that do nothing
func defaultCallbacks() *Callbacks {
	return &Callbacks{
		OnChange:    func(Snapshot) {},
		OnCompleted: func() {},
		OnError:     func(error, string) {},
		OnEvent:     func(Event) {},
	}
}

// mergeCallbacks merges user callbacks with defaults
func mergeCallbacks(user *Callbacks) *Callbacks {
	def := defaultCallbacks()
	if user == nil {
		return def
	}

	if user.OnChange != nil {
		def.OnChange = user.OnChange
	}
	if user.OnCompleted != nil {
		def.OnCompleted = user.OnCompleted
	}
	if user.OnError != nil {
		def.OnError = user.OnError
	}
	if user.OnEvent != nil {
		def.OnEvent = user.OnEvent
	}

	return def
}
