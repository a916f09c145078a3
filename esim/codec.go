package esim

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Command is an outbound frame. The set of commands is closed.
type Command interface {
	// Type returns the wire type of the command
	Type() string
	isCommand()
}

// StartCommand begins a download
type StartCommand struct {
	SMDP             string
	ActivationCode   string
	ConfirmationCode string
}

// ConfirmCommand answers a profile preview
type ConfirmCommand struct {
	Accept bool
}

// CancelCommand aborts the running download
type CancelCommand struct{}

// ConfirmationCodeCommand supplies the code requested by the server
type ConfirmationCodeCommand struct {
	Code string
}

func (StartCommand) Type() string            { return TypeStart }
func (ConfirmCommand) Type() string          { return TypeConfirm }
func (CancelCommand) Type() string           { return TypeCancel }
func (ConfirmationCodeCommand) Type() string { return TypeConfirmationCode }

func (StartCommand) isCommand()            {}
func (ConfirmCommand) isCommand()          {}
func (CancelCommand) isCommand()           {}
func (ConfirmationCodeCommand) isCommand() {}

type startFrame struct {
	Type             string `json:"type"`
	SMDP             string `json:"smdp"`
	ActivationCode   string `json:"activationCode"`
	ConfirmationCode string `json:"confirmationCode"`
}

type confirmFrame struct {
	Type   string `json:"type"`
	Accept bool   `json:"accept"`
}

type codeFrame struct {
	Type string `json:"type"`
	Code string `json:"code"`
}

type typeFrame struct {
	Type string `json:"type"`
}

// EncodeCommand serializes a command to its JSON text frame. Text fields are
// trimmed. A start command always carries confirmationCode, empty when unknown.
func EncodeCommand(cmd Command) ([]byte, error) {
	switch c := cmd.(type) {
	case StartCommand:
		return json.Marshal(startFrame{
			Type:             TypeStart,
			SMDP:             strings.TrimSpace(c.SMDP),
			ActivationCode:   strings.TrimSpace(c.ActivationCode),
			ConfirmationCode: strings.TrimSpace(c.ConfirmationCode),
		})
	case ConfirmCommand:
		return json.Marshal(confirmFrame{Type: TypeConfirm, Accept: c.Accept})
	case CancelCommand:
		return json.Marshal(typeFrame{Type: TypeCancel})
	case ConfirmationCodeCommand:
		code := strings.TrimSpace(c.Code)
		if code == "" {
			return nil, NewError(ErrInvalidCommand, "confirmation code is empty")
		}
		return json.Marshal(codeFrame{Type: TypeConfirmationCode, Code: code})
	default:
		return nil, NewError(ErrInvalidCommand, fmt.Sprintf("unsupported command %T", cmd))
	}
}

// Message is an inbound frame. The set of messages is closed.
type Message interface {
	// Type returns the wire type of the message
	Type() string
	isMessage()
}

// ProgressMessage reports a server protocol stage
type ProgressMessage struct {
	// ServerStage is the stage name as sent by the server
	ServerStage string
	// Stage is the mapped stage, StageNone when the name is unknown
	Stage Stage
}

// PreviewMessage offers a profile for acceptance
type PreviewMessage struct {
	Profile *Profile
}

// ConfirmationCodeRequiredMessage asks the user for a confirmation code
type ConfirmationCodeRequiredMessage struct{}

// CompletedMessage reports a successful installation
type CompletedMessage struct{}

// ErrorMessage reports a server-side failure
type ErrorMessage struct {
	Message string
}

// UnknownMessage carries a well-formed frame whose type is not recognized
type UnknownMessage struct {
	FrameType string
}

func (ProgressMessage) Type() string                 { return TypeProgress }
func (PreviewMessage) Type() string                  { return TypePreview }
func (ConfirmationCodeRequiredMessage) Type() string { return TypeConfirmationCodeRequired }
func (CompletedMessage) Type() string                { return TypeCompleted }
func (ErrorMessage) Type() string                    { return TypeError }
func (m UnknownMessage) Type() string                { return m.FrameType }

func (ProgressMessage) isMessage()                 {}
func (PreviewMessage) isMessage()                  {}
func (ConfirmationCodeRequiredMessage) isMessage() {}
func (CompletedMessage) isMessage()                {}
func (ErrorMessage) isMessage()                    {}
func (UnknownMessage) isMessage()                  {}

type inboundFrame struct {
	Type    string   `json:"type"`
	Stage   string   `json:"stage"`
	Profile *Profile `json:"profile"`
	Message string   `json:"message"`
}

// DecodeMessage parses a JSON text frame. Frames that are not a JSON object,
// lack a type, or carry fields of the wrong JSON type are reported as
// ErrMalformedFrame. Well-formed frames of an unknown type decode to
// UnknownMessage.
func DecodeMessage(data []byte) (Message, error) {
	var frame inboundFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, WrapError(ErrMalformedFrame, "decode frame", err)
	}
	if frame.Type == "" {
		return nil, NewError(ErrMalformedFrame, "frame has no type")
	}

	switch frame.Type {
	case TypeProgress:
		return ProgressMessage{ServerStage: frame.Stage, Stage: StageFromServer(frame.Stage)}, nil
	case TypePreview:
		return PreviewMessage{Profile: frame.Profile}, nil
	case TypeConfirmationCodeRequired:
		return ConfirmationCodeRequiredMessage{}, nil
	case TypeCompleted:
		return CompletedMessage{}, nil
	case TypeError:
		return ErrorMessage{Message: strings.TrimSpace(frame.Message)}, nil
	default:
		return UnknownMessage{FrameType: frame.Type}, nil
	}
}
