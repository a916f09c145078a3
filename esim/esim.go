// Package esim implements the client side of the sigmo eSIM profile download
// session.
//
// A download is an interactive exchange over one WebSocket per attempt: the
// client sends a start command, the server reports protocol stages, may ask
// the user to accept a profile preview or to enter a confirmation code, and
// finally reports completion or an error. The SM-DP+ negotiation itself runs
// on the server; this package drives the session, estimates progress for
// display and owns the lifetime of the channel.
//
// The package is designed as a library: a Session is created per modem and
// exposes its observable state through Snapshot and the Callbacks hooks.
package esim

// Outbound frame types
const (
	TypeStart            = "start"
	TypeConfirm          = "confirm"
	TypeCancel           = "cancel"
	TypeConfirmationCode = "confirmation_code"
)

// Inbound frame types
const (
	TypeProgress                 = "progress"
	TypePreview                  = "preview"
	TypeConfirmationCodeRequired = "confirmation_code_required"
	TypeCompleted                = "completed"
	TypeError                    = "error"
)

// Stage names used by the server in progress frames
const (
	ServerStageAuthenticatingClient = "Authenticating Client"
	ServerStageAuthenticatingServer = "Authenticating Server"
	ServerStageInstalling           = "Installing"
)

// UnknownTarget is the placeholder modem ID used before a modem is resolved.
// A download is never started against it.
const UnknownTarget = "unknown"

// DefaultAPIBase is the API location used when none is configured.
const DefaultAPIBase = "/api/v1"
