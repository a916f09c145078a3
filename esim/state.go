package esim

// State is the top-level state of a download session.
type State string

const (
	StateIdle         State = "idle"
	StateConnecting   State = "connecting"
	StateProgress     State = "progress"
	StatePreview      State = "preview"
	StateConfirmation State = "confirmation"
	StateCompleted    State = "completed"
	StateError        State = "error"
)

// String returns the string representation of State
func (s State) String() string {
	return string(s)
}

// IsTerminal returns true once the session has completed or failed. Terminal
// states absorb every further inbound frame.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateError
}

// IsActive returns true while progress is being reported
func (s State) IsActive() bool {
	return s == StateConnecting || s == StateProgress
}

// Stage is a sub-phase of StateProgress.
type Stage string

const (
	StageNone         Stage = ""
	StageInitializing Stage = "initializing"
	StageConnecting   Stage = "connecting"
	StageInstalling   Stage = "installing"
)

var serverStages = map[string]Stage{
	ServerStageAuthenticatingClient: StageInitializing,
	ServerStageAuthenticatingServer: StageConnecting,
	ServerStageInstalling:           StageInstalling,
}

// StageFromServer maps a server stage name to a Stage. Names outside the
// known vocabulary map to StageNone.
func StageFromServer(name string) Stage {
	return serverStages[name]
}

// ErrorKind distinguishes why a session ended in StateError.
type ErrorKind string

const (
	ErrorNone         ErrorKind = "none"
	ErrorFailed       ErrorKind = "failed"
	ErrorDisconnected ErrorKind = "disconnected"
)

// Profile describes the profile offered by the SM-DP+ server for preview.
type Profile struct {
	ICCID               string `json:"iccid"`
	ServiceProviderName string `json:"serviceProviderName"`
	ProfileName         string `json:"profileName"`
	ProfileNickname     string `json:"profileNickname,omitempty"`
	ProfileState        string `json:"profileState"`
	Icon                string `json:"icon,omitempty"`
	RegionCode          string `json:"regionCode,omitempty"`
}

// Snapshot is an immutable copy of the observable session state.
type Snapshot struct {
	AttemptID    string
	State        State
	Stage        Stage
	Progress     int
	Profile      *Profile
	ErrorKind    ErrorKind
	ErrorMessage string
}

// DownloadedName returns the best display name of the previewed profile, or
// an empty string when no profile has been previewed.
func (s Snapshot) DownloadedName() string {
	if s.Profile == nil {
		return ""
	}
	switch {
	case s.Profile.ProfileName != "":
		return s.Profile.ProfileName
	case s.Profile.ServiceProviderName != "":
		return s.Profile.ServiceProviderName
	default:
		return s.Profile.ProfileNickname
	}
}

func (s Snapshot) equal(o Snapshot) bool {
	if s.AttemptID != o.AttemptID || s.State != o.State || s.Stage != o.Stage ||
		s.Progress != o.Progress || s.ErrorKind != o.ErrorKind || s.ErrorMessage != o.ErrorMessage {
		return false
	}
	if s.Profile == nil || o.Profile == nil {
		return s.Profile == o.Profile
	}
	return *s.Profile == *o.Profile
}

func idleSnapshot() Snapshot {
	return Snapshot{State: StateIdle, ErrorKind: ErrorNone}
}
