package session

// State is the dictation session lifecycle position.
type State int

const (
	StateIdle State = iota
	StateListening
	StateTranscribing
	StateInserted
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateTranscribing:
		return "transcribing"
	case StateInserted:
		return "inserted"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Status is a point-in-time snapshot of the controller for the control
// surface and health reporting.
type Status struct {
	State       string `json:"state"`
	SessionID   uint64 `json:"session_id,omitempty"`
	Model       string `json:"model"`
	Quality     string `json:"quality"`
	DecodeMode  string `json:"decode_mode"`
	FellBack    bool   `json:"decode_fell_back,omitempty"`
	LastMessage string `json:"last_message,omitempty"`
}
