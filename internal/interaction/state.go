// Package interaction models the activation overlay as a pure state
// machine: Reduce computes the next state, callers perform side effects in
// reaction to the transition.
package interaction

// Phase is the current overlay phase.
type Phase string

const (
	PhaseIdle         Phase = "idle"
	PhaseListening    Phase = "listening"
	PhaseThinking     Phase = "thinking"
	PhaseTranscribing Phase = "transcribing"
	PhaseResponse     Phase = "response"
)

// Mode selects which kind of listen session a capture activates.
type Mode string

const (
	ModeAssistant  Mode = "assistant"
	ModeDictation  Mode = "dictation"
	ModeContinuous Mode = "continuous"
	ModeTranscribe Mode = "transcribe"
)

// State is the full overlay state. MeetingActive and MeetingID are
// orthogonal to the phase: a meeting can be recording while the user
// dictates elsewhere. They survive every transition except MeetingUpdate.
type State struct {
	Phase      Phase
	Mode       Mode
	Transcript string
	Title      string
	Lines      []string

	MeetingActive bool
	MeetingID     string
}

// Idle returns the initial state.
func Idle() State {
	return State{Phase: PhaseIdle}
}

// ActionType enumerates reducer inputs.
type ActionType string

const (
	ActionActivate          ActionType = "activate"
	ActionBeginTranscribing ActionType = "begin_transcribing"
	ActionListeningComplete ActionType = "listening_complete"
	ActionAIComplete        ActionType = "ai_complete"
	ActionAIError           ActionType = "ai_error"
	ActionDismiss           ActionType = "dismiss"
	ActionDeactivate        ActionType = "deactivate"
	ActionMeetingUpdate     ActionType = "meeting_update"
)

// Action carries one reducer input. Only the fields relevant to its type
// are read.
type Action struct {
	Type       ActionType
	Mode       Mode
	Transcript string
	Title      string
	Lines      []string
	Message    string

	MeetingActive bool
	MeetingID     string
}

func Activate(mode Mode) Action {
	return Action{Type: ActionActivate, Mode: mode}
}

func BeginTranscribing() Action {
	return Action{Type: ActionBeginTranscribing}
}

func ListeningComplete(transcript string) Action {
	return Action{Type: ActionListeningComplete, Transcript: transcript}
}

func AIComplete(title string, lines []string) Action {
	return Action{Type: ActionAIComplete, Title: title, Lines: lines}
}

func AIError(message string) Action {
	return Action{Type: ActionAIError, Message: message}
}

func Dismiss() Action {
	return Action{Type: ActionDismiss}
}

func Deactivate() Action {
	return Action{Type: ActionDeactivate}
}

func MeetingUpdate(active bool, meetingID string) Action {
	return Action{Type: ActionMeetingUpdate, MeetingActive: active, MeetingID: meetingID}
}
