package interaction

// Reduce computes the next state for an action. It performs no side
// effects and ignores actions that are invalid for the current phase, so
// dispatching is always safe.
func Reduce(state State, action Action) State {
	switch action.Type {
	case ActionActivate:
		if state.Phase != PhaseIdle && state.Phase != PhaseResponse {
			return state
		}
		next := clearTransient(state)
		next.Phase = PhaseListening
		next.Mode = action.Mode
		return next

	case ActionBeginTranscribing:
		if state.Phase != PhaseListening {
			return state
		}
		if state.Mode != ModeDictation && state.Mode != ModeTranscribe {
			return state
		}
		state.Phase = PhaseTranscribing
		return state

	case ActionListeningComplete:
		if state.Phase != PhaseListening && state.Phase != PhaseTranscribing {
			return state
		}
		if state.Mode == ModeAssistant {
			state.Phase = PhaseThinking
			state.Transcript = action.Transcript
			return state
		}
		// Dictation and transcribe terminate at transcription; there is no
		// assistant round-trip.
		next := clearTransient(state)
		next.Phase = PhaseIdle
		return next

	case ActionAIComplete:
		if state.Phase != PhaseThinking {
			return state
		}
		state.Phase = PhaseResponse
		state.Title = action.Title
		state.Lines = append([]string(nil), action.Lines...)
		return state

	case ActionAIError:
		if state.Phase != PhaseThinking {
			return state
		}
		state.Phase = PhaseResponse
		state.Title = "Something went wrong"
		state.Lines = []string{action.Message}
		return state

	case ActionDismiss, ActionDeactivate:
		next := clearTransient(state)
		next.Phase = PhaseIdle
		return next

	case ActionMeetingUpdate:
		state.MeetingActive = action.MeetingActive
		state.MeetingID = action.MeetingID
		return state
	}

	return state
}

// clearTransient drops everything except the meeting fields, which are
// updated only by MeetingUpdate actions.
func clearTransient(state State) State {
	return State{
		MeetingActive: state.MeetingActive,
		MeetingID:     state.MeetingID,
	}
}
