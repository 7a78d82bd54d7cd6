package domain

import (
	"fmt"
	"time"
)

// SourceKind identifies which capture path produced an audio track.
type SourceKind string

const (
	SourceSystem     SourceKind = "system"
	SourceMicrophone SourceKind = "microphone"
)

// SessionState models the meeting recording lifecycle.
type SessionState string

const (
	SessionStateIdle      SessionState = "idle"
	SessionStateStarting  SessionState = "starting"
	SessionStateRecording SessionState = "recording"
	SessionStateStopping  SessionState = "stopping"
	SessionStateError     SessionState = "error"
)

// SessionStateReason provides a structured reason for state transitions.
type SessionStateReason string

const (
	SessionReasonRecordingStarted SessionStateReason = "recording_started"
	SessionReasonMicOnlyFallback  SessionStateReason = "mic_only_fallback"
	SessionReasonMicRecovered     SessionStateReason = "mic_recovered"
	SessionReasonFinalizing       SessionStateReason = "finalizing"
	SessionReasonTranscriptReady  SessionStateReason = "transcript_ready"
	SessionReasonRecordingFailed  SessionStateReason = "recording_failed"
	SessionReasonStartFailed      SessionStateReason = "start_failed"
)

// ErrorCode identifies non-fatal and fatal backend errors.
type ErrorCode string

const (
	ErrorCodeStartup       ErrorCode = "startup"
	ErrorCodeSystemAudio   ErrorCode = "system_audio"
	ErrorCodeDeviceLost    ErrorCode = "device_lost"
	ErrorCodeConnection    ErrorCode = "connection"
	ErrorCodeTranscription ErrorCode = "transcription"
	ErrorCodeRules         ErrorCode = "rules"
	ErrorCodeAssistant     ErrorCode = "assistant"
	ErrorCodeInject        ErrorCode = "inject"
	ErrorCodeStore         ErrorCode = "store"
)

// TranscriptFragment is one diarized transcript segment from the provider.
// Speaker is nil when the provider did not attach a speaker id.
type TranscriptFragment struct {
	Speaker     *int   `json:"speaker,omitempty"`
	Text        string `json:"text"`
	IsFinal     bool   `json:"isFinal"`
	SpeechFinal bool   `json:"speechFinal"`
}

// TranscriptLine is a finalized, labeled transcript entry. Lines are
// immutable once produced and appended in arrival order.
type TranscriptLine struct {
	Label string `json:"label,omitempty"`
	Text  string `json:"text"`
}

// Line derives the labeled form of a final fragment. Speaker 0 is the local
// user; other speakers are numbered; fragments without a speaker id stay
// unlabeled.
func (f TranscriptFragment) Line() TranscriptLine {
	if f.Speaker == nil {
		return TranscriptLine{Text: f.Text}
	}
	if *f.Speaker == 0 {
		return TranscriptLine{Label: "You", Text: f.Text}
	}
	return TranscriptLine{Label: fmt.Sprintf("Speaker %d", *f.Speaker), Text: f.Text}
}

// String renders a line as it appears in the assembled transcript.
func (l TranscriptLine) String() string {
	if l.Label == "" {
		return l.Text
	}
	return l.Label + ": " + l.Text
}

// SessionStatus is the live recorder state exposed for display.
type SessionStatus struct {
	Recording  bool          `json:"recording"`
	MicOnly    bool          `json:"micOnly"`
	Elapsed    time.Duration `json:"elapsed"`
	ChunkCount uint64        `json:"chunkCount"`
}

// StopResult is returned once a meeting recording has been finalized.
type StopResult struct {
	MeetingID  string `json:"meetingId"`
	Transcript string `json:"transcript"`
}

// AssistantReply is the assistant's answer to a spoken query.
type AssistantReply struct {
	Title string   `json:"title"`
	Lines []string `json:"lines"`
}
