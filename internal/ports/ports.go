package ports

import (
	"context"
	"io"
	"time"

	"livescribe/internal/domain"
)

// AudioTrack is one live capture source producing s16le PCM. A track is
// owned by exactly one consumer and is replaced, never reused, on device
// loss.
type AudioTrack interface {
	io.Reader
	Kind() domain.SourceKind
	// Live reports whether the underlying device is still delivering audio.
	// Some platforms hand back an already-dead track instead of an error;
	// callers must check this right after acquisition.
	Live() bool
	Stop() error
}

// MicrophoneCapture acquires the local microphone. Acquisition failure is
// fatal to session start.
type MicrophoneCapture interface {
	Acquire(ctx context.Context) (AudioTrack, error)
}

// SystemAudioCapture acquires loopback/system audio within a bounded
// timeout. Failure is non-fatal; callers fall back to microphone-only.
type SystemAudioCapture interface {
	Acquire(ctx context.Context, timeout time.Duration) (AudioTrack, error)
}

// StreamSession is one live relay connection. It is exclusively owned by a
// single recording or listen session.
type StreamSession interface {
	// Send forwards one encoded chunk as a binary frame. Chunks offered
	// after finalize has begun are dropped, not queued.
	Send(chunk []byte) error
	// Finalize runs the ordered shutdown handshake: end-of-stream control
	// message, bounded wait for the provider's closed acknowledgement, then
	// connection teardown. It never blocks past its timeout.
	Finalize(ctx context.Context) error
	// Fragments delivers transcript fragments in arrival order. The channel
	// closes once the connection is finished.
	Fragments() <-chan domain.TranscriptFragment
	// Close hard-closes the connection; safe to call at any point,
	// including mid-handshake.
	Close() error
	// Err returns the first fatal session error, if any.
	Err() error
}

// StreamDialer opens relay connections. Dial returns only after the
// application-level ready handshake completes.
type StreamDialer interface {
	Dial(ctx context.Context, meetingID string) (StreamSession, error)
}

// FallbackCapture is the out-of-band system-audio capture capability used
// when direct loopback acquisition fails. Start reports whether the
// capability is available and was invoked.
type FallbackCapture interface {
	Start(ctx context.Context, meetingID string) bool
	Stop(ctx context.Context) (string, error)
}

// TranscriptStore persists a finished transcript. Both calls are opaque
// fire-at-session-end RPCs.
type TranscriptStore interface {
	Upload(ctx context.Context, meetingID string, transcript string) error
	TriggerProcessing(ctx context.Context, meetingID string) error
}

// TextInjector types dictated text into the focused application.
type TextInjector interface {
	Inject(ctx context.Context, text string) error
}

// Assistant answers a spoken query with a titled response.
type Assistant interface {
	Ask(ctx context.Context, query string) (domain.AssistantReply, error)
}

// RulesEngine transforms transcripts using deterministic rules.
type RulesEngine interface {
	Apply(text string) (string, error)
}

// EventSink emits backend state/events to the UI surface.
type EventSink interface {
	SessionStateChanged(state domain.SessionState, reason domain.SessionStateReason)
	InterimTranscript(text string)
	TranscriptLine(line domain.TranscriptLine)
	SessionError(code domain.ErrorCode, detail string)
}
