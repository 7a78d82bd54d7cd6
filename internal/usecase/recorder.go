package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"livescribe/internal/domain"
	"livescribe/internal/metrics"
	"livescribe/internal/ports"
)

var ErrNoActiveSession = errors.New("no active recording session")

// AudioGraph is the capture source feeding the encoder: started once per
// session, read without blocking, stopped exactly once.
type AudioGraph interface {
	Start(ctx context.Context, wantSystemAudio bool) (micOnly bool, err error)
	Read(p []byte) (int, error)
	Stop()
}

// ChunkEncoder drives the chunk cadence. Stop drains and returns the final
// chunk so the caller can deliver it before closing the stream.
type ChunkEncoder interface {
	Start()
	Stop() []byte
	Codec() string
}

// GraphFactory builds a fresh audio graph; nothing is reused across
// sessions.
type GraphFactory func() AudioGraph

// EncoderFactory builds an encoder over a source, delivering chunks to
// emit.
type EncoderFactory func(source io.Reader, emit func(chunk []byte)) ChunkEncoder

// Recorder orchestrates one meeting recording at a time: audio graph,
// chunked encoding, the relay stream and transcript assembly.
type Recorder struct {
	newGraph   GraphFactory
	dialer     ports.StreamDialer
	newEncoder EncoderFactory
	fallback   ports.FallbackCapture
	store      ports.TranscriptStore
	events     ports.EventSink
	metrics    *metrics.Metrics
	logger     *slog.Logger

	opMu sync.Mutex

	mu      sync.Mutex
	current *recordingSession
}

type recordingSession struct {
	meetingID string
	graph     AudioGraph
	stream    ports.StreamSession
	encoder   ChunkEncoder
	assembler *transcriptAssembler

	startedAt       time.Time
	micOnly         bool
	fallbackStarted bool

	chunkCount atomic.Uint64
	stopping   atomic.Bool

	fragmentsDone chan struct{}
}

func NewRecorder(
	newGraph GraphFactory,
	dialer ports.StreamDialer,
	newEncoder EncoderFactory,
	fallback ports.FallbackCapture,
	store ports.TranscriptStore,
	events ports.EventSink,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		newGraph:   newGraph,
		dialer:     dialer,
		newEncoder: newEncoder,
		fallback:   fallback,
		store:      store,
		events:     events,
		metrics:    m,
		logger:     logger,
	}
}

// Start begins recording the given meeting. Calling Start while a session
// is already active is a no-op that reports the active session's mic-only
// flag. The audio pipeline is fully wired before the relay connect so the
// first chunk can follow the ready handshake immediately.
func (r *Recorder) Start(ctx context.Context, meetingID string) (micOnly bool, err error) {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	if active := r.getCurrent(); active != nil {
		return active.micOnly, nil
	}

	session := &recordingSession{
		meetingID:     meetingID,
		graph:         r.newGraph(),
		assembler:     newTranscriptAssembler(),
		fragmentsDone: make(chan struct{}),
	}

	micOnly, err = session.graph.Start(ctx, true)
	if err != nil {
		r.metrics.RecordSessionFailed()
		r.events.SessionError(domain.ErrorCodeStartup, fmt.Sprintf("failed to start audio capture: %v", err))
		return false, err
	}
	session.micOnly = micOnly

	if micOnly && r.fallback != nil {
		session.fallbackStarted = r.fallback.Start(ctx, meetingID)
		r.logger.Info("system audio unavailable, recording microphone only",
			"meeting_id", meetingID, "fallback_capture", session.fallbackStarted)
	}

	session.stream, err = r.dialer.Dial(ctx, meetingID)
	if err != nil {
		session.graph.Stop()
		if session.fallbackStarted {
			if _, stopErr := r.fallback.Stop(ctx); stopErr != nil {
				r.logger.Warn("failed to stop fallback capture during rollback", "error", stopErr)
			}
		}
		r.metrics.RecordSessionFailed()
		r.events.SessionError(domain.ErrorCodeConnection, fmt.Sprintf("failed to open transcription stream: %v", err))
		return false, err
	}

	session.encoder = r.newEncoder(session.graph, func(chunk []byte) {
		if sendErr := session.stream.Send(chunk); sendErr != nil {
			r.metrics.RecordChunkDropped()
			r.logger.Debug("dropped audio chunk", "error", sendErr)
			return
		}
		session.chunkCount.Add(1)
		r.metrics.RecordChunkSent()
	})

	go r.consumeFragments(session)
	session.encoder.Start()
	session.startedAt = time.Now()

	r.mu.Lock()
	r.current = session
	r.mu.Unlock()

	r.metrics.RecordSessionStarted()
	reason := domain.SessionReasonRecordingStarted
	if micOnly {
		reason = domain.SessionReasonMicOnlyFallback
	}
	r.events.SessionStateChanged(domain.SessionStateRecording, reason)
	r.logger.Info("recording started",
		"meeting_id", meetingID, "mic_only", micOnly, "codec", session.encoder.Codec())
	return micOnly, nil
}

// Stop finalizes the active session and returns the assembled transcript.
// Resource release is unconditional: every acquired handle is torn down
// even when a finalize step fails, and the transcript is best effort.
func (r *Recorder) Stop(ctx context.Context) (domain.StopResult, error) {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	session := r.getCurrent()
	if session == nil {
		return domain.StopResult{}, ErrNoActiveSession
	}

	session.stopping.Store(true)
	r.events.SessionStateChanged(domain.SessionStateStopping, domain.SessionReasonFinalizing)

	// Ordering here is load bearing: stop the cadence, push the drained
	// tail, then run the end-of-stream handshake. Audio after the final
	// chunk would be transcribed into nothing.
	final := session.encoder.Stop()
	session.graph.Stop()

	if len(final) > 0 {
		if err := session.stream.Send(final); err == nil {
			session.chunkCount.Add(1)
			r.metrics.RecordChunkSent()
		} else {
			r.metrics.RecordChunkDropped()
		}
	}

	if err := session.stream.Finalize(ctx); err != nil {
		r.logger.Warn("stream finalize reported an error", "error", err)
	}
	<-session.fragmentsDone
	_ = session.stream.Close()

	if session.fallbackStarted {
		text, err := r.fallback.Stop(ctx)
		if err != nil {
			r.events.SessionError(domain.ErrorCodeSystemAudio,
				fmt.Sprintf("fallback capture did not return a transcript: %v", err))
		} else {
			session.assembler.AppendPrelabeled(text)
		}
	}

	transcript := session.assembler.Transcript()

	r.mu.Lock()
	if r.current == session {
		r.current = nil
	}
	r.mu.Unlock()
	r.metrics.RecordSessionFinished(time.Since(session.startedAt).Seconds())

	r.persist(ctx, session.meetingID, transcript)

	r.events.SessionStateChanged(domain.SessionStateIdle, domain.SessionReasonTranscriptReady)
	r.logger.Info("recording stopped",
		"meeting_id", session.meetingID,
		"chunks", session.chunkCount.Load(),
		"lines", len(session.assembler.Lines()))

	return domain.StopResult{MeetingID: session.meetingID, Transcript: transcript}, nil
}

// Status reports the live session state for display.
func (r *Recorder) Status() domain.SessionStatus {
	session := r.getCurrent()
	if session == nil {
		return domain.SessionStatus{}
	}
	return domain.SessionStatus{
		Recording:  true,
		MicOnly:    session.micOnly,
		Elapsed:    time.Since(session.startedAt),
		ChunkCount: session.chunkCount.Load(),
	}
}

func (r *Recorder) getCurrent() *recordingSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

func (r *Recorder) consumeFragments(session *recordingSession) {
	defer close(session.fragmentsDone)

	for fragment := range session.stream.Fragments() {
		if fragment.Text == "" {
			continue
		}
		r.metrics.RecordFragment(fragment.IsFinal)
		if !fragment.IsFinal {
			r.events.InterimTranscript(fragment.Text)
			continue
		}
		line := fragment.Line()
		session.assembler.Add(line)
		r.events.TranscriptLine(line)
	}

	// The channel closing before Stop means the stream died underneath the
	// session. The recording is not torn down automatically; the caller
	// decides whether to stop and keep what was captured.
	if session.stopping.Load() {
		return
	}
	err := session.stream.Err()
	if err == nil {
		err = errors.New("transcription stream closed unexpectedly")
	}
	r.metrics.RecordSessionFailed()
	r.events.SessionError(domain.ErrorCodeTranscription, err.Error())
	r.events.SessionStateChanged(domain.SessionStateError, domain.SessionReasonRecordingFailed)
}

// persist uploads the finished transcript and kicks off server-side
// processing. Failures are reported but never fail Stop.
func (r *Recorder) persist(ctx context.Context, meetingID, transcript string) {
	if r.store == nil || transcript == "" {
		return
	}
	if err := r.store.Upload(ctx, meetingID, transcript); err != nil {
		r.events.SessionError(domain.ErrorCodeStore, fmt.Sprintf("transcript upload failed: %v", err))
		return
	}
	if err := r.store.TriggerProcessing(ctx, meetingID); err != nil {
		r.events.SessionError(domain.ErrorCodeStore, fmt.Sprintf("transcript processing trigger failed: %v", err))
	}
}
