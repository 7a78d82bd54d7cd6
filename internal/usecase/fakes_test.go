package usecase

import (
	"context"
	"io"
	"sync"

	"livescribe/internal/domain"
	"livescribe/internal/ports"
)

// opLog records cross-object call ordering for teardown assertions.
type opLog struct {
	mu  sync.Mutex
	ops []string
}

func (l *opLog) add(op string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ops = append(l.ops, op)
}

func (l *opLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.ops...)
}

type fakeGraph struct {
	log      *opLog
	micOnly  bool
	startErr error

	mu      sync.Mutex
	started bool
	stops   int
}

func (g *fakeGraph) Start(_ context.Context, _ bool) (bool, error) {
	if g.startErr != nil {
		return false, g.startErr
	}
	g.mu.Lock()
	g.started = true
	g.mu.Unlock()
	return g.micOnly, nil
}

func (g *fakeGraph) Read(_ []byte) (int, error) { return 0, nil }

func (g *fakeGraph) Stop() {
	g.mu.Lock()
	g.stops++
	g.mu.Unlock()
	if g.log != nil {
		g.log.add("graph.stop")
	}
}

func (g *fakeGraph) stopCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stops
}

type fakeEncoder struct {
	log   *opLog
	final []byte

	mu      sync.Mutex
	started bool
	stopped bool
}

func (e *fakeEncoder) Start() {
	e.mu.Lock()
	e.started = true
	e.mu.Unlock()
}

func (e *fakeEncoder) Stop() []byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return nil
	}
	e.stopped = true
	if e.log != nil {
		e.log.add("encoder.stop")
	}
	return e.final
}

func (e *fakeEncoder) Codec() string { return "linear16" }

type fakeStream struct {
	log     *opLog
	sendErr error
	fatal   error

	fragments chan domain.TranscriptFragment

	mu        sync.Mutex
	sent      [][]byte
	finalized bool
	closed    bool
}

func newFakeStream(log *opLog) *fakeStream {
	return &fakeStream{log: log, fragments: make(chan domain.TranscriptFragment, 16)}
}

func (s *fakeStream) Send(chunk []byte) error {
	if s.sendErr != nil {
		return s.sendErr
	}
	s.mu.Lock()
	s.sent = append(s.sent, append([]byte(nil), chunk...))
	s.mu.Unlock()
	if s.log != nil {
		s.log.add("stream.send")
	}
	return nil
}

func (s *fakeStream) Finalize(_ context.Context) error {
	s.mu.Lock()
	s.finalized = true
	s.mu.Unlock()
	if s.log != nil {
		s.log.add("stream.finalize")
	}
	s.closeFragments()
	return nil
}

func (s *fakeStream) Fragments() <-chan domain.TranscriptFragment { return s.fragments }

func (s *fakeStream) Close() error {
	s.closeFragments()
	return nil
}

func (s *fakeStream) Err() error { return s.fatal }

func (s *fakeStream) emit(fragment domain.TranscriptFragment) {
	s.fragments <- fragment
}

func (s *fakeStream) closeFragments() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.fragments)
	}
}

func (s *fakeStream) sentChunks() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.sent...)
}

type fakeDialer struct {
	stream  *fakeStream
	dialErr error

	mu    sync.Mutex
	dials int
}

func (d *fakeDialer) Dial(_ context.Context, _ string) (ports.StreamSession, error) {
	d.mu.Lock()
	d.dials++
	d.mu.Unlock()
	if d.dialErr != nil {
		return nil, d.dialErr
	}
	return d.stream, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

type stateChange struct {
	state  domain.SessionState
	reason domain.SessionStateReason
}

type fakeSink struct {
	mu       sync.Mutex
	states   []stateChange
	errors   []domain.ErrorCode
	interims []string
	lines    []domain.TranscriptLine
}

func (s *fakeSink) SessionStateChanged(state domain.SessionState, reason domain.SessionStateReason) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states = append(s.states, stateChange{state: state, reason: reason})
}

func (s *fakeSink) InterimTranscript(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interims = append(s.interims, text)
}

func (s *fakeSink) TranscriptLine(line domain.TranscriptLine) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = append(s.lines, line)
}

func (s *fakeSink) SessionError(code domain.ErrorCode, _ string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors = append(s.errors, code)
}

func (s *fakeSink) lastState() (stateChange, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.states) == 0 {
		return stateChange{}, false
	}
	return s.states[len(s.states)-1], true
}

func (s *fakeSink) errorCodes() []domain.ErrorCode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.ErrorCode(nil), s.errors...)
}

type fakeFallback struct {
	available  bool
	transcript string
	stopErr    error

	mu       sync.Mutex
	started  bool
	stopped  bool
	meetings []string
}

func (f *fakeFallback) Start(_ context.Context, meetingID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.meetings = append(f.meetings, meetingID)
	f.started = f.available
	return f.available
}

func (f *fakeFallback) Stop(_ context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
	return f.transcript, f.stopErr
}

type fakeStore struct {
	uploadErr error

	mu        sync.Mutex
	uploads   []string
	processed []string
}

func (s *fakeStore) Upload(_ context.Context, meetingID, transcript string) error {
	if s.uploadErr != nil {
		return s.uploadErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uploads = append(s.uploads, transcript)
	_ = meetingID
	return nil
}

func (s *fakeStore) TriggerProcessing(_ context.Context, meetingID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processed = append(s.processed, meetingID)
	return nil
}

func speaker(n int) *int { return &n }

func newTestEncoderFactory(enc *fakeEncoder, emit *func(chunk []byte)) EncoderFactory {
	return func(_ io.Reader, fn func(chunk []byte)) ChunkEncoder {
		if emit != nil {
			*emit = fn
		}
		return enc
	}
}
