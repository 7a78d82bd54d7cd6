// Package relay implements the streaming transcription client protocol
// against the provider-facing relay: JSON control frames, binary audio
// frames, an explicit ready handshake and an ordered finalize-and-drain
// shutdown.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"livescribe/internal/domain"
	"livescribe/internal/ports"
)

// State is the connection lifecycle state.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateReady        State = "ready"
	StateStreaming    State = "streaming"
	StateFinalizing   State = "finalizing"
	StateClosed       State = "closed"
	StateErrored      State = "errored"
)

// ErrTranscriptionLost signals that the provider exhausted its upstream
// retries; transcription for the remainder of the session is gone.
var ErrTranscriptionLost = errors.New("provider exhausted retries, transcription lost")

// ErrStopped is returned for chunks offered after finalize has begun.
var ErrStopped = errors.New("stream is stopping, chunk dropped")

// Config controls relay connection settings.
type Config struct {
	URL              string
	Token            string
	ReadyTimeout     time.Duration
	ClosedAckTimeout time.Duration

	// OnDegraded receives non-fatal provider error notices; the session
	// keeps running and the affected window's transcript is simply absent.
	OnDegraded func(detail string)

	Logger *slog.Logger
}

// Dialer opens relay sessions.
type Dialer struct {
	cfg Config
}

func NewDialer(cfg Config) *Dialer {
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = 10 * time.Second
	}
	if cfg.ClosedAckTimeout <= 0 {
		cfg.ClosedAckTimeout = 2 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Dialer{cfg: cfg}
}

// Dial opens the connection and blocks until the application-level ready
// message arrives. The caller must have its audio pipeline fully wired
// before calling Dial: the provider closes idle connections after roughly
// ten seconds, so the first chunk has to follow ready within milliseconds.
func (d *Dialer) Dial(ctx context.Context, meetingID string) (ports.StreamSession, error) {
	if strings.TrimSpace(d.cfg.Token) == "" {
		return nil, errors.New("relay token is not configured")
	}

	wsURL, err := buildStreamURL(d.cfg, meetingID)
	if err != nil {
		return nil, err
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to relay: %w", err)
	}

	s := &session{
		conn:      conn,
		cfg:       d.cfg,
		state:     StateConnecting,
		fragments: make(chan domain.TranscriptFragment, 64),
		ready:     make(chan struct{}),
		closedAck: make(chan struct{}),
		done:      make(chan struct{}),
	}
	go s.readLoop()

	select {
	case <-s.ready:
	case <-s.done:
		_ = s.Close()
		if err := s.Err(); err != nil {
			return nil, fmt.Errorf("connection lost before ready: %w", err)
		}
		return nil, errors.New("connection closed before ready")
	case <-time.After(d.cfg.ReadyTimeout):
		s.setErr(errors.New("timed out waiting for ready"))
		_ = s.Close()
		return nil, s.Err()
	case <-ctx.Done():
		_ = s.Close()
		return nil, ctx.Err()
	}

	s.setState(StateStreaming)
	return s, nil
}

type session struct {
	conn *websocket.Conn
	cfg  Config

	fragments chan domain.TranscriptFragment
	ready     chan struct{}
	closedAck chan struct{}
	done      chan struct{}

	readyOnce sync.Once
	ackOnce   sync.Once
	closeOnce sync.Once

	stopped          atomic.Bool
	droppedFragments atomic.Uint64

	writeMu sync.Mutex

	mu    sync.Mutex
	state State
	err   error
}

// Send forwards one encoded chunk as a binary frame. Chunks offered after
// finalize has begun are dropped rather than queued.
func (s *session) Send(chunk []byte) error {
	if len(chunk) == 0 {
		return nil
	}
	if s.stopped.Load() {
		return ErrStopped
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
		return fmt.Errorf("failed to send audio: %w", err)
	}
	return nil
}

// Finalize runs the ordered shutdown handshake. The caller sends the
// drained final chunk before calling Finalize; from here on no audio
// leaves the client. The closed acknowledgement wait is bounded so a
// non-responsive provider cannot hang the session.
func (s *session) Finalize(ctx context.Context) error {
	s.stopped.Store(true)
	s.setState(StateFinalizing)

	s.writeMu.Lock()
	err := s.conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"CloseStream"}`))
	s.writeMu.Unlock()

	if err == nil {
		select {
		case <-s.closedAck:
		case <-s.done:
		case <-time.After(s.cfg.ClosedAckTimeout):
		case <-ctx.Done():
		}
	}

	return s.Close()
}

func (s *session) Fragments() <-chan domain.TranscriptFragment {
	return s.fragments
}

// Close hard-closes the connection. Safe at any point, including while a
// connect handshake is still in flight.
func (s *session) Close() error {
	s.closeOnce.Do(func() {
		s.stopped.Store(true)
		_ = s.conn.Close()
	})
	<-s.done

	s.mu.Lock()
	if s.err == nil {
		s.state = StateClosed
	} else {
		s.state = StateErrored
	}
	s.mu.Unlock()
	return s.Err()
}

func (s *session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// State reports the current lifecycle state.
func (s *session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *session) setState(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
}

func (s *session) setErr(err error) {
	if err == nil {
		return
	}
	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
	) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

func (s *session) readLoop() {
	defer func() {
		close(s.done)
		close(s.fragments)
	}()

	for {
		_, payload, err := s.conn.ReadMessage()
		if err != nil {
			// Expected once finalize or close has begun; anything else is
			// a transport failure.
			if !s.stopped.Load() {
				s.setErr(fmt.Errorf("failed to read provider message: %w", err))
			}
			return
		}

		var msg serverMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			continue
		}

		switch strings.ToLower(msg.Type) {
		case "ready":
			s.readyOnce.Do(func() {
				s.setState(StateReady)
				close(s.ready)
			})

		case "transcript":
			s.emit(domain.TranscriptFragment{
				Speaker:     msg.Speaker,
				Text:        msg.Transcript,
				IsFinal:     msg.IsFinal,
				SpeechFinal: msg.SpeechFinal,
			})

		case "reconnecting":
			// The relay reconnects its own upstream vendor call; nothing
			// to do on this side.

		case "error":
			detail := strings.TrimSpace(msg.Message)
			if detail == "" {
				detail = "provider reported an unknown error"
			}
			if s.cfg.OnDegraded != nil {
				s.cfg.OnDegraded(detail)
			}

		case "closed":
			if msg.Reason == "max_retries" {
				s.setErr(ErrTranscriptionLost)
			}
			s.ackOnce.Do(func() { close(s.closedAck) })
		}
	}
}

// emit is send-or-drop: the fragment channel is bounded and a slow
// consumer loses fragments rather than stalling the read loop.
func (s *session) emit(fragment domain.TranscriptFragment) {
	select {
	case s.fragments <- fragment:
	case <-s.done:
	default:
		s.droppedFragments.Add(1)
		s.cfg.Logger.Debug("dropped transcript fragment, consumer too slow",
			"is_final", fragment.IsFinal, "dropped_total", s.droppedFragments.Load())
	}
}

type serverMessage struct {
	Type        string `json:"type"`
	Message     string `json:"message,omitempty"`
	Transcript  string `json:"transcript,omitempty"`
	Speaker     *int   `json:"speaker,omitempty"`
	IsFinal     bool   `json:"is_final,omitempty"`
	SpeechFinal bool   `json:"speech_final,omitempty"`
	Attempt     int    `json:"attempt,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

func buildStreamURL(cfg Config, meetingID string) (string, error) {
	base := strings.TrimSpace(cfg.URL)
	if base == "" {
		return "", errors.New("relay URL is not configured")
	}

	if strings.HasPrefix(base, "https://") {
		base = "wss://" + strings.TrimPrefix(base, "https://")
	} else if strings.HasPrefix(base, "http://") {
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}

	streamURL, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid relay URL: %w", err)
	}

	query := streamURL.Query()
	query.Set("meeting_id", meetingID)
	query.Set("token", cfg.Token)
	streamURL.RawQuery = query.Encode()
	return streamURL.String(), nil
}
