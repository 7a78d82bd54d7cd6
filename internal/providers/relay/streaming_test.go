package relay

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"livescribe/internal/domain"
)

func TestNewDialerDefaults(t *testing.T) {
	t.Parallel()

	d := NewDialer(Config{})
	if d.cfg.ReadyTimeout != 10*time.Second {
		t.Fatalf("unexpected ready timeout: %v", d.cfg.ReadyTimeout)
	}
	if d.cfg.ClosedAckTimeout != 2*time.Second {
		t.Fatalf("unexpected closed ack timeout: %v", d.cfg.ClosedAckTimeout)
	}
}

func TestDialRequiresToken(t *testing.T) {
	t.Parallel()

	d := NewDialer(Config{URL: "https://relay.example"})
	_, err := d.Dial(context.Background(), "m1")
	if err == nil {
		t.Fatalf("expected missing token error")
	}
}

func TestBuildStreamURL(t *testing.T) {
	t.Parallel()

	got, err := buildStreamURL(Config{URL: "https://relay.example/stream", Token: "tok"}, "m-42")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(got, "wss://relay.example/stream") {
		t.Fatalf("unexpected scheme conversion: %s", got)
	}
	if !strings.Contains(got, "meeting_id=m-42") {
		t.Fatalf("expected meeting id in url: %s", got)
	}
	if !strings.Contains(got, "token=tok") {
		t.Fatalf("expected token in url: %s", got)
	}
}

func TestBuildStreamURLPlainHTTP(t *testing.T) {
	t.Parallel()

	got, err := buildStreamURL(Config{URL: "http://localhost:9000/stream", Token: "tok"}, "m")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(got, "ws://localhost:9000/stream") {
		t.Fatalf("unexpected ws url: %s", got)
	}
}

func TestBuildStreamURLInvalidBase(t *testing.T) {
	t.Parallel()

	_, err := buildStreamURL(Config{URL: ":// bad", Token: "tok"}, "m")
	if err == nil {
		t.Fatalf("expected invalid url error")
	}
}

func TestSessionSendAfterFinalizeDropsChunk(t *testing.T) {
	t.Parallel()

	s := &session{done: make(chan struct{})}
	close(s.done)
	s.stopped.Store(true)
	if err := s.Send([]byte("x")); !errors.Is(err, ErrStopped) {
		t.Fatalf("expected stopped error, got %v", err)
	}
}

func TestSessionSendEmptyChunkIsNoop(t *testing.T) {
	t.Parallel()

	s := &session{}
	if err := s.Send(nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestSessionEmitCountsDropsWhenConsumerLags(t *testing.T) {
	t.Parallel()

	s := &session{
		cfg:       Config{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))},
		fragments: make(chan domain.TranscriptFragment, 1),
		done:      make(chan struct{}),
	}

	s.emit(domain.TranscriptFragment{Text: "kept"})
	s.emit(domain.TranscriptFragment{Text: "lost", IsFinal: true})

	if got := s.droppedFragments.Load(); got != 1 {
		t.Fatalf("expected one dropped fragment, got %d", got)
	}
	select {
	case fragment := <-s.fragments:
		if fragment.Text != "kept" {
			t.Fatalf("unexpected buffered fragment: %+v", fragment)
		}
	default:
		t.Fatalf("buffered fragment is missing")
	}
}

func TestSessionSetErrIgnoresCloseErrors(t *testing.T) {
	t.Parallel()

	s := &session{}
	s.setErr(&websocket.CloseError{Code: websocket.CloseNormalClosure, Text: "closed"})
	if s.Err() != nil {
		t.Fatalf("expected close error to be ignored")
	}

	s.setErr(errors.New("boom"))
	if s.Err() == nil || s.Err().Error() != "boom" {
		t.Fatalf("expected non-close error to be captured")
	}
}

func TestSessionSetErrFirstWins(t *testing.T) {
	t.Parallel()

	s := &session{}
	s.setErr(errors.New("first"))
	s.setErr(errors.New("second"))
	if s.Err() == nil || s.Err().Error() != "first" {
		t.Fatalf("expected first error to win")
	}
}

// relayServer is a scripted in-process relay endpoint.
type relayServer struct {
	t   *testing.T
	srv *httptest.Server

	mu    sync.Mutex
	conns []*websocket.Conn
}

func newRelayServer(t *testing.T, handle func(r *http.Request, conn *websocket.Conn)) *relayServer {
	t.Helper()

	rs := &relayServer{t: t}
	upgrader := websocket.Upgrader{}
	rs.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		rs.mu.Lock()
		rs.conns = append(rs.conns, conn)
		rs.mu.Unlock()
		handle(r, conn)
	}))
	t.Cleanup(func() {
		rs.mu.Lock()
		for _, c := range rs.conns {
			_ = c.Close()
		}
		rs.mu.Unlock()
		rs.srv.Close()
	})
	return rs
}

func (rs *relayServer) dialer(cfg Config) *Dialer {
	cfg.URL = rs.srv.URL
	if cfg.Token == "" {
		cfg.Token = "test-token"
	}
	return NewDialer(cfg)
}

func sendJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	payload, err := json.Marshal(v)
	if err != nil {
		t.Errorf("marshal failed: %v", err)
		return
	}
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		t.Errorf("write failed: %v", err)
	}
}

func TestDialWaitsForReady(t *testing.T) {
	t.Parallel()

	gotQuery := make(chan string, 1)
	rs := newRelayServer(t, func(r *http.Request, conn *websocket.Conn) {
		select {
		case gotQuery <- r.URL.RawQuery:
		default:
		}
		sendJSON(t, conn, map[string]any{"type": "ready"})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	sess, err := rs.dialer(Config{}).Dial(context.Background(), "m-1")
	if err != nil {
		t.Fatalf("unexpected dial error: %v", err)
	}
	defer sess.Close()

	query := <-gotQuery
	if !strings.Contains(query, "meeting_id=m-1") || !strings.Contains(query, "token=test-token") {
		t.Fatalf("unexpected query: %s", query)
	}
}

func TestDialReadyTimeout(t *testing.T) {
	t.Parallel()

	rs := newRelayServer(t, func(_ *http.Request, conn *websocket.Conn) {
		// Never send ready; hold the connection open.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	_, err := rs.dialer(Config{ReadyTimeout: 100 * time.Millisecond}).Dial(context.Background(), "m")
	if err == nil || !strings.Contains(err.Error(), "ready") {
		t.Fatalf("expected ready timeout error, got %v", err)
	}
}

func TestDialConnectionClosedBeforeReady(t *testing.T) {
	t.Parallel()

	rs := newRelayServer(t, func(_ *http.Request, conn *websocket.Conn) {
		_ = conn.Close()
	})

	_, err := rs.dialer(Config{ReadyTimeout: 2 * time.Second}).Dial(context.Background(), "m")
	if err == nil {
		t.Fatalf("expected dial failure on premature close")
	}
}

func TestSessionForwardsTranscriptFragments(t *testing.T) {
	t.Parallel()

	rs := newRelayServer(t, func(_ *http.Request, conn *websocket.Conn) {
		sendJSON(t, conn, map[string]any{"type": "ready"})
		sendJSON(t, conn, map[string]any{"type": "transcript", "transcript": "hel", "is_final": false})
		sendJSON(t, conn, map[string]any{
			"type": "transcript", "transcript": "hello", "speaker": 0,
			"is_final": true, "speech_final": true,
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	sess, err := rs.dialer(Config{}).Dial(context.Background(), "m")
	if err != nil {
		t.Fatalf("unexpected dial error: %v", err)
	}
	defer sess.Close()

	interim := recvFragment(t, sess.Fragments())
	if interim.IsFinal || interim.Text != "hel" {
		t.Fatalf("unexpected interim fragment: %+v", interim)
	}

	final := recvFragment(t, sess.Fragments())
	if !final.IsFinal || !final.SpeechFinal || final.Text != "hello" {
		t.Fatalf("unexpected final fragment: %+v", final)
	}
	if final.Speaker == nil || *final.Speaker != 0 {
		t.Fatalf("expected speaker 0, got %+v", final.Speaker)
	}
}

func TestSessionReportsDegradedProvider(t *testing.T) {
	t.Parallel()

	rs := newRelayServer(t, func(_ *http.Request, conn *websocket.Conn) {
		sendJSON(t, conn, map[string]any{"type": "ready"})
		sendJSON(t, conn, map[string]any{"type": "error", "message": "vendor hiccup"})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	degraded := make(chan string, 1)
	sess, err := rs.dialer(Config{OnDegraded: func(detail string) { degraded <- detail }}).
		Dial(context.Background(), "m")
	if err != nil {
		t.Fatalf("unexpected dial error: %v", err)
	}
	defer sess.Close()

	select {
	case detail := <-degraded:
		if detail != "vendor hiccup" {
			t.Fatalf("unexpected detail: %q", detail)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for degraded notice")
	}
	if sess.Err() != nil {
		t.Fatalf("provider error must not be fatal: %v", sess.Err())
	}
}

func TestSessionMaxRetriesIsFatal(t *testing.T) {
	t.Parallel()

	rs := newRelayServer(t, func(_ *http.Request, conn *websocket.Conn) {
		sendJSON(t, conn, map[string]any{"type": "ready"})
		sendJSON(t, conn, map[string]any{"type": "closed", "reason": "max_retries"})
		_ = conn.Close()
	})

	sess, err := rs.dialer(Config{}).Dial(context.Background(), "m")
	if err != nil {
		t.Fatalf("unexpected dial error: %v", err)
	}

	_ = sess.Close()
	if !errors.Is(sess.Err(), ErrTranscriptionLost) {
		t.Fatalf("expected transcription lost, got %v", sess.Err())
	}
}

func TestSessionFinalizeHandshake(t *testing.T) {
	t.Parallel()

	sawCloseStream := make(chan struct{})
	rs := newRelayServer(t, func(_ *http.Request, conn *websocket.Conn) {
		sendJSON(t, conn, map[string]any{"type": "ready"})
		for {
			kind, payload, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if kind == websocket.TextMessage && strings.Contains(string(payload), "CloseStream") {
				close(sawCloseStream)
				sendJSON(t, conn, map[string]any{"type": "closed"})
			}
		}
	})

	sess, err := rs.dialer(Config{}).Dial(context.Background(), "m")
	if err != nil {
		t.Fatalf("unexpected dial error: %v", err)
	}

	if err := sess.Send([]byte{1, 2, 3}); err != nil {
		t.Fatalf("unexpected send error: %v", err)
	}
	if err := sess.Finalize(context.Background()); err != nil {
		t.Fatalf("unexpected finalize error: %v", err)
	}

	select {
	case <-sawCloseStream:
	case <-time.After(2 * time.Second):
		t.Fatalf("server never saw CloseStream")
	}
}

func TestSessionFinalizeProceedsWithoutAck(t *testing.T) {
	t.Parallel()

	rs := newRelayServer(t, func(_ *http.Request, conn *websocket.Conn) {
		sendJSON(t, conn, map[string]any{"type": "ready"})
		// Swallow everything and never acknowledge.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	sess, err := rs.dialer(Config{ClosedAckTimeout: 100 * time.Millisecond}).
		Dial(context.Background(), "m")
	if err != nil {
		t.Fatalf("unexpected dial error: %v", err)
	}

	start := time.Now()
	if err := sess.Finalize(context.Background()); err != nil {
		t.Fatalf("unexpected finalize error: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("finalize should be bounded, took %v", elapsed)
	}
}

func TestSessionCloseIsIdempotent(t *testing.T) {
	t.Parallel()

	rs := newRelayServer(t, func(_ *http.Request, conn *websocket.Conn) {
		sendJSON(t, conn, map[string]any{"type": "ready"})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	sess, err := rs.dialer(Config{}).Dial(context.Background(), "m")
	if err != nil {
		t.Fatalf("unexpected dial error: %v", err)
	}

	if err := sess.Close(); err != nil {
		t.Fatalf("unexpected close error: %v", err)
	}
	if err := sess.Close(); err != nil {
		t.Fatalf("unexpected second close error: %v", err)
	}
}

func recvFragment(t *testing.T, fragments <-chan domain.TranscriptFragment) domain.TranscriptFragment {
	t.Helper()
	select {
	case fragment, ok := <-fragments:
		if !ok {
			t.Fatalf("fragment channel closed early")
		}
		return fragment
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for fragment")
	}
	return domain.TranscriptFragment{}
}
