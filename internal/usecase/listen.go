package usecase

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"livescribe/internal/ports"
)

// ListenCapture is one in-flight microphone-only capture used by the
// activation modes. It is cheaper than a meeting recording: a single
// track, no fallback path, finals collapsed into plain text.
type ListenCapture interface {
	// Stop finalizes the stream with the usual drain and returns the
	// captured text.
	Stop(ctx context.Context) (string, error)
	// Cancel discards the capture without waiting for transcription.
	Cancel()
}

// ListenStarter opens listen captures.
type ListenStarter interface {
	Start(ctx context.Context) (ListenCapture, error)
}

// Listener builds listen captures on top of the shared audio graph and
// relay stream plumbing.
type Listener struct {
	newGraph   GraphFactory
	dialer     ports.StreamDialer
	newEncoder EncoderFactory
	logger     *slog.Logger
}

func NewListener(newGraph GraphFactory, dialer ports.StreamDialer, newEncoder EncoderFactory, logger *slog.Logger) *Listener {
	if logger == nil {
		logger = slog.Default()
	}
	return &Listener{newGraph: newGraph, dialer: dialer, newEncoder: newEncoder, logger: logger}
}

// Start acquires the microphone and opens a relay stream. Cancelling ctx
// aborts the capture at any point, including mid-connect.
func (l *Listener) Start(ctx context.Context) (ListenCapture, error) {
	graph := l.newGraph()
	if _, err := graph.Start(ctx, false); err != nil {
		return nil, err
	}

	stream, err := l.dialer.Dial(ctx, uuid.NewString())
	if err != nil {
		graph.Stop()
		return nil, err
	}

	capture := &listenCapture{
		graph:  graph,
		stream: stream,
		logger: l.logger,
		done:   make(chan struct{}),
	}
	capture.encoder = l.newEncoder(graph, func(chunk []byte) {
		_ = stream.Send(chunk)
	})
	go capture.consume()
	capture.encoder.Start()
	return capture, nil
}

type listenCapture struct {
	graph   AudioGraph
	stream  ports.StreamSession
	encoder ChunkEncoder
	logger  *slog.Logger

	mu     sync.Mutex
	finals []string

	stopOnce sync.Once
	done     chan struct{}
}

func (c *listenCapture) consume() {
	defer close(c.done)
	for fragment := range c.stream.Fragments() {
		if !fragment.IsFinal {
			continue
		}
		text := strings.TrimSpace(fragment.Text)
		if text == "" {
			continue
		}
		c.mu.Lock()
		c.finals = append(c.finals, text)
		c.mu.Unlock()
	}
}

func (c *listenCapture) Stop(ctx context.Context) (string, error) {
	c.stopOnce.Do(func() {
		final := c.encoder.Stop()
		c.graph.Stop()
		if len(final) > 0 {
			_ = c.stream.Send(final)
		}
		if err := c.stream.Finalize(ctx); err != nil {
			c.logger.Warn("listen finalize reported an error", "error", err)
		}
		<-c.done
		_ = c.stream.Close()
	})

	c.mu.Lock()
	defer c.mu.Unlock()
	return strings.Join(c.finals, " "), c.stream.Err()
}

func (c *listenCapture) Cancel() {
	c.stopOnce.Do(func() {
		_ = c.encoder.Stop()
		c.graph.Stop()
		_ = c.stream.Close()
		<-c.done
	})
}
