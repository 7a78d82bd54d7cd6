// Package encoder slices the mixed audio stream into time-boxed encoded
// chunks at a fixed cadence. There is no buffering beyond the one chunk in
// flight: the emit callback either delivers a chunk or it is gone.
package encoder

import (
	"sync"
	"time"
)

// Source is a non-blocking reader of mixed PCM audio.
type Source interface {
	Read(p []byte) (int, error)
}

// EmitFunc receives each encoded chunk. It runs on the encoder goroutine
// and must not retain the slice.
type EmitFunc func(chunk []byte)

// Encoder drives the chunk cadence for one session.
type Encoder struct {
	source   Source
	codec    Codec
	interval time.Duration
	emit     EmitFunc

	buf []byte

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

func New(source Source, codec Codec, interval time.Duration, emit EmitFunc) *Encoder {
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	return &Encoder{
		source:   source,
		codec:    codec,
		interval: interval,
		emit:     emit,
		buf:      make([]byte, 64*1024),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Codec reports the negotiated codec name.
func (e *Encoder) Codec() string {
	return e.codec.Name()
}

// Start begins ticking. Call exactly once.
func (e *Encoder) Start() {
	go e.loop()
}

func (e *Encoder) loop() {
	defer close(e.done)

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stop:
			return
		case <-ticker.C:
			if chunk := e.encodeOnce(); len(chunk) > 0 {
				e.emit(chunk)
			}
		}
	}
}

// Stop halts the cadence and returns the final drain chunk: whatever audio
// accumulated since the previous tick, plus any codec residue. Callers
// send this chunk before the end-of-stream handshake so the trailing few
// hundred milliseconds of speech are not dropped. Subsequent calls return
// nil.
func (e *Encoder) Stop() []byte {
	var final []byte
	e.stopOnce.Do(func() {
		close(e.stop)
		<-e.done

		final = e.encodeOnce()
		if flusher, ok := e.codec.(Flusher); ok {
			if tail, err := flusher.Flush(); err == nil && len(tail) > 0 {
				final = append(final, tail...)
			}
		}
	})
	return final
}

func (e *Encoder) encodeOnce() []byte {
	n, err := e.source.Read(e.buf)
	if err != nil || n == 0 {
		return nil
	}
	chunk, err := e.codec.Encode(e.buf[:n])
	if err != nil {
		return nil
	}
	return chunk
}
