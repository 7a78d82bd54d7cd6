package mixer

import "sync"

// maxBuffered bounds per-source buffering. When a consumer stalls, the
// oldest audio is discarded rather than growing memory without limit.
const maxBuffered = 1 << 20

// pcmBuffer is a bounded FIFO of raw PCM bytes shared between one pump
// goroutine and the mix reader.
type pcmBuffer struct {
	mu   sync.Mutex
	data []byte
	max  int
}

func newPCMBuffer(max int) *pcmBuffer {
	if max <= 0 {
		max = maxBuffered
	}
	return &pcmBuffer{max: max}
}

func (b *pcmBuffer) Write(p []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.data = append(b.data, p...)
	if overflow := len(b.data) - b.max; overflow > 0 {
		b.data = b.data[overflow:]
	}
}

// ReadUpTo removes and returns at most n bytes, keeping sample alignment.
func (b *pcmBuffer) ReadUpTo(n int) []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	if n > len(b.data) {
		n = len(b.data)
	}
	if n%2 != 0 {
		n--
	}
	if n <= 0 {
		return nil
	}
	out := make([]byte, n)
	copy(out, b.data[:n])
	b.data = b.data[n:]
	return out
}

func (b *pcmBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}

// Flush discards everything buffered so far.
func (b *pcmBuffer) Flush() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data = nil
}
