package encoder

import (
	"bytes"
	"strings"

	"github.com/braheezy/shine-mp3/pkg/mp3"
)

// Codec turns raw s16le PCM into the negotiated wire format. Codecs may be
// stateful; one instance serves one session.
type Codec interface {
	Name() string
	Encode(pcm []byte) ([]byte, error)
}

// Flusher is implemented by codecs that hold residual samples which must
// be emitted when the stream ends.
type Flusher interface {
	Flush() ([]byte, error)
}

// Negotiate picks the first supported entry from the preference list. The
// raw linear16 passthrough is the universal fallback.
func Negotiate(preferred []string, sampleRate, channels int) Codec {
	for _, name := range preferred {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "mp3":
			return newMP3Codec(sampleRate, channels)
		case "linear16", "pcm":
			return linear16Codec{}
		}
	}
	return linear16Codec{}
}

type linear16Codec struct{}

func (linear16Codec) Name() string { return "linear16" }

func (linear16Codec) Encode(pcm []byte) ([]byte, error) {
	if len(pcm) == 0 {
		return nil, nil
	}
	out := make([]byte, len(pcm))
	copy(out, pcm)
	return out, nil
}

// mp3BlockSamples is the MP3 Layer III granule size; shine encodes whole
// blocks only, so residual samples are carried between calls.
const mp3BlockSamples = 1152

type mp3Codec struct {
	enc      *mp3.Encoder
	pending  []int16
	channels int
}

func newMP3Codec(sampleRate, channels int) *mp3Codec {
	if channels <= 0 {
		channels = 1
	}
	return &mp3Codec{enc: mp3.NewEncoder(sampleRate, channels), channels: channels}
}

func (c *mp3Codec) Name() string { return "mp3" }

func (c *mp3Codec) Encode(pcm []byte) ([]byte, error) {
	for i := 0; i+1 < len(pcm); i += 2 {
		c.pending = append(c.pending, int16(uint16(pcm[i])|uint16(pcm[i+1])<<8))
	}

	block := mp3BlockSamples * c.channels
	usable := (len(c.pending) / block) * block
	if usable == 0 {
		return nil, nil
	}

	var buf bytes.Buffer
	c.enc.Write(&buf, c.pending[:usable])
	c.pending = append(c.pending[:0], c.pending[usable:]...)
	return buf.Bytes(), nil
}

// Flush pads the residual samples to a whole block and encodes them.
func (c *mp3Codec) Flush() ([]byte, error) {
	if len(c.pending) == 0 {
		return nil, nil
	}

	block := mp3BlockSamples * c.channels
	for len(c.pending)%block != 0 {
		c.pending = append(c.pending, 0)
	}

	var buf bytes.Buffer
	c.enc.Write(&buf, c.pending)
	c.pending = c.pending[:0]
	return buf.Bytes(), nil
}
