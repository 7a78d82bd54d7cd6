// Package mixer sums the microphone and system loopback tracks into one
// outbound PCM stream, with per-source gain and mid-session device
// recovery.
package mixer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"livescribe/internal/ports"
)

// ErrMicrophoneLost is reported when the microphone track ended and could
// not be re-acquired.
var ErrMicrophoneLost = errors.New("microphone lost and re-acquisition failed")

// ErrSystemAudioLost is reported when the system track ended mid-session;
// this usually means the shared screen or window was closed.
var ErrSystemAudioLost = errors.New("system audio track ended")

// Config controls mixing behavior. System gain sits below mic gain because
// the loopback signal already carries every remote party.
type Config struct {
	MicGain              float64
	SystemGain           float64
	SystemAcquireTimeout time.Duration
	ReadBuffer           int
}

// Hooks receive mixer lifecycle notifications. OnFatal is invoked from a
// pump goroutine when the session cannot continue.
type Hooks struct {
	OnFatal        func(error)
	OnMicRecovered func()
}

// Mixer acquires up to two live tracks and exposes their gain-scaled sum
// through Read. One Mixer serves exactly one session.
type Mixer struct {
	mic    ports.MicrophoneCapture
	system ports.SystemAudioCapture
	hooks  Hooks
	logger *slog.Logger
	cfg    Config

	pumps sync.WaitGroup

	mu       sync.Mutex
	ctx      context.Context
	micTrack ports.AudioTrack
	sysTrack ports.AudioTrack
	micBuf   *pcmBuffer
	sysBuf   *pcmBuffer
	micOnly  bool
	started  bool
	stopped  bool
}

func New(mic ports.MicrophoneCapture, system ports.SystemAudioCapture, cfg Config, hooks Hooks, logger *slog.Logger) *Mixer {
	if cfg.MicGain <= 0 {
		cfg.MicGain = 1.0
	}
	if cfg.SystemGain <= 0 {
		cfg.SystemGain = 0.5
	}
	if cfg.SystemAcquireTimeout <= 0 {
		cfg.SystemAcquireTimeout = 5 * time.Second
	}
	if cfg.ReadBuffer <= 0 {
		cfg.ReadBuffer = 4096
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Mixer{mic: mic, system: system, hooks: hooks, logger: logger, cfg: cfg}
}

// Start acquires the sources and begins pumping. The microphone is
// mandatory; system audio failures of any flavor (timeout, error, a track
// already dead at hand-off) degrade to microphone-only.
func (m *Mixer) Start(ctx context.Context, wantSystemAudio bool) (micOnly bool, err error) {
	m.mu.Lock()
	if m.started {
		already := m.micOnly
		m.mu.Unlock()
		return already, errors.New("mixer already started")
	}
	m.started = true
	m.mu.Unlock()

	micTrack, err := m.mic.Acquire(ctx)
	if err != nil {
		return false, fmt.Errorf("microphone acquisition failed: %w", err)
	}

	var sysTrack ports.AudioTrack
	micOnly = true
	if wantSystemAudio {
		sysTrack = m.acquireSystem(ctx)
		micOnly = sysTrack == nil
	}

	if err := ctx.Err(); err != nil {
		_ = micTrack.Stop()
		if sysTrack != nil {
			_ = sysTrack.Stop()
		}
		return false, err
	}

	m.mu.Lock()
	m.ctx = ctx
	m.micTrack = micTrack
	m.sysTrack = sysTrack
	m.micBuf = newPCMBuffer(maxBuffered)
	m.sysBuf = newPCMBuffer(maxBuffered)
	m.micOnly = micOnly
	m.mu.Unlock()

	m.pumps.Add(1)
	go m.pump(micTrack, m.micBuf)
	if sysTrack != nil {
		m.pumps.Add(1)
		go m.pump(sysTrack, m.sysBuf)
	}

	return micOnly, nil
}

// acquireSystem returns nil on every non-fatal failure mode, including the
// platform defect where a dead track is handed back instead of an error.
// Liveness is checked right here, not by waiting for a later end event.
func (m *Mixer) acquireSystem(ctx context.Context) ports.AudioTrack {
	track, err := m.system.Acquire(ctx, m.cfg.SystemAcquireTimeout)
	if err != nil {
		m.logger.Warn("system audio acquisition failed, continuing mic-only", "error", err)
		return nil
	}
	if track == nil {
		m.logger.Warn("system audio acquisition returned no track, continuing mic-only")
		return nil
	}
	if !track.Live() {
		m.logger.Warn("system audio track dead on arrival, continuing mic-only")
		_ = track.Stop()
		return nil
	}
	return track
}

// MicOnly reports whether the session is running without system audio.
func (m *Mixer) MicOnly() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.micOnly
}

// Read drains up to len(p) bytes of mixed audio. It never blocks: it
// returns what has accumulated since the last call, which may be nothing.
func (m *Mixer) Read(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.micBuf == nil {
		return 0, errors.New("mixer is not started")
	}

	n := len(p)
	if n%2 != 0 {
		n--
	}
	micBytes := m.micBuf.ReadUpTo(n)
	sysBytes := m.sysBuf.ReadUpTo(len(micBytes))

	for i := 0; i+1 < len(micBytes); i += 2 {
		sample := scale(int16(uint16(micBytes[i])|uint16(micBytes[i+1])<<8), m.cfg.MicGain)
		if i+1 < len(sysBytes) {
			sample = saturate(int32(sample) + int32(scale(int16(uint16(sysBytes[i])|uint16(sysBytes[i+1])<<8), m.cfg.SystemGain)))
		}
		p[i] = byte(uint16(sample))
		p[i+1] = byte(uint16(sample) >> 8)
	}

	return len(micBytes), nil
}

// Stop tears down every acquired track. Safe to call more than once and on
// any exit path; a leaked track keeps a device busy and its hardware
// indicator lit.
func (m *Mixer) Stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	micTrack, sysTrack := m.micTrack, m.sysTrack
	m.mu.Unlock()

	if micTrack != nil {
		_ = micTrack.Stop()
	}
	if sysTrack != nil {
		_ = sysTrack.Stop()
	}
	m.pumps.Wait()
}

func (m *Mixer) pump(track ports.AudioTrack, buf *pcmBuffer) {
	defer m.pumps.Done()

	b := make([]byte, m.cfg.ReadBuffer)
	for {
		n, err := track.Read(b)
		if n > 0 {
			buf.Write(b[:n])
		}
		if err != nil {
			m.handleTrackEnd(track, buf)
			return
		}
	}
}

// handleTrackEnd runs device-loss recovery. Microphone loss is retried
// once; system audio loss and failed recovery are fatal to the session.
func (m *Mixer) handleTrackEnd(track ports.AudioTrack, buf *pcmBuffer) {
	m.mu.Lock()
	if m.stopped || (track != m.micTrack && track != m.sysTrack) {
		m.mu.Unlock()
		return
	}
	ctx := m.ctx
	isMic := track == m.micTrack
	m.mu.Unlock()

	if !isMic {
		m.logger.Error("system audio track ended mid-session")
		m.fatal(ErrSystemAudioLost)
		return
	}

	m.logger.Warn("microphone track ended mid-session, re-acquiring")
	// Old track torn down before the replacement is wired in, so repeated
	// failures cannot accumulate duplicate signal paths.
	_ = track.Stop()

	replacement, err := m.mic.Acquire(ctx)
	if err != nil {
		m.fatal(fmt.Errorf("%w: %v", ErrMicrophoneLost, err))
		return
	}

	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		_ = replacement.Stop()
		return
	}
	m.micTrack = replacement
	// System audio kept buffering during the gap while Read consumed
	// nothing; without a flush it would trail the new mic track by the
	// gap length for the rest of the session.
	m.sysBuf.Flush()
	m.mu.Unlock()

	if m.hooks.OnMicRecovered != nil {
		m.hooks.OnMicRecovered()
	}
	m.pumps.Add(1)
	go m.pump(replacement, buf)
}

func (m *Mixer) fatal(err error) {
	if m.hooks.OnFatal != nil {
		m.hooks.OnFatal(err)
	}
}

func scale(sample int16, gain float64) int16 {
	return saturate(int32(float64(sample) * gain))
}

func saturate(v int32) int16 {
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}
