// Package audio provides ffmpeg-backed capture tracks for the microphone
// and the system loopback device.
package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"livescribe/internal/domain"
	"livescribe/internal/ports"
)

// startupProbe is how long a freshly started ffmpeg process is given to
// prove it did not die on startup (bad device, denied permission).
const startupProbe = 250 * time.Millisecond

// TrackConfig describes one capture input.
type TrackConfig struct {
	InputFormat string
	InputDevice string
	SampleRate  int
	Channels    int
}

func (cfg *TrackConfig) applyDefaults() {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	if cfg.InputFormat == "" {
		cfg.InputFormat = "pulse"
	}
	if cfg.InputDevice == "" {
		cfg.InputDevice = "default"
	}
}

// MicrophoneSource acquires microphone tracks via ffmpeg.
type MicrophoneSource struct {
	command string
	cfg     TrackConfig
}

func NewMicrophoneSource(command string, cfg TrackConfig) *MicrophoneSource {
	if command == "" {
		command = "ffmpeg"
	}
	cfg.applyDefaults()
	return &MicrophoneSource{command: command, cfg: cfg}
}

func (m *MicrophoneSource) Acquire(ctx context.Context) (ports.AudioTrack, error) {
	return startTrack(ctx, m.command, m.cfg, domain.SourceMicrophone, startupProbe)
}

// SystemAudioSource acquires loopback tracks via ffmpeg. Acquisition is
// bounded by the caller-supplied timeout; the track itself is not.
type SystemAudioSource struct {
	command string
	cfg     TrackConfig
}

func NewSystemAudioSource(command string, cfg TrackConfig) *SystemAudioSource {
	if command == "" {
		command = "ffmpeg"
	}
	cfg.applyDefaults()
	return &SystemAudioSource{command: command, cfg: cfg}
}

func (s *SystemAudioSource) Acquire(ctx context.Context, timeout time.Duration) (ports.AudioTrack, error) {
	probe := startupProbe
	if timeout > 0 && timeout < probe {
		probe = timeout
	}
	acquireCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		acquireCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return startTrack(acquireCtx, s.command, s.cfg, domain.SourceSystem, probe)
}

func startTrack(ctx context.Context, command string, cfg TrackConfig, kind domain.SourceKind, probe time.Duration) (ports.AudioTrack, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	args := []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-f", cfg.InputFormat,
		"-i", cfg.InputDevice,
		"-ac", strconv.Itoa(cfg.Channels),
		"-ar", strconv.Itoa(cfg.SampleRate),
		"-f", "s16le",
		"-",
	}

	cmd := exec.Command(command, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create ffmpeg stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	track := &ffmpegTrack{
		kind:   kind,
		stdout: stdout,
		stderr: &stderr,
		cmd:    cmd,
		done:   make(chan struct{}),
	}
	go track.watch()

	select {
	case <-track.done:
		msg := bytes.TrimSpace(stderr.Bytes())
		return nil, fmt.Errorf("%s capture exited before producing audio: %s", kind, msg)
	case <-ctx.Done():
		_ = track.Stop()
		return nil, ctx.Err()
	case <-time.After(probe):
	}

	return track, nil
}

type ffmpegTrack struct {
	kind   domain.SourceKind
	stdout io.ReadCloser
	stderr *bytes.Buffer
	cmd    *exec.Cmd

	done    chan struct{}
	exited  atomic.Bool
	exitErr error

	stopOnce sync.Once
	stopErr  error
}

func (t *ffmpegTrack) watch() {
	t.exitErr = t.cmd.Wait()
	t.exited.Store(true)
	close(t.done)
}

func (t *ffmpegTrack) Read(p []byte) (int, error) {
	return t.stdout.Read(p)
}

func (t *ffmpegTrack) Kind() domain.SourceKind {
	return t.kind
}

func (t *ffmpegTrack) Live() bool {
	return !t.exited.Load()
}

func (t *ffmpegTrack) Stop() error {
	t.stopOnce.Do(func() {
		if t.cmd.Process != nil {
			_ = t.cmd.Process.Signal(os.Interrupt)
		}

		select {
		case <-t.done:
		case <-time.After(1200 * time.Millisecond):
			if t.cmd.Process != nil {
				_ = t.cmd.Process.Kill()
			}
			<-t.done
		}
		t.stopErr = normalizeExitErr(t.exitErr)

		if closeErr := t.stdout.Close(); closeErr != nil && !errors.Is(closeErr, os.ErrClosed) {
			if t.stopErr == nil {
				t.stopErr = closeErr
			}
		}

		if t.stopErr != nil && t.stderr.Len() > 0 {
			t.stopErr = fmt.Errorf("%w: %s", t.stopErr, bytes.TrimSpace(t.stderr.Bytes()))
		}
	})

	return t.stopErr
}

// Interrupt and kill exits are expected on Stop; only real failures are
// reported.
func normalizeExitErr(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}
