package desktop

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// stopGrace is how long the helper gets to flush its transcript after an
// interrupt before it is killed.
const stopGrace = 5 * time.Second

// FallbackRecorder runs an external helper that captures system audio
// out-of-band when direct loopback acquisition is unavailable. The helper
// is started with the meeting id as its final argument and prints a
// pre-labeled transcript on stdout when interrupted.
type FallbackRecorder struct {
	name   string
	args   []string
	logger *slog.Logger

	mu     sync.Mutex
	cmd    *exec.Cmd
	stdout *bytes.Buffer
	stderr *bytes.Buffer
	done   chan struct{}
}

// NewFallbackRecorder returns nil when no helper command is configured;
// the recorder treats a nil capability as unavailable.
func NewFallbackRecorder(command string, logger *slog.Logger) *FallbackRecorder {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FallbackRecorder{name: fields[0], args: fields[1:], logger: logger}
}

func (f *FallbackRecorder) Start(ctx context.Context, meetingID string) bool {
	if err := ctx.Err(); err != nil {
		return false
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cmd != nil {
		return true
	}

	cmd := exec.Command(f.name, append(append([]string(nil), f.args...), meetingID)...)
	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		f.logger.Warn("fallback capture helper failed to start", "command", f.name, "error", err)
		return false
	}

	done := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(done)
	}()

	f.cmd = cmd
	f.stdout = stdout
	f.stderr = stderr
	f.done = done
	return true
}

// Stop interrupts the helper and returns whatever transcript it printed.
func (f *FallbackRecorder) Stop(_ context.Context) (string, error) {
	f.mu.Lock()
	cmd, stdout, stderr, done := f.cmd, f.stdout, f.stderr, f.done
	f.cmd, f.stdout, f.stderr, f.done = nil, nil, nil, nil
	f.mu.Unlock()

	if cmd == nil {
		return "", errors.New("fallback capture is not running")
	}

	if cmd.Process != nil {
		_ = cmd.Process.Signal(os.Interrupt)
	}
	select {
	case <-done:
	case <-time.After(stopGrace):
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
		<-done
	}

	transcript := strings.TrimSpace(stdout.String())
	if transcript == "" {
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = "helper produced no output"
		}
		return "", fmt.Errorf("fallback capture returned no transcript: %s", detail)
	}
	return transcript, nil
}
