package audio

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"livescribe/internal/domain"
)

func TestMicrophoneAcquireReadAndStop(t *testing.T) {
	t.Parallel()

	script := writeScript(t, "mic.sh", "#!/usr/bin/env bash\nprintf 'hello'\nsleep 2\n")
	source := NewMicrophoneSource(script, TrackConfig{})

	track, err := source.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	if track.Kind() != domain.SourceMicrophone {
		t.Fatalf("unexpected kind: %s", track.Kind())
	}
	if !track.Live() {
		t.Fatalf("expected track to be live after acquisition")
	}

	buf := make([]byte, 8)
	n, readErr := track.Read(buf)
	if n <= 0 {
		t.Fatalf("expected audio bytes, got n=%d err=%v", n, readErr)
	}
	if !strings.Contains(string(buf[:n]), "hello") {
		t.Fatalf("unexpected bytes: %q", string(buf[:n]))
	}

	if err := track.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if track.Live() {
		t.Fatalf("expected track to be dead after stop")
	}
}

func TestMicrophoneAcquireEarlyExit(t *testing.T) {
	t.Parallel()

	script := writeScript(t, "fail.sh", "#!/usr/bin/env bash\necho 'boom' 1>&2\nexit 1\n")
	source := NewMicrophoneSource(script, TrackConfig{})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := source.Acquire(ctx)
	if err == nil {
		t.Fatalf("expected early exit error")
	}
	if !strings.Contains(err.Error(), "exited before producing audio") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestSystemAudioAcquireRespectsTimeout(t *testing.T) {
	t.Parallel()

	script := writeScript(t, "system.sh", "#!/usr/bin/env bash\nprintf 'x'\nsleep 2\n")
	source := NewSystemAudioSource(script, TrackConfig{})

	track, err := source.Acquire(context.Background(), 500*time.Millisecond)
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	defer func() { _ = track.Stop() }()

	if track.Kind() != domain.SourceSystem {
		t.Fatalf("unexpected kind: %s", track.Kind())
	}
}

func TestSystemAudioAcquireCancelledContext(t *testing.T) {
	t.Parallel()

	script := writeScript(t, "system.sh", "#!/usr/bin/env bash\nsleep 2\n")
	source := NewSystemAudioSource(script, TrackConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := source.Acquire(ctx, time.Second); err == nil {
		t.Fatalf("expected context error")
	}
}

func TestStopIsIdempotent(t *testing.T) {
	t.Parallel()

	script := writeScript(t, "mic.sh", "#!/usr/bin/env bash\nsleep 2\n")
	source := NewMicrophoneSource(script, TrackConfig{})

	track, err := source.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}

	first := track.Stop()
	second := track.Stop()
	if first != second {
		t.Fatalf("expected identical stop results, got %v then %v", first, second)
	}
}

func TestNormalizeExitErrExitErrorIsIgnored(t *testing.T) {
	t.Parallel()

	err := exec.Command("bash", "-lc", "exit 1").Run()
	if err == nil {
		t.Fatalf("expected command to fail")
	}
	if got := normalizeExitErr(err); got != nil {
		t.Fatalf("expected nil for exit error, got %v", got)
	}
}

func writeScript(t *testing.T, name string, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(contents), 0o700); err != nil {
		t.Fatalf("failed to write script: %v", err)
	}
	return path
}
