package desktop

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeScript(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "helper.sh")
	if err := os.WriteFile(path, []byte(contents), 0o700); err != nil {
		t.Fatalf("failed to write script: %v", err)
	}
	return path
}

func TestNewInjectorRequiresCommand(t *testing.T) {
	t.Parallel()

	if _, err := NewInjector("   "); err == nil {
		t.Fatalf("expected missing command error")
	}
}

func TestInjectorWritesTextToStdin(t *testing.T) {
	t.Parallel()

	out := filepath.Join(t.TempDir(), "typed.txt")
	script := writeScript(t, "#!/bin/bash\ncat > \""+out+"\"\n")

	injector, err := NewInjector(script)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := injector.Inject(context.Background(), "hello world"); err != nil {
		t.Fatalf("unexpected inject error: %v", err)
	}

	typed, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("failed to read output: %v", err)
	}
	if string(typed) != "hello world" {
		t.Fatalf("unexpected typed text: %q", typed)
	}
}

func TestInjectorEmptyTextIsNoop(t *testing.T) {
	t.Parallel()

	injector, err := NewInjector("/nonexistent/tool")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := injector.Inject(context.Background(), ""); err != nil {
		t.Fatalf("empty text must not run the tool: %v", err)
	}
}

func TestInjectorSurfacesToolFailure(t *testing.T) {
	t.Parallel()

	script := writeScript(t, "#!/bin/bash\necho 'display not found' >&2\nexit 1\n")

	injector, err := NewInjector(script)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err = injector.Inject(context.Background(), "text")
	if err == nil {
		t.Fatalf("expected failure")
	}
}

func TestFallbackRecorderUnconfigured(t *testing.T) {
	t.Parallel()

	if NewFallbackRecorder("", nil) != nil {
		t.Fatalf("empty command must yield a nil capability")
	}
}

func TestFallbackRecorderRoundTrip(t *testing.T) {
	t.Parallel()

	script := writeScript(t, `#!/bin/bash
trap 'echo "Speaker 2: captured for $1"; exit 0' INT TERM
sleep 30 &
wait $!
`)

	recorder := NewFallbackRecorder(script, nil)
	if recorder == nil {
		t.Fatalf("expected a recorder")
	}
	if !recorder.Start(context.Background(), "m-5") {
		t.Fatalf("helper failed to start")
	}
	time.Sleep(100 * time.Millisecond)

	transcript, err := recorder.Stop(context.Background())
	if err != nil {
		t.Fatalf("unexpected stop error: %v", err)
	}
	if transcript != "Speaker 2: captured for m-5" {
		t.Fatalf("unexpected transcript: %q", transcript)
	}
}

func TestFallbackRecorderStartFailure(t *testing.T) {
	t.Parallel()

	recorder := NewFallbackRecorder("/nonexistent/helper", nil)
	if recorder.Start(context.Background(), "m") {
		t.Fatalf("missing helper must report unavailable")
	}
}

func TestFallbackRecorderStopWithoutStart(t *testing.T) {
	t.Parallel()

	recorder := NewFallbackRecorder("/bin/true", nil)
	if _, err := recorder.Stop(context.Background()); err == nil {
		t.Fatalf("expected not-running error")
	}
}

func TestFallbackRecorderEmptyTranscriptIsError(t *testing.T) {
	t.Parallel()

	script := writeScript(t, "#!/bin/bash\ntrap 'exit 0' INT TERM\nsleep 30 &\nwait $!\n")

	recorder := NewFallbackRecorder(script, nil)
	if !recorder.Start(context.Background(), "m") {
		t.Fatalf("helper failed to start")
	}
	time.Sleep(100 * time.Millisecond)

	if _, err := recorder.Stop(context.Background()); err == nil {
		t.Fatalf("expected no-transcript error")
	}
}
