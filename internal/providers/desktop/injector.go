// Package desktop bridges the pipeline to the user's desktop session:
// typing dictated text into the focused window and driving the optional
// out-of-band system audio helper.
package desktop

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

const injectTimeout = 10 * time.Second

// Injector types text via an external tool. The text is written to the
// tool's stdin, so arbitrary content never hits the argument list.
type Injector struct {
	name string
	args []string
}

func NewInjector(command string) (*Injector, error) {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return nil, errors.New("injector command is not configured")
	}
	return &Injector{name: fields[0], args: fields[1:]}, nil
}

func (i *Injector) Inject(ctx context.Context, text string) error {
	if text == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, injectTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, i.name, i.args...)
	cmd.Stdin = strings.NewReader(text)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if stderr.Len() > 0 {
			return fmt.Errorf("injector %s failed: %w: %s", i.name, err, bytes.TrimSpace(stderr.Bytes()))
		}
		return fmt.Errorf("injector %s failed: %w", i.name, err)
	}
	return nil
}
