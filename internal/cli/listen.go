package cli

import (
	"bufio"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"livescribe/internal/interaction"
)

var listenModes = map[string]interaction.Mode{
	"assistant":  interaction.ModeAssistant,
	"dictation":  interaction.ModeDictation,
	"continuous": interaction.ModeContinuous,
	"transcribe": interaction.ModeTranscribe,
}

func NewListenCmd(deps *Dependencies) *cobra.Command {
	var modeName string

	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Capture a short voice snippet",
		Long: "Start a push-to-talk capture. Dictation and transcribe modes type " +
			"the result into the focused window; assistant mode answers the " +
			"spoken question on the terminal.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			mode, ok := listenModes[modeName]
			if !ok {
				return fmt.Errorf("unknown mode %q", modeName)
			}
			return runListen(cmd, deps, mode)
		},
	}

	cmd.Flags().StringVarP(&modeName, "mode", "M", "transcribe", "Capture mode: assistant, dictation, continuous or transcribe")

	return cmd
}

func runListen(cmd *cobra.Command, deps *Dependencies, mode interaction.Mode) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	activation := deps.Services.Activation
	if err := activation.Activate(ctx, mode); err != nil {
		return fmt.Errorf("failed to start listening: %w", err)
	}

	fmt.Fprintln(os.Stderr, "Listening... press Enter to stop, Ctrl+C to cancel.")

	pressed := make(chan struct{})
	go func() {
		bufio.NewReader(os.Stdin).ReadString('\n')
		close(pressed)
	}()

	select {
	case <-ctx.Done():
		activation.Deactivate()
		fmt.Fprintln(os.Stderr, "Capture discarded.")
		return nil
	case <-pressed:
	}

	// A second activation of the same mode stops the capture and runs the
	// mode's follow-up: rules plus injection, or the assistant round-trip.
	if err := activation.Activate(ctx, mode); err != nil {
		return fmt.Errorf("failed to complete capture: %w", err)
	}

	if state := activation.State(); state.Phase == interaction.PhaseResponse {
		fmt.Fprintln(cmd.OutOrStdout(), state.Title)
		for _, line := range state.Lines {
			fmt.Fprintln(cmd.OutOrStdout(), line)
		}
		activation.Dismiss()
	}

	return nil
}
