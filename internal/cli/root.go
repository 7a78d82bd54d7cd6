// Package cli is the command surface: foreground meeting recording plus
// the supporting doctor and version commands.
package cli

import (
	"log/slog"

	"github.com/spf13/cobra"

	"livescribe/internal/bootstrap"
	"livescribe/internal/version"
)

// Dependencies carries the assembled runtime into the commands.
type Dependencies struct {
	Services bootstrap.Services
	Logger   *slog.Logger
}

func NewRootCmd(deps *Dependencies) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "livescribe",
		Short: "Capture meetings and stream them to live transcription",
		Long: "livescribe mixes microphone and system audio, streams it to a " +
			"transcription relay in real time, and assembles a speaker-labeled " +
			"transcript when the recording stops.",
	}

	rootCmd.Version = version.Version
	rootCmd.SetVersionTemplate(version.Full() + "\n")

	rootCmd.AddCommand(NewRecordCmd(deps))
	rootCmd.AddCommand(NewListenCmd(deps))
	rootCmd.AddCommand(NewDoctorCmd(deps))

	return rootCmd
}
