package cli

import (
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/spf13/cobra"
)

func NewDoctorCmd(deps *Dependencies) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check prerequisites",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := deps.Services.Config
			ok := true

			if _, err := exec.LookPath(cfg.Audio.RecorderCommand); err != nil {
				check(cfg.Audio.RecorderCommand, false, "not found on PATH")
				ok = false
			} else {
				check(cfg.Audio.RecorderCommand, true, "installed")
			}

			if cfg.Relay.Token != "" {
				check("Relay token", true, "configured")
			} else {
				check("Relay token", false, "not set. Set LIVESCRIBE_RELAY_TOKEN or add to config")
				ok = false
			}

			if fields := strings.Fields(cfg.Desktop.InjectorCommand); len(fields) > 0 {
				if _, err := exec.LookPath(fields[0]); err != nil {
					check(fields[0], false, "injector tool not found on PATH")
					ok = false
				} else {
					check(fields[0], true, "injector tool installed")
				}
			}

			if cfg.OpenAI.APIKey != "" {
				check("OpenAI API key", true, "configured")
			} else {
				check("OpenAI API key", false, "not set, assistant mode is disabled")
			}

			if cfg.Rules.Path != "" {
				if _, err := os.Stat(cfg.Rules.Path); err != nil {
					check("Rules file", false, cfg.Rules.Path+" is not readable, dictation passes text through unchanged")
				} else {
					check("Rules file", true, cfg.Rules.Path)
				}
			}

			check("Metrics listener", true, cfg.Metrics.ListenAddr)

			if ok {
				fmt.Println("\nAll prerequisites met. Ready to record.")
			} else {
				fmt.Println("\nSome prerequisites are missing.")
			}
			return nil
		},
	}
}

func check(name string, ok bool, detail string) {
	mark := "✓"
	if !ok {
		mark = "✗"
	}
	fmt.Printf("%s %s: %s\n", mark, name, detail)
}
