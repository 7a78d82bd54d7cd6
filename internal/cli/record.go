package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// stopTimeout bounds the finalize-and-drain teardown after an interrupt.
const stopTimeout = 30 * time.Second

func NewRecordCmd(deps *Dependencies) *cobra.Command {
	var meetingID string
	var outputPath string

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record a meeting in the foreground",
		Long: "Start capturing audio and streaming it for transcription. " +
			"Press Ctrl+C to stop; the final transcript is printed or written " +
			"to --output.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if meetingID == "" {
				meetingID = uuid.NewString()
			}
			return runRecord(cmd.Context(), deps, meetingID, outputPath)
		},
	}

	cmd.Flags().StringVarP(&meetingID, "meeting", "m", "", "Meeting id (generated when omitted)")
	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "Write the transcript to a file instead of stdout")

	return cmd
}

func runRecord(ctx context.Context, deps *Dependencies, meetingID, outputPath string) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	metricsServer := &http.Server{
		Addr: deps.Services.Config.Metrics.ListenAddr,
		Handler: promhttp.HandlerFor(deps.Services.Registry, promhttp.HandlerOpts{
			Registry: deps.Services.Registry,
		}),
	}

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		err := metricsServer.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})

	group.Go(func() error {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = metricsServer.Shutdown(shutdownCtx)
		}()

		micOnly, err := deps.Services.Recorder.Start(groupCtx, meetingID)
		if err != nil {
			return fmt.Errorf("failed to start recording: %w", err)
		}
		deps.Logger.Info("recording", "meeting_id", meetingID, "mic_only", micOnly)

		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-groupCtx.Done():
				stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
				defer cancel()

				result, err := deps.Services.Recorder.Stop(stopCtx)
				if err != nil {
					return fmt.Errorf("failed to stop recording: %w", err)
				}
				return writeTranscript(outputPath, result.Transcript)

			case <-ticker.C:
				status := deps.Services.Recorder.Status()
				deps.Logger.Info("recording status",
					"elapsed", status.Elapsed.Round(time.Second),
					"chunks", status.ChunkCount,
					"mic_only", status.MicOnly)
			}
		}
	})

	return group.Wait()
}

func writeTranscript(path, transcript string) error {
	if transcript == "" {
		fmt.Fprintln(os.Stderr, "no transcript was captured")
		return nil
	}
	if path == "" {
		fmt.Println(transcript)
		return nil
	}
	if err := os.WriteFile(path, []byte(transcript+"\n"), 0o600); err != nil {
		return fmt.Errorf("failed to write transcript: %w", err)
	}
	fmt.Fprintf(os.Stderr, "transcript written to %s\n", path)
	return nil
}
