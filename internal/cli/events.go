package cli

import (
	"fmt"
	"log/slog"

	"livescribe/internal/domain"
)

// LogSink surfaces backend session events on the terminal. Finalized
// transcript lines go to stdout as they arrive; everything else is logged.
type LogSink struct {
	Logger *slog.Logger
}

func (s *LogSink) SessionStateChanged(state domain.SessionState, reason domain.SessionStateReason) {
	s.Logger.Info("session state changed", "state", string(state), "reason", string(reason))
}

func (s *LogSink) InterimTranscript(text string) {
	s.Logger.Debug("interim transcript", "text", text)
}

func (s *LogSink) TranscriptLine(line domain.TranscriptLine) {
	fmt.Println(line.String())
}

func (s *LogSink) SessionError(code domain.ErrorCode, detail string) {
	s.Logger.Error("session error", "code", string(code), "detail", detail)
}
