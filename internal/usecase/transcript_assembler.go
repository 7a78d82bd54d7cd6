package usecase

import (
	"strings"
	"sync"

	"livescribe/internal/domain"
)

// transcriptAssembler accumulates finalized transcript lines in arrival
// order. Provider ordering is trusted: no reordering, no deduplication.
type transcriptAssembler struct {
	mu    sync.Mutex
	lines []domain.TranscriptLine
}

func newTranscriptAssembler() *transcriptAssembler {
	return &transcriptAssembler{}
}

func (a *transcriptAssembler) Add(line domain.TranscriptLine) {
	if strings.TrimSpace(line.Text) == "" {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lines = append(a.lines, line)
}

// AppendPrelabeled merges a second transcript stream at session end. The
// text arrives already labeled by whoever produced it, so each non-empty
// line is appended verbatim after the locally captured lines.
func (a *transcriptAssembler) AppendPrelabeled(text string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		a.lines = append(a.lines, domain.TranscriptLine{Text: line})
	}
}

func (a *transcriptAssembler) Lines() []domain.TranscriptLine {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]domain.TranscriptLine(nil), a.lines...)
}

// Transcript renders the session transcript, one line per entry.
func (a *transcriptAssembler) Transcript() string {
	a.mu.Lock()
	defer a.mu.Unlock()

	rendered := make([]string, 0, len(a.lines))
	for _, line := range a.lines {
		rendered = append(rendered, line.String())
	}
	return strings.Join(rendered, "\n")
}
