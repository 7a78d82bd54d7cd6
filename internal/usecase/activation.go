package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"livescribe/internal/domain"
	"livescribe/internal/interaction"
	"livescribe/internal/ports"
)

// ActivationController is the effect layer around the interaction state
// machine: it owns the single in-flight listen capture and runs the
// mode-specific follow-up once listening completes. All state transitions
// go through the pure reducer; this layer only decides when to dispatch.
type ActivationController struct {
	listens   ListenStarter
	assistant ports.Assistant
	rules     ports.RulesEngine
	injector  ports.TextInjector
	events    ports.EventSink
	logger    *slog.Logger

	// onChange observes every state transition; used by the UI surface.
	onChange func(interaction.State)

	mu      sync.Mutex
	state   interaction.State
	capture ListenCapture
	cancel  context.CancelFunc
}

func NewActivationController(
	listens ListenStarter,
	assistant ports.Assistant,
	rules ports.RulesEngine,
	injector ports.TextInjector,
	events ports.EventSink,
	logger *slog.Logger,
	onChange func(interaction.State),
) *ActivationController {
	if logger == nil {
		logger = slog.Default()
	}
	if onChange == nil {
		onChange = func(interaction.State) {}
	}
	return &ActivationController{
		listens:   listens,
		assistant: assistant,
		rules:     rules,
		injector:  injector,
		events:    events,
		logger:    logger,
		onChange:  onChange,
		state:     interaction.Idle(),
	}
}

// State returns the current interaction state.
func (c *ActivationController) State() interaction.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SetMeeting updates the orthogonal meeting fields.
func (c *ActivationController) SetMeeting(active bool, meetingID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dispatchLocked(interaction.MeetingUpdate(active, meetingID))
}

// Activate starts listening in the given mode. Activating the mode that is
// already listening is a stop request: the capture ends and the mode's
// follow-up runs. Activating a different mode mid-listen is ignored;
// captures are single-flight.
func (c *ActivationController) Activate(ctx context.Context, mode interaction.Mode) error {
	c.mu.Lock()
	if c.state.Phase == interaction.PhaseListening {
		if c.state.Mode != mode {
			c.mu.Unlock()
			return nil
		}
		capture := c.capture
		c.capture = nil
		c.mu.Unlock()
		return c.complete(ctx, mode, capture)
	}

	before := c.state
	c.dispatchLocked(interaction.Activate(mode))
	if c.state.Phase != interaction.PhaseListening {
		c.mu.Unlock()
		return nil
	}
	listenCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.mu.Unlock()

	capture, err := c.listens.Start(listenCtx)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.state = before
		c.onChange(c.state)
		cancel()
		c.cancel = nil
		c.events.SessionError(domain.ErrorCodeStartup, fmt.Sprintf("failed to start listening: %v", err))
		return err
	}
	if c.state.Phase != interaction.PhaseListening {
		// Deactivated while the capture was connecting.
		capture.Cancel()
		return nil
	}
	c.capture = capture
	return nil
}

// Dismiss closes a response overlay.
func (c *ActivationController) Dismiss() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dispatchLocked(interaction.Dismiss())
}

// Deactivate discards any in-flight capture and returns to idle.
func (c *ActivationController) Deactivate() {
	c.mu.Lock()
	capture := c.capture
	c.capture = nil
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.dispatchLocked(interaction.Deactivate())
	c.mu.Unlock()

	if capture != nil {
		capture.Cancel()
	}
}

// complete stops the capture and runs the mode's follow-up. The capture
// stop and the assistant round-trip happen outside the state lock.
func (c *ActivationController) complete(ctx context.Context, mode interaction.Mode, capture ListenCapture) error {
	if capture == nil {
		return nil
	}

	if mode == interaction.ModeDictation || mode == interaction.ModeTranscribe {
		c.dispatch(interaction.BeginTranscribing())
	}

	text, err := capture.Stop(ctx)
	if err != nil {
		c.events.SessionError(domain.ErrorCodeTranscription, fmt.Sprintf("listen capture failed: %v", err))
	}
	text = strings.TrimSpace(text)

	if mode == interaction.ModeAssistant {
		c.dispatch(interaction.ListeningComplete(text))
		return c.ask(ctx, text)
	}

	defer c.dispatch(interaction.ListeningComplete(text))
	if text == "" {
		return nil
	}

	transformed, err := c.rules.Apply(text)
	if err != nil {
		c.events.SessionError(domain.ErrorCodeRules, fmt.Sprintf("substitution rules failed: %v", err))
	} else {
		text = transformed
	}

	if err := c.injector.Inject(ctx, text); err != nil {
		c.events.SessionError(domain.ErrorCodeInject, fmt.Sprintf("text injection failed: %v", err))
		return err
	}
	return nil
}

func (c *ActivationController) ask(ctx context.Context, query string) error {
	if query == "" {
		c.dispatch(interaction.AIError("nothing was captured"))
		return nil
	}

	reply, err := c.assistant.Ask(ctx, query)
	if err != nil {
		c.events.SessionError(domain.ErrorCodeAssistant, fmt.Sprintf("assistant query failed: %v", err))
		c.dispatch(interaction.AIError(err.Error()))
		return err
	}
	c.dispatch(interaction.AIComplete(reply.Title, reply.Lines))
	return nil
}

func (c *ActivationController) dispatch(action interaction.Action) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dispatchLocked(action)
}

func (c *ActivationController) dispatchLocked(action interaction.Action) {
	c.state = interaction.Reduce(c.state, action)
	c.onChange(c.state)
}
