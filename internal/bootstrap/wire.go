package bootstrap

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"livescribe/internal/assistant"
	"livescribe/internal/audio"
	"livescribe/internal/config"
	"livescribe/internal/domain"
	"livescribe/internal/encoder"
	"livescribe/internal/interaction"
	"livescribe/internal/metrics"
	"livescribe/internal/mixer"
	"livescribe/internal/ports"
	"livescribe/internal/providers/desktop"
	"livescribe/internal/providers/relay"
	"livescribe/internal/providers/store"
	"livescribe/internal/rules"
	"livescribe/internal/usecase"
)

// Services is the assembled runtime graph.
type Services struct {
	Recorder   *usecase.Recorder
	Activation *usecase.ActivationController
	Config     config.Config
	Metrics    *metrics.Metrics
	Registry   *prometheus.Registry
}

// Build wires all backend dependencies for the current runtime. onState
// observes interaction state transitions and may be nil.
func Build(events ports.EventSink, onState func(interaction.State), logger *slog.Logger) (Services, error) {
	cfg, err := config.Load()
	if err != nil {
		return Services{}, err
	}
	return BuildWith(cfg, events, onState, logger)
}

// BuildWith assembles the graph from an explicit configuration.
func BuildWith(cfg config.Config, events ports.EventSink, onState func(interaction.State), logger *slog.Logger) (Services, error) {
	if logger == nil {
		logger = slog.Default()
	}

	rulesEngine, err := rules.Load(cfg.Rules.Path, cfg.Rules.IterationLimit)
	if err != nil {
		return Services{}, err
	}

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	mic := audio.NewMicrophoneSource(cfg.Audio.RecorderCommand, audio.TrackConfig{
		InputFormat: cfg.Audio.MicFormat,
		InputDevice: cfg.Audio.MicDevice,
		SampleRate:  cfg.Audio.SampleRate,
		Channels:    cfg.Audio.Channels,
	})
	system := audio.NewSystemAudioSource(cfg.Audio.RecorderCommand, audio.TrackConfig{
		InputFormat: cfg.Audio.SystemFormat,
		InputDevice: cfg.Audio.SystemDevice,
		SampleRate:  cfg.Audio.SampleRate,
		Channels:    cfg.Audio.Channels,
	})

	mixerCfg := mixer.Config{
		MicGain:              cfg.Audio.MicGain,
		SystemGain:           cfg.Audio.SystemGain,
		SystemAcquireTimeout: cfg.Audio.SystemAcquireTimeout,
	}
	meetingGraph := func() usecase.AudioGraph {
		return mixer.New(mic, system, mixerCfg, mixer.Hooks{
			OnFatal: func(err error) {
				m.RecordSessionFailed()
				events.SessionError(domain.ErrorCodeDeviceLost, err.Error())
				events.SessionStateChanged(domain.SessionStateError, domain.SessionReasonRecordingFailed)
			},
			OnMicRecovered: func() {
				m.RecordMicRecovery()
				events.SessionStateChanged(domain.SessionStateRecording, domain.SessionReasonMicRecovered)
			},
		}, logger)
	}
	listenGraph := func() usecase.AudioGraph {
		return mixer.New(mic, system, mixerCfg, mixer.Hooks{}, logger)
	}

	dialer := relay.NewDialer(relay.Config{
		URL:              cfg.Relay.URL,
		Token:            cfg.Relay.Token,
		ReadyTimeout:     cfg.Relay.ReadyTimeout,
		ClosedAckTimeout: cfg.Relay.ClosedAckTimeout,
		OnDegraded: func(detail string) {
			events.SessionError(domain.ErrorCodeTranscription, detail)
		},
		Logger: logger,
	})

	newEncoder := func(source io.Reader, emit func(chunk []byte)) usecase.ChunkEncoder {
		codec := encoder.Negotiate(cfg.Encoder.Preferred, cfg.Audio.SampleRate, cfg.Audio.Channels)
		return encoder.New(source, codec, cfg.Encoder.ChunkInterval, emit)
	}

	storeClient, err := store.NewClient(store.Config{BaseURL: cfg.Relay.APIURL, Token: cfg.Relay.Token})
	if err != nil {
		return Services{}, err
	}

	var fallback ports.FallbackCapture
	if recorder := desktop.NewFallbackRecorder(cfg.Desktop.FallbackCommand, logger); recorder != nil {
		fallback = recorder
	}

	injector, err := desktop.NewInjector(cfg.Desktop.InjectorCommand)
	if err != nil {
		return Services{}, err
	}

	var asst ports.Assistant
	if cfg.OpenAI.APIKey != "" {
		asst, err = assistant.NewClient(assistant.Config{
			APIKey:  cfg.OpenAI.APIKey,
			BaseURL: cfg.OpenAI.BaseURL,
			Model:   cfg.OpenAI.Model,
		})
		if err != nil {
			return Services{}, err
		}
	} else {
		asst = unavailableAssistant{}
	}

	recorder := usecase.NewRecorder(meetingGraph, dialer, newEncoder, fallback, storeClient, events, m, logger)
	listener := usecase.NewListener(listenGraph, dialer, newEncoder, logger)
	activation := usecase.NewActivationController(listener, asst, rulesEngine, injector, events, logger, onState)

	return Services{
		Recorder:   recorder,
		Activation: activation,
		Config:     cfg,
		Metrics:    m,
		Registry:   registry,
	}, nil
}

type unavailableAssistant struct{}

func (unavailableAssistant) Ask(_ context.Context, _ string) (domain.AssistantReply, error) {
	return domain.AssistantReply{}, errors.New("assistant is not configured, set OPENAI_API_KEY")
}
