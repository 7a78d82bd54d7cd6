package config

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config stores runtime configuration for the capture pipeline.
type Config struct {
	Relay   RelayConfig
	Audio   AudioConfig
	Encoder EncoderConfig
	OpenAI  OpenAIConfig
	Rules   RulesConfig
	Desktop DesktopConfig
	Metrics MetricsConfig
}

type RelayConfig struct {
	URL              string
	APIURL           string
	Token            string
	ReadyTimeout     time.Duration
	ClosedAckTimeout time.Duration
}

type DesktopConfig struct {
	// InjectorCommand types dictated text into the focused window; the text
	// is written to the command's stdin.
	InjectorCommand string
	// FallbackCommand is an optional helper that records system audio
	// out-of-band when loopback capture is unavailable. Empty disables the
	// fallback path.
	FallbackCommand string
}

type AudioConfig struct {
	RecorderCommand      string
	MicFormat            string
	MicDevice            string
	SystemFormat         string
	SystemDevice         string
	SampleRate           int
	Channels             int
	MicGain              float64
	SystemGain           float64
	SystemAcquireTimeout time.Duration
}

type EncoderConfig struct {
	ChunkInterval time.Duration
	Preferred     []string
}

type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

type RulesConfig struct {
	Path           string
	IterationLimit int
}

type MetricsConfig struct {
	ListenAddr string
}

type fileConfig struct {
	Relay struct {
		URL             string `toml:"url"`
		APIURL          string `toml:"api_url"`
		Token           string `toml:"token"`
		ReadyTimeoutMS  int    `toml:"ready_timeout_ms"`
		ClosedTimeoutMS int    `toml:"closed_ack_timeout_ms"`
	} `toml:"relay"`
	Desktop struct {
		InjectorCommand string `toml:"injector_command"`
		FallbackCommand string `toml:"fallback_command"`
	} `toml:"desktop"`
	Audio struct {
		RecorderCommand string  `toml:"recorder_command"`
		MicFormat       string  `toml:"mic_format"`
		MicDevice       string  `toml:"mic_device"`
		SystemFormat    string  `toml:"system_format"`
		SystemDevice    string  `toml:"system_device"`
		SampleRate      int     `toml:"sample_rate"`
		MicGain         float64 `toml:"mic_gain"`
		SystemGain      float64 `toml:"system_gain"`
		SystemTimeoutMS int     `toml:"system_acquire_timeout_ms"`
	} `toml:"audio"`
	Encoder struct {
		ChunkIntervalMS int      `toml:"chunk_interval_ms"`
		Preferred       []string `toml:"preferred_codecs"`
	} `toml:"encoder"`
	OpenAI struct {
		APIKey  string `toml:"api_key"`
		BaseURL string `toml:"base_url"`
		Model   string `toml:"model"`
	} `toml:"openai"`
	Rules struct {
		Path           string `toml:"path"`
		IterationLimit int    `toml:"iteration_limit"`
	} `toml:"rules"`
	Metrics struct {
		ListenAddr string `toml:"listen_addr"`
	} `toml:"metrics"`
}

// Load resolves configuration from the optional TOML file, environment
// variable overrides, and defaults, in that precedence order (env wins).
func Load() (Config, error) {
	cfg := defaults()

	if path := configFilePath(); path != "" {
		var fc fileConfig
		if _, err := toml.DecodeFile(path, &fc); err != nil {
			return Config{}, errors.New("could not parse config file " + path + ": " + err.Error())
		}
		applyFile(&cfg, fc)
	}

	applyEnv(&cfg)
	normalize(&cfg)
	return cfg, nil
}

func defaults() Config {
	return Config{
		Relay: RelayConfig{
			URL:              "wss://relay.livescribe.dev/v1/stream",
			APIURL:           "https://relay.livescribe.dev/v1",
			ReadyTimeout:     10 * time.Second,
			ClosedAckTimeout: 2 * time.Second,
		},
		Desktop: DesktopConfig{
			InjectorCommand: "xdotool type --clearmodifiers --file -",
		},
		Audio: AudioConfig{
			RecorderCommand:      "ffmpeg",
			MicFormat:            "pulse",
			MicDevice:            "default",
			SystemFormat:         "pulse",
			SystemDevice:         "default.monitor",
			SampleRate:           16000,
			Channels:             1,
			MicGain:              1.0,
			SystemGain:           0.5,
			SystemAcquireTimeout: 5 * time.Second,
		},
		Encoder: EncoderConfig{
			ChunkInterval: 250 * time.Millisecond,
			Preferred:     []string{"mp3", "linear16"},
		},
		OpenAI: OpenAIConfig{
			Model: "gpt-4o-mini",
		},
		Rules: RulesConfig{
			IterationLimit: 30,
		},
		Metrics: MetricsConfig{
			ListenAddr: "127.0.0.1:9470",
		},
	}
}

func applyFile(cfg *Config, fc fileConfig) {
	if fc.Relay.URL != "" {
		cfg.Relay.URL = fc.Relay.URL
	}
	if fc.Relay.APIURL != "" {
		cfg.Relay.APIURL = fc.Relay.APIURL
	}
	if fc.Desktop.InjectorCommand != "" {
		cfg.Desktop.InjectorCommand = fc.Desktop.InjectorCommand
	}
	if fc.Desktop.FallbackCommand != "" {
		cfg.Desktop.FallbackCommand = fc.Desktop.FallbackCommand
	}
	if fc.Relay.Token != "" {
		cfg.Relay.Token = fc.Relay.Token
	}
	if fc.Relay.ReadyTimeoutMS > 0 {
		cfg.Relay.ReadyTimeout = time.Duration(fc.Relay.ReadyTimeoutMS) * time.Millisecond
	}
	if fc.Relay.ClosedTimeoutMS > 0 {
		cfg.Relay.ClosedAckTimeout = time.Duration(fc.Relay.ClosedTimeoutMS) * time.Millisecond
	}
	if fc.Audio.RecorderCommand != "" {
		cfg.Audio.RecorderCommand = fc.Audio.RecorderCommand
	}
	if fc.Audio.MicFormat != "" {
		cfg.Audio.MicFormat = fc.Audio.MicFormat
	}
	if fc.Audio.MicDevice != "" {
		cfg.Audio.MicDevice = fc.Audio.MicDevice
	}
	if fc.Audio.SystemFormat != "" {
		cfg.Audio.SystemFormat = fc.Audio.SystemFormat
	}
	if fc.Audio.SystemDevice != "" {
		cfg.Audio.SystemDevice = fc.Audio.SystemDevice
	}
	if fc.Audio.SampleRate > 0 {
		cfg.Audio.SampleRate = fc.Audio.SampleRate
	}
	if fc.Audio.MicGain > 0 {
		cfg.Audio.MicGain = fc.Audio.MicGain
	}
	if fc.Audio.SystemGain > 0 {
		cfg.Audio.SystemGain = fc.Audio.SystemGain
	}
	if fc.Audio.SystemTimeoutMS > 0 {
		cfg.Audio.SystemAcquireTimeout = time.Duration(fc.Audio.SystemTimeoutMS) * time.Millisecond
	}
	if fc.Encoder.ChunkIntervalMS > 0 {
		cfg.Encoder.ChunkInterval = time.Duration(fc.Encoder.ChunkIntervalMS) * time.Millisecond
	}
	if len(fc.Encoder.Preferred) > 0 {
		cfg.Encoder.Preferred = fc.Encoder.Preferred
	}
	if fc.OpenAI.APIKey != "" {
		cfg.OpenAI.APIKey = fc.OpenAI.APIKey
	}
	if fc.OpenAI.BaseURL != "" {
		cfg.OpenAI.BaseURL = fc.OpenAI.BaseURL
	}
	if fc.OpenAI.Model != "" {
		cfg.OpenAI.Model = fc.OpenAI.Model
	}
	if fc.Rules.Path != "" {
		cfg.Rules.Path = expandTilde(fc.Rules.Path)
	}
	if fc.Rules.IterationLimit > 0 {
		cfg.Rules.IterationLimit = fc.Rules.IterationLimit
	}
	if fc.Metrics.ListenAddr != "" {
		cfg.Metrics.ListenAddr = fc.Metrics.ListenAddr
	}
}

func applyEnv(cfg *Config) {
	setString(&cfg.Relay.URL, "LIVESCRIBE_RELAY_URL")
	setString(&cfg.Relay.APIURL, "LIVESCRIBE_RELAY_API_URL")
	setString(&cfg.Relay.Token, "LIVESCRIBE_RELAY_TOKEN")
	setString(&cfg.Desktop.InjectorCommand, "LIVESCRIBE_INJECTOR_COMMAND")
	setString(&cfg.Desktop.FallbackCommand, "LIVESCRIBE_FALLBACK_COMMAND")
	setDurationMS(&cfg.Relay.ReadyTimeout, "LIVESCRIBE_READY_TIMEOUT_MS")
	setDurationMS(&cfg.Relay.ClosedAckTimeout, "LIVESCRIBE_CLOSED_ACK_TIMEOUT_MS")

	setString(&cfg.Audio.RecorderCommand, "LIVESCRIBE_FFMPEG_COMMAND")
	setString(&cfg.Audio.MicFormat, "LIVESCRIBE_MIC_FORMAT")
	setString(&cfg.Audio.MicDevice, "LIVESCRIBE_MIC_DEVICE")
	setString(&cfg.Audio.SystemFormat, "LIVESCRIBE_SYSTEM_FORMAT")
	setString(&cfg.Audio.SystemDevice, "LIVESCRIBE_SYSTEM_DEVICE")
	setInt(&cfg.Audio.SampleRate, "LIVESCRIBE_SAMPLE_RATE")
	setFloat(&cfg.Audio.MicGain, "LIVESCRIBE_MIC_GAIN")
	setFloat(&cfg.Audio.SystemGain, "LIVESCRIBE_SYSTEM_GAIN")
	setDurationMS(&cfg.Audio.SystemAcquireTimeout, "LIVESCRIBE_SYSTEM_ACQUIRE_TIMEOUT_MS")

	setDurationMS(&cfg.Encoder.ChunkInterval, "LIVESCRIBE_CHUNK_INTERVAL_MS")

	setString(&cfg.OpenAI.APIKey, "OPENAI_API_KEY")
	setString(&cfg.OpenAI.BaseURL, "OPENAI_API_BASE")
	setString(&cfg.OpenAI.Model, "LIVESCRIBE_OPENAI_MODEL")

	if v := strings.TrimSpace(os.Getenv("LIVESCRIBE_RULES_FILE")); v != "" {
		cfg.Rules.Path = expandTilde(v)
	}
	setInt(&cfg.Rules.IterationLimit, "LIVESCRIBE_RULE_ITERATION_LIMIT")
	setString(&cfg.Metrics.ListenAddr, "LIVESCRIBE_METRICS_ADDR")
}

func normalize(cfg *Config) {
	if cfg.Audio.SampleRate <= 0 {
		cfg.Audio.SampleRate = 16000
	}
	if cfg.Audio.Channels <= 0 {
		cfg.Audio.Channels = 1
	}
	if cfg.Audio.MicGain <= 0 {
		cfg.Audio.MicGain = 1.0
	}
	if cfg.Audio.SystemGain <= 0 {
		cfg.Audio.SystemGain = 0.5
	}
	if cfg.Encoder.ChunkInterval <= 0 {
		cfg.Encoder.ChunkInterval = 250 * time.Millisecond
	}
	if len(cfg.Encoder.Preferred) == 0 {
		cfg.Encoder.Preferred = []string{"mp3", "linear16"}
	}
	if cfg.Relay.ReadyTimeout <= 0 {
		cfg.Relay.ReadyTimeout = 10 * time.Second
	}
	if cfg.Relay.ClosedAckTimeout <= 0 {
		cfg.Relay.ClosedAckTimeout = 2 * time.Second
	}
	if cfg.Rules.IterationLimit <= 0 {
		cfg.Rules.IterationLimit = 30
	}
}

func configFilePath() string {
	if v := strings.TrimSpace(os.Getenv("LIVESCRIBE_CONFIG")); v != "" {
		return expandTilde(v)
	}

	var configDir string
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		configDir = filepath.Join(xdg, "livescribe")
	} else if home, err := os.UserHomeDir(); err == nil {
		configDir = filepath.Join(home, ".config", "livescribe")
	} else {
		return ""
	}

	path := filepath.Join(configDir, "config.toml")
	if _, err := os.Stat(path); err == nil {
		return path
	}
	return ""
}

func expandTilde(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}

func setString(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return
	}
	if parsed, err := strconv.Atoi(v); err == nil {
		*dst = parsed
	}
}

func setFloat(dst *float64, key string) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return
	}
	if parsed, err := strconv.ParseFloat(v, 64); err == nil {
		*dst = parsed
	}
}

func setDurationMS(dst *time.Duration, key string) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return
	}
	if parsed, err := strconv.Atoi(v); err == nil && parsed >= 0 {
		*dst = time.Duration(parsed) * time.Millisecond
	}
}
