package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel     string `yaml:"log_level"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type BusConfig struct {
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	StoreDir       string   `yaml:"store_dir"`
	Servers        []string `yaml:"servers"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type ControlConfig struct {
	Socket string `yaml:"socket"`
}

type CaptureConfig struct {
	Device          string `yaml:"device"`
	SampleRate      int    `yaml:"sample_rate"`
	Channels        int    `yaml:"channels"`
	FrameDurationMS int    `yaml:"frame_duration_ms"`
	BufferFrames    int    `yaml:"buffer_frames"`
	LevelEveryMS    int    `yaml:"level_every_ms"`
	FixturePath     string `yaml:"fixture_path"`
}

type VADConfig struct {
	Threshold      float64 `yaml:"threshold"`
	ReleaseRatio   float64 `yaml:"release_ratio"`
	StartFrames    int     `yaml:"start_frames"`
	ReleaseTailMS  int     `yaml:"release_tail_ms"`
	MaxUtteranceMS int     `yaml:"max_utterance_ms"`
	Smoothing      float64 `yaml:"smoothing"`
}

type DecodeConfig struct {
	Mode               string  `yaml:"mode"` // mock, exec
	Command            string  `yaml:"command"`
	AcceleratedArgs    string  `yaml:"accelerated_args"`
	StrictArgs         string  `yaml:"strict_args"`
	Language           string  `yaml:"language"`
	Quality            string  `yaml:"quality"` // fast, balanced, accurate
	PublishInterim     bool    `yaml:"publish_interim"`
	InterimHeadMS      int     `yaml:"interim_head_ms"`
	RetryLowCoherence  bool    `yaml:"retry_low_coherence"`
	NoSpeechThreshold  float64 `yaml:"no_speech_threshold"`
	RepetitionRatioMax float64 `yaml:"repetition_ratio_max"`
}

type ModelsConfig struct {
	Dir    string `yaml:"dir"`
	Active string `yaml:"active"`
}

type InsertionConfig struct {
	LedgerCapacity   int  `yaml:"ledger_capacity"`
	DisableKeystroke bool `yaml:"disable_keystroke"`
	DisablePaste     bool `yaml:"disable_paste"`
	PasteSettleMS    int  `yaml:"paste_settle_ms"`
	RestoreClipboard bool `yaml:"restore_clipboard"`
}

type EventStoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxSessions   int    `yaml:"max_sessions"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type WatchdogConfig struct {
	ListenWindowMS int `yaml:"listen_window_ms"`
}

type NotifyConfig struct {
	Enabled bool `yaml:"enabled"`
}

type Config struct {
	RuntimeName string           `yaml:"runtime_name"`
	Environment string           `yaml:"environment"`
	HTTP        HTTPConfig       `yaml:"http"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Bus         BusConfig        `yaml:"bus"`
	Control     ControlConfig    `yaml:"control"`
	Capture     CaptureConfig    `yaml:"capture"`
	VAD         VADConfig        `yaml:"vad"`
	Decode      DecodeConfig     `yaml:"decode"`
	Models      ModelsConfig     `yaml:"models"`
	Insertion   InsertionConfig  `yaml:"insertion"`
	EventStore  EventStoreConfig `yaml:"event_store"`
	Watchdog    WatchdogConfig   `yaml:"watchdog"`
	Notify      NotifyConfig     `yaml:"notify"`
}

func Default() Config {
	return Config{
		RuntimeName: "murmur-runtime",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "127.0.0.1",
			Port: 8090,
		},
		Telemetry: TelemetryConfig{
			LogLevel:     "info",
			OTLPEndpoint: "",
			OTLPInsecure: true,
		},
		Bus: BusConfig{
			Embedded:       true,
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Control: ControlConfig{
			Socket: "./data/murmur.sock",
		},
		Capture: CaptureConfig{
			Device:          "default",
			SampleRate:      16000,
			Channels:        1,
			FrameDurationMS: 20,
			BufferFrames:    64,
			LevelEveryMS:    100,
		},
		VAD: VADConfig{
			Threshold:      0.015,
			ReleaseRatio:   0.6,
			StartFrames:    3,
			ReleaseTailMS:  600,
			MaxUtteranceMS: 30000,
			Smoothing:      0.3,
		},
		Decode: DecodeConfig{
			Mode:               "mock",
			Quality:            "balanced",
			PublishInterim:     true,
			InterimHeadMS:      4000,
			RetryLowCoherence:  true,
			NoSpeechThreshold:  0.6,
			RepetitionRatioMax: 0.5,
		},
		Models: ModelsConfig{
			Dir:    "./models",
			Active: "ggml-base.en",
		},
		Insertion: InsertionConfig{
			LedgerCapacity:   50,
			PasteSettleMS:    80,
			RestoreClipboard: true,
		},
		EventStore: EventStoreConfig{
			Path:          "./data/murmur-events.db",
			RetentionMode: "session",
			RetentionDays: 30,
			MaxSessions:   10000,
		},
		Watchdog: WatchdogConfig{
			ListenWindowMS: 30000,
		},
		Notify: NotifyConfig{
			Enabled: false,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "MURMUR_RUNTIME_NAME")
	overrideString(&cfg.Environment, "MURMUR_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "MURMUR_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "MURMUR_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "MURMUR_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "MURMUR_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "MURMUR_TELEMETRY_OTLP_INSECURE")
	overrideBool(&cfg.Bus.Embedded, "MURMUR_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "MURMUR_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "MURMUR_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "MURMUR_BUS_SERVERS")
	overrideInt(&cfg.Bus.ConnectTimeout, "MURMUR_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Control.Socket, "MURMUR_CONTROL_SOCKET")
	overrideString(&cfg.Capture.Device, "MURMUR_CAPTURE_DEVICE")
	overrideInt(&cfg.Capture.SampleRate, "MURMUR_CAPTURE_SAMPLE_RATE")
	overrideInt(&cfg.Capture.Channels, "MURMUR_CAPTURE_CHANNELS")
	overrideInt(&cfg.Capture.FrameDurationMS, "MURMUR_CAPTURE_FRAME_DURATION_MS")
	overrideInt(&cfg.Capture.BufferFrames, "MURMUR_CAPTURE_BUFFER_FRAMES")
	overrideInt(&cfg.Capture.LevelEveryMS, "MURMUR_CAPTURE_LEVEL_EVERY_MS")
	overrideString(&cfg.Capture.FixturePath, "MURMUR_CAPTURE_FIXTURE_PATH")
	overrideFloat(&cfg.VAD.Threshold, "MURMUR_VAD_THRESHOLD")
	overrideFloat(&cfg.VAD.ReleaseRatio, "MURMUR_VAD_RELEASE_RATIO")
	overrideInt(&cfg.VAD.StartFrames, "MURMUR_VAD_START_FRAMES")
	overrideInt(&cfg.VAD.ReleaseTailMS, "MURMUR_VAD_RELEASE_TAIL_MS")
	overrideInt(&cfg.VAD.MaxUtteranceMS, "MURMUR_VAD_MAX_UTTERANCE_MS")
	overrideFloat(&cfg.VAD.Smoothing, "MURMUR_VAD_SMOOTHING")
	overrideString(&cfg.Decode.Mode, "MURMUR_DECODE_MODE")
	overrideString(&cfg.Decode.Command, "MURMUR_DECODE_COMMAND")
	overrideString(&cfg.Decode.AcceleratedArgs, "MURMUR_DECODE_ACCELERATED_ARGS")
	overrideString(&cfg.Decode.StrictArgs, "MURMUR_DECODE_STRICT_ARGS")
	overrideString(&cfg.Decode.Language, "MURMUR_DECODE_LANGUAGE")
	overrideString(&cfg.Decode.Quality, "MURMUR_DECODE_QUALITY")
	overrideBool(&cfg.Decode.PublishInterim, "MURMUR_DECODE_PUBLISH_INTERIM")
	overrideInt(&cfg.Decode.InterimHeadMS, "MURMUR_DECODE_INTERIM_HEAD_MS")
	overrideBool(&cfg.Decode.RetryLowCoherence, "MURMUR_DECODE_RETRY_LOW_COHERENCE")
	overrideFloat(&cfg.Decode.NoSpeechThreshold, "MURMUR_DECODE_NO_SPEECH_THRESHOLD")
	overrideFloat(&cfg.Decode.RepetitionRatioMax, "MURMUR_DECODE_REPETITION_RATIO_MAX")
	overrideString(&cfg.Models.Dir, "MURMUR_MODELS_DIR")
	overrideString(&cfg.Models.Active, "MURMUR_MODELS_ACTIVE")
	overrideInt(&cfg.Insertion.LedgerCapacity, "MURMUR_INSERTION_LEDGER_CAPACITY")
	overrideBool(&cfg.Insertion.DisableKeystroke, "MURMUR_INSERTION_DISABLE_KEYSTROKE")
	overrideBool(&cfg.Insertion.DisablePaste, "MURMUR_INSERTION_DISABLE_PASTE")
	overrideInt(&cfg.Insertion.PasteSettleMS, "MURMUR_INSERTION_PASTE_SETTLE_MS")
	overrideBool(&cfg.Insertion.RestoreClipboard, "MURMUR_INSERTION_RESTORE_CLIPBOARD")
	overrideString(&cfg.EventStore.Path, "MURMUR_EVENT_STORE_PATH")
	overrideString(&cfg.EventStore.RetentionMode, "MURMUR_EVENT_STORE_RETENTION_MODE")
	overrideInt(&cfg.EventStore.RetentionDays, "MURMUR_EVENT_STORE_RETENTION_DAYS")
	overrideInt(&cfg.EventStore.MaxSessions, "MURMUR_EVENT_STORE_MAX_SESSIONS")
	overrideBool(&cfg.EventStore.VacuumOnStart, "MURMUR_EVENT_STORE_VACUUM_ON_START")
	overrideInt(&cfg.Watchdog.ListenWindowMS, "MURMUR_WATCHDOG_LISTEN_WINDOW_MS")
	overrideBool(&cfg.Notify.Enabled, "MURMUR_NOTIFY_ENABLED")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Embedded {
		if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
			return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
		}
	} else {
		if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.Control.Socket == "" {
		return errors.New("control.socket must not be empty")
	}
	if cfg.Capture.SampleRate <= 0 {
		return errors.New("capture.sample_rate must be positive")
	}
	if cfg.Capture.Channels != 1 {
		return errors.New("capture.channels must be 1, frames are mono")
	}
	if cfg.Capture.FrameDurationMS <= 0 {
		return errors.New("capture.frame_duration_ms must be positive")
	}
	if cfg.Capture.BufferFrames <= 0 {
		return errors.New("capture.buffer_frames must be positive")
	}
	if cfg.VAD.Threshold <= 0 || cfg.VAD.Threshold >= 1 {
		return errors.New("vad.threshold must be between 0 and 1 exclusive")
	}
	if cfg.VAD.ReleaseRatio <= 0 || cfg.VAD.ReleaseRatio > 1 {
		return errors.New("vad.release_ratio must be in (0, 1]")
	}
	if cfg.VAD.StartFrames <= 0 {
		return errors.New("vad.start_frames must be positive")
	}
	if cfg.VAD.ReleaseTailMS < 0 {
		return errors.New("vad.release_tail_ms must be >= 0")
	}
	if cfg.VAD.MaxUtteranceMS <= 0 {
		return errors.New("vad.max_utterance_ms must be positive")
	}
	if cfg.VAD.Smoothing <= 0 || cfg.VAD.Smoothing > 1 {
		return errors.New("vad.smoothing must be in (0, 1]")
	}
	switch cfg.Decode.Mode {
	case "mock", "exec":
	default:
		return errors.New("decode.mode must be one of mock|exec")
	}
	if cfg.Decode.Mode == "exec" && cfg.Decode.Command == "" {
		return errors.New("decode.command must be set when mode=exec")
	}
	switch cfg.Decode.Quality {
	case "fast", "balanced", "accurate":
	default:
		return errors.New("decode.quality must be one of fast|balanced|accurate")
	}
	if cfg.Decode.NoSpeechThreshold < 0 || cfg.Decode.NoSpeechThreshold > 1 {
		return errors.New("decode.no_speech_threshold must be between 0 and 1")
	}
	if cfg.Models.Dir == "" {
		return errors.New("models.dir must not be empty")
	}
	if cfg.Models.Active == "" {
		return errors.New("models.active must not be empty")
	}
	if cfg.Insertion.LedgerCapacity <= 0 {
		return errors.New("insertion.ledger_capacity must be positive")
	}
	if cfg.EventStore.Path == "" {
		return errors.New("event_store.path must not be empty")
	}
	switch cfg.EventStore.RetentionMode {
	case "ephemeral", "session", "persistent":
		// ok
	default:
		return errors.New("event_store.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.EventStore.RetentionDays < 0 {
		return errors.New("event_store.retention_days must be >= 0")
	}
	if cfg.Watchdog.ListenWindowMS <= 0 {
		return errors.New("watchdog.listen_window_ms must be positive")
	}
	return nil
}
