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
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	StoreDir       string   `yaml:"store_dir"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type AudioConfig struct {
	// InputDevice selects a capture device by name; empty means the
	// system default input.
	InputDevice      string `yaml:"input_device"`
	SampleRate       int    `yaml:"sample_rate"`
	Channels         int    `yaml:"channels"`
	BufferDurationMS int    `yaml:"buffer_duration_ms"`
}

type VADConfig struct {
	Enabled             bool `yaml:"enabled"`
	Aggressiveness      int  `yaml:"aggressiveness"`
	FrameDurationMS     int  `yaml:"frame_duration_ms"`
	MinSpeechDurationMS int  `yaml:"min_speech_duration_ms"`
	PaddingMS           int  `yaml:"padding_ms"`
}

type RecordingConfig struct {
	// MaxDurationSec is a hard cap on a single recording; the controller
	// stops and transcribes when it is reached.
	MaxDurationSec int `yaml:"max_duration_sec"`
	// SilenceTimeoutMS auto-stops after this much continuous silence once
	// speech has been heard at least once. 0 disables auto-stop.
	SilenceTimeoutMS int `yaml:"silence_timeout_ms"`
}

type LocalProviderConfig struct {
	Command    string `yaml:"command"`
	Model      string `yaml:"model"`
	ThreadHint int    `yaml:"threads"`
}

type CloudProviderConfig struct {
	Endpoint string `yaml:"endpoint"`
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
}

type TranscriptionConfig struct {
	// Provider is one of local|cloud|mock.
	Provider string `yaml:"provider"`
	// Fallback is tried once when the primary fails; empty disables it.
	Fallback  string              `yaml:"fallback"`
	TimeoutMS int                 `yaml:"timeout_ms"`
	Language  string              `yaml:"language"`
	Local     LocalProviderConfig `yaml:"local"`
	Cloud     CloudProviderConfig `yaml:"cloud"`
}

type ModelsConfig struct {
	Dir string `yaml:"dir"`
}

type OutputConfig struct {
	// Mode is one of clipboard|log.
	Mode string `yaml:"mode"`
}

type Config struct {
	ServiceName   string              `yaml:"service_name"`
	Environment   string              `yaml:"environment"`
	HTTP          HTTPConfig          `yaml:"http"`
	Telemetry     TelemetryConfig     `yaml:"telemetry"`
	Bus           BusConfig           `yaml:"bus"`
	Audio         AudioConfig         `yaml:"audio"`
	VAD           VADConfig           `yaml:"vad"`
	Recording     RecordingConfig     `yaml:"recording"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	Models        ModelsConfig        `yaml:"models"`
	Output        OutputConfig        `yaml:"output"`
}

func Default() Config {
	return Config{
		ServiceName: "murmur-core",
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
			Enabled:        true,
			Embedded:       true,
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Audio: AudioConfig{
			SampleRate:       16000,
			Channels:         1,
			BufferDurationMS: 300000,
		},
		VAD: VADConfig{
			Enabled:             true,
			Aggressiveness:      2,
			FrameDurationMS:     30,
			MinSpeechDurationMS: 100,
			PaddingMS:           300,
		},
		Recording: RecordingConfig{
			MaxDurationSec:   300,
			SilenceTimeoutMS: 0,
		},
		Transcription: TranscriptionConfig{
			Provider:  "local",
			Fallback:  "",
			TimeoutMS: 300000,
			Language:  "auto",
			Local: LocalProviderConfig{
				Command:    "whisper-cli",
				Model:      "base",
				ThreadHint: 4,
			},
			Cloud: CloudProviderConfig{
				Endpoint: "https://api.groq.com/openai/v1/audio/transcriptions",
				Model:    "whisper-large-v3",
			},
		},
		Models: ModelsConfig{
			Dir: "./data/models",
		},
		Output: OutputConfig{
			Mode: "clipboard",
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
	overrideString(&cfg.ServiceName, "MURMUR_SERVICE_NAME")
	overrideString(&cfg.Environment, "MURMUR_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "MURMUR_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "MURMUR_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "MURMUR_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "MURMUR_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "MURMUR_TELEMETRY_OTLP_INSECURE")
	overrideBool(&cfg.Bus.Enabled, "MURMUR_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "MURMUR_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "MURMUR_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "MURMUR_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "MURMUR_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "MURMUR_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "MURMUR_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "MURMUR_BUS_TOKEN")
	overrideInt(&cfg.Bus.ConnectTimeout, "MURMUR_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Audio.InputDevice, "MURMUR_AUDIO_INPUT_DEVICE")
	overrideInt(&cfg.Audio.SampleRate, "MURMUR_AUDIO_SAMPLE_RATE")
	overrideInt(&cfg.Audio.Channels, "MURMUR_AUDIO_CHANNELS")
	overrideInt(&cfg.Audio.BufferDurationMS, "MURMUR_AUDIO_BUFFER_DURATION_MS")
	overrideBool(&cfg.VAD.Enabled, "MURMUR_VAD_ENABLED")
	overrideInt(&cfg.VAD.Aggressiveness, "MURMUR_VAD_AGGRESSIVENESS")
	overrideInt(&cfg.VAD.FrameDurationMS, "MURMUR_VAD_FRAME_DURATION_MS")
	overrideInt(&cfg.VAD.MinSpeechDurationMS, "MURMUR_VAD_MIN_SPEECH_DURATION_MS")
	overrideInt(&cfg.VAD.PaddingMS, "MURMUR_VAD_PADDING_MS")
	overrideInt(&cfg.Recording.MaxDurationSec, "MURMUR_RECORDING_MAX_DURATION_SEC")
	overrideInt(&cfg.Recording.SilenceTimeoutMS, "MURMUR_RECORDING_SILENCE_TIMEOUT_MS")
	overrideString(&cfg.Transcription.Provider, "MURMUR_TRANSCRIPTION_PROVIDER")
	overrideString(&cfg.Transcription.Fallback, "MURMUR_TRANSCRIPTION_FALLBACK")
	overrideInt(&cfg.Transcription.TimeoutMS, "MURMUR_TRANSCRIPTION_TIMEOUT_MS")
	overrideString(&cfg.Transcription.Language, "MURMUR_TRANSCRIPTION_LANGUAGE")
	overrideString(&cfg.Transcription.Local.Command, "MURMUR_TRANSCRIPTION_LOCAL_COMMAND")
	overrideString(&cfg.Transcription.Local.Model, "MURMUR_TRANSCRIPTION_LOCAL_MODEL")
	overrideInt(&cfg.Transcription.Local.ThreadHint, "MURMUR_TRANSCRIPTION_LOCAL_THREADS")
	overrideString(&cfg.Transcription.Cloud.Endpoint, "MURMUR_TRANSCRIPTION_CLOUD_ENDPOINT")
	overrideString(&cfg.Transcription.Cloud.APIKey, "MURMUR_TRANSCRIPTION_CLOUD_API_KEY")
	overrideString(&cfg.Transcription.Cloud.Model, "MURMUR_TRANSCRIPTION_CLOUD_MODEL")
	overrideString(&cfg.Models.Dir, "MURMUR_MODELS_DIR")
	overrideString(&cfg.Output.Mode, "MURMUR_OUTPUT_MODE")
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

const (
	maxRecordingDurationSec = 1800
	maxSilenceTimeoutMS     = 60000
	maxVADAggressiveness    = 3
)

func validate(cfg Config) error {
	if cfg.ServiceName == "" {
		return errors.New("service_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.Audio.SampleRate <= 0 {
		return errors.New("audio.sample_rate must be positive")
	}
	if cfg.Audio.Channels != 1 {
		return errors.New("audio.channels must be 1 (mono)")
	}
	if cfg.Audio.BufferDurationMS <= 0 {
		return errors.New("audio.buffer_duration_ms must be positive")
	}
	if cfg.VAD.Aggressiveness < 0 || cfg.VAD.Aggressiveness > maxVADAggressiveness {
		return fmt.Errorf("vad.aggressiveness must be between 0 and %d", maxVADAggressiveness)
	}
	if cfg.VAD.FrameDurationMS <= 0 {
		return errors.New("vad.frame_duration_ms must be positive")
	}
	if cfg.Recording.MaxDurationSec <= 0 || cfg.Recording.MaxDurationSec > maxRecordingDurationSec {
		return fmt.Errorf("recording.max_duration_sec must be between 1 and %d", maxRecordingDurationSec)
	}
	if cfg.Recording.SilenceTimeoutMS < 0 || cfg.Recording.SilenceTimeoutMS > maxSilenceTimeoutMS {
		return fmt.Errorf("recording.silence_timeout_ms must be between 0 and %d", maxSilenceTimeoutMS)
	}
	switch cfg.Transcription.Provider {
	case "local", "cloud", "mock":
	default:
		return errors.New("transcription.provider must be one of local|cloud|mock")
	}
	switch cfg.Transcription.Fallback {
	case "", "local", "cloud", "mock":
	default:
		return errors.New("transcription.fallback must be one of local|cloud|mock or empty")
	}
	if cfg.Transcription.Fallback != "" && cfg.Transcription.Fallback == cfg.Transcription.Provider {
		return errors.New("transcription.fallback must differ from transcription.provider")
	}
	if cfg.Transcription.TimeoutMS <= 0 {
		return errors.New("transcription.timeout_ms must be positive")
	}
	if cfg.Transcription.Provider == "local" || cfg.Transcription.Fallback == "local" {
		if cfg.Transcription.Local.Command == "" {
			return errors.New("transcription.local.command must be set when the local provider is used")
		}
		if cfg.Transcription.Local.Model == "" {
			return errors.New("transcription.local.model must be set when the local provider is used")
		}
	}
	if cfg.Transcription.Provider == "cloud" || cfg.Transcription.Fallback == "cloud" {
		if cfg.Transcription.Cloud.Endpoint == "" {
			return errors.New("transcription.cloud.endpoint must be set when the cloud provider is used")
		}
	}
	if cfg.Models.Dir == "" {
		return errors.New("models.dir must not be empty")
	}
	switch cfg.Output.Mode {
	case "clipboard", "log":
	default:
		return errors.New("output.mode must be one of clipboard|log")
	}
	return nil
}
