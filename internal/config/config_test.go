package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Audio.SampleRate != 16000 {
		t.Fatalf("expected default sample rate 16000, got %d", cfg.Audio.SampleRate)
	}
	if cfg.Recording.MaxDurationSec != 300 {
		t.Fatalf("expected default max duration 300, got %d", cfg.Recording.MaxDurationSec)
	}
	if cfg.Transcription.Provider != "local" {
		t.Fatalf("expected default provider local, got %q", cfg.Transcription.Provider)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("MURMUR_AUDIO_INPUT_DEVICE", "USB Microphone")
	t.Setenv("MURMUR_RECORDING_SILENCE_TIMEOUT_MS", "2000")
	t.Setenv("MURMUR_TRANSCRIPTION_PROVIDER", "cloud")
	t.Setenv("MURMUR_TRANSCRIPTION_CLOUD_API_KEY", "secret")
	t.Setenv("MURMUR_MODELS_DIR", "/tmp/models")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Audio.InputDevice != "USB Microphone" {
		t.Fatalf("expected input device override, got %q", cfg.Audio.InputDevice)
	}
	if cfg.Recording.SilenceTimeoutMS != 2000 {
		t.Fatalf("expected silence timeout override, got %d", cfg.Recording.SilenceTimeoutMS)
	}
	if cfg.Transcription.Provider != "cloud" {
		t.Fatalf("expected provider override, got %q", cfg.Transcription.Provider)
	}
	if cfg.Transcription.Cloud.APIKey != "secret" {
		t.Fatalf("expected api key override")
	}
	if cfg.Models.Dir != "/tmp/models" {
		t.Fatalf("expected models dir override, got %q", cfg.Models.Dir)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "murmur.yaml")
	body := `
recording:
  max_duration_sec: 120
  silence_timeout_ms: 1500
transcription:
  provider: mock
vad:
  aggressiveness: 3
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Recording.MaxDurationSec != 120 {
		t.Fatalf("expected max duration 120, got %d", cfg.Recording.MaxDurationSec)
	}
	if cfg.Recording.SilenceTimeoutMS != 1500 {
		t.Fatalf("expected silence timeout 1500, got %d", cfg.Recording.SilenceTimeoutMS)
	}
	if cfg.Transcription.Provider != "mock" {
		t.Fatalf("expected provider mock, got %q", cfg.Transcription.Provider)
	}
	if cfg.VAD.Aggressiveness != 3 {
		t.Fatalf("expected aggressiveness 3, got %d", cfg.VAD.Aggressiveness)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero sample rate", func(c *Config) { c.Audio.SampleRate = 0 }},
		{"stereo capture", func(c *Config) { c.Audio.Channels = 2 }},
		{"zero buffer duration", func(c *Config) { c.Audio.BufferDurationMS = 0 }},
		{"excessive max duration", func(c *Config) { c.Recording.MaxDurationSec = 3600 }},
		{"negative silence timeout", func(c *Config) { c.Recording.SilenceTimeoutMS = -1 }},
		{"unknown provider", func(c *Config) { c.Transcription.Provider = "finetuned" }},
		{"fallback equals primary", func(c *Config) { c.Transcription.Fallback = "local" }},
		{"zero transcription timeout", func(c *Config) { c.Transcription.TimeoutMS = 0 }},
		{"vad aggressiveness out of range", func(c *Config) { c.VAD.Aggressiveness = 4 }},
		{"empty models dir", func(c *Config) { c.Models.Dir = "" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			if err := validate(cfg); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}
