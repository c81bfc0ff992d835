package transcribe

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/murmurlabs/murmur-core/internal/config"
)

func TestCloudProviderTranscribe(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization = %q", got)
		}
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		if got := r.FormValue("model"); got != "whisper-large-v3" {
			t.Errorf("model = %q", got)
		}
		if got := r.FormValue("language"); got != "en" {
			t.Errorf("language = %q", got)
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Errorf("file field: %v", err)
		} else {
			file.Close()
			if header.Filename != "audio.wav" {
				t.Errorf("filename = %q", header.Filename)
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"text":"hello world"}`))
	}))
	defer server.Close()

	p := NewCloudProvider(config.CloudProviderConfig{
		Endpoint: server.URL,
		APIKey:   "test-key",
		Model:    "whisper-large-v3",
	})

	result, err := p.Transcribe(context.Background(), Request{
		Samples:    make([]float32, 1600),
		SampleRate: 16000,
		Language:   "en",
	})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if result.Text != "hello world" {
		t.Fatalf("text = %q, want %q", result.Text, "hello world")
	}
	if result.Provider != "cloud" {
		t.Fatalf("provider = %q, want cloud", result.Provider)
	}
}

func TestCloudProviderRateLimited(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	p := NewCloudProvider(config.CloudProviderConfig{Endpoint: server.URL, APIKey: "k", Model: "m"})
	_, err := p.Transcribe(context.Background(), Request{Samples: make([]float32, 160), SampleRate: 16000})
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
}

func TestCloudProviderServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "backend exploded", http.StatusInternalServerError)
	}))
	defer server.Close()

	p := NewCloudProvider(config.CloudProviderConfig{Endpoint: server.URL, APIKey: "k", Model: "m"})
	_, err := p.Transcribe(context.Background(), Request{Samples: make([]float32, 160), SampleRate: 16000})
	if err == nil {
		t.Fatal("expected error for 500 response")
	}
}

func TestCloudProviderAvailability(t *testing.T) {
	if NewCloudProvider(config.CloudProviderConfig{Endpoint: "https://x", APIKey: ""}).Available() {
		t.Fatal("provider without api key should be unavailable")
	}
	if !NewCloudProvider(config.CloudProviderConfig{Endpoint: "https://x", APIKey: "k"}).Available() {
		t.Fatal("configured provider should be available")
	}
}
