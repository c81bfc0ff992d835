// Package transcribe turns captured PCM into text through pluggable
// providers with timeout and fallback handling.
package transcribe

import (
	"context"
	"errors"
)

var (
	// ErrTimeout is returned when a provider exceeds the transcription
	// deadline.
	ErrTimeout = errors.New("transcription timed out")

	// ErrModelNotAvailable is returned when a local provider's model has
	// not been downloaded.
	ErrModelNotAvailable = errors.New("model not available")

	// ErrCancelled is returned when the caller abandons a transcription
	// before it completes.
	ErrCancelled = errors.New("transcription cancelled")

	// ErrRateLimited is returned when a cloud provider rejects the
	// request for quota reasons.
	ErrRateLimited = errors.New("provider rate limited")

	// ErrInvalidAudio is returned when a request carries no samples.
	ErrInvalidAudio = errors.New("empty audio buffer")
)

// Request carries a complete utterance to a provider.
type Request struct {
	Samples    []float32
	SampleRate int
	Language   string
}

// Result captures provider output. RequestID ties the result back to the
// orchestrator request; Language is empty when the backend does not report
// one.
type Result struct {
	RequestID string
	Text      string
	Language  string
	Provider  string
}

// Provider abstracts transcription backends.
type Provider interface {
	// Transcribe converts the request audio to text. Implementations
	// must honor ctx cancellation.
	Transcribe(ctx context.Context, req Request) (Result, error)

	// Name identifies the provider in logs and events.
	Name() string

	// Available reports whether the provider can currently serve
	// requests.
	Available() bool
}

// ModelBacked is implemented by providers whose availability depends on a
// downloaded model.
type ModelBacked interface {
	ModelID() string
}
