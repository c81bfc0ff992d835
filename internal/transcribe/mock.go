package transcribe

import (
	"context"
	"fmt"

	"github.com/murmurlabs/murmur-core/internal/audio"
)

type mockProvider struct{}

// NewMockProvider returns a provider that fabricates transcripts, used for
// pipeline testing without a speech backend.
func NewMockProvider() Provider {
	return &mockProvider{}
}

func (m *mockProvider) Name() string    { return "mock" }
func (m *mockProvider) Available() bool { return true }

func (m *mockProvider) Transcribe(_ context.Context, req Request) (Result, error) {
	return Result{
		Text:     fmt.Sprintf("[transcript duration=%.1fs]", audio.DurationSeconds(len(req.Samples), req.SampleRate)),
		Provider: m.Name(),
	}, nil
}
