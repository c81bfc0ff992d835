package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/murmurlabs/murmur-core/internal/audio"
	"github.com/murmurlabs/murmur-core/internal/config"
)

// cloudProvider posts WAV audio to an OpenAI-compatible transcription
// endpoint.
type cloudProvider struct {
	cfg    config.CloudProviderConfig
	client *http.Client
}

type cloudResponse struct {
	Text     string `json:"text"`
	Language string `json:"language"`
}

func NewCloudProvider(cfg config.CloudProviderConfig) Provider {
	return &cloudProvider{
		cfg: cfg,
		// The orchestrator bounds the request through ctx; the client
		// timeout is a backstop for connection setup.
		client: &http.Client{Timeout: 10 * time.Minute},
	}
}

func (p *cloudProvider) Name() string { return "cloud" }

func (p *cloudProvider) Available() bool {
	return p.cfg.Endpoint != "" && p.cfg.APIKey != ""
}

func (p *cloudProvider) Transcribe(ctx context.Context, req Request) (Result, error) {
	var wavBuf audio.WriteSeekBuffer
	if err := audio.EncodeWAV(&wavBuf, req.Samples, req.SampleRate); err != nil {
		return Result{}, fmt.Errorf("encode wav: %w", err)
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", "audio.wav")
	if err != nil {
		return Result{}, fmt.Errorf("build multipart request: %w", err)
	}
	if _, err := part.Write(wavBuf.Bytes()); err != nil {
		return Result{}, fmt.Errorf("build multipart request: %w", err)
	}
	if err := writer.WriteField("model", p.cfg.Model); err != nil {
		return Result{}, fmt.Errorf("build multipart request: %w", err)
	}
	if req.Language != "" && req.Language != "auto" {
		if err := writer.WriteField("language", req.Language); err != nil {
			return Result{}, fmt.Errorf("build multipart request: %w", err)
		}
	}
	if err := writer.WriteField("response_format", "json"); err != nil {
		return Result{}, fmt.Errorf("build multipart request: %w", err)
	}
	if err := writer.Close(); err != nil {
		return Result{}, fmt.Errorf("build multipart request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.Endpoint, &body)
	if err != nil {
		return Result{}, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := p.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		return Result{}, fmt.Errorf("transcription request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return Result{}, ErrRateLimited
	}
	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Result{}, fmt.Errorf("transcription request failed: status %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}

	var decoded cloudResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return Result{}, fmt.Errorf("decode transcription response: %w", err)
	}
	return Result{Text: decoded.Text, Language: decoded.Language, Provider: p.Name()}, nil
}
