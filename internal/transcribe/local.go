package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"sync"

	"github.com/mattn/go-shellwords"

	"github.com/murmurlabs/murmur-core/internal/audio"
	"github.com/murmurlabs/murmur-core/internal/config"
)

// ModelResolver maps a model id to its on-disk path, if downloaded.
type ModelResolver interface {
	ModelPath(id string) (string, bool)
}

// localProvider shells out to a whisper-compatible CLI. The audio is
// written to a temp WAV and the command is expected to print JSON with a
// "text" field on stdout.
type localProvider struct {
	cmd      []string
	cfg      config.LocalProviderConfig
	resolver ModelResolver
	mu       sync.Mutex
}

type execOutput struct {
	Text     string `json:"text"`
	Language string `json:"language"`
}

func NewLocalProvider(cfg config.LocalProviderConfig, resolver ModelResolver) (Provider, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse transcriber command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("transcriber command is empty")
	}
	return &localProvider{cmd: args, cfg: cfg, resolver: resolver}, nil
}

func (p *localProvider) Name() string { return "local" }

func (p *localProvider) ModelID() string { return p.cfg.Model }

func (p *localProvider) Available() bool {
	if p.resolver == nil {
		return true
	}
	_, ok := p.resolver.ModelPath(p.cfg.Model)
	return ok
}

func (p *localProvider) Transcribe(ctx context.Context, req Request) (Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	modelPath := ""
	if p.resolver != nil {
		path, ok := p.resolver.ModelPath(p.cfg.Model)
		if !ok {
			return Result{}, fmt.Errorf("%w: %s", ErrModelNotAvailable, p.cfg.Model)
		}
		modelPath = path
	}

	file, err := os.CreateTemp("", "murmur_stt_*.wav")
	if err != nil {
		return Result{}, fmt.Errorf("temp file: %w", err)
	}
	defer os.Remove(file.Name())
	defer file.Close()

	if err := audio.EncodeWAV(file, req.Samples, req.SampleRate); err != nil {
		return Result{}, fmt.Errorf("encode wav: %w", err)
	}

	args := append([]string{}, p.cmd...)
	base := args[0]
	cmdArgs := args[1:]
	cmdArgs = append(cmdArgs, "--audio", file.Name())
	if modelPath != "" {
		cmdArgs = append(cmdArgs, "--model", modelPath)
	}
	if req.Language != "" && req.Language != "auto" {
		cmdArgs = append(cmdArgs, "--language", req.Language)
	}
	if p.cfg.ThreadHint > 0 {
		cmdArgs = append(cmdArgs, "--threads", strconv.Itoa(p.cfg.ThreadHint))
	}

	command := exec.CommandContext(ctx, base, cmdArgs...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		return Result{}, fmt.Errorf("transcriber command failed: %w: %s", err, stderr.String())
	}

	var resp execOutput
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return Result{}, fmt.Errorf("decode transcriber response: %w", err)
	}
	return Result{Text: resp.Text, Language: resp.Language, Provider: p.Name()}, nil
}
