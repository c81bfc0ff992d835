package transcribe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/murmurlabs/murmur-core/internal/config"
)

// Orchestrator routes transcription requests to a primary provider with an
// optional fallback, bounding each attempt by the configured timeout.
type Orchestrator struct {
	primary  Provider
	fallback Provider
	timeout  time.Duration
	language string
	logger   *slog.Logger

	transcriptions metric.Int64Counter
}

// NewOrchestrator builds the provider chain from configuration. providers
// maps provider names to their constructed instances.
func NewOrchestrator(cfg config.TranscriptionConfig, providers map[string]Provider, logger *slog.Logger) (*Orchestrator, error) {
	primary, ok := providers[cfg.Provider]
	if !ok {
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
	var fallback Provider
	if cfg.Fallback != "" {
		fallback, ok = providers[cfg.Fallback]
		if !ok {
			return nil, fmt.Errorf("unknown fallback provider %q", cfg.Fallback)
		}
	}
	timeout := time.Duration(cfg.TimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	o := &Orchestrator{
		primary:  primary,
		fallback: fallback,
		timeout:  timeout,
		language: cfg.Language,
		logger:   logger.With("component", "transcribe"),
	}
	if err := o.initMetrics(); err != nil {
		o.logger.Warn("failed to initialize metrics", "error", err)
	}
	return o, nil
}

func (o *Orchestrator) initMetrics() error {
	meter := otel.Meter("github.com/murmurlabs/murmur-core/transcribe")
	var err error
	o.transcriptions, err = meter.Int64Counter("murmur.transcriptions",
		metric.WithDescription("Transcription requests by provider and outcome"))
	return err
}

func (o *Orchestrator) countOutcome(ctx context.Context, provider, outcome string) {
	if o.transcriptions == nil {
		return
	}
	o.transcriptions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("outcome", outcome)))
}

func outcomeLabel(err error) string {
	switch {
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrCancelled):
		return "cancelled"
	default:
		return "error"
	}
}

// Transcribe runs the primary provider and, when it fails, the fallback.
// A timed-out or cancelled primary short-circuits so the caller never waits
// past the configured bound. When both providers fail the errors are joined
// so the caller sees each cause.
func (o *Orchestrator) Transcribe(ctx context.Context, samples []float32, sampleRate int) (Result, error) {
	if len(samples) == 0 {
		return Result{}, ErrInvalidAudio
	}
	req := Request{Samples: samples, SampleRate: sampleRate, Language: o.language}
	requestID := uuid.NewString()

	result, primaryErr := o.attempt(ctx, o.primary, req)
	if primaryErr == nil {
		o.countOutcome(ctx, o.primary.Name(), "ok")
		result.RequestID = requestID
		return result, nil
	}
	o.countOutcome(ctx, o.primary.Name(), outcomeLabel(primaryErr))
	if errors.Is(primaryErr, ErrCancelled) || errors.Is(primaryErr, ErrTimeout) || o.fallback == nil {
		return Result{}, primaryErr
	}

	o.logger.Warn("primary provider failed, trying fallback",
		"primary", o.primary.Name(),
		"fallback", o.fallback.Name(),
		"error", primaryErr)

	result, fallbackErr := o.attempt(ctx, o.fallback, req)
	if fallbackErr == nil {
		o.countOutcome(ctx, o.fallback.Name(), "ok")
		result.RequestID = requestID
		return result, nil
	}
	o.countOutcome(ctx, o.fallback.Name(), outcomeLabel(fallbackErr))
	return Result{}, errors.Join(
		fmt.Errorf("%s: %w", o.primary.Name(), primaryErr),
		fmt.Errorf("%s: %w", o.fallback.Name(), fallbackErr),
	)
}

// attempt runs one provider bounded by the orchestrator timeout. The call
// runs in its own goroutine and is raced against the deadline so a
// provider that ignores ctx cannot stall the pipeline.
func (o *Orchestrator) attempt(ctx context.Context, p Provider, req Request) (Result, error) {
	if mb, ok := p.(ModelBacked); ok && !p.Available() {
		return Result{}, fmt.Errorf("%w: %s", ErrModelNotAvailable, mb.ModelID())
	}
	if !p.Available() {
		return Result{}, fmt.Errorf("provider %s is not available", p.Name())
	}

	attemptCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	type outcome struct {
		result Result
		err    error
	}
	done := make(chan outcome, 1)
	start := time.Now()

	go func() {
		result, err := p.Transcribe(attemptCtx, req)
		done <- outcome{result, err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			if errors.Is(out.err, context.DeadlineExceeded) {
				return Result{}, fmt.Errorf("%w after %s", ErrTimeout, o.timeout)
			}
			if errors.Is(out.err, context.Canceled) {
				return Result{}, ErrCancelled
			}
			return Result{}, out.err
		}
		o.logger.Info("transcription complete",
			"provider", p.Name(),
			"elapsed_ms", time.Since(start).Milliseconds(),
			"chars", len(out.result.Text))
		return out.result, nil
	case <-attemptCtx.Done():
		if ctx.Err() != nil {
			return Result{}, ErrCancelled
		}
		return Result{}, fmt.Errorf("%w after %s", ErrTimeout, o.timeout)
	}
}
