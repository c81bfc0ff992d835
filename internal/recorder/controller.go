// Package recorder owns the recording session lifecycle: capture, silence
// and duration limits, handoff to transcription, and transcript delivery.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/murmurlabs/murmur-core/internal/audio"
	"github.com/murmurlabs/murmur-core/internal/config"
	"github.com/murmurlabs/murmur-core/internal/output"
	"github.com/murmurlabs/murmur-core/internal/protocol"
	"github.com/murmurlabs/murmur-core/internal/transcribe"
	"github.com/murmurlabs/murmur-core/internal/vad"
)

var (
	// ErrAlreadyRecording is returned when Start is called mid-session.
	ErrAlreadyRecording = errors.New("recording already in progress")

	// ErrInvalidTransition is returned for operations that do not apply
	// in the current state.
	ErrInvalidTransition = errors.New("invalid state transition")
)

// State names a position in the session lifecycle.
type State string

const (
	StateIdle       State = "idle"
	StateRecording  State = "recording"
	StateProcessing State = "processing"
	StateOutputting State = "outputting"
	StateError      State = "error"
)

// Transcriber converts an utterance to text. The orchestrator satisfies it.
type Transcriber interface {
	Transcribe(ctx context.Context, samples []float32, sampleRate int) (transcribe.Result, error)
}

// EventSink receives session lifecycle events.
type EventSink interface {
	PublishJSON(subject string, payload any)
}

// Controller is the session state machine. A single mutex serializes every
// transition; the monitor goroutine and external callers go through the
// same methods.
type Controller struct {
	cfg         config.RecordingConfig
	source      audio.Source
	detector    *vad.Detector
	transcriber Transcriber
	deliverer   output.Deliverer
	events      EventSink
	logger      *slog.Logger

	// monitorTick is how often session limits are checked.
	monitorTick time.Duration

	started   metric.Int64Counter
	completed metric.Int64Counter
	cancelled metric.Int64Counter

	mu            sync.Mutex
	state         State
	sessionID     string
	lastErr       error
	startedAt     time.Time
	sessionCtx    context.Context
	cancelSession context.CancelFunc
	wg            sync.WaitGroup
}

// New builds an idle controller. detector may be nil to disable silence
// trimming and the silence timeout; events may be nil.
func New(cfg config.RecordingConfig, source audio.Source, detector *vad.Detector, transcriber Transcriber, deliverer output.Deliverer, events EventSink, logger *slog.Logger) *Controller {
	c := &Controller{
		cfg:         cfg,
		source:      source,
		detector:    detector,
		transcriber: transcriber,
		deliverer:   deliverer,
		events:      events,
		logger:      logger.With("component", "recorder"),
		monitorTick: 100 * time.Millisecond,
		state:       StateIdle,
	}
	if err := c.initMetrics(); err != nil {
		c.logger.Warn("failed to initialize metrics", "error", err)
	}
	return c
}

func (c *Controller) initMetrics() error {
	meter := otel.Meter("github.com/murmurlabs/murmur-core/recorder")
	var err error
	if c.started, err = meter.Int64Counter("murmur.recordings.started",
		metric.WithDescription("Recording sessions started")); err != nil {
		return err
	}
	if c.completed, err = meter.Int64Counter("murmur.recordings.completed",
		metric.WithDescription("Recording sessions completed with a delivered transcript")); err != nil {
		return err
	}
	c.cancelled, err = meter.Int64Counter("murmur.recordings.cancelled",
		metric.WithDescription("Recording sessions cancelled before delivery"))
	return err
}

func count(counter metric.Int64Counter) {
	if counter == nil {
		return
	}
	counter.Add(context.Background(), 1)
}

// State reports the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SessionID reports the active session id, empty when idle.
func (c *Controller) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// LastError reports the failure that moved the controller into StateError.
func (c *Controller) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Start opens a new recording session.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateIdle:
	case StateRecording:
		return ErrAlreadyRecording
	default:
		return fmt.Errorf("%w: cannot start from %s", ErrInvalidTransition, c.state)
	}

	if err := c.source.Start(ctx); err != nil {
		return fmt.Errorf("start capture: %w", err)
	}

	sessionCtx, cancel := context.WithCancel(ctx)
	c.sessionID = uuid.NewString()
	c.startedAt = time.Now()
	c.sessionCtx = sessionCtx
	c.cancelSession = cancel
	c.setStateLocked(StateRecording, "")

	c.wg.Add(1)
	go c.monitor(sessionCtx)

	count(c.started)
	c.logger.Info("recording started", "session", c.sessionID)
	return nil
}

// Stop ends capture and hands the recording to transcription. Processing
// runs in the background; the controller returns to StateIdle when the
// transcript has been delivered.
func (c *Controller) Stop() error {
	return c.finish("stopped")
}

// Cancel discards the active session. The recording never reaches a
// transcription provider; a session already processing is aborted.
func (c *Controller) Cancel() error {
	c.mu.Lock()

	switch c.state {
	case StateRecording:
		c.cancelSession()
		if _, _, err := c.source.Stop(); err != nil {
			c.logger.Warn("stopping capture during cancel", "error", err)
		}
		c.setStateLocked(StateIdle, "cancelled")
		c.sessionID = ""
		c.mu.Unlock()
		count(c.cancelled)
		c.wg.Wait()
		return nil
	case StateProcessing:
		// The processing goroutine observes the cancellation and
		// finishes the transition itself.
		c.cancelSession()
		c.mu.Unlock()
		return nil
	default:
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w: cannot cancel from %s", ErrInvalidTransition, state)
	}
}

// Acknowledge clears an error state so a new session can start.
func (c *Controller) Acknowledge() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateError {
		return fmt.Errorf("%w: cannot acknowledge from %s", ErrInvalidTransition, c.state)
	}
	c.lastErr = nil
	c.sessionID = ""
	c.setStateLocked(StateIdle, "acknowledged")
	return nil
}

// Close aborts any active session and waits for background work.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.cancelSession != nil {
		c.cancelSession()
	}
	if c.state == StateRecording {
		c.source.Stop()
		c.setStateLocked(StateIdle, "shutdown")
	}
	c.mu.Unlock()
	c.wg.Wait()
}

// finish moves Recording to Processing and spawns the pipeline.
func (c *Controller) finish(reason string) error {
	c.mu.Lock()

	if c.state != StateRecording {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w: cannot stop from %s", ErrInvalidTransition, state)
	}

	samples, rate, err := c.source.Stop()
	if err != nil {
		c.logger.Warn("capture stop reported errors", "error", err)
	}
	sessionID := c.sessionID
	ctx := c.sessionCtx
	c.setStateLocked(StateProcessing, reason)
	c.mu.Unlock()

	c.wg.Add(1)
	go c.process(ctx, sessionID, samples, rate)
	return nil
}

// process runs transcription and delivery for a finished recording. ctx is
// the session context so Cancel aborts an in-flight transcription.
func (c *Controller) process(ctx context.Context, sessionID string, samples []float32, rate int) {
	defer c.wg.Done()

	if rate != audio.TargetSampleRate {
		samples = audio.Resample(samples, rate, audio.TargetSampleRate)
		rate = audio.TargetSampleRate
	}
	if c.detector != nil {
		samples = c.detector.FilterSpeech(samples)
	}
	if len(samples) == 0 {
		c.logger.Info("no speech detected, nothing to transcribe", "session", sessionID)
		c.toIdle(sessionID, "no-speech")
		return
	}

	start := time.Now()
	result, err := c.transcriber.Transcribe(ctx, samples, rate)
	if err != nil {
		if errors.Is(err, transcribe.ErrCancelled) || errors.Is(err, context.Canceled) {
			count(c.cancelled)
			c.toIdle(sessionID, "cancelled")
			return
		}
		c.toError(sessionID, fmt.Errorf("transcription: %w", err))
		if c.events != nil {
			c.events.PublishJSON(protocol.SubjectTranscriptError, protocol.TranscriptionError{
				SessionID: sessionID,
				Error:     err.Error(),
				Timestamp: time.Now(),
			})
		}
		return
	}

	c.mu.Lock()
	if c.state == StateProcessing && c.sessionID == sessionID {
		c.setStateLocked(StateOutputting, "")
	}
	c.mu.Unlock()

	if err := c.deliverer.Deliver(result.Text); err != nil {
		c.toError(sessionID, fmt.Errorf("deliver transcript: %w", err))
		return
	}

	if c.events != nil {
		c.events.PublishJSON(protocol.SubjectTranscriptResult, protocol.TranscriptionResult{
			SessionID:   sessionID,
			Text:        result.Text,
			Language:    result.Language,
			Provider:    result.Provider,
			DurationSec: audio.DurationSeconds(len(samples), rate),
			ElapsedMS:   time.Since(start).Milliseconds(),
			Timestamp:   time.Now(),
		})
	}
	c.logger.Info("transcript delivered",
		"session", sessionID,
		"provider", result.Provider,
		"via", c.deliverer.Name(),
		"chars", len(result.Text))
	count(c.completed)
	c.toIdle(sessionID, "delivered")
}

// monitor enforces the session's duration and silence limits and watches
// for a lost input device.
func (c *Controller) monitor(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.monitorTick)
	defer ticker.Stop()

	maxDuration := time.Duration(c.cfg.MaxDurationSec) * time.Second
	silenceTimeout := time.Duration(c.cfg.SilenceTimeoutMS) * time.Millisecond
	speechSeen := false
	lastVoice := time.Now()
	lost := c.source.DeviceLost()

	for {
		select {
		case <-ctx.Done():
			return
		case err := <-lost:
			if err == nil {
				continue
			}
			c.onDeviceLost(err)
			return
		case <-ticker.C:
			if c.State() != StateRecording {
				return
			}
			if maxDuration > 0 && time.Since(c.sessionStart()) >= maxDuration {
				c.logger.Info("max recording duration reached")
				c.autoStop("max-duration")
				return
			}
			if silenceTimeout > 0 && c.detector != nil {
				if c.detector.IsSpeechLevel(c.source.Level()) {
					speechSeen = true
					lastVoice = time.Now()
				} else if speechSeen && time.Since(lastVoice) >= silenceTimeout {
					c.logger.Info("silence timeout reached")
					c.autoStop("silence-timeout")
					return
				}
			}
		}
	}
}

func (c *Controller) autoStop(reason string) {
	if err := c.finish(reason); err != nil && !errors.Is(err, ErrInvalidTransition) {
		c.logger.Error("automatic stop failed", "reason", reason, "error", err)
	}
}

func (c *Controller) onDeviceLost(cause error) {
	c.mu.Lock()
	if c.state != StateRecording {
		c.mu.Unlock()
		return
	}
	c.source.Stop()
	c.lastErr = cause
	c.setStateLocked(StateError, cause.Error())
	sessionID := c.sessionID
	c.mu.Unlock()

	c.logger.Error("session aborted, input device lost", "session", sessionID, "error", cause)
	if c.events != nil {
		c.events.PublishJSON(protocol.SubjectTranscriptError, protocol.TranscriptionError{
			SessionID: sessionID,
			Error:     cause.Error(),
			Timestamp: time.Now(),
		})
	}
}

func (c *Controller) toIdle(sessionID, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sessionID != sessionID {
		return
	}
	if c.cancelSession != nil {
		c.cancelSession()
	}
	c.sessionID = ""
	c.setStateLocked(StateIdle, reason)
}

func (c *Controller) toError(sessionID string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sessionID != sessionID {
		return
	}
	if c.cancelSession != nil {
		c.cancelSession()
	}
	c.lastErr = err
	c.setStateLocked(StateError, err.Error())
	c.logger.Error("session failed", "session", sessionID, "error", err)
}

func (c *Controller) sessionStart() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.startedAt
}

// setStateLocked records a transition and publishes it. Callers hold c.mu.
func (c *Controller) setStateLocked(next State, reason string) {
	prev := c.state
	c.state = next
	if c.events == nil || prev == next {
		return
	}
	c.events.PublishJSON(protocol.SubjectRecordingState, protocol.RecordingState{
		SessionID: c.sessionID,
		State:     string(next),
		Previous:  string(prev),
		Reason:    reason,
		Timestamp: time.Now(),
	})
}
