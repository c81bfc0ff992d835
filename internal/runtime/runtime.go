// Package runtime assembles the daemon: telemetry, the event bus, model
// management, the recording pipeline, and the HTTP control surface.
package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/murmurlabs/murmur-core/internal/audio"
	"github.com/murmurlabs/murmur-core/internal/bus"
	"github.com/murmurlabs/murmur-core/internal/config"
	"github.com/murmurlabs/murmur-core/internal/models"
	"github.com/murmurlabs/murmur-core/internal/natsserver"
	"github.com/murmurlabs/murmur-core/internal/output"
	"github.com/murmurlabs/murmur-core/internal/recorder"
	"github.com/murmurlabs/murmur-core/internal/transcribe"
	"github.com/murmurlabs/murmur-core/internal/vad"
)

type Runtime struct {
	cfg         config.Config
	logger      *slog.Logger
	httpServer  *http.Server
	tracerClose func(context.Context) error

	embedded   *natsserver.EmbeddedServer
	busClient  *bus.Client
	manager    *models.Manager
	controller *recorder.Controller

	// rootCtx outlives individual HTTP requests so a recording session
	// is not tied to the request that started it.
	rootCtx context.Context
	ready   atomic.Bool
	wg      sync.WaitGroup
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

// Start brings up every component and blocks until ctx is cancelled.
func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	r.rootCtx = ctx

	shutdownTelemetry, metricHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry

	if r.cfg.Bus.Enabled {
		embedded, err := natsserver.Start(r.cfg.Bus, r.logger)
		if err != nil {
			return fmt.Errorf("start embedded bus: %w", err)
		}
		r.embedded = embedded

		busClient, err := bus.Connect(ctx, r.cfg.Bus, r.logger)
		if err != nil {
			r.embedded.Shutdown()
			return fmt.Errorf("connect to bus: %w", err)
		}
		r.busClient = busClient
	}

	manager, err := models.NewManager(r.cfg.Models.Dir, r.busClient, r.logger)
	if err != nil {
		return fmt.Errorf("init model manager: %w", err)
	}
	r.manager = manager

	controller, err := r.buildPipeline()
	if err != nil {
		return fmt.Errorf("build recording pipeline: %w", err)
	}
	r.controller = controller

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           r.routes(metricHandler),
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()

	r.ready.Store(true)
	r.logger.Info("runtime started", slog.String("addr", addr))

	<-ctx.Done()
	r.logger.Info("runtime stopping")
	r.ready.Store(false)

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	r.wg.Wait()

	r.controller.Close()
	r.manager.Close()
	r.busClient.Close()
	r.embedded.Shutdown()

	if r.tracerClose != nil {
		if err := r.tracerClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}

	return nil
}

// buildPipeline wires capture, detection, transcription, and delivery into
// the session controller.
func (r *Runtime) buildPipeline() (*recorder.Controller, error) {
	capture, err := audio.NewCapture(audio.CaptureConfig{
		DeviceName: r.cfg.Audio.InputDevice,
		SampleRate: r.cfg.Audio.SampleRate,
		Channels:   r.cfg.Audio.Channels,
		BufferDur:  time.Duration(r.cfg.Audio.BufferDurationMS) * time.Millisecond,
	}, r.logger)
	if err != nil {
		return nil, fmt.Errorf("init audio capture: %w", err)
	}

	var detector *vad.Detector
	if r.cfg.VAD.Enabled {
		detector, err = vad.New(vad.Config{
			SampleRate:        r.cfg.Audio.SampleRate,
			Aggressiveness:    r.cfg.VAD.Aggressiveness,
			FrameDuration:     time.Duration(r.cfg.VAD.FrameDurationMS) * time.Millisecond,
			MinSpeechDuration: time.Duration(r.cfg.VAD.MinSpeechDurationMS) * time.Millisecond,
			Padding:           time.Duration(r.cfg.VAD.PaddingMS) * time.Millisecond,
		})
		if err != nil {
			return nil, fmt.Errorf("init voice detector: %w", err)
		}
	}

	providers := map[string]transcribe.Provider{
		"mock":  transcribe.NewMockProvider(),
		"cloud": transcribe.NewCloudProvider(r.cfg.Transcription.Cloud),
	}
	if r.cfg.Transcription.Local.Command != "" {
		local, err := transcribe.NewLocalProvider(r.cfg.Transcription.Local, r.manager)
		if err != nil {
			return nil, fmt.Errorf("init local provider: %w", err)
		}
		providers["local"] = local
	}

	orchestrator, err := transcribe.NewOrchestrator(r.cfg.Transcription, providers, r.logger)
	if err != nil {
		return nil, fmt.Errorf("init orchestrator: %w", err)
	}

	deliverer, err := output.New(r.cfg.Output.Mode, r.logger)
	if err != nil {
		return nil, fmt.Errorf("init output: %w", err)
	}

	return recorder.New(r.cfg.Recording, capture, detector, orchestrator, deliverer, r.busClient, r.logger), nil
}

func (r *Runtime) routes(metricHandler http.Handler) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	if metricHandler != nil {
		mux.Handle("/metrics", metricHandler)
	}

	mux.HandleFunc("POST /v1/recording/start", r.handleRecordingStart)
	mux.HandleFunc("POST /v1/recording/stop", r.handleRecordingStop)
	mux.HandleFunc("POST /v1/recording/cancel", r.handleRecordingCancel)
	mux.HandleFunc("POST /v1/recording/acknowledge", r.handleRecordingAcknowledge)
	mux.HandleFunc("GET /v1/recording", r.handleRecordingStatus)
	mux.HandleFunc("GET /v1/devices", r.handleDevices)
	mux.HandleFunc("GET /v1/models", r.handleModels)
	mux.HandleFunc("POST /v1/models/{id}/download", r.handleModelDownload)
	mux.HandleFunc("POST /v1/models/{id}/cancel", r.handleModelCancel)
	mux.HandleFunc("DELETE /v1/models/{id}", r.handleModelDelete)

	return mux
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() && (r.busClient == nil || r.busClient.Healthy() || !r.cfg.Bus.Enabled) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

func (r *Runtime) handleRecordingStart(w http.ResponseWriter, _ *http.Request) {
	if err := r.controller.Start(r.rootCtx); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"session_id": r.controller.SessionID(),
		"state":      string(r.controller.State()),
	})
}

func (r *Runtime) handleRecordingStop(w http.ResponseWriter, _ *http.Request) {
	if err := r.controller.Stop(); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"state": string(r.controller.State())})
}

func (r *Runtime) handleRecordingCancel(w http.ResponseWriter, _ *http.Request) {
	if err := r.controller.Cancel(); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"state": string(r.controller.State())})
}

func (r *Runtime) handleRecordingAcknowledge(w http.ResponseWriter, _ *http.Request) {
	if err := r.controller.Acknowledge(); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"state": string(r.controller.State())})
}

func (r *Runtime) handleRecordingStatus(w http.ResponseWriter, _ *http.Request) {
	status := map[string]any{
		"state":      string(r.controller.State()),
		"session_id": r.controller.SessionID(),
	}
	if err := r.controller.LastError(); err != nil {
		status["error"] = err.Error()
	}
	writeJSON(w, http.StatusOK, status)
}

func (r *Runtime) handleDevices(w http.ResponseWriter, _ *http.Request) {
	devices, err := audio.ListDevices()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": devices})
}

func (r *Runtime) handleModels(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"models": r.manager.List()})
}

func (r *Runtime) handleModelDownload(w http.ResponseWriter, req *http.Request) {
	if err := r.manager.StartDownload(r.rootCtx, req.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"model": req.PathValue("id"), "status": "downloading"})
}

func (r *Runtime) handleModelCancel(w http.ResponseWriter, req *http.Request) {
	if err := r.manager.CancelDownload(req.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"model": req.PathValue("id"), "status": "cancelled"})
}

func (r *Runtime) handleModelDelete(w http.ResponseWriter, req *http.Request) {
	if err := r.manager.Delete(req.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"model": req.PathValue("id"), "status": "deleted"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, recorder.ErrAlreadyRecording),
		errors.Is(err, recorder.ErrInvalidTransition),
		errors.Is(err, models.ErrAlreadyInProgress):
		status = http.StatusConflict
	case errors.Is(err, models.ErrUnknownModel),
		errors.Is(err, models.ErrNotDownloaded):
		status = http.StatusNotFound
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
