package models

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/murmurlabs/murmur-core/internal/protocol"
)

var (
	// ErrUnknownModel is returned for ids absent from the catalog.
	ErrUnknownModel = errors.New("unknown model")

	// ErrAlreadyInProgress is returned when a download is started for a
	// model that is already downloading.
	ErrAlreadyInProgress = errors.New("download already in progress")

	// ErrChecksumMismatch is returned when a downloaded file fails
	// digest verification. The file is deleted.
	ErrChecksumMismatch = errors.New("checksum mismatch")

	// ErrCancelled is returned to the download's completion callback
	// when the job was cancelled.
	ErrCancelled = errors.New("download cancelled")

	// ErrNotDownloaded is returned when deleting a model that is not
	// installed.
	ErrNotDownloaded = errors.New("model not downloaded")
)

// progressInterval throttles progress events.
const progressInterval = 250 * time.Millisecond

// EventSink receives download lifecycle events. A nil bus client satisfies
// it as a no-op.
type EventSink interface {
	PublishJSON(subject string, payload any)
}

// ManifestEntry records one installed model.
type ManifestEntry struct {
	ID           string    `json:"id"`
	Path         string    `json:"path"`
	Size         int64     `json:"size"`
	Checksum     string    `json:"checksum"`
	DownloadedAt time.Time `json:"downloaded_at"`
}

type manifest struct {
	Models []ManifestEntry `json:"models"`
}

// ModelStatus combines a catalog entry with its install state.
type ModelStatus struct {
	CatalogEntry
	Downloaded  bool  `json:"downloaded"`
	Downloading bool  `json:"downloading"`
	SizeOnDisk  int64 `json:"size_on_disk,omitempty"`
}

type downloadJob struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Manager owns the model directory. All methods are safe for concurrent
// use; the mutex guards the manifest and the job registry, never a network
// transfer.
type Manager struct {
	dir    string
	events EventSink
	logger *slog.Logger
	client *http.Client

	mu        sync.Mutex
	installed map[string]ManifestEntry
	jobs      map[string]*downloadJob

	downloads metric.Int64Counter
}

// NewManager loads the manifest from dir, creating the directory when
// missing.
func NewManager(dir string, events EventSink, logger *slog.Logger) (*Manager, error) {
	if dir == "" {
		return nil, errors.New("models directory not configured")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create models dir: %w", err)
	}
	m := &Manager{
		dir:       dir,
		events:    events,
		logger:    logger.With("component", "models"),
		client:    &http.Client{},
		installed: make(map[string]ManifestEntry),
		jobs:      make(map[string]*downloadJob),
	}
	if err := m.loadManifest(); err != nil {
		return nil, err
	}
	if err := m.initMetrics(); err != nil {
		m.logger.Warn("failed to initialize metrics", "error", err)
	}
	return m, nil
}

func (m *Manager) initMetrics() error {
	meter := otel.Meter("github.com/murmurlabs/murmur-core/models")
	var err error
	m.downloads, err = meter.Int64Counter("murmur.model.downloads",
		metric.WithDescription("Model downloads by outcome"))
	return err
}

func (m *Manager) countDownload(outcome string) {
	if m.downloads == nil {
		return
	}
	m.downloads.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("outcome", outcome)))
}

// List reports every catalog model with its install state.
func (m *Manager) List() []ModelStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]ModelStatus, 0, len(catalog))
	for _, entry := range catalog {
		status := ModelStatus{CatalogEntry: entry}
		if rec, ok := m.installed[entry.ID]; ok {
			status.Downloaded = true
			status.SizeOnDisk = rec.Size
		}
		if _, ok := m.jobs[entry.ID]; ok {
			status.Downloading = true
		}
		out = append(out, status)
	}
	return out
}

// IsDownloaded reports whether the model file is installed.
func (m *Manager) IsDownloaded(id string) bool {
	_, ok := m.ModelPath(id)
	return ok
}

// ModelPath returns the installed file path for id. It satisfies the
// transcription layer's model resolver.
func (m *Manager) ModelPath(id string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.installed[id]
	if !ok {
		return "", false
	}
	if _, err := os.Stat(rec.Path); err != nil {
		return "", false
	}
	return rec.Path, true
}

// StartDownload begins fetching a model in the background. Progress and
// completion are published as events. The second download of the same id
// while the first is running fails with ErrAlreadyInProgress.
func (m *Manager) StartDownload(ctx context.Context, id string) error {
	entry, ok := Lookup(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownModel, id)
	}

	jobCtx, cancel := context.WithCancel(ctx)
	job := &downloadJob{cancel: cancel, done: make(chan struct{})}

	m.mu.Lock()
	if _, running := m.jobs[id]; running {
		m.mu.Unlock()
		cancel()
		return fmt.Errorf("%w: %s", ErrAlreadyInProgress, id)
	}
	m.jobs[id] = job
	m.mu.Unlock()

	m.logger.Info("download started", "model", id, "url", entry.URL)

	go func() {
		defer close(job.done)
		err := m.download(jobCtx, entry)

		m.mu.Lock()
		delete(m.jobs, id)
		m.mu.Unlock()
		cancel()

		done := protocol.DownloadDone{ModelID: id, Timestamp: time.Now()}
		switch {
		case err == nil:
			done.Success = true
			m.mu.Lock()
			if rec, ok := m.installed[id]; ok {
				done.Path = rec.Path
			}
			m.mu.Unlock()
			m.countDownload("success")
			m.logger.Info("download complete", "model", id)
		case errors.Is(err, context.Canceled):
			done.Error = ErrCancelled.Error()
			m.countDownload("cancelled")
			m.logger.Info("download cancelled", "model", id)
		default:
			done.Error = err.Error()
			m.countDownload("failed")
			m.logger.Error("download failed", "model", id, "error", err)
		}
		if m.events != nil {
			m.events.PublishJSON(protocol.SubjectDownloadDone, done)
		}
	}()
	return nil
}

// CancelDownload aborts an in-flight download and waits for its cleanup.
func (m *Manager) CancelDownload(id string) error {
	m.mu.Lock()
	job, ok := m.jobs[id]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("no download in progress for %s", id)
	}
	job.cancel()
	<-job.done
	return nil
}

// Delete removes an installed model file and its manifest record. Models
// whose download is in flight must be cancelled first.
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, running := m.jobs[id]; running {
		return fmt.Errorf("%w: %s", ErrAlreadyInProgress, id)
	}
	rec, ok := m.installed[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotDownloaded, id)
	}
	if err := os.Remove(rec.Path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove model file: %w", err)
	}
	delete(m.installed, id)
	if err := m.saveManifestLocked(); err != nil {
		return err
	}
	m.logger.Info("model deleted", "model", id)
	return nil
}

// Close cancels every in-flight download and waits for cleanup.
func (m *Manager) Close() {
	m.mu.Lock()
	jobs := make([]*downloadJob, 0, len(m.jobs))
	for _, job := range m.jobs {
		jobs = append(jobs, job)
	}
	m.mu.Unlock()

	for _, job := range jobs {
		job.cancel()
		<-job.done
	}
}

// download fetches one model to a temp file, verifies it, then moves it
// into place. The temp file never survives a failure.
func (m *Manager) download(ctx context.Context, entry CatalogEntry) error {
	finalPath := filepath.Join(m.dir, "ggml-"+entry.ID+".bin")
	tmpPath := finalPath + ".partial"

	tmp, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	cleanup := func() {
		tmp.Close()
		os.Remove(tmpPath)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, entry.URL, nil)
	if err != nil {
		cleanup()
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := m.client.Do(req)
	if err != nil {
		cleanup()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("fetch model: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		cleanup()
		return fmt.Errorf("fetch model: status %d", resp.StatusCode)
	}

	digest := sha1.New()
	received, err := m.copyWithProgress(ctx, entry.ID, tmp, digest, resp.Body, resp.ContentLength)
	if err != nil {
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("flush temp file: %w", err)
	}

	sum := hex.EncodeToString(digest.Sum(nil))
	if entry.SHA1 != "" && sum != entry.SHA1 {
		os.Remove(tmpPath)
		return fmt.Errorf("%w: got %s, want %s", ErrChecksumMismatch, sum, entry.SHA1)
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("install model file: %w", err)
	}

	m.mu.Lock()
	m.installed[entry.ID] = ManifestEntry{
		ID:           entry.ID,
		Path:         finalPath,
		Size:         received,
		Checksum:     sum,
		DownloadedAt: time.Now(),
	}
	err = m.saveManifestLocked()
	m.mu.Unlock()
	return err
}

// copyWithProgress streams body into the writers while publishing throttled
// progress events. Byte counts are monotonic.
func (m *Manager) copyWithProgress(ctx context.Context, id string, file, digest io.Writer, body io.Reader, total int64) (int64, error) {
	out := io.MultiWriter(file, digest)
	buf := make([]byte, 256*1024)
	var received int64
	lastEvent := time.Time{}

	for {
		if err := ctx.Err(); err != nil {
			return received, err
		}
		n, err := body.Read(buf)
		if n > 0 {
			if _, werr := out.Write(buf[:n]); werr != nil {
				return received, fmt.Errorf("write model data: %w", werr)
			}
			received += int64(n)
			if time.Since(lastEvent) >= progressInterval {
				lastEvent = time.Now()
				m.publishProgress(id, received, total)
			}
		}
		if err == io.EOF {
			m.publishProgress(id, received, total)
			return received, nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return received, ctx.Err()
			}
			return received, fmt.Errorf("read model data: %w", err)
		}
	}
}

func (m *Manager) publishProgress(id string, received, total int64) {
	if m.events == nil {
		return
	}
	percent := 0.0
	if total > 0 {
		percent = float64(received) / float64(total) * 100
	}
	m.events.PublishJSON(protocol.SubjectDownloadProgress, protocol.DownloadProgress{
		ModelID:   id,
		Received:  received,
		Total:     total,
		Percent:   percent,
		Timestamp: time.Now(),
	})
}

func (m *Manager) manifestPath() string {
	return filepath.Join(m.dir, "models.json")
}

func (m *Manager) loadManifest() error {
	data, err := os.ReadFile(m.manifestPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read manifest: %w", err)
	}
	var mf manifest
	if err := json.Unmarshal(data, &mf); err != nil {
		return fmt.Errorf("parse manifest: %w", err)
	}
	for _, entry := range mf.Models {
		m.installed[entry.ID] = entry
	}
	return nil
}

func (m *Manager) saveManifestLocked() error {
	mf := manifest{Models: make([]ManifestEntry, 0, len(m.installed))}
	for _, entry := range catalog {
		if rec, ok := m.installed[entry.ID]; ok {
			mf.Models = append(mf.Models, rec)
		}
	}
	data, err := json.MarshalIndent(mf, "", "  ")
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	if err := os.WriteFile(m.manifestPath(), data, 0o644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}
