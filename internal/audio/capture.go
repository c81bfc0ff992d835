package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gordonklaus/portaudio"
)

var (
	// ErrNoDefaultDevice is returned when the host reports no default
	// input device.
	ErrNoDefaultDevice = errors.New("no default input device available")

	// ErrDeviceNotFound is returned when a configured input device name
	// matches no present device.
	ErrDeviceNotFound = errors.New("input device not found")
)

// DeviceLostError reports that the active input device stopped delivering
// audio mid-capture.
type DeviceLostError struct {
	Device string
	Since  time.Duration
}

func (e *DeviceLostError) Error() string {
	return fmt.Sprintf("input device %q stopped delivering audio (silent for %s)", e.Device, e.Since.Round(time.Millisecond))
}

// Source captures microphone audio into an internal buffer. The concrete
// implementation talks to PortAudio; tests substitute their own.
type Source interface {
	// Start begins capturing. It fails if capture is already running or
	// the device cannot be opened.
	Start(ctx context.Context) error

	// Stop ends capture and returns the buffered samples and their sample
	// rate. Calling Stop when capture is not running returns the last
	// drained samples' remainder: nil, the configured rate, and no error.
	Stop() ([]float32, int, error)

	// DeviceLost delivers at most one error per capture session when the
	// device goes silent.
	DeviceLost() <-chan error

	// Level reports the RMS energy of the most recent callback block.
	Level() float64
}

// Device describes an available input device.
type Device struct {
	Name       string  `json:"name"`
	Channels   int     `json:"channels"`
	SampleRate float64 `json:"sample-rate"`
	Default    bool    `json:"default"`
}

// CaptureConfig carries the capture parameters resolved from configuration.
type CaptureConfig struct {
	DeviceName string // empty selects the default input device
	SampleRate int
	Channels   int
	BufferDur  time.Duration
}

// Capture is the PortAudio-backed Source. A single Capture can run many
// sequential sessions but at most one at a time.
type Capture struct {
	cfg    CaptureConfig
	logger *slog.Logger

	mu      sync.Mutex
	stream  *portaudio.Stream
	ring    *Ring
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	lost    chan error

	// Written by the PortAudio callback, which must never contend with
	// the stream lifecycle lock.
	lastCB    atomic.Int64
	lastLevel atomic.Uint64
}

// stalenessWindow is how long the callback may go quiet before the device
// is declared lost. Hosts deliver blocks every few tens of milliseconds.
const stalenessWindow = 2 * time.Second

// NewCapture prepares a capture source. PortAudio is initialized on the
// first Start, not here.
func NewCapture(cfg CaptureConfig, logger *slog.Logger) (*Capture, error) {
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate %d", cfg.SampleRate)
	}
	capacity := int(float64(cfg.SampleRate) * cfg.BufferDur.Seconds())
	ring, err := NewRing(capacity)
	if err != nil {
		return nil, fmt.Errorf("allocating capture buffer: %w", err)
	}
	return &Capture{
		cfg:    cfg,
		logger: logger.With("component", "audio-capture"),
		ring:   ring,
	}, nil
}

// ListDevices enumerates input-capable devices.
func ListDevices() ([]Device, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("initializing audio host: %w", err)
	}
	defer portaudio.Terminate()

	infos, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("enumerating devices: %w", err)
	}
	def, _ := portaudio.DefaultInputDevice()

	var out []Device
	for _, info := range infos {
		if info.MaxInputChannels < 1 {
			continue
		}
		out = append(out, Device{
			Name:       info.Name,
			Channels:   info.MaxInputChannels,
			SampleRate: info.DefaultSampleRate,
			Default:    def != nil && info.Name == def.Name,
		})
	}
	return out, nil
}

// Start opens the configured device and begins filling the ring buffer.
func (c *Capture) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return errors.New("capture already running")
	}

	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("initializing audio host: %w", err)
	}

	device, err := c.resolveDevice()
	if err != nil {
		portaudio.Terminate()
		return err
	}

	params := portaudio.LowLatencyParameters(device, nil)
	params.Input.Channels = c.cfg.Channels
	params.SampleRate = float64(c.cfg.SampleRate)

	stream, err := portaudio.OpenStream(params, c.onAudio)
	if err != nil {
		portaudio.Terminate()
		return fmt.Errorf("opening stream on %q: %w", device.Name, err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return fmt.Errorf("starting stream on %q: %w", device.Name, err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.stream = stream
	c.running = true
	c.cancel = cancel
	c.lost = make(chan error, 1)
	c.lastCB.Store(time.Now().UnixNano())
	c.ring.Reset()

	c.wg.Add(1)
	go c.watchdog(runCtx, device.Name)

	c.logger.Info("capture started",
		"device", device.Name,
		"sample_rate", c.cfg.SampleRate,
		"channels", c.cfg.Channels)
	return nil
}

// Stop halts capture and drains the buffer. Safe to call repeatedly; only
// the first call after a Start returns the session's audio.
func (c *Capture) Stop() ([]float32, int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return nil, c.cfg.SampleRate, nil
	}
	c.running = false
	c.cancel()

	var errs []error
	if err := c.stream.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("stopping stream: %w", err))
	}
	if err := c.stream.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing stream: %w", err))
	}
	portaudio.Terminate()
	c.stream = nil

	samples := c.ring.Drain()
	if c.cfg.Channels > 1 {
		samples = DownmixMono(samples, c.cfg.Channels)
	}
	c.logger.Info("capture stopped",
		"samples", len(samples),
		"duration_sec", DurationSeconds(len(samples), c.cfg.SampleRate))
	return samples, c.cfg.SampleRate, errors.Join(errs...)
}

// DeviceLost returns the current session's lost-device channel. The channel
// is replaced on every Start.
func (c *Capture) DeviceLost() <-chan error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lost
}

// Level reports the RMS of the most recent callback block.
func (c *Capture) Level() float64 {
	return math.Float64frombits(c.lastLevel.Load())
}

// Wait blocks until the session watchdog has exited.
func (c *Capture) Wait() {
	c.wg.Wait()
}

func (c *Capture) resolveDevice() (*portaudio.DeviceInfo, error) {
	if c.cfg.DeviceName == "" {
		device, err := portaudio.DefaultInputDevice()
		if err != nil || device == nil {
			return nil, ErrNoDefaultDevice
		}
		return device, nil
	}
	infos, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("enumerating devices: %w", err)
	}
	for _, info := range infos {
		if info.Name == c.cfg.DeviceName && info.MaxInputChannels >= c.cfg.Channels {
			return info, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrDeviceNotFound, c.cfg.DeviceName)
}

// onAudio runs on PortAudio's callback thread. It must not block.
func (c *Capture) onAudio(in []float32) {
	c.ring.Push(in)
	c.lastCB.Store(time.Now().UnixNano())
	c.lastLevel.Store(math.Float64bits(RMS(in)))
}

// watchdog flags the session as device-lost when callbacks stop arriving.
// PortAudio exposes no asynchronous error path, so silence is the signal.
func (c *Capture) watchdog(ctx context.Context, device string) {
	defer c.wg.Done()

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			silent := time.Since(time.Unix(0, c.lastCB.Load()))
			c.mu.Lock()
			running := c.running
			lost := c.lost
			c.mu.Unlock()

			if !running {
				return
			}
			if silent > stalenessWindow {
				err := &DeviceLostError{Device: device, Since: silent}
				c.logger.Error("input device lost", "device", device, "silent_for", silent)
				select {
				case lost <- err:
				default:
				}
				return
			}
		}
	}
}
