// Package vad provides energy-based voice activity detection used to trim
// silence from recordings before transcription and to drive the recorder's
// silence timeout.
package vad

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrUnsupportedSampleRate is returned when the detector is constructed
// with a sample rate outside the supported range.
var ErrUnsupportedSampleRate = errors.New("unsupported sample rate")

const (
	minSampleRate = 8000
	maxSampleRate = 192000

	// MaxAggressiveness is the highest supported filtering level.
	MaxAggressiveness = 3
)

// thresholds maps aggressiveness level to the RMS energy above which a
// frame counts as speech. Higher levels demand more energy, so they
// classify less audio as speech.
var thresholds = [MaxAggressiveness + 1]float64{0.005, 0.010, 0.020, 0.040}

// Config controls detection behavior.
type Config struct {
	SampleRate int
	// Aggressiveness selects the energy threshold, 0 (permissive) to 3
	// (strict).
	Aggressiveness int
	// FrameDuration is the analysis window. Typical values are 10, 20 or
	// 30 milliseconds.
	FrameDuration time.Duration
	// MinSpeechDuration suppresses speech runs shorter than this; they
	// are treated as noise.
	MinSpeechDuration time.Duration
	// Padding keeps this much audio on either side of each detected
	// speech run so word onsets are not clipped.
	Padding time.Duration
}

// Detector classifies PCM frames as speech or silence by RMS energy.
type Detector struct {
	cfg       Config
	frameSize int
	threshold float64
}

// New validates the configuration and builds a detector.
func New(cfg Config) (*Detector, error) {
	if cfg.SampleRate < minSampleRate || cfg.SampleRate > maxSampleRate {
		return nil, fmt.Errorf("%w: %d Hz (must be %d-%d)", ErrUnsupportedSampleRate, cfg.SampleRate, minSampleRate, maxSampleRate)
	}
	if cfg.Aggressiveness < 0 || cfg.Aggressiveness > MaxAggressiveness {
		return nil, fmt.Errorf("aggressiveness %d out of range 0-%d", cfg.Aggressiveness, MaxAggressiveness)
	}
	if cfg.FrameDuration <= 0 {
		cfg.FrameDuration = 30 * time.Millisecond
	}
	frameSize := int(float64(cfg.SampleRate) * cfg.FrameDuration.Seconds())
	if frameSize == 0 {
		return nil, fmt.Errorf("frame duration %s too short for %d Hz", cfg.FrameDuration, cfg.SampleRate)
	}
	return &Detector{
		cfg:       cfg,
		frameSize: frameSize,
		threshold: thresholds[cfg.Aggressiveness],
	}, nil
}

// FrameSize reports the analysis window in samples.
func (d *Detector) FrameSize() int {
	return d.frameSize
}

// IsSpeech classifies a single frame. Short trailing frames are padded
// implicitly by operating on whatever samples are present.
func (d *Detector) IsSpeech(frame []float32) bool {
	if len(frame) == 0 {
		return false
	}
	var sum float64
	for _, s := range frame {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum/float64(len(frame))) >= d.threshold
}

// IsSpeechLevel classifies a precomputed RMS level, used by callers that
// monitor live energy without holding frames.
func (d *Detector) IsSpeechLevel(rms float64) bool {
	return rms >= d.threshold
}

// FilterSpeech removes silent stretches from a recording. Speech runs
// shorter than MinSpeechDuration are dropped as noise, and each surviving
// run keeps Padding worth of surrounding audio. When no speech survives,
// nil is returned.
func (d *Detector) FilterSpeech(samples []float32) []float32 {
	if len(samples) == 0 {
		return nil
	}

	frameCount := (len(samples) + d.frameSize - 1) / d.frameSize
	speech := make([]bool, frameCount)
	for i := 0; i < frameCount; i++ {
		start := i * d.frameSize
		end := start + d.frameSize
		if end > len(samples) {
			end = len(samples)
		}
		speech[i] = d.IsSpeech(samples[start:end])
	}

	minFrames := d.framesFor(d.cfg.MinSpeechDuration)
	padFrames := d.framesFor(d.cfg.Padding)

	keep := make([]bool, frameCount)
	i := 0
	for i < frameCount {
		if !speech[i] {
			i++
			continue
		}
		runStart := i
		for i < frameCount && speech[i] {
			i++
		}
		runLen := i - runStart
		if runLen < minFrames {
			continue
		}
		from := runStart - padFrames
		if from < 0 {
			from = 0
		}
		to := i + padFrames
		if to > frameCount {
			to = frameCount
		}
		for j := from; j < to; j++ {
			keep[j] = true
		}
	}

	var out []float32
	for i := 0; i < frameCount; i++ {
		if !keep[i] {
			continue
		}
		start := i * d.frameSize
		end := start + d.frameSize
		if end > len(samples) {
			end = len(samples)
		}
		out = append(out, samples[start:end]...)
	}
	return out
}

func (d *Detector) framesFor(dur time.Duration) int {
	if dur <= 0 {
		return 0
	}
	frames := int(math.Ceil(dur.Seconds() / d.cfg.FrameDuration.Seconds()))
	if frames < 1 {
		frames = 1
	}
	return frames
}
