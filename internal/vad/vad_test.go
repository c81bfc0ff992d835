package vad

import (
	"errors"
	"math"
	"testing"
	"time"
)

func testConfig() Config {
	return Config{
		SampleRate:        16000,
		Aggressiveness:    2,
		FrameDuration:     30 * time.Millisecond,
		MinSpeechDuration: 100 * time.Millisecond,
		Padding:           300 * time.Millisecond,
	}
}

// tone generates frames of a sine wave at the given amplitude.
func tone(frames, frameSize int, amplitude float64) []float32 {
	out := make([]float32, frames*frameSize)
	for i := range out {
		out[i] = float32(amplitude * math.Sin(2*math.Pi*440*float64(i)/16000))
	}
	return out
}

func TestNewRejectsSampleRateOutOfRange(t *testing.T) {
	for _, rate := range []int{0, 7999, 192001} {
		cfg := testConfig()
		cfg.SampleRate = rate
		if _, err := New(cfg); !errors.Is(err, ErrUnsupportedSampleRate) {
			t.Fatalf("rate %d: expected ErrUnsupportedSampleRate, got %v", rate, err)
		}
	}
}

func TestNewRejectsBadAggressiveness(t *testing.T) {
	for _, level := range []int{-1, 4} {
		cfg := testConfig()
		cfg.Aggressiveness = level
		if _, err := New(cfg); err == nil {
			t.Fatalf("aggressiveness %d: expected error", level)
		}
	}
}

func TestIsSpeech(t *testing.T) {
	d, err := New(testConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	loud := tone(1, d.FrameSize(), 0.3)
	if !d.IsSpeech(loud) {
		t.Fatal("loud frame classified as silence")
	}

	quiet := make([]float32, d.FrameSize())
	if d.IsSpeech(quiet) {
		t.Fatal("silent frame classified as speech")
	}
	if d.IsSpeech(nil) {
		t.Fatal("empty frame classified as speech")
	}
}

func TestAggressivenessOrdering(t *testing.T) {
	// A mid-energy frame should pass a permissive detector and fail a
	// strict one.
	mid := tone(1, 480, 0.02)

	permissive, err := New(Config{SampleRate: 16000, Aggressiveness: 0})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	strict, err := New(Config{SampleRate: 16000, Aggressiveness: 3})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if !permissive.IsSpeech(mid) {
		t.Fatal("level 0 rejected a mid-energy frame")
	}
	if strict.IsSpeech(mid) {
		t.Fatal("level 3 accepted a mid-energy frame")
	}
}

func TestFilterSpeechDropsSilence(t *testing.T) {
	d, err := New(testConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	fs := d.FrameSize()

	// 1s silence, 1s speech, 1s silence (in 30ms frames: ~33 each).
	var samples []float32
	samples = append(samples, make([]float32, 33*fs)...)
	samples = append(samples, tone(33, fs, 0.3)...)
	samples = append(samples, make([]float32, 33*fs)...)

	out := d.FilterSpeech(samples)
	if len(out) == 0 {
		t.Fatal("all audio filtered out")
	}
	if len(out) >= len(samples) {
		t.Fatalf("nothing trimmed: got %d of %d samples", len(out), len(samples))
	}

	// Speech (33 frames) plus padding (10 frames each side) bounds the
	// survivor count.
	maxFrames := 33 + 2*10
	if len(out) > maxFrames*fs {
		t.Fatalf("kept %d samples, want at most %d", len(out), maxFrames*fs)
	}
}

func TestFilterSpeechSuppressesShortBursts(t *testing.T) {
	d, err := New(testConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	fs := d.FrameSize()

	// A 60ms burst is below the 100ms minimum and must be dropped.
	var samples []float32
	samples = append(samples, make([]float32, 20*fs)...)
	samples = append(samples, tone(2, fs, 0.3)...)
	samples = append(samples, make([]float32, 20*fs)...)

	if out := d.FilterSpeech(samples); len(out) != 0 {
		t.Fatalf("short burst not suppressed: kept %d samples", len(out))
	}
}

func TestFilterSpeechAllSilenceReturnsNil(t *testing.T) {
	d, err := New(testConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if out := d.FilterSpeech(make([]float32, 16000)); out != nil {
		t.Fatalf("expected nil for pure silence, got %d samples", len(out))
	}
	if out := d.FilterSpeech(nil); out != nil {
		t.Fatal("expected nil for empty input")
	}
}

func TestFilterSpeechKeepsPadding(t *testing.T) {
	d, err := New(testConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	fs := d.FrameSize()

	var samples []float32
	samples = append(samples, make([]float32, 33*fs)...)
	samples = append(samples, tone(10, fs, 0.3)...)
	samples = append(samples, make([]float32, 33*fs)...)

	out := d.FilterSpeech(samples)
	// 10 speech frames + 10 padding frames on each side.
	wantMin := 10 * fs
	if len(out) <= wantMin {
		t.Fatalf("padding missing: kept %d samples, want more than %d", len(out), wantMin)
	}
}
