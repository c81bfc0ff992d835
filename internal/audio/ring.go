package audio

import (
	"errors"
	"sync"
)

// ErrInvalidCapacity is returned when a ring buffer is constructed with a
// zero capacity.
var ErrInvalidCapacity = errors.New("ring buffer capacity must be greater than 0")

// Ring is a fixed-capacity circular buffer of PCM samples. It is written by
// exactly one producer (the capture callback) and read by one consumer.
//
// Overflow policy: when the buffer is full, Push overwrites the oldest
// samples so the buffer always retains the most recent Cap() samples.
type Ring struct {
	mu       sync.Mutex
	data     []float32
	writePos int
	readPos  int
	count    int
}

// NewRing allocates a ring buffer holding up to capacity samples.
func NewRing(capacity int) (*Ring, error) {
	if capacity <= 0 {
		return nil, ErrInvalidCapacity
	}
	return &Ring{data: make([]float32, capacity)}, nil
}

// Push appends samples, overwriting the oldest data when full. It never
// allocates and never blocks beyond the buffer's own short critical
// section, so it is safe to call from the capture callback.
func (r *Ring) Push(samples []float32) {
	r.mu.Lock()
	for _, s := range samples {
		r.data[r.writePos] = s
		r.writePos = (r.writePos + 1) % len(r.data)
		if r.count < len(r.data) {
			r.count++
		} else {
			r.readPos = (r.readPos + 1) % len(r.data)
		}
	}
	r.mu.Unlock()
}

// Drain returns all buffered samples in arrival order and resets the buffer.
func (r *Ring) Drain() []float32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.snapshot(r.count)
	r.writePos = 0
	r.readPos = 0
	r.count = 0
	return out
}

// Tail copies the most recent n samples without consuming them. When fewer
// than n samples are buffered it returns all of them.
func (r *Ring) Tail(n int) []float32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n > r.count {
		n = r.count
	}
	if n <= 0 {
		return nil
	}
	out := make([]float32, n)
	start := (r.readPos + r.count - n) % len(r.data)
	for i := 0; i < n; i++ {
		out[i] = r.data[(start+i)%len(r.data)]
	}
	return out
}

// Reset discards all buffered samples.
func (r *Ring) Reset() {
	r.mu.Lock()
	r.writePos = 0
	r.readPos = 0
	r.count = 0
	r.mu.Unlock()
}

// Len reports the number of buffered samples.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Cap reports the buffer capacity in samples.
func (r *Ring) Cap() int {
	return len(r.data)
}

func (r *Ring) snapshot(n int) []float32 {
	out := make([]float32, n)
	pos := r.readPos
	for i := 0; i < n; i++ {
		out[i] = r.data[pos]
		pos = (pos + 1) % len(r.data)
	}
	return out
}
