// Package audio defines the input-side plugin contracts and the bounded
// single-producer/single-consumer ring buffer the core decoder loop drains
// without blocking longer than one chunk (spec.md §5: "Audio capture may
// run on a second thread that only writes into a bounded ring buffer; the
// core thread drains it without blocking longer than one chunk ... a
// single-producer single-consumer queue with an overflow flag").
package audio

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// InputKind tags what kind of data a session's input plugin produces,
// matching spec.md §9's REDESIGN FLAGS: `InputKind = Audio | FeatureVector
// | OutprobVector` replaces the original's plugin-dispatch inheritance.
type InputKind int

const (
	// InputAudio sources raw PCM samples that must pass through the feature
	// pipeline.
	InputAudio InputKind = iota
	// InputFeatureVector sources already-extracted feature vectors,
	// bypassing the feature pipeline.
	InputFeatureVector
	// InputOutprobVector sources precomputed per-frame output probabilities,
	// bypassing both the feature pipeline and the acoustic model.
	InputOutprobVector
)

func (k InputKind) String() string {
	switch k {
	case InputAudio:
		return "audio"
	case InputFeatureVector:
		return "feature_vector"
	case InputOutprobVector:
		return "outprob_vector"
	default:
		return "unknown"
	}
}

// Capture is a raw-audio-sample source. Read blocks until one chunk is
// available, the source is exhausted (ok=false), or an error occurs.
// Implementations back a microphone, a socket, or a file.
type Capture interface {
	Read(ctx context.Context) (chunk []float32, ok bool, err error)
	Close() error
}

// VectorSource supplies pre-extracted feature or outprob vectors directly,
// used when InputKind is InputFeatureVector or InputOutprobVector.
type VectorSource interface {
	Next(ctx context.Context) (vec []float64, ok bool, err error)
	Close() error
}

// RingBuffer is a bounded SPSC queue of sample chunks. Push never blocks: a
// full buffer drops the chunk and raises the overflow flag rather than
// stalling the capture goroutine, matching spec.md §5's "single-producer
// single-consumer queue with an overflow flag." Capacity is enforced by a
// counting semaphore instead of a hand-rolled condition variable.
type RingBuffer struct {
	sem *semaphore.Weighted

	mu       sync.Mutex
	items    [][]float32
	overflow bool
	closed   bool

	avail chan struct{}
}

// NewRingBuffer creates a ring buffer holding up to capacity chunks.
func NewRingBuffer(capacity int) *RingBuffer {
	if capacity <= 0 {
		capacity = 1
	}
	return &RingBuffer{
		sem:   semaphore.NewWeighted(int64(capacity)),
		avail: make(chan struct{}, 1),
	}
}

// Push enqueues chunk. If the buffer is already full, chunk is dropped and
// Overflowed starts reporting true until ResetOverflow is called.
func (rb *RingBuffer) Push(chunk []float32) {
	if !rb.sem.TryAcquire(1) {
		rb.mu.Lock()
		rb.overflow = true
		rb.mu.Unlock()
		return
	}
	rb.mu.Lock()
	rb.items = append(rb.items, chunk)
	rb.mu.Unlock()
	rb.signal()
}

// Pop removes and returns the oldest chunk, blocking until one is
// available, the buffer is closed (ok=false, err=nil), or ctx is done.
func (rb *RingBuffer) Pop(ctx context.Context) (chunk []float32, ok bool, err error) {
	for {
		rb.mu.Lock()
		if len(rb.items) > 0 {
			chunk = rb.items[0]
			rb.items = rb.items[1:]
			rb.mu.Unlock()
			rb.sem.Release(1)
			return chunk, true, nil
		}
		closed := rb.closed
		rb.mu.Unlock()
		if closed {
			return nil, false, nil
		}
		select {
		case <-ctx.Done():
			return nil, false, ctx.Err()
		case <-rb.avail:
		}
	}
}

// Overflowed reports whether a chunk has been dropped since the last
// ResetOverflow (or since creation).
func (rb *RingBuffer) Overflowed() bool {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.overflow
}

// ResetOverflow clears the overflow flag.
func (rb *RingBuffer) ResetOverflow() {
	rb.mu.Lock()
	rb.overflow = false
	rb.mu.Unlock()
}

// Close marks the buffer as exhausted; pending and future Pop calls past
// the last queued chunk return ok=false.
func (rb *RingBuffer) Close() {
	rb.mu.Lock()
	rb.closed = true
	rb.mu.Unlock()
	rb.signal()
}

func (rb *RingBuffer) signal() {
	select {
	case rb.avail <- struct{}{}:
	default:
	}
}
