package audio

import (
	"context"
	"log/slog"
	"sync"
)

// Pump drains a Capture into a RingBuffer on a background goroutine, so the
// core decoder loop never calls into the capture source directly. The
// start/stop lifecycle (a done channel closed exactly once, checked
// alongside ctx.Done in the run loop) is grounded on
// internal/session.Reconnector's monitor goroutine.
type Pump struct {
	cap Capture
	buf *RingBuffer

	done     chan struct{}
	stopOnce sync.Once

	mu  sync.Mutex
	err error
}

// NewPump creates a Pump that reads from cap and pushes into buf.
func NewPump(cap Capture, buf *RingBuffer) *Pump {
	return &Pump{cap: cap, buf: buf, done: make(chan struct{})}
}

// Start launches the pump goroutine. It returns immediately.
func (p *Pump) Start(ctx context.Context) {
	go p.run(ctx)
}

func (p *Pump) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.buf.Close()
			return
		case <-p.done:
			return
		default:
		}

		chunk, ok, err := p.cap.Read(ctx)
		if err != nil {
			p.setErr(err)
			p.buf.Close()
			return
		}
		if !ok {
			p.buf.Close()
			return
		}
		p.buf.Push(chunk)
		if p.buf.Overflowed() {
			slog.Warn("audio ring buffer overflow, dropping chunk", "component", "audio")
			p.buf.ResetOverflow()
		}
	}
}

// Stop halts the pump and closes the underlying capture source. Safe to
// call multiple times.
func (p *Pump) Stop() error {
	p.stopOnce.Do(func() {
		close(p.done)
	})
	return p.cap.Close()
}

// Err returns the error that stopped the pump, if any.
func (p *Pump) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *Pump) setErr(err error) {
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
}
