package audio_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kurenai-lab/lvcsr/internal/audio"
)

func TestRingBufferPushPop(t *testing.T) {
	rb := audio.NewRingBuffer(2)
	rb.Push([]float32{1, 2, 3})
	rb.Push([]float32{4, 5, 6})

	ctx := context.Background()
	chunk, ok, err := rb.Pop(ctx)
	if err != nil || !ok {
		t.Fatalf("Pop() = %v, %v, %v", chunk, ok, err)
	}
	if chunk[0] != 1 {
		t.Fatalf("expected first chunk, got %v", chunk)
	}
}

func TestRingBufferOverflow(t *testing.T) {
	rb := audio.NewRingBuffer(1)
	rb.Push([]float32{1})
	rb.Push([]float32{2}) // dropped, buffer full
	if !rb.Overflowed() {
		t.Fatalf("expected overflow flag set")
	}
	rb.ResetOverflow()
	if rb.Overflowed() {
		t.Fatalf("expected overflow flag cleared")
	}

	chunk, ok, err := rb.Pop(context.Background())
	if err != nil || !ok || chunk[0] != 1 {
		t.Fatalf("Pop() = %v, %v, %v, want the first pushed chunk", chunk, ok, err)
	}
}

func TestRingBufferPopBlocksUntilPush(t *testing.T) {
	rb := audio.NewRingBuffer(4)
	var got []float32
	done := make(chan struct{})
	go func() {
		chunk, ok, err := rb.Pop(context.Background())
		if err == nil && ok {
			got = chunk
		}
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	rb.Push([]float32{9, 9})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Pop did not return after Push")
	}
	if len(got) != 2 || got[0] != 9 {
		t.Fatalf("got = %v", got)
	}
}

func TestRingBufferCloseUnblocksPop(t *testing.T) {
	rb := audio.NewRingBuffer(1)
	done := make(chan struct{})
	var ok bool
	go func() {
		_, ok, _ = rb.Pop(context.Background())
		close(done)
	}()
	time.Sleep(10 * time.Millisecond)
	rb.Close()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Pop did not return after Close")
	}
	if ok {
		t.Fatalf("Pop() ok = true after Close, want false")
	}
}

func TestRingBufferPopRespectsContext(t *testing.T) {
	rb := audio.NewRingBuffer(1)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, ok, err := rb.Pop(ctx)
	if ok || err == nil {
		t.Fatalf("Pop() = ok=%v err=%v, want context deadline error", ok, err)
	}
}

type fakeCapture struct {
	mu     sync.Mutex
	chunks [][]float32
	i      int
	closed bool
}

func (c *fakeCapture) Read(ctx context.Context) ([]float32, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.i >= len(c.chunks) {
		return nil, false, nil
	}
	chunk := c.chunks[c.i]
	c.i++
	return chunk, true, nil
}

func (c *fakeCapture) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func TestPumpDrainsCaptureIntoRingBuffer(t *testing.T) {
	cap := &fakeCapture{chunks: [][]float32{{1}, {2}, {3}}}
	buf := audio.NewRingBuffer(8)
	p := audio.NewPump(cap, buf)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)

	var got []float32
	for i := 0; i < 3; i++ {
		chunk, ok, err := buf.Pop(ctx)
		if err != nil || !ok {
			t.Fatalf("Pop(%d) = %v, %v, %v", i, chunk, ok, err)
		}
		got = append(got, chunk...)
	}
	if len(got) != 3 || got[0] != 1 || got[2] != 3 {
		t.Fatalf("got = %v, want [1 2 3]", got)
	}

	_, ok, err := buf.Pop(ctx)
	if err != nil || ok {
		t.Fatalf("expected exhausted source to close the buffer, got ok=%v err=%v", ok, err)
	}
}

type errCapture struct{ err error }

func (c *errCapture) Read(ctx context.Context) ([]float32, bool, error) { return nil, false, c.err }
func (c *errCapture) Close() error                                      { return nil }

func TestPumpStopsOnReadError(t *testing.T) {
	wantErr := errors.New("device disconnected")
	cap := &errCapture{err: wantErr}
	buf := audio.NewRingBuffer(4)
	p := audio.NewPump(cap, buf)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)

	_, ok, _ := buf.Pop(ctx)
	if ok {
		t.Fatalf("expected buffer closed after read error")
	}

	deadline := time.After(time.Second)
	for p.Err() == nil {
		select {
		case <-deadline:
			t.Fatal("Pump.Err() never set")
		default:
			time.Sleep(time.Millisecond)
		}
	}
	if p.Err() != wantErr {
		t.Fatalf("Err() = %v, want %v", p.Err(), wantErr)
	}
}

func TestPumpStopClosesCapture(t *testing.T) {
	cap := &fakeCapture{}
	buf := audio.NewRingBuffer(1)
	p := audio.NewPump(cap, buf)
	p.Start(context.Background())
	if err := p.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	cap.mu.Lock()
	closed := cap.closed
	cap.mu.Unlock()
	if !closed {
		t.Fatalf("expected capture to be closed after Stop")
	}
}
