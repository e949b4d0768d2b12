package wavfile_test

import (
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/kurenai-lab/lvcsr/internal/audio/wavfile"
)

// writeTestWAV writes a minimal mono 16-bit PCM WAV file containing the
// given samples and returns its path.
func writeTestWAV(t *testing.T, samples []int16, sampleRate int) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "test.wav")

	dataBytes := len(samples) * 2
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer f.Close()

	write := func(b []byte) {
		if _, err := f.Write(b); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	u32 := func(v uint32) []byte { b := make([]byte, 4); binary.LittleEndian.PutUint32(b, v); return b }
	u16 := func(v uint16) []byte { b := make([]byte, 2); binary.LittleEndian.PutUint16(b, v); return b }

	write([]byte("RIFF"))
	write(u32(uint32(36 + dataBytes)))
	write([]byte("WAVE"))

	write([]byte("fmt "))
	write(u32(16))
	write(u16(1)) // PCM
	write(u16(1)) // mono
	write(u32(uint32(sampleRate)))
	write(u32(uint32(sampleRate * 2)))
	write(u16(2))  // block align
	write(u16(16)) // bits per sample

	write([]byte("data"))
	write(u32(uint32(dataBytes)))
	for _, s := range samples {
		write(u16(uint16(s)))
	}

	return path
}

func TestOpenAndReadWholeFile(t *testing.T) {
	samples := []int16{0, 16384, -16384, 32767, -32768}
	path := writeTestWAV(t, samples, 16000)

	c, err := wavfile.Open(path, 100)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer c.Close()

	if c.Format.SampleRate != 16000 || c.Format.Channels != 1 {
		t.Fatalf("Format = %+v, want 16000 Hz mono", c.Format)
	}

	chunk, ok, err := c.Read(context.Background())
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !ok {
		t.Fatal("Read: ok = false on first call, want true")
	}
	if len(chunk) != len(samples) {
		t.Fatalf("len(chunk) = %d, want %d", len(chunk), len(samples))
	}

	_, ok, err = c.Read(context.Background())
	if err != nil {
		t.Fatalf("Read (exhausted): %v", err)
	}
	if ok {
		t.Fatal("Read: ok = true after data exhausted, want false")
	}
}

func TestReadChunking(t *testing.T) {
	samples := make([]int16, 250)
	path := writeTestWAV(t, samples, 8000)

	c, err := wavfile.Open(path, 100)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer c.Close()

	total := 0
	for {
		chunk, ok, err := c.Read(context.Background())
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
		if !ok {
			break
		}
		total += len(chunk)
	}
	if total != len(samples) {
		t.Fatalf("total samples read = %d, want %d", total, len(samples))
	}
}

func TestOpenRejectsNonWAV(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "not-a-wav.bin")
	if err := os.WriteFile(path, []byte("not a riff file at all"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := wavfile.Open(path, 100); err == nil {
		t.Fatal("Open: want error for non-WAV file, got nil")
	}
}
