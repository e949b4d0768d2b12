// Package wavfile provides a concrete [audio.Capture] reading 16-bit PCM
// samples from a RIFF/WAVE file, chunked for the [audio.RingBuffer]/
// [audio.Pump] pipeline. Nothing in the retrieved pack pulls in a WAV
// parsing library — the teacher's own pkg/audio.FormatConverter decodes PCM
// by hand via direct byte manipulation rather than a library — so this
// reader follows the same approach: a minimal RIFF chunk walk plus manual
// int16-to-float64 conversion, using only encoding/binary.
package wavfile

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

// Format describes the PCM layout of an opened WAV file, read from its
// "fmt " chunk.
type Format struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
}

// Capture reads fixed-size sample chunks from a 16-bit PCM WAV file,
// downmixing multi-channel audio to mono by averaging channels. It
// implements [github.com/kurenai-lab/lvcsr/internal/audio.Capture].
type Capture struct {
	f      *os.File
	Format Format

	chunkSamples int // per-channel samples per Read call
	dataLeft     int64
}

// Open parses path's RIFF header and "fmt "/"data" chunks and returns a
// ready-to-read Capture. chunkSamples sets how many per-channel samples
// each Read call returns (the final chunk may be shorter).
func Open(path string, chunkSamples int) (*Capture, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("wavfile: open %q: %w", path, err)
	}

	format, dataLen, err := readHeader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("wavfile: %q: %w", path, err)
	}
	if format.BitsPerSample != 16 {
		f.Close()
		return nil, fmt.Errorf("wavfile: %q: only 16-bit PCM is supported, got %d-bit", path, format.BitsPerSample)
	}

	return &Capture{f: f, Format: format, chunkSamples: chunkSamples, dataLeft: dataLen}, nil
}

// Read returns the next chunk of mono float32 samples scaled to [-1, 1], or
// ok=false once the data chunk is exhausted. ctx is accepted to satisfy
// [audio.Capture] but is not consulted mid-read — a local file read never
// blocks long enough to need cancellation.
func (c *Capture) Read(ctx context.Context) (chunk []float32, ok bool, err error) {
	if c.dataLeft <= 0 {
		return nil, false, nil
	}

	channels := c.Format.Channels
	if channels < 1 {
		channels = 1
	}
	wantBytes := int64(c.chunkSamples) * int64(channels) * 2
	if wantBytes > c.dataLeft {
		wantBytes = c.dataLeft
	}
	// Round down to a whole frame (all channels, 2 bytes per sample).
	frameBytes := int64(channels) * 2
	wantBytes -= wantBytes % frameBytes
	if wantBytes <= 0 {
		c.dataLeft = 0
		return nil, false, nil
	}

	buf := make([]byte, wantBytes)
	n, err := io.ReadFull(c.f, buf)
	if err != nil && err != io.ErrUnexpectedEOF {
		return nil, false, fmt.Errorf("wavfile: read: %w", err)
	}
	buf = buf[:n]
	c.dataLeft -= int64(n)

	frames := n / int(frameBytes)
	out := make([]float32, frames)
	for i := 0; i < frames; i++ {
		var sum int32
		for ch := 0; ch < channels; ch++ {
			off := i*int(frameBytes) + ch*2
			sum += int32(int16(binary.LittleEndian.Uint16(buf[off : off+2])))
		}
		out[i] = float32(sum) / float32(channels) / 32768.0
	}
	return out, true, nil
}

// Close closes the underlying file.
func (c *Capture) Close() error { return c.f.Close() }

// readHeader walks f's RIFF chunk list looking for "fmt " and "data",
// returning the parsed format and the data chunk's byte length. Chunks
// other than "fmt "/"data" (e.g. "LIST", "fact") are skipped by their
// declared size.
func readHeader(f *os.File) (Format, int64, error) {
	var riff [12]byte
	if _, err := io.ReadFull(f, riff[:]); err != nil {
		return Format{}, 0, fmt.Errorf("short RIFF header: %w", err)
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return Format{}, 0, fmt.Errorf("not a RIFF/WAVE file")
	}

	var format Format
	var haveFmt bool
	for {
		var hdr [8]byte
		if _, err := io.ReadFull(f, hdr[:]); err != nil {
			return Format{}, 0, fmt.Errorf("truncated before data chunk: %w", err)
		}
		id := string(hdr[0:4])
		size := int64(binary.LittleEndian.Uint32(hdr[4:8]))

		switch id {
		case "fmt ":
			body := make([]byte, size)
			if _, err := io.ReadFull(f, body); err != nil {
				return Format{}, 0, fmt.Errorf("short fmt chunk: %w", err)
			}
			format = Format{
				Channels:      int(binary.LittleEndian.Uint16(body[2:4])),
				SampleRate:    int(binary.LittleEndian.Uint32(body[4:8])),
				BitsPerSample: int(binary.LittleEndian.Uint16(body[14:16])),
			}
			haveFmt = true
			if size%2 == 1 {
				f.Seek(1, io.SeekCurrent)
			}
		case "data":
			if !haveFmt {
				return Format{}, 0, fmt.Errorf("data chunk before fmt chunk")
			}
			return format, size, nil
		default:
			if _, err := f.Seek(size+size%2, io.SeekCurrent); err != nil {
				return Format{}, 0, fmt.Errorf("seek past %q chunk: %w", id, err)
			}
		}
	}
}
