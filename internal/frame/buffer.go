// Package frame bridges arbitrary-size PCM byte chunks to the fixed-size
// float32 windows a VAD model expects.
package frame

import (
	"errors"
	"math"
)

const (
	// SampleRate is the only sample rate this engine supports: 16 kHz mono.
	SampleRate = 16000

	// Samples is the model's input window size, in samples.
	Samples = 512

	// DurationMs is the wall-clock span of one frame: 512 * 1000 / 16000 = 32ms.
	DurationMs = Samples * 1000 / SampleRate

	// compactThreshold bounds how large the consumed prefix of the backing
	// array is allowed to grow before it's reclaimed. Keeps long-running
	// streams from accumulating an ever-growing slice.
	compactThreshold = Samples * 256
)

// Format identifies the on-wire PCM sample encoding.
type Format int

const (
	// FormatS16LE is 16-bit signed little-endian integer PCM.
	FormatS16LE Format = iota
	// FormatF32LE is 32-bit float little-endian PCM.
	FormatF32LE
)

// ErrInvalidLength is returned by Append when the chunk length is not a
// whole number of samples for the given format.
var ErrInvalidLength = errors.New("frame: chunk length is not a whole number of samples")

// ErrLifecycleMisuse is returned by Append after Flush has been called.
var ErrLifecycleMisuse = errors.New("frame: append called after flush")

// AudioFrame is 512 samples of 16kHz mono float32 PCM plus the position of
// sample 0 in the logical input stream. Value-typed and immutable once
// produced.
type AudioFrame struct {
	Samples          [Samples]float32
	StartTimestampMs int64
}

// Buffer is a monotonic, append-only logical buffer that yields exactly
// Samples-sized frames. It reuses its backing array between frames instead
// of allocating per frame.
type Buffer struct {
	data          []float32
	start         int // index of first unconsumed sample in data
	totalWritten  uint64
	totalConsumed uint64
	flushed       bool
}

// New returns an empty Buffer.
func New() *Buffer {
	return &Buffer{data: make([]float32, 0, Samples*4)}
}

// Append converts raw PCM bytes in the given format to float32 samples and
// appends them to the logical stream. Fails with ErrInvalidLength if the
// byte length is not a whole number of samples, or ErrLifecycleMisuse if
// called after Flush.
func (b *Buffer) Append(raw []byte, format Format) error {
	if b.flushed {
		return ErrLifecycleMisuse
	}

	switch format {
	case FormatS16LE:
		if len(raw)%2 != 0 {
			return ErrInvalidLength
		}
		n := len(raw) / 2
		b.ensureCapacity(n)
		for i := 0; i < n; i++ {
			u := uint16(raw[2*i]) | uint16(raw[2*i+1])<<8
			b.data = append(b.data, float32(int16(u))/32768.0)
		}
	case FormatF32LE:
		if len(raw)%4 != 0 {
			return ErrInvalidLength
		}
		n := len(raw) / 4
		b.ensureCapacity(n)
		for i := 0; i < n; i++ {
			bits := uint32(raw[4*i]) | uint32(raw[4*i+1])<<8 | uint32(raw[4*i+2])<<16 | uint32(raw[4*i+3])<<24
			b.data = append(b.data, math.Float32frombits(bits))
		}
	default:
		return ErrInvalidLength
	}

	b.totalWritten += uint64(len(raw)) / sampleSize(format)
	return nil
}

func sampleSize(format Format) uint64 {
	if format == FormatF32LE {
		return 4
	}
	return 2
}

func (b *Buffer) ensureCapacity(additional int) {
	if cap(b.data)-len(b.data) >= additional {
		return
	}
	grown := make([]float32, len(b.data), len(b.data)+additional+Samples*4)
	copy(grown, b.data)
	b.data = grown
}

// PopFrame returns the next full frame if available, without blocking.
func (b *Buffer) PopFrame() (AudioFrame, bool) {
	available := len(b.data) - b.start
	if available < Samples {
		return AudioFrame{}, false
	}

	f := AudioFrame{StartTimestampMs: int64(b.totalConsumed * 1000 / SampleRate)}
	copy(f.Samples[:], b.data[b.start:b.start+Samples])
	b.start += Samples
	b.totalConsumed += Samples
	b.compact()
	return f, true
}

// Flush returns a final frame zero-padded on the right if any residual
// samples remain, else false. Intended to be called once at stream close;
// subsequent calls return false since the residual has already drained.
func (b *Buffer) Flush() (AudioFrame, bool) {
	b.flushed = true
	residual := len(b.data) - b.start
	if residual <= 0 {
		return AudioFrame{}, false
	}

	f := AudioFrame{StartTimestampMs: int64(b.totalConsumed * 1000 / SampleRate)}
	copy(f.Samples[:], b.data[b.start:])
	b.start = len(b.data)
	b.totalConsumed += uint64(residual)
	b.compact()
	return f, true
}

// compact reclaims the consumed prefix of the backing array once it grows
// past compactThreshold, so long streams don't grow data unboundedly.
func (b *Buffer) compact() {
	if b.start < compactThreshold {
		return
	}
	n := copy(b.data, b.data[b.start:])
	b.data = b.data[:n]
	b.start = 0
}

// TotalSamplesWritten reports the total number of samples appended so far.
func (b *Buffer) TotalSamplesWritten() uint64 { return b.totalWritten }

// TotalSamplesConsumed reports the total number of real samples emitted as
// frames so far; the zero-padding Flush adds is not counted.
func (b *Buffer) TotalSamplesConsumed() uint64 { return b.totalConsumed }
