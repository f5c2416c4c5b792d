// Package realtime implements bidirectional audio/text sessions over
// WebSocket: voice-activity-driven turn taking, resampling, buffering,
// interruption, and tool-call pass-through.
package realtime

import (
	"fmt"
	"time"
)

// AudioFormat describes a PCM16 little-endian mono stream by its sample rate.
type AudioFormat struct {
	SampleRate int `json:"sample_rate"`
}

// Common formats. Providers consume 16 kHz or 24 kHz; WebRTC peers usually
// produce 48 kHz.
var (
	Format16k = AudioFormat{SampleRate: 16000}
	Format24k = AudioFormat{SampleRate: 24000}
	Format48k = AudioFormat{SampleRate: 48000}
)

// AudioChunk is a PCM16-LE byte buffer labeled with its format.
type AudioChunk struct {
	Data   []byte
	Format AudioFormat
}

// Duration returns the chunk's play time.
func (c AudioChunk) Duration() time.Duration {
	if c.Format.SampleRate <= 0 {
		return 0
	}
	samples := len(c.Data) / 2
	return time.Duration(samples) * time.Second / time.Duration(c.Format.SampleRate)
}

// Downsample reduces a PCM16-LE mono buffer by an integer factor using a box
// filter: each output sample is the mean of factor input samples. This is the
// 48 kHz -> 16/24 kHz path; non-integer ratios are a configuration error.
func Downsample(chunk AudioChunk, target AudioFormat) (AudioChunk, error) {
	if chunk.Format.SampleRate == target.SampleRate {
		return chunk, nil
	}
	if chunk.Format.SampleRate <= 0 || target.SampleRate <= 0 {
		return AudioChunk{}, fmt.Errorf("realtime: invalid sample rates %d -> %d", chunk.Format.SampleRate, target.SampleRate)
	}
	if chunk.Format.SampleRate%target.SampleRate != 0 {
		return AudioChunk{}, fmt.Errorf("realtime: non-integer decimation %d -> %d", chunk.Format.SampleRate, target.SampleRate)
	}
	factor := chunk.Format.SampleRate / target.SampleRate

	in := chunk.Data
	samples := len(in) / 2
	outSamples := samples / factor
	out := make([]byte, outSamples*2)
	for i := 0; i < outSamples; i++ {
		var sum int
		for j := 0; j < factor; j++ {
			idx := (i*factor + j) * 2
			sample := int(int16(uint16(in[idx]) | uint16(in[idx+1])<<8))
			sum += sample
		}
		avg := int16(sum / factor)
		out[i*2] = byte(uint16(avg))
		out[i*2+1] = byte(uint16(avg) >> 8)
	}
	return AudioChunk{Data: out, Format: target}, nil
}

// DefaultBufferWindow is the wall-time bound on input buffering. Buffering is
// bounded by time, not byte count, so latency stays predictable across
// sample rates.
const DefaultBufferWindow = 200 * time.Millisecond

// SmartAudioBuffer coalesces incoming samples into window-sized chunks to cut
// per-frame overhead. Not safe for concurrent use; the session's writer owns
// it.
type SmartAudioBuffer struct {
	format  AudioFormat
	window  time.Duration
	pending []byte
}

// NewSmartAudioBuffer builds a buffer for the given format. A zero window
// uses the default.
func NewSmartAudioBuffer(format AudioFormat, window time.Duration) *SmartAudioBuffer {
	if window <= 0 {
		window = DefaultBufferWindow
	}
	return &SmartAudioBuffer{format: format, window: window}
}

func (b *SmartAudioBuffer) thresholdBytes() int {
	samples := int(int64(b.format.SampleRate) * int64(b.window) / int64(time.Second))
	return samples * 2
}

// Push adds samples and returns any full window-sized chunks ready to send.
// Zero-length input is dropped silently.
func (b *SmartAudioBuffer) Push(data []byte) []AudioChunk {
	if len(data) == 0 {
		return nil
	}
	b.pending = append(b.pending, data...)
	threshold := b.thresholdBytes()
	var out []AudioChunk
	for len(b.pending) >= threshold {
		chunk := make([]byte, threshold)
		copy(chunk, b.pending)
		b.pending = b.pending[threshold:]
		out = append(out, AudioChunk{Data: chunk, Format: b.format})
	}
	return out
}

// FlushRemaining returns the buffered tail, if any. Call on stream close so
// no committed samples are dropped.
func (b *SmartAudioBuffer) FlushRemaining() (AudioChunk, bool) {
	if len(b.pending) == 0 {
		return AudioChunk{}, false
	}
	chunk := AudioChunk{Data: b.pending, Format: b.format}
	b.pending = nil
	return chunk, true
}

// Len returns the number of buffered bytes.
func (b *SmartAudioBuffer) Len() int { return len(b.pending) }

// Clear discards the buffered samples.
func (b *SmartAudioBuffer) Clear() { b.pending = nil }
