package realtime

import (
	"bytes"
	"testing"
	"time"
)

func pcm16(samples ...int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		out[i*2] = byte(uint16(s))
		out[i*2+1] = byte(uint16(s) >> 8)
	}
	return out
}

func TestDownsampleBoxFilter(t *testing.T) {
	// 48 kHz -> 16 kHz, factor 3: each output sample is the mean of three.
	in := AudioChunk{Data: pcm16(3, 6, 9, 30, 60, 90), Format: Format48k}
	out, err := Downsample(in, Format16k)
	if err != nil {
		t.Fatalf("downsample: %v", err)
	}
	want := pcm16(6, 60)
	if !bytes.Equal(out.Data, want) {
		t.Errorf("out = %v, want %v", out.Data, want)
	}
	if out.Format != Format16k {
		t.Errorf("format = %+v", out.Format)
	}
}

func TestDownsampleSameRateIsIdentity(t *testing.T) {
	in := AudioChunk{Data: pcm16(1, 2, 3), Format: Format16k}
	out, err := Downsample(in, Format16k)
	if err != nil {
		t.Fatalf("downsample: %v", err)
	}
	if !bytes.Equal(out.Data, in.Data) {
		t.Error("same-rate downsample should be identity")
	}
}

func TestDownsampleRejectsNonIntegerFactor(t *testing.T) {
	in := AudioChunk{Data: pcm16(1, 2), Format: Format48k}
	if _, err := Downsample(in, Format24k); err != nil {
		t.Fatalf("48->24 is integer factor 2: %v", err)
	}
	odd := AudioChunk{Data: pcm16(1, 2), Format: AudioFormat{SampleRate: 44100}}
	if _, err := Downsample(odd, Format16k); err == nil {
		t.Error("non-integer decimation must fail")
	}
}

func TestSmartAudioBufferWindows(t *testing.T) {
	buf := NewSmartAudioBuffer(Format16k, 0)
	// 200 ms at 16 kHz PCM16 = 6400 bytes.
	threshold := buf.thresholdBytes()
	if threshold != 6400 {
		t.Fatalf("threshold = %d, want 6400", threshold)
	}

	if chunks := buf.Push(make([]byte, threshold-2)); chunks != nil {
		t.Errorf("partial window should not emit, got %d chunks", len(chunks))
	}
	chunks := buf.Push(make([]byte, threshold+2))
	if len(chunks) != 2 {
		t.Fatalf("got %d chunks, want 2", len(chunks))
	}
	for _, c := range chunks {
		if len(c.Data) != threshold {
			t.Errorf("chunk size = %d, want %d", len(c.Data), threshold)
		}
	}
	if buf.Len() != 0 {
		t.Errorf("pending = %d, want 0", buf.Len())
	}
}

func TestSmartAudioBufferFlushTail(t *testing.T) {
	buf := NewSmartAudioBuffer(Format16k, 0)
	buf.Push(make([]byte, 100))
	tail, ok := buf.FlushRemaining()
	if !ok || len(tail.Data) != 100 {
		t.Errorf("tail = %v/%v", len(tail.Data), ok)
	}
	if _, ok := buf.FlushRemaining(); ok {
		t.Error("second flush should be empty")
	}
}

func TestSmartAudioBufferDropsEmpty(t *testing.T) {
	buf := NewSmartAudioBuffer(Format16k, 0)
	if chunks := buf.Push(nil); chunks != nil {
		t.Error("zero-length input must be dropped silently")
	}
	if buf.Len() != 0 {
		t.Error("buffer should stay empty")
	}
}

func TestAudioChunkDuration(t *testing.T) {
	chunk := AudioChunk{Data: make([]byte, 32000), Format: Format16k}
	if got := chunk.Duration(); got != time.Second {
		t.Errorf("duration = %v, want 1s", got)
	}
}

func TestConfigValidation(t *testing.T) {
	valid := Config{InputAudioFormat: Format16k, OutputAudioFormat: Format24k}
	if err := valid.Validate(); err != nil {
		t.Errorf("valid config rejected: %v", err)
	}

	bad := []Config{
		{InputAudioFormat: AudioFormat{SampleRate: 8000}, OutputAudioFormat: Format24k},
		{InputAudioFormat: Format16k, OutputAudioFormat: Format24k,
			TurnDetection: &TurnDetection{Threshold: 2}},
		{InputAudioFormat: Format16k, OutputAudioFormat: Format24k,
			Tools: []ToolDeclaration{{Name: "a"}, {Name: "a"}}},
	}
	for i, cfg := range bad {
		if err := cfg.Validate(); err == nil {
			t.Errorf("config %d should fail validation", i)
		}
	}
}
