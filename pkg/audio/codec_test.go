package audio

import (
	"errors"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	c := NewCodec()

	pcm := make([]int16, frameSamples(16000))
	for i := range pcm {
		pcm[i] = int16((i % 200) - 100)
	}

	packet, err := c.Encode(pcm, 16000, 1)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if len(packet) == 0 {
		t.Fatal("expected non-empty opus packet")
	}

	out, err := c.Decode(packet, 16000, 1)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out) != len(pcm) {
		t.Fatalf("expected %d samples back, got %d", len(pcm), len(out))
	}
}

func TestEncodeRejectsWrongFrameSize(t *testing.T) {
	c := NewCodec()
	_, err := c.Encode(make([]int16, 10), 16000, 1)
	if err == nil {
		t.Fatal("expected error for mis-sized frame")
	}
}

func TestEncodeZeroLengthBufferFailsWithBufferTooSmall(t *testing.T) {
	c := NewCodec()
	_, err := c.Encode(nil, 16000, 1)
	if !errors.Is(err, ErrBufferTooSmall) {
		t.Fatalf("expected ErrBufferTooSmall, got %v", err)
	}
}

func TestDecodeCorruptPacketYieldsSilence(t *testing.T) {
	c := NewCodec()
	garbage := []byte{0xff, 0xff, 0xff, 0xff, 0xff}
	out, err := c.Decode(garbage, 24000, 1)
	if err == nil {
		t.Fatal("expected an error surfaced alongside the silence frame")
	}
	if len(out) != frameSamples(24000) {
		t.Fatalf("expected a full silence frame, got %d samples", len(out))
	}
	for _, s := range out {
		if s != 0 {
			t.Fatal("expected silence frame to be all zeros")
		}
	}
}

func TestCodecCachesPerRateAndChannel(t *testing.T) {
	c := NewCodec()
	pcm16 := make([]int16, frameSamples(16000))
	pcm24 := make([]int16, frameSamples(24000))

	if _, err := c.Encode(pcm16, 16000, 1); err != nil {
		t.Fatalf("encode 16k: %v", err)
	}
	if _, err := c.Encode(pcm24, 24000, 1); err != nil {
		t.Fatalf("encode 24k: %v", err)
	}
	if len(c.encoders) != 2 {
		t.Fatalf("expected 2 cached encoders, got %d", len(c.encoders))
	}
}
