package audio

import "testing"

func TestFrameBytes(t *testing.T) {
	if got := FrameBytes(16000); got != 1920 {
		t.Fatalf("expected 1920 bytes for 60ms@16kHz mono S16, got %d", got)
	}
	if got := FrameBytes(24000); got != 2880 {
		t.Fatalf("expected 2880 bytes for 60ms@24kHz mono S16, got %d", got)
	}
}

func TestBytesToInt16(t *testing.T) {
	raw := []byte{0x01, 0x00, 0xff, 0xff}
	out := bytesToInt16(raw)
	if len(out) != 2 {
		t.Fatalf("expected 2 samples, got %d", len(out))
	}
	if out[0] != 1 {
		t.Fatalf("expected first sample 1, got %d", out[0])
	}
	if out[1] != -1 {
		t.Fatalf("expected second sample -1, got %d", out[1])
	}
}

// NewStreamManager must not touch hardware until the first Subscribe.
func TestNewStreamManagerLazy(t *testing.T) {
	m := NewStreamManager(16000, 1)
	if m.device != nil {
		t.Fatal("expected no device before Subscribe")
	}
}

func TestStreamManagerStopWithoutDeviceDoesNotEmitStopped(t *testing.T) {
	m := NewStreamManager(16000, 1)
	m.Stop() // never started; must be a no-op, not a spurious RecordingStopped

	select {
	case <-m.Stopped():
		t.Fatal("expected no RecordingStopped notification for a device that never started")
	default:
	}
}
