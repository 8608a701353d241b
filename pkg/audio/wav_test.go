package audio

import (
	"bytes"
	"testing"
)

func TestNewWavBuffer(t *testing.T) {
	pcm := []byte{0x01, 0x02, 0x03, 0x04}
	sampleRate := 44100
	wav := NewWavBuffer(pcm, sampleRate)

	if !bytes.HasPrefix(wav, []byte("RIFF")) {
		t.Errorf("Expected RIFF prefix")
	}

	if !bytes.Contains(wav, []byte("WAVE")) {
		t.Errorf("Expected WAVE format identifier")
	}

	expectedLen := 44 + len(pcm)
	if len(wav) != expectedLen {
		t.Errorf("Expected length %d, got %d", expectedLen, len(wav))
	}
}

func TestDebugRecorderBoundsWindow(t *testing.T) {
	r := NewDebugRecorder(16000, 0.01) // 160 samples

	for i := 0; i < 5; i++ {
		r.Append(make([]int16, 100))
	}

	wav := r.ExportWav()
	// header (44) + 160 samples * 2 bytes
	if len(wav) != 44+160*2 {
		t.Fatalf("expected window capped at 160 samples, got wav len %d", len(wav))
	}
}

func TestDebugRecorderReset(t *testing.T) {
	r := NewDebugRecorder(16000, 1)
	r.Append([]int16{1, 2, 3})
	r.Reset()

	wav := r.ExportWav()
	if len(wav) != 44 {
		t.Fatalf("expected empty payload after reset, got %d bytes", len(wav))
	}
}
