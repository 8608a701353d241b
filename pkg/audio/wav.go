package audio

import (
	"bytes"
	"encoding/binary"
	"sync"
)

// NewWavBuffer wraps raw 16-bit PCM in a minimal RIFF/WAVE header, for
// writing captured audio to disk during diagnostics.
func NewWavBuffer(pcm []byte, sampleRate int) []byte {
	buf := new(bytes.Buffer)

	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(16))
	binary.Write(buf, binary.LittleEndian, uint16(1))
	binary.Write(buf, binary.LittleEndian, uint16(1))
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate*2))
	binary.Write(buf, binary.LittleEndian, uint16(2))
	binary.Write(buf, binary.LittleEndian, uint16(16))

	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)

	return buf.Bytes()
}

// pcmBytes converts a slice of 16-bit samples to little-endian bytes.
func pcmBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// DebugRecorder retains a bounded trailing window of uplink PCM so a
// troubled session can be dumped to a WAV file after the fact, without
// keeping unbounded audio history in memory.
type DebugRecorder struct {
	mu         sync.Mutex
	sampleRate int
	maxSamples int
	samples    []int16
}

// NewDebugRecorder returns a recorder that keeps at most maxSeconds of
// audio at sampleRate.
func NewDebugRecorder(sampleRate int, maxSeconds float64) *DebugRecorder {
	return &DebugRecorder{
		sampleRate: sampleRate,
		maxSamples: int(float64(sampleRate) * maxSeconds),
	}
}

// Append records one decoded/captured PCM frame, discarding the oldest
// samples once the window is full.
func (r *DebugRecorder) Append(frame []int16) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.samples = append(r.samples, frame...)
	if over := len(r.samples) - r.maxSamples; over > 0 {
		r.samples = r.samples[over:]
	}
}

// Reset discards all retained audio, e.g. when a new Listening turn starts.
func (r *DebugRecorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.samples = nil
}

// ExportWav renders the currently retained window as a WAV file.
func (r *DebugRecorder) ExportWav() []byte {
	r.mu.Lock()
	samples := append([]int16(nil), r.samples...)
	rate := r.sampleRate
	r.mu.Unlock()

	return NewWavBuffer(pcmBytes(samples), rate)
}
