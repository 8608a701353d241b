// Package wakeword implements the coordinator described in spec §4.9:
// pause/resume of keyword spotting, the Speaking-only voice-activity
// interrupt detector, and the echo guard that recognizes the bot's own
// playback in captured audio (applied by the orchestrator to uplink
// frames, not to the VAD's input). The RMS/hysteresis shape
// is carried over from the reference orchestrator's VAD
// (github.com/lokutor-ai/lokutor-orchestrator pkg/orchestrator/vad.go),
// retuned to the raw int16 energy domain this spec uses instead of that
// provider's normalized-float one.
package wakeword

import (
	"math"
	"sync"
)

// SubFrameDurationMS is the VAD's own sub-framing, independent of and
// finer-grained than the 60ms transport framing (spec §4.9).
const SubFrameDurationMS = 20

// DefaultThreshold and DefaultSpeechWindow are spec §4.9's published
// defaults, resolving the Open Question in spec §9 (two conflicting
// hardcoded tunings; the published pair wins, both remain adjustable).
const (
	DefaultThreshold    = 300.0
	DefaultSpeechWindow = 5
)

// SubFrameSamples returns how many samples one 20ms sub-frame holds at
// sampleRate.
func SubFrameSamples(sampleRate int) int {
	return sampleRate * SubFrameDurationMS / 1000
}

// VAD is the Speaking-only voice-interruption detector. It is inert
// (Process always returns false) until SetActive(true) is called, and
// emits InterruptEvent at most once per active period (spec §4.9: "emits
// ... exactly once until state exits Speaking").
type VAD struct {
	mu sync.Mutex

	threshold    float64
	speechWindow int

	active      bool
	consecutive int
	emitted     bool

	triggered chan struct{}
}

// NewVAD returns a VAD using the given threshold (raw 16-bit RMS energy)
// and speechWindow (consecutive sub-frames required to confirm speech).
func NewVAD(threshold float64, speechWindow int) *VAD {
	return &VAD{threshold: threshold, speechWindow: speechWindow, triggered: make(chan struct{}, 1)}
}

// Triggered emits once per active period, the same moment Process starts
// returning true; kept as a channel alongside the bool return so an
// InterruptManager can subscribe without polling Process's return value.
func (v *VAD) Triggered() <-chan struct{} {
	return v.triggered
}

// DefaultVAD returns a VAD using spec §4.9's published defaults.
func DefaultVAD() *VAD {
	return NewVAD(DefaultThreshold, DefaultSpeechWindow)
}

// SetActive arms or disarms detection. The counter and the once-per-period
// latch both reset on every transition, per spec §4.9 ("resets whenever
// ... state changes").
func (v *VAD) SetActive(active bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.active = active
	v.consecutive = 0
	v.emitted = false
}

// Threshold/SpeechWindow expose the tunables named in spec §9's Open
// Question resolution.
func (v *VAD) Threshold() float64 { return v.threshold }
func (v *VAD) SpeechWindow() int  { return v.speechWindow }

func (v *VAD) SetThreshold(t float64)    { v.mu.Lock(); v.threshold = t; v.mu.Unlock() }
func (v *VAD) SetSpeechWindow(w int)     { v.mu.Lock(); v.speechWindow = w; v.mu.Unlock() }

// Process feeds one 20ms sub-frame. It returns true exactly once per
// active period, the moment SpeechWindow consecutive sub-frames exceed
// Threshold; every call thereafter (until the next SetActive(true))
// returns false, even if speech continues.
func (v *VAD) Process(subframe []int16) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.active {
		return false
	}

	rms := rmsEnergy(subframe)
	if rms > v.threshold {
		v.consecutive++
	} else {
		v.consecutive = 0
	}

	if v.emitted || v.consecutive < v.speechWindow {
		return false
	}
	v.emitted = true
	select {
	case v.triggered <- struct{}{}:
	default:
	}
	return true
}

func rmsEnergy(subframe []int16) float64 {
	if len(subframe) == 0 {
		return 0
	}
	var sum float64
	for _, s := range subframe {
		f := float64(s)
		sum += f * f
	}
	return math.Sqrt(sum / float64(len(subframe)))
}
