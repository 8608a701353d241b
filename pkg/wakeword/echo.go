package wakeword

import (
	"math"
	"sync"
	"time"
)

// echoThresholdDefault/echoSilenceDefault carry
// over the reference orchestrator's EchoSuppressor tunings
// (pkg/orchestrator/echo_suppression.go), which used the same
// correlation-based design for the same purpose: telling real voice
// input apart from the bot's own played-back audio bleeding into the mic.
const (
	echoThresholdDefault = 0.55
	echoSilenceDefault   = 1200 * time.Millisecond
)

// EchoGuard tells real voice input apart from the client's own TTS audio
// leaking back into the capture stream, by correlating incoming frames
// against a short rolling window of what was just played. The
// orchestrator applies it to uplink frames only; the VAD and the
// wake-word spotter receive capture frames unfiltered.
type EchoGuard struct {
	mu sync.Mutex

	played      []int16
	maxSamples  int
	threshold   float64
	silenceGate time.Duration
	lastPlayed  time.Time
	enabled     bool
}

// NewEchoGuard returns an EchoGuard retaining up to maxSeconds of played
// audio at sampleRate for correlation.
func NewEchoGuard(sampleRate int, maxSeconds float64) *EchoGuard {
	return &EchoGuard{
		maxSamples:  int(float64(sampleRate) * maxSeconds),
		threshold:   echoThresholdDefault,
		silenceGate: echoSilenceDefault,
		enabled:     true,
	}
}

// RecordPlayed appends one frame of audio that was just sent to the
// speakers, trimming the rolling window once it exceeds maxSamples.
func (g *EchoGuard) RecordPlayed(frame []int16) {
	if !g.enabled || len(frame) == 0 {
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.played = append(g.played, frame...)
	g.lastPlayed = time.Now()

	if over := len(g.played) - g.maxSamples; over > 0 {
		g.played = g.played[over:]
	}
}

// Clear discards the played-audio window, e.g. when playback is
// interrupted or a new turn begins.
func (g *EchoGuard) Clear() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.played = nil
}

// SetThreshold adjusts detection sensitivity (0-1, higher = more sensitive).
func (g *EchoGuard) SetThreshold(threshold float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if threshold >= 0 && threshold <= 1 {
		g.threshold = threshold
	}
}

// SetEnabled enables or disables echo detection outright.
func (g *EchoGuard) SetEnabled(enabled bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.enabled = enabled
}

// IsEcho reports whether input correlates strongly enough with recently
// played audio to be the bot's own voice rather than a real interruption.
func (g *EchoGuard) IsEcho(input []int16) bool {
	if len(input) == 0 {
		return false
	}

	g.mu.Lock()
	enabled := g.enabled
	if !enabled || time.Since(g.lastPlayed) > g.silenceGate {
		g.mu.Unlock()
		return false
	}
	played := append([]int16(nil), g.played...)
	threshold := g.threshold
	g.mu.Unlock()

	if len(played) == 0 {
		return false
	}

	if maxCorrelation(normalize(input), normalize(played)) > threshold {
		return true
	}
	return maxEnvelopeCorrelation(normalize(input), normalize(played), 8) > threshold+0.05
}

func normalize(samples []int16) []float64 {
	out := make([]float64, len(samples))
	for i, s := range samples {
		out[i] = float64(s) / 32768.0
	}
	return out
}

func energy(samples []float64) float64 {
	var sum float64
	for _, s := range samples {
		sum += s * s
	}
	return sum
}

// maxCorrelation slides input across the whole of reference to find the
// strongest normalized cross-correlation, tolerating playback-to-mic
// latency (teacher's calculateCorrelation/RemoveEchoRealtime approach).
func maxCorrelation(input, reference []float64) float64 {
	if len(input) == 0 || len(reference) == 0 {
		return 0
	}

	compareLen := len(input)
	if compareLen > len(reference) {
		compareLen = len(reference)
	}
	inSeg := input[:compareLen]
	inEnergy := energy(inSeg)
	if inEnergy == 0 {
		return 0
	}

	stride := compareLen / 4
	if stride < 8 {
		stride = 8
	}

	maxCorr := 0.0
	searchRange := len(reference) - compareLen + 1
	for pos := 0; pos < searchRange; pos += stride {
		seg := reference[pos : pos+compareLen]
		segEnergy := energy(seg)
		if segEnergy == 0 {
			continue
		}
		dot := 0.0
		for i := 0; i < compareLen; i++ {
			dot += inSeg[i] * seg[i]
		}
		corr := dot / math.Sqrt(inEnergy*segEnergy)
		if corr > maxCorr {
			maxCorr = corr
			if maxCorr >= 0.999 {
				break
			}
		}
	}

	if maxCorr < 0 {
		return 0
	}
	if maxCorr > 1 {
		return 1
	}
	return maxCorr
}

// maxEnvelopeCorrelation compares the decimated absolute-value envelopes
// of the two signals, catching phase-shifted sibilants a raw sample
// correlation misses (teacher's maxEnvelopeCorrelation).
func maxEnvelopeCorrelation(inSamples, refSamples []float64, decimation int) float64 {
	if len(inSamples) == 0 || len(refSamples) == 0 {
		return 0
	}

	envelope := func(samples []float64) []float64 {
		out := make([]float64, len(samples)/decimation)
		for i := range out {
			sum := 0.0
			for j := 0; j < decimation; j++ {
				sum += math.Abs(samples[i*decimation+j])
			}
			out[i] = sum
		}
		return out
	}

	inEnv := envelope(inSamples)
	refEnv := envelope(refSamples)

	compareLen := len(inEnv)
	if compareLen > len(refEnv) {
		compareLen = len(refEnv)
	}
	if compareLen == 0 {
		return 0
	}

	inMean := 0.0
	for i := 0; i < compareLen; i++ {
		inMean += inEnv[i]
	}
	inMean /= float64(compareLen)

	inVar := 0.0
	for i := 0; i < compareLen; i++ {
		inEnv[i] -= inMean
		inVar += inEnv[i] * inEnv[i]
	}
	if inVar <= 0 {
		return 0
	}

	stride := compareLen / 4
	if stride < 2 {
		stride = 2
	}

	maxCorr := 0.0
	searchRange := len(refEnv) - compareLen + 1
	for pos := 0; pos < searchRange; pos += stride {
		refMean := 0.0
		for i := 0; i < compareLen; i++ {
			refMean += refEnv[pos+i]
		}
		refMean /= float64(compareLen)

		dot, refVar := 0.0, 0.0
		for i := 0; i < compareLen; i++ {
			r := refEnv[pos+i] - refMean
			dot += inEnv[i] * r
			refVar += r * r
		}
		if refVar > 0 {
			if corr := dot / math.Sqrt(inVar*refVar); corr > maxCorr {
				maxCorr = corr
			}
		}
	}
	return maxCorr
}
