package wakeword

import (
	"time"

	"github.com/xiaozhi-go/voiceclient/pkg/protocol"
)

// InterruptEvent is the single typed event wake-word and VAD publish;
// spec §9's redesign flags call for exactly one broadcast channel here so
// the orchestrator owns one subscription rather than juggling separate
// wake-word and VAD callbacks with shared mutable state.
type InterruptEvent struct {
	Reason      protocol.AbortReason
	Description string
	Timestamp   time.Time
}

// InterruptManager fans the Spotter's KeywordDetected events and the
// VAD's VoiceInterruption events into one named, orchestrator-owned
// channel.
type InterruptManager struct {
	events chan InterruptEvent
	stop   chan struct{}
}

// NewInterruptManager starts forwarding spotter and vad events onto a
// single Events() channel. Either source may be nil if that coordinator
// is not active in the current session.
func NewInterruptManager(spotter *Spotter, vad *VAD) *InterruptManager {
	m := &InterruptManager{
		events: make(chan InterruptEvent, 4),
		stop:   make(chan struct{}),
	}

	if spotter != nil {
		go m.forwardKeyword(spotter)
	}
	if vad != nil {
		go m.forwardVoice(vad.Triggered())
	}
	return m
}

func (m *InterruptManager) forwardKeyword(s *Spotter) {
	for {
		select {
		case <-m.stop:
			return
		case _, ok := <-s.Detected():
			if !ok {
				return
			}
			m.publish(InterruptEvent{
				Reason:      protocol.AbortWakeWordDetected,
				Description: "wake word detected",
				Timestamp:   time.Now(),
			})
		}
	}
}

func (m *InterruptManager) forwardVoice(triggered <-chan struct{}) {
	for {
		select {
		case <-m.stop:
			return
		case _, ok := <-triggered:
			if !ok {
				return
			}
			m.publish(InterruptEvent{
				Reason:      protocol.AbortVoiceInterruption,
				Description: "voice activity detected during playback",
				Timestamp:   time.Now(),
			})
		}
	}
}

func (m *InterruptManager) publish(evt InterruptEvent) {
	select {
	case m.events <- evt:
	default:
		// A consumer that falls behind drops the oldest intent rather
		// than blocking the audio thread publishing it.
		select {
		case <-m.events:
		default:
		}
		m.events <- evt
	}
}

// Events returns the unified interrupt stream.
func (m *InterruptManager) Events() <-chan InterruptEvent {
	return m.events
}

// Close stops forwarding. Safe to call once.
func (m *InterruptManager) Close() {
	close(m.stop)
}
