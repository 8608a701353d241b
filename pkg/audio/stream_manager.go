package audio

import (
	"bytes"
	"fmt"
	"sync"
	"time"

	"github.com/gen2brain/malgo"
)

// FrameBytes is the byte length of one FrameDurationMS frame of 16-bit
// mono PCM at sampleRate.
func FrameBytes(sampleRate int) int {
	return frameSamples(sampleRate) * 2
}

// teardownTimeout bounds how long Stop waits for the capture device to
// fully uninitialize before giving up (spec §4.1, edge case: device busy
// or slow to release on repeated start/stop).
const teardownTimeout = 2 * time.Second

// StreamManager owns exactly one capture device and fans its 60ms PCM
// frames out to any number of subscribers, starting the hardware lazily
// on the first subscription and releasing it once the last one leaves.
// This mirrors the malgo Duplex wiring in the reference agent's main
// loop, split out so multiple local consumers (uplink encoder, VAD,
// wake-word spotter) can share one open device instead of each opening
// their own.
type StreamManager struct {
	mu         sync.Mutex
	sampleRate int
	channels   int

	malgoCtx *malgo.AllocatedContext
	device   *malgo.Device

	subscribers map[int]chan []int16
	nextID      int

	pending bytes.Buffer

	stopped chan struct{}
}

// NewStreamManager returns a manager for sampleRate/channels capture.
// The device is not opened until the first Subscribe call.
func NewStreamManager(sampleRate, channels int) *StreamManager {
	return &StreamManager{
		sampleRate:  sampleRate,
		channels:    channels,
		subscribers: make(map[int]chan []int16),
		stopped:     make(chan struct{}, 1),
	}
}

// Stopped emits once every time Stop tears down a running device (spec
// §4.1: "Stop() ... emits RecordingStopped once"), so a caller can
// forward it as a UI-visible event. Non-blocking; a pending notification
// is dropped if the consumer hasn't drained the previous one yet.
func (m *StreamManager) Stopped() <-chan struct{} {
	return m.stopped
}

// Subscribe registers a new listener for 60ms capture frames and starts
// the hardware if this is the first subscriber. The returned cancel func
// must be called exactly once to unsubscribe.
func (m *StreamManager) Subscribe() (<-chan []int16, func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.subscribers) == 0 {
		if err := m.start(); err != nil {
			return nil, nil, err
		}
	}

	id := m.nextID
	m.nextID++
	ch := make(chan []int16, 8)
	m.subscribers[id] = ch

	cancel := func() { m.unsubscribe(id) }
	return ch, cancel, nil
}

func (m *StreamManager) unsubscribe(id int) {
	m.mu.Lock()
	ch, ok := m.subscribers[id]
	if ok {
		delete(m.subscribers, id)
		close(ch)
	}
	last := len(m.subscribers) == 0
	m.mu.Unlock()

	if last {
		m.Stop()
	}
}

// start initializes the malgo capture device. Caller must hold m.mu.
func (m *StreamManager) start() error {
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return fmt.Errorf("audio: init malgo context: %w", err)
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = uint32(m.channels)
	deviceConfig.SampleRate = uint32(m.sampleRate)
	deviceConfig.Alsa.NoMMap = 1

	device, err := malgo.InitDevice(mctx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: m.onSamples,
	})
	if err != nil {
		mctx.Uninit()
		return fmt.Errorf("audio: init capture device: %w", err)
	}

	if err := device.Start(); err != nil {
		device.Uninit()
		mctx.Uninit()
		return fmt.Errorf("audio: start capture device: %w", err)
	}

	m.malgoCtx = mctx
	m.device = device
	m.pending.Reset()
	return nil
}

func (m *StreamManager) onSamples(_, input []byte, _ uint32) {
	if len(input) == 0 {
		return
	}

	m.mu.Lock()
	m.pending.Write(input)
	frameBytes := FrameBytes(m.sampleRate) * m.channels
	var frames [][]int16
	for m.pending.Len() >= frameBytes {
		raw := make([]byte, frameBytes)
		m.pending.Read(raw)
		frames = append(frames, bytesToInt16(raw))
	}
	subs := make([]chan []int16, 0, len(m.subscribers))
	for _, ch := range m.subscribers {
		subs = append(subs, ch)
	}
	m.mu.Unlock()

	for _, frame := range frames {
		for _, ch := range subs {
			select {
			case ch <- frame:
			default:
				// Subscriber fell behind; drop the frame rather than block
				// the audio callback.
			}
		}
	}
}

// Stop releases the capture device. Safe to call when already stopped.
func (m *StreamManager) Stop() {
	m.mu.Lock()
	device, mctx := m.device, m.malgoCtx
	m.device, m.malgoCtx = nil, nil
	m.mu.Unlock()

	if device == nil {
		return
	}

	done := make(chan struct{})
	go func() {
		device.Uninit()
		if mctx != nil {
			mctx.Uninit()
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(teardownTimeout):
	}

	select {
	case m.stopped <- struct{}{}:
	default:
	}
}

// ForceCleanup unconditionally tears down the device and drops every
// subscriber, for use on fatal errors where normal unsubscribe bookkeeping
// cannot be trusted.
func (m *StreamManager) ForceCleanup() {
	m.mu.Lock()
	for id, ch := range m.subscribers {
		close(ch)
		delete(m.subscribers, id)
	}
	m.mu.Unlock()
	m.Stop()
}

func bytesToInt16(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(b[i*2]) | int16(b[i*2+1])<<8
	}
	return out
}
