package audio

import (
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"
)

// jitterWatermarkFrames is how many buffered 60ms frames must be queued
// before playback begins, absorbing arrival jitter on the downlink before
// the first sample is ever played (spec §4.2: "playback starts only once
// a short jitter buffer has filled, to absorb uneven packet arrival").
const jitterWatermarkFrames = 2

// Player buffers decoded PCM frames and drives one malgo playback device,
// auto-starting once enough frames have queued and staying silent-safe on
// underrun.
type Player struct {
	mu         sync.Mutex
	sampleRate int
	channels   int

	malgoCtx *malgo.AllocatedContext
	device   *malgo.Device
	started  bool

	queue [][]int16
	tail  []int16 // partially-consumed head-of-queue frame

	stopped chan struct{}
}

// NewPlayer returns a Player for sampleRate/channels. The device opens
// lazily once Enqueue has buffered jitterWatermarkFrames frames.
func NewPlayer(sampleRate, channels int) *Player {
	return &Player{sampleRate: sampleRate, channels: channels, stopped: make(chan struct{}, 1)}
}

// Stopped emits once every time Stop tears down a running device (spec
// §4.3: "PlaybackStopped is emitted once"), so a caller can forward it as
// a UI-visible event. Non-blocking; a pending notification is dropped if
// the consumer hasn't drained the previous one yet.
func (p *Player) Stopped() <-chan struct{} {
	return p.stopped
}

// Enqueue appends one decoded PCM frame to the playback queue, starting
// the device once the jitter watermark is reached.
func (p *Player) Enqueue(frame []int16) error {
	p.mu.Lock()
	p.queue = append(p.queue, frame)
	shouldStart := !p.started && len(p.queue) >= jitterWatermarkFrames
	p.mu.Unlock()

	if shouldStart {
		return p.start()
	}
	return nil
}

// Flush discards every buffered frame not yet handed to the device, for
// barge-in (spec §4.7: playback must stop audibly within one frame of an
// interrupt being accepted).
func (p *Player) Flush() {
	p.mu.Lock()
	p.queue = nil
	p.tail = nil
	p.mu.Unlock()
}

// Buffered reports how many whole frames are queued, for diagnostics.
func (p *Player) Buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

func (p *Player) start() error {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return fmt.Errorf("audio: init malgo context: %w", err)
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Playback)
	deviceConfig.Playback.Format = malgo.FormatS16
	deviceConfig.Playback.Channels = uint32(p.channels)
	deviceConfig.SampleRate = uint32(p.sampleRate)
	deviceConfig.Alsa.NoMMap = 1

	device, err := malgo.InitDevice(mctx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: p.onSamples,
	})
	if err != nil {
		mctx.Uninit()
		return fmt.Errorf("audio: init playback device: %w", err)
	}

	if err := device.Start(); err != nil {
		device.Uninit()
		mctx.Uninit()
		return fmt.Errorf("audio: start playback device: %w", err)
	}

	p.mu.Lock()
	p.malgoCtx = mctx
	p.device = device
	p.started = true
	p.mu.Unlock()
	return nil
}

func (p *Player) onSamples(output, _ []byte, _ uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()

	need := len(output) / 2
	out := make([]int16, 0, need)

	for len(out) < need {
		if len(p.tail) == 0 {
			if len(p.queue) == 0 {
				break
			}
			p.tail = p.queue[0]
			p.queue = p.queue[1:]
		}
		take := need - len(out)
		if take > len(p.tail) {
			take = len(p.tail)
		}
		out = append(out, p.tail[:take]...)
		p.tail = p.tail[take:]
	}

	for i, s := range out {
		output[i*2] = byte(s)
		output[i*2+1] = byte(s >> 8)
	}
	for i := len(out) * 2; i < len(output); i++ {
		output[i] = 0 // underrun: pad with silence rather than stale data
	}
}

// Stop tears down the playback device and discards queued audio.
func (p *Player) Stop() {
	p.mu.Lock()
	device, mctx := p.device, p.malgoCtx
	p.device, p.malgoCtx, p.started = nil, nil, false
	p.queue, p.tail = nil, nil
	p.mu.Unlock()

	if device == nil {
		return
	}
	device.Uninit()
	if mctx != nil {
		mctx.Uninit()
	}

	select {
	case p.stopped <- struct{}{}:
	default:
	}
}
