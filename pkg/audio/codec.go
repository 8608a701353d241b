// Package audio implements the capture, playback, and Opus codec
// machinery sitting between the local sound hardware and the wire
// (spec §4.1-§4.3).
package audio

import (
	"errors"
	"fmt"
	"sync"

	"gopkg.in/hraban/opus.v2"
)

// ErrBufferTooSmall distinguishes an undersized (including zero-length)
// PCM buffer from any other encode failure, per spec §4.2's BufferTooSmall
// error kind and testable property #7 ("encoding zero-length buffer fails
// with BufferTooSmall").
var ErrBufferTooSmall = errors.New("audio: buffer too small")

// FrameDurationMS is the fixed framing discipline every encode/decode call
// is sized against (spec §4.1: "60ms frames, no exceptions").
const FrameDurationMS = 60

// frameSamples returns how many samples one FrameDurationMS frame holds at
// the given sample rate.
func frameSamples(sampleRate int) int {
	return sampleRate * FrameDurationMS / 1000
}

// key identifies one (sample_rate, channels) codec instance. Uplink runs at
// 16kHz capture, downlink is decoded at the server-negotiated rate (spec §6,
// commonly 24kHz) — a client legitimately needs both live at once.
type key struct {
	sampleRate int
	channels   int
}

// Codec lazily constructs and caches one opus.Encoder/opus.Decoder pair per
// (sample_rate, channels) tuple, since libopus encoders are expensive to
// create and are not safe for concurrent use across goroutines.
type Codec struct {
	mu       sync.Mutex
	encoders map[key]*opus.Encoder
	decoders map[key]*opus.Decoder
}

// NewCodec returns an empty, ready-to-use Codec.
func NewCodec() *Codec {
	return &Codec{
		encoders: make(map[key]*opus.Encoder),
		decoders: make(map[key]*opus.Decoder),
	}
}

func (c *Codec) encoder(sampleRate, channels int) (*opus.Encoder, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	k := key{sampleRate, channels}
	if enc, ok := c.encoders[k]; ok {
		return enc, nil
	}
	enc, err := opus.NewEncoder(sampleRate, channels, opus.AppVoIP)
	if err != nil {
		return nil, fmt.Errorf("audio: new opus encoder (rate=%d channels=%d): %w", sampleRate, channels, err)
	}
	c.encoders[k] = enc
	return enc, nil
}

func (c *Codec) decoder(sampleRate, channels int) (*opus.Decoder, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	k := key{sampleRate, channels}
	if dec, ok := c.decoders[k]; ok {
		return dec, nil
	}
	dec, err := opus.NewDecoder(sampleRate, channels)
	if err != nil {
		return nil, fmt.Errorf("audio: new opus decoder (rate=%d channels=%d): %w", sampleRate, channels, err)
	}
	c.decoders[k] = dec
	return dec, nil
}

// Encode compresses one 60ms PCM frame (int16, little-endian samples) into
// an Opus packet at the given sample rate/channel count. The encoder is
// reused across calls for the same (sampleRate, channels) pair, so callers
// on different goroutines must serialize encode calls per codec (the
// uplink pipeline is single-threaded by construction; see
// stream_manager.go).
func (c *Codec) Encode(pcm []int16, sampleRate, channels int) ([]byte, error) {
	enc, err := c.encoder(sampleRate, channels)
	if err != nil {
		return nil, err
	}

	want := frameSamples(sampleRate) * channels
	if len(pcm) == 0 {
		return nil, fmt.Errorf("%w: got an empty buffer, expected %d samples for a %dms frame", ErrBufferTooSmall, want, FrameDurationMS)
	}
	if len(pcm) != want {
		return nil, fmt.Errorf("audio: encode expects %d samples for a %dms frame, got %d", want, FrameDurationMS, len(pcm))
	}

	data := make([]byte, 4000)
	n, err := enc.Encode(pcm, data)
	if err != nil {
		if err == opus.BufferTooSmall {
			data = make([]byte, 8000)
			n, err = enc.Encode(pcm, data)
		}
		if err != nil {
			return nil, fmt.Errorf("audio: opus encode: %w", err)
		}
	}
	return data[:n], nil
}

// Decode expands one Opus packet into a PCM frame at the given sample
// rate/channel count. On a corrupt packet it returns a silence frame
// rather than propagating the error, since one bad downlink packet must
// not stall playback (spec §4.2, edge case: corrupt Opus packet).
func (c *Codec) Decode(packet []byte, sampleRate, channels int) ([]int16, error) {
	dec, err := c.decoder(sampleRate, channels)
	if err != nil {
		return nil, err
	}

	pcm := make([]int16, frameSamples(sampleRate)*channels)
	n, err := dec.Decode(packet, pcm)
	if err != nil {
		return make([]int16, len(pcm)), fmt.Errorf("audio: opus decode, substituting silence: %w", err)
	}
	return pcm[:n*channels], nil
}
