package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/xiaozhi-go/voiceclient/pkg/audio"
	"github.com/xiaozhi-go/voiceclient/pkg/mcp"
	"github.com/xiaozhi-go/voiceclient/pkg/protocol"
	"github.com/xiaozhi-go/voiceclient/pkg/state"
	"github.com/xiaozhi-go/voiceclient/pkg/transport"
	"github.com/xiaozhi-go/voiceclient/pkg/wakeword"
)

// sendTimeout bounds every individual transport write; the transport
// itself owns reconnection policy, this just keeps one slow write from
// hanging the orchestrator forever.
const sendTimeout = 5 * time.Second

// relistenDelay is the guard delay spec §8/S3 requires between a Speaking
// cycle ending and KeepListening re-arming capture ("within 400 ms state
// becomes Listening").
const relistenDelay = 200 * time.Millisecond

// VoiceChatService is the composition root of spec §4.8: it owns one
// transport session and wires the protocol codec, audio pipeline,
// conversation state machine, wake-word coordinator, and MCP subprotocol
// together, replacing the ambient DI container and cyclic callbacks spec
// §9 flags for re-architecture with message passing through a single
// owned subscription per collaborator.
type VoiceChatService struct {
	mu  sync.Mutex
	cfg Config
	log Logger

	transport  transport.Client
	codec      *protocol.Codec
	audioCodec *audio.Codec
	stream     *audio.StreamManager
	player     *audio.Player
	machine    *state.Machine
	mcpClient  *mcp.Subprotocol

	spotter     *wakeword.Spotter
	vad         *wakeword.VAD
	echo        *wakeword.EchoGuard
	interrupts  *wakeword.InterruptManager
	wakeEnabled bool

	uplinkUnsubscribe func()
	vadUnsubscribe    func()
	voiceChatActive   bool
	keepListening     bool

	events chan Event

	stop chan struct{}
	wg   sync.WaitGroup
}

// New wires a VoiceChatService. client is dialed by Start, not here.
// spotterFactory may be nil to run without wake-word detection entirely.
func New(cfg Config, client transport.Client, stream *audio.StreamManager, player *audio.Player, spotterFactory wakeword.Factory, log Logger) (*VoiceChatService, error) {
	if log == nil {
		log = NoOpLogger{}
	}

	s := &VoiceChatService{
		cfg:        cfg,
		log:        log,
		transport:  client,
		codec:      protocol.NewCodec(),
		audioCodec: audio.NewCodec(),
		stream:     stream,
		player:     player,
		vad:        wakeword.DefaultVAD(),
		echo:       wakeword.NewEchoGuard(cfg.AudioOutputSampleRate, 2.0),
		events:     make(chan Event, 32),
		stop:       make(chan struct{}),
	}

	s.mcpClient = mcp.New(s.sendMcpPayload, log)

	if spotterFactory != nil && stream != nil {
		frames, unsubscribe, err := stream.Subscribe()
		if err != nil {
			return nil, fmt.Errorf("orchestrator: subscribe wake-word capture: %w", err)
		}
		spotter, err := wakeword.NewSpotter(spotterFactory, frames, unsubscribe, s.handleRecognizerError)
		if err != nil {
			unsubscribe()
			return nil, fmt.Errorf("orchestrator: start wake-word spotter: %w", err)
		}
		s.spotter = spotter
		s.wakeEnabled = true
	}

	if stream != nil {
		vadFrames, vadUnsubscribe, err := stream.Subscribe()
		if err != nil {
			return nil, fmt.Errorf("orchestrator: subscribe vad capture: %w", err)
		}
		s.vadUnsubscribe = vadUnsubscribe
		s.wg.Add(1)
		go s.vadLoop(vadFrames)

		s.wg.Add(1)
		go s.recordingStoppedLoop()
	}

	if player != nil {
		s.wg.Add(1)
		go s.playbackStoppedLoop()
	}

	s.interrupts = wakeword.NewInterruptManager(s.spotter, s.vad)
	s.machine = state.New(s.hooks(), log)

	s.wg.Add(1)
	go s.interruptLoop()

	return s, nil
}

// vadLoop is the "separate consumer of the shared stream" spec §4.9
// requires: it runs for the life of the service, splitting every 60ms
// capture frame into 20ms sub-frames and feeding them to the VAD, which
// is itself inert outside Speaking (VAD.Process no-ops unless
// SetActive(true) was last called).
func (s *VoiceChatService) vadLoop(frames <-chan []int16) {
	defer s.wg.Done()
	subN := wakeword.SubFrameSamples(s.cfg.AudioInputSampleRate)
	if subN <= 0 {
		return
	}
	for frame := range frames {
		for off := 0; off+subN <= len(frame); off += subN {
			s.vad.Process(frame[off : off+subN])
		}
	}
}

// recordingStoppedLoop forwards StreamManager.Stopped() as an Event (spec
// §4.1: "emits RecordingStopped once"), since VoiceChatService is the only
// component permitted to surface state to a UI.
func (s *VoiceChatService) recordingStoppedLoop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.stop:
			return
		case _, ok := <-s.stream.Stopped():
			if !ok {
				return
			}
			s.publish(Event{Type: EventRecordingStopped})
		}
	}
}

// playbackStoppedLoop forwards Player.Stopped() as an Event (spec §4.3:
// "PlaybackStopped is emitted once").
func (s *VoiceChatService) playbackStoppedLoop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.stop:
			return
		case _, ok := <-s.player.Stopped():
			if !ok {
				return
			}
			s.publish(Event{Type: EventPlaybackStopped})
		}
	}
}

// handleRecognizerError is the Spotter's one-shot RecognizerError callback
// (spec §7): once three consecutive recognizer rebuilds fail, keyword
// spotting disables itself and this reports it exactly once.
func (s *VoiceChatService) handleRecognizerError(err error) {
	s.mu.Lock()
	s.wakeEnabled = false
	s.mu.Unlock()
	s.publishError(EventError, fmt.Errorf("%w: %v", ErrRecognizerError, err))
}

func (s *VoiceChatService) hooks() state.Hooks {
	return state.Hooks{
		EnterConnecting: func() {
			if s.spotter != nil {
				s.spotter.Pause()
			}
		},
		EnterListening: func() {
			if s.spotter != nil {
				s.spotter.Pause()
			}
			s.vad.SetActive(false)
		},
		ExitListening: func() {
			s.stopUplink()
		},
		EnterSpeaking: func() {
			if s.spotter != nil && s.wakeEnabled {
				s.spotter.Resume()
			}
			s.vad.SetActive(true)
		},
		ExitSpeaking: func() {
			s.vad.SetActive(false)
		},
		EnterIdle: func() {
			if s.spotter != nil && s.wakeEnabled {
				s.spotter.Resume()
			}
			s.maybeRelisten()
		},
	}
}

// State returns the current conversation state.
func (s *VoiceChatService) State() state.State {
	return s.machine.State()
}

// Events returns the forwarding channel for Stt/Llm/Music/SystemStatus/Iot
// and error notifications (spec §4.8).
func (s *VoiceChatService) Events() <-chan Event {
	return s.events
}

// Start dials the transport, performs the Hello handshake, and begins the
// background read loop. Blocks until the server Hello is received or ctx
// is done.
func (s *VoiceChatService) Start(ctx context.Context) error {
	if err := s.machine.Fire(state.Connect); err != nil {
		return fmt.Errorf("orchestrator: %w", err)
	}

	if err := s.transport.Dial(ctx, s.dialHeaders()); err != nil {
		s.machine.Fire(state.Error)
		if errors.Is(err, transport.ErrUnauthorized) {
			return fmt.Errorf("%w: %v", ErrUnauthorized, err)
		}
		return fmt.Errorf("%w: %v", ErrConnectionRefused, err)
	}

	helloTransport := "websocket"
	if !s.cfg.UseWebsocket {
		helloTransport = "mqtt"
	}
	hello, err := protocol.EncodeClientHello(helloTransport)
	if err != nil {
		return fmt.Errorf("orchestrator: encode hello: %w", err)
	}
	if err := s.transport.SendText(ctx, hello); err != nil {
		s.machine.Fire(state.Error)
		return fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
	}

	ready := make(chan error, 1)
	s.wg.Add(1)
	go s.readLoop(ready)

	select {
	case err := <-ready:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// dialHeaders builds the upgrade-request headers spec §4.4/§6 requires:
// Authorization carries cfg.AuthToken, Device-Id/Client-Id identify this
// client, and Protocol-Version pins the wire version declared in the
// Hello body. Without these the server has nothing to authenticate the
// connection against.
func (s *VoiceChatService) dialHeaders() http.Header {
	h := http.Header{}
	if s.cfg.AuthToken != "" {
		h.Set("Authorization", "Bearer "+s.cfg.AuthToken)
	}
	if s.cfg.DeviceID != "" {
		h.Set("Device-Id", s.cfg.DeviceID)
	}
	if s.cfg.ClientID != "" {
		h.Set("Client-Id", s.cfg.ClientID)
	}
	h.Set("Protocol-Version", strconv.Itoa(protocol.ProtocolVersion))
	return h
}

// readLoop drains transport.Frames() for the life of the connection. The
// first frame must be the server Hello (enforced by protocol.Codec); its
// arrival (or failure) is reported once on ready, then the loop continues
// silently until the connection drops.
func (s *VoiceChatService) readLoop(ready chan<- error) {
	defer s.wg.Done()

	first := true
	for frame := range s.transport.Frames() {
		err := s.handleFrame(frame)
		if first {
			first = false
			ready <- err
		}
	}

	if first {
		ready <- fmt.Errorf("%w: %v", ErrConnectionLost, s.transport.Err())
	}
	s.handleDisconnect()
}

func (s *VoiceChatService) handleFrame(frame transport.Frame) error {
	switch frame.Kind {
	case transport.FrameBinary:
		s.handleBinary(frame.Data)
		return nil
	default:
		return s.handleText(frame.Data)
	}
}

func (s *VoiceChatService) handleBinary(data []byte) {
	if !s.codec.HelloComplete() {
		s.log.Error("orchestrator: binary frame received before server hello")
		s.publishError(EventError, fmt.Errorf("%w: binary frame before server hello", ErrProtocolViolation))
		s.Disconnect()
		return
	}

	pcm, err := s.audioCodec.Decode(data, s.cfg.AudioOutputSampleRate, s.cfg.AudioChannels)
	if err != nil {
		s.log.Warn("orchestrator: downlink decode failed, silence substituted", "error", err)
		s.publishError(EventError, fmt.Errorf("%w: %v", ErrCodecError, err))
	}

	// spec §9 Open Question: tolerate binary frames arriving before a
	// Tts{start}; treat the first one as an implicit start of speech.
	switch s.machine.State() {
	case state.Idle, state.Listening:
		if err := s.machine.Fire(state.StartSpeaking); err != nil {
			s.log.Warn("orchestrator: illegal auto start_speaking", "error", err)
		}
	}

	s.echo.RecordPlayed(pcm)
	if err := s.player.Enqueue(pcm); err != nil {
		s.log.Warn("orchestrator: enqueue playback frame failed", "error", err)
	}
}

func (s *VoiceChatService) handleText(data []byte) error {
	msg, err := s.codec.DecodeText(data)
	if err != nil {
		s.log.Error("orchestrator: protocol violation", "error", err)
		s.publishError(EventError, fmt.Errorf("%w: %v", ErrProtocolViolation, err))
		s.Disconnect()
		return fmt.Errorf("%w: %v", ErrProtocolViolation, err)
	}

	switch msg.Type {
	case protocol.TypeHello:
		s.codec.SetSession(msg.Hello.SessionID)
		if err := s.machine.Fire(state.Connected); err != nil {
			s.log.Warn("orchestrator: unexpected second hello", "error", err)
		}
		s.mcpClient.NotifyServerHello(msg.Hello.Features.Mcp)
		s.wg.Add(1)
		go s.mcpHandshakeLoop()

	case protocol.TypeTts:
		switch msg.Tts.State {
		case protocol.TtsStart:
			if err := s.machine.Fire(state.StartSpeaking); err != nil {
				s.log.Debug("orchestrator: start_speaking ignored", "error", err)
			}
		case protocol.TtsStop:
			if err := s.machine.Fire(state.StopSpeaking); err != nil {
				s.log.Debug("orchestrator: stop_speaking ignored", "error", err)
			}
		}

	case protocol.TypeStt:
		s.publish(Event{Type: EventStt, Stt: msg.Stt})
	case protocol.TypeLlm:
		s.publish(Event{Type: EventLlm, Llm: msg.Llm})
	case protocol.TypeMusic:
		s.publish(Event{Type: EventMusic, Music: msg.Music})
	case protocol.TypeSystemStatus:
		s.publish(Event{Type: EventSystemStatus, SystemStatus: msg.SystemStatus})
	case protocol.TypeIot:
		s.publish(Event{Type: EventIot, Iot: msg.Iot})

	case protocol.TypeGoodbye:
		s.Disconnect()

	case protocol.TypeMcp:
		s.mcpClient.HandleIncoming(msg.Mcp.Payload)

	default:
		s.log.Warn("orchestrator: unrecognized frame type preserved", "type", msg.Type)
		s.publish(Event{Type: EventUnknown, Generic: msg.Generic})
	}
	return nil
}

func (s *VoiceChatService) mcpHandshakeLoop() {
	defer s.wg.Done()
	select {
	case <-s.mcpClient.Ready():
	case <-s.stop:
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()
	if err := s.mcpClient.Initialize(ctx, mcp.ClientCapabilities{}); err != nil {
		s.log.Warn("orchestrator: mcp initialize failed", "error", err)
		s.publishError(EventError, fmt.Errorf("%w: %v", ErrMcpError, err))
		return
	}
	if _, err := s.mcpClient.ListTools(ctx); err != nil {
		s.log.Warn("orchestrator: mcp tools/list failed", "error", err)
		s.publishError(EventError, fmt.Errorf("%w: %v", ErrMcpError, err))
	}
}

func (s *VoiceChatService) sendMcpPayload(payload json.RawMessage) error {
	data, err := s.codec.EncodeMcp(payload)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()
	return s.transport.SendText(ctx, data)
}

// CallTool is the UI-facing entry point into the MCP subprotocol (spec
// §4.6.3).
func (s *VoiceChatService) CallTool(ctx context.Context, name string, args map[string]interface{}) (map[string]interface{}, error) {
	return s.mcpClient.CallTool(ctx, name, args)
}

// StartVoiceChat transitions Idle->Listening, subscribes to the capture
// stream, and begins encoding+sending uplink frames.
func (s *VoiceChatService) StartVoiceChat(ctx context.Context) error {
	if err := s.machine.Fire(state.StartListening); err != nil {
		return fmt.Errorf("orchestrator: %w", err)
	}

	s.mu.Lock()
	s.voiceChatActive = true
	s.mu.Unlock()

	frames, unsubscribe, err := s.stream.Subscribe()
	if err != nil {
		s.machine.Fire(state.StopListening)
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	s.mu.Lock()
	s.uplinkUnsubscribe = unsubscribe
	s.mu.Unlock()

	s.wg.Add(1)
	go s.uplinkLoop(frames)

	listen, err := s.codec.EncodeListen(protocol.ListenStart, protocol.ModeAutoStop, "")
	if err != nil {
		return fmt.Errorf("orchestrator: encode listen: %w", err)
	}
	return s.transport.SendText(ctx, listen)
}

func (s *VoiceChatService) uplinkLoop(frames <-chan []int16) {
	defer s.wg.Done()
	for frame := range frames {
		if s.echo.IsEcho(frame) {
			continue
		}
		packet, err := s.audioCodec.Encode(frame, s.cfg.AudioInputSampleRate, s.cfg.AudioChannels)
		if err != nil {
			s.log.Warn("orchestrator: uplink encode dropped a frame", "error", err)
			if errors.Is(err, audio.ErrBufferTooSmall) {
				s.publishError(EventError, fmt.Errorf("%w: %v", ErrCodecError, err))
			}
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		err = s.transport.SendBinary(ctx, packet)
		cancel()
		if err != nil {
			s.log.Warn("orchestrator: uplink send failed", "error", err)
			return
		}
	}
}

func (s *VoiceChatService) stopUplink() {
	s.mu.Lock()
	unsubscribe := s.uplinkUnsubscribe
	s.uplinkUnsubscribe = nil
	s.mu.Unlock()
	if unsubscribe != nil {
		unsubscribe()
	}
}

// StopVoiceChat transitions Listening/Speaking->Idle and releases the
// uplink subscription. Idempotent (spec §8 item 5).
func (s *VoiceChatService) StopVoiceChat(ctx context.Context) error {
	s.mu.Lock()
	s.voiceChatActive = false
	s.mu.Unlock()

	switch s.machine.State() {
	case state.Listening:
		if err := s.machine.Fire(state.StopListening); err != nil {
			return fmt.Errorf("orchestrator: %w", err)
		}
	case state.Speaking:
		if err := s.machine.Fire(state.StopSpeaking); err != nil {
			return fmt.Errorf("orchestrator: %w", err)
		}
	default:
		return nil
	}

	listen, err := s.codec.EncodeListen(protocol.ListenStop, "", "")
	if err != nil {
		return fmt.Errorf("orchestrator: encode listen: %w", err)
	}
	return s.transport.SendText(ctx, listen)
}

// Interrupt sends Abort{reason}, flushes any buffered playback, and fires
// the Interrupt trigger (spec §4.7/§4.8).
func (s *VoiceChatService) Interrupt(ctx context.Context, reason protocol.AbortReason) error {
	abort, err := s.codec.EncodeAbort(reason)
	if err != nil {
		return fmt.Errorf("orchestrator: encode abort: %w", err)
	}
	if err := s.transport.SendText(ctx, abort); err != nil {
		return err
	}
	s.player.Flush()
	if err := s.machine.Fire(state.Interrupt); err != nil {
		s.log.Debug("orchestrator: interrupt outside listening/speaking ignored", "error", err)
	}
	return nil
}

// SendText submits user-supplied text as if it had been spoken (spec
// §4.8: send_text).
func (s *VoiceChatService) SendText(ctx context.Context, text string) error {
	listen, err := s.codec.EncodeListen(protocol.ListenDetect, "", text)
	if err != nil {
		return fmt.Errorf("orchestrator: encode listen: %w", err)
	}
	return s.transport.SendText(ctx, listen)
}

// ToggleChatState starts voice chat from Idle, or stops it (with an
// interrupt if currently Speaking) from any other state.
func (s *VoiceChatService) ToggleChatState(ctx context.Context) error {
	switch s.machine.State() {
	case state.Idle:
		return s.StartVoiceChat(ctx)
	case state.Speaking:
		if err := s.Interrupt(ctx, protocol.AbortUserInterruption); err != nil {
			return err
		}
		return s.StopVoiceChat(ctx)
	default:
		return s.StopVoiceChat(ctx)
	}
}

// SetKeepListening controls whether the end of a Speaking cycle
// automatically re-arms Listening (spec §4.8, KeepListening property).
func (s *VoiceChatService) SetKeepListening(keep bool) {
	s.mu.Lock()
	s.keepListening = keep
	s.mu.Unlock()
}

func (s *VoiceChatService) maybeRelisten() {
	s.mu.Lock()
	shouldRelisten := s.keepListening && s.voiceChatActive
	s.mu.Unlock()
	if !shouldRelisten {
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		select {
		case <-time.After(relistenDelay):
		case <-s.stop:
			return
		}
		if s.machine.State() != state.Idle {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()
		if err := s.StartVoiceChat(ctx); err != nil {
			s.log.Warn("orchestrator: keep-listening relisten failed", "error", err)
		}
	}()
}

func (s *VoiceChatService) interruptLoop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.stop:
			return
		case evt, ok := <-s.interrupts.Events():
			if !ok {
				return
			}
			s.handleInterruptEvent(evt)
		}
	}
}

func (s *VoiceChatService) handleInterruptEvent(evt wakeword.InterruptEvent) {
	switch evt.Reason {
	case protocol.AbortWakeWordDetected:
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()
		if err := s.StartVoiceChat(ctx); err != nil {
			s.log.Debug("orchestrator: wake word during non-idle state ignored", "error", err)
		}
	case protocol.AbortVoiceInterruption:
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()
		if err := s.Interrupt(ctx, protocol.AbortVoiceInterruption); err != nil {
			s.log.Warn("orchestrator: voice interruption send failed", "error", err)
		}
	}
}

func (s *VoiceChatService) publish(evt Event) {
	select {
	case s.events <- evt:
	default:
		s.log.Warn("orchestrator: event subscriber fell behind, dropping event", "type", evt.Type)
	}
}

func (s *VoiceChatService) publishError(t EventType, err error) {
	s.publish(Event{Type: t, Err: err})
}

// handleDisconnect runs once the transport's Frames() channel closes:
// resets session state and moves the state machine to Idle (spec §7,
// ConnectionLost).
func (s *VoiceChatService) handleDisconnect() {
	s.codec.Reset()
	s.mcpClient.Close()
	s.stopUplink()
	s.machine.Fire(state.Disconnect)
	s.publishError(EventError, fmt.Errorf("%w: %v", ErrConnectionLost, s.transport.Err()))
}

// Disconnect tears down the transport from the orchestrator side, e.g. on
// a protocol violation or an explicit user request. Idempotent.
func (s *VoiceChatService) Disconnect() {
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()
	_ = s.transport.Close(ctx)
}

// Close releases every owned background goroutine and resource. Safe to
// call once, after which the service must not be reused.
func (s *VoiceChatService) Close() {
	select {
	case <-s.stop:
		return
	default:
		close(s.stop)
	}

	s.Disconnect()
	s.stopUplink()
	if s.vadUnsubscribe != nil {
		s.vadUnsubscribe()
	}
	if s.spotter != nil {
		s.spotter.Close()
	}
	s.interrupts.Close()
	s.wg.Wait()
}
