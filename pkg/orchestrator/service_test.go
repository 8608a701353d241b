package orchestrator

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/xiaozhi-go/voiceclient/pkg/audio"
	"github.com/xiaozhi-go/voiceclient/pkg/mcp"
	"github.com/xiaozhi-go/voiceclient/pkg/protocol"
	"github.com/xiaozhi-go/voiceclient/pkg/state"
	"github.com/xiaozhi-go/voiceclient/pkg/transport"
)

// fakeTransport is a pure in-memory transport.Client: no network, no
// device, matching the "never fabricate a broker/server, only pure
// logic" bar used for the MQTT transport tests.
type fakeTransport struct {
	mu         sync.Mutex
	sentText   [][]byte
	sentBinary [][]byte
	frames     chan transport.Frame
	err        error
	onSendText func(data []byte)
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{frames: make(chan transport.Frame, 16)}
}

func (f *fakeTransport) Dial(ctx context.Context, headers http.Header) error { return nil }

func (f *fakeTransport) SendText(ctx context.Context, data []byte) error {
	f.mu.Lock()
	f.sentText = append(f.sentText, data)
	hook := f.onSendText
	f.mu.Unlock()
	if hook != nil {
		hook(data)
	}
	return nil
}

func (f *fakeTransport) SendBinary(ctx context.Context, data []byte) error {
	f.mu.Lock()
	f.sentBinary = append(f.sentBinary, data)
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) Frames() <-chan transport.Frame { return f.frames }
func (f *fakeTransport) Err() error                     { return f.err }

func (f *fakeTransport) Close(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	select {
	case <-f.frames:
	default:
	}
	return nil
}

func (f *fakeTransport) lastText() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sentText) == 0 {
		return nil
	}
	return f.sentText[len(f.sentText)-1]
}

func (f *fakeTransport) textCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sentText)
}

func newTestService(t *testing.T, ft *fakeTransport) *VoiceChatService {
	t.Helper()
	cfg := DefaultConfig()
	svc, err := New(cfg, ft, nil, audio.NewPlayer(cfg.AudioOutputSampleRate, cfg.AudioChannels), nil, nil)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	t.Cleanup(svc.Close)
	return svc
}

// serverHello builds the bytes of a server->client Hello establishing
// session id sid with the given mcp feature flag.
func serverHello(sid string, mcpEnabled bool) []byte {
	h := protocol.HelloMessage{
		Type:        protocol.TypeHello,
		Version:     1,
		Transport:   "websocket",
		SessionID:   sid,
		AudioParams: protocol.DefaultUplinkParams(),
		Features:    protocol.Features{Mcp: mcpEnabled},
	}
	data, _ := json.Marshal(h)
	return data
}

func TestServiceHandshakeReachesIdle(t *testing.T) {
	ft := newFakeTransport()
	svc := newTestService(t, ft)

	ft.frames <- transport.Frame{Kind: transport.FrameText, Data: serverHello("S1", false)}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := svc.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	if svc.State() != state.Idle {
		t.Fatalf("expected Idle after hello, got %s", svc.State())
	}
	if svc.codec.SessionID() != "S1" {
		t.Fatalf("expected session id S1, got %q", svc.codec.SessionID())
	}
	if ft.textCount() != 1 {
		t.Fatalf("expected exactly one client hello sent, got %d", ft.textCount())
	}
}

func startHandshake(t *testing.T, ft *fakeTransport, svc *VoiceChatService) {
	t.Helper()
	ft.frames <- transport.Frame{Kind: transport.FrameText, Data: serverHello("S1", false)}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := svc.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
}

func TestServiceTtsStartStopDrivesStateMachine(t *testing.T) {
	ft := newFakeTransport()
	svc := newTestService(t, ft)
	startHandshake(t, ft, svc)

	tts := protocol.TtsMessage{Type: protocol.TypeTts, SessionID: "S1", State: protocol.TtsStart}
	data, _ := json.Marshal(tts)
	ft.frames <- transport.Frame{Kind: transport.FrameText, Data: data}

	waitForState(t, svc, state.Speaking)

	tts.State = protocol.TtsStop
	data, _ = json.Marshal(tts)
	ft.frames <- transport.Frame{Kind: transport.FrameText, Data: data}

	waitForState(t, svc, state.Idle)
}

func TestServiceBinaryFrameAutoTransitionsToSpeaking(t *testing.T) {
	ft := newFakeTransport()
	svc := newTestService(t, ft)
	startHandshake(t, ft, svc)

	packet, err := svc.audioCodec.Encode(make([]int16, 24000*60/1000), 24000, 1)
	if err != nil {
		t.Fatalf("encode silence frame: %v", err)
	}

	ft.frames <- transport.Frame{Kind: transport.FrameBinary, Data: packet}

	waitForState(t, svc, state.Speaking)
}

func waitForState(t *testing.T, svc *VoiceChatService, want state.State) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if svc.State() == want {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for state %s, currently %s", want, svc.State())
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestServiceSendTextEncodesListenDetect(t *testing.T) {
	ft := newFakeTransport()
	svc := newTestService(t, ft)
	startHandshake(t, ft, svc)

	if err := svc.SendText(context.Background(), "turn on the lights"); err != nil {
		t.Fatalf("send text: %v", err)
	}

	var msg protocol.ListenMessage
	if err := json.Unmarshal(ft.lastText(), &msg); err != nil {
		t.Fatalf("decode sent listen frame: %v", err)
	}
	if msg.State != protocol.ListenDetect || msg.Text != "turn on the lights" {
		t.Fatalf("unexpected listen frame: %+v", msg)
	}
}

func TestServiceInterruptSendsAbortAndReturnsToIdle(t *testing.T) {
	ft := newFakeTransport()
	svc := newTestService(t, ft)
	startHandshake(t, ft, svc)

	if err := svc.machine.Fire(state.StartListening); err != nil {
		t.Fatalf("arrange listening: %v", err)
	}
	if err := svc.machine.Fire(state.StartSpeaking); err != nil {
		t.Fatalf("arrange speaking: %v", err)
	}

	if err := svc.Interrupt(context.Background(), protocol.AbortVoiceInterruption); err != nil {
		t.Fatalf("interrupt: %v", err)
	}

	if svc.State() != state.Idle {
		t.Fatalf("expected Idle after interrupt, got %s", svc.State())
	}

	var abort protocol.AbortMessage
	if err := json.Unmarshal(ft.lastText(), &abort); err != nil {
		t.Fatalf("decode sent abort frame: %v", err)
	}
	if abort.Reason != protocol.AbortVoiceInterruption {
		t.Fatalf("unexpected abort reason: %+v", abort)
	}
}

func TestServiceStopVoiceChatIdempotentFromIdle(t *testing.T) {
	ft := newFakeTransport()
	svc := newTestService(t, ft)
	startHandshake(t, ft, svc)

	before := ft.textCount()
	if err := svc.StopVoiceChat(context.Background()); err != nil {
		t.Fatalf("stop voice chat from idle: %v", err)
	}
	if ft.textCount() != before {
		t.Fatalf("expected no frame sent stopping from idle, count went %d -> %d", before, ft.textCount())
	}
}

func TestServiceForwardsSttLlmMusicEvents(t *testing.T) {
	ft := newFakeTransport()
	svc := newTestService(t, ft)
	startHandshake(t, ft, svc)

	stt := protocol.SttMessage{Type: protocol.TypeStt, SessionID: "S1", Text: "hello there"}
	data, _ := json.Marshal(stt)
	ft.frames <- transport.Frame{Kind: transport.FrameText, Data: data}

	select {
	case evt := <-svc.Events():
		if evt.Type != EventStt || evt.Stt == nil || evt.Stt.Text != "hello there" {
			t.Fatalf("unexpected event: %+v", evt)
		}
	case <-time.After(time.Second):
		t.Fatal("expected an stt event")
	}
}

func TestServiceMcpInitializeAndToolCallRoundTrip(t *testing.T) {
	ft := newFakeTransport()
	svc := newTestService(t, ft)

	ft.mu.Lock()
	ft.onSendText = func(data []byte) {
		var env protocol.Envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Type != protocol.TypeMcp {
			return
		}
		var wrapped protocol.McpMessage
		if err := json.Unmarshal(data, &wrapped); err != nil {
			return
		}
		var req mcp.Message
		if err := json.Unmarshal(wrapped.Payload, &req); err != nil {
			return
		}

		var resp mcp.Message
		switch req.Method {
		case "initialize":
			resp = mcp.Message{JSONRPC: "2.0", ID: req.ID, Result: json.RawMessage(`{}`)}
		case "tools/list":
			resp = mcp.Message{JSONRPC: "2.0", ID: req.ID, Result: json.RawMessage(`{"tools":[{"name":"camera.capture"}]}`)}
		default:
			return
		}
		payload, _ := json.Marshal(resp)
		out, _ := json.Marshal(protocol.McpMessage{Type: protocol.TypeMcp, SessionID: "S1", Payload: payload})
		ft.frames <- transport.Frame{Kind: transport.FrameText, Data: out}
	}
	ft.mu.Unlock()

	ft.frames <- transport.Frame{Kind: transport.FrameText, Data: serverHelloMcp("S1")}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := svc.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		if _, ok := svc.mcpClient.ToolByName("camera.capture"); ok {
			return
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for mcp tools/list to populate the tool registry")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func serverHelloMcp(sid string) []byte {
	h := protocol.HelloMessage{
		Type:        protocol.TypeHello,
		Version:     1,
		Transport:   "websocket",
		SessionID:   sid,
		AudioParams: protocol.DefaultUplinkParams(),
		Features:    protocol.Features{Mcp: true},
	}
	data, _ := json.Marshal(h)
	return data
}
