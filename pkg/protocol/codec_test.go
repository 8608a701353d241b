package protocol

import (
	"encoding/json"
	"testing"
)

func TestDecodeTextRequiresHelloFirst(t *testing.T) {
	c := NewCodec()

	tts, _ := json.Marshal(TtsMessage{Type: TypeTts, State: TtsStart})
	if _, err := c.DecodeText(tts); err == nil {
		t.Fatal("expected protocol violation before hello")
	}

	hello, _ := json.Marshal(HelloMessage{Type: TypeHello, Version: 1, SessionID: "S1"})
	msg, err := c.DecodeText(hello)
	if err != nil {
		t.Fatalf("unexpected error decoding hello: %v", err)
	}
	if msg.Hello == nil || msg.Hello.SessionID != "S1" {
		t.Fatalf("expected decoded hello with session S1, got %+v", msg)
	}

	c.SetSession(msg.Hello.SessionID)

	msg, err = c.DecodeText(tts)
	if err != nil {
		t.Fatalf("unexpected error after hello: %v", err)
	}
	if msg.Tts == nil || msg.Tts.State != TtsStart {
		t.Fatalf("expected decoded tts start, got %+v", msg)
	}
}

func TestDecodeTextUnknownTypePreserved(t *testing.T) {
	c := NewCodec()
	c.SetSession("S1")

	raw := []byte(`{"type":"something_new","session_id":"S1","extra":42}`)
	msg, err := c.DecodeText(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.Generic == nil {
		t.Fatal("expected generic message for unknown type")
	}
	if msg.Generic.Type != "something_new" {
		t.Fatalf("expected type preserved, got %q", msg.Generic.Type)
	}
}

func TestEncodeClientHelloShape(t *testing.T) {
	data, err := EncodeClientHello("websocket")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var hello HelloMessage
	if err := json.Unmarshal(data, &hello); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if hello.Type != TypeHello || hello.Version != 1 || hello.Transport != "websocket" {
		t.Fatalf("unexpected hello shape: %+v", hello)
	}
	if hello.AudioParams.SampleRate != 24000 || hello.AudioParams.FrameDuration != 60 {
		t.Fatalf("unexpected audio params: %+v", hello.AudioParams)
	}
	if !hello.Features.Mcp {
		t.Fatal("expected mcp feature advertised")
	}
}

func TestEncodeListenRoundTrip(t *testing.T) {
	c := NewCodec()
	c.SetSession("S1")

	data, err := c.EncodeListen(ListenStart, ModeManual, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	msg, err := c.DecodeText(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.Listen == nil || msg.Listen.State != ListenStart || msg.Listen.Mode != ModeManual {
		t.Fatalf("unexpected round-trip: %+v", msg.Listen)
	}
}

func TestTagBinaryUsesActiveSession(t *testing.T) {
	c := NewCodec()
	c.SetSession("S1")
	frame := c.TagBinary([]byte{1, 2, 3})
	if frame.SessionID != "S1" {
		t.Fatalf("expected session S1, got %q", frame.SessionID)
	}
}
