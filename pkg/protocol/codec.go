package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrProtocolViolation is returned when a frame arrives out of the order
// spec §4.5 requires (notably: anything before the server Hello).
var ErrProtocolViolation = errors.New("protocol violation")

// Message is the decoded form of one text frame. Exactly one of the typed
// fields is non-nil, matching whichever Type it carries; Generic is set
// for unrecognized types.
type Message struct {
	Type      MessageType
	SessionID string

	Hello        *HelloMessage
	Listen       *ListenMessage
	Tts          *TtsMessage
	Stt          *SttMessage
	Llm          *LlmMessage
	Music        *MusicMessage
	SystemStatus *SystemStatusMessage
	Iot          *IotMessage
	Abort        *AbortMessage
	Goodbye      *GoodbyeMessage
	Mcp          *McpMessage
	Generic      *GenericMessage
}

// Codec translates between Message values and on-wire bytes. It is a
// stateless view over byte streams (spec §3, Ownership) except for the
// single piece of state every decode needs: the session id negotiated by
// the last Hello, which binary frames are tagged with.
type Codec struct {
	sessionID     string
	helloComplete bool
}

// NewCodec returns a Codec with no session established; DecodeText rejects
// everything but a Hello until SetSession is called. Decoding a Hello does
// not itself establish the session.
func NewCodec() *Codec {
	return &Codec{}
}

// SetSession records the session id established by a completed Hello
// exchange, unblocking DecodeText for all message types.
func (c *Codec) SetSession(sessionID string) {
	c.sessionID = sessionID
	c.helloComplete = true
}

// Reset clears session state, e.g. on disconnect.
func (c *Codec) Reset() {
	c.sessionID = ""
	c.helloComplete = false
}

// SessionID returns the currently active session id ("" if none).
func (c *Codec) SessionID() string {
	return c.sessionID
}

// HelloComplete reports whether the server Hello has been processed yet,
// the same gate DecodeText enforces for text frames (spec §4.5).
func (c *Codec) HelloComplete() bool {
	return c.helloComplete
}

// EncodeClientHello renders the client->server Hello for the given transport.
func EncodeClientHello(transport string) ([]byte, error) {
	return json.Marshal(NewClientHello(transport))
}

// EncodeListen renders a Listen control frame.
func (c *Codec) EncodeListen(state ListenState, mode ListenMode, text string) ([]byte, error) {
	return json.Marshal(ListenMessage{
		Type:      TypeListen,
		SessionID: c.sessionID,
		State:     state,
		Mode:      mode,
		Text:      text,
	})
}

// EncodeAbort renders an Abort control frame.
func (c *Codec) EncodeAbort(reason AbortReason) ([]byte, error) {
	return json.Marshal(AbortMessage{
		Type:      TypeAbort,
		SessionID: c.sessionID,
		Reason:    reason,
	})
}

// EncodeGoodbye renders an optional close-politeness frame.
func (c *Codec) EncodeGoodbye() ([]byte, error) {
	return json.Marshal(GoodbyeMessage{Type: TypeGoodbye, SessionID: c.sessionID})
}

// EncodeIotStates renders an outgoing Iot{states} frame.
func (c *Codec) EncodeIotStates(states interface{}) ([]byte, error) {
	return json.Marshal(IotMessage{Type: TypeIot, SessionID: c.sessionID, States: states})
}

// EncodeIotDescriptors renders an outgoing Iot{descriptors} frame.
func (c *Codec) EncodeIotDescriptors(descriptors interface{}) ([]byte, error) {
	return json.Marshal(IotMessage{Type: TypeIot, SessionID: c.sessionID, Descriptors: descriptors})
}

// EncodeMcp wraps a raw JSON-RPC payload in an Mcp envelope.
func (c *Codec) EncodeMcp(payload json.RawMessage) ([]byte, error) {
	return json.Marshal(McpMessage{Type: TypeMcp, SessionID: c.sessionID, Payload: payload})
}

// DecodeText parses one text frame. Per spec §4.5, a server Hello is
// required before any other frame is accepted; everything else yields
// ErrProtocolViolation until SetSession has been called (directly, or by
// the caller first routing a decoded Hello through SetSession).
func (c *Codec) DecodeText(data []byte) (*Message, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}

	if !c.helloComplete && env.Type != TypeHello {
		return nil, fmt.Errorf("%w: frame type %q received before server hello", ErrProtocolViolation, env.Type)
	}

	msg := &Message{Type: env.Type, SessionID: env.SessionID}

	switch env.Type {
	case TypeHello:
		var h HelloMessage
		if err := json.Unmarshal(data, &h); err != nil {
			return nil, fmt.Errorf("decode hello: %w", err)
		}
		msg.Hello = &h
	case TypeListen:
		var m ListenMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decode listen: %w", err)
		}
		msg.Listen = &m
	case TypeTts:
		var m TtsMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decode tts: %w", err)
		}
		msg.Tts = &m
	case TypeStt:
		var m SttMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decode stt: %w", err)
		}
		msg.Stt = &m
	case TypeLlm:
		var m LlmMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decode llm: %w", err)
		}
		msg.Llm = &m
	case TypeMusic:
		var m MusicMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decode music: %w", err)
		}
		msg.Music = &m
	case TypeSystemStatus:
		var m SystemStatusMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decode system_status: %w", err)
		}
		msg.SystemStatus = &m
	case TypeIot:
		var m IotMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decode iot: %w", err)
		}
		msg.Iot = &m
	case TypeAbort:
		var m AbortMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decode abort: %w", err)
		}
		msg.Abort = &m
	case TypeGoodbye:
		var m GoodbyeMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decode goodbye: %w", err)
		}
		msg.Goodbye = &m
	case TypeMcp:
		var m McpMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decode mcp: %w", err)
		}
		msg.Mcp = &m
	default:
		msg.Generic = &GenericMessage{Type: env.Type, SessionID: env.SessionID, Raw: append(json.RawMessage(nil), data...)}
	}

	return msg, nil
}

// TagBinary annotates a raw downlink Opus packet with the active session
// id, per spec §4.5 ("binary frames ... are tagged with the currently
// active session_id from the last Hello").
type BinaryFrame struct {
	SessionID string
	Opus      []byte
}

func (c *Codec) TagBinary(opusPacket []byte) BinaryFrame {
	return BinaryFrame{SessionID: c.sessionID, Opus: opusPacket}
}
