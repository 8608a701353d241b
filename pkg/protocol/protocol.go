// Package protocol defines the xiaozhi wire messages and the rules for
// translating between them and the bytes carried by a transport.TransportClient.
package protocol

import "encoding/json"

// ProtocolVersion is the value carried both in the Hello body and the
// Protocol-Version upgrade header (spec §4.4/§6).
const ProtocolVersion = 1

// AudioParams describes the fixed audio contract for a session. Mismatch
// between what a client declares and what the server echoes back is a
// fatal protocol error (spec §3, AudioParams).
type AudioParams struct {
	Format        string `json:"format"`
	SampleRate    int    `json:"sample_rate"`
	Channels      int    `json:"channels"`
	FrameDuration int    `json:"frame_duration_ms,omitempty"`
}

// DefaultUplinkParams is what this client declares in its outgoing Hello.
func DefaultUplinkParams() AudioParams {
	return AudioParams{
		Format:        "opus",
		SampleRate:    24000,
		Channels:      1,
		FrameDuration: 60,
	}
}

// Features advertises/records protocol feature flags. Only MCP exists today.
type Features struct {
	Mcp bool `json:"mcp"`
}

// ListenState is the state carried on a Listen message.
type ListenState string

const (
	ListenStart  ListenState = "start"
	ListenStop   ListenState = "stop"
	ListenDetect ListenState = "detect"
)

// ListenMode controls whether a completed Speaking cycle auto-returns to
// Listening (spec §3, ListeningMode).
type ListenMode string

const (
	ModeManual   ListenMode = "manual"
	ModeAutoStop ListenMode = "auto"
	ModeAlwaysOn ListenMode = "realtime"
)

// TtsState enumerates the TTS sub-events a server may emit. SentenceStart
// supplements spec.md's Tts{state, text?} variant (see SPEC_FULL.md §C.2);
// it carries partial spoken text but triggers no state transition.
type TtsState string

const (
	TtsStart         TtsState = "start"
	TtsSentenceStart TtsState = "sentence_start"
	TtsStop          TtsState = "stop"
)

// AbortReason is attached to every abort sent upstream (spec §3).
type AbortReason string

const (
	AbortNone                AbortReason = ""
	AbortWakeWordDetected    AbortReason = "wake_word_detected"
	AbortUserInterruption    AbortReason = "user_interruption"
	AbortVoiceInterruption   AbortReason = "voice_interruption"
	AbortKeyboardInterrupted AbortReason = "keyboard_interruption"
)

// MessageType is the discriminant carried by every text frame's "type" field.
type MessageType string

const (
	TypeHello        MessageType = "hello"
	TypeListen       MessageType = "listen"
	TypeTts          MessageType = "tts"
	TypeStt          MessageType = "stt"
	TypeLlm          MessageType = "llm"
	TypeMusic        MessageType = "music"
	TypeSystemStatus MessageType = "system_status"
	TypeIot          MessageType = "iot"
	TypeAbort        MessageType = "abort"
	TypeGoodbye      MessageType = "goodbye"
	TypeMcp          MessageType = "mcp"
)

// Envelope is the minimal shape every text frame must carry; used to sniff
// the "type" discriminant before decoding into a concrete variant.
type Envelope struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id,omitempty"`
}

// HelloMessage is sent both directions. The client declares its transport
// and requested audio params; the server echoes/overrides audio_params and
// supplies session_id (spec §6).
type HelloMessage struct {
	Type        MessageType `json:"type"`
	Version     int         `json:"version"`
	Transport   string      `json:"transport"`
	SessionID   string      `json:"session_id,omitempty"`
	AudioParams AudioParams `json:"audio_params"`
	Features    Features    `json:"features,omitempty"`
}

// NewClientHello builds the client->server Hello declared in spec §4.5/§6.
func NewClientHello(transport string) HelloMessage {
	return HelloMessage{
		Type:        TypeHello,
		Version:     ProtocolVersion,
		Transport:   transport,
		AudioParams: DefaultUplinkParams(),
		Features:    Features{Mcp: true},
	}
}

// ListenMessage carries Listen{state, mode?, text?}.
type ListenMessage struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id,omitempty"`
	State     ListenState `json:"state"`
	Mode      ListenMode  `json:"mode,omitempty"`
	Text      string      `json:"text,omitempty"`
}

// TtsMessage carries Tts{state, text?}.
type TtsMessage struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id,omitempty"`
	State     TtsState    `json:"state"`
	Text      string      `json:"text,omitempty"`
}

// SttMessage carries Stt{text}.
type SttMessage struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id,omitempty"`
	Text      string      `json:"text"`
}

// LlmMessage carries Llm{emotion}.
type LlmMessage struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id,omitempty"`
	Emotion   string      `json:"emotion"`
	Text      string      `json:"text,omitempty"`
}

// MusicMessage carries Music{action, song_name?, artist?, position, duration, lyric_text?}.
type MusicMessage struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id,omitempty"`
	Action    string      `json:"action"`
	SongName  string      `json:"song_name,omitempty"`
	Artist    string      `json:"artist,omitempty"`
	Position  float64     `json:"position"`
	Duration  float64     `json:"duration"`
	LyricText string      `json:"lyric_text,omitempty"`
}

// SystemStatusMessage carries SystemStatus{component, status, message?}.
type SystemStatusMessage struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id,omitempty"`
	Component string      `json:"component"`
	Status    string      `json:"status"`
	Message   string      `json:"message,omitempty"`
}

// IotMessage carries Iot{descriptors?, states?}.
type IotMessage struct {
	Type        MessageType `json:"type"`
	SessionID   string      `json:"session_id,omitempty"`
	Descriptors interface{} `json:"descriptors,omitempty"`
	States      interface{} `json:"states,omitempty"`
}

// AbortMessage carries Abort{reason}.
type AbortMessage struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id,omitempty"`
	Reason    AbortReason `json:"reason,omitempty"`
}

// GoodbyeMessage is an optional politeness close.
type GoodbyeMessage struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id,omitempty"`
}

// McpMessage carries an embedded JSON-RPC 2.0 payload (spec §4.6).
type McpMessage struct {
	Type      MessageType     `json:"type"`
	SessionID string          `json:"session_id,omitempty"`
	Payload   json.RawMessage `json:"payload"`
}

// GenericMessage preserves an unknown "type" verbatim rather than dropping
// it (spec §4.5: "unknown types are preserved verbatim ... and logged,
// never dropped").
type GenericMessage struct {
	Type      MessageType
	SessionID string
	Raw       json.RawMessage
}
