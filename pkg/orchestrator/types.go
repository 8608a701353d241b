// Package orchestrator implements the VoiceChatService of spec §4.8: the
// composition root that wires the audio, transport, protocol, MCP,
// state-machine, and wake-word collaborators into the single object a UI
// drives. It is the only component permitted to surface errors upward
// (spec §7, Propagation policy).
package orchestrator

import (
	"github.com/xiaozhi-go/voiceclient/pkg/protocol"
)

// Logger is the structured logging surface used throughout this module;
// mcp, state, and wakeword each re-declare the same four methods locally
// to avoid importing this package back.
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
}

// NoOpLogger discards everything; the zero value is ready to use.
type NoOpLogger struct{}

func (NoOpLogger) Debug(string, ...interface{}) {}
func (NoOpLogger) Info(string, ...interface{})  {}
func (NoOpLogger) Warn(string, ...interface{})  {}
func (NoOpLogger) Error(string, ...interface{}) {}

// Config holds every recognized option of spec §6; any other name is
// rejected by the loader in pkg/config.
type Config struct {
	ServerURL string

	UseWebsocket bool
	MqttBroker   string
	MqttPort     int
	MqttClientID string
	MqttTopic    string

	EnableVoice bool

	AudioInputSampleRate  int
	AudioOutputSampleRate int
	AudioChannels         int
	AudioFormat           string

	AutoConnect bool

	KeywordModelsPath      string
	KeywordCurrentModel    string
	KeywordAvailableModels []string

	DeviceID  string
	ClientID  string
	AuthToken string
}

// DefaultConfig returns spec §6's documented defaults.
func DefaultConfig() Config {
	return Config{
		UseWebsocket:          true,
		EnableVoice:           true,
		AudioInputSampleRate:  16000,
		AudioOutputSampleRate: 24000,
		AudioChannels:         1,
		AudioFormat:           "opus",
		AutoConnect:           false,
	}
}

// EventType discriminates the events VoiceChatService forwards to its UI
// collaborator unchanged (spec §4.8: "Stt/Llm/Music/SystemStatus forwarded
// without triggering a transition").
type EventType string

const (
	EventStt              EventType = "stt"
	EventLlm              EventType = "llm"
	EventMusic            EventType = "music"
	EventSystemStatus     EventType = "system_status"
	EventIot              EventType = "iot"
	EventMcpResult        EventType = "mcp_result"
	EventError            EventType = "error"
	EventUnknown          EventType = "unknown"
	EventRecordingStopped EventType = "recording_stopped"
	EventPlaybackStopped  EventType = "playback_stopped"
)

// Event is the single shape forwarded on VoiceChatService.Events(). Exactly
// one payload field is set, matching Type.
type Event struct {
	Type EventType

	Stt          *protocol.SttMessage
	Llm          *protocol.LlmMessage
	Music        *protocol.MusicMessage
	SystemStatus *protocol.SystemStatusMessage
	Iot          *protocol.IotMessage
	Generic      *protocol.GenericMessage

	// Err is set alongside EventError and wraps one of the sentinel error
	// kinds in errors.go.
	Err error
}
