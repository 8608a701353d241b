// Package client is the high-level, user-friendly entry point for a
// xiaozhi voice conversation: it wires transport, audio, and wake-word
// collaborators into one orchestrator.VoiceChatService, the way the
// reference repo's root Conversation type wrapped an Orchestrator and
// ConversationSession behind a handful of methods.
package client

import (
	"context"
	"fmt"

	"github.com/xiaozhi-go/voiceclient/pkg/audio"
	"github.com/xiaozhi-go/voiceclient/pkg/orchestrator"
	"github.com/xiaozhi-go/voiceclient/pkg/protocol"
	"github.com/xiaozhi-go/voiceclient/pkg/state"
	"github.com/xiaozhi-go/voiceclient/pkg/transport"
	"github.com/xiaozhi-go/voiceclient/pkg/wakeword"
)

// Client is a voice conversation against one xiaozhi server.
type Client struct {
	svc    *orchestrator.VoiceChatService
	stream *audio.StreamManager
	player *audio.Player
}

// New builds a Client from cfg without dialing the transport; Connect does
// that. The capture device is opened here, because the VAD (and the
// wake-word spotter, when one is configured) subscribe to the shared
// capture stream during construction. spotterFactory may be nil to run
// without wake-word detection (push-to-talk only).
//
// Example:
//
//	cfg, _ := config.Load()
//	c, err := client.New(cfg, nil, nil)
//	if err != nil { ... }
//	defer c.Close()
//	if err := c.Connect(ctx); err != nil { ... }
//	c.StartVoiceChat(ctx)
func New(cfg orchestrator.Config, spotterFactory wakeword.Factory, log orchestrator.Logger) (*Client, error) {
	transportClient, err := buildTransport(cfg)
	if err != nil {
		return nil, err
	}

	stream := audio.NewStreamManager(cfg.AudioInputSampleRate, cfg.AudioChannels)
	player := audio.NewPlayer(cfg.AudioOutputSampleRate, cfg.AudioChannels)

	svc, err := orchestrator.New(cfg, transportClient, stream, player, spotterFactory, log)
	if err != nil {
		return nil, fmt.Errorf("client: %w", err)
	}

	return &Client{svc: svc, stream: stream, player: player}, nil
}

func buildTransport(cfg orchestrator.Config) (transport.Client, error) {
	if cfg.UseWebsocket {
		return transport.NewWebSocketClient(cfg.ServerURL), nil
	}

	if cfg.MqttBroker == "" {
		return nil, fmt.Errorf("client: mqtt_broker is required when use_websocket=false")
	}
	controlTopic := cfg.MqttTopic + "/control"
	audioTopic := cfg.MqttTopic + "/audio"
	return transport.NewMQTTClient(cfg.MqttBroker, cfg.MqttClientID, controlTopic, audioTopic), nil
}

// Connect dials the transport and completes the Hello handshake.
func (c *Client) Connect(ctx context.Context) error {
	return c.svc.Start(ctx)
}

// StartVoiceChat arms the capture pipeline and tells the server listening
// has begun.
func (c *Client) StartVoiceChat(ctx context.Context) error {
	return c.svc.StartVoiceChat(ctx)
}

// StopVoiceChat disarms capture and tells the server listening has ended.
// Idempotent.
func (c *Client) StopVoiceChat(ctx context.Context) error {
	return c.svc.StopVoiceChat(ctx)
}

// Interrupt aborts in-flight playback for reason and returns to Idle.
func (c *Client) Interrupt(ctx context.Context, reason protocol.AbortReason) error {
	return c.svc.Interrupt(ctx, reason)
}

// SendText submits text as if it had been spoken, bypassing capture.
func (c *Client) SendText(ctx context.Context, text string) error {
	return c.svc.SendText(ctx, text)
}

// ToggleChatState starts or stops voice chat depending on current state.
func (c *Client) ToggleChatState(ctx context.Context) error {
	return c.svc.ToggleChatState(ctx)
}

// SetKeepListening controls automatic re-listening after each Speaking
// cycle ends.
func (c *Client) SetKeepListening(keep bool) {
	c.svc.SetKeepListening(keep)
}

// CallTool invokes a server-advertised MCP tool.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]interface{}) (map[string]interface{}, error) {
	return c.svc.CallTool(ctx, name, args)
}

// Events delivers Stt/Llm/Music/SystemStatus/Iot updates and error
// notifications for a UI to render.
func (c *Client) Events() <-chan orchestrator.Event {
	return c.svc.Events()
}

// State reports the current conversation state.
func (c *Client) State() state.State {
	return c.svc.State()
}

// Close releases every collaborator: transport, audio devices, and
// background goroutines.
func (c *Client) Close() {
	c.svc.Close()
	c.player.Stop()
}
