package transport

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTTClient carries protocol frames over a broker, pairing a control
// topic (JSON frames, QoS 1 for delivery guarantees on state-changing
// messages) with a dedicated audio topic (Opus frames, QoS 0: a dropped
// audio packet is cheaper to lose than to retransmit late). This carrier
// has no precedent in the reference orchestrator, which only ever spoke
// to a single WebSocket TTS backend; it is grounded only in spec §4.4's
// explicit requirement for an MQTT alternative and paho.mqtt.golang's
// standard publish/subscribe API.
type MQTTClient struct {
	broker      string
	clientID    string
	controlTopic string
	audioTopic   string

	mu     sync.Mutex
	client mqtt.Client
	frames chan Frame
	err    error
}

// NewMQTTClient returns a client that will connect to broker (e.g.
// "tls://host:8883") with the given clientID, publishing/subscribing on
// controlTopic for JSON frames and audioTopic for Opus frames.
func NewMQTTClient(broker, clientID, controlTopic, audioTopic string) *MQTTClient {
	return &MQTTClient{
		broker:       broker,
		clientID:     clientID,
		controlTopic: controlTopic,
		audioTopic:   audioTopic,
		frames:       make(chan Frame, 32),
	}
}

// Dial connects to the broker, authenticating with headers the same way
// WebSocketClient does over HTTP: Authorization becomes the MQTT
// password and Device-Id (falling back to the configured client id)
// becomes the username, since MQTT has no header concept of its own.
func (c *MQTTClient) Dial(ctx context.Context, headers http.Header) error {
	opts := mqtt.NewClientOptions().
		AddBroker(c.broker).
		SetClientID(c.clientID).
		SetAutoReconnect(false).
		SetConnectTimeout(10 * time.Second).
		SetKeepAlive(DefaultHeartbeatInterval).
		SetPingTimeout(DefaultHeartbeatInterval / heartbeatMissLimit).
		SetOnConnectionLost(func(_ mqtt.Client, err error) {
			c.mu.Lock()
			c.err = fmt.Errorf("transport: mqtt connection lost: %w", err)
			c.mu.Unlock()
			c.closeFrames()
		})

	username := c.clientID
	if headers != nil {
		if deviceID := headers.Get("Device-Id"); deviceID != "" {
			username = deviceID
		}
		if auth := headers.Get("Authorization"); auth != "" {
			opts.SetUsername(username)
			opts.SetPassword(auth)
		}
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return fmt.Errorf("transport: mqtt connect to %s timed out", c.broker)
	}
	if err := token.Error(); err != nil {
		if isMqttAuthError(err) {
			return fmt.Errorf("%w: %v", ErrUnauthorized, err)
		}
		return fmt.Errorf("transport: mqtt connect: %w", err)
	}

	c.mu.Lock()
	c.client = client
	c.mu.Unlock()

	if err := c.subscribe(c.controlTopic, 1, FrameText); err != nil {
		return err
	}
	if err := c.subscribe(c.audioTopic, 0, FrameBinary); err != nil {
		return err
	}
	return nil
}

// isMqttAuthError reports whether err is paho's rendering of a
// CONNACK "not authorized" / "bad user name or password" return code;
// paho surfaces these as plain strings rather than a typed sentinel.
func isMqttAuthError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "not authorized") || strings.Contains(msg, "bad user name or password")
}

func (c *MQTTClient) subscribe(topic string, qos byte, kind FrameKind) error {
	c.mu.Lock()
	client := c.client
	c.mu.Unlock()

	token := client.Subscribe(topic, qos, func(_ mqtt.Client, msg mqtt.Message) {
		c.mu.Lock()
		frames := c.frames
		c.mu.Unlock()
		if frames == nil {
			return
		}
		payload := append([]byte(nil), msg.Payload()...)
		frames <- Frame{Kind: kind, Data: payload}
	})
	if !token.WaitTimeout(10 * time.Second) {
		return fmt.Errorf("transport: mqtt subscribe %s timed out", topic)
	}
	return token.Error()
}

func (c *MQTTClient) SendText(ctx context.Context, data []byte) error {
	return c.publish(c.controlTopic, 1, data)
}

func (c *MQTTClient) SendBinary(ctx context.Context, data []byte) error {
	return c.publish(c.audioTopic, 0, data)
}

func (c *MQTTClient) publish(topic string, qos byte, data []byte) error {
	c.mu.Lock()
	client := c.client
	c.mu.Unlock()
	if client == nil {
		return ErrClosed
	}

	token := client.Publish(topic, qos, false, data)
	if !token.WaitTimeout(10 * time.Second) {
		return fmt.Errorf("transport: mqtt publish to %s timed out", topic)
	}
	return token.Error()
}

func (c *MQTTClient) Frames() <-chan Frame {
	return c.frames
}

func (c *MQTTClient) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *MQTTClient) closeFrames() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.frames != nil {
		close(c.frames)
		c.frames = nil
	}
}

func (c *MQTTClient) Close(ctx context.Context) error {
	c.mu.Lock()
	client := c.client
	c.client = nil
	c.mu.Unlock()

	c.closeFrames()

	if client != nil && client.IsConnected() {
		client.Disconnect(250)
	}
	return nil
}
