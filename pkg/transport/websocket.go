package transport

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// DefaultHeartbeatInterval is spec §4.4's default ping cadence. A
// connection that misses heartbeatMissLimit consecutive pings (3×N) is
// treated as lost and torn down.
const DefaultHeartbeatInterval = 30 * time.Second

const heartbeatMissLimit = 3

// WebSocketClient dials a single long-lived WebSocket connection and fans
// every inbound frame out to Frames(), following the dial/read-loop shape
// of the reference TTS provider's streaming client.
type WebSocketClient struct {
	url               string
	heartbeatInterval time.Duration

	mu     sync.Mutex
	conn   *websocket.Conn
	frames chan Frame
	err    error
	done   chan struct{}
}

// NewWebSocketClient returns a client that will dial url (e.g.
// "wss://host/ws?...") on Dial, pinging every DefaultHeartbeatInterval.
func NewWebSocketClient(url string) *WebSocketClient {
	return NewWebSocketClientWithHeartbeat(url, DefaultHeartbeatInterval)
}

// NewWebSocketClientWithHeartbeat is NewWebSocketClient with an explicit
// ping cadence; interval <= 0 disables heartbeating entirely.
func NewWebSocketClientWithHeartbeat(url string, interval time.Duration) *WebSocketClient {
	return &WebSocketClient{
		url:               url,
		heartbeatInterval: interval,
		frames:            make(chan Frame, 32),
	}
}

func (c *WebSocketClient) Dial(ctx context.Context, headers http.Header) error {
	conn, resp, err := websocket.Dial(ctx, c.url, &websocket.DialOptions{HTTPHeader: headers})
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return fmt.Errorf("%w: %v", ErrUnauthorized, err)
		}
		return fmt.Errorf("transport: dial %s: %w", c.url, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.done = make(chan struct{})
	c.mu.Unlock()

	go c.readLoop()
	if c.heartbeatInterval > 0 {
		go c.heartbeatLoop()
	}
	return nil
}

// heartbeatLoop pings on heartbeatInterval; heartbeatMissLimit consecutive
// failures (spec §4.4's 3×N rule) closes the connection, which surfaces as
// a read error on readLoop and ErrConnectionLost to the orchestrator.
func (c *WebSocketClient) heartbeatLoop() {
	ticker := time.NewTicker(c.heartbeatInterval)
	defer ticker.Stop()

	c.mu.Lock()
	done := c.done
	c.mu.Unlock()

	misses := 0
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			c.mu.Lock()
			conn := c.conn
			c.mu.Unlock()
			if conn == nil {
				return
			}

			ctx, cancel := context.WithTimeout(context.Background(), c.heartbeatInterval)
			err := conn.Ping(ctx)
			cancel()
			if err != nil {
				misses++
				if misses >= heartbeatMissLimit {
					c.mu.Lock()
					c.err = fmt.Errorf("transport: %d missed heartbeats: %w", misses, err)
					c.mu.Unlock()
					conn.Close(websocket.StatusPolicyViolation, "heartbeat timeout")
					return
				}
				continue
			}
			misses = 0
		}
	}
}

func (c *WebSocketClient) readLoop() {
	defer close(c.frames)

	for {
		msgType, data, err := c.conn.Read(context.Background())
		if err != nil {
			c.mu.Lock()
			c.err = fmt.Errorf("transport: read: %w", err)
			c.mu.Unlock()
			return
		}

		kind := FrameText
		if msgType == websocket.MessageBinary {
			kind = FrameBinary
		}
		c.frames <- Frame{Kind: kind, Data: data}
	}
}

func (c *WebSocketClient) SendText(ctx context.Context, data []byte) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrClosed
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("transport: send text: %w", err)
	}
	return nil
}

func (c *WebSocketClient) SendBinary(ctx context.Context, data []byte) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrClosed
	}
	if err := conn.Write(ctx, websocket.MessageBinary, data); err != nil {
		return fmt.Errorf("transport: send binary: %w", err)
	}
	return nil
}

func (c *WebSocketClient) Frames() <-chan Frame {
	return c.frames
}

func (c *WebSocketClient) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *WebSocketClient) Close(ctx context.Context) error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	done := c.done
	c.done = nil
	c.mu.Unlock()

	if done != nil {
		select {
		case <-done:
		default:
			close(done)
		}
	}

	if conn == nil {
		return nil
	}
	return conn.Close(websocket.StatusNormalClosure, "")
}
