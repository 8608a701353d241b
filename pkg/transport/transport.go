// Package transport implements the two wire carriers spec §4.4 allows for
// moving protocol frames between client and server: a long-lived
// WebSocket connection, or an MQTT broker pairing a control topic with an
// audio topic.
package transport

import (
	"context"
	"errors"
	"net/http"
)

// FrameKind distinguishes a text (JSON control) frame from a binary
// (Opus) frame on the wire.
type FrameKind int

const (
	FrameText FrameKind = iota
	FrameBinary
)

// Frame is one inbound unit handed to the protocol codec for decoding.
type Frame struct {
	Kind FrameKind
	Data []byte
}

// ErrClosed is returned by Send* once Close has been called.
var ErrClosed = errors.New("transport: connection closed")

// ErrUnauthorized distinguishes a server-rejected handshake (bad or
// missing Authorization/Device-Id/Client-Id) from a plain connection
// failure, so the orchestrator can surface spec §7's ErrUnauthorized
// instead of a generic connection-refused error.
var ErrUnauthorized = errors.New("transport: unauthorized")

// Client is the transport-agnostic surface the orchestrator drives. Both
// Dial implementations push every inbound frame onto the same Frames()
// channel so the codec and state machine never need to know which
// carrier is underneath (spec §4.4: "the carrier is a deployment choice;
// it must not leak into the message semantics above it").
type Client interface {
	// Dial establishes the connection, presenting headers (Authorization,
	// Protocol-Version, Device-Id, Client-Id per spec §4.4/§6) to the
	// server. Must be called before any other method.
	Dial(ctx context.Context, headers http.Header) error
	// SendText transmits one JSON control frame.
	SendText(ctx context.Context, data []byte) error
	// SendBinary transmits one Opus frame.
	SendBinary(ctx context.Context, data []byte) error
	// Frames returns the channel of inbound frames. Closed when the
	// connection drops, after which Err() explains why.
	Frames() <-chan Frame
	// Err returns the reason Frames() closed, or nil before closure.
	Err() error
	// Close tears down the connection.
	Close(ctx context.Context) error
}
