package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

// Logger is duck-typed against the same four methods every component in
// this module uses for structured logging (see pkg/orchestrator.Logger);
// declared locally to avoid an import cycle back into pkg/orchestrator.
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
}

type noOpLogger struct{}

func (noOpLogger) Debug(string, ...interface{}) {}
func (noOpLogger) Info(string, ...interface{})  {}
func (noOpLogger) Warn(string, ...interface{})  {}
func (noOpLogger) Error(string, ...interface{}) {}

var (
	// ErrConnectionLost's text is the message of the RPCError that Close
	// resolves every pending request with (spec §4.6, Invariants).
	ErrConnectionLost = errors.New("mcp: connection lost")
	// ErrNotInitialized is returned by ListTools/CallTool before a
	// successful "initialize" handshake.
	ErrNotInitialized = errors.New("mcp: initialize has not completed")
	// ErrMcpCallFailed wraps a structured JSON-RPC error surfaced from a
	// tools/call response (spec §4.6: "surfaced to the caller as a
	// distinct failure variant, not a success with empty result").
	ErrMcpCallFailed = errors.New("mcp: tool call failed")
)

// Sender transmits one JSON-RPC payload over the active transport,
// wrapped by the caller in a protocol.McpMessage envelope.
type Sender func(payload json.RawMessage) error

// Subprotocol implements the client side of spec §4.6: initialization
// handshake, request/response correlation by monotonic id, tool
// invocation, and notification dispatch.
type Subprotocol struct {
	mu      sync.Mutex
	nextID  int64
	pending map[int64]chan *Message

	notifyHandlers map[string]func(params json.RawMessage)
	tools          map[string]ToolDescriptor

	send        Sender
	logger      Logger
	initialized bool

	readyCh chan struct{}
}

// New returns a Subprotocol that writes outgoing JSON-RPC frames through
// send. logger may be nil (defaults to a no-op).
func New(send Sender, logger Logger) *Subprotocol {
	if logger == nil {
		logger = noOpLogger{}
	}
	return &Subprotocol{
		pending:        make(map[int64]chan *Message),
		notifyHandlers: make(map[string]func(params json.RawMessage)),
		tools:          make(map[string]ToolDescriptor),
		send:           send,
		logger:         logger,
		readyCh:        make(chan struct{}, 1),
	}
}

// NotifyServerHello is called by the orchestrator when a server Hello is
// decoded. If it advertises features.mcp=true, this emits
// McpReadyForInitialization (spec §4.6.1) by making a value available on
// Ready().
func (s *Subprotocol) NotifyServerHello(mcpEnabled bool) {
	if !mcpEnabled {
		return
	}
	select {
	case s.readyCh <- struct{}{}:
	default:
	}
}

// Ready signals McpReadyForInitialization: the orchestrator should read
// from this channel and, on receipt, call Initialize.
func (s *Subprotocol) Ready() <-chan struct{} {
	return s.readyCh
}

// RegisterNotificationHandler registers a callback for incoming
// no-id messages whose method matches (spec §4.6.4).
func (s *Subprotocol) RegisterNotificationHandler(method string, handler func(params json.RawMessage)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifyHandlers[method] = handler
}

func (s *Subprotocol) allocateID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	return s.nextID
}

// call sends a request and blocks until its matching response arrives,
// ctx is done, or Close is called.
func (s *Subprotocol) call(ctx context.Context, method string, params interface{}) (*Message, error) {
	id := s.allocateID()
	req, err := newRequest(id, method, params)
	if err != nil {
		return nil, fmt.Errorf("mcp: encode %s request: %w", method, err)
	}

	waitCh := make(chan *Message, 1)
	s.mu.Lock()
	s.pending[id] = waitCh
	s.mu.Unlock()

	cleanup := func() {
		s.mu.Lock()
		delete(s.pending, id)
		s.mu.Unlock()
	}

	payload, err := json.Marshal(req)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("mcp: marshal %s request: %w", method, err)
	}

	if err := s.send(payload); err != nil {
		cleanup()
		return nil, fmt.Errorf("mcp: send %s request: %w", method, err)
	}

	select {
	case resp := <-waitCh:
		return resp, nil
	case <-ctx.Done():
		cleanup()
		return nil, ctx.Err()
	}
}

// Initialize performs the handshake that permits ListTools (spec §4.6.1).
func (s *Subprotocol) Initialize(ctx context.Context, caps ClientCapabilities) error {
	resp, err := s.call(ctx, "initialize", caps)
	if err != nil {
		return fmt.Errorf("mcp: initialize: %w", err)
	}
	if resp.Error != nil {
		return fmt.Errorf("%w: initialize: %s (code %d)", ErrMcpCallFailed, resp.Error.Message, resp.Error.Code)
	}

	s.mu.Lock()
	s.initialized = true
	s.mu.Unlock()
	return nil
}

// ListTools discovers the tools the server advertises, caching them in the
// local registry for CallTool/ToolByName lookups.
func (s *Subprotocol) ListTools(ctx context.Context) ([]ToolDescriptor, error) {
	s.mu.Lock()
	initialized := s.initialized
	s.mu.Unlock()
	if !initialized {
		return nil, ErrNotInitialized
	}

	resp, err := s.call(ctx, "tools/list", nil)
	if err != nil {
		return nil, fmt.Errorf("mcp: tools/list: %w", err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("%w: tools/list: %s (code %d)", ErrMcpCallFailed, resp.Error.Message, resp.Error.Code)
	}

	var result struct {
		Tools []ToolDescriptor `json:"tools"`
	}
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, fmt.Errorf("mcp: decode tools/list result: %w", err)
	}

	s.mu.Lock()
	for _, t := range result.Tools {
		s.tools[t.Name] = t
	}
	s.mu.Unlock()

	return result.Tools, nil
}

// ToolByName returns a previously discovered tool descriptor.
func (s *Subprotocol) ToolByName(name string) (ToolDescriptor, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tools[name]
	return t, ok
}

// CallTool invokes tools/call{name, arguments} and returns its result map,
// or ErrMcpCallFailed wrapping the structured RPCError on failure (spec
// §4.6.3: "Errors are surfaced to the caller as a distinct failure
// variant, not a success with empty result").
func (s *Subprotocol) CallTool(ctx context.Context, name string, args map[string]interface{}) (map[string]interface{}, error) {
	s.mu.Lock()
	initialized := s.initialized
	s.mu.Unlock()
	if !initialized {
		return nil, ErrNotInitialized
	}

	resp, err := s.call(ctx, "tools/call", ToolCallParams{Name: name, Arguments: args})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMcpCallFailed, err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("%w: %s (code %d)", ErrMcpCallFailed, resp.Error.Message, resp.Error.Code)
	}

	var result map[string]interface{}
	if len(resp.Result) > 0 {
		if err := json.Unmarshal(resp.Result, &result); err != nil {
			return nil, fmt.Errorf("mcp: decode tools/call result: %w", err)
		}
	}
	return result, nil
}

// HandleIncoming routes one decoded JSON-RPC frame received from the
// transport: resolves a pending request by id, or dispatches a
// notification by method. Malformed frames produce a local McpError
// (logged) without tearing down the transport (spec §4.6 Failure
// semantics).
func (s *Subprotocol) HandleIncoming(raw json.RawMessage) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		s.logger.Warn("mcp: malformed json-rpc frame", "error", err)
		return
	}

	switch {
	case msg.IsResponse():
		s.mu.Lock()
		ch, ok := s.pending[*msg.ID]
		if ok {
			delete(s.pending, *msg.ID)
		}
		s.mu.Unlock()

		if !ok {
			s.logger.Warn("mcp: response for unknown id dropped", "id", *msg.ID)
			return
		}
		ch <- &msg

	case msg.IsNotification():
		s.mu.Lock()
		handler := s.notifyHandlers[msg.Method]
		s.mu.Unlock()
		if handler == nil {
			s.logger.Debug("mcp: no handler for notification", "method", msg.Method)
			return
		}
		handler(msg.Params)

	default:
		s.logger.Warn("mcp: frame is neither response nor notification", "raw", string(raw))
	}
}

// Close fails every pending request with an RPCError carrying
// ErrConnectionLost's text, so a pending CallTool returns ErrMcpCallFailed
// with that message; errors.Is(err, ErrConnectionLost) does not match it.
func (s *Subprotocol) Close() {
	s.mu.Lock()
	pending := s.pending
	s.pending = make(map[int64]chan *Message)
	s.initialized = false
	s.mu.Unlock()

	for id, ch := range pending {
		ch <- &Message{ID: &id, Error: &RPCError{Code: ErrCodeInternal, Message: ErrConnectionLost.Error()}}
	}
}
