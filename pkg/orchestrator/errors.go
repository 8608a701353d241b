package orchestrator

import "errors"

// The sentinels below are spec §7's behavioral error kinds, not wrapped
// type names: lower layers convert native failures (a missing ALSA
// device, a TLS handshake error, a malformed frame) into one of these
// before the orchestrator surfaces it, since propagation policy makes
// VoiceChatService the only component permitted to report to the UI.
var (
	// ErrDeviceUnavailable: the capture stream could not be opened;
	// returned by StartVoiceChat, which does not retry on its own.
	ErrDeviceUnavailable = errors.New("orchestrator: audio device unavailable")

	// ErrDeviceBusy names the transient busy-device kind. No code path in
	// this module returns it or retries on it.
	ErrDeviceBusy = errors.New("orchestrator: audio device busy")

	// ErrConnectionRefused / ErrUnauthorized / ErrHandshakeFailed are
	// fatal for the current connection attempt; no auto-retry from the
	// core.
	ErrConnectionRefused = errors.New("orchestrator: connection refused")
	ErrUnauthorized      = errors.New("orchestrator: unauthorized")
	ErrHandshakeFailed   = errors.New("orchestrator: handshake failed")

	// ErrConnectionLost is transient; the state machine moves to Idle and
	// the orchestrator waits for a UI-driven reconnect.
	ErrConnectionLost = errors.New("orchestrator: connection lost")

	// ErrProtocolViolation covers frames out of order, a missing Hello,
	// or mismatched audio params; always followed by Disconnect.
	ErrProtocolViolation = errors.New("orchestrator: protocol violation")

	// ErrCodecError is recoverable in playback (silence is substituted)
	// and fatal for a single uplink frame (dropped and logged).
	ErrCodecError = errors.New("orchestrator: codec error")

	// ErrMcpError never tears down the transport; in-flight RPCs resolve
	// to mcp.ErrMcpCallFailed independently.
	ErrMcpError = errors.New("orchestrator: mcp error")

	// ErrRecognizerError: absorbed up to three consecutive restarts; past
	// that, keyword spotting disables itself and this is surfaced once.
	ErrRecognizerError = errors.New("orchestrator: recognizer error")

	// ErrInternalStateViolation is logged and ignored; it never reaches
	// the UI (state.ErrIllegalTransition is the concrete cause).
	ErrInternalStateViolation = errors.New("orchestrator: internal state violation")

	// ErrNotConnected names the missing-session kind. No code path in this
	// module returns it; sends without a connection fail with
	// transport.ErrClosed.
	ErrNotConnected = errors.New("orchestrator: not connected")
)
