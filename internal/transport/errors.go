package transport

import "errors"

// Domain-specific errors for the local Tuya transport. Use errors.Is() to
// classify a failure for retry/recovery purposes.
var (
	// ErrNotConnected is returned when an operation is attempted on a
	// transport with no open socket.
	ErrNotConnected = errors.New("transport: not connected")

	// ErrConnectFailed is returned when the initial TCP dial fails.
	ErrConnectFailed = errors.New("transport: connect failed")

	// ErrKeyOrVersion is returned when the device rejects a frame with
	// Tuya's characteristic "wrong key or protocol version" response. The
	// bridge core treats this as a trigger to re-fetch the device's
	// local_key from the cloud.
	ErrKeyOrVersion = errors.New("transport: wrong local key or protocol version")

	// ErrMalformedFrame is returned when a received frame fails header,
	// length, or CRC validation.
	ErrMalformedFrame = errors.New("transport: malformed frame")

	// ErrTimeout is returned when a send or read exceeds its deadline.
	ErrTimeout = errors.New("transport: operation timed out")

	// ErrUnsupportedVersion is returned for a protocol version this
	// transport does not implement.
	ErrUnsupportedVersion = errors.New("transport: unsupported protocol version")
)
