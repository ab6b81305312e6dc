package cloud

import "errors"

// Sentinel errors surfaced by the cloud client. Use errors.Is() to
// classify a failure for retry or state-machine purposes.
var (
	// ErrUnauthorized is returned when Tuya's cloud rejects the request
	// signature or access token.
	ErrUnauthorized = errors.New("cloud: unauthorized")

	// ErrDeviceNotFound is returned when the cloud has no record of the
	// requested device ID.
	ErrDeviceNotFound = errors.New("cloud: device not found")

	// ErrRateLimited is returned when Tuya throttles the account.
	ErrRateLimited = errors.New("cloud: rate limited")

	// ErrUnavailable is returned for transport-level failures (DNS,
	// connection refused, timeouts) that a caller may retry.
	ErrUnavailable = errors.New("cloud: unavailable")

	// ErrUnexpectedResponse is returned when the cloud responds with a
	// shape this client cannot parse.
	ErrUnexpectedResponse = errors.New("cloud: unexpected response")
)
