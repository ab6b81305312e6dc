package scanner

import "errors"

// ErrNetworkDown is returned when a listener socket fails with a
// network-unreachable error (errno 101 / ENETUNREACH on Linux), which ends
// the scan but never the process.
var ErrNetworkDown = errors.New("scanner: network unreachable")

// ErrMissingGwID is returned for a broadcast packet whose decrypted JSON
// has no gwId field and is therefore not a Tuya discovery record.
var ErrMissingGwID = errors.New("scanner: packet missing gwId")
