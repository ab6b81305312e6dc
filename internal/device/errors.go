package device

import "errors"

// Domain errors for the device package. Check with errors.Is().
var (
	// ErrDeviceNotFound is returned when a device ID does not exist.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrDeviceExists is returned when adding a device with an ID that
	// already exists and merge was not requested.
	ErrDeviceExists = errors.New("device: already exists")

	// ErrInvalidDevice is returned when device validation fails.
	ErrInvalidDevice = errors.New("device: invalid")

	// ErrFriendlyNameTaken is returned when a friendly name collides with
	// another device's, since friendly names form a bijection with dev_id
	// for the purposes of Homie device-id derivation.
	ErrFriendlyNameTaken = errors.New("device: friendly name already in use")
)
