package core

import (
	"errors"
)

var (
	ErrUnknown = errors.New("unknown")

	// construction time
	ErrGraphCycle         = errors.New("frame graph contains a dependency cycle")
	ErrUnknownResource    = errors.New("frame graph stage reads a resource nobody writes")
	ErrDeviceCreation     = errors.New("graphics device creation failed")
	ErrPassNotInitialised = errors.New("render pass is not initialised")
	ErrPassCleanedUp      = errors.New("render pass was already cleaned up")

	// per frame, recoverable
	ErrUnsupportedFlags = errors.New("pipeline flag combination is not supported by this pass")

	// per frame, fatal for the frame: resources must be recreated
	ErrDeviceLost       = errors.New("graphics device lost")
	ErrOutOfDate        = errors.New("swapchain out of date")
	ErrOutOfMemory      = errors.New("graphics device out of memory")
	ErrRecreateRequired = errors.New("gpu resources must be recreated")
)

// IsRecreateCondition reports whether err means the current frame must be
// dropped and every per-size GPU resource rebuilt.
func IsRecreateCondition(err error) bool {
	return errors.Is(err, ErrDeviceLost) ||
		errors.Is(err, ErrOutOfDate) ||
		errors.Is(err, ErrOutOfMemory) ||
		errors.Is(err, ErrRecreateRequired)
}
