package machines

import (
	"errors"
)

// Standard errors.
var (
	// ErrStopped is returned when Shutdown is called on an instance that has
	// already been stopped, or whose shutdown is already in progress.
	ErrStopped = errors.New("machines: already stopped")
)
