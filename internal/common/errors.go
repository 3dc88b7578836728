package common

import (
	"errors"
	"fmt"
)

var (
	// A new run was requested while another run holds the pipeline. The
	// rejected run never starts; it is not queued.
	ErrConcurrentRunRejected = errors.New("a run is already active for this pipeline")

	// The action could not be located or started at all, as opposed to
	// running and exiting non-zero.
	ErrActionNotFound = errors.New("action not found")
)

// An action ran to completion and signaled failure
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("action exited with non-zero status code: %d", e.Code)
}
