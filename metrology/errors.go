package metrology

import (
	"errors"
	"fmt"
)

// PredictionError means the engine could not produce a trustworthy number:
// no snapshot loaded, a schema mismatch, or a non-finite model output.
// The engine fails rather than returning extrapolated garbage.
type PredictionError struct {
	Op  string
	Err error
}

func (e *PredictionError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("prediction failed during %s", e.Op)
	}
	return fmt.Sprintf("prediction failed during %s: %v", e.Op, e.Err)
}

func (e *PredictionError) Unwrap() error { return e.Err }

// InsufficientDataError reports a training or drift request with too few
// runs to be meaningful.
type InsufficientDataError struct {
	Got  int
	Need int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("insufficient data: got %d runs, need at least %d", e.Got, e.Need)
}

// ErrTrainingBusy is returned when a training job is already in flight.
// Overlapping requests fail fast instead of queuing silently.
var ErrTrainingBusy = errors.New("a training job is already in progress")
