// Package backend defines the boundary to the external solver service. The
// gateway treats the solver as opaque: it forwards the calculation request
// and relays the streamed updates without interpreting their contents.
package backend

import (
	"context"
	"errors"

	"github.com/wellsolve/calcgateway/internal/model"
)

// Client streams calculation updates from the solver backend.
type Client interface {
	// Calculate sends the request and invokes onEvent for every update as it
	// arrives, returning once the stream ends. A stream that terminated with
	// a Result or Error event returns nil; transport failures return a
	// *StreamError, and context cancellation or expiry returns the context's
	// error.
	Calculate(ctx context.Context, calculationID string, req model.CalculationRequest, onEvent func(model.ProgressEvent)) error
}

// StreamError is a transport-level failure of a Calculate call. Started
// records whether any event was delivered before the failure; callers use it
// to decide whether the call is safe to retry (retrying a stream that already
// emitted events would duplicate partial progress).
type StreamError struct {
	Started bool
	Err     error
}

func (e *StreamError) Error() string {
	if e.Started {
		return "solver stream failed mid-calculation: " + e.Err.Error()
	}
	return "solver stream failed: " + e.Err.Error()
}

func (e *StreamError) Unwrap() error { return e.Err }

// Started reports whether err is a stream failure that occurred after at
// least one event was delivered.
func Started(err error) bool {
	var se *StreamError
	return errors.As(err, &se) && se.Started
}
