package manager

import (
	"errors"
	"fmt"
)

// Errors returned by connection acquisition.
var (
	// ErrUnknownEndpoint means the endpoint id was never registered.
	ErrUnknownEndpoint = errors.New("unknown endpoint")
	// ErrCircuitOpen means the endpoint's circuit breaker is rejecting work.
	ErrCircuitOpen = errors.New("circuit open")
	// ErrNoHealthyEndpoints means every registered endpoint was tried and
	// none produced a connection.
	ErrNoHealthyEndpoints = errors.New("no healthy endpoints available")
	// ErrManagerClosed means the manager has been stopped.
	ErrManagerClosed = errors.New("connection manager closed")
)

// FactoryError wraps a connection factory failure with the endpoint it was
// dialing.
type FactoryError struct {
	EndpointID string
	Err        error
}

func (e *FactoryError) Error() string {
	return fmt.Sprintf("connect endpoint %q: %v", e.EndpointID, e.Err)
}

func (e *FactoryError) Unwrap() error { return e.Err }
