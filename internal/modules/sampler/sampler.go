// Package sampler defines the opaque sampling oracle the hybrid loop draws
// candidate bit-assignments from.
//
// A backend may be a classical surrogate simulator or real hardware behind a
// sidecar; the engine only relies on the capability contract: given a
// parameter vector of the expected shape and a positive shot count, return a
// frequency table whose counts sum to the shot count and whose keys all have
// bitstring length equal to the qubit count.
package sampler

import (
	"context"
	"fmt"
)

// Batch is one sampling outcome: bitstring -> observed frequency.
// Batches are created fresh per call and never mutated afterwards.
type Batch struct {
	Counts map[string]int
	Shots  int
}

// Sampler is the capability interface every backend implements.
type Sampler interface {
	// Sample executes the circuit described by theta for the given number of
	// shots. It must honor context cancellation: long-latency backends
	// return ctx.Err() when the caller's deadline expires.
	Sample(ctx context.Context, theta []float64, shots int) (*Batch, error)

	// NumParameters returns the parameter-vector length the backend expects.
	NumParameters() int
}

// ParameterShapeError indicates a caller/optimizer mismatch between the
// supplied parameter vector and the backend's expected shape. Fatal: it is
// never retried.
type ParameterShapeError struct {
	Expected int
	Got      int
}

func (e *ParameterShapeError) Error() string {
	return fmt.Sprintf("parameter vector has length %d, backend expects %d", e.Got, e.Expected)
}

func validateRequest(expected int, theta []float64, shots int) error {
	if shots <= 0 {
		return fmt.Errorf("shot count must be positive, got %d", shots)
	}
	if len(theta) != expected {
		return &ParameterShapeError{Expected: expected, Got: len(theta)}
	}
	return nil
}
