package synth

import "errors"

var (
	// ErrInvalidConfig is returned when the user configuration cannot span a
	// drawable track grid.
	ErrInvalidConfig = errors.New("invalid generation config")
	// ErrNoConvergence is returned when the porosity targets are still
	// outside their margins after the iteration cap.
	ErrNoConvergence = errors.New("porosity targets not reached")
)
