package porosity

import "errors"

var (
	// ErrUnknownMeter is returned when a config file names a porosity
	// function that this implementation does not provide.
	ErrUnknownMeter = errors.New("unknown porosity function name")
)
