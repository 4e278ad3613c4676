package porosity

import "image"

// Porosities groups the porosity measurements of one cross-section image.
// Total and ByFoamPores are the values matched against the user targets;
// ByTracks is the intermediate measurement taken before foam pores are drawn.
type Porosities struct {
	Total       float64 `json:"total" yaml:"total"`
	ByFoamPores float64 `json:"by_foam_pores" yaml:"by_foam_pores"`
	ByTracks    float64 `json:"by_tracks,omitempty" yaml:"by_tracks,omitempty"`
}

// Meter describes the behaviour required from a porosity measurement.
// Measure returns the percentage (0..100) of pixels counted as pore area.
type Meter interface {
	Measure(img *image.Gray) float64
	Name() string
}
