package synth

import (
	"fmt"
	"math"

	"github.com/amflab/foamgen/internal/porosity"
)

// UserConfig holds the immutable per-run settings. All other generation
// parameters may change between iterations, these never do.
type UserConfig struct {
	// LayerHeight is the distance between track centres on the y-axis,
	// in pixels.
	LayerHeight int
	// LayerWidthRatio is layer width divided by layer height; together with
	// LayerHeight it spans the extruder grid.
	LayerWidthRatio float64
	// Desired are the porosity targets the generated image must match.
	Desired porosity.Porosities
	// OutputDir is where accepted images and their configs are saved.
	OutputDir string
}

// LayerWidth returns the horizontal track spacing in pixels.
func (c UserConfig) LayerWidth() int {
	return int(math.Round(float64(c.LayerHeight) * c.LayerWidthRatio))
}

// Validate checks the config before any drawing happens.
func (c UserConfig) Validate() error {
	if c.LayerHeight < 1 {
		return fmt.Errorf("%w: layer height must be positive, got %d", ErrInvalidConfig, c.LayerHeight)
	}
	if c.LayerWidthRatio <= 0 {
		return fmt.Errorf("%w: layer width ratio must be positive, got %v", ErrInvalidConfig, c.LayerWidthRatio)
	}
	if c.LayerWidth() < 1 {
		return fmt.Errorf("%w: layer width resolves to %d px", ErrInvalidConfig, c.LayerWidth())
	}
	for _, p := range []struct {
		name  string
		value float64
	}{
		{"total porosity", c.Desired.Total},
		{"foam pore porosity", c.Desired.ByFoamPores},
	} {
		if p.value < 0 || p.value > 100 {
			return fmt.Errorf("%w: desired %s must be within 0..100, got %v", ErrInvalidConfig, p.name, p.value)
		}
	}
	return nil
}

// Parameters are the mutable drawing parameters. They start from defaults (or
// a config file), get biased toward the targets by InitialParameters, and are
// nudged by Adapt after every rejected iteration.
type Parameters struct {
	// Image size in pixels.
	ImageWidth  int
	ImageHeight int

	// Accepted deviation, in percent, between desired and measured porosity.
	// An image within both margins ends the iteration.
	TotalPorosityMargin float64
	FoamPoreMargin      float64

	// Foam pore errors below this threshold adapt the pore size, larger
	// errors adapt the pore count.
	PoreAmountAdaptionThreshold float64

	// Meter measures the porosity of intermediate images.
	Meter porosity.Meter

	// Offsets move the first track centres away from the image border.
	XOffset int
	YOffset int

	// Track extents: mean value in pixels and relative variation (0..1).
	TrackMeanWidth       float64
	TrackWidthVariation  float64
	TrackMeanHeight      float64
	TrackHeightVariation float64

	// Scatter of track centres around their grid intersections, in units of
	// one standard normal deviate.
	TrackXScatter float64
	TrackYScatter float64

	// Scatter of foam pore centres around their track cell.
	PoreCenterScatter float64

	// Foam pore population per track cell.
	PoreMeanDiameter       float64
	PoreDiameterVariation  float64 // relative, in each direction
	PoresPerTrack          int
	PoresPerTrackVariation int
}

// DefaultParameters returns the baseline drawing parameters.
func DefaultParameters() Parameters {
	return Parameters{
		ImageWidth:                  1360,
		ImageHeight:                 1024,
		TotalPorosityMargin:         1.0,
		FoamPoreMargin:              2.0,
		PoreAmountAdaptionThreshold: 3.0,
		Meter:                       porosity.MeanMeter{},
		XOffset:                     25,
		YOffset:                     10,
		TrackMeanWidth:              50,
		TrackWidthVariation:         0.2,
		TrackMeanHeight:             40,
		TrackHeightVariation:        0.08,
		TrackXScatter:               5,
		TrackYScatter:               4,
		PoreCenterScatter:           50.0 / 3.0,
		PoreMeanDiameter:            5,
		PoreDiameterVariation:       0.8,
		PoresPerTrack:               8,
		PoresPerTrackVariation:      4,
	}
}

// Validate checks that the parameters describe a drawable image.
func (p Parameters) Validate() error {
	if p.ImageWidth < 1 || p.ImageHeight < 1 {
		return fmt.Errorf("%w: image size %dx%d", ErrInvalidConfig, p.ImageWidth, p.ImageHeight)
	}
	if p.TotalPorosityMargin < 0 || p.FoamPoreMargin < 0 {
		return fmt.Errorf("%w: porosity margins must not be negative", ErrInvalidConfig)
	}
	if p.Meter == nil {
		return fmt.Errorf("%w: porosity meter is not set", ErrInvalidConfig)
	}
	if p.PoresPerTrack < 0 || p.PoresPerTrackVariation < 0 {
		return fmt.Errorf("%w: pore counts must not be negative", ErrInvalidConfig)
	}
	return nil
}

// InitialParameters derives starting parameters for a user config. It
// estimates the porosities the default grid would produce and biases pore
// size, pore count and track extents toward the targets, so the iteration
// starts close to an accepting state.
func InitialParameters(uc UserConfig) Parameters {
	p := DefaultParameters()

	layerWidth := float64(uc.LayerHeight) * uc.LayerWidthRatio
	if layerWidth <= 0 {
		return p
	}

	columns := float64(p.ImageWidth) / layerWidth
	rows := float64(p.ImageHeight) / float64(uc.LayerHeight)
	imageVolume := float64(p.ImageWidth) * float64(p.ImageHeight)

	// The 0.6 and 0.7 factors account for the elliptical shape of tracks and
	// pores, the trailing factors for overlaps between neighbours.
	trackVolume := layerWidth * float64(uc.LayerHeight) * 0.6
	estimatedByTracks := 100 - 100/imageVolume*(columns*rows*trackVolume)

	poreVolume := p.PoreMeanDiameter * p.PoreMeanDiameter * 0.7
	estimatedByPores := 100 / imageVolume * (rows * columns * poreVolume * float64(p.PoresPerTrack)) * 0.7
	estimatedTotal := estimatedByPores + estimatedByTracks*0.9

	if estimatedByPores < uc.Desired.ByFoamPores {
		// More foam pore porosity wanted, grow the pores.
		p.PoreMeanDiameter += 2
		if uc.Desired.ByFoamPores-estimatedByPores > 5 {
			p.PoresPerTrack++
			p.PoreMeanDiameter += 2
		}
		if estimatedTotal > uc.Desired.Total {
			// Less total porosity wanted at the same time, so start with
			// tracks that almost fill their grid cell.
			p.TrackMeanWidth = math.Round(layerWidth * 0.99)
			p.TrackMeanHeight = math.Round(float64(uc.LayerHeight) * 0.96)
		} else {
			p.TrackMeanWidth = math.Round(layerWidth * 0.8)
			p.TrackMeanHeight = math.Round(float64(uc.LayerHeight) * 0.8)
		}
	} else {
		p.PoreMeanDiameter -= 2
		if estimatedByPores-uc.Desired.ByFoamPores > 5 {
			p.PoresPerTrack--
		}
		if estimatedTotal > uc.Desired.Total {
			p.TrackMeanWidth = math.Round(layerWidth * 0.85)
			p.TrackMeanHeight = math.Round(float64(uc.LayerHeight) * 0.9)
		} else {
			p.TrackMeanWidth = math.Round(layerWidth * 0.8)
			p.TrackMeanHeight = math.Round(float64(uc.LayerHeight) * 0.8)
		}
	}

	return p
}

// Adapt nudges the parameters after an iteration whose measured porosities
// missed the targets. Track extents react to the total porosity error, pore
// size or pore count to the foam pore error.
func (p *Parameters) Adapt(desired, actual porosity.Porosities) {
	inFoamMargin := actual.ByFoamPores > desired.ByFoamPores-p.FoamPoreMargin &&
		actual.ByFoamPores < desired.ByFoamPores+p.FoamPoreMargin

	// With the foam porosity already settled, react to smaller total errors.
	largeStep := 10.0
	if inFoamMargin {
		largeStep = 7.0
	}

	totalDiff := actual.Total - desired.Total
	switch {
	case totalDiff > largeStep:
		p.TrackMeanWidth += 3
		p.TrackMeanHeight += 2
	case totalDiff < -largeStep:
		p.TrackMeanWidth -= 3
		p.TrackMeanHeight -= 2
	case totalDiff > 0:
		p.TrackMeanWidth++
		p.TrackMeanHeight += 0.5
	default:
		p.TrackMeanWidth--
		p.TrackMeanHeight -= 0.5
	}

	foamDiff := actual.ByFoamPores - desired.ByFoamPores
	if math.Abs(foamDiff) > p.FoamPoreMargin {
		if foamDiff > 0 {
			// Too much foam pore porosity: fewer or smaller pores.
			if foamDiff < p.PoreAmountAdaptionThreshold && p.PoresPerTrack < 10 {
				p.PoreMeanDiameter--
				if p.PoreMeanDiameter <= 0 {
					p.PoreMeanDiameter = 1
				}
			} else {
				p.PoresPerTrack--
				if p.PoresPerTrack <= 0 {
					p.PoresPerTrack = 1
					p.PoresPerTrackVariation--
					if p.PoresPerTrackVariation < 0 {
						p.PoresPerTrackVariation = 0
					}
				}
			}
		} else {
			if math.Abs(foamDiff) < p.PoreAmountAdaptionThreshold {
				p.PoreMeanDiameter++
			} else {
				p.PoresPerTrack++
			}
		}
	}

	if desired.ByFoamPores == 0 {
		p.PoresPerTrack = 0
	}

	p.PoreCenterScatter = math.Round(p.TrackMeanWidth / 3)
}
