// Package synth generates synthetic cross-section images of additively
// manufactured foam. Light elliptical tracks of extruded material sit on an
// extruder grid over a dark background, with small dark foam pores scattered
// inside the tracks. Generation iterates until the measured porosities match
// the user's targets.
package synth

import (
	"context"
	"fmt"
	"image"
	"math"
	"math/rand/v2"

	"go.uber.org/zap"

	"github.com/amflab/foamgen/internal/canvas"
	"github.com/amflab/foamgen/internal/porosity"
	"github.com/amflab/foamgen/internal/shape"
)

// DefaultMaxIterations caps the adapt-and-redraw loop when no cap is
// configured.
const DefaultMaxIterations = 250

// Generator runs the iterative image synthesis.
// A Generator is not safe for concurrent use; create one per run.
type Generator struct {
	logger        *zap.Logger
	rng           *rand.Rand
	maxIterations int
}

// Option configures a Generator.
type Option func(*Generator)

// WithRand sets the randomness source, primarily for reproducible runs.
func WithRand(rng *rand.Rand) Option {
	return func(g *Generator) {
		g.rng = rng
	}
}

// WithSeed derives a deterministic randomness source from a seed.
func WithSeed(seed uint64) Option {
	return func(g *Generator) {
		g.rng = rand.New(rand.NewPCG(seed, seed))
	}
}

// WithMaxIterations overrides the iteration cap.
func WithMaxIterations(n int) Option {
	return func(g *Generator) {
		if n > 0 {
			g.maxIterations = n
		}
	}
}

// New creates a Generator.
func New(logger *zap.Logger, opts ...Option) *Generator {
	g := &Generator{
		logger:        logger,
		maxIterations: DefaultMaxIterations,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.logger == nil {
		g.logger = zap.NewNop()
	}
	if g.rng == nil {
		g.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return g
}

// Result is an accepted image together with its measured porosities and the
// parameters that produced it.
type Result struct {
	Image      *image.Gray
	Porosities porosity.Porosities
	Iterations int
	Parameters Parameters
}

// Generate draws images until both the total and the foam pore porosity are
// within their margins of the targets. The parameters are adapted in place
// between iterations, so the caller sees the final state. Returns
// ErrNoConvergence when the iteration cap is reached, or the context error
// when ctx ends between iterations.
func (g *Generator) Generate(ctx context.Context, uc UserConfig, params *Parameters) (*Result, error) {
	if err := uc.Validate(); err != nil {
		return nil, err
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	layerWidth := uc.LayerWidth()

	for iteration := 1; ; iteration++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		c := canvas.New(params.ImageWidth, params.ImageHeight)
		tracks, pores := g.layout(uc, params, layerWidth)

		for _, track := range tracks {
			c.Fill(track, canvas.LightShade)
		}
		byTracks := params.Meter.Measure(c.Gray())

		for _, pore := range pores {
			c.Fill(pore, canvas.DarkShade)
		}
		img := c.Gray()
		total := params.Meter.Measure(img)

		actual := porosity.Porosities{
			Total:       total,
			ByFoamPores: total - byTracks,
			ByTracks:    byTracks,
		}

		totalOK := porosity.InMargin(uc.Desired.Total, actual.Total, params.TotalPorosityMargin)
		foamOK := porosity.InMargin(uc.Desired.ByFoamPores, actual.ByFoamPores, params.FoamPoreMargin)
		if totalOK && foamOK {
			g.logger.Info("porosity targets met",
				zap.Int("iterations", iteration),
				zap.Float64("total", actual.Total),
				zap.Float64("by_foam_pores", actual.ByFoamPores),
			)
			return &Result{
				Image:      img,
				Porosities: actual,
				Iterations: iteration,
				Parameters: *params,
			}, nil
		}

		if iteration >= g.maxIterations {
			return nil, fmt.Errorf(
				"%w after %d iterations: total %.2f (want %.2f±%.1f), foam pores %.2f (want %.2f±%.1f)",
				ErrNoConvergence, iteration,
				actual.Total, uc.Desired.Total, params.TotalPorosityMargin,
				actual.ByFoamPores, uc.Desired.ByFoamPores, params.FoamPoreMargin,
			)
		}

		params.Adapt(uc.Desired, actual)
		g.logger.Debug("porosity outside margin, adapting parameters",
			zap.Int("iteration", iteration),
			zap.Float64("total", actual.Total),
			zap.Float64("total_target", uc.Desired.Total),
			zap.Float64("by_foam_pores", actual.ByFoamPores),
			zap.Float64("foam_target", uc.Desired.ByFoamPores),
			zap.Float64("track_mean_width", params.TrackMeanWidth),
			zap.Float64("pore_mean_diameter", params.PoreMeanDiameter),
		)
	}
}

// layout places track and pore outlines for one iteration. Nothing is drawn
// here; the caller fills the blobs in paint order.
func (g *Generator) layout(uc UserConfig, p *Parameters, layerWidth int) (tracks, pores []*shape.Blob) {
	for x := 0; x < p.ImageWidth; x += layerWidth {
		for y := 0; y < p.ImageHeight; y += uc.LayerHeight {
			widthVar := p.TrackMeanWidth * p.TrackWidthVariation
			trackWidth := uniformInt(g.rng,
				int(math.Floor(p.TrackMeanWidth-widthVar)),
				int(math.Ceil(p.TrackMeanWidth+widthVar)))

			heightVar := p.TrackMeanHeight * p.TrackHeightVariation
			trackHeight := uniformInt(g.rng,
				int(math.Floor(p.TrackMeanHeight-heightVar)),
				int(math.Ceil(p.TrackMeanHeight+heightVar)))

			cx := float64(p.XOffset+x) + g.rng.NormFloat64()*p.TrackXScatter
			cy := float64(p.YOffset+y) + g.rng.NormFloat64()*p.TrackYScatter
			tracks = append(tracks, shape.New(g.rng, cx, cy, float64(trackWidth), float64(trackHeight)))

			if uc.Desired.ByFoamPores == 0 {
				continue
			}

			count := uniformInt(g.rng,
				p.PoresPerTrack-p.PoresPerTrackVariation,
				p.PoresPerTrack+p.PoresPerTrackVariation)
			for i := 0; i < count; i++ {
				deviation := math.Round(p.PoreMeanDiameter * p.PoreDiameterVariation)
				low := p.PoreMeanDiameter - deviation
				high := p.PoreMeanDiameter + deviation

				poreWidth := math.Max(1, normalRange(g.rng, low, high))
				poreHeight := math.Max(1, normalRange(g.rng, low, high))

				px := float64(p.XOffset+x) + g.rng.NormFloat64()*p.PoreCenterScatter
				py := float64(p.YOffset+y) + g.rng.NormFloat64()*p.PoreCenterScatter
				pores = append(pores, shape.New(g.rng, px, py, poreWidth, poreHeight))
			}
		}
	}
	return tracks, pores
}
