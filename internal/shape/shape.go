// Package shape builds the randomly perturbed ellipse outlines that make up a
// synthetic cross-section: large light "tracks" of extruded material and small
// dark foam pores. An outline is a closed chain of cubic Bezier segments whose
// control points sit on a radially perturbed unit circle, rescaled to the
// requested extents.
package shape

import (
	"math"
	"math/rand/v2"
)

// Options controls the outline construction.
type Options struct {
	// SharpEdges is the number of points the outline passes through exactly;
	// these can appear as sharp corners.
	SharpEdges int
	// Perturb is the magnitude of the radial perturbation from the unit
	// circle, between 0 and 1.
	Perturb float64
	// N0 and N1 size the control polygon: it has SharpEdges*N0 + N1 points.
	N0 int
	N1 int
}

// DefaultOptions returns the construction parameters used for both tracks and
// foam pores.
func DefaultOptions() Options {
	return Options{SharpEdges: 2, Perturb: 0.2, N0: 7, N1: 5}
}

// Point is a position in canvas coordinates.
type Point struct {
	X, Y float64
}

// Segment is one cubic Bezier segment of the outline.
type Segment struct {
	C1, C2, End Point
}

// Blob is a closed outline centred on a canvas position.
type Blob struct {
	start Point
	segs  []Segment
	tail  []Point
}

// New builds a blob with the default construction options.
func New(rng *rand.Rand, x, y, width, height float64) *Blob {
	return NewWithOptions(rng, x, y, width, height, DefaultOptions())
}

// NewWithOptions builds a blob centred on (x, y) spanning the given width and
// height. The outline is randomised from rng; equal sources produce equal
// blobs.
func NewWithOptions(rng *rand.Rand, x, y, width, height float64, o Options) *Blob {
	n := o.SharpEdges*o.N0 + o.N1
	if n < 4 {
		n = 4
	}

	verts := make([]Point, n)
	for i := range verts {
		angle := 2 * math.Pi * float64(i) / float64(n-1)
		// Radius perturbed within [1-r, 1+r).
		radius := 2*o.Perturb*rng.Float64() + 1 - o.Perturb
		verts[i] = Point{X: math.Cos(angle) * radius, Y: math.Sin(angle) * radius}
	}
	// Closing onto the first vertex instead of appending a separate closing
	// edge avoids a straight line across the outline.
	verts[n-1] = verts[0]

	scaleAxis(verts, math.Abs(width), func(p *Point) *float64 { return &p.X })
	scaleAxis(verts, math.Abs(height), func(p *Point) *float64 { return &p.Y })
	for i := range verts {
		verts[i].X += x
		verts[i].Y += y
	}

	b := &Blob{start: verts[0]}
	rest := verts[1:]
	for len(rest) >= 3 {
		b.segs = append(b.segs, Segment{C1: rest[0], C2: rest[1], End: rest[2]})
		rest = rest[3:]
	}
	b.tail = rest
	return b
}

// Start returns the first point of the outline.
func (b *Blob) Start() Point { return b.start }

// Segments returns the cubic segments of the outline in drawing order.
func (b *Blob) Segments() []Segment { return b.segs }

// Tail returns control points left over when the point count does not fill a
// whole number of cubic segments. They are drawn as straight lines before the
// outline closes.
func (b *Blob) Tail() []Point { return b.tail }

// scaleAxis rescales one coordinate of every vertex so the outline spans
// exactly the requested extent on that axis, keeping each vertex on its side
// of the centre.
func scaleAxis(verts []Point, extent float64, coord func(*Point) *float64) {
	maxV := math.Inf(-1)
	minV := math.Inf(1)
	for i := range verts {
		v := *coord(&verts[i])
		maxV = math.Max(maxV, v)
		minV = math.Min(minV, v)
	}
	span := maxV + math.Abs(minV)
	if span == 0 {
		return
	}
	for i := range verts {
		c := coord(&verts[i])
		scaled := extent * math.Abs(*c) / span
		if *c < 0 {
			scaled = -scaled
		}
		*c = scaled
	}
}
