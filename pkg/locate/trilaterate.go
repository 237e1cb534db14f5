package locate

import (
	"math"

	"github.com/pkg/errors"
)

var ErrTooFewAnchors = errors.New("at least two anchors are needed for a fix")

// Point is a position on the lawn in metres.
type Point struct {
	X float64 `yaml:"x"`
	Y float64 `yaml:"y"`
}

func (p Point) Sub(q Point) Point {
	return Point{p.X - q.X, p.Y - q.Y}
}

func (p Point) Dist(q Point) float64 {
	return math.Hypot(p.X-q.X, p.Y-q.Y)
}

// Trilaterate estimates the tag position from ranges to known anchors.  With three or more
// anchors the range equations are linearised against the first anchor and solved by least
// squares.  With exactly two the circles are intersected and the solution to the left of
// the first-to-second anchor baseline is used.
func Trilaterate(anchors []Point, ranges []float64) (Point, error) {
	if len(anchors) != len(ranges) {
		return Point{}, errors.Errorf("%d anchors but %d ranges", len(anchors), len(ranges))
	}
	switch {
	case len(anchors) < 2:
		return Point{}, ErrTooFewAnchors
	case len(anchors) == 2:
		return intersect(anchors[0], anchors[1], ranges[0], ranges[1])
	}

	// Row i: 2(xi-x0)x + 2(yi-y0)y = r0²-ri² + xi²-x0² + yi²-y0²
	// Accumulate the 2x2 normal equations AᵀA p = Aᵀb.
	a0, r0 := anchors[0], ranges[0]
	var sxx, sxy, syy, sxb, syb float64
	for i := 1; i < len(anchors); i++ {
		ai, ri := anchors[i], ranges[i]
		ax := 2 * (ai.X - a0.X)
		ay := 2 * (ai.Y - a0.Y)
		b := r0*r0 - ri*ri + ai.X*ai.X - a0.X*a0.X + ai.Y*ai.Y - a0.Y*a0.Y
		sxx += ax * ax
		sxy += ax * ay
		syy += ay * ay
		sxb += ax * b
		syb += ay * b
	}
	det := sxx*syy - sxy*sxy
	if math.Abs(det) < 1e-9 {
		return Point{}, errors.New("anchors are collinear")
	}
	return Point{
		X: (syy*sxb - sxy*syb) / det,
		Y: (sxx*syb - sxy*sxb) / det,
	}, nil
}

func intersect(a0, a1 Point, r0, r1 float64) (Point, error) {
	d := a0.Dist(a1)
	if d < 1e-9 {
		return Point{}, errors.New("anchors coincide")
	}
	ux, uy := (a1.X-a0.X)/d, (a1.Y-a0.Y)/d
	along := (r0*r0 - r1*r1 + d*d) / (2 * d)
	// Ranges that do not quite meet still give the point on the baseline.
	h := math.Sqrt(math.Max(0, r0*r0-along*along))
	return Point{
		X: a0.X + along*ux - h*uy,
		Y: a0.Y + along*uy + h*ux,
	}, nil
}
