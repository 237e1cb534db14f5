package locate

import "math"

// Heading is a direction in degrees, counter-clockwise from the +x axis, in (-180, 180].
type Heading float64

func wrapDegrees(d float64) Heading {
	d = math.Mod(d, 360)
	switch {
	case d <= -180:
		d += 360
	case d > 180:
		d -= 360
	}
	return Heading(d)
}

// Direction is the heading of p taken as a vector from the origin.
func (p Point) Direction() Heading {
	return wrapDegrees(math.Atan2(p.Y, p.X) * 180 / math.Pi)
}

// TurnFrom is the shortest signed turn from h to target; positive is counter-clockwise.
func (h Heading) TurnFrom(target Heading) float64 {
	return float64(wrapDegrees(float64(target) - float64(h)))
}
