package feature

import (
	"github.com/paulmach/orb/simplify"
)

// metersPerDegree approximates one degree of latitude
const metersPerDegree = 111320.0

// Simplifier applies Douglas-Peucker simplification to record geometry
type Simplifier struct {
	dp *simplify.DouglasPeuckerSimplifier
}

// NewSimplifier creates a simplifier with a tolerance in metres.
// A non-positive tolerance returns nil, which leaves geometry unchanged.
func NewSimplifier(toleranceMeters float64) *Simplifier {
	if toleranceMeters <= 0 {
		return nil
	}
	return &Simplifier{dp: simplify.DouglasPeucker(toleranceMeters / metersPerDegree)}
}

// Apply simplifies rec's geometry in place. Endpoints and vertex order are
// kept; lines of two or fewer vertices are untouched.
func (s *Simplifier) Apply(rec *Record) {
	if s == nil || len(rec.Geometry) <= 2 {
		return
	}
	rec.Geometry = s.dp.LineString(rec.Geometry.Clone())
}
