// Package geodesy converts pairs of fixes into approximate distances and speeds.
//
// Distances use a local planar approximation: the longitude difference is scaled
// by the cosine of the mean latitude and degrees are converted to metres with a
// fixed ratio derived from the meridian circumference.
package geodesy

import (
	"math"

	"github.com/gpx-analyzer/backend/internal/models"
)

const (
	// MeridianLength is the length of a meridian in metres.
	MeridianLength = 40007860.0

	// OneMeter is one metre expressed in degrees of latitude (~9e-6).
	OneMeter = 360.0 / MeridianLength
)

// pi is a variable so the degree factor is rounded in float64 arithmetic.
var (
	pi       = math.Pi
	piFactor = pi / 180.0
)

// degrees returns the planar distance between a and b in latitude degrees.
func degrees(a, b models.Position) float64 {
	cosY := math.Cos((a.Lat + b.Lat) / 2 * piFactor)
	dx := (a.Lon - b.Lon) * cosY
	dy := a.Lat - b.Lat
	// explicit conversions keep the compiler from fusing into an FMA
	return math.Sqrt(float64(dx*dx) + float64(dy*dy))
}

// degreesToMeters never returns a negative value.
func degreesToMeters(deg float64) float64 {
	m := deg / OneMeter
	if m > 0 {
		return m
	}
	return 0
}

// DistanceMeters returns the approximate surface distance between a and b in metres.
func DistanceMeters(a, b models.Position) float64 {
	return degreesToMeters(degrees(a, b))
}

// Distance returns the approximate surface distance between a and b in kilometres.
func Distance(a, b models.Position) float64 {
	return DistanceMeters(a, b) / 1000.0
}

// SpeedBetween returns the speed in km/h needed to move from one fix to the other.
// Zero elapsed time yields 0, not an infinite speed.
func SpeedBetween(from, to models.Position) float64 {
	dt := to.Time - from.Time
	if dt < 0 {
		dt = -dt
	}
	if dt == 0 {
		return 0
	}
	return DistanceMeters(from, to) * 3.6 / float64(dt)
}
