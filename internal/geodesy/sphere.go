package geodesy

import (
	"github.com/golang/geo/s2"
	"github.com/gpx-analyzer/backend/internal/models"
)

// EarthRadiusKm is the mean Earth radius used for great-circle lengths.
const EarthRadiusKm = 6371.0088

func latLng(p models.Position) s2.LatLng {
	return s2.LatLngFromDegrees(p.Lat, p.Lon)
}

// GreatCircleKm returns the great-circle distance between a and b in kilometres.
func GreatCircleKm(a, b models.Position) float64 {
	return latLng(a).Distance(latLng(b)).Radians() * EarthRadiusKm
}

// PathGreatCircleKm sums the great-circle length of consecutive fixes.
func PathGreatCircleKm(positions []models.Position) float64 {
	var total float64
	for i := 1; i < len(positions); i++ {
		total += GreatCircleKm(positions[i-1], positions[i])
	}
	return total
}

// PathPlanarKm sums the planar Distance of consecutive fixes.
func PathPlanarKm(positions []models.Position) float64 {
	var total float64
	for i := 1; i < len(positions); i++ {
		total += Distance(positions[i-1], positions[i])
	}
	return total
}

// Bounds returns the smallest latitude/longitude rectangle containing every fix.
// An empty input yields an empty rectangle.
func Bounds(positions []models.Position) s2.Rect {
	rect := s2.EmptyRect()
	for _, p := range positions {
		rect = rect.AddPoint(latLng(p))
	}
	return rect
}

// BBox converts the bounds of positions into a models.BBox. It returns nil for an
// empty input.
func BBox(positions []models.Position) *models.BBox {
	rect := Bounds(positions)
	if rect.IsEmpty() {
		return nil
	}
	lo, hi, c := rect.Lo(), rect.Hi(), rect.Center()
	return &models.BBox{
		MinLat:    lo.Lat.Degrees(),
		MinLon:    lo.Lng.Degrees(),
		MaxLat:    hi.Lat.Degrees(),
		MaxLon:    hi.Lng.Degrees(),
		CenterLat: c.Lat.Degrees(),
		CenterLon: c.Lng.Degrees(),
	}
}
