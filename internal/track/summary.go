package track

import (
	"time"

	"github.com/gpx-analyzer/backend/internal/geodesy"
	"github.com/gpx-analyzer/backend/internal/models"
)

// Summarize describes the extent of an assembled track. gaps is the number of
// boundary fixes Assemble inserted, as returned by GapCount.
func Summarize(positions []models.Position, gaps int) models.TrackSummary {
	summary := models.TrackSummary{
		Points:     len(positions),
		GapCount:   gaps,
		ComputedAt: time.Now().UTC(),
	}
	if len(positions) == 0 {
		summary.DurationText = FormatDuration(0)
		return summary
	}

	summary.StartTime = positions[0].Time
	summary.EndTime = positions[len(positions)-1].Time
	summary.Duration = summary.EndTime - summary.StartTime
	summary.DurationText = FormatDuration(summary.Duration)
	summary.Bounds = geodesy.BBox(positions)
	summary.PlanarKm = geodesy.PathPlanarKm(positions)
	summary.GreatCircleKm = geodesy.PathGreatCircleKm(positions)
	return summary
}
