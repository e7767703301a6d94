// Package track turns raw fixes into an assembled track and derives its
// statistics.
package track

import (
	"sort"

	"github.com/gpx-analyzer/backend/internal/geodesy"
	"github.com/gpx-analyzer/backend/internal/models"
)

// GapThreshold is the longest interval, in seconds, between two fixes that is
// still treated as continuous movement.
const GapThreshold = 60

// Assemble sorts raw fixes by time and assigns each one the speed needed to
// reach the next. Where two fixes are more than GapThreshold seconds apart the
// earlier one gets speed 0 and a zero-speed copy of the later one is inserted
// one second before it, so the gap counts as idle time. The last fix repeats
// the speed of the fix before it.
//
// raw is not modified. Fewer than two fixes yield an empty slice.
func Assemble(raw []models.Position) []models.Position {
	if len(raw) < 2 {
		return []models.Position{}
	}

	sorted := sortedCopy(raw)

	out := make([]models.Position, 0, len(sorted)+8)
	for i := 0; i < len(sorted)-1; i++ {
		cur, next := sorted[i], sorted[i+1]
		if next.Time-cur.Time > GapThreshold {
			boundary := next.WithSpeed(0)
			boundary.Time--
			out = append(out, cur.WithSpeed(0), boundary)
			continue
		}
		out = append(out, cur.WithSpeed(geodesy.SpeedBetween(cur, next)))
	}

	last := sorted[len(sorted)-1]
	out = append(out, last.WithSpeed(out[len(out)-1].Speed.KMH))
	return out
}

// GapCount returns how many boundary fixes Assemble inserts for raw.
func GapCount(raw []models.Position) int {
	if len(raw) < 2 {
		return 0
	}

	sorted := sortedCopy(raw)
	gaps := 0
	for i := 1; i < len(sorted); i++ {
		if sorted[i].Time-sorted[i-1].Time > GapThreshold {
			gaps++
		}
	}
	return gaps
}

func sortedCopy(raw []models.Position) []models.Position {
	sorted := make([]models.Position, len(raw))
	copy(sorted, raw)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Time < sorted[j].Time
	})
	return sorted
}
