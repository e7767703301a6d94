package parser

import (
	"sort"

	"github.com/gpx-analyzer/backend/internal/models"
)

// MergeConfig configures the merge behavior.
type MergeConfig struct {
	// DropDuplicates removes a fix when the fix before it in the merged
	// order has the same time and coordinates, as happens when two recordings
	// of the same trip overlap.
	DropDuplicates bool
}

// DefaultMergeConfig returns the default merge configuration.
func DefaultMergeConfig() MergeConfig {
	return MergeConfig{DropDuplicates: true}
}

// MergeTracks combines the raw fixes of several parsed files into one track.
// Fixes are stably ordered by time, so equal times keep their file order.
// Skipped counts are summed.
func MergeTracks(tracks []*models.ParsedTrack, config MergeConfig) *models.ParsedTrack {
	result := models.NewParsedTrack()
	if len(tracks) == 0 {
		return result
	}

	if len(tracks) == 1 {
		result.Fixes = tracks[0].Fixes
		result.Skipped = tracks[0].Skipped
		result.TimeRange = tracks[0].TimeRange
		return result
	}

	total := 0
	for _, t := range tracks {
		total += len(t.Fixes)
		result.Skipped += t.Skipped
	}

	all := make([]models.Position, 0, total)
	for _, t := range tracks {
		all = append(all, t.Fixes...)
	}

	sort.SliceStable(all, func(i, j int) bool {
		return all[i].Time < all[j].Time
	})

	if config.DropDuplicates {
		all = dropDuplicateFixes(all)
	}

	result.Fixes = all
	if len(all) > 0 {
		result.TimeRange = &models.TimeRange{
			Start: all[0].Timestamp(),
			End:   all[len(all)-1].Timestamp(),
		}
	}
	return result
}

// dropDuplicateFixes removes adjacent fixes with identical time and
// coordinates. The input must be sorted by time.
func dropDuplicateFixes(fixes []models.Position) []models.Position {
	if len(fixes) <= 1 {
		return fixes
	}

	out := make([]models.Position, 0, len(fixes))
	out = append(out, fixes[0])
	for _, p := range fixes[1:] {
		prev := out[len(out)-1]
		if p.Time == prev.Time && p.Lon == prev.Lon && p.Lat == prev.Lat {
			continue
		}
		out = append(out, p)
	}
	return out
}
