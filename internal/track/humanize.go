package track

import (
	"fmt"
	"strings"
)

// FormatDuration renders seconds as zero-padded "HH:MM:SS" groups, dropping
// leading zero groups: 61 -> "01:01", 3600 -> "01:00:00". A day count prefixes
// the groups once the duration reaches a day ("1d 02:00:00"), and months of 30
// days are added from then on ("1mo 2d 00:00:05"). Zero is "00".
func FormatDuration(seconds int64) string {
	if seconds < 0 {
		return "-" + FormatDuration(-seconds)
	}

	secs := seconds % 60
	mins := seconds / 60 % 60
	hours := seconds / 3600 % 24
	days := seconds / 86400

	var b strings.Builder
	switch {
	case days >= 30:
		fmt.Fprintf(&b, "%dmo %dd ", days/30, days%30)
	case days > 0:
		fmt.Fprintf(&b, "%dd ", days)
	}

	for _, v := range []int64{hours, mins, secs} {
		if v > 0 || b.Len() > 0 {
			fmt.Fprintf(&b, "%02d:", v)
		}
	}

	if b.Len() == 0 {
		return "00"
	}
	return strings.TrimSuffix(b.String(), ":")
}
