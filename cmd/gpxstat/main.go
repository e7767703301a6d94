// Command gpxstat prints the statistics report of one or more GPX files.
//
//	gpxstat -limit 60 ride.gpx commute.gpx.gz
//	gpxstat -profile profiles.yaml -use city -json ride.gpx
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/gpx-analyzer/backend/internal/parser"
	"github.com/gpx-analyzer/backend/internal/track"
	"github.com/labstack/gommon/bytes"
	"github.com/labstack/gommon/log"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		log.Fatalf("gpxstat: %v", err)
	}
}

func run(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("gpxstat", flag.ContinueOnError)
	limit := fs.Float64("limit", 60, "Speed limit in km/h")
	asJSON := fs.Bool("json", false, "Print reports as JSON")
	profilesPath := fs.String("profile", "", "YAML file with speed profiles")
	use := fs.String("use", "", "Profile to take the limit from (default: the file's default profile)")
	verbose := fs.Bool("v", false, "Log skipped track-points")
	if err := fs.Parse(args); err != nil {
		return err
	}

	files := fs.Args()
	if len(files) == 0 {
		fs.Usage()
		return fmt.Errorf("usage: gpxstat [flags] <track.gpx> ...")
	}
	if *verbose {
		log.SetLevel(log.DEBUG)
	}

	speedLimit := *limit
	if *profilesPath != "" {
		l, err := profileLimit(*profilesPath, *use)
		if err != nil {
			return err
		}
		speedLimit = l
	}

	var reports []*track.Analysis
	for _, path := range files {
		a, err := track.Analyze(path, speedLimit)
		if err != nil {
			return err
		}
		reports = append(reports, a)
	}

	if *asJSON {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(reports)
	}

	for i, a := range reports {
		if i > 0 {
			fmt.Fprintln(stdout)
		}
		printReport(stdout, a)
	}
	return nil
}

func profileLimit(path, name string) (float64, error) {
	profiles, err := parser.ParseSpeedProfiles(path)
	if err != nil {
		return 0, fmt.Errorf("reading profiles: %w", err)
	}
	if name == "" {
		p, ok := profiles.DefaultProfile()
		if !ok {
			return 0, fmt.Errorf("%s has no default profile; pass -use", path)
		}
		return p.LimitKmh, nil
	}
	p, ok := profiles.Find(name)
	if !ok {
		return 0, fmt.Errorf("profile %q not found in %s", name, path)
	}
	return p.LimitKmh, nil
}

func printReport(w io.Writer, a *track.Analysis) {
	size := "?"
	if st, err := os.Stat(a.Path); err == nil {
		size = bytes.Format(st.Size())
	}
	info := a.Info

	fmt.Fprintf(w, "%s (%s)\n", a.Path, size)
	fmt.Fprintf(w, "  fixes:       %d (%d skipped), %d positions, %d gaps\n", a.Fixes, a.Skipped, a.Positions, a.Summary.GapCount)
	fmt.Fprintf(w, "  duration:    %s\n", a.Summary.DurationText)
	fmt.Fprintf(w, "  distance:    %.3f km\n", info.Distance)
	if info.HasAverage() {
		fmt.Fprintf(w, "  speed:       avg %.1f, min %.1f, max %.1f km/h\n", info.AverageSpeed, info.MinSpeed, info.MaxSpeed)
	} else {
		fmt.Fprintf(w, "  speed:       no movement\n")
	}
	fmt.Fprintf(w, "  driving:     %s\n", track.FormatDuration(info.DriveDuration))
	fmt.Fprintf(w, "  idle:        %s in %d stops\n", track.FormatDuration(info.IdleDuration), info.IdleCount)
	fmt.Fprintf(w, "  over %g:  %s in %d periods\n", info.SpeedLimit, track.FormatDuration(info.OverSpeedDuration), info.OverSpeedCount)
}
