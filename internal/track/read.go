package track

import (
	"fmt"
	"io"
	"os"

	"github.com/gpx-analyzer/backend/internal/models"
	"github.com/gpx-analyzer/backend/internal/parser"
	"github.com/labstack/gommon/log"
)

// ReadFile reads a GPX file (optionally gzip-compressed) and returns its
// assembled track.
func ReadFile(path string) ([]models.Position, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening track: %w", err)
	}
	defer f.Close()

	return Read(f)
}

// Read loads r and returns its assembled track. The size of r must be known up
// front (files, in-memory readers); streams fail with parser.ErrUnknownSize.
//
// A panic while scanning or assembling is logged and yields an empty track
// with a nil error.
func Read(r io.Reader) ([]models.Position, error) {
	res, err := load(r)
	if err != nil {
		return nil, err
	}
	if res == nil {
		return []models.Position{}, nil
	}
	return res.assembled, nil
}

// loaded is the outcome of one read: the raw scan and its assembly.
type loaded struct {
	raw       *models.ParsedTrack
	assembled []models.Position
}

func load(r io.Reader) (out *loaded, err error) {
	data, err := parser.ReadSource(r)
	if err != nil {
		return nil, err
	}

	defer func() {
		if rec := recover(); rec != nil {
			log.Errorf("track: recovered while reading %d bytes: %v", len(data), rec)
			out, err = nil, nil
		}
	}()

	raw, _ := parser.ScanAll(data, nil)
	if raw.Skipped > 0 {
		log.Debugf("track: skipped %d malformed track-points", raw.Skipped)
	}
	return &loaded{raw: raw, assembled: Assemble(raw.Fixes)}, nil
}

// Analysis is the full report for one track file.
type Analysis struct {
	Path      string              `json:"path"`
	Fixes     int                 `json:"fixes"`
	Skipped   int                 `json:"skipped"`
	Positions int                 `json:"positions"`
	Info      *models.TrackInfo   `json:"info"`
	Summary   models.TrackSummary `json:"summary"`
}

// Analyze reads, assembles and evaluates the track at path against speedLimit
// (km/h).
func Analyze(path string, speedLimit float64) (*Analysis, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening track: %w", err)
	}
	defer f.Close()

	res, err := load(f)
	if err != nil {
		return nil, err
	}

	a := &Analysis{Path: path}
	var positions []models.Position
	gaps := 0
	if res != nil {
		a.Fixes = len(res.raw.Fixes)
		a.Skipped = res.raw.Skipped
		positions = res.assembled
		gaps = GapCount(res.raw.Fixes)
	}
	a.Positions = len(positions)

	a.Info, err = Calculate(positions, speedLimit)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	a.Summary = Summarize(positions, gaps)
	return a, nil
}
