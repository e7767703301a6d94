package parser

import (
	"bytes"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gpx-analyzer/backend/internal/models"
)

var (
	openTrkpt  = []byte("<trkpt")
	closeTrkpt = []byte("</trkpt")
)

// Skip reasons recorded for dropped track-points.
const (
	ReasonMissingLon     = "missing or invalid lon attribute"
	ReasonMissingLat     = "missing or invalid lat attribute"
	ReasonMissingTime    = "missing time tag"
	ReasonMalformedTime  = "malformed time value"
	ReasonEpochTime      = "time at epoch"
	ReasonNonChronologic = "non-chronological time"
)

const (
	// maxSkipDetails caps the diagnostics kept per scan; Skipped still counts all.
	maxSkipDetails = 100
	excerptLen     = 80
	progressEvery  = 10000
)

// Scanner extracts fixes from GPX-like text without parsing the document
// structure. It locates "<trkpt" markers by substring search, reads the lon and
// lat attributes and the nested tags of each element, and yields fixes in file
// order. Malformed elements are skipped and scanning continues after their
// marker. A Scanner is forward-only and cannot be restarted.
//
//	sc := parser.NewScanner(data)
//	for sc.Scan() {
//		fix := sc.Fix()
//	}
type Scanner struct {
	data    []byte
	idx     int   // just past the last "<trkpt" marker
	last    int64 // time of the last accepted fix
	fix     models.Position
	markers int
	skipped int
	details []*models.ParseError
}

// NewScanner returns a Scanner over data. The caller must not modify data while
// scanning.
func NewScanner(data []byte) *Scanner {
	return &Scanner{data: data}
}

// Scan advances to the next accepted fix. It returns false at the end of input.
func (s *Scanner) Scan() bool {
	for {
		rel := bytes.Index(s.data[s.idx:], openTrkpt)
		if rel < 0 {
			s.idx = len(s.data)
			return false
		}
		marker := s.idx + rel
		s.idx = marker + len(openTrkpt)
		s.markers++

		fix, reason := s.element(s.idx)
		if reason == "" && fix.Time <= s.last {
			reason = ReasonNonChronologic
		}
		if reason != "" {
			s.skip(marker, reason)
			continue
		}

		s.last = fix.Time
		s.fix = fix
		return true
	}
}

// Fix returns the fix found by the last successful Scan.
func (s *Scanner) Fix() models.Position {
	return s.fix
}

// Offset returns the number of bytes scanned so far.
func (s *Scanner) Offset() int {
	return s.idx
}

// Markers returns how many track-point markers have been seen.
func (s *Scanner) Markers() int {
	return s.markers
}

// Skipped returns the number of dropped track-points.
func (s *Scanner) Skipped() int {
	return s.skipped
}

// SkipDetails returns diagnostics for the first dropped track-points.
func (s *Scanner) SkipDetails() []*models.ParseError {
	return s.details
}

func (s *Scanner) skip(offset int, reason string) {
	s.skipped++
	if len(s.details) >= maxSkipDetails {
		return
	}
	end := offset + excerptLen
	if end > len(s.data) {
		end = len(s.data)
	}
	s.details = append(s.details, &models.ParseError{
		Offset:  offset,
		Content: strings.ToValidUTF8(string(s.data[offset:end]), ""),
		Reason:  reason,
	})
}

// element reads one track-point whose attributes start at start. It returns a
// non-empty reason when the element has to be skipped.
func (s *Scanner) element(start int) (models.Position, string) {
	var fix models.Position

	// attributes end at the first '>' after the marker
	attrEnd := indexFrom(s.data, '>', start, len(s.data))
	if attrEnd < 0 {
		attrEnd = len(s.data)
	}

	lon, ok := s.attribute("lon", start, attrEnd)
	if !ok {
		return fix, ReasonMissingLon
	}
	lat, ok := s.attribute("lat", start, attrEnd)
	if !ok {
		return fix, ReasonMissingLat
	}

	end := len(s.data)
	if rel := bytes.Index(s.data[start:], closeTrkpt); rel >= 0 {
		end = start + rel
	}

	tags := s.tags(start, end)
	value, ok := tags["time"]
	if !ok {
		return fix, ReasonMissingTime
	}
	ts, ok := FixTime(value)
	if !ok {
		return fix, ReasonMalformedTime
	}
	if ts == 0 {
		return fix, ReasonEpochTime
	}

	fix.Lon, fix.Lat, fix.Time = lon, lat, ts
	return fix, ""
}

// attribute reads name="value" between start and end as a finite float.
func (s *Scanner) attribute(name string, start, end int) (float64, bool) {
	rel := bytes.Index(s.data[start:end], []byte(name))
	if rel < 0 {
		return 0, false
	}
	open := indexFrom(s.data, '"', start+rel+len(name), end)
	if open < 0 {
		return 0, false
	}
	closing := indexFrom(s.data, '"', open+1, end)
	if closing < 0 {
		return 0, false
	}

	v, err := strconv.ParseFloat(string(trim(s.data[open+1:closing])), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// tags collects "<name>value" pairs between start and end into a map. Closing
// tags are skipped; a later tag with the same name overwrites an earlier one.
// An opening '<' without a matching '>' ends the scan.
func (s *Scanner) tags(start, end int) map[string]string {
	tags := make(map[string]string, 4)
	i := start
	for {
		lt := indexFrom(s.data, '<', i, end)
		if lt < 0 {
			return tags
		}
		i = lt + 1
		if i < end && s.data[i] == '/' {
			continue
		}

		gt := indexFrom(s.data, '>', i, end)
		if gt < 0 {
			return tags
		}
		name := string(trim(s.data[i:gt]))

		next := indexFrom(s.data, '<', gt+1, end)
		if next < 0 {
			next = end
		}
		tags[name] = string(trim(s.data[gt+1 : next]))
		i = next
	}
}

// indexFrom returns the index of c in data[from:end], or -1.
func indexFrom(data []byte, c byte, from, end int) int {
	if from >= end {
		return -1
	}
	rel := bytes.IndexByte(data[from:end], c)
	if rel < 0 {
		return -1
	}
	return from + rel
}

// GPXParser reads GPX track-points into raw fixes.
type GPXParser struct{}

// NewGPXParser creates a new GPX parser.
func NewGPXParser() *GPXParser {
	return &GPXParser{}
}

// Name returns the parser name.
func (p *GPXParser) Name() string {
	return "gpx"
}

// CanParse accepts .gpx and .gpx.gz files, and otherwise sniffs the first 4 KiB
// for a <gpx or <trkpt marker. Uploaded files are stored without extension.
func (p *GPXParser) CanParse(filePath string) (bool, error) {
	name := strings.ToLower(filepath.Base(filePath))
	if strings.HasSuffix(name, ".gpx") || strings.HasSuffix(name, ".gpx.gz") {
		return true, nil
	}

	f, err := os.Open(filePath)
	if err != nil {
		return false, err
	}
	defer f.Close()

	head := make([]byte, 4096)
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return false, err
	}
	head = head[:n]

	if IsGzip(head) {
		// a truncated member still decodes far enough to sniff the header
		if plain, err := gunzipPrefix(head); err == nil {
			head = plain
		}
	}

	return bytes.Contains(head, []byte("<gpx")) || bytes.Contains(head, openTrkpt), nil
}

// Parse parses the entire file.
func (p *GPXParser) Parse(filePath string) (*models.ParsedTrack, []*models.ParseError, error) {
	return p.ParseWithProgress(filePath, nil)
}

// ParseWithProgress reads the whole file, then scans it, reporting progress every
// 10 000 track-point markers.
func (p *GPXParser) ParseWithProgress(filePath string, onProgress ProgressCallback) (*models.ParsedTrack, []*models.ParseError, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	data, err := ReadSource(f)
	if err != nil {
		return nil, nil, err
	}

	track, skipped := ScanAll(data, onProgress)
	return track, skipped, nil
}

// ScanAll runs a Scanner to the end of data.
func ScanAll(data []byte, onProgress ProgressCallback) (*models.ParsedTrack, []*models.ParseError) {
	result := models.NewParsedTrack()
	total := int64(len(data))

	sc := NewScanner(data)
	reported := 0
	for sc.Scan() {
		result.Add(sc.Fix())
		if onProgress != nil && sc.Markers()-reported >= progressEvery {
			reported = sc.Markers()
			onProgress(len(result.Fixes), int64(sc.Offset()), total)
		}
	}
	if onProgress != nil {
		onProgress(len(result.Fixes), total, total)
	}

	result.Skipped = sc.Skipped()
	return result, sc.SkipDetails()
}
