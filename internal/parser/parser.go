package parser

import (
	"bytes"
	"time"

	"github.com/gpx-analyzer/backend/internal/models"
)

// ProgressCallback is called periodically during parsing to report progress.
type ProgressCallback func(fixesProcessed int, bytesProcessed int64, totalBytes int64)

// Parser defines the interface for track file parsers.
type Parser interface {
	// Name returns the unique name of the parser.
	Name() string
	// CanParse returns true if this parser can handle the given file.
	CanParse(filePath string) (bool, error)
	// Parse parses the entire file and returns the raw fixes in file order.
	Parse(filePath string) (*models.ParsedTrack, []*models.ParseError, error)
	// ParseWithProgress parses with progress callbacks for large files.
	ParseWithProgress(filePath string, onProgress ProgressCallback) (*models.ParsedTrack, []*models.ParseError, error)
}

// Whitespace is the character set trimmed from tag names and values.
const Whitespace = " \t\n\r\v\f"

func trim(b []byte) []byte {
	return bytes.Trim(b, Whitespace)
}

// FixTimeLen is the exact length of an accepted track-point time value.
const FixTimeLen = 20

// FixTime parses a track-point time of the form "YYYY?MM?DD?HH?MM?SS?" where each
// "?" is any single byte, e.g. "2023-05-01T10:20:30Z". The value is read as UTC
// and returned as Unix seconds. Out-of-range fields are normalised the way
// time.Date does it.
func FixTime(s string) (int64, bool) {
	if len(s) != FixTimeLen {
		return 0, false
	}

	year := parseInt4(s[0:4])
	month := parseInt2(s[5:7])
	day := parseInt2(s[8:10])
	hour := parseInt2(s[11:13])
	min := parseInt2(s[14:16])
	sec := parseInt2(s[17:19])

	if year < 0 || month < 0 || day < 0 || hour < 0 || min < 0 || sec < 0 {
		return 0, false
	}

	return time.Date(year, time.Month(month), day, hour, min, sec, 0, time.UTC).Unix(), true
}

// parseInt2 parses a 2-digit decimal string. Returns -1 on error.
func parseInt2(s string) int {
	if len(s) != 2 {
		return -1
	}
	d1, d2 := s[0]-'0', s[1]-'0'
	if d1 > 9 || d2 > 9 {
		return -1
	}
	return int(d1)*10 + int(d2)
}

// parseInt4 parses a 4-digit decimal string. Returns -1 on error.
func parseInt4(s string) int {
	if len(s) != 4 {
		return -1
	}
	d1, d2, d3, d4 := s[0]-'0', s[1]-'0', s[2]-'0', s[3]-'0'
	if d1 > 9 || d2 > 9 || d3 > 9 || d4 > 9 {
		return -1
	}
	return int(d1)*1000 + int(d2)*100 + int(d3)*10 + int(d4)
}
