// Package models contains domain types for the GPX track analyzer.
package models

import (
	"encoding/json"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// Speed is a derived speed in km/h. The zero value means the speed has not been
// assigned yet.
type Speed struct {
	KMH   float64
	Valid bool
}

// KMH returns a valid Speed.
func KMH(v float64) Speed {
	return Speed{KMH: v, Valid: true}
}

// MarshalJSON encodes an unset speed as null.
func (s Speed) MarshalJSON() ([]byte, error) {
	if !s.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(s.KMH)
}

func (s *Speed) UnmarshalJSON(data []byte) error {
	var v *float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	if v == nil {
		*s = Speed{}
		return nil
	}
	*s = KMH(*v)
	return nil
}

// EncodeMsgpack writes nil for an unset speed.
func (s Speed) EncodeMsgpack(enc *msgpack.Encoder) error {
	if !s.Valid {
		return enc.EncodeNil()
	}
	return enc.EncodeFloat64(s.KMH)
}

func (s *Speed) DecodeMsgpack(dec *msgpack.Decoder) error {
	var v *float64
	if err := dec.Decode(&v); err != nil {
		return err
	}
	if v == nil {
		*s = Speed{}
		return nil
	}
	*s = KMH(*v)
	return nil
}

// Position is a single GPS fix. Time is in seconds since the Unix epoch, UTC.
type Position struct {
	Lon   float64 `json:"lon" msgpack:"lon"`
	Lat   float64 `json:"lat" msgpack:"lat"`
	Time  int64   `json:"time" msgpack:"time"`
	Speed Speed   `json:"speed" msgpack:"speed"`
}

// WithSpeed returns a copy of p carrying the given speed.
func (p Position) WithSpeed(kmh float64) Position {
	p.Speed = KMH(kmh)
	return p
}

// Timestamp returns the fix time as a UTC time.Time.
func (p Position) Timestamp() time.Time {
	return time.Unix(p.Time, 0).UTC()
}

// ParsedTrack is the raw output of a track parser: fixes in file order, before
// sorting and speed derivation.
type ParsedTrack struct {
	Fixes     []Position `json:"fixes"`
	Skipped   int        `json:"skipped"`
	TimeRange *TimeRange `json:"timeRange,omitempty"`
}

// TimeRange represents a time window.
type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// NewParsedTrack creates a new empty ParsedTrack.
func NewParsedTrack() *ParsedTrack {
	return &ParsedTrack{
		Fixes: make([]Position, 0),
	}
}

// Add appends a fix and widens the time range.
func (t *ParsedTrack) Add(p Position) {
	t.Fixes = append(t.Fixes, p)
	ts := p.Timestamp()
	if t.TimeRange == nil {
		t.TimeRange = &TimeRange{Start: ts, End: ts}
		return
	}
	if ts.Before(t.TimeRange.Start) {
		t.TimeRange.Start = ts
	}
	if ts.After(t.TimeRange.End) {
		t.TimeRange.End = ts
	}
}
