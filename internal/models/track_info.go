package models

import (
	"encoding/json"
	"math"
	"time"
)

// TrackInfo is the aggregate report for an assembled track.
//
// AverageSpeed is Distance divided by the drive time in hours. When no driving
// interval was observed it is NaN (0/0) or +Inf and HasAverage reports false.
// MinSpeed and MaxSpeed keep their initial extremes in that case.
type TrackInfo struct {
	SpeedLimit        float64 `json:"speedLimit" msgpack:"speedLimit"`
	AverageSpeed      float64 `json:"averageSpeed" msgpack:"averageSpeed"`
	MaxSpeed          float64 `json:"maxSpeed" msgpack:"maxSpeed"`
	MinSpeed          float64 `json:"minSpeed" msgpack:"minSpeed"`
	Distance          float64 `json:"distance" msgpack:"distance"` // km
	DriveDuration     int64   `json:"driveDuration" msgpack:"driveDuration"`
	IdleDuration      int64   `json:"idleDuration" msgpack:"idleDuration"`
	OverSpeedDuration int64   `json:"overSpeedDuration" msgpack:"overSpeedDuration"`
	IdleCount         int     `json:"idleCount" msgpack:"idleCount"`
	OverSpeedCount    int     `json:"overSpeedCount" msgpack:"overSpeedCount"`
}

// HasAverage reports whether AverageSpeed is a finite number.
func (t TrackInfo) HasAverage() bool {
	return !math.IsNaN(t.AverageSpeed) && !math.IsInf(t.AverageSpeed, 0)
}

// MarshalJSON writes a non-finite average as null; encoding/json refuses NaN.
func (t TrackInfo) MarshalJSON() ([]byte, error) {
	type plain TrackInfo
	out := struct {
		plain
		AverageSpeed *float64 `json:"averageSpeed"`
	}{plain: plain(t)}
	if t.HasAverage() {
		avg := t.AverageSpeed
		out.AverageSpeed = &avg
	}
	return json.Marshal(out)
}

func (t *TrackInfo) UnmarshalJSON(data []byte) error {
	type plain TrackInfo
	in := struct {
		*plain
		AverageSpeed *float64 `json:"averageSpeed"`
	}{plain: (*plain)(t)}
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	if in.AverageSpeed == nil {
		t.AverageSpeed = math.NaN()
	} else {
		t.AverageSpeed = *in.AverageSpeed
	}
	return nil
}

// TrackSummary describes the extent of an assembled track.
type TrackSummary struct {
	Points        int       `json:"points"`
	StartTime     int64     `json:"startTime"`
	EndTime       int64     `json:"endTime"`
	Duration      int64     `json:"duration"`
	DurationText  string    `json:"durationText"`
	Bounds        *BBox     `json:"bounds,omitempty"`
	PlanarKm      float64   `json:"planarKm"`
	GreatCircleKm float64   `json:"greatCircleKm"`
	GapCount      int       `json:"gapCount"`
	ComputedAt    time.Time `json:"computedAt"`
}

// BBox is a latitude/longitude bounding box in degrees.
type BBox struct {
	MinLat    float64 `json:"minLat"`
	MinLon    float64 `json:"minLon"`
	MaxLat    float64 `json:"maxLat"`
	MaxLon    float64 `json:"maxLon"`
	CenterLat float64 `json:"centerLat"`
	CenterLon float64 `json:"centerLon"`
}

// ReportRecord is a persisted statistics computation.
type ReportRecord struct {
	ID         int64     `json:"id"`
	SessionID  string    `json:"sessionId"`
	FileIDs    []string  `json:"fileIds"`
	SpeedLimit float64   `json:"speedLimit"`
	Report     TrackInfo `json:"report"`
	CreatedAt  time.Time `json:"createdAt"`
}
