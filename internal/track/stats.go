package track

import (
	"errors"
	"fmt"
	"math"

	"github.com/gpx-analyzer/backend/internal/geodesy"
	"github.com/gpx-analyzer/backend/internal/models"
)

// ErrInvalidData is returned when an assembled track carries a speed that
// cannot have come out of Assemble.
var ErrInvalidData = errors.New("invalid data: negative speed encountered")

// InvalidSpeedError reports the position that failed validation.
type InvalidSpeedError struct {
	Index int
	Speed models.Speed
}

func (e *InvalidSpeedError) Error() string {
	if !e.Speed.Valid {
		return fmt.Sprintf("%v: speed not set at position %d", ErrInvalidData, e.Index)
	}
	return fmt.Sprintf("%v: %g km/h at position %d", ErrInvalidData, e.Speed.KMH, e.Index)
}

func (e *InvalidSpeedError) Unwrap() error {
	return ErrInvalidData
}

// Initial extremes of a report; they stay in place when no movement is seen.
const (
	InitialMaxSpeed = 0x1p-126 // smallest normal float32
	InitialMinSpeed = math.MaxFloat32
)

// edge flags of the idle / over-speed state machine
const (
	inIdle uint8 = 1 << iota
	inOverSpeed
)

// Calculate walks an assembled track interval by interval and aggregates
// distance, drive time, idle time and time above speedLimit (km/h). The speed of
// each interval is the speed stored on its first position. Idle and over-speed
// periods are counted once per contiguous run.
//
// A position other than the last one with a negative or unset speed fails the
// whole calculation with an error wrapping ErrInvalidData. Tracks with fewer
// than two positions yield a report holding only the initial values.
func Calculate(positions []models.Position, speedLimit float64) (*models.TrackInfo, error) {
	info := &models.TrackInfo{
		SpeedLimit: speedLimit,
		MaxSpeed:   InitialMaxSpeed,
		MinSpeed:   InitialMinSpeed,
	}

	if len(positions) < 2 {
		return info, nil
	}

	var state uint8
	for i := 0; i+1 < len(positions); i++ {
		cur, next := positions[i], positions[i+1]
		if !cur.Speed.Valid || cur.Speed.KMH < 0 {
			return nil, &InvalidSpeedError{Index: i, Speed: cur.Speed}
		}

		speed := cur.Speed.KMH
		interval := next.Time - cur.Time

		if speed > 0 {
			state &^= inIdle
			info.Distance += geodesy.Distance(cur, next)
			info.MaxSpeed = math.Max(info.MaxSpeed, speed)
			info.MinSpeed = math.Min(info.MinSpeed, speed)
			info.DriveDuration += interval

			if speed > speedLimit {
				info.OverSpeedDuration += interval
				if state&inOverSpeed == 0 {
					info.OverSpeedCount++
					state |= inOverSpeed
				}
			} else {
				state &^= inOverSpeed
			}
			continue
		}

		// speed == 0
		info.IdleDuration += interval
		if state&inIdle == 0 {
			info.IdleCount++
			state |= inIdle
		}
	}

	// NaN or +Inf without drive time; see TrackInfo.HasAverage
	info.AverageSpeed = info.Distance / (float64(info.DriveDuration) / 3600.0)
	return info, nil
}
