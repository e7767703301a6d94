package track

import (
	"bytes"
	"errors"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gpx-analyzer/backend/internal/geodesy"
	"github.com/gpx-analyzer/backend/internal/models"
	"github.com/gpx-analyzer/backend/internal/parser"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const t0 = int64(1700000000)

func fix(lon, lat float64, ts int64) models.Position {
	return models.Position{Lon: lon, Lat: lat, Time: ts}
}

func TestAssemble_DegenerateInput(t *testing.T) {
	assert.NotNil(t, Assemble(nil))
	assert.Empty(t, Assemble(nil))
	assert.Empty(t, Assemble([]models.Position{fix(1, 1, t0)}))
}

func TestAssemble_ThreeFixes(t *testing.T) {
	raw := []models.Position{
		fix(0, 0, t0),
		fix(0, 0.001, t0+10),
		fix(0, 0.002, t0+20),
	}

	out := Assemble(raw)
	require.Len(t, out, 3)

	first := geodesy.SpeedBetween(raw[0], raw[1])
	second := geodesy.SpeedBetween(raw[1], raw[2])
	assert.Equal(t, models.KMH(first), out[0].Speed)
	assert.Equal(t, models.KMH(second), out[1].Speed)
	assert.Equal(t, out[1].Speed, out[2].Speed, "last fix repeats the previous speed")
	assert.InDelta(t, 40.0, first, 0.1)

	for _, p := range raw {
		assert.False(t, p.Speed.Valid, "input must not be modified")
	}
}

func TestAssemble_SortsStably(t *testing.T) {
	raw := []models.Position{
		fix(3, 0, t0+20),
		fix(1, 0, t0),
		fix(2, 0, t0+10),
		fix(4, 0, t0+10),
	}

	out := Assemble(raw)
	require.Len(t, out, 4)

	lons := []float64{out[0].Lon, out[1].Lon, out[2].Lon, out[3].Lon}
	assert.Equal(t, []float64{1, 2, 4, 3}, lons)
	assert.Equal(t, 3.0, raw[0].Lon, "input order is kept")

	// equal times give a zero interval and zero speed
	assert.Equal(t, 0.0, out[1].Speed.KMH)
}

func TestAssemble_Gap(t *testing.T) {
	raw := []models.Position{
		fix(10, 50, t0),
		fix(10.5, 50.5, t0+3600),
	}

	out := Assemble(raw)
	require.Len(t, out, 3)

	assert.Equal(t, t0, out[0].Time)
	assert.Equal(t, models.KMH(0), out[0].Speed)

	boundary := out[1]
	assert.Equal(t, t0+3599, boundary.Time)
	assert.Equal(t, 10.5, boundary.Lon)
	assert.Equal(t, 50.5, boundary.Lat)
	assert.Equal(t, models.KMH(0), boundary.Speed)

	assert.Equal(t, t0+3600, out[2].Time)
	assert.Equal(t, models.KMH(0), out[2].Speed)

	assert.Equal(t, 1, GapCount(raw))
}

func TestAssemble_GapThresholdIsExclusive(t *testing.T) {
	raw := []models.Position{
		fix(0, 0, t0),
		fix(0, 0.001, t0+GapThreshold),
		fix(0, 0.002, t0+2*GapThreshold+1),
	}

	out := Assemble(raw)
	require.Len(t, out, 4)
	assert.Greater(t, out[0].Speed.KMH, 0.0, "exactly 60 s is not a gap")
	assert.Equal(t, 0.0, out[1].Speed.KMH)
	assert.Equal(t, t0+2*GapThreshold, out[2].Time)
	assert.Equal(t, 1, GapCount(raw))
}

func TestAssemble_Properties(t *testing.T) {
	raw := []models.Position{
		fix(37.60, 55.75, t0+100),
		fix(37.61, 55.75, t0),
		fix(37.62, 55.76, t0+30),
		fix(37.62, 55.76, t0+30),
		fix(37.63, 55.77, t0+500),
		fix(37.64, 55.78, t0+510),
		fix(37.70, 55.70, t0+9000),
	}

	out := Assemble(raw)
	assert.Len(t, out, len(raw)+GapCount(raw))

	for i, p := range out {
		require.True(t, p.Speed.Valid, "position %d", i)
		assert.GreaterOrEqual(t, p.Speed.KMH, 0.0, "position %d", i)
		assert.False(t, math.IsNaN(p.Speed.KMH) || math.IsInf(p.Speed.KMH, 0), "position %d", i)
	}

	for i := 1; i < len(out); i++ {
		assert.GreaterOrEqual(t, out[i].Time, out[i-1].Time, "position %d", i)
	}
}

func TestCalculate_ThreeFixes(t *testing.T) {
	raw := []models.Position{
		fix(0, 0, t0),
		fix(0, 0.001, t0+10),
		fix(0, 0.002, t0+20),
	}
	positions := Assemble(raw)

	info, err := Calculate(positions, 5)
	require.NoError(t, err)

	wantDistance := geodesy.Distance(raw[0], raw[1]) + geodesy.Distance(raw[1], raw[2])
	assert.InDelta(t, wantDistance, info.Distance, 1e-12)
	assert.InDelta(t, 0.2222, info.Distance, 1e-3)
	assert.Equal(t, int64(20), info.DriveDuration)
	assert.Equal(t, int64(0), info.IdleDuration)
	assert.Equal(t, 0, info.IdleCount)
	assert.Equal(t, int64(20), info.OverSpeedDuration)
	assert.Equal(t, 1, info.OverSpeedCount, "one contiguous over-speed run")
	assert.InDelta(t, wantDistance/(20.0/3600.0), info.AverageSpeed, 1e-9)
	assert.InDelta(t, positions[0].Speed.KMH, info.MaxSpeed, 1e-9)
	assert.Equal(t, 5.0, info.SpeedLimit)
}

func TestCalculate_GapScenario(t *testing.T) {
	positions := Assemble([]models.Position{
		fix(10, 50, t0),
		fix(10.5, 50.5, t0+3600),
	})

	info, err := Calculate(positions, 60)
	require.NoError(t, err)

	assert.Equal(t, int64(3600), info.IdleDuration)
	assert.Equal(t, 1, info.IdleCount)
	assert.Equal(t, int64(0), info.DriveDuration)
	assert.Equal(t, 0.0, info.Distance)
	assert.True(t, math.IsNaN(info.AverageSpeed), "0/0 average is kept")
	assert.False(t, info.HasAverage())
	assert.Equal(t, float64(InitialMaxSpeed), info.MaxSpeed)
	assert.Equal(t, float64(InitialMinSpeed), info.MinSpeed)
}

func TestCalculate_EdgeCounting(t *testing.T) {
	sp := func(ts int64, kmh float64) models.Position {
		return fix(0, float64(ts)*0.0001, ts).WithSpeed(kmh)
	}

	positions := []models.Position{
		sp(0, 0), sp(10, 0),
		sp(20, 80), sp(30, 90),
		sp(40, 30),
		sp(50, 70),
		sp(60, 0), sp(70, 0),
		sp(80, 100),
		sp(90, 100),
	}

	info, err := Calculate(positions, 50)
	require.NoError(t, err)

	assert.Equal(t, 2, info.IdleCount)
	assert.Equal(t, int64(40), info.IdleDuration)
	// only a drive interval under the limit clears the over-speed edge, so the
	// run after the second idle period is not counted again
	assert.Equal(t, 2, info.OverSpeedCount)
	assert.Equal(t, int64(40), info.OverSpeedDuration)
	assert.Equal(t, int64(50), info.DriveDuration)
	assert.Equal(t, 100.0, info.MaxSpeed)
	assert.Equal(t, 30.0, info.MinSpeed)
}

func TestCalculate_NegativeLimit(t *testing.T) {
	positions := []models.Position{
		fix(0, 0, 0).WithSpeed(0),
		fix(0, 0, 10).WithSpeed(0),
	}

	info, err := Calculate(positions, -1)
	require.NoError(t, err)
	assert.Equal(t, 0, info.OverSpeedCount, "idle intervals are never over the limit")
	assert.Equal(t, 1, info.IdleCount)
}

func TestCalculate_InvalidData(t *testing.T) {
	tests := []struct {
		name      string
		positions []models.Position
		index     int
		message   string
	}{
		{
			name: "negative interior speed",
			positions: []models.Position{
				fix(0, 0, 0).WithSpeed(10),
				fix(0, 0, 10).WithSpeed(-1),
				fix(0, 0, 20).WithSpeed(10),
			},
			index:   1,
			message: "-1 km/h",
		},
		{
			name: "unset speed",
			positions: []models.Position{
				fix(0, 0, 0),
				fix(0, 0, 10).WithSpeed(10),
			},
			index:   0,
			message: "speed not set",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info, err := Calculate(tt.positions, 50)
			assert.Nil(t, info, "no partial report")
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidData))

			var speedErr *InvalidSpeedError
			require.True(t, errors.As(err, &speedErr))
			assert.Equal(t, tt.index, speedErr.Index)
			assert.Contains(t, err.Error(), "invalid data: negative speed encountered")
			assert.Contains(t, err.Error(), tt.message)
		})
	}

	t.Run("last position is not checked", func(t *testing.T) {
		_, err := Calculate([]models.Position{
			fix(0, 0, 0).WithSpeed(0),
			fix(0, 0, 10).WithSpeed(-5),
		}, 50)
		assert.NoError(t, err)
	})
}

func TestCalculate_FewerThanTwo(t *testing.T) {
	for _, positions := range [][]models.Position{nil, {fix(0, 0, 1).WithSpeed(5)}} {
		info, err := Calculate(positions, 50)
		require.NoError(t, err)
		assert.Equal(t, &models.TrackInfo{
			SpeedLimit: 50,
			MaxSpeed:   InitialMaxSpeed,
			MinSpeed:   InitialMinSpeed,
		}, info)
	}
}

func TestCalculate_Idempotent(t *testing.T) {
	positions := Assemble([]models.Position{
		fix(37.60, 55.75, t0),
		fix(37.61, 55.75, t0+15),
		fix(37.61, 55.75, t0+30),
		fix(37.65, 55.76, t0+200),
		fix(37.66, 55.77, t0+210),
	})

	first, err := Calculate(positions, 40)
	require.NoError(t, err)
	second, err := Calculate(positions, 40)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		seconds int64
		want    string
	}{
		{0, "00"},
		{5, "05"},
		{60, "01:00"},
		{61, "01:01"},
		{3600, "01:00:00"},
		{3725, "01:02:05"},
		{86399, "23:59:59"},
		{86400, "1d 00:00:00"},
		{90061, "1d 01:01:01"},
		{30 * 86400, "1mo 0d 00:00:00"},
		{65*86400 + 5, "2mo 5d 00:00:05"},
		{-61, "-01:01"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatDuration(tt.seconds))
		})
	}
}

func TestSummarize(t *testing.T) {
	raw := []models.Position{
		fix(37.60, 55.75, t0),
		fix(37.61, 55.76, t0+30),
		fix(37.62, 55.74, t0+3630),
	}
	positions := Assemble(raw)

	s := Summarize(positions, GapCount(raw))
	assert.Equal(t, 4, s.Points)
	assert.Equal(t, 1, s.GapCount)
	assert.Equal(t, t0, s.StartTime)
	assert.Equal(t, t0+3630, s.EndTime)
	assert.Equal(t, int64(3630), s.Duration)
	assert.Equal(t, "01:00:30", s.DurationText)
	require.NotNil(t, s.Bounds)
	assert.InDelta(t, 55.74, s.Bounds.MinLat, 1e-9)
	assert.InDelta(t, 55.76, s.Bounds.MaxLat, 1e-9)
	assert.InDelta(t, s.PlanarKm, s.GreatCircleKm, s.PlanarKm*0.01)
	assert.False(t, s.ComputedAt.IsZero())

	empty := Summarize(nil, 0)
	assert.Equal(t, 0, empty.Points)
	assert.Nil(t, empty.Bounds)
	assert.Equal(t, "00", empty.DurationText)
}

const sampleGPX = `<?xml version="1.0" encoding="UTF-8"?>
<gpx version="1.1" creator="tracker">
<trk><trkseg>
<trkpt lat="55.750000" lon="37.600000"><time>2023-11-14T22:13:20Z</time></trkpt>
<trkpt lon="37.601000"><time>2023-11-14T22:13:30Z</time></trkpt>
<trkpt lat="55.750500" lon="37.601000"><time>2023-11-14T22:13:30Z</time></trkpt>
<trkpt lat="55.751000" lon="37.602000"><time>2023-11-14T22:13:40Z</time></trkpt>
<trkpt lat="55.760000" lon="37.650000"><time>2023-11-14T23:13:40Z</time></trkpt>
</trkseg></trk>
</gpx>`

// streamOnly exposes nothing but Read.
type streamOnly struct {
	r io.Reader
}

func (s streamOnly) Read(p []byte) (int, error) {
	return s.r.Read(p)
}

func writeTrack(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestReadFile(t *testing.T) {
	positions, err := ReadFile(writeTrack(t, "ride.gpx", sampleGPX))
	require.NoError(t, err)

	// 4 valid fixes plus one gap boundary; the fix without lat is gone
	require.Len(t, positions, 5)
	for _, p := range positions {
		assert.NotZero(t, p.Lat)
	}
	assert.Equal(t, 55.7505, positions[1].Lat)
	assert.Equal(t, positions[3].Time+1, positions[4].Time)
}

func TestRead_Errors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := ReadFile(filepath.Join(t.TempDir(), "missing.gpx"))
		assert.Error(t, err)
	})

	t.Run("unknown size", func(t *testing.T) {
		_, err := Read(streamOnly{strings.NewReader(sampleGPX)})
		assert.ErrorIs(t, err, parser.ErrUnknownSize)
	})

	t.Run("in-memory reader", func(t *testing.T) {
		positions, err := Read(bytes.NewReader([]byte(sampleGPX)))
		require.NoError(t, err)
		assert.Len(t, positions, 5)
	})

	t.Run("no track-points", func(t *testing.T) {
		positions, err := Read(strings.NewReader("<gpx></gpx>"))
		require.NoError(t, err)
		assert.NotNil(t, positions)
		assert.Empty(t, positions)
	})
}

func TestAnalyze(t *testing.T) {
	a, err := Analyze(writeTrack(t, "ride.gpx", sampleGPX), 20)
	require.NoError(t, err)

	assert.Equal(t, 4, a.Fixes)
	assert.Equal(t, 1, a.Skipped)
	assert.Equal(t, 5, a.Positions)
	assert.Equal(t, 1, a.Summary.GapCount)
	assert.Equal(t, int64(3600), a.Info.IdleDuration)
	assert.Equal(t, int64(20), a.Info.DriveDuration)
	assert.Equal(t, "01:00:20", a.Summary.DurationText)
}
