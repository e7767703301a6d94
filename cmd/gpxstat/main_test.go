package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Two fixes 10 s apart, about 72 m: roughly 26 km/h.
const rideGPX = `<?xml version="1.0"?>
<gpx version="1.1"><trk><trkseg>
<trkpt lat="50.0" lon="10.0"><time>2023-11-14T22:13:20Z</time></trkpt>
<trkpt lat="50.0" lon="10.001"><time>2023-11-14T22:13:30Z</time></trkpt>
</trkseg></trk></gpx>`

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestRun_Text(t *testing.T) {
	path := writeTemp(t, "ride.gpx", rideGPX)

	var out bytes.Buffer
	require.NoError(t, run([]string{"-limit", "20", path}, &out))

	text := out.String()
	assert.Contains(t, text, path)
	assert.Contains(t, text, "2 positions")
	assert.Contains(t, text, "over 20:  10 in 1 periods")
}

func TestRun_JSONWithProfile(t *testing.T) {
	path := writeTemp(t, "ride.gpx", rideGPX)
	profiles := writeTemp(t, "profiles.yaml", "default: city\nprofiles:\n  - name: city\n    limitKmh: 50\n  - name: walk\n    limitKmh: 6\n")

	tests := []struct {
		name      string
		use       string
		wantLimit float64
		wantOver  int64
	}{
		{"default profile", "", 50, 0},
		{"named profile", "walk", 6, 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := []string{"-json", "-profile", profiles}
			if tt.use != "" {
				args = append(args, "-use", tt.use)
			}
			args = append(args, path)

			var out bytes.Buffer
			require.NoError(t, run(args, &out))

			var reports []struct {
				Positions int `json:"positions"`
				Info      struct {
					SpeedLimit        float64 `json:"speedLimit"`
					OverSpeedDuration int64   `json:"overSpeedDuration"`
				} `json:"info"`
			}
			require.NoError(t, json.Unmarshal(out.Bytes(), &reports))
			require.Len(t, reports, 1)
			assert.Equal(t, 2, reports[0].Positions)
			assert.Equal(t, tt.wantLimit, reports[0].Info.SpeedLimit)
			assert.Equal(t, tt.wantOver, reports[0].Info.OverSpeedDuration)
		})
	}
}

func TestRun_Errors(t *testing.T) {
	path := writeTemp(t, "ride.gpx", rideGPX)
	profiles := writeTemp(t, "profiles.yaml", "profiles:\n  - name: city\n    limitKmh: 50\n")

	tests := []struct {
		name string
		args []string
	}{
		{"no files", nil},
		{"missing file", []string{filepath.Join(t.TempDir(), "nope.gpx")}},
		{"no default profile", []string{"-profile", profiles, path}},
		{"unknown profile", []string{"-profile", profiles, "-use", "autobahn", path}},
		{"bad flag", []string{"-limit", "fast", path}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			assert.Error(t, run(tt.args, &out))
		})
	}
}
