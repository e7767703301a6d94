package models

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

func TestSpeed_JSON(t *testing.T) {
	t.Run("unset speed is null", func(t *testing.T) {
		data, err := json.Marshal(Position{Lon: 1, Lat: 2, Time: 3})
		require.NoError(t, err)
		assert.JSONEq(t, `{"lon":1,"lat":2,"time":3,"speed":null}`, string(data))
	})

	t.Run("set speed round trips", func(t *testing.T) {
		var p Position
		require.NoError(t, json.Unmarshal([]byte(`{"lon":1,"lat":2,"time":3,"speed":12.5}`), &p))
		assert.Equal(t, KMH(12.5), p.Speed)

		require.NoError(t, json.Unmarshal([]byte(`{"speed":null}`), &p))
		assert.False(t, p.Speed.Valid)
	})
}

func TestSpeed_Msgpack(t *testing.T) {
	in := []Position{
		{Lon: 37.5, Lat: 55.7, Time: 1700000000, Speed: KMH(0)},
		{Lon: 37.6, Lat: 55.8, Time: 1700000010},
	}

	data, err := msgpack.Marshal(in)
	require.NoError(t, err)

	var out []Position
	require.NoError(t, msgpack.Unmarshal(data, &out))
	assert.Equal(t, in, out)
}

func TestTrackInfo_JSON(t *testing.T) {
	t.Run("non-finite average encodes as null", func(t *testing.T) {
		info := TrackInfo{AverageSpeed: math.NaN(), MinSpeed: math.MaxFloat32}
		assert.False(t, info.HasAverage())

		data, err := json.Marshal(info)
		require.NoError(t, err)
		assert.Contains(t, string(data), `"averageSpeed":null`)

		var back TrackInfo
		require.NoError(t, json.Unmarshal(data, &back))
		assert.True(t, math.IsNaN(back.AverageSpeed))
		assert.Equal(t, float64(math.MaxFloat32), back.MinSpeed)
	})

	t.Run("finite average is kept", func(t *testing.T) {
		info := TrackInfo{AverageSpeed: 42.5, Distance: 1.5, IdleCount: 2}

		data, err := json.Marshal(info)
		require.NoError(t, err)

		var back TrackInfo
		require.NoError(t, json.Unmarshal(data, &back))
		assert.Equal(t, info, back)
	})
}

func TestSpeedProfiles_Find(t *testing.T) {
	profiles := &SpeedProfiles{
		Default: "city",
		Profiles: []SpeedProfile{
			{Name: "city", LimitKmh: 60},
			{Name: "highway", LimitKmh: 110},
		},
	}

	p, ok := profiles.Find("highway")
	assert.True(t, ok)
	assert.Equal(t, 110.0, p.LimitKmh)

	p, ok = profiles.DefaultProfile()
	assert.True(t, ok)
	assert.Equal(t, "city", p.Name)

	_, ok = profiles.Find("missing")
	assert.False(t, ok)

	var empty *SpeedProfiles
	_, ok = empty.DefaultProfile()
	assert.False(t, ok)
}
