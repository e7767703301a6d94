package parser

import (
	"bytes"
	"errors"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/gpx-analyzer/backend/internal/models"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// streamReader hides every size hint of the wrapped reader.
type streamReader struct {
	r io.Reader
}

func (s streamReader) Read(p []byte) (int, error) {
	return s.r.Read(p)
}

func gzipBytes(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write(data)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestContentSize(t *testing.T) {
	t.Run("bytes reader", func(t *testing.T) {
		r := bytes.NewReader([]byte("hello world"))
		_, _ = r.Seek(6, io.SeekStart)
		n, err := ContentSize(r)
		require.NoError(t, err)
		assert.Equal(t, int64(5), n)
	})

	t.Run("strings reader", func(t *testing.T) {
		n, err := ContentSize(strings.NewReader("abc"))
		require.NoError(t, err)
		assert.Equal(t, int64(3), n)
	})

	t.Run("seeker keeps position", func(t *testing.T) {
		path := createTestFile(t, "data", []byte("0123456789"))
		f, err := os.Open(path)
		require.NoError(t, err)
		defer f.Close()

		_, _ = f.Seek(4, io.SeekStart)
		n, err := ContentSize(f)
		require.NoError(t, err)
		assert.Equal(t, int64(6), n)

		rest, err := io.ReadAll(f)
		require.NoError(t, err)
		assert.Equal(t, "456789", string(rest))
	})

	t.Run("stream has no size", func(t *testing.T) {
		_, err := ContentSize(streamReader{strings.NewReader("abc")})
		assert.True(t, errors.Is(err, ErrUnknownSize))
	})

	t.Run("pipe has no size", func(t *testing.T) {
		pr, pw, err := os.Pipe()
		require.NoError(t, err)
		defer pr.Close()
		defer pw.Close()

		_, err = ContentSize(pr)
		assert.True(t, errors.Is(err, ErrUnknownSize))
	})
}

func TestReadSource(t *testing.T) {
	doc := gpxDoc(trkpt("1", "2", "2023-05-01T10:00:00Z"))

	t.Run("plain", func(t *testing.T) {
		data, err := ReadSource(bytes.NewReader(doc))
		require.NoError(t, err)
		assert.Equal(t, doc, data)
	})

	t.Run("gzip is decompressed", func(t *testing.T) {
		data, err := ReadSource(bytes.NewReader(gzipBytes(t, doc)))
		require.NoError(t, err)
		assert.Equal(t, doc, data)
	})

	t.Run("corrupt gzip", func(t *testing.T) {
		_, err := ReadSource(bytes.NewReader([]byte{0x1f, 0x8b, 0x00, 0x01}))
		assert.Error(t, err)
	})

	t.Run("unknown size", func(t *testing.T) {
		_, err := ReadSource(streamReader{bytes.NewReader(doc)})
		assert.ErrorIs(t, err, ErrUnknownSize)
	})

	t.Run("empty", func(t *testing.T) {
		data, err := ReadSource(bytes.NewReader(nil))
		require.NoError(t, err)
		assert.Empty(t, data)
	})
}

func TestMergeTracks(t *testing.T) {
	a := models.NewParsedTrack()
	a.Add(models.Position{Lon: 1, Lat: 1, Time: 100})
	a.Add(models.Position{Lon: 3, Lat: 3, Time: 300})
	a.Skipped = 2

	b := models.NewParsedTrack()
	b.Add(models.Position{Lon: 2, Lat: 2, Time: 200})
	b.Add(models.Position{Lon: 3, Lat: 3, Time: 300}) // same fix recorded twice
	b.Add(models.Position{Lon: 9, Lat: 9, Time: 300})
	b.Skipped = 1

	t.Run("sorted and deduplicated", func(t *testing.T) {
		merged := MergeTracks([]*models.ParsedTrack{a, b}, DefaultMergeConfig())

		times := make([]int64, 0, len(merged.Fixes))
		for _, p := range merged.Fixes {
			times = append(times, p.Time)
		}
		assert.Equal(t, []int64{100, 200, 300, 300}, times)
		assert.Equal(t, 9.0, merged.Fixes[3].Lon, "equal times keep file order")
		assert.Equal(t, 3, merged.Skipped)
		require.NotNil(t, merged.TimeRange)
		assert.Equal(t, int64(100), merged.TimeRange.Start.Unix())
		assert.Equal(t, int64(300), merged.TimeRange.End.Unix())
	})

	t.Run("duplicates kept when disabled", func(t *testing.T) {
		merged := MergeTracks([]*models.ParsedTrack{a, b}, MergeConfig{})
		assert.Len(t, merged.Fixes, 5)
	})

	t.Run("single and empty input", func(t *testing.T) {
		assert.Equal(t, a.Fixes, MergeTracks([]*models.ParsedTrack{a}, DefaultMergeConfig()).Fixes)
		assert.Empty(t, MergeTracks(nil, DefaultMergeConfig()).Fixes)
	})
}
