package catalog

import (
	"context"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/gpx-analyzer/backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestCatalog(t *testing.T) *Catalog {
	t.Helper()
	c, err := Open(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func testFile(id string, uploaded time.Time) *models.FileInfo {
	return &models.FileInfo{
		ID:         id,
		Name:       id + ".gpx",
		Size:       1024,
		UploadedAt: uploaded,
		Status:     models.FileStatusUploaded,
	}
}

func TestCatalog_Files(t *testing.T) {
	c := openTestCatalog(t)
	ctx := context.Background()
	now := time.Now().Truncate(time.Millisecond)

	require.NoError(t, c.UpsertFile(ctx, testFile("a", now.Add(-time.Hour))))
	require.NoError(t, c.UpsertFile(ctx, testFile("b", now)))

	renamed := testFile("a", now.Add(-time.Hour))
	renamed.Name = "morning.gpx"
	renamed.Compressed = true
	require.NoError(t, c.UpsertFile(ctx, renamed))

	files, err := c.ListFiles(ctx)
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "b", files[0].ID, "newest first")
	assert.Equal(t, "morning.gpx", files[1].Name)
	assert.True(t, files[1].Compressed)
	assert.True(t, now.Equal(files[0].UploadedAt))

	require.NoError(t, c.DeleteFile(ctx, "b"))
	assert.ErrorIs(t, c.DeleteFile(ctx, "b"), ErrNotFound)

	files, err = c.ListFiles(ctx)
	require.NoError(t, err)
	assert.Len(t, files, 1)
}

func TestCatalog_Reports(t *testing.T) {
	c := openTestCatalog(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, c.UpsertFile(ctx, testFile("a", now)))
	require.NoError(t, c.UpsertFile(ctx, testFile("b", now)))

	first := &models.ReportRecord{
		SessionID:  "s1",
		FileIDs:    []string{"a"},
		SpeedLimit: 60,
		Report:     models.TrackInfo{SpeedLimit: 60, AverageSpeed: 42, Distance: 12.5, IdleCount: 3},
		CreatedAt:  now.Add(-time.Minute),
	}
	require.NoError(t, c.SaveReport(ctx, first))
	assert.NotZero(t, first.ID)

	merged := &models.ReportRecord{
		SessionID:  "s2",
		FileIDs:    []string{"a", "b"},
		SpeedLimit: 90,
		Report:     models.TrackInfo{SpeedLimit: 90, AverageSpeed: math.NaN(), MinSpeed: math.MaxFloat32},
	}
	require.NoError(t, c.SaveReport(ctx, merged))

	reports, err := c.ListReports(ctx, "a", 0)
	require.NoError(t, err)
	require.Len(t, reports, 2)

	assert.Equal(t, "s2", reports[0].SessionID, "newest first")
	assert.ElementsMatch(t, []string{"a", "b"}, reports[0].FileIDs)
	assert.True(t, math.IsNaN(reports[0].Report.AverageSpeed), "non-finite average survives storage")

	assert.Equal(t, first.Report, reports[1].Report)
	assert.Equal(t, []string{"a"}, reports[1].FileIDs)

	limited, err := c.ListReports(ctx, "a", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	onlyB, err := c.ListReports(ctx, "b", 0)
	require.NoError(t, err)
	assert.Len(t, onlyB, 1)
}

func TestCatalog_DeleteFileCascadesReports(t *testing.T) {
	c := openTestCatalog(t)
	ctx := context.Background()

	require.NoError(t, c.UpsertFile(ctx, testFile("a", time.Now())))
	require.NoError(t, c.UpsertFile(ctx, testFile("b", time.Now())))

	require.NoError(t, c.SaveReport(ctx, &models.ReportRecord{SessionID: "s1", FileIDs: []string{"a"}}))
	require.NoError(t, c.SaveReport(ctx, &models.ReportRecord{SessionID: "s2", FileIDs: []string{"a", "b"}}))

	require.NoError(t, c.DeleteFile(ctx, "a"))

	var count int
	require.NoError(t, c.conn.QueryRow("SELECT COUNT(*) FROM reports").Scan(&count))
	assert.Equal(t, 1, count, "the merged report still belongs to b")

	reports, err := c.ListReports(ctx, "b", 0)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, []string{"b"}, reports[0].FileIDs)
}

func TestCatalog_ReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.db")
	ctx := context.Background()

	c, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, c.UpsertFile(ctx, testFile("a", time.Now())))
	require.NoError(t, c.Close())

	c, err = Open(path)
	require.NoError(t, err)
	defer c.Close()

	files, err := c.ListFiles(ctx)
	require.NoError(t, err)
	assert.Len(t, files, 1)
}
