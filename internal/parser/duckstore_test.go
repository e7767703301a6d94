// duckstore_test.go - Tests for DuckDB-backed position storage
package parser

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/gpx-analyzer/backend/internal/models"
)

// createTestStore creates a temporary DuckStore for testing
func createTestStore(t *testing.T) *DuckStore {
	t.Helper()
	store, err := NewDuckStore(t.TempDir(), "test", DefaultDuckStoreOptions())
	if err != nil {
		t.Fatalf("Failed to create DuckStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

// fillStore adds n positions one second apart starting at base; every third
// position has no speed.
func fillStore(t *testing.T, store *DuckStore, base int64, n int) []models.Position {
	t.Helper()
	want := make([]models.Position, 0, n)
	for i := 0; i < n; i++ {
		p := models.Position{Lon: 37 + float64(i)*0.001, Lat: 55, Time: base + int64(i)}
		if i%3 != 0 {
			p.Speed = models.KMH(float64(i))
		}
		store.AddPosition(p)
		want = append(want, p)
	}
	if err := store.Finalize(); err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}
	return want
}

func TestNewDuckStore(t *testing.T) {
	t.Run("creates database file", func(t *testing.T) {
		tempDir := t.TempDir()
		store, err := NewDuckStore(tempDir, "file_test", DuckStoreOptions{})
		if err != nil {
			t.Fatalf("Failed to create store: %v", err)
		}

		dbPath := filepath.Join(tempDir, "session_file_test.duckdb")
		if _, err := os.Stat(dbPath); os.IsNotExist(err) {
			t.Errorf("Expected database file at %s", dbPath)
		}

		store.Close()
		if _, err := os.Stat(dbPath); !os.IsNotExist(err) {
			t.Errorf("Expected Close to remove %s", dbPath)
		}
	})
}

func TestDuckStore_AllRoundTrip(t *testing.T) {
	store := createTestStore(t)
	want := fillStore(t, store, 1700000000, 10)

	if store.Len() != 10 {
		t.Fatalf("Expected 10 positions, got %d", store.Len())
	}

	got, err := store.All(context.Background())
	if err != nil {
		t.Fatalf("All failed: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("Expected %d positions, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("position %d: expected %+v, got %+v", i, want[i], got[i])
		}
	}
}

func TestDuckStore_KeepsInsertionOrder(t *testing.T) {
	store := createTestStore(t)

	// a gap boundary is stored one second before the fix that follows it
	in := []models.Position{
		{Lon: 1, Lat: 1, Time: 100, Speed: models.KMH(0)},
		{Lon: 2, Lat: 2, Time: 199, Speed: models.KMH(0)},
		{Lon: 2, Lat: 2, Time: 200, Speed: models.KMH(5)},
	}
	for _, p := range in {
		store.AddPosition(p)
	}
	if err := store.Finalize(); err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}

	got, err := store.All(context.Background())
	if err != nil {
		t.Fatalf("All failed: %v", err)
	}
	for i := range in {
		if got[i] != in[i] {
			t.Errorf("position %d: expected %+v, got %+v", i, in[i], got[i])
		}
	}
}

func TestDuckStore_GetPositions(t *testing.T) {
	store := createTestStore(t)
	want := fillStore(t, store, 1700000000, 25)
	ctx := context.Background()

	tests := []struct {
		name   string
		offset int
		limit  int
		first  int
		count  int
	}{
		{"first page", 0, 10, 0, 10},
		{"middle page", 10, 10, 10, 10},
		{"last partial page", 20, 10, 20, 5},
		{"past the end", 30, 10, 0, 0},
		{"zero limit", 0, 0, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := store.GetPositions(ctx, tt.offset, tt.limit)
			if err != nil {
				t.Fatalf("GetPositions failed: %v", err)
			}
			if len(got) != tt.count {
				t.Fatalf("Expected %d positions, got %d", tt.count, len(got))
			}
			for i, p := range got {
				if p != want[tt.first+i] {
					t.Errorf("position %d: expected %+v, got %+v", i, want[tt.first+i], p)
				}
			}
		})
	}
}

func TestDuckStore_GetWindow(t *testing.T) {
	store := createTestStore(t)
	fillStore(t, store, 1000, 100)
	ctx := context.Background()

	got, err := store.GetWindow(ctx, 1010, 1019)
	if err != nil {
		t.Fatalf("GetWindow failed: %v", err)
	}
	if len(got) != 10 {
		t.Fatalf("Expected 10 positions, got %d", len(got))
	}
	if got[0].Time != 1010 || got[9].Time != 1019 {
		t.Errorf("Expected inclusive window 1010..1019, got %d..%d", got[0].Time, got[9].Time)
	}

	got, err = store.GetWindow(ctx, 2000, 1000)
	if err != nil {
		t.Fatalf("GetWindow failed: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("Expected empty result for inverted window, got %d", len(got))
	}
}

func TestDuckStore_TimeRange(t *testing.T) {
	store := createTestStore(t)
	if store.GetTimeRange() != nil {
		t.Error("Expected nil time range for empty store")
	}

	fillStore(t, store, 1700000000, 5)
	tr := store.GetTimeRange()
	if tr == nil {
		t.Fatal("Expected time range")
	}
	if tr.Start.Unix() != 1700000000 || tr.End.Unix() != 1700000004 {
		t.Errorf("Unexpected time range %v - %v", tr.Start, tr.End)
	}
}

func TestDuckStore_BatchFlush(t *testing.T) {
	store := createTestStore(t)
	store.batchSize = 7

	want := fillStore(t, store, 1, 30)
	if store.LastError() != nil {
		t.Fatalf("Unexpected flush error: %v", store.LastError())
	}

	got, err := store.All(context.Background())
	if err != nil {
		t.Fatalf("All failed: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("Expected %d positions, got %d", len(want), len(got))
	}
	if got[29] != want[29] {
		t.Errorf("Expected %+v, got %+v", want[29], got[29])
	}
}

func TestDuckStore_CancelledContext(t *testing.T) {
	store := createTestStore(t)
	fillStore(t, store, 1, 3)

	// hold every query slot so the next caller has to wait
	for i := 0; i < cap(store.querySem); i++ {
		store.querySem <- struct{}{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := store.All(ctx); err == nil {
		t.Error("Expected error for cancelled context")
	}
}
