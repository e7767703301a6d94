package parser

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gpx-analyzer/backend/internal/models"
	"github.com/marcboeker/go-duckdb"
)

// DuckStoreOptions tunes the DuckDB connection.
type DuckStoreOptions struct {
	MemoryLimit string // e.g. "1GB"
	Threads     int
}

// DefaultDuckStoreOptions returns the settings used when none are configured.
func DefaultDuckStoreOptions() DuckStoreOptions {
	return DuckStoreOptions{MemoryLimit: "1GB", Threads: 4}
}

// DuckStore keeps assembled positions in a temporary DuckDB file so that very
// long tracks do not have to stay in memory.
type DuckStore struct {
	db        *sql.DB
	dbPath    string
	count     int
	batchSize int
	batch     []models.Position
	minTs     int64
	maxTs     int64
	lastError error // last flush error

	// limits concurrent queries from paging clients
	querySem chan struct{}
}

// NewDuckStore creates a new DuckDB-backed store in the given temp directory.
func NewDuckStore(tempDir string, sessionID string, opts DuckStoreOptions) (*DuckStore, error) {
	dbPath := filepath.Join(tempDir, fmt.Sprintf("session_%s.duckdb", sessionID))
	return NewDuckStoreAtPath(dbPath, opts)
}

// NewDuckStoreAtPath creates a new DuckDB-backed store at a specific path.
func NewDuckStoreAtPath(dbPath string, opts DuckStoreOptions) (*DuckStore, error) {
	fmt.Printf("[DuckStore] Creating database at: %s\n", dbPath)

	if opts.MemoryLimit == "" {
		opts.MemoryLimit = DefaultDuckStoreOptions().MemoryLimit
	}
	if opts.Threads <= 0 {
		opts.Threads = DefaultDuckStoreOptions().Threads
	}

	connector, err := duckdb.NewConnector(dbPath, func(execer driver.ExecerContext) error {
		pragmas := []string{
			fmt.Sprintf("PRAGMA memory_limit='%s'", opts.MemoryLimit),
			fmt.Sprintf("PRAGMA threads=%d", opts.Threads),
			"PRAGMA enable_progress_bar=false",
		}
		for _, pragma := range pragmas {
			if _, err := execer.ExecContext(context.Background(), pragma, nil); err != nil {
				fmt.Printf("[DuckStore] Pragma error: %v\n", err)
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create DuckDB connector: %w", err)
	}

	db := sql.OpenDB(connector)

	_, err = db.Exec(`
		CREATE TABLE positions (
			id    INTEGER PRIMARY KEY,
			ts    BIGINT NOT NULL,
			lon   DOUBLE NOT NULL,
			lat   DOUBLE NOT NULL,
			speed DOUBLE
		)
	`)
	if err != nil {
		db.Close()
		os.Remove(dbPath)
		return nil, fmt.Errorf("failed to create table: %w", err)
	}

	// the ts index is built in Finalize, after the bulk insert
	return &DuckStore{
		db:        db,
		dbPath:    dbPath,
		batchSize: 50000,
		batch:     make([]models.Position, 0, 50000),
		querySem:  make(chan struct{}, 3),
	}, nil
}

// AddPosition queues a position for insertion. Positions keep their insertion
// order as row ids.
func (ds *DuckStore) AddPosition(p models.Position) {
	ds.batch = append(ds.batch, p)

	if ds.count == 0 || p.Time < ds.minTs {
		ds.minTs = p.Time
	}
	if ds.count == 0 || p.Time > ds.maxTs {
		ds.maxTs = p.Time
	}
	ds.count++

	if len(ds.batch) >= ds.batchSize {
		if err := ds.flushBatch(); err != nil {
			ds.lastError = err
			fmt.Printf("[DuckStore] flush error: %v\n", err)
		}
	}
}

// LastError returns the last error that occurred during a batch flush.
func (ds *DuckStore) LastError() error {
	return ds.lastError
}

// flushBatch writes the pending batch through the native Appender API.
func (ds *DuckStore) flushBatch() error {
	if len(ds.batch) == 0 {
		return nil
	}

	conn, err := ds.db.Conn(context.Background())
	if err != nil {
		return fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()

	err = conn.Raw(func(driverConn interface{}) error {
		dConn, ok := driverConn.(*duckdb.Conn)
		if !ok {
			return fmt.Errorf("failed to cast to duckdb.Conn")
		}

		appender, err := duckdb.NewAppenderFromConn(dConn, "", "positions")
		if err != nil {
			return fmt.Errorf("failed to create appender: %w", err)
		}
		defer appender.Close()

		baseID := ds.count - len(ds.batch)
		for i, p := range ds.batch {
			var speed interface{}
			if p.Speed.Valid {
				speed = p.Speed.KMH
			}
			if err := appender.AppendRow(int32(baseID+i), p.Time, p.Lon, p.Lat, speed); err != nil {
				return fmt.Errorf("failed to append row %d: %w", i, err)
			}
		}

		return appender.Flush()
	})
	if err != nil {
		return fmt.Errorf("appender error: %w", err)
	}

	ds.batch = ds.batch[:0]
	return nil
}

// Finalize flushes any remaining positions and creates the time index.
func (ds *DuckStore) Finalize() error {
	if err := ds.flushBatch(); err != nil {
		return err
	}
	if ds.lastError != nil {
		return ds.lastError
	}

	start := time.Now()
	if _, err := ds.db.Exec("CREATE INDEX idx_ts ON positions(ts)"); err != nil {
		return fmt.Errorf("idx_ts creation failed: %w", err)
	}

	fmt.Printf("[DuckStore] Finalized %d positions in %v\n", ds.count, time.Since(start))
	return nil
}

// Len returns the number of stored positions.
func (ds *DuckStore) Len() int {
	return ds.count
}

func (ds *DuckStore) acquire(ctx context.Context) error {
	select {
	case ds.querySem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (ds *DuckStore) release() {
	<-ds.querySem
}

// GetPositions returns up to limit positions starting at offset, in track order.
func (ds *DuckStore) GetPositions(ctx context.Context, offset, limit int) ([]models.Position, error) {
	if limit <= 0 || offset >= ds.count {
		return []models.Position{}, nil
	}
	if err := ds.acquire(ctx); err != nil {
		return nil, err
	}
	defer ds.release()

	rows, err := ds.db.QueryContext(ctx,
		"SELECT ts, lon, lat, speed FROM positions WHERE id >= ? AND id < ? ORDER BY id",
		offset, offset+limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanPositions(rows, limit)
}

// GetWindow returns the positions with start <= time <= end, in track order.
func (ds *DuckStore) GetWindow(ctx context.Context, start, end int64) ([]models.Position, error) {
	if end < start {
		return []models.Position{}, nil
	}
	if err := ds.acquire(ctx); err != nil {
		return nil, err
	}
	defer ds.release()

	rows, err := ds.db.QueryContext(ctx,
		"SELECT ts, lon, lat, speed FROM positions WHERE ts >= ? AND ts <= ? ORDER BY id",
		start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanPositions(rows, 1024)
}

// All returns every stored position in track order.
func (ds *DuckStore) All(ctx context.Context) ([]models.Position, error) {
	if err := ds.acquire(ctx); err != nil {
		return nil, err
	}
	defer ds.release()

	rows, err := ds.db.QueryContext(ctx, "SELECT ts, lon, lat, speed FROM positions ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanPositions(rows, ds.count)
}

// GetTimeRange returns the time range of the stored positions.
func (ds *DuckStore) GetTimeRange() *models.TimeRange {
	if ds.count == 0 {
		return nil
	}
	return &models.TimeRange{
		Start: time.Unix(ds.minTs, 0).UTC(),
		End:   time.Unix(ds.maxTs, 0).UTC(),
	}
}

// Close closes the database and removes the temp file.
func (ds *DuckStore) Close() error {
	if ds.db != nil {
		ds.db.Close()
	}
	if ds.dbPath != "" {
		os.Remove(ds.dbPath)
		os.Remove(ds.dbPath + ".wal")
	}
	return nil
}

func scanPositions(rows *sql.Rows, capacity int) ([]models.Position, error) {
	out := make([]models.Position, 0, capacity)
	for rows.Next() {
		var p models.Position
		var speed sql.NullFloat64
		if err := rows.Scan(&p.Time, &p.Lon, &p.Lat, &speed); err != nil {
			return nil, err
		}
		if speed.Valid {
			p.Speed = models.KMH(speed.Float64)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
