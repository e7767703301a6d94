// Package catalog persists upload metadata and computed reports in SQLite.
package catalog

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gpx-analyzer/backend/internal/models"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// ErrNotFound is returned when a file is not in the catalog.
var ErrNotFound = errors.New("not found in catalog")

// Catalog wraps a SQLite connection with write serialization.
type Catalog struct {
	conn    *sql.DB
	writeMu sync.Mutex
}

// Open opens (or creates) the catalog database at path and ensures the schema.
func Open(path string) (*Catalog, error) {
	dsn := "file:" + path + "?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}

	// SQLite has a single writer
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(time.Hour)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping catalog: %w", err)
	}

	if _, err := conn.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		fmt.Printf("[Catalog] Warning: failed to set synchronous mode: %v\n", err)
	}

	c := &Catalog{conn: conn}
	if err := c.ensureSchema(context.Background()); err != nil {
		conn.Close()
		return nil, err
	}

	fmt.Printf("[Catalog] Opened %s\n", path)
	return c, nil
}

func (c *Catalog) ensureSchema(ctx context.Context) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if _, err := c.conn.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (c *Catalog) Close() error {
	return c.conn.Close()
}

// UpsertFile inserts or replaces the metadata of an uploaded file.
func (c *Catalog) UpsertFile(ctx context.Context, info *models.FileInfo) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_, err := c.conn.ExecContext(ctx, `
		INSERT INTO files (id, name, size, uploaded_at, status, compressed)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			size = excluded.size,
			uploaded_at = excluded.uploaded_at,
			status = excluded.status,
			compressed = excluded.compressed
	`, info.ID, info.Name, info.Size, info.UploadedAt.UnixMilli(), info.Status, info.Compressed)
	if err != nil {
		return fmt.Errorf("upsert file %s: %w", info.ID, err)
	}
	return nil
}

// DeleteFile removes a file together with the reports computed from it.
func (c *Catalog) DeleteFile(ctx context.Context, id string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	tx, err := c.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, "DELETE FROM files WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete file %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}

	// report_files rows cascade; drop reports left without any file
	if _, err := tx.ExecContext(ctx,
		"DELETE FROM reports WHERE id NOT IN (SELECT report_id FROM report_files)"); err != nil {
		return fmt.Errorf("delete orphan reports: %w", err)
	}

	return tx.Commit()
}

// ListFiles returns all files, newest first.
func (c *Catalog) ListFiles(ctx context.Context) ([]*models.FileInfo, error) {
	rows, err := c.conn.QueryContext(ctx, `
		SELECT id, name, size, uploaded_at, status, compressed
		FROM files ORDER BY uploaded_at DESC, id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	files := make([]*models.FileInfo, 0)
	for rows.Next() {
		var info models.FileInfo
		var uploadedMs int64
		if err := rows.Scan(&info.ID, &info.Name, &info.Size, &uploadedMs, &info.Status, &info.Compressed); err != nil {
			return nil, err
		}
		info.UploadedAt = time.UnixMilli(uploadedMs)
		files = append(files, &info)
	}
	return files, rows.Err()
}

// SaveReport stores a computed report and links it to its source files. The
// assigned id is written back to rec.
func (c *Catalog) SaveReport(ctx context.Context, rec *models.ReportRecord) error {
	body, err := json.Marshal(rec.Report)
	if err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	tx, err := c.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		"INSERT INTO reports (session_id, speed_limit, report, created_at) VALUES (?, ?, ?, ?)",
		rec.SessionID, rec.SpeedLimit, string(body), rec.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert report: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}

	for _, fileID := range rec.FileIDs {
		if _, err := tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO report_files (report_id, file_id) VALUES (?, ?)", id, fileID); err != nil {
			return fmt.Errorf("link report to file %s: %w", fileID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	rec.ID = id
	return nil
}

// ListReports returns the newest reports computed from fileID. A limit <= 0
// returns all of them.
func (c *Catalog) ListReports(ctx context.Context, fileID string, limit int) ([]*models.ReportRecord, error) {
	query := `
		SELECT r.id, r.session_id, r.speed_limit, r.report, r.created_at,
			(SELECT group_concat(rf2.file_id, ',') FROM report_files rf2 WHERE rf2.report_id = r.id)
		FROM reports r
		JOIN report_files rf ON rf.report_id = r.id
		WHERE rf.file_id = ?
		ORDER BY r.created_at DESC, r.id DESC`
	args := []interface{}{fileID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := c.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]*models.ReportRecord, 0)
	for rows.Next() {
		var rec models.ReportRecord
		var body string
		var createdMs int64
		var fileIDs sql.NullString
		if err := rows.Scan(&rec.ID, &rec.SessionID, &rec.SpeedLimit, &body, &createdMs, &fileIDs); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(body), &rec.Report); err != nil {
			return nil, fmt.Errorf("decoding report %d: %w", rec.ID, err)
		}
		rec.CreatedAt = time.UnixMilli(createdMs)
		if fileIDs.Valid && fileIDs.String != "" {
			rec.FileIDs = strings.Split(fileIDs.String, ",")
		}
		records = append(records, &rec)
	}
	return records, rows.Err()
}
