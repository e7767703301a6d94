// interfaces.go - Handler interface definitions for clean separation of concerns
package api

import (
	"context"

	"github.com/gpx-analyzer/backend/internal/models"
	"github.com/gpx-analyzer/backend/internal/upload"
	"github.com/labstack/echo/v4"
)

// UploadHandler handles file upload operations
type UploadHandler interface {
	HandleUploadFile(c echo.Context) error
	HandleUploadBase64(c echo.Context) error
	HandleUploadChunk(c echo.Context) error
	HandleCompleteUpload(c echo.Context) error
	HandleUploadJobStatus(c echo.Context) error
	HandleUploadJobStream(c echo.Context) error
	HandleGetRecentFiles(c echo.Context) error
	HandleGetFile(c echo.Context) error
	HandleDeleteFile(c echo.Context) error
	HandleRenameFile(c echo.Context) error
	HandleGetFileReports(c echo.Context) error
}

// ParseHandler handles parsing session operations
type ParseHandler interface {
	HandleStartParse(c echo.Context) error
	HandleParseStatus(c echo.Context) error
	HandleParseProgressStream(c echo.Context) error
	HandleSessionKeepAlive(c echo.Context) error
	HandleDeleteSession(c echo.Context) error
	HandleParsePositions(c echo.Context) error
	HandleParsePositionsMsgpack(c echo.Context) error
	HandleParseChunk(c echo.Context) error
	HandleTrackStats(c echo.Context) error
	HandleTrackSummary(c echo.Context) error
}

// ProfileHandler handles speed-limit profile operations
type ProfileHandler interface {
	HandleGetProfiles(c echo.Context) error
	HandleUpdateProfiles(c echo.Context) error
}

// HealthHandler handles health check operations
type HealthHandler interface {
	HandleHealth(c echo.Context) error
}

// SessionManager defines the interface for session management
// This allows mocking in tests
type SessionManager interface {
	StartMultiSession(fileIDs []string, filePaths []string) (*models.ParseSession, error)
	GetSession(id string) (*models.ParseSession, bool)
	TouchSession(id string) bool
	DeleteSession(id string) error
	Subscribe(id string) (<-chan *models.ParseSession, func(), error)
	GetPositions(ctx context.Context, id string, page, pageSize int) ([]models.Position, int, error)
	GetChunk(ctx context.Context, id string, start, end int64) ([]models.Position, error)
	GetTrackInfo(ctx context.Context, id string, speedLimit float64) (*models.TrackInfo, error)
	GetSummary(ctx context.Context, id string) (*models.TrackSummary, error)
	GetReports(ctx context.Context, fileID string, limit int) ([]*models.ReportRecord, error)
}

// UploadJobs runs asynchronous chunked-upload completion
type UploadJobs interface {
	StartJob(uploadID, fileName string, totalChunks int, autoParse bool) *upload.Job
	GetJob(id string) (*upload.Job, bool)
}

// StatsProvider reports runtime statistics for the health endpoint
type StatsProvider interface {
	Stats() map[string]interface{}
}
