// routes.go - Route registration helpers
// This file provides a clean way to register all API routes
package api

import (
	"github.com/gpx-analyzer/backend/internal/storage"
	"github.com/labstack/echo/v4"
)

// Dependencies holds all handler dependencies
type Dependencies struct {
	Store             storage.Store
	SessionMgr        SessionManager
	Stats             StatsProvider
	UploadJobs        UploadJobs
	Profiles          *ProfileStore
	DefaultSpeedLimit float64
	AllowDeletion     bool
	WSMaxMessageSize  int64
	Version           string
}

// Handlers holds all handler instances
type Handlers struct {
	Health    HealthHandler
	Upload    UploadHandler
	Parse     ParseHandler
	Profile   ProfileHandler
	WebSocket *WebSocketHandler
}

// NewHandlers creates all handler instances
func NewHandlers(deps *Dependencies) *Handlers {
	return &Handlers{
		Health:    NewHealthHandler(deps.Version, deps.Stats),
		Upload:    NewUploadHandler(deps.Store, deps.SessionMgr, deps.UploadJobs, deps.AllowDeletion),
		Parse:     NewParseHandler(deps.Store, deps.SessionMgr, deps.Profiles, deps.DefaultSpeedLimit),
		Profile:   NewProfileHandler(deps.Profiles),
		WebSocket: NewWebSocketHandler(deps.SessionMgr, deps.WSMaxMessageSize),
	}
}

// RegisterRoutes registers all API routes with the Echo instance
func RegisterRoutes(e *echo.Echo, handlers *Handlers) {
	// Health check
	e.GET("/api/health", handlers.Health.HandleHealth)

	// File upload routes
	fileGroup := e.Group("/api/files")
	fileGroup.POST("/upload", handlers.Upload.HandleUploadFile)
	fileGroup.POST("/upload/base64", handlers.Upload.HandleUploadBase64)
	fileGroup.POST("/upload/chunk", handlers.Upload.HandleUploadChunk)
	fileGroup.POST("/upload/complete", handlers.Upload.HandleCompleteUpload)
	fileGroup.GET("/upload/jobs/:jobId", handlers.Upload.HandleUploadJobStatus)
	fileGroup.GET("/upload/jobs/:jobId/stream", handlers.Upload.HandleUploadJobStream)
	fileGroup.GET("/recent", handlers.Upload.HandleGetRecentFiles)
	fileGroup.GET("/:id", handlers.Upload.HandleGetFile)
	fileGroup.PUT("/:id", handlers.Upload.HandleRenameFile)
	fileGroup.DELETE("/:id", handlers.Upload.HandleDeleteFile)
	fileGroup.GET("/:id/reports", handlers.Upload.HandleGetFileReports)

	// Parse session routes
	parseGroup := e.Group("/api/parse")
	parseGroup.POST("", handlers.Parse.HandleStartParse)
	parseGroup.DELETE("/:sessionId", handlers.Parse.HandleDeleteSession)
	parseGroup.GET("/:sessionId/status", handlers.Parse.HandleParseStatus)
	parseGroup.POST("/:sessionId/keepalive", handlers.Parse.HandleSessionKeepAlive)
	parseGroup.GET("/:sessionId/progress", handlers.Parse.HandleParseProgressStream)
	parseGroup.GET("/:sessionId/positions", handlers.Parse.HandleParsePositions)
	parseGroup.GET("/:sessionId/positions/msgpack", handlers.Parse.HandleParsePositionsMsgpack)
	parseGroup.GET("/:sessionId/chunk", handlers.Parse.HandleParseChunk)
	parseGroup.GET("/:sessionId/stats", handlers.Parse.HandleTrackStats)
	parseGroup.GET("/:sessionId/summary", handlers.Parse.HandleTrackSummary)

	// Speed-limit profiles
	e.GET("/api/profiles", handlers.Profile.HandleGetProfiles)
	e.PUT("/api/profiles", handlers.Profile.HandleUpdateProfiles)
}

// RegisterWebSocketRoutes registers WebSocket routes
func RegisterWebSocketRoutes(e *echo.Echo, handlers *Handlers) {
	e.GET("/api/ws/sessions/:sessionId", handlers.WebSocket.HandleSessionSocket)
}

// SetupMiddleware installs the API error handler. Transport middleware is
// configured by the server command.
func SetupMiddleware(e *echo.Echo) {
	e.HTTPErrorHandler = ErrorHandler
}
