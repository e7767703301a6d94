package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gpx-analyzer/backend/internal/api"
	"github.com/gpx-analyzer/backend/internal/catalog"
	"github.com/gpx-analyzer/backend/internal/config"
	"github.com/gpx-analyzer/backend/internal/parser"
	"github.com/gpx-analyzer/backend/internal/session"
	"github.com/gpx-analyzer/backend/internal/storage"
	"github.com/gpx-analyzer/backend/internal/upload"
	"github.com/gpx-analyzer/backend/internal/web"
	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"
)

// Version info (set during build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	// Get the executable's directory for config resolution
	exePath, err := os.Executable()
	if err != nil {
		fmt.Printf("Failed to get executable path: %v\n", err)
		os.Exit(1)
	}
	exeDir := filepath.Dir(exePath)

	// .env files may override config values through the environment
	_ = godotenv.Load(filepath.Join(exeDir, ".env"))
	_ = godotenv.Overload(filepath.Join(exeDir, ".env.local"))

	// Load XML configuration
	configPath := filepath.Join(exeDir, config.FileName)
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	log.SetLevel(cfg.LogLevel())
	api.ShowErrorDetails = cfg.LogLevel() == log.DEBUG

	// Ensure all data directories exist
	if err := cfg.EnsureDirectories(); err != nil {
		fmt.Printf("Failed to create directories: %v\n", err)
		os.Exit(1)
	}

	maxUpload, err := cfg.MaxUploadBytes()
	if err != nil {
		fmt.Printf("Invalid MaxUploadSize: %v\n", err)
		os.Exit(1)
	}

	// Catalog of files and reports
	var cat *catalog.Catalog
	storeOpts := storage.Options{
		MaxSize:           maxUpload,
		AllowedExtensions: cfg.AllowedExtensions(),
	}
	sessionOpts := session.Options{
		TempDir:             cfg.Storage.TempDirectory,
		DuckDBThreshold:     cfg.Processing.DuckDBThreshold,
		MaxConcurrentParses: cfg.Processing.MaxConcurrentParses,
		DuckStore: parser.DuckStoreOptions{
			MemoryLimit: cfg.Advanced.DuckDBMemoryLimit,
			Threads:     cfg.Advanced.DuckDBThreads,
		},
	}
	if cfg.Storage.EnablePersistence {
		cat, err = catalog.Open(cfg.Storage.CatalogPath)
		if err != nil {
			fmt.Printf("Failed to open catalog: %v\n", err)
			os.Exit(1)
		}
		defer cat.Close()
		storeOpts.Catalog = cat
		sessionOpts.Reports = cat
	}

	// Initialize storage
	fileStore, err := storage.NewLocalStoreWithOptions(cfg.GetUploadDir(), storeOpts)
	if err != nil {
		fmt.Printf("Failed to initialize storage: %v\n", err)
		os.Exit(1)
	}
	sessionOpts.Files = fileStore

	// Initialize session manager
	sessionMgr := session.NewManagerWithOptions(sessionOpts)
	defer sessionMgr.Shutdown()

	// Initialize upload processing manager
	uploadMgr := upload.NewManager(fileStore, sessionMgr)

	profiles, err := api.NewProfileStore(cfg.Processing.ProfilesFile)
	if err != nil {
		fmt.Printf("Warning: %v\n", err)
		profiles, _ = api.NewProfileStore("")
	}

	// Start background cleanup
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go runCleanup(ctx, cfg, sessionMgr, uploadMgr)

	e := echo.New()
	e.HideBanner = true
	api.SetupMiddleware(e)

	// Configure middleware
	e.Use(middleware.LoggerWithConfig(middleware.LoggerConfig{
		Skipper: func(c echo.Context) bool {
			// Skip logging if disabled in config
			if !cfg.Advanced.EnableRequestLogging {
				return true
			}
			path := c.Request().URL.Path
			return strings.HasSuffix(path, "/status") ||
				strings.HasSuffix(path, "/progress") ||
				strings.HasSuffix(path, "/keepalive") ||
				path == "/api/health"
		},
	}))

	e.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{
		StackSize: 1024 * 4,
	}))

	e.Use(middleware.TimeoutWithConfig(middleware.TimeoutConfig{
		Timeout: time.Duration(cfg.Server.ReadTimeout) * time.Second,
		Skipper: func(c echo.Context) bool {
			path := c.Request().URL.Path
			return strings.Contains(path, "/stream") ||
				strings.Contains(path, "/progress") ||
				strings.Contains(path, "/upload") ||
				strings.HasPrefix(path, "/api/ws/") ||
				c.Request().Header.Get(echo.HeaderAccept) == "text/event-stream"
		},
		ErrorMessage: "Request timeout - query took too long",
	}))

	// Compression middleware
	if cfg.Processing.EnableCompression {
		e.Use(middleware.GzipWithConfig(middleware.GzipConfig{
			Level: cfg.Processing.CompressionLevel,
			Skipper: func(c echo.Context) bool {
				return c.Request().Header.Get(echo.HeaderAccept) == "text/event-stream" ||
					strings.HasPrefix(c.Request().URL.Path, "/api/ws/")
			},
		}))
	}

	// Body limit middleware
	if cfg.Server.BodyLimit != "" {
		e.Use(middleware.BodyLimit(cfg.Server.BodyLimit))
	}

	// CORS configuration
	if cfg.Server.EnableCORS {
		origins := strings.Split(cfg.Server.AllowOrigins, ",")
		for i := range origins {
			origins[i] = strings.TrimSpace(origins[i])
		}
		if len(origins) == 0 || (len(origins) == 1 && origins[0] == "") {
			origins = []string{"*"}
		}
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: origins,
			AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
			AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept},
		}))
	}

	// API Routes
	handlers := api.NewHandlers(&api.Dependencies{
		Store:             fileStore,
		SessionMgr:        sessionMgr,
		Stats:             sessionMgr,
		UploadJobs:        uploadMgr,
		Profiles:          profiles,
		DefaultSpeedLimit: cfg.Processing.DefaultSpeedLimit,
		AllowDeletion:     cfg.Security.AllowFileDeletion,
		WSMaxMessageSize:  int64(cfg.Advanced.WebSocketMaxMessageSize) * 1024,
		Version:           Version,
	})
	api.RegisterRoutes(e, handlers)
	api.RegisterWebSocketRoutes(e, handlers)

	// Embedded upload page
	embeddedMode := web.HasEmbeddedFiles()
	if embeddedMode {
		if err := web.RegisterStaticRoutes(e); err != nil {
			fmt.Printf("Warning: failed to register static routes: %v\n", err)
			embeddedMode = false
		}
	}

	// Configure server with settings from XML config
	s := &http.Server{
		Addr:         cfg.GetServerAddr(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	persistence := "disabled"
	if cat != nil {
		persistence = cfg.Storage.CatalogPath
	}

	// Print startup banner
	fmt.Printf("\n")
	fmt.Printf("╔═══════════════════════════════════════════════════════════╗\n")
	fmt.Printf("║           GPX Track Analyzer Server                       ║\n")
	fmt.Printf("╠═══════════════════════════════════════════════════════════╣\n")
	fmt.Printf("║  Version:    %-45s║\n", Version)
	fmt.Printf("║  Build Time: %-45s║\n", BuildTime)
	fmt.Printf("║  Limit:      %-45s║\n", fmt.Sprintf("%g km/h", cfg.Processing.DefaultSpeedLimit))
	fmt.Printf("╠═══════════════════════════════════════════════════════════╣\n")
	fmt.Printf("║  Config:    %-46s║\n", configPath)
	fmt.Printf("║  Listen:    http://%-38s║\n", cfg.GetServerAddr())
	fmt.Printf("║  Data Dir:  %-46s║\n", cfg.GetDataDir())
	fmt.Printf("║  Catalog:   %-46s║\n", persistence)
	fmt.Printf("╚═══════════════════════════════════════════════════════════╝\n")
	fmt.Printf("\n")

	if embeddedMode {
		fmt.Printf("Open http://localhost:%d in your browser\n\n", cfg.Server.Port)
	}

	go func() {
		if err := e.StartServer(s); err != nil && err != http.ErrServerClosed {
			log.Errorf("server stopped: %v", err)
			stop()
		}
	}()

	<-ctx.Done()
	fmt.Println("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Errorf("shutdown: %v", err)
	}
}

// runCleanup drops idle sessions, orphaned session databases and finished
// upload jobs until ctx is cancelled.
func runCleanup(ctx context.Context, cfg *config.AppConfig, sessions *session.Manager, uploads *upload.Manager) {
	ticker := time.NewTicker(cfg.CleanupInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			removed := sessions.CleanupOldSessions(cfg.SessionTimeout())
			orphans := sessions.SweepOrphaned()
			jobs := uploads.CleanupOldJobs(cfg.SessionTimeout())
			if removed+orphans+jobs > 0 {
				log.Infof("cleanup: %d sessions, %d session files, %d upload jobs", removed, orphans, jobs)
			}
		case <-ctx.Done():
			return
		}
	}
}
