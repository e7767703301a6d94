// Package config provides XML-based configuration management for air-gapped deployment.
package config

import (
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/gommon/bytes"
	"github.com/labstack/gommon/log"
)

// FileName is the name of the configuration file next to the executable.
const FileName = "GPXAnalyzer.config"

// AppConfig represents the root XML configuration structure
type AppConfig struct {
	XMLName xml.Name `xml:"GPXAnalyzer"`

	Server     ServerConfig     `xml:"Server"`
	Storage    StorageConfig    `xml:"Storage"`
	Processing ProcessingConfig `xml:"Processing"`
	Security   SecurityConfig   `xml:"Security"`
	Advanced   AdvancedConfig   `xml:"Advanced"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Port         int    `xml:"Port"`
	BindAddress  string `xml:"BindAddress"`
	EnableCORS   bool   `xml:"EnableCORS"`
	AllowOrigins string `xml:"AllowOrigins"`
	ReadTimeout  int    `xml:"ReadTimeoutSeconds"`
	WriteTimeout int    `xml:"WriteTimeoutSeconds"`
	IdleTimeout  int    `xml:"IdleTimeoutSeconds"`
	BodyLimit    string `xml:"BodyLimit"`
}

// StorageConfig contains file storage settings
type StorageConfig struct {
	DataDirectory     string `xml:"DataDirectory"`
	UploadsDirectory  string `xml:"UploadsDirectory"`
	TempDirectory     string `xml:"TempDirectory"`
	MaxUploadSize     string `xml:"MaxUploadSize"`
	EnablePersistence bool   `xml:"EnablePersistence"`
	CatalogPath       string `xml:"CatalogPath"`
}

// ProcessingConfig contains parsing and analysis settings
type ProcessingConfig struct {
	MaxConcurrentParses    int     `xml:"MaxConcurrentParses"`
	SessionTimeoutMinutes  int     `xml:"SessionTimeoutMinutes"`
	CleanupIntervalMinutes int     `xml:"CleanupIntervalMinutes"`
	EnableCompression      bool    `xml:"EnableCompression"`
	CompressionLevel       int     `xml:"CompressionLevel"`
	DefaultSpeedLimit      float64 `xml:"DefaultSpeedLimitKmh"`
	DuckDBThreshold        int     `xml:"DuckDBThresholdPositions"`
	ProfilesFile           string  `xml:"SpeedProfilesFile"`
}

// SecurityConfig contains security settings
type SecurityConfig struct {
	AllowFileDeletion bool   `xml:"AllowFileDeletion"`
	AllowedFileTypes  string `xml:"AllowedFileTypes"`
}

// AdvancedConfig contains advanced/tuning options
type AdvancedConfig struct {
	LogLevel                string `xml:"LogLevel"`
	EnableRequestLogging    bool   `xml:"EnableRequestLogging"`
	DuckDBThreads           int    `xml:"DuckDBThreads"`
	DuckDBMemoryLimit       string `xml:"DuckDBMemoryLimit"`
	WebSocketMaxMessageSize int    `xml:"WebSocketMaxMessageSizeKB"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *AppConfig {
	return &AppConfig{
		Server: ServerConfig{
			Port:         8089,
			BindAddress:  "0.0.0.0",
			EnableCORS:   true,
			AllowOrigins: "*",
			ReadTimeout:  30,
			WriteTimeout: 30,
			IdleTimeout:  120,
			BodyLimit:    "512M",
		},
		Storage: StorageConfig{
			DataDirectory:     "./data",
			UploadsDirectory:  "./data/uploads",
			TempDirectory:     "./data/temp",
			MaxUploadSize:     "512M",
			EnablePersistence: true,
			CatalogPath:       "./data/catalog.db",
		},
		Processing: ProcessingConfig{
			MaxConcurrentParses:    3,
			SessionTimeoutMinutes:  30,
			CleanupIntervalMinutes: 5,
			EnableCompression:      true,
			CompressionLevel:       5,
			DefaultSpeedLimit:      60,
			DuckDBThreshold:        1000000,
			ProfilesFile:           "./data/profiles.yaml",
		},
		Security: SecurityConfig{
			AllowFileDeletion: true,
			AllowedFileTypes:  ".gpx,.gz,.xml",
		},
		Advanced: AdvancedConfig{
			LogLevel:                "info",
			EnableRequestLogging:    true,
			DuckDBThreads:           4,
			DuckDBMemoryLimit:       "1GB",
			WebSocketMaxMessageSize: 64,
		},
	}
}

// LoadConfig loads configuration from XML file. A missing file is created with
// the defaults.
func LoadConfig(configPath string) (*AppConfig, error) {
	var config *AppConfig

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		config = DefaultConfig()
		if err := config.Save(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
	} else {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		config = DefaultConfig()
		if err := xml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	config.applyEnvironmentOverrides()
	config.resolvePaths(filepath.Dir(configPath))

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Save saves the configuration to XML file
func (c *AppConfig) Save(configPath string) error {
	output, err := xml.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(xml.Header + "\n<!-- GPX Track Analyzer Configuration -->\n<!-- This file is auto-generated on first run -->\n\n")
	content := append(header, output...)

	if err := os.WriteFile(configPath, content, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks the values that cannot be corrected silently.
func (c *AppConfig) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Server.Port)
	}
	if _, err := c.BodyLimitBytes(); err != nil {
		return fmt.Errorf("invalid BodyLimit %q: %w", c.Server.BodyLimit, err)
	}
	if _, err := c.MaxUploadBytes(); err != nil {
		return fmt.Errorf("invalid MaxUploadSize %q: %w", c.Storage.MaxUploadSize, err)
	}
	if c.Processing.MaxConcurrentParses < 1 {
		c.Processing.MaxConcurrentParses = 1
	}
	return nil
}

// applyEnvironmentOverrides allows environment variables to override config values
func (c *AppConfig) applyEnvironmentOverrides() {
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Server.Port = p
		}
	}

	if dataDir := os.Getenv("DATA_DIR"); dataDir != "" {
		c.Storage.DataDirectory = dataDir
	}

	if tempDir := os.Getenv("DUCKDB_TEMP_DIR"); tempDir != "" {
		c.Storage.TempDirectory = tempDir
	}

	if limit := os.Getenv("SPEED_LIMIT"); limit != "" {
		if v, err := strconv.ParseFloat(limit, 64); err == nil {
			c.Processing.DefaultSpeedLimit = v
		}
	}
}

// resolvePaths converts relative paths to absolute based on config file location
func (c *AppConfig) resolvePaths(configDir string) {
	for _, p := range []*string{
		&c.Storage.DataDirectory,
		&c.Storage.UploadsDirectory,
		&c.Storage.TempDirectory,
		&c.Storage.CatalogPath,
		&c.Processing.ProfilesFile,
	} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(configDir, *p)
		}
	}
}

// GetDataDir returns the absolute data directory path
func (c *AppConfig) GetDataDir() string {
	return c.Storage.DataDirectory
}

// GetUploadDir returns the absolute uploads directory path
func (c *AppConfig) GetUploadDir() string {
	return c.Storage.UploadsDirectory
}

// GetServerAddr returns the server bind address
func (c *AppConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.BindAddress, c.Server.Port)
}

// BodyLimitBytes parses Server.BodyLimit ("512M", "2G", ...).
func (c *AppConfig) BodyLimitBytes() (int64, error) {
	return parseSize(c.Server.BodyLimit)
}

// MaxUploadBytes parses Storage.MaxUploadSize. Zero means unlimited.
func (c *AppConfig) MaxUploadBytes() (int64, error) {
	return parseSize(c.Storage.MaxUploadSize)
}

func parseSize(s string) (int64, error) {
	if strings.TrimSpace(s) == "" {
		return 0, nil
	}
	return bytes.Parse(s)
}

// AllowedExtensions returns the lower-cased AllowedFileTypes list.
func (c *AppConfig) AllowedExtensions() []string {
	var exts []string
	for _, ext := range strings.Split(c.Security.AllowedFileTypes, ",") {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		exts = append(exts, ext)
	}
	return exts
}

// SessionTimeout is how long an untouched session is kept.
func (c *AppConfig) SessionTimeout() time.Duration {
	return time.Duration(c.Processing.SessionTimeoutMinutes) * time.Minute
}

// CleanupInterval is the period of the session cleanup loop.
func (c *AppConfig) CleanupInterval() time.Duration {
	if c.Processing.CleanupIntervalMinutes <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(c.Processing.CleanupIntervalMinutes) * time.Minute
}

// LogLevel maps Advanced.LogLevel to a gommon level; unknown values mean INFO.
func (c *AppConfig) LogLevel() log.Lvl {
	switch strings.ToLower(c.Advanced.LogLevel) {
	case "debug":
		return log.DEBUG
	case "warn", "warning":
		return log.WARN
	case "error":
		return log.ERROR
	case "off":
		return log.OFF
	default:
		return log.INFO
	}
}

// EnsureDirectories creates all necessary directories
func (c *AppConfig) EnsureDirectories() error {
	dirs := []string{
		c.Storage.DataDirectory,
		c.Storage.UploadsDirectory,
		c.Storage.TempDirectory,
	}
	if c.Storage.CatalogPath != "" {
		dirs = append(dirs, filepath.Dir(c.Storage.CatalogPath))
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}
