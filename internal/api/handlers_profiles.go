// handlers_profiles.go - Speed-limit profile handlers
package api

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gpx-analyzer/backend/internal/models"
	"github.com/gpx-analyzer/backend/internal/parser"
	"github.com/labstack/echo/v4"
)

// MIMEApplicationYAML is the content type of YAML profile documents.
const MIMEApplicationYAML = "application/yaml"

// ProfileStore holds the speed profiles and writes replacements back to their
// YAML file. A nil *ProfileStore behaves as an empty one.
type ProfileStore struct {
	mu       sync.RWMutex
	path     string
	profiles *models.SpeedProfiles
}

// NewProfileStore loads profiles from path. A missing file yields an empty
// set; an empty path keeps profiles in memory only.
func NewProfileStore(path string) (*ProfileStore, error) {
	s := &ProfileStore{
		path:     path,
		profiles: &models.SpeedProfiles{Profiles: []models.SpeedProfile{}},
	}
	if path == "" {
		return s, nil
	}

	profiles, err := parser.ParseSpeedProfiles(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading speed profiles %s: %w", path, err)
	}
	if profiles.Profiles == nil {
		profiles.Profiles = []models.SpeedProfile{}
	}
	s.profiles = profiles
	return s, nil
}

// Get returns a copy of the current profiles.
func (s *ProfileStore) Get() *models.SpeedProfiles {
	if s == nil {
		return &models.SpeedProfiles{Profiles: []models.SpeedProfile{}}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := *s.profiles
	out.Profiles = append([]models.SpeedProfile{}, s.profiles.Profiles...)
	return &out
}

// Find returns the named profile.
func (s *ProfileStore) Find(name string) (models.SpeedProfile, bool) {
	if s == nil {
		return models.SpeedProfile{}, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.profiles.Find(name)
}

// Default returns the default profile, if one is set.
func (s *ProfileStore) Default() (models.SpeedProfile, bool) {
	if s == nil {
		return models.SpeedProfile{}, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.profiles.DefaultProfile()
}

// Replace validates and stores a new profile set, persisting it first.
func (s *ProfileStore) Replace(p *models.SpeedProfiles) error {
	if err := parser.ValidateSpeedProfiles(p); err != nil {
		return err
	}
	if p.Profiles == nil {
		p.Profiles = []models.SpeedProfile{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path != "" {
		data, err := parser.MarshalSpeedProfiles(p)
		if err != nil {
			return fmt.Errorf("encoding speed profiles: %w", err)
		}
		if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
			return fmt.Errorf("creating profile directory: %w", err)
		}
		tmp := s.path + ".tmp"
		if err := os.WriteFile(tmp, data, 0644); err != nil {
			return fmt.Errorf("writing speed profiles: %w", err)
		}
		if err := os.Rename(tmp, s.path); err != nil {
			os.Remove(tmp)
			return fmt.Errorf("writing speed profiles: %w", err)
		}
	}

	s.profiles = p
	return nil
}

// ProfileHandlerImpl implements the ProfileHandler interface
type ProfileHandlerImpl struct {
	store *ProfileStore
}

// NewProfileHandler creates a new profile handler
func NewProfileHandler(store *ProfileStore) ProfileHandler {
	return &ProfileHandlerImpl{store: store}
}

// HandleGetProfiles returns the profiles as JSON, or YAML when asked for it
func (h *ProfileHandlerImpl) HandleGetProfiles(c echo.Context) error {
	profiles := h.store.Get()

	if strings.Contains(c.Request().Header.Get(echo.HeaderAccept), "yaml") {
		data, err := parser.MarshalSpeedProfiles(profiles)
		if err != nil {
			return NewInternalError("failed to encode profiles", err)
		}
		return c.Blob(http.StatusOK, MIMEApplicationYAML, data)
	}

	return c.JSON(http.StatusOK, profiles)
}

// HandleUpdateProfiles replaces all profiles with the YAML document in the
// request body
func (h *ProfileHandlerImpl) HandleUpdateProfiles(c echo.Context) error {
	if h.store == nil {
		return NewServiceUnavailableError("profiles are not configured")
	}

	profiles, err := parser.ParseSpeedProfilesFromReader(c.Request().Body)
	if err != nil {
		return NewBadRequestError("invalid speed profiles", err)
	}

	if err := h.store.Replace(profiles); err != nil {
		return NewInternalError("failed to save profiles", err)
	}

	return c.JSON(http.StatusOK, h.store.Get())
}
