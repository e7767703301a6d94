package parser

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/gpx-analyzer/backend/internal/models"
	"gopkg.in/yaml.v3"
)

// ParseSpeedProfiles parses a YAML file of named speed limits.
//
//	default: city
//	profiles:
//	  - name: city
//	    limitKmh: 60
func ParseSpeedProfiles(filePath string) (*models.SpeedProfiles, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return ParseSpeedProfilesFromReader(file)
}

// ParseSpeedProfilesFromReader parses profiles from an io.Reader and validates them.
func ParseSpeedProfilesFromReader(r io.Reader) (*models.SpeedProfiles, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	var profiles models.SpeedProfiles
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&profiles); err != nil && err != io.EOF {
		return nil, fmt.Errorf("decoding speed profiles: %w", err)
	}

	if err := ValidateSpeedProfiles(&profiles); err != nil {
		return nil, err
	}
	return &profiles, nil
}

// ValidateSpeedProfiles checks that names are present and unique and that the
// default, when set, names an existing profile.
func ValidateSpeedProfiles(p *models.SpeedProfiles) error {
	seen := make(map[string]struct{}, len(p.Profiles))
	for i, sp := range p.Profiles {
		if sp.Name == "" {
			return fmt.Errorf("profile %d: name is required", i)
		}
		if _, dup := seen[sp.Name]; dup {
			return fmt.Errorf("profile %q defined twice", sp.Name)
		}
		seen[sp.Name] = struct{}{}
	}
	if p.Default != "" {
		if _, ok := seen[p.Default]; !ok {
			return fmt.Errorf("default profile %q is not defined", p.Default)
		}
	}
	return nil
}

// MarshalSpeedProfiles renders profiles back to YAML.
func MarshalSpeedProfiles(p *models.SpeedProfiles) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(p); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
