package models

// SpeedProfile is a named speed limit used for over-speed statistics.
type SpeedProfile struct {
	Name        string  `json:"name" yaml:"name"`
	LimitKmh    float64 `json:"limitKmh" yaml:"limitKmh"`
	Description string  `json:"description,omitempty" yaml:"description,omitempty"`
}

// SpeedProfiles is the YAML document holding all profiles.
type SpeedProfiles struct {
	Default  string         `json:"default" yaml:"default"`
	Profiles []SpeedProfile `json:"profiles" yaml:"profiles"`
}

// Find returns the profile with the given name.
func (p *SpeedProfiles) Find(name string) (SpeedProfile, bool) {
	if p == nil {
		return SpeedProfile{}, false
	}
	for _, sp := range p.Profiles {
		if sp.Name == name {
			return sp, true
		}
	}
	return SpeedProfile{}, false
}

// DefaultProfile returns the profile named by Default.
func (p *SpeedProfiles) DefaultProfile() (SpeedProfile, bool) {
	if p == nil || p.Default == "" {
		return SpeedProfile{}, false
	}
	return p.Find(p.Default)
}
