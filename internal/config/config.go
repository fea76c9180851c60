package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

var ErrInvalidProfile = errors.New("config: invalid device profile")

// Profile is the device set a relay announces on each new session, plus the
// synthetic motion parameters used to animate it.
type Profile struct {
	Name    string        `toml:"name" json:"name"`
	Devices []DeviceEntry `toml:"devices" json:"devices"`
	Motion  MotionConfig  `toml:"motion" json:"motion"`
}

type DeviceEntry struct {
	Name    string `toml:"name" json:"name,omitempty"`
	Class   string `toml:"class" json:"class"`
	Subtype uint32 `toml:"subtype" json:"subtype"`
}

type MotionConfig struct {
	// Radius is the controller orbit radius in meters.
	Radius float64 `toml:"radius" json:"radius"`
	// PeriodSeconds is the time for one full orbit.
	PeriodSeconds float64 `toml:"period_seconds" json:"period_seconds"`
	// Bob is the HMD vertical oscillation amplitude in meters.
	Bob float64 `toml:"bob" json:"bob"`
	// HeadHeight is the resting HMD height in meters.
	HeadHeight float64 `toml:"head_height" json:"head_height"`
}

func DefaultMotion() MotionConfig {
	return MotionConfig{
		Radius:        0.35,
		PeriodSeconds: 4,
		Bob:           0.05,
		HeadHeight:    1.7,
	}
}

// DefaultProfile is one HMD and two controllers.
func DefaultProfile() Profile {
	return Profile{
		Name: "default",
		Devices: []DeviceEntry{
			{Name: "head", Class: "hmd", Subtype: 13},
			{Name: "left", Class: "controller", Subtype: 22},
			{Name: "right", Class: "controller", Subtype: 22},
		},
		Motion: DefaultMotion(),
	}
}

func LoadProfile(path string) (Profile, error) {
	var cfg Profile
	if err := loadToml(path, &cfg); err != nil {
		return Profile{}, err
	}
	return normalizeProfile(cfg)
}

// ParseProfile decodes a profile document held in memory.
func ParseProfile(data []byte) (Profile, error) {
	var cfg Profile
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Profile{}, fmt.Errorf("config parse failed: %w", err)
	}
	return normalizeProfile(cfg)
}

func normalizeProfile(cfg Profile) (Profile, error) {
	if strings.TrimSpace(cfg.Name) == "" {
		cfg.Name = "profile"
	}
	def := DefaultMotion()
	if cfg.Motion.Radius == 0 {
		cfg.Motion.Radius = def.Radius
	}
	if cfg.Motion.PeriodSeconds == 0 {
		cfg.Motion.PeriodSeconds = def.PeriodSeconds
	}
	if cfg.Motion.HeadHeight == 0 {
		cfg.Motion.HeadHeight = def.HeadHeight
	}
	if err := ValidateProfile(cfg); err != nil {
		return Profile{}, err
	}
	return cfg, nil
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

func ValidateProfile(cfg Profile) error {
	if len(cfg.Devices) == 0 {
		return fmt.Errorf("%w: no devices", ErrInvalidProfile)
	}
	if _, err := cfg.Descriptors(); err != nil {
		return err
	}
	if cfg.Motion.Radius < 0 {
		return fmt.Errorf("%w: motion.radius must be >= 0", ErrInvalidProfile)
	}
	if cfg.Motion.PeriodSeconds <= 0 {
		return fmt.Errorf("%w: motion.period_seconds must be > 0", ErrInvalidProfile)
	}
	return nil
}
