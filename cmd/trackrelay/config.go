package main

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/trackrelay/internal/config"
	"github.com/danmuck/trackrelay/internal/relay"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

type fileConfig struct {
	ListenAddr       string   `toml:"listen_addr"`
	AdminAddr        string   `toml:"admin_addr"`
	CadenceHz        float64  `toml:"cadence_hz"`
	HandshakeTimeout string   `toml:"handshake_timeout"`
	WriteTimeout     string   `toml:"write_timeout"`
	IdentMaxBytes    int      `toml:"ident_max_bytes"`
	Profile          string   `toml:"profile"`
	CORSOrigins      []string `toml:"cors_origins"`
}

// appConfig is everything `serve` needs: the relay itself plus the optional
// admin listener.
type appConfig struct {
	Service     relay.ServiceConfig
	AdminAddr   string
	CORSOrigins []string
	ProfilePath string
}

func defaultAppConfig() appConfig {
	return appConfig{Service: relay.DefaultServiceConfig()}
}

// loadAppConfig reads path on top of the defaults. A relative profile path
// resolves against the config file's directory.
func loadAppConfig(path string) (appConfig, error) {
	cfg := defaultAppConfig()
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return appConfig{}, fmt.Errorf("load relay config: %w", err)
	}

	if meta.IsDefined("listen_addr") {
		cfg.Service.ListenAddr = strings.TrimSpace(raw.ListenAddr)
	}

	if meta.IsDefined("admin_addr") {
		cfg.AdminAddr = strings.TrimSpace(raw.AdminAddr)
	}

	if meta.IsDefined("cadence_hz") {
		cfg.Service.CadenceHz = raw.CadenceHz
	}

	if meta.IsDefined("handshake_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.HandshakeTimeout))
		if err != nil {
			return appConfig{}, fmt.Errorf("parse handshake_timeout: %w", err)
		}
		cfg.Service.Session.HandshakeTimeout = d
	}

	if meta.IsDefined("write_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.WriteTimeout))
		if err != nil {
			return appConfig{}, fmt.Errorf("parse write_timeout: %w", err)
		}
		cfg.Service.Session.WriteTimeout = d
	}

	if meta.IsDefined("ident_max_bytes") {
		cfg.Service.Session.IdentMaxBytes = raw.IdentMaxBytes
	}

	if meta.IsDefined("cors_origins") {
		cfg.CORSOrigins = normalizeOrigins(raw.CORSOrigins)
	}

	if meta.IsDefined("profile") {
		p := strings.TrimSpace(raw.Profile)
		if p != "" && !filepath.IsAbs(p) {
			p = filepath.Join(filepath.Dir(path), p)
		}
		cfg.ProfilePath = p
	}

	return cfg, nil
}

// applyFlags overrides file values with the flags set on the command line.
func applyFlags(cmd *cobra.Command, cfg *appConfig) error {
	var err error
	cmd.Flags().Visit(func(f *pflag.Flag) {
		if err != nil {
			return
		}
		v := f.Value.String()
		switch f.Name {
		case "listen":
			cfg.Service.ListenAddr = v
		case "admin":
			cfg.AdminAddr = v
		case "profile":
			cfg.ProfilePath = v
		case "cadence":
			cfg.Service.CadenceHz, err = cmd.Flags().GetFloat64("cadence")
		}
	})
	return err
}

// finish loads the profile, if any, and validates the result.
func (c *appConfig) finish() error {
	if c.ProfilePath != "" {
		profile, err := config.LoadProfile(c.ProfilePath)
		if err != nil {
			return err
		}
		c.Service.Profile = profile
	}
	return c.Service.Validate()
}

func normalizeOrigins(in []string) []string {
	out := make([]string, 0, len(in))
	for _, origin := range in {
		v := strings.TrimSpace(origin)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
