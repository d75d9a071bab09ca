// Copyright 2024-2026 Aiku AI

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/caarlos0/env/v11"
	up "go.mau.fi/util/configupgrade"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g.
// WA_RELAY_MATTERMOST_TOKEN.
const EnvPrefix = "WA_RELAY_"

// Load reads the config at path, merging it onto the embedded example so new
// keys get their defaults. With save set the merged file is written back.
// A missing file is replaced by the example and reported as
// ErrConfigurationMissing.
func Load(path string, save bool) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		if err = os.WriteFile(path, []byte(ExampleConfig), 0o600); err != nil {
			return nil, fmt.Errorf("failed to write example config: %w", err)
		}
		return nil, fmt.Errorf("%w: wrote example config to %s, edit it and restart", ErrConfigurationMissing, path)
	}

	data, _, err := up.Do(path, save, Upgrader())
	if err != nil {
		return nil, fmt.Errorf("failed to upgrade config: %w", err)
	}
	return Parse(data)
}

// Parse decodes merged YAML and applies environment overrides.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := ApplyEnv(&cfg, nil); err != nil {
		return nil, err
	}
	cfg.PostProcess()
	return &cfg, nil
}

// ApplyEnv overlays WA_RELAY_* variables onto cfg. A nil environment reads
// the process environment.
func ApplyEnv(cfg *Config, environment map[string]string) error {
	opts := env.Options{Prefix: EnvPrefix}
	if environment != nil {
		opts.Environment = environment
	}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return fmt.Errorf("failed to parse environment: %w", err)
	}
	return nil
}
