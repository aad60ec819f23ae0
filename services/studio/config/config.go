// Copyright (C) 2025 Zachary Marion
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package config loads and validates the studio's YAML configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML accepts "30m" style strings.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the full studio configuration. Zero values fall back to
// Default; validation runs after merge.
type Config struct {
	// Listen is the HTTP bind address.
	Listen string `yaml:"listen" validate:"required,hostname_port"`
	// OpenSCADPath overrides executable discovery when set.
	OpenSCADPath string `yaml:"openscad_path" validate:"omitempty,file"`
	// CacheDir holds render artifacts and temp files.
	CacheDir string `yaml:"cache_dir" validate:"required"`
	// DataDir holds the conversation store.
	DataDir string `yaml:"data_dir" validate:"required"`
	// HistoryCapacity bounds the checkpoint timeline.
	HistoryCapacity int `yaml:"history_capacity" validate:"gte=0,lte=1000"`
	// CacheMaxAge ages out render cache entries; zero disables the
	// sweeper.
	CacheMaxAge Duration `yaml:"cache_max_age" validate:"gte=0"`
	// Provider is the default AI provider for agent queries.
	Provider string `yaml:"provider" validate:"omitempty,oneof=anthropic openai"`
	// Model is the default model name; empty uses the provider default.
	Model string `yaml:"model"`
	// LogLevel filters log output.
	LogLevel string `yaml:"log_level" validate:"omitempty,oneof=debug info warn error"`
	// LogDir, when set, adds a JSON log file under it.
	LogDir string `yaml:"log_dir"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	cacheRoot, err := os.UserCacheDir()
	if err != nil {
		cacheRoot = os.TempDir()
	}
	return Config{
		Listen:          "127.0.0.1:8080",
		CacheDir:        filepath.Join(cacheRoot, "openscad-studio"),
		DataDir:         filepath.Join(cacheRoot, "openscad-studio", "data"),
		HistoryCapacity: 50,
		CacheMaxAge:     Duration(time.Hour),
		Provider:        "anthropic",
		LogLevel:        "info",
	}
}

// Load reads a YAML file over the defaults and validates the result.
// An empty path returns the validated defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the struct tags and returns the first violation.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			f := verrs[0]
			return fmt.Errorf("config field %s failed %q validation", f.Field(), f.Tag())
		}
		return fmt.Errorf("validate config: %w", err)
	}
	return nil
}
