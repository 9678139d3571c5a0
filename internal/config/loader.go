package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/mpython77/instaapi-sub001/internal/ratelimit"
)

// DefaultConfigFile is the default configuration file name.
const DefaultConfigFile = ".instaapi"

// LoadConfigFile reads a YAML file over the defaults. If the file does not
// exist, it returns ErrConfigNotFound. Callers decide whether that matters
// based on whether the path was given explicitly.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // User-provided config path is intentional
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrConfigNotFound
		}
		return nil, err
	}

	cfg := NewConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if cfg.Categories == nil {
		cfg.Categories = make(map[string]ratelimit.Limit)
	}
	cfg.ConfigFilePath = path
	return cfg, nil
}

// FindConfigFile searches for the configuration file in the following order:
// 1. If configPath is specified, use it directly
// 2. Look for .instaapi in the current directory
// 3. Look for .instaapi in the user's home directory
// 4. Look for config.yaml in the XDG config directory
//
// Returns the path to the configuration file if found, or empty string if not found.
func FindConfigFile(configPath string) string {
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}
		return ""
	}

	cwd, err := os.Getwd()
	if err == nil {
		cwdConfig := filepath.Join(cwd, DefaultConfigFile)
		if _, err := os.Stat(cwdConfig); err == nil {
			return cwdConfig
		}
	}

	home, err := os.UserHomeDir()
	if err == nil {
		homeConfig := filepath.Join(home, DefaultConfigFile)
		if _, err := os.Stat(homeConfig); err == nil {
			return homeConfig
		}
	}

	xdgConfig := filepath.Join(XDGConfigDir(), "config.yaml")
	if _, err := os.Stat(xdgConfig); err == nil {
		return xdgConfig
	}

	return ""
}

// Load resolves the configuration file, falls back to defaults when none
// is found, and loads the accounts from the credential file. An explicit
// configPath that does not exist is an error.
func Load(configPath string) (*Config, error) {
	cfg := NewConfig()
	if path := FindConfigFile(configPath); path != "" {
		loaded, err := LoadConfigFile(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else if configPath != "" {
		return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, configPath)
	}

	if cfg.CredentialsFile != "" {
		accounts, err := LoadCredentials(cfg.CredentialsFile)
		switch {
		case err == nil:
			cfg.Accounts = accounts
		case errors.Is(err, os.ErrNotExist) && cfg.CredentialsFile == DefaultCredentialsFile:
			// The default file is optional.
		default:
			return nil, err
		}
	}
	return cfg, nil
}
