package app

import (
	"fmt"
	"os"
	"path/filepath"

	"dagback/internal/config"
)

// GetDefaults returns application default paths, checking environment variables first.
// Environment variables:
//   - DAGBACK_CONFIG_PATH: config file location (default: ~/.config/dagback.toml)
//   - DAGBACK_HOME: base directory for dagback data (default: ~/.local/share/dagback)
//
// log_dir, data_dir, and repository_dir are derived from base_dir through
// config.NewConfig rather than re-joining path segments here, so a fresh
// install's directory layout (log/cache/repository under one base_dir) has
// exactly one place it's defined.
func GetDefaults() (map[string]string, error) {
	configPath, err := getConfigPath()
	if err != nil {
		return nil, err
	}

	baseDir, err := getBaseDir()
	if err != nil {
		return nil, err
	}

	placeholder := config.NewConfig("", baseDir)

	return map[string]string{
		"config_path":    configPath,
		"base_dir":       baseDir,
		"log_dir":        placeholder.LogDir,
		"data_dir":       placeholder.Database.DataDir,
		"repository_dir": placeholder.Backend.FSRoot,
	}, nil
}

// getConfigPath returns the config file path, checking DAGBACK_CONFIG_PATH env var first,
// then falling back to the default ~/.config/dagback.toml.
func getConfigPath() (string, error) {
	if path := os.Getenv("DAGBACK_CONFIG_PATH"); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "dagback.toml"), nil
}

// getBaseDir returns the base directory for dagback data, checking DAGBACK_HOME env var first,
// then falling back to the XDG default ~/.local/share/dagback.
func getBaseDir() (string, error) {
	if path := os.Getenv("DAGBACK_HOME"); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "dagback"), nil
}
