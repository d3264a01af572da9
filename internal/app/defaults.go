package app

import (
	"fmt"
	"os"
	"path/filepath"
)

// GetDefaults returns application default paths, checking environment variables first.
// Environment variables:
//   - DRIVEINGEST_CONFIG_PATH: config file location (default: ~/.config/driveingest.toml)
//   - DRIVEINGEST_HOME: base directory for driveingest data (default: ~/.local/share/driveingest)
func GetDefaults() (map[string]string, error) {
	configPath, err := getConfigPath()
	if err != nil {
		return nil, err
	}

	baseDir, err := getBaseDir()
	if err != nil {
		return nil, err
	}

	return map[string]string{
		"config_path": configPath,
		"base_dir":    baseDir,
		"log_dir":     filepath.Join(baseDir, "log"),
	}, nil
}

// getConfigPath returns the config file path, checking DRIVEINGEST_CONFIG_PATH first,
// then falling back to the default ~/.config/driveingest.toml.
func getConfigPath() (string, error) {
	if path := os.Getenv("DRIVEINGEST_CONFIG_PATH"); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "driveingest.toml"), nil
}

// getBaseDir returns the data directory, checking DRIVEINGEST_HOME first,
// then falling back to the XDG default ~/.local/share/driveingest.
func getBaseDir() (string, error) {
	if path := os.Getenv("DRIVEINGEST_HOME"); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "driveingest"), nil
}
