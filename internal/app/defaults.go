package app

import (
	"fmt"
	"os"
	"path/filepath"
)

// GetDefaults returns the kiosk's default paths. Each one comes from the first
// of these that is set:
//   - config_path: SAFEBOARD_CONFIG_PATH, $XDG_CONFIG_HOME/safeboard.toml, ~/.config/safeboard.toml
//   - base_dir: SAFEBOARD_HOME, $XDG_DATA_HOME/safeboard, ~/.local/share/safeboard
//
// log_dir is always base_dir/log.
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

// getConfigPath resolves the kiosk's TOML config file.
func getConfigPath() (string, error) {
	if path := os.Getenv("SAFEBOARD_CONFIG_PATH"); path != "" {
		return path, nil
	}
	dir, err := xdgDir("XDG_CONFIG_HOME", ".config")
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "safeboard.toml"), nil
}

// getBaseDir resolves where the SQLite store, keys and logs live.
func getBaseDir() (string, error) {
	if path := os.Getenv("SAFEBOARD_HOME"); path != "" {
		return path, nil
	}
	dir, err := xdgDir("XDG_DATA_HOME", filepath.Join(".local", "share"))
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "safeboard"), nil
}

// xdgDir returns $env when it is an absolute path, else ~/fallback.
func xdgDir(env, fallback string) (string, error) {
	if dir := os.Getenv(env); filepath.IsAbs(dir) {
		return dir, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, fallback), nil
}
