package platform

import (
	"os"
	"path/filepath"
	"strings"
)

const appName = "llmeter"

// ConfigDir resolves the directory holding auth.json and settings.json.
// LLMETER_CONFIG_DIR wins, then $XDG_CONFIG_HOME/llmeter, then ~/.config/llmeter.
func ConfigDir() (string, error) {
	if dir := strings.TrimSpace(os.Getenv("LLMETER_CONFIG_DIR")); dir != "" {
		return dir, nil
	}
	if base := strings.TrimSpace(os.Getenv("XDG_CONFIG_HOME")); base != "" {
		return filepath.Join(base, appName), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", appName), nil
}

func AuthFilePath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "auth.json"), nil
}

func SettingsFilePath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "settings.json"), nil
}

func EnsureConfigDir() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	return dir, nil
}
