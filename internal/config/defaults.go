package config

import (
	"os"
	"path/filepath"
	"strings"

	"friday/internal/domain"
)

// providerEnv maps provider names in settings to the env vars that seed them.
var providerEnv = map[string]string{
	"openai": "OPENAI_API_KEY",
	"gemini": "GEMINI_API_KEY",
	"claude": "CLAUDE_API_KEY",
}

// DefaultSettings returns baseline local configuration for first launch.
func DefaultSettings() domain.Settings {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}

	settings := domain.Settings{
		APIKeys:     make(map[string]string, len(providerEnv)),
		LibraryPath: filepath.Join(homeDir, "Documents", "Friday", "library"),
		LogLevel:    domain.LogLevelInfo,
	}
	for provider, env := range providerEnv {
		settings.APIKeys[provider] = strings.TrimSpace(os.Getenv(env))
	}
	if lib := strings.TrimSpace(os.Getenv("LIBRARY_PATH")); lib != "" {
		settings.LibraryPath = lib
	}
	if level := domain.LogLevel(strings.ToLower(strings.TrimSpace(os.Getenv("LOG_LEVEL")))); level.Valid() {
		settings.LogLevel = level
	}
	return settings
}
