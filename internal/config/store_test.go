package config

import (
	"os"
	"path/filepath"
	"testing"

	"friday/internal/domain"
)

// TestDefaultSettings verifies baseline defaults are present.
func TestDefaultSettings(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-env")
	t.Setenv("LIBRARY_PATH", "")
	t.Setenv("LOG_LEVEL", "")

	cfg := DefaultSettings()
	if cfg.LogLevel != domain.LogLevelInfo {
		t.Fatalf("log level = %q, want info", cfg.LogLevel)
	}
	if cfg.LibraryPath == "" {
		t.Fatal("expected non-empty library path")
	}
	if got := cfg.APIKey("openai"); got != "sk-env" {
		t.Fatalf("openai key = %q, want sk-env", got)
	}
	if _, ok := cfg.APIKeys["claude"]; !ok {
		t.Fatal("expected claude provider slot")
	}
}

// TestDefaultSettingsEnvOverrides checks LIBRARY_PATH and LOG_LEVEL seeding.
func TestDefaultSettingsEnvOverrides(t *testing.T) {
	t.Setenv("LIBRARY_PATH", "/srv/library")
	t.Setenv("LOG_LEVEL", "DEBUG")

	cfg := DefaultSettings()
	if cfg.LibraryPath != "/srv/library" {
		t.Fatalf("library path = %q", cfg.LibraryPath)
	}
	if cfg.LogLevel != domain.LogLevelDebug {
		t.Fatalf("log level = %q, want debug", cfg.LogLevel)
	}
}

// TestJSONStoreLoadMissingReturnsDefaults checks first-run behavior.
func TestJSONStoreLoadMissingReturnsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "settings.json")
	store := NewJSONStore(path)

	got, err := store.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got.LogLevel != domain.LogLevelInfo {
		t.Fatalf("log level = %q, want info", got.LogLevel)
	}
}

// TestJSONStoreSaveAndLoadRoundTrip checks persisted settings fidelity.
func TestJSONStoreSaveAndLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg", "settings.json")
	store := NewJSONStore(path)
	want := domain.Settings{
		APIKeys:     map[string]string{"openai": "sk-1", "gemini": ""},
		LibraryPath: "/library",
		LogLevel:    domain.LogLevelWarning,
	}

	if err := store.Save(want); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err := store.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !got.Equal(want) {
		t.Fatalf("settings = %+v, want %+v", got, want)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("mode = %v, want 0600", info.Mode().Perm())
	}
	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Fatalf("expected only settings.json, got %d entries", len(entries))
	}
}

// TestJSONStoreLoadInvalidJSON checks parse error handling.
func TestJSONStoreLoadInvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg", "settings.json")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte("{not-json"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	store := NewJSONStore(path)
	if _, err := store.Load(); err == nil {
		t.Fatal("expected json parse error")
	}
}
