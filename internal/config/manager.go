package config

import (
	"fmt"
	"strings"
	"sync"

	"friday/internal/domain"
)

// Manager is the single owned, lock-guarded mirror of the persisted settings.
type Manager struct {
	store Store

	mu        sync.RWMutex
	current   domain.Settings
	listeners []func(domain.Settings)
}

// NewManager loads settings once from store.
func NewManager(store Store) (*Manager, error) {
	settings, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	return &Manager{store: store, current: settings.Clone()}, nil
}

// Get returns a copy of the current settings.
func (m *Manager) Get() domain.Settings {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current.Clone()
}

// Update replaces the whole record. It is persisted before it becomes visible.
func (m *Manager) Update(settings domain.Settings) error {
	if err := ValidateSettings(settings); err != nil {
		return err
	}
	next := settings.Clone()

	m.mu.Lock()
	if err := m.store.Save(next); err != nil {
		m.mu.Unlock()
		return domain.IOError(err, "save settings")
	}
	m.current = next
	listeners := append([]func(domain.Settings){}, m.listeners...)
	m.mu.Unlock()

	for _, fn := range listeners {
		fn(next.Clone())
	}
	return nil
}

// OnChange registers fn to run after every successful Update.
func (m *Manager) OnChange(fn func(domain.Settings)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// ValidateSettings checks structural shape only; credentials are checked
// lazily by the stage that uses them.
func ValidateSettings(settings domain.Settings) error {
	if strings.TrimSpace(settings.LibraryPath) == "" {
		return domain.Validationf("library path is required")
	}
	if !settings.LogLevel.Valid() {
		return domain.Validationf("log level %q must be one of debug, info, warning, error", settings.LogLevel)
	}
	for name := range settings.APIKeys {
		if strings.TrimSpace(name) == "" {
			return domain.Validationf("api key provider name must not be empty")
		}
	}
	return nil
}
