package config

import (
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"friday/internal/domain"
)

type failingStore struct {
	settings domain.Settings
	saveErr  error
}

func (s *failingStore) Load() (domain.Settings, error) { return s.settings, nil }
func (s *failingStore) Save(domain.Settings) error     { return s.saveErr }

func TestManagerUpdateRoundTrip(t *testing.T) {
	store := NewJSONStore(filepath.Join(t.TempDir(), "settings.json"))
	m, err := NewManager(store)
	require.NoError(t, err)

	want := domain.Settings{
		APIKeys:     map[string]string{"openai": "sk-a", "claude": ""},
		LibraryPath: "/data/library",
		LogLevel:    domain.LogLevelDebug,
	}
	require.NoError(t, m.Update(want))
	assert.True(t, m.Get().Equal(want))

	reloaded, err := NewManager(store)
	require.NoError(t, err)
	assert.True(t, reloaded.Get().Equal(want))
}

func TestManagerGetReturnsCopy(t *testing.T) {
	m, err := NewManager(&failingStore{settings: domain.Settings{
		APIKeys:     map[string]string{"openai": "sk-a"},
		LibraryPath: "/lib",
		LogLevel:    domain.LogLevelInfo,
	}})
	require.NoError(t, err)

	got := m.Get()
	got.APIKeys["openai"] = "mutated"
	assert.Equal(t, "sk-a", m.Get().APIKey("openai"))
}

func TestManagerRejectsStructurallyInvalid(t *testing.T) {
	m, err := NewManager(&failingStore{settings: DefaultSettings()})
	require.NoError(t, err)

	err = m.Update(domain.Settings{LibraryPath: "/lib", LogLevel: "verbose"})
	assert.ErrorIs(t, err, domain.ErrValidation)

	err = m.Update(domain.Settings{LibraryPath: " ", LogLevel: domain.LogLevelInfo})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestManagerSaveFailureKeepsPrevious(t *testing.T) {
	initial := domain.Settings{LibraryPath: "/lib", LogLevel: domain.LogLevelInfo, APIKeys: map[string]string{}}
	store := &failingStore{settings: initial, saveErr: errors.New("disk full")}
	m, err := NewManager(store)
	require.NoError(t, err)

	err = m.Update(domain.Settings{LibraryPath: "/other", LogLevel: domain.LogLevelError})
	assert.ErrorIs(t, err, domain.ErrIO)
	assert.True(t, m.Get().Equal(initial))
}

func TestManagerNotifiesListeners(t *testing.T) {
	m, err := NewManager(&failingStore{settings: DefaultSettings()})
	require.NoError(t, err)

	var got domain.LogLevel
	m.OnChange(func(s domain.Settings) { got = s.LogLevel })

	require.NoError(t, m.Update(domain.Settings{LibraryPath: "/lib", LogLevel: domain.LogLevelError}))
	assert.Equal(t, domain.LogLevelError, got)
}

func TestManagerConcurrentAccess(t *testing.T) {
	store := NewJSONStore(filepath.Join(t.TempDir(), "settings.json"))
	m, err := NewManager(store)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = m.Update(domain.Settings{LibraryPath: "/lib", LogLevel: domain.LogLevelInfo, APIKeys: map[string]string{"openai": "k"}})
		}()
		go func() {
			defer wg.Done()
			_ = m.Get()
		}()
	}
	wg.Wait()

	assert.Equal(t, "k", m.Get().APIKey("openai"))
}

func TestManagerKeepsNilAPIKeys(t *testing.T) {
	store := NewJSONStore(filepath.Join(t.TempDir(), "settings.json"))
	m, err := NewManager(store)
	require.NoError(t, err)

	require.NoError(t, m.Update(domain.Settings{LibraryPath: "/lib", LogLevel: domain.LogLevelInfo}))
	assert.Nil(t, m.Get().APIKeys)

	reloaded, err := NewManager(store)
	require.NoError(t, err)
	assert.Nil(t, reloaded.Get().APIKeys)
}
