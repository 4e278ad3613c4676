package storage

import (
	"errors"
	"fmt"
	"sync"

	"github.com/amflab/foamgen/internal/porosity"
	"github.com/amflab/foamgen/internal/synth"
)

// ErrInvalidSettings indicates the provided default settings violate
// validation rules.
var ErrInvalidSettings = errors.New("invalid default settings")

// Settings is the generation setup handed to runs that do not bring their
// own: the user-facing targets plus the low-level drawing parameters.
type Settings struct {
	UserConfig synth.UserConfig
	Parameters synth.Parameters
}

// Storage provides access to the default generation settings used by the
// service.
type Storage interface {
	GetDefaults() (Settings, error)
	SetDefaults(settings Settings) error
}

// MemoryStorage keeps the default settings in-memory and guards access with
// a RWMutex.
type MemoryStorage struct {
	mu       sync.RWMutex
	defaults Settings
}

// NewMemoryStorage initialises storage with the built-in default settings.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		defaults: DefaultSettings(),
	}
}

// DefaultSettings returns the built-in generation setup: a 40px layer at the
// 1.25 width ratio, targeting 50% total and 40% foam pore porosity.
func DefaultSettings() Settings {
	return Settings{
		UserConfig: synth.UserConfig{
			LayerHeight:     40,
			LayerWidthRatio: 1.25,
			OutputDir:       "output",
			Desired:         porosity.Porosities{Total: 50, ByFoamPores: 40},
		},
		Parameters: synth.DefaultParameters(),
	}
}

// GetDefaults returns the currently configured default settings. Settings is
// a value type, so callers cannot mutate the stored state through it.
func (s *MemoryStorage) GetDefaults() (Settings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.defaults, nil
}

// SetDefaults validates and stores the provided default settings.
func (s *MemoryStorage) SetDefaults(settings Settings) error {
	if err := settings.UserConfig.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSettings, err)
	}
	if err := settings.Parameters.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSettings, err)
	}

	s.mu.Lock()
	s.defaults = settings
	s.mu.Unlock()

	return nil
}
