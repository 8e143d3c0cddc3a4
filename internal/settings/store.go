// Package settings reads the file-backed settings store maintained by the UI.
// This core only reads it; writes belong to the settings screen.
package settings

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/pingone-bulk-users/internal/models"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

// Keys used by the settings file
const (
	KeyEnvironmentID = "environmentId"
	KeyClientID      = "apiClientId"
	KeyClientSecret  = "apiSecret"
	KeyRegion        = "region"
	KeyPopulationID  = "populationId"
)

// Store is a read-only view of the persisted settings file
type Store struct {
	v        *viper.Viper
	log      zerolog.Logger
	mu       sync.RWMutex
	snapshot map[string]string
}

// Load reads the settings file at path. A missing file yields an empty store.
func Load(path string, log zerolog.Logger) (*Store, error) {
	s := &Store{
		v:        viper.New(),
		log:      log.With().Str("component", "settings").Logger(),
		snapshot: map[string]string{},
	}
	if path == "" {
		return s, nil
	}

	s.v.SetConfigFile(path)
	if strings.HasSuffix(path, ".json") {
		s.v.SetConfigType("json")
	}
	if err := s.v.ReadInConfig(); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.log.Warn().Str("path", path).Msg("Settings file not found, using environment only")
			return s, nil
		}
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			s.log.Warn().Str("path", path).Msg("Settings file not found, using environment only")
			return s, nil
		}
		return nil, fmt.Errorf("failed to read settings file: %w", err)
	}
	s.refresh()

	s.v.OnConfigChange(func(e fsnotify.Event) {
		s.refresh()
		s.log.Info().Str("path", e.Name).Msg("Settings reloaded")
	})
	s.v.WatchConfig()

	s.log.Info().Str("path", path).Int("keys", len(s.snapshot)).Msg("Settings loaded")
	return s, nil
}

// FromMap builds a store from in-memory values
func FromMap(values map[string]string) *Store {
	s := &Store{v: viper.New(), log: zerolog.Nop(), snapshot: map[string]string{}}
	for k, val := range values {
		s.v.Set(k, val)
	}
	s.refresh()
	return s
}

func (s *Store) refresh() {
	next := make(map[string]string)
	for _, key := range s.v.AllKeys() {
		next[key] = strings.TrimSpace(s.v.GetString(key))
	}
	s.mu.Lock()
	s.snapshot = next
	s.mu.Unlock()
}

// Get returns the trimmed value for key, or "" when absent
func (s *Store) Get(key string) string {
	if s == nil {
		return ""
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot[strings.ToLower(key)]
}

// Credentials returns the stored worker application credentials
func (s *Store) Credentials() models.Credentials {
	return models.Credentials{
		ClientID:      s.Get(KeyClientID),
		ClientSecret:  s.Get(KeyClientSecret),
		EnvironmentID: s.Get(KeyEnvironmentID),
		Region:        s.Get(KeyRegion),
	}
}
