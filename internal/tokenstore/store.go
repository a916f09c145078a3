// Package tokenstore keeps the sigmo API token in a private TOML file.
package tokenstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
)

// ErrNoToken is returned when no token has been saved.
var ErrNoToken = errors.New("no token saved")

type credentials struct {
	Token   string    `toml:"token"`
	SavedAt time.Time `toml:"saved_at"`
}

// Store reads and writes the token file.
type Store struct {
	path string
	mu   sync.Mutex
}

// New returns a store backed by the file at path.
func New(path string) *Store {
	return &Store{path: path}
}

// Path returns the token file location.
func (s *Store) Path() string {
	return s.path
}

// Load returns the saved token.
func (s *Store) Load() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var c credentials
	if _, err := toml.DecodeFile(s.path, &c); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", ErrNoToken
		}
		return "", fmt.Errorf("read token file: %w", err)
	}
	token := strings.TrimSpace(c.Token)
	if token == "" {
		return "", ErrNoToken
	}
	return token, nil
}

// Token returns the saved token, or an empty string when none is available.
// It satisfies esim.TokenSource.
func (s *Store) Token() string {
	token, err := s.Load()
	if err != nil {
		return ""
	}
	return token
}

// Save writes token to the file with owner-only permissions.
func (s *Store) Save(token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return errors.New("token is empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("mkdir token dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".credentials-*")
	if err != nil {
		return fmt.Errorf("create token file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod token file: %w", err)
	}
	if err := toml.NewEncoder(tmp).Encode(credentials{Token: token, SavedAt: time.Now().UTC()}); err != nil {
		tmp.Close()
		return fmt.Errorf("encode token file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write token file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace token file: %w", err)
	}
	return nil
}

// Clear removes the token file. A missing file is not an error.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove token file: %w", err)
	}
	return nil
}

// Mask hides all but the last four characters of a token.
func Mask(token string) string {
	if len(token) <= 4 {
		return strings.Repeat("*", len(token))
	}
	return strings.Repeat("*", len(token)-4) + token[len(token)-4:]
}
