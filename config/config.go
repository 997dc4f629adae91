// Package config persists the OAuth token between runs. Credentials are an
// explicitly passed value with a load/save/clear lifecycle, never ambient
// process state.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

type Config struct {
	OAuthToken string `yaml:"oauth_token,omitempty"`
}

// Store reads and writes the config file at a fixed path.
type Store struct {
	path string
}

func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if nil != err {
		return "", fmt.Errorf("failed to determine user config directory: %v", err)
	}
	return filepath.Join(dir, "scdl", "config.yaml"), nil
}

// Open returns a Store at the default path, creating the parent directory if
// needed.
func Open() (*Store, error) {
	path, err := DefaultPath()
	if nil != err {
		return nil, err
	}
	return OpenAt(path)
}

// OpenAt returns a Store at an explicit path. Tests use it to keep the real
// config file out of the way.
func OpenAt(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o0755); nil != err {
		return nil, fmt.Errorf("failed to create config directory: %v", err)
	}
	return &Store{path: path}, nil
}

// Load reads the stored config. A missing file yields an empty config, not an
// error.
func (s *Store) Load() (*Config, error) {
	data, err := os.ReadFile(s.path)
	if nil != err {
		if errors.Is(err, os.ErrNotExist) {
			return &Config{OAuthToken: ""}, nil
		}
		return nil, fmt.Errorf("failed to read config file %q: %v", s.path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); nil != err {
		return nil, fmt.Errorf("failed to unmarshal config file %q: %v", s.path, err)
	}
	return &cfg, nil
}

// SaveToken stores token for future runs. The file is written 0600 since it
// carries a credential.
func (s *Store) SaveToken(token string) error {
	return s.write(Config{OAuthToken: token})
}

// ClearToken removes the stored token.
func (s *Store) ClearToken() error {
	return s.write(Config{OAuthToken: ""})
}

func (s *Store) write(cfg Config) error {
	data, err := yaml.Marshal(cfg)
	if nil != err {
		return fmt.Errorf("failed to marshal config: %v", err)
	}
	if err := os.WriteFile(s.path, data, 0o0600); nil != err {
		return fmt.Errorf("failed to write config file %q: %v", s.path, err)
	}
	return nil
}
