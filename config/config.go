// Package config persists the proxy's settings as JSON in the user's data
// directory.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/hashicorp/go-hclog"
	"github.com/mitchellh/go-homedir"
)

const fileName = "config.json"

// Config is every tunable the proxy reads at startup. The zero value is
// not usable; start from Defaults.
type Config struct {
	LocalHost  string `json:"local_host"`
	LocalPort  int    `json:"local_port"`
	RemoteHost string `json:"remote_host"`
	RemotePort int    `json:"remote_port"`
	NoTLS      bool   `json:"no_tls"`

	OutputFormat     string `json:"output_format"`
	PromptTerminator string `json:"prompt_terminator"`
	GagPrompts       bool   `json:"gag_prompts"`
	Charset          string `json:"charset"`
	FindFormat       string `json:"find_format"`

	// Editor and Pager override TINTINEDITOR and TINTINPAGER for MPI
	// remote editing sessions.
	Editor string `json:"editor"`
	Pager  string `json:"pager"`

	AutoMapping     bool `json:"auto_mapping"`
	AutoUpdateRooms bool `json:"auto_update_rooms"`

	// MapDir holds the map and label databases; "" means DataDir.
	MapDir string `json:"map_dir"`
}

// Defaults returns the stock configuration.
func Defaults() Config {
	return Config{
		LocalHost:    "127.0.0.1",
		LocalPort:    4000,
		RemoteHost:   "mume.org",
		RemotePort:   4242,
		OutputFormat: "normal",
		Charset:      "us-ascii",
		FindFormat:   "{vnum}, {name}, {attribute}",
	}
}

// DataDir resolves the directory holding the config file and, by default,
// the map databases.
func DataDir() (string, error) {
	home, err := homedir.Dir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "mapperproxy"), nil
	}
	return filepath.Join(home, ".mapperproxy"), nil
}

// Store is a Config bound to its file. Safe for concurrent use.
type Store struct {
	logger hclog.Logger

	mu      sync.Mutex
	dir     string
	current Config
}

// Load reads dir/config.json, falling back to defaults when the file is
// absent or corrupt. A corrupt file is reported, never fatal.
func Load(logger hclog.Logger, dir string) *Store {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	s := &Store{logger: logger, dir: dir, current: Defaults()}
	path := filepath.Join(dir, fileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Warn("cannot read config, using defaults", "path", path, "error", err)
		}
		return s
	}
	cfg := Defaults()
	if err := json.Unmarshal(data, &cfg); err != nil {
		logger.Warn("corrupted config file, using defaults", "path", path, "error", err)
		return s
	}
	s.current = cfg
	return s
}

// Get returns a copy of the current configuration.
func (s *Store) Get() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Update applies fn to the configuration and saves the result.
func (s *Store) Update(fn func(*Config)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.current)
	return s.save()
}

// Save writes the configuration.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save()
}

func (s *Store) save() error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	data, err := json.MarshalIndent(s.current, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	path := filepath.Join(s.dir, fileName)
	tmp, err := os.CreateTemp(s.dir, fileName+".*")
	if err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("writing config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("writing config: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}
