// Package config loads server configuration and seed data.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/devserve/devserve/pkg/storage"
)

// Config is the full server configuration. Values absent from the config
// file keep their defaults; CLI flags may override them afterwards.
type Config struct {
	// Port is the HTTP listen port.
	Port int `yaml:"port"`

	// Identity names the unique credential field on user records.
	Identity string `yaml:"identity"`

	// Secret keys password hashing and token signing.
	Secret string `yaml:"secret"`

	// Throttle sets the initial state of the throttle flag.
	Throttle bool `yaml:"throttle"`

	// LogLevel and LogFormat configure the logger.
	LogLevel  string `yaml:"logLevel"`
	LogFormat string `yaml:"logFormat"`

	// DataDir holds JSON seed files, one public collection per file.
	DataDir string `yaml:"dataDir"`

	// Rules is the raw access-rule tree, parsed by the rules engine.
	Rules map[string]any `yaml:"rules"`

	// Protected seeds the protected instance.
	Protected Protected `yaml:"protected"`
}

// Protected holds seed data for the protected instance.
type Protected struct {
	// Users maps user id to user record. A plaintext "password" field is
	// hashed at seed time.
	Users map[string]map[string]any `yaml:"users"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Port:      3030,
		Identity:  "email",
		Secret:    "This is not a production server",
		LogLevel:  "info",
		LogFormat: "text",
	}
}

// Load reads a YAML config file over the defaults. An empty path returns
// the defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, nil
}

// SeedUsers converts the protected user block into storage records.
func (p Protected) SeedUsers() map[string]storage.Record {
	users := make(map[string]storage.Record, len(p.Users))
	for id, user := range p.Users {
		users[id] = storage.Record(user)
	}
	return users
}

// LoadSeedData reads every *.json file in dir as one public collection
// keyed by record id; the file's base name is the collection name. An empty
// dir name yields no collections.
func LoadSeedData(dir string) (map[string]map[string]storage.Record, error) {
	data := make(map[string]map[string]storage.Record)
	if dir == "" {
		return data, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading data dir: %w", err)
	}

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}

		raw, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("reading seed file %s: %w", name, err)
		}
		var records map[string]storage.Record
		if err := json.Unmarshal(raw, &records); err != nil {
			return nil, fmt.Errorf("parsing seed file %s: %w", name, err)
		}
		data[strings.TrimSuffix(name, ".json")] = records
	}
	return data, nil
}
