package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds application configuration for the store server and the
// client engines.
type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	Database struct {
		Path string `yaml:"path"` // sqlite path
	} `yaml:"database"`

	Redis struct {
		URL string `yaml:"url"` // empty means in-memory rejection sets
	} `yaml:"redis"`

	Taxonomy struct {
		Path string `yaml:"path"` // bundled taxonomy YAML
	} `yaml:"taxonomy"`

	Client struct {
		BaseURL    string `yaml:"base_url"`
		CacheSize  int    `yaml:"cache_size"`
		DebounceMS int    `yaml:"debounce_ms"`
		SavedMS    int    `yaml:"saved_ms"`
	} `yaml:"client"`
}

// Debounce returns the auto-save debounce as a duration.
func (c *Config) Debounce() time.Duration {
	return time.Duration(c.Client.DebounceMS) * time.Millisecond
}

// SavedFor returns how long the saved indicator stays up.
func (c *Config) SavedFor() time.Duration {
	return time.Duration(c.Client.SavedMS) * time.Millisecond
}

// LoadConfig loads configuration from a YAML file.
func LoadConfig(configPath string) (*Config, error) {
	config := &Config{}

	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	if err := decoder.Decode(config); err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}

	// Set defaults
	if config.Server.Port == "" {
		config.Server.Port = "8003"
	}
	if config.Database.Path == "" {
		config.Database.Path = "./data/textmark.db"
	}
	if config.Taxonomy.Path == "" {
		config.Taxonomy.Path = "configs/taxonomy.yml"
	}
	if config.Client.CacheSize == 0 {
		config.Client.CacheSize = 128
	}
	if config.Client.DebounceMS == 0 {
		config.Client.DebounceMS = 1000
	}
	if config.Client.SavedMS == 0 {
		config.Client.SavedMS = 2000
	}

	config.Redis.URL = os.ExpandEnv(config.Redis.URL)

	return config, nil
}
