package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/ARS-GmbH/Bachelor-Hsieh-Kai-Chun/internal/plugins/remotevision"
	"github.com/ARS-GmbH/Bachelor-Hsieh-Kai-Chun/internal/store"
)

// Config holds runtime parameters for the service.
// Zero values mean "unspecified" and will be replaced by defaults in main.
type Config struct {
	Addr     string `json:"addr" yaml:"addr" toml:"addr"`
	DataDir  string `json:"data_dir" yaml:"data_dir" toml:"data_dir"`
	LogLevel string `json:"log_level" yaml:"log_level" toml:"log_level"`

	DB store.Config `json:"db" yaml:"db" toml:"db"`

	// RemoteVision enables the hosted classifier plugin when an endpoint is
	// configured.
	RemoteVision remotevision.Config `json:"remote_vision" yaml:"remote_vision" toml:"remote_vision"`

	CORS struct {
		Enabled bool     `json:"enabled" yaml:"enabled" toml:"enabled"`
		Origins []string `json:"origins" yaml:"origins" toml:"origins"`
		Methods []string `json:"methods" yaml:"methods" toml:"methods"`
		Headers []string `json:"headers" yaml:"headers" toml:"headers"`
	} `json:"cors" yaml:"cors" toml:"cors"`

	MaxBodyBytes   int64 `json:"max_body_bytes" yaml:"max_body_bytes" toml:"max_body_bytes"`
	MaxUploadBytes int64 `json:"max_upload_bytes" yaml:"max_upload_bytes" toml:"max_upload_bytes"`
}

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, nil
}
