package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// ErrUnsupportedFormat is returned for config files whose extension is not
// .yaml, .yml or .toml.
var ErrUnsupportedFormat = errors.New("unsupported config file format")

// LoadFile reads a config overlay, choosing the codec by extension. A
// missing file is not an error: it returns a nil overlay, so defaults
// apply unchanged.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var f File
	switch ext := filepath.Ext(path); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("parse yaml config %s: %w", path, err)
		}
	case ".toml":
		if err := toml.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("parse toml config %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
	return &f, nil
}

// Load resolves the effective configuration: defaults, then the file
// overlay, then environment variables.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		f, err := LoadFile(path)
		if err != nil {
			return cfg, err
		}
		cfg = Merge(cfg, f)
	}

	if err := ApplyEnv(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}
