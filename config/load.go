package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Parse decodes one YAML document into a configuration.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	return cfg, nil
}

// LoadFile reads and parses a YAML configuration file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%w (%s)", err, path)
	}
	return cfg, nil
}

// LoadDir loads every .yml and .yaml file of dir in name order and merges
// them.
func LoadDir(dir string) (*Config, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("config: read dir %s: %w", dir, err)
	}
	var cfgs []*Config
	for _, file := range files {
		if file.IsDir() || !isYAML(file.Name()) {
			continue
		}
		cfg, err := LoadFile(filepath.Join(dir, file.Name()))
		if err != nil {
			return nil, err
		}
		cfgs = append(cfgs, cfg)
	}
	return Merge(cfgs...), nil
}

// Load loads a file or a directory.
func Load(path string) (*Config, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if info.IsDir() {
		return LoadDir(path)
	}
	return LoadFile(path)
}

// Merge combines configurations. A later declaration of an entity, enum or
// operation replaces an earlier one of the same name.
func Merge(cfgs ...*Config) *Config {
	out := &Config{
		Entities:      map[string]*EntityConfig{},
		Enums:         map[string]any{},
		Queries:       map[string]*OperationConfig{},
		Mutations:     map[string]*OperationConfig{},
		Subscriptions: map[string]*OperationConfig{},
	}
	for _, cfg := range cfgs {
		if cfg == nil {
			continue
		}
		maps.Copy(out.Entities, cfg.Entities)
		maps.Copy(out.Enums, cfg.Enums)
		maps.Copy(out.Queries, cfg.Queries)
		maps.Copy(out.Mutations, cfg.Mutations)
		maps.Copy(out.Subscriptions, cfg.Subscriptions)
	}
	return out
}

func isYAML(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yml" || ext == ".yaml"
}
