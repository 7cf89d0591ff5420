package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// fileConfig is the optional YAML configuration file. Flags given
// explicitly on the command line win over file values.
type fileConfig struct {
	In       string        `yaml:"in"`
	Listen   string        `yaml:"listen"`
	Theme    string        `yaml:"theme"`
	DB       string        `yaml:"db"`
	Debounce time.Duration `yaml:"debounce"`
}

func loadConfigFile(path string) (*fileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg fileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return &cfg, nil
}

// merge fills opts from the file for every flag the user did not set
// explicitly. set holds the names of flags present on the command line.
func (c *fileConfig) merge(opts *options, set map[string]bool) {
	if !set["in"] && c.In != "" {
		opts.in = c.In
	}
	if !set["listen"] && c.Listen != "" {
		opts.listen = c.Listen
	}
	if !set["theme"] && c.Theme != "" {
		opts.theme = c.Theme
	}
	if !set["db"] && c.DB != "" {
		opts.db = c.DB
	}
	opts.debounce = c.Debounce
}
