// Package config holds the compiler driver settings: where policies and
// definitions live, where rendered filters go, and how the run behaves.
// Settings come from built-in defaults, overlaid by any number of YAML
// config files, overlaid by command line flags.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// Config is one driver run's settings.
type Config struct {
	// BaseDirectory is the root of the policy tree. Policy files are
	// collected from pol/ subdirectories beneath it.
	BaseDirectory string `yaml:"base_directory"`

	// DefinitionsDirectory holds the *.def network and service
	// definition files.
	DefinitionsDirectory string `yaml:"definitions_directory"`

	// PolicyFile, when set, compiles exactly one policy file instead
	// of walking BaseDirectory.
	PolicyFile string `yaml:"policy_file"`

	// OutputDirectory receives the rendered filters, mirroring the
	// policy tree's relative layout.
	OutputDirectory string `yaml:"output_directory"`

	// Optimize collapses addresses and merges port ranges before
	// rendering.
	Optimize bool `yaml:"optimize"`

	// Recursive descends into subdirectories of BaseDirectory.
	Recursive bool `yaml:"recursive"`

	Debug   bool `yaml:"debug"`
	Verbose bool `yaml:"verbose"`

	// IgnoreDirectories are directory names skipped during discovery.
	IgnoreDirectories []string `yaml:"ignore_directories"`

	// MaxRenderers bounds the number of concurrent policy renderers.
	MaxRenderers int `yaml:"max_renderers"`

	// ShadeCheck makes a term fully covered by an earlier term a
	// fatal error instead of a warning.
	ShadeCheck bool `yaml:"shade_check"`

	// ExpInfo is the look-ahead window in weeks for "term expires
	// soon" notices.
	ExpInfo int `yaml:"exp_info"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		BaseDirectory:        "./policies",
		DefinitionsDirectory: "./def",
		OutputDirectory:      "./",
		Optimize:             false,
		Recursive:            true,
		IgnoreDirectories:    []string{"DEPRECATED", "def"},
		MaxRenderers:         10,
		ShadeCheck:           false,
		ExpInfo:              2,
	}
}

// LoadFile overlays one YAML config file onto c. Keys absent from the
// file keep their current values, so files layer in the order given.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.UnmarshalStrict(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// Load builds a Config from the defaults plus the given files, applied
// in order.
func Load(paths []string) (Config, error) {
	c := Default()
	for _, p := range paths {
		if err := c.LoadFile(p); err != nil {
			return c, err
		}
	}
	if err := c.Validate(); err != nil {
		return c, err
	}
	return c, nil
}

// Validate rejects settings no run can work with.
func (c *Config) Validate() error {
	if c.MaxRenderers < 1 {
		return fmt.Errorf("max_renderers must be at least 1, got %d", c.MaxRenderers)
	}
	if c.ExpInfo < 0 {
		return fmt.Errorf("exp_info must not be negative, got %d", c.ExpInfo)
	}
	if c.BaseDirectory == "" && c.PolicyFile == "" {
		return fmt.Errorf("either base_directory or policy_file is required")
	}
	return nil
}
