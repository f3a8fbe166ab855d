// Package config handles the user-configurable options of the analyzer. The
// fields here are in PascalCase but in analysis.yml they are camelCase. User
// values are merged over the defaults, so a partially filled file keeps the
// remaining defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"github.com/goccy/go-yaml"

	"github.com/mattsolo1/grove-analysis/pkg/resource"
)

// ConfigFileName is looked up in the working directory.
const ConfigFileName = "analysis.yml"

// Config holds all of the user-configurable options.
type Config struct {
	// AnalyzedFileGlobs selects which files are handed to analysis drivers.
	// Patterns use dockerignore-style ** matching against slash paths
	// relative to the context folder.
	AnalyzedFileGlobs []string `yaml:"analyzedFileGlobs,omitempty"`

	// OptionsFileNames are the basenames recognized as analysis-options
	// files.
	OptionsFileNames []string `yaml:"optionsFileNames,omitempty"`

	// CaseSensitive overrides the platform default for path comparison.
	CaseSensitive *bool `yaml:"caseSensitive,omitempty"`

	// Debug enables the development log file.
	Debug bool `yaml:"debug,omitempty"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		AnalyzedFileGlobs: []string{"**/*.dart"},
		OptionsFileNames:  []string{"analysis_options.yaml", ".analysis_options"},
	}
}

// Load reads analysis.yml from dir if present and merges it over the
// defaults. A missing file is not an error.
func Load(dir string) (*Config, error) {
	cfg := Default()

	path := filepath.Join(dir, ConfigFileName)
	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}

	var user Config
	if err := yaml.Unmarshal(content, &user); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if err := mergo.Merge(cfg, &user, mergo.WithOverride); err != nil {
		return nil, fmt.Errorf("merging config: %w", err)
	}

	return cfg, nil
}

// ResolveCaseSensitive returns the configured case sensitivity, falling back
// to the platform default.
func (c *Config) ResolveCaseSensitive() bool {
	if c.CaseSensitive != nil {
		return *c.CaseSensitive
	}
	return resource.DefaultCaseSensitivity()
}

// IsOptionsFileName reports whether name is a recognized analysis-options
// basename.
func (c *Config) IsOptionsFileName(name string) bool {
	for _, candidate := range c.OptionsFileNames {
		if name == candidate {
			return true
		}
	}
	return false
}
