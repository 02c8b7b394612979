package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/goccy/go-yaml"
	"github.com/k1LoW/expand"
)

var (
	homePath       string
	configHomePath string
	stateHomePath  string
)

type Config struct {
	// Logo width as a fraction of the base width
	Scale *float64 `yaml:"scale,omitempty" json:"scale,omitempty"`
	// Horizontal anchor of the logo centre, as a fraction of the base width
	X *float64 `yaml:"x,omitempty" json:"x,omitempty"`
	// Vertical anchor of the logo centre, as a fraction of the base height
	Y *float64 `yaml:"y,omitempty" json:"y,omitempty"`
	// Resampling filter (lanczos, catmullrom, linear, box, nearest)
	Filter string `yaml:"filter,omitempty" json:"filter,omitempty"`
	// Output format (png, tiff, bmp). Empty picks from the output extension.
	Format string `yaml:"format,omitempty" json:"format,omitempty"`
	// PNG compression (default, none, speed, best)
	Compression string `yaml:"compression,omitempty" json:"compression,omitempty"`
	// Apply EXIF orientation when decoding inputs
	AutoOrient *bool `yaml:"autoOrient,omitempty" json:"autoOrient,omitempty"`
	// Leave the output untouched when it already holds the same pixels
	SkipUnchanged *bool `yaml:"skipUnchanged,omitempty" json:"skipUnchanged,omitempty"`
	// command run after the output is written, supports {{output}}, {{format}}, {{base.*}}, {{logo.*}} and {{env.*}}
	PostCommand string `yaml:"postCommand,omitempty" json:"postCommand,omitempty"`
	// Conditions for default
	Defaults []DefaultCondition `yaml:"defaults,omitempty" json:"defaults,omitempty"`
}

type DefaultCondition struct {
	If     string   `json:"if"`               // condition to check
	Scale  *float64 `json:"scale,omitempty"`  // scale to apply if condition is true
	X      *float64 `json:"x,omitempty"`      // x anchor to apply if condition is true
	Y      *float64 `json:"y,omitempty"`      // y anchor to apply if condition is true
	Filter string   `json:"filter,omitempty"` // filter to apply if condition is true
}

func init() {
	var err error
	homePath, err = os.UserHomeDir()
	if err != nil {
		panic(fmt.Sprintf("failed to get home directory: %v", err))
	}
}

// Load loads the configuration from the config file.
// It searches for config files in the following order:
// 1. $XDG_CONFIG_HOME/stamp/config-{profile}.yml
// 2. $XDG_CONFIG_HOME/stamp/config.yml
// If no config file is found, it returns an empty Config struct.
func Load(profile string) (*Config, error) {
	p, ok := Path(profile)
	if !ok {
		return &Config{}, nil
	}
	return LoadFile(p)
}

// LoadFile loads the configuration from path. ${VAR} references are expanded from the environment.
func LoadFile(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(expand.ExpandenvYAMLBytes(b), cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config %s: %w", path, err)
	}
	return cfg, nil
}

// Path returns the config file that Load would read for profile, and whether it exists.
func Path(profile string) (string, bool) {
	var configBasePaths []string
	if profile != "" {
		configBasePaths = append(configBasePaths, filepath.Join(configPath(), fmt.Sprintf("config-%s", profile)))
	}
	configBasePaths = append(configBasePaths, filepath.Join(configPath(), "config"))
	for _, basePath := range configBasePaths {
		for _, ext := range []string{".yml", ".yaml"} {
			p := basePath + ext
			if fi, err := os.Stat(p); err == nil && !fi.IsDir() {
				return p, true
			}
		}
	}
	return filepath.Join(configPath(), "config.yml"), false
}

// configPath returns the path to the configuration directory.
func configPath() string {
	if configHomePath != "" {
		return configHomePath
	}
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		configHomePath = filepath.Join(v, "stamp")
	} else {
		configHomePath = filepath.Join(homePath, ".config", "stamp")
	}
	return configHomePath
}

// StateHomePath returns the path to the state home directory.
func StateHomePath() string {
	if stateHomePath != "" {
		return stateHomePath
	}
	if v := os.Getenv("XDG_STATE_HOME"); v != "" {
		stateHomePath = filepath.Join(v, "stamp")
	} else {
		stateHomePath = filepath.Join(homePath, ".local", "state", "stamp")
	}
	return stateHomePath
}
