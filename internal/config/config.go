package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the top-level clusterrun configuration.
type Config struct {
	Cluster  Cluster          `yaml:"cluster"`
	Groups   map[string]Group `yaml:"groups,omitempty"`
	Defaults Defaults         `yaml:"defaults"`
}

// Cluster is the default node registry: an ordered list of node
// identifiers (hostname, IP, or user@host). Order is significant — it is
// the report's display order — and duplicates are allowed.
type Cluster struct {
	Nodes []string `yaml:"nodes"`
}

// Group defines a named set of nodes with optional overrides, selectable
// with --group instead of the default cluster list.
type Group struct {
	Nodes   []string `yaml:"nodes"`
	User    string   `yaml:"user,omitempty"`
	Timeout Duration `yaml:"timeout,omitempty"`
}

// Defaults holds default connection and dispatch settings.
type Defaults struct {
	User         string   `yaml:"user,omitempty"`
	Port         int      `yaml:"port,omitempty"`
	IdentityFile string   `yaml:"identity_file,omitempty"`
	ProxyJump    string   `yaml:"proxy_jump,omitempty"`
	Concurrency  int      `yaml:"concurrency"`
	Timeout      Duration `yaml:"timeout"`
	Output       string   `yaml:"output"` // "text" or "json"
}

// Duration wraps time.Duration to support YAML unmarshaling from strings like "30s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = dur
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() *Config {
	return &Config{
		Groups: make(map[string]Group),
		Defaults: Defaults{
			Concurrency: 20,
			Timeout:     Duration{30 * time.Second},
			Output:      "text",
		},
	}
}

// DefaultConfigPath returns the config file path to use when --config is
// not given: clusterrun.yaml in the working directory if present,
// otherwise the XDG config location.
func DefaultConfigPath() string {
	if _, err := os.Stat("clusterrun.yaml"); err == nil {
		return "clusterrun.yaml"
	}
	if configDir := os.Getenv("XDG_CONFIG_HOME"); configDir != "" {
		return filepath.Join(configDir, "clusterrun", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "clusterrun", "config.yaml")
}

// Load reads and parses a config YAML file from the given path. Any
// failure here is fatal to the run: with no registry there is nothing
// to dispatch to.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// LoadDefault loads the config from the default path. If no config file
// exists anywhere, it returns the default config; the caller decides
// whether an empty registry is acceptable.
func LoadDefault() (*Config, error) {
	path := DefaultConfigPath()
	if path == "" {
		return DefaultConfig(), nil
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return DefaultConfig(), nil
	}

	return Load(path)
}

// Save writes the config to the given file path as YAML. It creates
// parent directories if they don't exist.
func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}

	return nil
}

// Validate checks the config for logical errors.
func (c *Config) Validate() error {
	if c.Defaults.Concurrency < 0 {
		return fmt.Errorf("concurrency must be non-negative, got %d", c.Defaults.Concurrency)
	}
	if c.Defaults.Timeout.Duration < 0 {
		return fmt.Errorf("default timeout must be non-negative, got %s", c.Defaults.Timeout)
	}
	if c.Defaults.Port < 0 || c.Defaults.Port > 65535 {
		return fmt.Errorf("port must be in [0, 65535], got %d", c.Defaults.Port)
	}

	validOutputModes := map[string]bool{"text": true, "json": true}
	if c.Defaults.Output != "" && !validOutputModes[c.Defaults.Output] {
		return fmt.Errorf("invalid output mode %q, must be one of: text, json", c.Defaults.Output)
	}

	for _, node := range c.Cluster.Nodes {
		if node == "" {
			return fmt.Errorf("cluster.nodes contains an empty node identifier")
		}
	}

	for name, group := range c.Groups {
		if len(group.Nodes) == 0 {
			return fmt.Errorf("group %q has no nodes", name)
		}
		if group.Timeout.Duration < 0 {
			return fmt.Errorf("group %q has negative timeout: %s", name, group.Timeout)
		}
		for _, node := range group.Nodes {
			if node == "" {
				return fmt.Errorf("group %q contains an empty node identifier", name)
			}
		}
	}

	return nil
}
