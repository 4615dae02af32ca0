// Package config loads Nucleus's YAML startup configuration, merged with
// environment overrides, resolved once at process startup. Matches the
// teacher's gopkg.in/yaml.v3-based config loading idiom.
package config

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/eidetic-works/nucleus-mcp/internal/registry"
)

// Config is Nucleus's static startup configuration, typically loaded from
// BrainRoot/config/nucleus.yaml.
type Config struct {
	Tier              string            `yaml:"tier"`
	ShutdownTimeout   string            `yaml:"shutdownTimeout"`
	LockWait          string            `yaml:"lockWait"`
	CallDeadline      string            `yaml:"callDeadline"`
	Strict            bool              `yaml:"strict"`
	CapabilityByTool  map[string]string `yaml:"capabilityByTool"`
}

// Default returns a Config with the spec's documented defaults.
func Default() Config {
	return Config{
		Tier:            "launch",
		ShutdownTimeout: "5s",
		LockWait:        "5s",
		CallDeadline:    "120s",
	}
}

// Load reads and parses a YAML config file at path. A missing file is not
// an error; Default() is returned instead.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return Config{}, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Tier resolves the effective visibility tier: the environment variables
// NUCLEUS_TOOL_TIER/NUCLEUS_BETA_TOKEN take precedence over the config
// file's static "tier" field, per spec.md §6's environment contract.
func (c Config) ResolveTier() registry.Tier {
	if env := os.Getenv("NUCLEUS_TOOL_TIER"); env != "" {
		return registry.TierFromEnv(env, os.Getenv("NUCLEUS_BETA_TOKEN"))
	}
	if token := os.Getenv("NUCLEUS_BETA_TOKEN"); token != "" {
		return registry.TierFromEnv("", token)
	}
	return registry.TierFromEnv(c.Tier, "")
}
