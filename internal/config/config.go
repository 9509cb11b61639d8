// Package config provides configuration for the rawsock CLI.
// It uses koanf v2 to load an optional YAML file and gopkg.in/yaml.v3 to
// render the effective configuration.
//
// Configuration is loaded from /etc/rawsock/config.yaml by default. A missing
// file is not an error: every field has a default. The helper binary never
// reads configuration.
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"golang.org/x/sys/unix"
	goyaml "gopkg.in/yaml.v3"

	"github.com/doughall/rawsock/internal/helper"
	"github.com/doughall/rawsock/internal/rawsock"
)

// DefaultConfigPath is the default location for the configuration file.
const DefaultConfigPath = "/etc/rawsock/config.yaml"

// Config holds the CLI configuration.
// Fields are tagged for both koanf (loading) and yaml (rendering).
type Config struct {
	// HelperName is the helper executable looked up on PATH.
	// Default: "rawsocket-helper".
	HelperName string `koanf:"helper_name" yaml:"helper_name"`

	// HelperPath is an absolute helper path. When set, PATH is not searched.
	HelperPath string `koanf:"helper_path" yaml:"helper_path,omitempty"`

	// EnvAllowlist names the environment variables passed to the helper.
	// Default: [PATH].
	EnvAllowlist []string `koanf:"env_allowlist" yaml:"env_allowlist"`

	// Family is the address family for "rawsock open". Default: 17 (AF_PACKET).
	Family int `koanf:"family" yaml:"family"`

	// Protocol is the protocol for "rawsock open". For AF_PACKET it is an
	// ethertype in host order. Default: 3 (ETH_P_ALL, every frame).
	Protocol int `koanf:"protocol" yaml:"protocol"`

	// Interface is the interface "rawsock capture" binds to. Empty means all.
	Interface string `koanf:"interface" yaml:"interface,omitempty"`

	// LogLevel controls logging verbosity: "debug", "info", "warn", "error".
	// Default: "warn".
	LogLevel string `koanf:"log_level" yaml:"log_level"`
}

// Validation errors returned by Load.
var (
	ErrRelativeHelperPath = errors.New("helper_path must be absolute")
	ErrInvalidFamily      = errors.New("family out of range")
	ErrInvalidProtocol    = errors.New("protocol out of range")
)

// Default returns the configuration used when no file exists.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads configuration from the specified YAML file path.
// A missing file yields the defaults.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if _, err := os.Stat(path); err == nil {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to stat config %s: %w", path, err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// applyDefaults sets default values for optional configuration fields.
func (c *Config) applyDefaults() {
	if c.HelperName == "" {
		c.HelperName = helper.Name
	}
	if c.EnvAllowlist == nil {
		c.EnvAllowlist = append([]string(nil), rawsock.DefaultEnvAllowlist...)
	}
	if c.Family == 0 {
		c.Family = rawsock.DefaultFamily
	}
	// Protocol 0 is meaningful for some families, so it is only defaulted
	// alongside the family.
	if c.Family == rawsock.DefaultFamily && c.Protocol == 0 {
		c.Protocol = rawsock.DefaultProtocol
	}
	if c.LogLevel == "" {
		c.LogLevel = "warn"
	}
}

// validate checks field ranges. Broker-specific checks (allowlist contents,
// helper name) are left to rawsock.NewBroker.
func (c *Config) validate() error {
	if c.HelperPath != "" && !filepath.IsAbs(c.HelperPath) {
		return ErrRelativeHelperPath
	}
	if c.Family <= unix.AF_UNSPEC || c.Family >= unix.AF_MAX {
		return fmt.Errorf("%w: %d", ErrInvalidFamily, c.Family)
	}
	if c.Protocol < 0 || c.Protocol > math.MaxUint16 {
		return fmt.Errorf("%w: %d", ErrInvalidProtocol, c.Protocol)
	}
	return nil
}

// BrokerOptions converts the configuration into broker options.
func (c *Config) BrokerOptions() rawsock.Options {
	return rawsock.Options{
		HelperName:   c.HelperName,
		HelperPath:   c.HelperPath,
		EnvAllowlist: c.EnvAllowlist,
	}
}

// Request returns the configured socket request.
func (c *Config) Request() (rawsock.Request, error) {
	return rawsock.NewRequest(c.Family, c.Protocol)
}

// Marshal renders the configuration as YAML.
func Marshal(cfg *Config) ([]byte, error) {
	data, err := goyaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	return data, nil
}
