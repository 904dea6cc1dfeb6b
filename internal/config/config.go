// Package config provides centralized configuration management for cvdnet.
// All configuration is loaded from a JSON file at /etc/cvdnet/config.json
// (overridable via CVDNET_CONFIG environment variable).
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/containerd/errdefs"
)

const (
	// DefaultConfigPath is the default location for the config file
	DefaultConfigPath = "/etc/cvdnet/config.json"

	// ConfigEnvVar is the environment variable to override config file location
	ConfigEnvVar = "CVDNET_CONFIG"
)

// Link and NAT backends.
const (
	BackendCommand = "command"
	BackendNetlink = "netlink"
)

// Config is the root configuration structure
type Config struct {
	Paths    PathsConfig    `json:"paths"`
	Network  NetworkConfig  `json:"network"`
	DHCP     DHCPConfig     `json:"dhcp"`
	Timeouts TimeoutsConfig `json:"timeouts"`
}

// PathsConfig defines filesystem paths used at run time
type PathsConfig struct {
	RunDir      string `json:"run_dir"`      // dnsmasq pid and lease files
	DnsmasqPath string `json:"dnsmasq_path"` // dnsmasq binary (PATH lookup if empty)
}

// NetworkConfig selects how host networking is mutated.
type NetworkConfig struct {
	// Backend is "command" (ip/iptables binaries) or "netlink"
	// (rtnetlink for links, go-iptables for NAT).
	Backend string `json:"backend"`

	// FilterTool is "auto", "modern" or "legacy". "auto" probes the host
	// once per process.
	FilterTool string `json:"filter_tool"`

	// TapGroup is the group allowed to open created tap devices.
	TapGroup string `json:"tap_group"`

	// NamePrefix is the interface name prefix used when UserPrefix is off or
	// the invoking user cannot be resolved.
	NamePrefix string `json:"name_prefix"`

	// UserPrefix derives the interface name prefix from the invoking user.
	UserPrefix bool `json:"user_prefix"`
}

// DHCPConfig configures the per-bridge dnsmasq instances.
type DHCPConfig struct {
	DNSServers []string `json:"dns_servers"`
}

// TimeoutsConfig defines timeout durations.
// All values are duration strings (e.g., "5s", "2m", "500ms").
type TimeoutsConfig struct {
	// Command bounds every external command. A command still running when it
	// expires is killed and the operation fails.
	// Default: 30s.
	Command string `json:"command"`

	// XtablesLock is how long iptables waits for the xtables lock when the
	// netlink backend drives NAT through go-iptables.
	// Default: 5s.
	XtablesLock string `json:"xtables_lock"`
}

// GetCommand returns the command timeout as a time.Duration.
// Panics if the configuration is invalid (should be caught by validation).
func (t *TimeoutsConfig) GetCommand() time.Duration {
	return mustParseDuration(t.Command)
}

// GetXtablesLock returns the xtables lock wait as a time.Duration.
func (t *TimeoutsConfig) GetXtablesLock() time.Duration {
	return mustParseDuration(t.XtablesLock)
}

// mustParseDuration parses a duration string, panicking on error.
// This is safe because validation should have already verified the format.
func mustParseDuration(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		panic(fmt.Sprintf("invalid duration %q: %v (config validation should have caught this)", s, err))
	}
	return d
}

// Path returns the config file location honoring CVDNET_CONFIG.
func Path() string {
	if p := os.Getenv(ConfigEnvVar); p != "" {
		return p
	}
	return DefaultConfigPath
}

// LoadFrom loads configuration from a specific path.
// Returns error if file doesn't exist or is invalid.
func LoadFrom(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found at %s: %w", path, errdefs.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w (ensure it's valid JSON)", path, err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}

	return &cfg, nil
}

// LoadOrDefault behaves like LoadFrom but falls back to DefaultConfig when
// the file does not exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := LoadFrom(path)
	if errdefs.IsNotFound(err) {
		cfg = DefaultConfig()
		if verr := cfg.Validate(); verr != nil {
			return nil, fmt.Errorf("invalid default configuration: %w", verr)
		}
		return cfg, nil
	}
	return cfg, err
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Paths: PathsConfig{
			RunDir:      "/run/cvdnet",
			DnsmasqPath: "", // PATH lookup
		},
		Network: NetworkConfig{
			Backend:    BackendCommand,
			FilterTool: "auto",
			TapGroup:   "cvdnetwork",
			NamePrefix: "cvd",
			UserPrefix: false,
		},
		DHCP: DHCPConfig{
			DNSServers: []string{"8.8.8.8", "8.8.4.4"},
		},
		Timeouts: TimeoutsConfig{
			Command:     "30s",
			XtablesLock: "5s",
		},
	}
}

// applyDefaults fills in default values for any empty fields
func (c *Config) applyDefaults() {
	defaults := DefaultConfig()

	if c.Paths.RunDir == "" {
		c.Paths.RunDir = defaults.Paths.RunDir
	}

	if c.Network.Backend == "" {
		c.Network.Backend = defaults.Network.Backend
	}
	if c.Network.FilterTool == "" {
		c.Network.FilterTool = defaults.Network.FilterTool
	}
	if c.Network.NamePrefix == "" {
		c.Network.NamePrefix = defaults.Network.NamePrefix
	}
	if c.Network.TapGroup == "" {
		c.Network.TapGroup = defaults.Network.TapGroup
	}

	if len(c.DHCP.DNSServers) == 0 {
		c.DHCP.DNSServers = defaults.DHCP.DNSServers
	}

	if c.Timeouts.Command == "" {
		c.Timeouts.Command = defaults.Timeouts.Command
	}
	if c.Timeouts.XtablesLock == "" {
		c.Timeouts.XtablesLock = defaults.Timeouts.XtablesLock
	}
}
