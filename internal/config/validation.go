package config

import (
	"fmt"
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Validate validates the entire configuration.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return fmt.Errorf("paths: %w", err)
	}
	if err := c.validateNetwork(); err != nil {
		return fmt.Errorf("network: %w", err)
	}
	if err := c.validateDHCP(); err != nil {
		return fmt.Errorf("dhcp: %w", err)
	}
	if err := c.validateTimeouts(); err != nil {
		return fmt.Errorf("timeouts: %w", err)
	}
	return nil
}

func (c *Config) validatePaths() error {
	if c.Paths.RunDir == "" {
		return fmt.Errorf("run_dir cannot be empty")
	}
	if !filepath.IsAbs(c.Paths.RunDir) {
		return fmt.Errorf("run_dir must be absolute, got %q", c.Paths.RunDir)
	}
	if err := checkDirIfExists(c.Paths.RunDir, "run_dir"); err != nil {
		return err
	}
	if c.Paths.DnsmasqPath != "" {
		if err := validateExecutable(c.Paths.DnsmasqPath, "dnsmasq_path"); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) validateNetwork() error {
	switch c.Network.Backend {
	case BackendCommand, BackendNetlink:
	default:
		return fmt.Errorf("backend must be %q or %q, got %q", BackendCommand, BackendNetlink, c.Network.Backend)
	}

	switch c.Network.FilterTool {
	case "auto", "modern", "legacy":
	default:
		return fmt.Errorf("filter_tool must be auto, modern or legacy, got %q", c.Network.FilterTool)
	}

	if c.Network.NamePrefix == "" {
		return fmt.Errorf("name_prefix cannot be empty")
	}
	if strings.ContainsAny(c.Network.NamePrefix, " \t/:") {
		return fmt.Errorf("name_prefix: invalid interface name characters in %q", c.Network.NamePrefix)
	}
	if strings.ContainsAny(c.Network.TapGroup, " \t:") {
		return fmt.Errorf("tap_group: invalid group name %q", c.Network.TapGroup)
	}
	return nil
}

func (c *Config) validateDHCP() error {
	for _, s := range c.DHCP.DNSServers {
		addr, err := netip.ParseAddr(s)
		if err != nil {
			return fmt.Errorf("dns_servers: invalid address %q", s)
		}
		if !addr.Is4() {
			return fmt.Errorf("dns_servers: %s is not an IPv4 address", s)
		}
	}
	return nil
}

func (c *Config) validateTimeouts() error {
	fields := map[string]string{
		"command":      c.Timeouts.Command,
		"xtables_lock": c.Timeouts.XtablesLock,
	}

	for name, val := range fields {
		d, err := time.ParseDuration(val)
		if err != nil {
			return fmt.Errorf("%s: invalid duration %q", name, val)
		}
		if d <= 0 {
			return fmt.Errorf("%s: must be positive, got %s", name, d)
		}
		if d > time.Hour {
			return fmt.Errorf("%s: too large (%s), max is 1h", name, d)
		}
	}
	if d, _ := time.ParseDuration(c.Timeouts.XtablesLock); d < time.Second {
		return fmt.Errorf("xtables_lock: must be at least 1s, got %s", d)
	}
	return nil
}

// Helper functions

func canonicalizePath(path string) (string, error) {
	cleaned := filepath.Clean(path)
	resolved, err := filepath.EvalSymlinks(cleaned)
	if err == nil {
		return resolved, nil
	}
	if os.IsNotExist(err) {
		return cleaned, nil
	}
	return "", fmt.Errorf("failed to resolve path %s: %w", path, err)
}

// checkDirIfExists rejects a path that exists but is not a directory. A
// missing directory is created by whoever first writes into it.
func checkDirIfExists(path, name string) error {
	canonical, err := canonicalizePath(path)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	info, err := os.Stat(canonical)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("%s: cannot access %s: %w", name, canonical, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s: not a directory: %s", name, canonical)
	}
	return nil
}

func validateExecutable(path, name string) error {
	canonical, err := canonicalizePath(path)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}

	info, err := os.Stat(canonical)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%s: file not found: %s", name, canonical)
		}
		return fmt.Errorf("%s: cannot access: %w", name, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%s: is a directory, not executable: %s", name, canonical)
	}
	if info.Mode()&0111 == 0 {
		return fmt.Errorf("%s: not executable: %s", name, canonical)
	}
	return nil
}
