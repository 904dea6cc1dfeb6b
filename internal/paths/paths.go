// Package paths provides the filesystem locations cvdnet uses at run time.
// These helpers take configuration as input to avoid global config coupling.
// DnsmasqPath may probe the filesystem when auto-discovering the binary.
package paths

import (
	"os"
	"path/filepath"

	"github.com/spin-stack/cvdnet/internal/config"
)

const filePrefix = "cvdnet-dnsmasq-"

// DnsmasqPidFile returns the pid file of the dnsmasq instance serving bridge.
func DnsmasqPidFile(pathsCfg config.PathsConfig, bridge string) string {
	return filepath.Join(pathsCfg.RunDir, filePrefix+bridge+".pid")
}

// DnsmasqLeaseFile returns the lease database of the dnsmasq instance
// serving bridge.
func DnsmasqLeaseFile(pathsCfg config.PathsConfig, bridge string) string {
	return filepath.Join(pathsCfg.RunDir, filePrefix+bridge+".leases")
}

// DnsmasqPath returns the dnsmasq binary based on the provided configuration
func DnsmasqPath(pathsCfg config.PathsConfig) string {
	if pathsCfg.DnsmasqPath != "" {
		return pathsCfg.DnsmasqPath
	}
	return discoverDnsmasqPath()
}

// discoverDnsmasqPath checks the usual sbin locations, which are often not
// on an unprivileged PATH, and falls back to a PATH lookup.
func discoverDnsmasqPath() string {
	candidates := []string{
		"/usr/sbin/dnsmasq",
		"/usr/local/sbin/dnsmasq",
		"/usr/bin/dnsmasq",
	}

	for _, path := range candidates {
		if fileExists(path) {
			return path
		}
	}

	return "dnsmasq"
}

// fileExists checks if a file exists, resolving symlinks to the real path.
func fileExists(path string) bool {
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		return false
	}
	info, err := os.Stat(resolved)
	return err == nil && !info.IsDir()
}
