// Package dhcp runs one dnsmasq instance per bridge to hand out guest
// addresses.
package dhcp

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/containerd/errdefs"
	"github.com/containerd/log"
	"github.com/prometheus/procfs"
	"go4.org/netipx"
	"golang.org/x/sys/unix"

	"github.com/spin-stack/cvdnet/internal/config"
	"github.com/spin-stack/cvdnet/internal/host/command"
	"github.com/spin-stack/cvdnet/internal/paths"
)

// processAlive reports whether pid still names a process. Replaced in tests.
var processAlive = func(pid int) bool {
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}

// processCmdline returns the argument vector of pid. Replaced in tests.
var processCmdline = func(pid int) ([]string, error) {
	p, err := procfs.NewProc(pid)
	if err != nil {
		return nil, err
	}
	return p.CmdLine()
}

// Dnsmasq starts and stops bridge-bound dnsmasq daemons. Each instance is
// tracked only through its pid file under the run directory.
type Dnsmasq struct {
	runner     command.Runner
	paths      config.PathsConfig
	binary     string
	dnsServers []string
}

// New returns a Dnsmasq manager. dnsServers are advertised to DHCP clients.
func New(r command.Runner, pathsCfg config.PathsConfig, dnsServers []string) *Dnsmasq {
	return &Dnsmasq{
		runner:     r,
		paths:      pathsCfg,
		binary:     paths.DnsmasqPath(pathsCfg),
		dnsServers: dnsServers,
	}
}

// StartCommand builds the dnsmasq invocation for bridge. DNS is disabled
// (--port=0); only DHCP is served, and only on the bridge.
func (d *Dnsmasq) StartCommand(bridge string, gateway netip.Addr, dhcpRange netipx.IPRange) command.Command {
	args := []string{
		"--port=0",
		"--strict-order",
		"--except-interface=lo",
		"--interface=" + bridge,
		"--listen-address=" + gateway.String(),
		"--bind-interfaces",
		"--dhcp-range=" + dhcpRange.From().String() + "," + dhcpRange.To().String(),
	}
	if len(d.dnsServers) > 0 {
		args = append(args, "--dhcp-option=option:dns-server,"+strings.Join(d.dnsServers, ","))
	}
	args = append(args,
		"--conf-file=",
		"--pid-file="+paths.DnsmasqPidFile(d.paths, bridge),
		"--dhcp-leasefile="+paths.DnsmasqLeaseFile(d.paths, bridge),
		"--dhcp-no-override",
	)
	return command.New(d.binary, args...)
}

// Start launches dnsmasq for bridge. dnsmasq daemonizes itself and writes
// its pid file before the launching process exits.
func (d *Dnsmasq) Start(ctx context.Context, bridge string, gateway netip.Addr, dhcpRange netipx.IPRange) error {
	if !dhcpRange.IsValid() || !gateway.IsValid() {
		return fmt.Errorf("dnsmasq for %s: invalid gateway %s or range %s: %w",
			bridge, gateway, dhcpRange, errdefs.ErrInvalidArgument)
	}
	if err := os.MkdirAll(d.paths.RunDir, 0o750); err != nil {
		return fmt.Errorf("dnsmasq run dir: %w", err)
	}
	if err := d.runner.Run(ctx, d.StartCommand(bridge, gateway, dhcpRange)); err != nil {
		return fmt.Errorf("start dnsmasq for %s: %w", bridge, err)
	}
	log.G(ctx).WithFields(log.Fields{
		"bridge": bridge,
		"range":  dhcpRange.String(),
	}).Info("dnsmasq started")
	return nil
}

// Stop terminates the dnsmasq instance serving bridge. An instance that was
// never started, or whose process already exited, is stopped.
func (d *Dnsmasq) Stop(ctx context.Context, bridge string) error {
	pidFile := paths.DnsmasqPidFile(d.paths, bridge)
	logger := log.G(ctx).WithFields(log.Fields{"bridge": bridge, "pidfile": pidFile})

	data, err := os.ReadFile(pidFile)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Debug("dnsmasq not running")
			return nil
		}
		return fmt.Errorf("read dnsmasq pid file: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		logger.WithField("content", string(data)).Warn("discarding unreadable dnsmasq pid file")
		return removePidFile(pidFile)
	}

	logger = logger.WithField("pid", pid)
	switch {
	case !processAlive(pid):
		logger.Debug("dnsmasq already exited")
	case !d.servesBridge(pid, bridge):
		logger.Warn("discarding stale dnsmasq pid file, pid now names another process")
	default:
		err := d.runner.Run(ctx, command.New("kill", strconv.Itoa(pid)))
		if err != nil && !errdefs.IsNotFound(err) && processAlive(pid) {
			return fmt.Errorf("stop dnsmasq for %s: %w", bridge, err)
		}
		logger.Info("dnsmasq stopped")
	}

	return removePidFile(pidFile)
}

// servesBridge reports whether pid is a dnsmasq bound to bridge. The pid of
// a dnsmasq that died without removing its pid file may have been reused.
func (d *Dnsmasq) servesBridge(pid int, bridge string) bool {
	argv, err := processCmdline(pid)
	if err != nil || len(argv) == 0 {
		return false
	}
	if argv[0] != d.binary && filepath.Base(argv[0]) != "dnsmasq" {
		return false
	}
	return slices.Contains(argv[1:], "--interface="+bridge)
}

func removePidFile(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove dnsmasq pid file: %w", err)
	}
	return nil
}
