// Package preflight checks that the host can run the network builders:
// privileges, the tun device and the external tools they drive.
package preflight

import (
	"context"
	"errors"
	"fmt"
	"os/exec"

	"github.com/containerd/errdefs"
	"github.com/containerd/log"
	"github.com/moby/sys/userns"
	"golang.org/x/sys/unix"

	"github.com/spin-stack/cvdnet/internal/config"
	"github.com/spin-stack/cvdnet/internal/host/identity"
	"github.com/spin-stack/cvdnet/internal/host/network/ebtables"
	"github.com/spin-stack/cvdnet/internal/paths"
)

// Replaced in tests.
var (
	lookPath    = exec.LookPath
	lookupGroup = identity.GroupID
	geteuid     = unix.Geteuid
	inUserNS    = userns.RunningInUserNS
	openTun     = func() error {
		fd, err := unix.Open("/dev/net/tun", unix.O_RDWR|unix.O_CLOEXEC, 0)
		if err != nil {
			return err
		}
		return unix.Close(fd)
	}
)

// Result is the outcome of one check.
type Result struct {
	Name   string
	Detail string
	Err    error
	// Warn marks a check whose failure does not prevent setup.
	Warn bool
}

// OK reports whether the check passed.
func (r Result) OK() bool { return r.Err == nil }

// Report is the ordered result of every check.
type Report []Result

// Err joins the failures of all blocking checks. It wraps
// errdefs.ErrFailedPrecondition when any check failed.
func (r Report) Err() error {
	var errs []error
	for _, res := range r {
		if res.Err != nil && !res.Warn {
			errs = append(errs, fmt.Errorf("%s: %w", res.Name, res.Err))
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", errdefs.ErrFailedPrecondition, errors.Join(errs...))
}

// Run performs every check against cfg.
func Run(ctx context.Context, cfg *config.Config) Report {
	var report Report
	add := func(res Result) {
		entry := log.G(ctx).WithField("check", res.Name)
		if res.Err != nil {
			entry = entry.WithError(res.Err)
		}
		entry.Debug("preflight")
		report = append(report, res)
	}

	add(checkRoot())
	add(checkUserNS())
	add(checkTun())
	add(checkTapGroup(cfg.Network.TapGroup))
	for _, bin := range []string{"ip", "iptables", "kill", paths.DnsmasqPath(cfg.Paths)} {
		add(checkBinary(bin))
	}
	add(checkEbtables(cfg.Network.FilterTool))
	return report
}

func checkRoot() Result {
	res := Result{Name: "root"}
	if euid := geteuid(); euid != 0 {
		res.Err = fmt.Errorf("running as euid %d, network setup needs root", euid)
	}
	return res
}

func checkUserNS() Result {
	res := Result{Name: "userns", Warn: true}
	if inUserNS() {
		res.Err = errors.New("running inside a user namespace, host network changes may be invisible to the host")
	}
	return res
}

func checkTun() Result {
	res := Result{Name: "tun", Detail: "/dev/net/tun"}
	if err := openTun(); err != nil {
		res.Err = fmt.Errorf("open /dev/net/tun: %w", err)
	}
	return res
}

// checkTapGroup only warns: without the group taps are created root-only.
func checkTapGroup(name string) Result {
	res := Result{Name: "tap group", Detail: name, Warn: true}
	if name == "" {
		return res
	}
	if _, err := lookupGroup(name); err != nil {
		res.Err = fmt.Errorf("%w, taps will only be usable by root", err)
	}
	return res
}

func checkBinary(name string) Result {
	res := Result{Name: "binary " + name}
	path, err := lookPath(name)
	if err != nil {
		res.Err = err
		return res
	}
	res.Detail = path
	return res
}

// checkEbtables requires the configured variant, or either one for auto
// selection.
func checkEbtables(mode string) Result {
	var candidates []string
	switch mode {
	case ebtables.ModeModern:
		candidates = []string{ebtables.ModernBinary}
	case ebtables.ModeLegacy:
		candidates = []string{ebtables.LegacyBinary}
	default:
		candidates = []string{ebtables.ModernBinary, ebtables.LegacyBinary}
	}

	res := Result{Name: "ebtables"}
	for _, bin := range candidates {
		if path, err := lookPath(bin); err == nil {
			res.Detail = path
			return res
		}
	}
	res.Err = fmt.Errorf("none of %v found in PATH: %w", candidates, errdefs.ErrNotFound)
	return res
}
