package network

import (
	"context"
	"fmt"

	"github.com/containerd/errdefs"
	"github.com/containerd/log"

	"github.com/spin-stack/cvdnet/internal/config"
	"github.com/spin-stack/cvdnet/internal/host/command"
	"github.com/spin-stack/cvdnet/internal/host/identity"
	"github.com/spin-stack/cvdnet/internal/host/network/dhcp"
	"github.com/spin-stack/cvdnet/internal/host/network/ebtables"
	"github.com/spin-stack/cvdnet/internal/host/network/link"
	"github.com/spin-stack/cvdnet/internal/host/network/nat"
)

// lookupGroup is replaced in tests.
var lookupGroup = identity.GroupID

// tapGroup resolves the group allowed to open created taps. A group the host
// does not know leaves taps root-only rather than failing every tap creation.
// The returned name is empty and the gid -1 in that case.
func tapGroup(ctx context.Context, name string) (string, int) {
	if name == "" {
		return "", -1
	}
	gid, err := lookupGroup(name)
	if err != nil {
		log.G(ctx).WithError(err).WithField("group", name).Warn("tap group not found, taps will be root-only")
		return "", -1
	}
	return name, gid
}

// NewFromConfig wires a Manager for the backend selected in cfg.
func NewFromConfig(ctx context.Context, cfg *config.Config) (*Manager, error) {
	runner := command.NewExec(cfg.Timeouts.GetCommand())

	var (
		driver link.Driver
		rules  nat.Rules
	)
	switch cfg.Network.Backend {
	case config.BackendCommand, "":
		group, _ := tapGroup(ctx, cfg.Network.TapGroup)
		driver = link.NewIPRoute(runner, group)
		rules = nat.NewCommand(runner)
	case config.BackendNetlink:
		_, gid := tapGroup(ctx, cfg.Network.TapGroup)
		nl, err := link.NewNetlink(gid)
		if err != nil {
			return nil, fmt.Errorf("netlink backend: %w", err)
		}
		ipt, err := nat.NewIPTables(int(cfg.Timeouts.GetXtablesLock().Seconds()))
		if err != nil {
			return nil, fmt.Errorf("netlink backend: %w", err)
		}
		driver, rules = nl, ipt
	default:
		return nil, fmt.Errorf("unknown backend %q: %w", cfg.Network.Backend, errdefs.ErrInvalidArgument)
	}

	log.G(ctx).WithFields(log.Fields{
		"backend":     cfg.Network.Backend,
		"filter_tool": cfg.Network.FilterTool,
	}).Debug("network manager configured")

	return NewManager(Deps{
		Runner:     runner,
		Links:      link.NewManager(driver),
		Rules:      ebtables.NewRules(runner),
		NAT:        rules,
		Dnsmasq:    dhcp.New(runner, cfg.Paths, cfg.DHCP.DNSServers),
		FilterMode: cfg.Network.FilterTool,
	}), nil
}
