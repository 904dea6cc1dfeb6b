package network

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"sync"
	"time"

	"github.com/containerd/log"
	"go4.org/netipx"

	"github.com/spin-stack/cvdnet/internal/host/command"
	"github.com/spin-stack/cvdnet/internal/host/identity"
	"github.com/spin-stack/cvdnet/internal/host/network/dhcp"
	"github.com/spin-stack/cvdnet/internal/host/network/ebtables"
	"github.com/spin-stack/cvdnet/internal/host/network/link"
	"github.com/spin-stack/cvdnet/internal/host/network/nat"
)

// Deps are the host mutators a Manager drives.
type Deps struct {
	// Runner probes the ebtables variant.
	Runner  command.Runner
	Links   *link.Manager
	Rules   *ebtables.Rules
	NAT     nat.Rules
	Dnsmasq *dhcp.Dnsmasq
	// FilterMode is an ebtables.Mode* value. Empty means auto.
	FilterMode string
}

// Manager builds and tears down instance network attachments.
type Manager struct {
	runner  command.Runner
	links   *link.Manager
	rules   *ebtables.Rules
	nat     nat.Rules
	dnsmasq *dhcp.Dnsmasq
	metrics *Metrics

	filterMode string
	toolMu     sync.Mutex
	resolved   bool
	tool       ebtables.Tool
}

// NewManager returns a Manager over d.
func NewManager(d Deps) *Manager {
	return &Manager{
		runner:     d.Runner,
		links:      d.Links,
		rules:      d.Rules,
		nat:        d.NAT,
		dnsmasq:    d.Dnsmasq,
		metrics:    &Metrics{},
		filterMode: d.FilterMode,
	}
}

// Metrics returns the operation metrics of this manager.
func (m *Manager) Metrics() *Metrics {
	return m.metrics
}

// Links exposes the interface primitives.
func (m *Manager) Links() *link.Manager {
	return m.links
}

// FilterTool resolves the ebtables variant on first use and returns the same
// value for the lifetime of the Manager. A failed resolution is not kept;
// the next call probes again.
func (m *Manager) FilterTool(ctx context.Context) (ebtables.Tool, error) {
	m.toolMu.Lock()
	defer m.toolMu.Unlock()
	if m.resolved {
		return m.tool, nil
	}
	tool, err := ebtables.Resolve(ctx, m.runner, m.filterMode)
	if err != nil {
		return tool, err
	}
	m.tool, m.resolved = tool, true
	log.G(ctx).WithField("tool", tool.Binary()).Info("ebtables variant selected")
	return tool, nil
}

// IptableConfig installs (add) or removes the masquerade rule for network.
func (m *Manager) IptableConfig(ctx context.Context, network netip.Prefix, add bool) error {
	return m.nat.Masquerade(ctx, network, add)
}

// StartDnsmasq serves DHCP on bridge from gateway.
func (m *Manager) StartDnsmasq(ctx context.Context, bridge string, gateway netip.Addr, dhcpRange netipx.IPRange) error {
	return m.dnsmasq.Start(ctx, bridge, gateway, dhcpRange)
}

// StopDnsmasq stops DHCP on bridge. Stopping an instance that is not
// running succeeds.
func (m *Manager) StopDnsmasq(ctx context.Context, bridge string) error {
	return m.dnsmasq.Stop(ctx, bridge)
}

func validateName(name string) error {
	if name == "" || len(name) > identity.MaxIfaceNameLen || strings.ContainsAny(name, " \t/:") {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

func (m *Manager) recordSetup(k Kind, start time.Time, err error) {
	m.metrics.RecordSetup(k, err, time.Since(start))
}

func (m *Manager) recordTeardown(k Kind, start time.Time, err error) {
	m.metrics.RecordTeardown(k, err, time.Since(start))
}

// withRollback reports a failed setup after its completed steps were undone.
// The original failure stays first so callers can still classify it.
func (m *Manager) withRollback(ctx context.Context, err error, undo func() error) error {
	m.metrics.RecordRollback()
	if rerr := undo(); rerr != nil {
		log.G(ctx).WithError(rerr).Warn("rollback left resources behind")
		return errors.Join(err, fmt.Errorf("rollback: %w", rerr))
	}
	return err
}
