package network

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/containerd/log"
)

func bridgeAddress(bridge, ipaddr string) (BridgeAddress, error) {
	if err := validateName(bridge); err != nil {
		return BridgeAddress{}, err
	}
	prefix, err := ParsePrefix(ipaddr)
	if err != nil {
		return BridgeAddress{}, err
	}
	return BridgeSubnet(prefix)
}

// SetupBridgeGateway turns bridge into the router of the ipaddr /24: it
// assigns the .1 address, serves DHCP for the rest of the subnet and
// masquerades the subnet. A failed step undoes the completed ones.
func (m *Manager) SetupBridgeGateway(ctx context.Context, bridge, ipaddr string) (_ GatewayConfig, retErr error) {
	start := time.Now()
	defer func() { m.recordSetup(KindGateway, start, retErr) }()

	addr, err := bridgeAddress(bridge, ipaddr)
	if err != nil {
		return GatewayConfig{}, err
	}
	return m.setupGateway(ctx, bridge, addr)
}

func (m *Manager) setupGateway(ctx context.Context, bridge string, addr BridgeAddress) (GatewayConfig, error) {
	rec := GatewayConfig{bridge: bridge, address: addr}
	fail := func(err error) (GatewayConfig, error) {
		if len(rec.steps) == 0 {
			return GatewayConfig{}, err
		}
		return GatewayConfig{}, m.withRollback(ctx, err, func() error {
			return m.cleanupGateway(ctx, rec)
		})
	}

	if err := m.links.AddGateway(ctx, bridge, addr.GatewayPrefix()); err != nil {
		return fail(err)
	}
	rec = rec.with(StepGateway)

	if err := m.StartDnsmasq(ctx, bridge, addr.Gateway, addr.DHCPRange); err != nil {
		return fail(err)
	}
	rec = rec.with(StepDnsmasq)

	if err := m.IptableConfig(ctx, addr.Network, true); err != nil {
		return fail(err)
	}
	rec = rec.with(StepNAT)

	log.G(ctx).WithFields(log.Fields{
		"bridge":  bridge,
		"gateway": addr.GatewayPrefix().String(),
	}).Info("bridge gateway configured")
	return rec, nil
}

// CleanupBridgeGateway undoes the steps recorded in cfg, newest first.
func (m *Manager) CleanupBridgeGateway(ctx context.Context, cfg GatewayConfig) (retErr error) {
	start := time.Now()
	defer func() { m.recordTeardown(KindGateway, start, retErr) }()

	return m.cleanupGateway(ctx, cfg)
}

func (m *Manager) cleanupGateway(ctx context.Context, cfg GatewayConfig) error {
	var errs []error
	for _, step := range slices.Backward(cfg.steps) {
		var err error
		switch step {
		case StepNAT:
			err = m.IptableConfig(ctx, cfg.address.Network, false)
		case StepDnsmasq:
			err = m.StopDnsmasq(ctx, cfg.bridge)
		case StepGateway:
			err = m.links.DestroyGateway(ctx, cfg.bridge, cfg.address.GatewayPrefix())
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("undo %s: %w", step, err))
		}
	}
	return errors.Join(errs...)
}
