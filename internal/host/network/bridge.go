package network

import (
	"context"
	"errors"
	"time"

	"github.com/containerd/log"
)

// CreateEthernetBridgeIface creates bridge name and sets it up as the gateway
// of the ipaddr /24. If the gateway cannot be set up the bridge is removed.
// Wireless bridges are built the same way on their own prefix.
func (m *Manager) CreateEthernetBridgeIface(ctx context.Context, name, ipaddr string) (_ GatewayConfig, retErr error) {
	start := time.Now()
	defer func() { m.recordSetup(KindBridge, start, retErr) }()

	addr, err := bridgeAddress(name, ipaddr)
	if err != nil {
		return GatewayConfig{}, err
	}

	if err := m.links.CreateBridge(ctx, name); err != nil {
		return GatewayConfig{}, err
	}
	cfg, err := m.setupGateway(ctx, name, addr)
	if err != nil {
		return GatewayConfig{}, m.withRollback(ctx, err, func() error {
			return m.links.DestroyBridge(ctx, name)
		})
	}

	log.G(ctx).WithField("bridge", name).Info("bridge created")
	return cfg, nil
}

// DestroyEthernetBridgeIface removes the gateway of bridge name and then the
// bridge itself. Missing pieces are skipped.
func (m *Manager) DestroyEthernetBridgeIface(ctx context.Context, name, ipaddr string) (retErr error) {
	start := time.Now()
	defer func() { m.recordTeardown(KindBridge, start, retErr) }()

	addr, err := bridgeAddress(name, ipaddr)
	if err != nil {
		return err
	}

	err = errors.Join(
		m.cleanupGateway(ctx, FullGatewayConfig(name, addr)),
		m.links.DestroyBridge(ctx, name),
	)
	if err != nil {
		return err
	}
	log.G(ctx).WithField("bridge", name).Info("bridge destroyed")
	return nil
}
