// Package link creates and removes the tap and bridge devices a VM instance
// is attached through.
//
// The kernel mutations live behind Driver so the same Manager logic runs on
// top of either the ip(8) tool or rtnetlink. Every driver reports absent
// devices and addresses as errdefs.ErrNotFound and existing ones as
// errdefs.ErrAlreadyExists; the Manager builds its idempotence rules on
// those categories only.
package link

import (
	"context"
	"errors"
	"fmt"
	"net/netip"

	"github.com/containerd/errdefs"
	"github.com/containerd/log"

	"github.com/spin-stack/cvdnet/internal/host/command"
)

// Driver performs single kernel mutations on network devices.
type Driver interface {
	// AddTap creates a persistent tap device.
	AddTap(ctx context.Context, name string) error
	// SetUp toggles the administrative state of a device.
	SetUp(ctx context.Context, name string, up bool) error
	// Delete removes a device.
	Delete(ctx context.Context, name string) error
	// AddBridge creates a bridge with STP disabled.
	AddBridge(ctx context.Context, name string) error
	// SetMaster enslaves name to the bridge master.
	SetMaster(ctx context.Context, name, master string) error
	// Address assigns (add) or removes addr on the device. The prefix length
	// of addr is the netmask.
	Address(ctx context.Context, name string, addr netip.Prefix, add bool) error
}

// Manager composes driver mutations into the interface lifecycle operations.
type Manager struct {
	driver Driver
}

// NewManager returns a Manager on top of d.
func NewManager(d Driver) *Manager {
	return &Manager{driver: d}
}

// AddTapIface creates a tap device without bringing it up.
func (m *Manager) AddTapIface(ctx context.Context, name string) error {
	if err := m.driver.AddTap(ctx, name); err != nil {
		return fmt.Errorf("add tap %s: %w", name, err)
	}
	return nil
}

// CreateTap creates a tap device and brings it up. A tap that cannot be
// brought up is deleted again. Creating a tap whose name is taken fails.
func (m *Manager) CreateTap(ctx context.Context, name string) error {
	if err := m.AddTapIface(ctx, name); err != nil {
		return err
	}
	if err := m.BringUpIface(ctx, name); err != nil {
		if derr := m.DeleteIface(ctx, name); derr != nil {
			log.G(ctx).WithError(derr).WithField("iface", name).Warn("failed to delete tap after bring-up failure")
		}
		return err
	}
	return nil
}

// BringUpIface sets the device administratively up.
func (m *Manager) BringUpIface(ctx context.Context, name string) error {
	if err := m.driver.SetUp(ctx, name, true); err != nil {
		return fmt.Errorf("bring up %s: %w", name, err)
	}
	return nil
}

// ShutdownIface sets the device administratively down.
func (m *Manager) ShutdownIface(ctx context.Context, name string) error {
	if err := m.driver.SetUp(ctx, name, false); err != nil {
		return fmt.Errorf("shut down %s: %w", name, err)
	}
	return nil
}

// DeleteIface removes the device. The error of a missing device is returned
// as is; use DestroyIface for cleanup.
func (m *Manager) DeleteIface(ctx context.Context, name string) error {
	if err := m.driver.Delete(ctx, name); err != nil {
		return fmt.Errorf("delete %s: %w", name, err)
	}
	return nil
}

// DestroyIface shuts the device down and deletes it. A device that does not
// exist is already destroyed.
func (m *Manager) DestroyIface(ctx context.Context, name string) error {
	err := m.ShutdownIface(ctx, name)
	if errdefs.IsNotFound(err) {
		return nil
	}
	if err != nil {
		log.G(ctx).WithError(err).WithField("iface", name).Warn("shutdown failed, deleting anyway")
	}
	if derr := command.IgnoreNotFound(m.DeleteIface(ctx, name)); derr != nil {
		return errors.Join(err, derr)
	}
	return nil
}

// CreateBridge creates a bridge and brings it up, removing it again when it
// cannot be brought up.
func (m *Manager) CreateBridge(ctx context.Context, name string) error {
	if err := m.driver.AddBridge(ctx, name); err != nil {
		return fmt.Errorf("add bridge %s: %w", name, err)
	}
	if err := m.BringUpIface(ctx, name); err != nil {
		if derr := m.DeleteIface(ctx, name); derr != nil {
			log.G(ctx).WithError(derr).WithField("bridge", name).Warn("failed to delete bridge after bring-up failure")
		}
		return err
	}
	return nil
}

// DestroyBridge removes a bridge. A missing bridge is success.
func (m *Manager) DestroyBridge(ctx context.Context, name string) error {
	return m.DestroyIface(ctx, name)
}

// LinkTapToBridge attaches an existing tap to an existing bridge.
func (m *Manager) LinkTapToBridge(ctx context.Context, tap, bridge string) error {
	if err := m.driver.SetMaster(ctx, tap, bridge); err != nil {
		return fmt.Errorf("attach %s to bridge %s: %w", tap, bridge, err)
	}
	return nil
}

// AddGateway assigns the gateway address to the device. The prefix length
// of gateway carries the netmask.
func (m *Manager) AddGateway(ctx context.Context, name string, gateway netip.Prefix) error {
	if err := m.driver.Address(ctx, name, gateway, true); err != nil {
		return fmt.Errorf("add gateway %s to %s: %w", gateway, name, err)
	}
	return nil
}

// DestroyGateway removes the gateway address. Removing an address the device
// does not carry, or from a device that is gone, succeeds.
func (m *Manager) DestroyGateway(ctx context.Context, name string, gateway netip.Prefix) error {
	if err := command.IgnoreNotFound(m.driver.Address(ctx, name, gateway, false)); err != nil {
		return fmt.Errorf("remove gateway %s from %s: %w", gateway, name, err)
	}
	return nil
}
