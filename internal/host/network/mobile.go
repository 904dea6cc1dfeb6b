package network

import (
	"context"
	"errors"
	"time"

	"github.com/containerd/log"
)

func mobileAddress(name string, id int, ipaddr string) (MobileAddress, error) {
	if err := validateName(name); err != nil {
		return MobileAddress{}, err
	}
	if err := ValidateInstanceID(id); err != nil {
		return MobileAddress{}, err
	}
	prefix, err := ParsePrefix(ipaddr)
	if err != nil {
		return MobileAddress{}, err
	}
	return MobileSubnet(prefix, id)
}

// CreateMobileIface creates the point-to-point tap of mobile instance id.
// The tap gets the gateway address of the instance's /30 inside the ipaddr
// /24 and the /30 is masqueraded. Invalid arguments are rejected before
// anything is created; a later failure undoes the completed steps.
func (m *Manager) CreateMobileIface(ctx context.Context, name string, id int, ipaddr string) (_ MobileAttachment, retErr error) {
	start := time.Now()
	defer func() { m.recordSetup(KindMobile, start, retErr) }()

	addr, err := mobileAddress(name, id, ipaddr)
	if err != nil {
		return MobileAttachment{}, err
	}
	logger := log.G(ctx).WithFields(log.Fields{
		"iface":   name,
		"id":      id,
		"network": addr.Network.String(),
	})

	var done []func() error
	undo := func() error {
		var errs []error
		for i := len(done) - 1; i >= 0; i-- {
			errs = append(errs, done[i]())
		}
		return errors.Join(errs...)
	}

	if err := m.links.CreateTap(ctx, name); err != nil {
		return MobileAttachment{}, err
	}
	done = append(done, func() error { return m.links.DestroyIface(ctx, name) })

	if err := m.links.AddGateway(ctx, name, addr.GatewayPrefix()); err != nil {
		return MobileAttachment{}, m.withRollback(ctx, err, undo)
	}
	done = append(done, func() error { return m.links.DestroyGateway(ctx, name, addr.GatewayPrefix()) })

	if err := m.IptableConfig(ctx, addr.Network, true); err != nil {
		return MobileAttachment{}, m.withRollback(ctx, err, undo)
	}

	logger.Info("mobile interface created")
	return MobileAttachment{Name: name, Address: addr}, nil
}

// DestroyMobileIface removes everything CreateMobileIface may have created
// for the same arguments. Missing pieces are skipped.
func (m *Manager) DestroyMobileIface(ctx context.Context, name string, id int, ipaddr string) (retErr error) {
	start := time.Now()
	defer func() { m.recordTeardown(KindMobile, start, retErr) }()

	addr, err := mobileAddress(name, id, ipaddr)
	if err != nil {
		return err
	}

	err = errors.Join(
		m.IptableConfig(ctx, addr.Network, false),
		m.links.DestroyGateway(ctx, name, addr.GatewayPrefix()),
		m.links.DestroyIface(ctx, name),
	)
	if err != nil {
		return err
	}
	log.G(ctx).WithFields(log.Fields{"iface": name, "id": id}).Info("mobile interface destroyed")
	return nil
}
