//go:build linux

package link

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"

	"github.com/containerd/errdefs"
	"github.com/containerd/log"
	"github.com/vishvananda/netlink"
	"go4.org/netipx"
	"golang.org/x/sys/unix"
)

// Netlink is the Driver that talks rtnetlink directly.
type Netlink struct {
	// tapGroup is the gid allowed to open created taps, or -1.
	tapGroup int
}

var _ Driver = (*Netlink)(nil)

// NewNetlink returns an rtnetlink driver. A negative tapGroup leaves taps
// root-only.
func NewNetlink(tapGroup int) (*Netlink, error) {
	return &Netlink{tapGroup: tapGroup}, nil
}

func (d *Netlink) AddTap(ctx context.Context, name string) error {
	la := netlink.NewLinkAttrs()
	la.Name = name
	tap := &netlink.Tuntap{
		LinkAttrs: la,
		Mode:      netlink.TUNTAP_MODE_TAP,
		Flags:     netlink.TUNTAP_NO_PI | netlink.TUNTAP_VNET_HDR,
	}
	if d.tapGroup >= 0 {
		tap.Group = uint32(d.tapGroup)
	}
	log.G(ctx).WithField("iface", name).Debug("netlink: add tap")
	return mapError(netlink.LinkAdd(tap), "tap", name)
}

func (d *Netlink) SetUp(ctx context.Context, name string, up bool) error {
	l, err := lookup(name)
	if err != nil {
		return err
	}
	if up {
		return mapError(netlink.LinkSetUp(l), "link", name)
	}
	return mapError(netlink.LinkSetDown(l), "link", name)
}

func (d *Netlink) Delete(ctx context.Context, name string) error {
	l, err := lookup(name)
	if err != nil {
		return err
	}
	log.G(ctx).WithField("iface", name).Debug("netlink: delete link")
	return mapError(netlink.LinkDel(l), "link", name)
}

// AddBridge relies on the kernel default of STP off, under which ports
// forward immediately regardless of the forward delay.
func (d *Netlink) AddBridge(ctx context.Context, name string) error {
	la := netlink.NewLinkAttrs()
	la.Name = name
	log.G(ctx).WithField("bridge", name).Debug("netlink: add bridge")
	return mapError(netlink.LinkAdd(&netlink.Bridge{LinkAttrs: la}), "bridge", name)
}

func (d *Netlink) SetMaster(ctx context.Context, name, master string) error {
	l, err := lookup(name)
	if err != nil {
		return err
	}
	br, err := lookup(master)
	if err != nil {
		return err
	}
	return mapError(netlink.LinkSetMaster(l, br), "link", name)
}

func (d *Netlink) Address(ctx context.Context, name string, addr netip.Prefix, add bool) error {
	l, err := lookup(name)
	if err != nil {
		return err
	}
	nlAddr := &netlink.Addr{
		IPNet: &net.IPNet{
			IP:   addr.Addr().AsSlice(),
			Mask: net.CIDRMask(addr.Bits(), addr.Addr().BitLen()),
		},
		Broadcast: netipx.PrefixLastIP(addr.Masked()).AsSlice(),
	}
	if add {
		return mapError(netlink.AddrAdd(l, nlAddr), "address", addr.String())
	}
	return mapError(netlink.AddrDel(l, nlAddr), "address", addr.String())
}

func lookup(name string) (netlink.Link, error) {
	l, err := netlink.LinkByName(name)
	if err != nil {
		return nil, mapError(err, "link", name)
	}
	return l, nil
}

// mapError folds kernel errnos into errdefs categories.
func mapError(err error, kind, name string) error {
	if err == nil {
		return nil
	}
	var notFound netlink.LinkNotFoundError
	switch {
	case errors.As(err, &notFound),
		errors.Is(err, unix.ENODEV),
		errors.Is(err, unix.ENOENT),
		errors.Is(err, unix.EADDRNOTAVAIL):
		return fmt.Errorf("%s %s: %w: %w", kind, name, err, errdefs.ErrNotFound)
	case errors.Is(err, unix.EEXIST):
		return fmt.Errorf("%s %s: %w: %w", kind, name, err, errdefs.ErrAlreadyExists)
	case errors.Is(err, unix.EPERM), errors.Is(err, unix.EACCES):
		return fmt.Errorf("%s %s: %w: %w", kind, name, err, errdefs.ErrPermissionDenied)
	}
	return fmt.Errorf("%s %s: %w", kind, name, err)
}
