//go:build !linux

package link

import (
	"context"
	"fmt"
	"net/netip"

	"github.com/containerd/errdefs"
)

// Netlink is only available on Linux.
type Netlink struct{}

var _ Driver = (*Netlink)(nil)

// NewNetlink always fails outside Linux.
func NewNetlink(int) (*Netlink, error) {
	return nil, fmt.Errorf("netlink link driver: %w", errdefs.ErrNotImplemented)
}

func (*Netlink) AddTap(context.Context, string) error            { return errdefs.ErrNotImplemented }
func (*Netlink) SetUp(context.Context, string, bool) error       { return errdefs.ErrNotImplemented }
func (*Netlink) Delete(context.Context, string) error            { return errdefs.ErrNotImplemented }
func (*Netlink) AddBridge(context.Context, string) error         { return errdefs.ErrNotImplemented }
func (*Netlink) SetMaster(context.Context, string, string) error { return errdefs.ErrNotImplemented }
func (*Netlink) Address(context.Context, string, netip.Prefix, bool) error {
	return errdefs.ErrNotImplemented
}
