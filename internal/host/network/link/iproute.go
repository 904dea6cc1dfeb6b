package link

import (
	"context"
	"net/netip"

	"github.com/spin-stack/cvdnet/internal/host/command"
)

// IPRoute is the Driver that shells out to ip(8).
type IPRoute struct {
	runner command.Runner
	// tapGroup is the group allowed to open created taps. Empty leaves the
	// tap root-only.
	tapGroup string
}

var _ Driver = (*IPRoute)(nil)

// NewIPRoute returns an ip(8) driver.
func NewIPRoute(r command.Runner, tapGroup string) *IPRoute {
	return &IPRoute{runner: r, tapGroup: tapGroup}
}

func (d *IPRoute) AddTap(ctx context.Context, name string) error {
	args := []string{"tuntap", "add", "dev", name, "mode", "tap"}
	if d.tapGroup != "" {
		args = append(args, "group", d.tapGroup)
	}
	args = append(args, "vnet_hdr")
	return d.runner.Run(ctx, command.New("ip", args...))
}

func (d *IPRoute) SetUp(ctx context.Context, name string, up bool) error {
	state := "down"
	if up {
		state = "up"
	}
	return d.runner.Run(ctx, command.New("ip", "link", "set", "dev", name, state))
}

func (d *IPRoute) Delete(ctx context.Context, name string) error {
	return d.runner.Run(ctx, command.New("ip", "link", "delete", name))
}

func (d *IPRoute) AddBridge(ctx context.Context, name string) error {
	return d.runner.Run(ctx, command.New("ip", "link", "add", "name", name,
		"type", "bridge", "forward_delay", "0", "stp_state", "0"))
}

func (d *IPRoute) SetMaster(ctx context.Context, name, master string) error {
	return d.runner.Run(ctx, command.New("ip", "link", "set", "dev", name, "master", master))
}

func (d *IPRoute) Address(ctx context.Context, name string, addr netip.Prefix, add bool) error {
	verb := "del"
	if add {
		verb = "add"
	}
	return d.runner.Run(ctx, command.New("ip", "addr", verb, addr.String(), "broadcast", "+", "dev", name))
}
