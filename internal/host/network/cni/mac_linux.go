package cni

import (
	"errors"
	"fmt"

	"github.com/containerd/errdefs"
	"github.com/vishvananda/netlink"
)

// InterfaceMAC reads the hardware address of a host interface.
func InterfaceMAC(name string) (string, error) {
	link, err := netlink.LinkByName(name)
	if err != nil {
		var nf netlink.LinkNotFoundError
		if errors.As(err, &nf) {
			return "", fmt.Errorf("lookup interface %s: %w", name, errdefs.ErrNotFound)
		}
		return "", fmt.Errorf("lookup interface %s: %w", name, err)
	}
	mac := link.Attrs().HardwareAddr
	if len(mac) == 0 {
		return "", fmt.Errorf("interface %q has empty MAC: %w", name, errdefs.ErrNotFound)
	}
	return mac.String(), nil
}
