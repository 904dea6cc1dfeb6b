// Package cni renders instance network attachments as CNI results, the
// format VMMs and CNI-aware runtimes already know how to consume.
package cni

import (
	"fmt"
	"net"
	"net/netip"

	"github.com/containerd/errdefs"
	"github.com/containernetworking/cni/pkg/types"
	current "github.com/containernetworking/cni/pkg/types/100"
	"go4.org/netipx"

	"github.com/spin-stack/cvdnet/internal/host/network"
)

// ErrInvalidResult indicates the CNI result is missing required fields.
var ErrInvalidResult = fmt.Errorf("invalid CNI result: %w", errdefs.ErrInvalidArgument)

// Attachment is the guest side view of a tap: what a VMM needs to wire a
// guest NIC and configure the guest.
type Attachment struct {
	// TAPDevice is the host tap the guest NIC is backed by.
	TAPDevice string
	// TAPMAC is the tap's MAC, empty when unknown.
	TAPMAC string

	// Address is the guest address with its netmask.
	Address netip.Prefix
	Gateway netip.Addr
	DNS     []string
}

// Netmask returns the dotted netmask of the guest address.
func (a *Attachment) Netmask() string {
	return net.IP(net.CIDRMask(a.Address.Bits(), a.Address.Addr().BitLen())).String()
}

// MobileResult describes a mobile attachment as a CNI result. The only IP
// entry is the guest address of the instance's /30 with the tap side as
// gateway.
func MobileResult(att network.MobileAttachment, mac string, dnsServers []string) *current.Result {
	iface := 0
	return &current.Result{
		CNIVersion: current.ImplementedSpecVersion,
		Interfaces: []*current.Interface{{Name: att.Name, Mac: mac}},
		IPs: []*current.IPConfig{{
			Address:   *netipx.PrefixIPNet(att.Address.GuestPrefix()),
			Gateway:   net.IP(att.Address.Gateway.AsSlice()),
			Interface: &iface,
		}},
		DNS: types.DNS{Nameservers: dnsServers},
	}
}

// ReadResult decodes a CNI result of any supported version and extracts its
// attachment.
func ReadResult(data []byte) (*Attachment, error) {
	res, err := current.NewResult(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidResult, err)
	}
	result, err := current.GetResult(res)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidResult, err)
	}
	return ParseResult(result)
}

// Mobile maps the attachment back to the mobile slot its guest address
// belongs to.
func (a *Attachment) Mobile() (network.MobileAttachment, error) {
	addr, err := network.MobileSubnetOf(a.Address)
	if err != nil {
		return network.MobileAttachment{}, fmt.Errorf("%w: %w", ErrInvalidResult, err)
	}
	if a.Gateway.IsValid() && a.Gateway != addr.Gateway {
		return network.MobileAttachment{}, fmt.Errorf("%w: gateway %s does not match slot %s",
			ErrInvalidResult, a.Gateway, addr.Network)
	}
	return network.MobileAttachment{Name: a.TAPDevice, Address: addr}, nil
}

// ParseResult extracts the attachment from a CNI result. The first IP entry
// is used; its interface index picks the tap, defaulting to the first
// interface.
func ParseResult(result *current.Result) (*Attachment, error) {
	if result == nil {
		return nil, fmt.Errorf("%w: nil", ErrInvalidResult)
	}
	if len(result.IPs) == 0 {
		return nil, fmt.Errorf("%w: no IP addresses", ErrInvalidResult)
	}
	if len(result.Interfaces) == 0 {
		return nil, fmt.Errorf("%w: no interfaces", ErrInvalidResult)
	}

	ipConfig := result.IPs[0]
	idx := 0
	if ipConfig.Interface != nil {
		idx = *ipConfig.Interface
	}
	if idx < 0 || idx >= len(result.Interfaces) {
		return nil, fmt.Errorf("%w: interface index %d out of range", ErrInvalidResult, idx)
	}
	iface := result.Interfaces[idx]

	host, ok := netipx.FromStdIP(ipConfig.Address.IP)
	ones, bits := ipConfig.Address.Mask.Size()
	if !ok || bits == 0 {
		return nil, fmt.Errorf("%w: bad address %s", ErrInvalidResult, ipConfig.Address.String())
	}

	att := &Attachment{
		TAPDevice: iface.Name,
		TAPMAC:    iface.Mac,
		Address:   netip.PrefixFrom(host, ones),
		DNS:       result.DNS.Nameservers,
	}
	if ipConfig.Gateway != nil {
		gw, ok := netipx.FromStdIP(ipConfig.Gateway)
		if !ok {
			return nil, fmt.Errorf("%w: bad gateway %s", ErrInvalidResult, ipConfig.Gateway)
		}
		att.Gateway = gw
	}
	return att, nil
}
