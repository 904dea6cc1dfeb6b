package network

import (
	"fmt"
	"net"
	"net/netip"
	"os"
	"strings"

	"go4.org/netipx"

	"github.com/spin-stack/cvdnet/internal/host/identity"
)

// Subnet prefixes shared with deployed instances. Changing them breaks
// guests that expect their addresses.
const (
	WirelessPrefix = "192.168.96"
	MobilePrefix   = "192.168.97"
	EthernetPrefix = "192.168.98"
)

// SocketMode is the permission of sockets handed to instance users.
const SocketMode os.FileMode = 0o666

// MaxInstanceID is the largest instance id. Each id owns one /30 of the
// mobile /24, and 64 slots fill it exactly.
const MaxInstanceID = identity.MaxInstanceID

const (
	subnetBits = 24
	mobileBits = 30
	mobileSlot = 4
)

// ValidateInstanceID rejects ids outside [0, MaxInstanceID].
func ValidateInstanceID(id int) error {
	if id < 0 || id > MaxInstanceID {
		return fmt.Errorf("%w: %d outside [0,%d]", ErrInvalidInstanceID, id, MaxInstanceID)
	}
	return nil
}

// ParsePrefix accepts "a.b.c", "a.b.c.d" or "a.b.c.0/24" and returns the
// IPv4 /24 it designates.
func ParsePrefix(s string) (netip.Prefix, error) {
	s = strings.TrimSpace(s)
	if strings.Contains(s, "/") {
		p, err := netip.ParsePrefix(s)
		if err != nil || !p.Addr().Is4() || p.Bits() != subnetBits {
			return netip.Prefix{}, fmt.Errorf("%w: %q is not an IPv4 /24", ErrInvalidPrefix, s)
		}
		return p.Masked(), nil
	}

	if strings.Count(s, ".") == 2 {
		s += ".0"
	}
	addr, err := netip.ParseAddr(s)
	if err != nil || !addr.Is4() {
		return netip.Prefix{}, fmt.Errorf("%w: %q", ErrInvalidPrefix, s)
	}
	return netip.PrefixFrom(addr, subnetBits).Masked(), nil
}

// MobileAddress is the /30 owned by one mobile instance.
type MobileAddress struct {
	ID        int
	Network   netip.Prefix
	Gateway   netip.Addr
	Guest     netip.Addr
	Broadcast netip.Addr
}

// MobileSubnet derives the /30 slot of instance id inside prefix: network
// .4n, gateway .4n+1, guest .4n+2, broadcast .4n+3.
func MobileSubnet(prefix netip.Prefix, id int) (MobileAddress, error) {
	if err := ValidateInstanceID(id); err != nil {
		return MobileAddress{}, err
	}
	if !prefix.IsValid() || !prefix.Addr().Is4() || prefix.Bits() != subnetBits {
		return MobileAddress{}, fmt.Errorf("%w: %s", ErrInvalidPrefix, prefix)
	}

	b := prefix.Masked().Addr().As4()
	b[3] = byte(id * mobileSlot)
	base := netip.AddrFrom4(b)

	return MobileAddress{
		ID:        id,
		Network:   netip.PrefixFrom(base, mobileBits),
		Gateway:   base.Next(),
		Guest:     base.Next().Next(),
		Broadcast: netipx.PrefixLastIP(netip.PrefixFrom(base, mobileBits)),
	}, nil
}

// MobileSubnetOf finds the slot whose guest address is guest. guest must
// carry the /30 mask.
func MobileSubnetOf(guest netip.Prefix) (MobileAddress, error) {
	if !guest.IsValid() || !guest.Addr().Is4() || guest.Bits() != mobileBits {
		return MobileAddress{}, fmt.Errorf("%w: %s is not a mobile guest address", ErrInvalidPrefix, guest)
	}
	last := int(guest.Addr().As4()[3])
	if last%mobileSlot != 2 {
		return MobileAddress{}, fmt.Errorf("%w: %s is not the guest of its /30", ErrInvalidPrefix, guest)
	}
	return MobileSubnet(netip.PrefixFrom(guest.Addr(), subnetBits).Masked(), last/mobileSlot)
}

// GatewayPrefix is the gateway address with the /30 netmask, as assigned to
// the tap.
func (a MobileAddress) GatewayPrefix() netip.Prefix {
	return netip.PrefixFrom(a.Gateway, a.Network.Bits())
}

// GuestPrefix is the guest address with the /30 netmask.
func (a MobileAddress) GuestPrefix() netip.Prefix {
	return netip.PrefixFrom(a.Guest, a.Network.Bits())
}

// Netmask renders the slot mask in dotted form.
func (a MobileAddress) Netmask() string {
	return net.IP(net.CIDRMask(a.Network.Bits(), 32)).String()
}

// Range is the full address range of the slot.
func (a MobileAddress) Range() netipx.IPRange {
	return netipx.RangeOfPrefix(a.Network)
}

// Overlaps reports whether two slots share any address.
func (a MobileAddress) Overlaps(b MobileAddress) bool {
	return a.Range().Overlaps(b.Range())
}

// BridgeAddress is the addressing of a bridge-owned /24: the bridge holds
// .1 and dnsmasq leases .2 through .254.
type BridgeAddress struct {
	Network   netip.Prefix
	Gateway   netip.Addr
	DHCPRange netipx.IPRange
}

// BridgeSubnet derives the bridge addressing for a /24 prefix.
func BridgeSubnet(prefix netip.Prefix) (BridgeAddress, error) {
	if !prefix.IsValid() || !prefix.Addr().Is4() || prefix.Bits() != subnetBits {
		return BridgeAddress{}, fmt.Errorf("%w: %s", ErrInvalidPrefix, prefix)
	}
	network := prefix.Masked()
	gateway := network.Addr().Next()
	last := netipx.PrefixLastIP(network)
	return BridgeAddress{
		Network:   network,
		Gateway:   gateway,
		DHCPRange: netipx.IPRangeFrom(gateway.Next(), last.Prev()),
	}, nil
}

// GatewayPrefix is the gateway address with the /24 netmask.
func (b BridgeAddress) GatewayPrefix() netip.Prefix {
	return netip.PrefixFrom(b.Gateway, b.Network.Bits())
}

// Families selects the address families a bridge carries.
type Families struct {
	IPv4 bool
	IPv6 bool
}

// Validate fails when no family is selected.
func (f Families) Validate() error {
	if !f.IPv4 && !f.IPv6 {
		return ErrNoAddressFamily
	}
	return nil
}

func (f Families) String() string {
	switch {
	case f.IPv4 && f.IPv6:
		return "ipv4,ipv6"
	case f.IPv4:
		return "ipv4"
	case f.IPv6:
		return "ipv6"
	}
	return "none"
}
