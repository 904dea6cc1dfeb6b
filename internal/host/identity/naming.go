package identity

import (
	"fmt"

	"github.com/containerd/errdefs"
)

// MaxIfaceNameLen is the longest interface name the kernel accepts
// (IFNAMSIZ minus the terminating NUL).
const MaxIfaceNameLen = 15

// MaxInstanceID is the largest instance id. Names only carry two digits and
// the mobile addressing scheme runs out of /30 slots above it.
const MaxInstanceID = 63

// Role tags the purpose of an interface inside its name.
type Role string

const (
	RoleMobileTap      Role = "mtap"
	RoleEthernetTap    Role = "etap"
	RoleWirelessTap    Role = "wtap"
	RoleEthernetBridge Role = "ebr"
	RoleWirelessBridge Role = "wbr"
)

// ParseRole validates a role tag.
func ParseRole(s string) (Role, error) {
	switch r := Role(s); r {
	case RoleMobileTap, RoleEthernetTap, RoleWirelessTap, RoleEthernetBridge, RoleWirelessBridge:
		return r, nil
	}
	return "", fmt.Errorf("unknown interface role %q: %w", s, errdefs.ErrInvalidArgument)
}

// InterfaceName builds "<prefix>-<role>-<NN>". The prefix is truncated so
// the result never exceeds MaxIfaceNameLen.
func InterfaceName(prefix string, role Role, id int) (string, error) {
	if id < 0 || id > MaxInstanceID {
		return "", fmt.Errorf("instance id %d outside [0,%d]: %w", id, MaxInstanceID, errdefs.ErrInvalidArgument)
	}
	if prefix == "" {
		prefix = DefaultPrefix
	}

	suffix := fmt.Sprintf("-%s-%02d", role, id)
	if room := MaxIfaceNameLen - len(suffix); len(prefix) > room {
		prefix = prefix[:room]
	}
	return prefix + suffix, nil
}

// BridgeName builds "<prefix>-<role>". A bridge is shared by every instance
// of its kind, so it carries no id.
func BridgeName(prefix string, role Role) string {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	suffix := "-" + string(role)
	if room := MaxIfaceNameLen - len(suffix); len(prefix) > room {
		prefix = prefix[:room]
	}
	return prefix + suffix
}
