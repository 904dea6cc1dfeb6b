package nat

import (
	"context"
	"fmt"
	"net/netip"

	"github.com/containerd/log"
	"github.com/coreos/go-iptables/iptables"
)

// ipTables is the subset of *iptables.IPTables used here.
type ipTables interface {
	AppendUnique(table, chain string, rulespec ...string) error
	DeleteIfExists(table, chain string, rulespec ...string) error
}

// IPTables manages the rule through github.com/coreos/go-iptables.
type IPTables struct {
	ipt ipTables
}

var _ Rules = (*IPTables)(nil)

// NewIPTables returns a rule manager that waits up to lockWait seconds for
// the xtables lock.
func NewIPTables(lockWait int) (*IPTables, error) {
	ipt, err := iptables.New(iptables.IPFamily(iptables.ProtocolIPv4), iptables.Timeout(lockWait))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize iptables: %w", err)
	}
	return &IPTables{ipt: ipt}, nil
}

func (t *IPTables) Masquerade(ctx context.Context, network netip.Prefix, add bool) error {
	var err error
	if add {
		err = t.ipt.AppendUnique(table, chain, ruleSpec(network)...)
	} else {
		err = t.ipt.DeleteIfExists(table, chain, ruleSpec(network)...)
	}
	if err != nil {
		return fmt.Errorf("masquerade %s: %w", network, err)
	}
	log.G(ctx).WithFields(log.Fields{
		"network": network.String(),
		"add":     add,
	}).Debug("masquerade rule updated")
	return nil
}
