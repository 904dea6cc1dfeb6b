// Package nat installs and removes the masquerade rule that lets a guest
// subnet reach the outside through the host.
package nat

import (
	"context"
	"fmt"
	"net/netip"

	"github.com/containerd/log"

	"github.com/spin-stack/cvdnet/internal/host/command"
)

const (
	table = "nat"
	chain = "POSTROUTING"
)

// Rules toggles the masquerade rule for a source subnet. Removing a rule
// that is not installed succeeds.
type Rules interface {
	Masquerade(ctx context.Context, network netip.Prefix, add bool) error
}

func ruleSpec(network netip.Prefix) []string {
	return []string{"-s", network.Masked().String(), "-j", "MASQUERADE"}
}

// Command drives iptables(8) through a command.Runner.
type Command struct {
	runner command.Runner
}

var _ Rules = (*Command)(nil)

// NewCommand returns an iptables(8) backed rule manager.
func NewCommand(r command.Runner) *Command {
	return &Command{runner: r}
}

// RuleCommand builds the iptables invocation for the masquerade rule. -w
// waits for the xtables lock instead of failing when another tool holds it.
func RuleCommand(network netip.Prefix, add bool) command.Command {
	op := "-D"
	if add {
		op = "-A"
	}
	args := append([]string{"-w", "-t", table, op, chain}, ruleSpec(network)...)
	return command.New("iptables", args...)
}

func (c *Command) Masquerade(ctx context.Context, network netip.Prefix, add bool) error {
	err := c.runner.Run(ctx, RuleCommand(network, add))
	if !add {
		err = command.IgnoreNotFound(err)
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
