package ebtables

import (
	"context"
	"errors"
	"fmt"

	"github.com/containerd/log"

	"github.com/spin-stack/cvdnet/internal/host/command"
)

// Family is the ethernet protocol a rule matches.
type Family int

const (
	IPv4 Family = iota
	IPv6
)

// Proto returns the ebtables -p argument for the family.
func (f Family) Proto() string {
	if f == IPv6 {
		return "ipv6"
	}
	return "ipv4"
}

func (f Family) String() string {
	return f.Proto()
}

// Rules runs ebtables through a command.Runner.
type Rules struct {
	runner command.Runner
}

// NewRules returns a rule manager using r for every invocation.
func NewRules(r command.Runner) *Rules {
	return &Rules{runner: r}
}

func action(add bool) string {
	if add {
		return "-A"
	}
	return "-D"
}

// BrouteCommand builds the broute rule that drops frames of fam arriving on
// name from the bridging path.
func BrouteCommand(tool Tool, name string, fam Family, add bool) command.Command {
	return command.New(tool.Binary(),
		"-t", "broute", action(add), "BROUTING",
		"-p", fam.Proto(), "--in-if", name, "-j", "DROP")
}

// FilterCommand builds the filter rule that drops frames of fam forwarded
// out of name.
func FilterCommand(tool Tool, name string, fam Family, add bool) command.Command {
	return command.New(tool.Binary(),
		"-t", "filter", action(add), "FORWARD",
		"-p", fam.Proto(), "--out-if", name, "-j", "DROP")
}

// EbtablesBroute installs (add) or removes the broute rule for name. Removal
// of a rule that is not present succeeds.
func (r *Rules) EbtablesBroute(ctx context.Context, name string, fam Family, add bool, tool Tool) error {
	return r.toggle(ctx, BrouteCommand(tool, name, fam, add), add)
}

// EbtablesFilter installs (add) or removes the filter rule for name.
func (r *Rules) EbtablesFilter(ctx context.Context, name string, fam Family, add bool, tool Tool) error {
	return r.toggle(ctx, FilterCommand(tool, name, fam, add), add)
}

func (r *Rules) toggle(ctx context.Context, cmd command.Command, add bool) error {
	err := r.runner.Run(ctx, cmd)
	if !add {
		err = command.IgnoreNotFound(err)
	}
	if err != nil {
		return fmt.Errorf("ebtables %s: %w", action(add), err)
	}
	return nil
}

// CreateEbtables installs the broute and filter rules for one family. When
// the filter rule fails the broute rule is removed again, so a failed call
// leaves nothing behind.
func (r *Rules) CreateEbtables(ctx context.Context, name string, fam Family, tool Tool) error {
	if err := r.EbtablesBroute(ctx, name, fam, true, tool); err != nil {
		return err
	}
	if err := r.EbtablesFilter(ctx, name, fam, true, tool); err != nil {
		if rerr := r.EbtablesBroute(ctx, name, fam, false, tool); rerr != nil {
			log.G(ctx).WithError(rerr).WithFields(log.Fields{
				"iface":  name,
				"family": fam,
			}).Warn("failed to roll back ebtables broute rule")
		}
		return err
	}
	return nil
}

// DestroyEbtables removes both rules for one family. Both removals are
// attempted even if the first fails; absent rules are not errors.
func (r *Rules) DestroyEbtables(ctx context.Context, name string, fam Family, tool Tool) error {
	return errors.Join(
		r.EbtablesBroute(ctx, name, fam, false, tool),
		r.EbtablesFilter(ctx, name, fam, false, tool),
	)
}
