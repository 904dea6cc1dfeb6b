// Package ebtables installs and removes the bridge-level filtering rules that
// keep a tap's traffic out of the address families its bridge does not carry.
//
// Hosts ship one of two mutually exclusive ebtables variants: the nf_tables
// based "ebtables" and the older "ebtables-legacy". The variant is detected
// once and then passed by value into every rule operation, so concurrent
// setups for different instances always agree on the tool.
package ebtables

import (
	"context"
	"errors"
	"fmt"

	"github.com/containerd/errdefs"
	"github.com/containerd/log"

	"github.com/spin-stack/cvdnet/internal/host/command"
)

const (
	// ModernBinary is the nf_tables based ebtables.
	ModernBinary = "ebtables"
	// LegacyBinary is the x_tables based ebtables.
	LegacyBinary = "ebtables-legacy"
)

// ErrNoTool is returned when neither variant can list the broute table.
var ErrNoTool = errors.New("no usable ebtables variant found")

// Tool selects which ebtables variant a rule operation runs.
type Tool int

const (
	Modern Tool = iota
	Legacy
)

// Binary returns the executable name for the variant.
func (t Tool) Binary() string {
	if t == Legacy {
		return LegacyBinary
	}
	return ModernBinary
}

func (t Tool) String() string {
	if t == Legacy {
		return "legacy"
	}
	return "modern"
}

// Modes accepted by Resolve.
const (
	ModeAuto   = "auto"
	ModeModern = "modern"
	ModeLegacy = "legacy"
)

// Detect probes the host for a variant able to use the broute table. The
// modern tool wins when both work.
func Detect(ctx context.Context, r command.Runner) (Tool, error) {
	modernErr := r.Run(ctx, command.New(ModernBinary, "-t", "broute", "-L"))
	if modernErr == nil {
		log.G(ctx).WithField("tool", ModernBinary).Debug("ebtables variant detected")
		return Modern, nil
	}

	legacyErr := r.Run(ctx, command.New(LegacyBinary, "-t", "broute", "-L"))
	if legacyErr == nil {
		log.G(ctx).WithError(modernErr).WithField("tool", LegacyBinary).Debug("ebtables variant detected")
		return Legacy, nil
	}

	return Modern, fmt.Errorf("%w: %w", ErrNoTool, errors.Join(modernErr, legacyErr))
}

// Resolve honours an explicit mode and only probes the host for ModeAuto.
func Resolve(ctx context.Context, r command.Runner, mode string) (Tool, error) {
	switch mode {
	case ModeModern:
		return Modern, nil
	case ModeLegacy:
		return Legacy, nil
	case "", ModeAuto:
		return Detect(ctx, r)
	}
	return Modern, fmt.Errorf("unknown ebtables mode %q: %w", mode, errdefs.ErrInvalidArgument)
}
