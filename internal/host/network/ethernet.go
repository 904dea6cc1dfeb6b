package network

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/containerd/log"

	"github.com/spin-stack/cvdnet/internal/host/network/ebtables"
)

// CreateEthernetIface creates a tap, enslaves it to req.Bridge and filters
// off the tap every address family the bridge does not carry. The returned
// record lists the completed steps. On failure the steps completed so far are
// undone in reverse order before the error is returned.
func (m *Manager) CreateEthernetIface(ctx context.Context, req EthernetRequest) (_ EthernetNetworkConfig, retErr error) {
	start := time.Now()
	defer func() { m.recordSetup(KindEthernet, start, retErr) }()

	if err := validateName(req.Name); err != nil {
		return EthernetNetworkConfig{}, err
	}
	if err := validateName(req.Bridge); err != nil {
		return EthernetNetworkConfig{}, fmt.Errorf("bridge: %w", err)
	}
	if err := req.Families.Validate(); err != nil {
		return EthernetNetworkConfig{}, err
	}

	rec := EthernetNetworkConfig{name: req.Name, bridge: req.Bridge, tool: req.Tool}
	fail := func(err error) (EthernetNetworkConfig, error) {
		if len(rec.steps) == 0 {
			return EthernetNetworkConfig{}, err
		}
		return EthernetNetworkConfig{}, m.withRollback(ctx, err, func() error {
			return m.cleanupEthernet(ctx, rec)
		})
	}

	if err := m.links.CreateTap(ctx, req.Name); err != nil {
		return fail(err)
	}
	rec = rec.with(StepTap)

	if err := m.links.LinkTapToBridge(ctx, req.Name, req.Bridge); err != nil {
		return fail(err)
	}
	rec = rec.with(StepLinked)

	if !req.Families.IPv4 {
		if err := m.rules.CreateEbtables(ctx, req.Name, ebtables.IPv4, req.Tool); err != nil {
			return fail(err)
		}
		rec = rec.with(StepEbtablesIPv4)
	}
	if !req.Families.IPv6 {
		if err := m.rules.CreateEbtables(ctx, req.Name, ebtables.IPv6, req.Tool); err != nil {
			return fail(err)
		}
		rec = rec.with(StepEbtablesIPv6)
	}

	log.G(ctx).WithFields(log.Fields{
		"iface":    req.Name,
		"bridge":   req.Bridge,
		"families": req.Families.String(),
		"tool":     req.Tool.Binary(),
	}).Info("ethernet interface created")
	return rec, nil
}

// CleanupEthernetIface undoes exactly the steps recorded in cfg, newest
// first. Every step is attempted; the failures are joined.
func (m *Manager) CleanupEthernetIface(ctx context.Context, cfg EthernetNetworkConfig) (retErr error) {
	start := time.Now()
	defer func() { m.recordTeardown(KindEthernet, start, retErr) }()

	return m.cleanupEthernet(ctx, cfg)
}

// DestroyEthernetIface removes an ethernet attachment whose record is not
// available. Pieces that do not exist are skipped.
func (m *Manager) DestroyEthernetIface(ctx context.Context, name, bridge string, tool ebtables.Tool) error {
	if err := validateName(name); err != nil {
		return err
	}
	return m.CleanupEthernetIface(ctx, FullEthernetConfig(name, bridge, tool))
}

func (m *Manager) cleanupEthernet(ctx context.Context, cfg EthernetNetworkConfig) error {
	var errs []error
	for _, step := range slices.Backward(cfg.steps) {
		var err error
		switch step {
		case StepEbtablesIPv6:
			err = m.rules.DestroyEbtables(ctx, cfg.name, ebtables.IPv6, cfg.tool)
		case StepEbtablesIPv4:
			err = m.rules.DestroyEbtables(ctx, cfg.name, ebtables.IPv4, cfg.tool)
		case StepLinked:
			// Deleting the tap releases it from the bridge.
		case StepTap:
			err = m.links.DestroyIface(ctx, cfg.name)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("undo %s: %w", step, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}
	log.G(ctx).WithField("iface", cfg.name).Debug("ethernet interface cleaned up")
	return nil
}
