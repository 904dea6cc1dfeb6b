package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/containerd/errdefs"
	"github.com/containerd/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/spin-stack/cvdnet/internal/config"
	"github.com/spin-stack/cvdnet/internal/host/identity"
	"github.com/spin-stack/cvdnet/internal/host/network"
	"github.com/spin-stack/cvdnet/internal/version"
)

type app struct {
	configPath  string
	debug       bool
	metricsFile string

	cfg *config.Config
	mgr *network.Manager
	// newManager is replaced in tests.
	newManager func(context.Context, *config.Config) (*network.Manager, error)
}

func newApp() *app {
	return &app{newManager: network.NewFromConfig}
}

func (a *app) command() *cobra.Command {
	root := &cobra.Command{
		Use:               "cvdnet",
		Short:             "Create and destroy the host network attachments of virtual devices",
		Version:           version.Info(),
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "Config file (default $"+config.ConfigEnvVar+" or "+config.DefaultConfigPath+")")
	root.PersistentFlags().BoolVar(&a.debug, "debug", false, "Debug log level")
	root.PersistentFlags().StringVar(&a.metricsFile, "metrics-file", "", "Write operation metrics in Prometheus text format to this file")

	root.AddCommand(
		a.mobileCmd(),
		a.ethernetCmd(),
		a.bridgeCmd(),
		a.toolCmd(),
		a.nameCmd(),
		a.doctorCmd(),
	)
	return root
}

// run executes args and writes the metrics file even when the command
// failed.
func (a *app) run(ctx context.Context, args []string) error {
	root := a.command()
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	if merr := a.writeMetrics(); merr != nil {
		err = errors.Join(err, merr)
	}
	return err
}

func (a *app) setup(cmd *cobra.Command, _ []string) error {
	if a.debug {
		if err := log.SetLevel("debug"); err != nil {
			return err
		}
	}
	path := a.configPath
	if path == "" {
		path = config.Path()
	}
	cfg, err := config.LoadOrDefault(path)
	if err != nil {
		return err
	}
	a.cfg = cfg
	log.G(cmd.Context()).WithField("config", path).Debug("configuration loaded")
	return nil
}

func (a *app) manager(ctx context.Context) (*network.Manager, error) {
	if a.mgr != nil {
		return a.mgr, nil
	}
	m, err := a.newManager(ctx, a.cfg)
	if err != nil {
		return nil, err
	}
	a.mgr = m
	return m, nil
}

func (a *app) writeMetrics() error {
	if a.metricsFile == "" || a.mgr == nil {
		return nil
	}
	reg := prometheus.NewRegistry()
	network.Register(reg, a.mgr.Metrics())
	if err := prometheus.WriteToTextfile(a.metricsFile, reg); err != nil {
		return fmt.Errorf("write metrics file: %w", err)
	}
	return nil
}

// namePrefix is the user name of the invoking user when user prefixes are
// enabled, otherwise the configured prefix.
func (a *app) namePrefix() string {
	if !a.cfg.Network.UserPrefix {
		return a.cfg.Network.NamePrefix
	}
	return identity.NamePrefix(invokingUID(), a.cfg.Network.NamePrefix)
}

// invokingUID sees through sudo.
func invokingUID() int {
	if s := os.Getenv("SUDO_UID"); s != "" {
		if uid, err := strconv.Atoi(s); err == nil {
			return uid
		}
	}
	return os.Getuid()
}

func parseID(s string) (int, error) {
	id, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("instance id %q: %w", s, errdefs.ErrInvalidArgument)
	}
	return id, network.ValidateInstanceID(id)
}

// kind is a bridged network flavour.
type kind struct {
	tap    identity.Role
	bridge identity.Role
	prefix string
}

func parseKind(s string) (kind, error) {
	switch s {
	case "", "ethernet":
		return kind{tap: identity.RoleEthernetTap, bridge: identity.RoleEthernetBridge, prefix: network.EthernetPrefix}, nil
	case "wireless":
		return kind{tap: identity.RoleWirelessTap, bridge: identity.RoleWirelessBridge, prefix: network.WirelessPrefix}, nil
	}
	return kind{}, fmt.Errorf("unknown network kind %q: %w", s, errdefs.ErrInvalidArgument)
}
