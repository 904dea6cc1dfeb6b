package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/spin-stack/cvdnet/internal/host/identity"
	"github.com/spin-stack/cvdnet/internal/host/network"
)

type ethernetFlags struct {
	name   string
	bridge string
	kind   string
}

func (f *ethernetFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.name, "name", "", "Tap name (default derived from the id)")
	cmd.Flags().StringVar(&f.bridge, "bridge", "", "Bridge to join (default derived from the kind)")
	cmd.Flags().StringVar(&f.kind, "kind", "ethernet", "Network kind: ethernet or wireless")
}

// resolve returns the instance id, tap name and bridge name.
func (f *ethernetFlags) resolve(a *app, arg string) (int, string, string, error) {
	id, err := parseID(arg)
	if err != nil {
		return 0, "", "", err
	}
	k, err := parseKind(f.kind)
	if err != nil {
		return 0, "", "", err
	}
	name := f.name
	if name == "" {
		if name, err = identity.InterfaceName(a.namePrefix(), k.tap, id); err != nil {
			return 0, "", "", err
		}
	}
	bridge := f.bridge
	if bridge == "" {
		bridge = identity.BridgeName(a.namePrefix(), k.bridge)
	}
	return id, name, bridge, nil
}

func (a *app) ethernetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ethernet",
		Short: "Taps enslaved to a shared bridge",
	}

	var (
		createFlags ethernetFlags
		ipv4, ipv6  bool
	)
	create := &cobra.Command{
		Use:   "create ID",
		Short: "Create an instance tap and attach it to the bridge",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			_, name, bridge, err := createFlags.resolve(a, args[0])
			if err != nil {
				return err
			}
			m, err := a.manager(ctx)
			if err != nil {
				return err
			}
			tool, err := m.FilterTool(ctx)
			if err != nil {
				return err
			}
			cfg, err := m.CreateEthernetIface(ctx, network.EthernetRequest{
				Name:     name,
				Bridge:   bridge,
				Families: network.Families{IPv4: ipv4, IPv6: ipv6},
				Tool:     tool,
			})
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s bridge %s steps %v\n", cfg.Name(), cfg.Bridge(), cfg.Steps())
			return err
		},
	}
	createFlags.register(create)
	create.Flags().BoolVar(&ipv4, "ipv4", true, "The bridge carries IPv4")
	create.Flags().BoolVar(&ipv6, "ipv6", false, "The bridge carries IPv6")

	var destroyFlags ethernetFlags
	destroy := &cobra.Command{
		Use:   "destroy ID",
		Short: "Detach and destroy an instance tap",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			_, name, bridge, err := destroyFlags.resolve(a, args[0])
			if err != nil {
				return err
			}
			m, err := a.manager(ctx)
			if err != nil {
				return err
			}
			tool, err := m.FilterTool(ctx)
			if err != nil {
				return err
			}
			return m.DestroyEthernetIface(ctx, name, bridge, tool)
		},
	}
	destroyFlags.register(destroy)

	cmd.AddCommand(create, destroy)
	return cmd
}
