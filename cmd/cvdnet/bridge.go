package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/spin-stack/cvdnet/internal/host/identity"
)

type bridgeFlags struct {
	name   string
	prefix string
	kind   string
}

func (f *bridgeFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.name, "name", "", "Bridge name (default derived from the kind)")
	cmd.Flags().StringVar(&f.prefix, "prefix", "", "The /24 the bridge routes (default derived from the kind)")
	cmd.Flags().StringVar(&f.kind, "kind", "ethernet", "Network kind: ethernet or wireless")
}

func (f *bridgeFlags) resolve(a *app) (string, string, error) {
	k, err := parseKind(f.kind)
	if err != nil {
		return "", "", err
	}
	name, prefix := f.name, f.prefix
	if name == "" {
		name = identity.BridgeName(a.namePrefix(), k.bridge)
	}
	if prefix == "" {
		prefix = k.prefix
	}
	return name, prefix, nil
}

func (a *app) bridgeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bridge",
		Short: "Shared bridges routing a /24 with DHCP and NAT",
	}

	var createFlags bridgeFlags
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a bridge and its gateway",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			name, prefix, err := createFlags.resolve(a)
			if err != nil {
				return err
			}
			m, err := a.manager(ctx)
			if err != nil {
				return err
			}
			gw, err := m.CreateEthernetBridgeIface(ctx, name, prefix)
			if err != nil {
				return err
			}
			addr := gw.Address()
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s gateway %s dhcp %s\n",
				gw.Bridge(), addr.GatewayPrefix(), addr.DHCPRange)
			return err
		},
	}
	createFlags.register(create)

	var destroyFlags bridgeFlags
	destroy := &cobra.Command{
		Use:   "destroy",
		Short: "Destroy a bridge and its gateway",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			name, prefix, err := destroyFlags.resolve(a)
			if err != nil {
				return err
			}
			m, err := a.manager(ctx)
			if err != nil {
				return err
			}
			return m.DestroyEthernetBridgeIface(ctx, name, prefix)
		},
	}
	destroyFlags.register(destroy)

	cmd.AddCommand(create, destroy)
	return cmd
}
