package main

import (
	"fmt"
	"net/netip"
	"os"

	"github.com/containerd/errdefs"
	"github.com/containerd/log"
	"github.com/spf13/cobra"

	"github.com/spin-stack/cvdnet/internal/host/identity"
	"github.com/spin-stack/cvdnet/internal/host/network"
	"github.com/spin-stack/cvdnet/internal/host/network/cni"
)

func (a *app) mobileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mobile",
		Short: "Point-to-point taps routed through a /30 per instance",
	}

	var (
		name   string
		prefix string
		output string
	)
	create := &cobra.Command{
		Use:   "create ID",
		Short: "Create the mobile tap of an instance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			id, ifname, err := a.mobileTarget(args[0], name)
			if err != nil {
				return err
			}
			m, err := a.manager(ctx)
			if err != nil {
				return err
			}
			att, err := m.CreateMobileIface(ctx, ifname, id, prefix)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			switch output {
			case "cni":
				mac, err := cni.InterfaceMAC(att.Name)
				if err != nil {
					log.G(ctx).WithError(err).Warn("tap MAC unavailable")
				}
				return cni.MobileResult(att, mac, a.cfg.DHCP.DNSServers).PrintTo(out)
			default:
				_, err := fmt.Fprintf(out, "%s gateway %s guest %s netmask %s\n",
					att.Name, att.Address.Gateway, att.Address.Guest, att.Address.Netmask())
				return err
			}
		},
	}
	create.Flags().StringVar(&name, "name", "", "Interface name (default derived from the id)")
	create.Flags().StringVar(&prefix, "prefix", network.MobilePrefix, "The /24 holding every instance's /30")
	create.Flags().StringVarP(&output, "output", "o", "text", "Output format: text or cni")

	var (
		destroyName   string
		destroyPrefix string
		fromCNI       string
	)
	destroy := &cobra.Command{
		Use:   "destroy [ID]",
		Short: "Destroy the mobile tap of an instance",
		Long: "Destroy the mobile tap of an instance. With --from-cni the tap, id and\n" +
			"prefix are read from the CNI result printed by \"mobile create -o cni\".",
		Args: cobra.RangeArgs(0, 1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			var (
				id     int
				ifname string
				prefix = destroyPrefix
				err    error
			)
			switch {
			case fromCNI != "":
				id, ifname, prefix, err = mobileFromCNI(fromCNI, args)
			case len(args) == 1:
				id, ifname, err = a.mobileTarget(args[0], destroyName)
			default:
				return fmt.Errorf("instance id required without --from-cni: %w", errdefs.ErrInvalidArgument)
			}
			if err != nil {
				return err
			}
			if destroyName != "" {
				ifname = destroyName
			}
			m, err := a.manager(ctx)
			if err != nil {
				return err
			}
			return m.DestroyMobileIface(ctx, ifname, id, prefix)
		},
	}
	destroy.Flags().StringVar(&destroyName, "name", "", "Interface name (default derived from the id)")
	destroy.Flags().StringVar(&destroyPrefix, "prefix", network.MobilePrefix, "The /24 holding every instance's /30")
	destroy.Flags().StringVar(&fromCNI, "from-cni", "", "Read the attachment from a CNI result file")
	destroy.MarkFlagsMutuallyExclusive("from-cni", "prefix")

	cmd.AddCommand(create, destroy)
	return cmd
}

// mobileFromCNI recovers id, tap and /24 from a CNI result file. An id given
// on the command line must agree with it.
func mobileFromCNI(path string, args []string) (int, string, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, "", "", fmt.Errorf("read CNI result: %w", err)
	}
	att, err := cni.ReadResult(data)
	if err != nil {
		return 0, "", "", fmt.Errorf("%s: %w", path, err)
	}
	mob, err := att.Mobile()
	if err != nil {
		return 0, "", "", fmt.Errorf("%s: %w", path, err)
	}
	if len(args) == 1 {
		id, err := parseID(args[0])
		if err != nil {
			return 0, "", "", err
		}
		if id != mob.Address.ID {
			return 0, "", "", fmt.Errorf("instance id %d does not match %s in %s: %w",
				id, mob.Address.Network, path, errdefs.ErrInvalidArgument)
		}
	}
	prefix := netip.PrefixFrom(mob.Address.Network.Addr(), 24).Masked()
	return mob.Address.ID, mob.Name, prefix.String(), nil
}

func (a *app) mobileTarget(arg, name string) (int, string, error) {
	id, err := parseID(arg)
	if err != nil {
		return 0, "", err
	}
	if name != "" {
		return id, name, nil
	}
	name, err = identity.InterfaceName(a.namePrefix(), identity.RoleMobileTap, id)
	return id, name, err
}
