package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/spin-stack/cvdnet/internal/host/identity"
	"github.com/spin-stack/cvdnet/internal/host/preflight"
)

func (a *app) toolCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tool",
		Short: "Bridge filtering tool",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "detect",
		Short: "Print the ebtables variant that rule operations will use",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := a.manager(cmd.Context())
			if err != nil {
				return err
			}
			tool, err := m.FilterTool(cmd.Context())
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), tool.Binary())
			return err
		},
	})
	return cmd
}

func (a *app) nameCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "name ROLE [ID]",
		Short: "Print the interface name for a role (mtap, etap, wtap, ebr, wbr)",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			role, err := identity.ParseRole(args[0])
			if err != nil {
				return err
			}
			var name string
			switch role {
			case identity.RoleEthernetBridge, identity.RoleWirelessBridge:
				name = identity.BridgeName(a.namePrefix(), role)
			default:
				if len(args) < 2 {
					return fmt.Errorf("role %s needs an instance id", role)
				}
				id, err := parseID(args[1])
				if err != nil {
					return err
				}
				if name, err = identity.InterfaceName(a.namePrefix(), role, id); err != nil {
					return err
				}
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), name)
			return err
		},
	}
}

func (a *app) doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check that this host can create network attachments",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			report := preflight.Run(cmd.Context(), a.cfg)
			out := cmd.OutOrStdout()
			for _, res := range report {
				status := "ok"
				switch {
				case res.OK():
				case res.Warn:
					status = "warn"
				default:
					status = "FAIL"
				}
				line := fmt.Sprintf("%-5s %s", status, res.Name)
				if res.Detail != "" {
					line += " (" + res.Detail + ")"
				}
				if res.Err != nil {
					line += ": " + res.Err.Error()
				}
				if _, err := fmt.Fprintln(out, line); err != nil {
					return err
				}
			}
			return report.Err()
		},
	}
}
