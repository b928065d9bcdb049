// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/sowndev0106/domain-router/pkg/hosts"
	"github.com/spf13/cobra"
)

func (a *app) hostsFile() *hosts.File {
	return hosts.New(a.cfg.HostsFile, a.cfg.ConfigDir, a.cfg.RequestPrivilege, a.logger)
}

func (a *app) newHostsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hosts",
		Short: "Inspect and repair hosts file entries of domain routes",
		Long: `Domain routes resolve to 127.0.0.1 through entries kept between the
"` + hosts.MarkerStart + `" and "` + hosts.MarkerEnd + `"
markers of the hosts file. Disabled routes are commented out.`,
	}
	cmd.AddCommand(a.newHostsListCmd(), a.newHostsSyncCmd())
	return cmd
}

func (a *app) newHostsListCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List managed hosts file entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := a.hostsFile().Entries()
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(entries)
			}

			if len(entries) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "No managed entries in %s.\n", a.cfg.HostsFile)
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "DOMAIN\tADDRESS\tENABLED")
			for _, e := range entries {
				fmt.Fprintf(w, "%s\t%s\t%t\n", e.Domain, e.Address, e.Enabled)
			}
			return w.Flush()
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print entries as JSON")
	return cmd
}

func (a *app) newHostsSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Write the entries of every domain route to the hosts file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.openStore()
			if err != nil {
				return err
			}

			hf := a.hostsFile()
			n := 0
			for _, r := range st.List() {
				domain, ok := domainOf(r)
				if !ok {
					continue
				}
				if err := hf.Toggle(domain, r.Enabled); err != nil {
					return err
				}
				n++
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Synced %d domain routes to %s\n", n, a.cfg.HostsFile)
			return nil
		},
	}
}
