// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/sowndev0106/domain-router/pkg/routes"
	"github.com/sowndev0106/domain-router/pkg/store"
	"github.com/spf13/cobra"
)

func (a *app) newRoutesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "routes",
		Short: "Manage routes",
		Long: `Add, remove, enable and disable routes in the routes file.

A running proxy picks up changes automatically unless started with --no-watch.
Domain routes are mirrored into the hosts file unless --manage-hosts=false.`,
	}

	cmd.AddCommand(
		a.newRoutesListCmd(),
		a.newRoutesAddDomainCmd(),
		a.newRoutesAddPortCmd(),
		a.newRoutesRemoveCmd(),
		a.newRoutesToggleCmd("enable", true),
		a.newRoutesToggleCmd("disable", false),
	)
	return cmd
}

func (a *app) openStore() (*store.Store, error) {
	return store.Open(a.cfg.RoutesFile, a.logger)
}

func (a *app) newRoutesListCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List routes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.openStore()
			if err != nil {
				return err
			}
			rs := st.List()

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(rs)
			}

			if len(rs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No routes configured.")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tROUTE\tTYPE\tSSL\tENABLED")
			for _, r := range rs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%t\n", r.ID, describe(r), r.Kind.Type(), sslLabel(r), r.Enabled)
			}
			return w.Flush()
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print routes as JSON")
	return cmd
}

func (a *app) newRoutesAddDomainCmd() *cobra.Command {
	var host string
	var ssl bool

	cmd := &cobra.Command{
		Use:   "add-domain <domain> <target-port>",
		Short: "Add a domain route",
		Example: `  domain-router routes add-domain app.local.dev 3000
  domain-router routes add-domain api.local.dev 8000 --host 10.0.0.5 --ssl`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			targetPort, err := parsePort("target-port", args[1])
			if err != nil {
				return err
			}
			r := routes.NewDomain(args[0], targetPort, ssl)
			r.Kind = routes.Domain{Domain: args[0], TargetHost: host, TargetPort: targetPort}
			return a.addRoute(cmd, r)
		},
	}

	cmd.Flags().StringVar(&host, "host", routes.DefaultTargetHost, "target host")
	cmd.Flags().BoolVar(&ssl, "ssl", false, "enable SSL for the route")
	return cmd
}

func (a *app) newRoutesAddPortCmd() *cobra.Command {
	var host string
	var ssl bool

	cmd := &cobra.Command{
		Use:   "add-port <source-port> <target-port>",
		Short: "Add a port mapping",
		Long: `Forward localhost:<source-port> to <host>:<target-port>.

With --ssl on source port 80 the target is also served over TLS on 443.`,
		Example: `  domain-router routes add-port 8080 3000
  domain-router routes add-port 80 5173 --ssl`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			sourcePort, err := parsePort("source-port", args[0])
			if err != nil {
				return err
			}
			targetPort, err := parsePort("target-port", args[1])
			if err != nil {
				return err
			}
			r := routes.NewPortMapping(sourcePort, targetPort, ssl)
			r.Kind = routes.PortMapping{SourcePort: sourcePort, TargetHost: host, TargetPort: targetPort}
			return a.addRoute(cmd, r)
		},
	}

	cmd.Flags().StringVar(&host, "host", routes.DefaultTargetHost, "target host")
	cmd.Flags().BoolVar(&ssl, "ssl", false, "also serve the target over TLS on 443 (source port 80 only)")
	return cmd
}

func (a *app) addRoute(cmd *cobra.Command, r routes.Route) error {
	if err := r.Validate(); err != nil {
		return err
	}
	st, err := a.openStore()
	if err != nil {
		return err
	}
	if domain, ok := domainOf(r); ok && a.cfg.ManageHosts {
		if err := a.hostsFile().Add(domain); err != nil {
			return err
		}
	}
	if err := st.Add(r); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Added %s (%s)\n", describe(r), r.ID)
	return nil
}

func (a *app) newRoutesRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "remove <id>",
		Aliases: []string{"rm"},
		Short:   "Remove a route",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.openStore()
			if err != nil {
				return err
			}
			r, err := st.Get(args[0])
			if err != nil {
				return err
			}
			if domain, ok := domainOf(r); ok && a.cfg.ManageHosts {
				if err := a.hostsFile().Remove(domain); err != nil {
					return err
				}
			}
			if err := st.Remove(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", args[0])
			return nil
		},
	}
}

func (a *app) newRoutesToggleCmd(use string, enabled bool) *cobra.Command {
	done := "Enabled"
	if !enabled {
		done = "Disabled"
	}

	return &cobra.Command{
		Use:   use + " <id>",
		Short: fmt.Sprintf("Set a route's enabled flag to %t", enabled),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.openStore()
			if err != nil {
				return err
			}
			if err := st.Toggle(args[0], enabled); err != nil {
				return err
			}
			r, err := st.Get(args[0])
			if err != nil {
				return err
			}
			if domain, ok := domainOf(r); ok && a.cfg.ManageHosts {
				if err := a.hostsFile().Toggle(domain, enabled); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", done, args[0])
			return nil
		},
	}
}

// domainOf returns the domain of a domain route.
func domainOf(r routes.Route) (string, bool) {
	d, ok := r.Kind.(routes.Domain)
	return d.Domain, ok
}

// describe renders a route with its target.
func describe(r routes.Route) string {
	host, port := r.Kind.Target()
	if d, ok := r.Kind.(routes.Domain); ok {
		return fmt.Sprintf("%s → %s:%d", d.Domain, host, port)
	}
	return r.Name()
}

func sslLabel(r routes.Route) string {
	if !r.SSLEnabled {
		return "-"
	}
	return string(r.SSLMode.Kind)
}

func parsePort(name, s string) (uint16, error) {
	n, err := strconv.ParseUint(s, 10, 16)
	if err != nil || n == 0 {
		return 0, fmt.Errorf("invalid %s %q: must be 1-65535", name, s)
	}
	return uint16(n), nil
}
