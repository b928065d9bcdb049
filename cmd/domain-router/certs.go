// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/sowndev0106/domain-router/pkg/certs"
	"github.com/spf13/cobra"
)

func (a *app) newCertsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "certs",
		Short: "Manage self-signed certificates",
		Long: `Generate and inspect the self-signed certificates cached under
<config-dir>/certs. The proxy serves the certificate of --cert-domain
(default localhost.localdomain) on port 443.`,
	}
	cmd.AddCommand(a.newCertsGenerateCmd(), a.newCertsInfoCmd())
	return cmd
}

func (a *app) provider() *certs.Provider {
	return certs.NewProvider(a.cfg.ConfigDir, a.logger)
}

func (a *app) newCertsGenerateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "generate [domain]",
		Short: "Generate a self-signed certificate, replacing any cached one",
		Long: `Generate an ECDSA P-256 certificate valid for <domain>, *.<domain> and
localhost. Self-signed certificates are for local development only.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			domain := a.certDomain(args)
			certPath, keyPath, err := a.provider().Generate(domain)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Generated certificate for %s\n", domain)
			fmt.Fprintf(out, "  Certificate: %s\n", certPath)
			fmt.Fprintf(out, "  Private key: %s\n", keyPath)
			return nil
		},
	}
}

func (a *app) newCertsInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info [domain]",
		Short: "Show the cached certificate of a domain",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			domain := a.certDomain(args)
			info, err := a.provider().Info(domain)
			if err != nil {
				return err
			}

			now := time.Now()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Certificate: %s\n", info.Path)
			fmt.Fprintf(out, "  Subject:    %s\n", info.Subject)
			fmt.Fprintf(out, "  Issuer:     %s\n", info.Issuer)
			fmt.Fprintf(out, "  Serial:     %s\n", info.SerialNumber)
			fmt.Fprintf(out, "  DNS names:  %s\n", strings.Join(info.DNSNames, ", "))
			fmt.Fprintf(out, "  Algorithm:  %s (%s)\n", info.SignatureAlgorithm, info.PublicKeyAlgorithm)
			fmt.Fprintf(out, "  Not before: %s\n", info.NotBefore.Format(time.RFC3339))
			fmt.Fprintf(out, "  Not after:  %s\n", info.NotAfter.Format(time.RFC3339))

			if err := info.Validate(now); err != nil {
				fmt.Fprintf(out, "  Status:     invalid (%v)\n", err)
				return nil
			}
			if info.ExpiresSoon(now) {
				fmt.Fprintf(out, "  Status:     expires in %d days\n", int(info.NotAfter.Sub(now).Hours()/24))
				return nil
			}
			fmt.Fprintln(out, "  Status:     valid")
			return nil
		},
	}
}

func (a *app) certDomain(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return a.cfg.CertDomain
}
