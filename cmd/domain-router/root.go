// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	domainrouter "github.com/sowndev0106/domain-router"
	"github.com/spf13/cobra"
)

// app carries the configuration resolved for one command invocation.
type app struct {
	cfg    domainrouter.Config
	logger *slog.Logger

	// env replaces the process environment when set.
	env map[string]string
}

// newRootCmd builds the command tree. A nil environ reads the process
// environment and .env.
func newRootCmd(environ map[string]string) *cobra.Command {
	a := &app{env: environ}

	root := &cobra.Command{
		Use:   "domain-router",
		Short: "Forward local ports to other targets, with TLS on 443",
		Long: `domain-router redirects traffic bound for a local port to another host:port.

Routes are kept in a YAML file and may be added or removed while the proxy
runs. A port mapping on port 80 with SSL enabled is also served on 443,
terminating TLS with a self-signed certificate.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			environ := a.env
			if environ == nil {
				// .env file is optional
				_ = godotenv.Load()
				environ = environMap(os.Environ())
			}

			// Flags take precedence over the environment.
			pf := cmd.Flags()
			for name, key := range map[string]string{
				"config-dir":   "CONFIG_DIR",
				"routes-file":  "ROUTES_FILE",
				"log-level":    "LOG_LEVEL",
				"log-format":   "LOG_FORMAT",
				"hosts-file":   "HOSTS_FILE",
				"manage-hosts": "MANAGE_HOSTS",
			} {
				if pf.Changed(name) {
					environ[domainrouter.EnvPrefix+key] = pf.Lookup(name).Value.String()
				}
			}

			cfg, err := domainrouter.NewConfig(env.Options{Environment: environ})
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}

			a.cfg = cfg
			a.logger = setupLogger(cmd.ErrOrStderr(), cfg.LogLevel, cfg.LogFormat)
			slog.SetDefault(a.logger)
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.String("config-dir", "", "configuration directory (default $HOME/.config/domain-router)")
	pf.String("routes-file", "", "routes file (default <config-dir>/routes.yaml)")
	pf.String("log-level", "info", "log level (debug, info, warn, error)")
	pf.String("log-format", "text", "log format (text, json)")
	pf.String("hosts-file", "", "hosts file that domain routes are written to (default /etc/hosts)")
	pf.Bool("manage-hosts", true, "add, remove and toggle hosts file entries with domain routes")

	root.AddCommand(
		a.newRunCmd(),
		a.newRoutesCmd(),
		a.newCertsCmd(),
		a.newHostsCmd(),
		newVersionCmd(),
	)
	return root
}

func environMap(environ []string) map[string]string {
	m := make(map[string]string, len(environ))
	for _, kv := range environ {
		if k, v, ok := strings.Cut(kv, "="); ok {
			m[k] = v
		}
	}
	return m
}

// Execute runs the root command.
func Execute() {
	if err := newRootCmd(nil).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// setupLogger creates a structured logger with the specified level and format.
func setupLogger(w io.Writer, level, format string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: logLevel,
	}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}
