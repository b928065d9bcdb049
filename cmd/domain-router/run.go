// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sowndev0106/domain-router/pkg/certs"
	proxyerrors "github.com/sowndev0106/domain-router/pkg/errors"
	"github.com/sowndev0106/domain-router/pkg/health"
	"github.com/sowndev0106/domain-router/pkg/metrics"
	"github.com/sowndev0106/domain-router/pkg/privilege"
	"github.com/sowndev0106/domain-router/pkg/proxy"
	"github.com/sowndev0106/domain-router/pkg/routes"
	"github.com/sowndev0106/domain-router/pkg/store"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func (a *app) newRunCmd() *cobra.Command {
	var skipPrivilege, noWatch bool
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the proxy",
		Long: `Start one listener per port-mapping route and forward connections to
their targets until interrupted.

The routes file is watched: edits are applied in place when the set of
ports is unchanged, otherwise the listeners are restarted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("skip-privilege") {
				a.cfg.SkipPrivilege = skipPrivilege
			}
			if cmd.Flags().Changed("no-watch") {
				a.cfg.WatchRoutes = !noWatch
			}
			if cmd.Flags().Changed("metrics-addr") {
				a.cfg.MetricsAddr = metricsAddr
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.run(ctx)
		},
	}

	cmd.Flags().BoolVar(&skipPrivilege, "skip-privilege", false, "do not check or request permission for ports below 1024")
	cmd.Flags().BoolVar(&noWatch, "no-watch", false, "do not reload routes when the routes file changes")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve /metrics, /health, /ready and /live on this address")
	return cmd
}

func (a *app) run(ctx context.Context) error {
	cfg, logger := a.cfg, a.logger

	st, err := store.Open(cfg.RoutesFile, logger)
	if err != nil {
		return err
	}

	var broker privilege.Broker = privilege.NewCapabilityBroker(cfg.RequestPrivilege, logger)
	if cfg.SkipPrivilege {
		broker = privilege.Noop
	}

	provider := certs.NewProvider(cfg.ConfigDir, logger)
	m := metrics.New("")

	mgr := proxy.New(proxy.Config{
		Certs:           provider,
		Broker:          broker,
		CertDomain:      cfg.CertDomain,
		ShutdownTimeout: cfg.ShutdownTimeout,
		Server: proxy.ServerOptions{
			HandshakeTimeout: cfg.HandshakeTimeout,
			DialTimeout:      cfg.DialTimeout,
			MaxConnections:   cfg.MaxConnections,
			AcceptRate:       cfg.AcceptRate,
			AcceptBurst:      cfg.AcceptBurst,
		},
		Logger:  logger,
		Metrics: m,
	})

	rs := st.List()
	logger.Info("starting domain-router",
		slog.String("routes_file", st.Path()),
		slog.Int("routes", len(rs)))

	if _, err := mgr.Start(ctx, rs); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	if cfg.MetricsAddr != "" {
		checker := newChecker(mgr, provider, cfg.CertDomain)
		srv := newObservabilityServer(cfg.MetricsAddr, m, checker)
		g.Go(func() error {
			logger.Info("starting observability server", slog.String("address", cfg.MetricsAddr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("observability server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if cfg.WatchRoutes {
		w := store.NewWatcher(st, 0, logger, func(rs []routes.Route) {
			if _, err := mgr.Reload(gctx, rs); err != nil {
				logger.Error("failed to apply routes", slog.String("error", err.Error()))
			}
		})
		g.Go(func() error {
			return w.Watch(gctx)
		})
	}

	<-gctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	stopErr := mgr.Stop(shutdownCtx)

	if err := g.Wait(); err != nil {
		return err
	}
	if stopErr != nil {
		return stopErr
	}
	logger.Info("domain-router stopped")
	return nil
}

func newChecker(mgr *proxy.Manager, provider *certs.Provider, certDomain string) *health.Checker {
	checker := health.NewChecker(5 * time.Second)

	checker.RegisterCritical("proxy", func(ctx context.Context) error {
		if !mgr.Status().Running {
			return proxyerrors.ErrNotRunning
		}
		return nil
	})

	checker.Register("listeners", func(ctx context.Context) error {
		var unbound []uint16
		for _, l := range mgr.Status().Listeners {
			if !l.Bound {
				unbound = append(unbound, l.Port)
			}
		}
		if len(unbound) > 0 {
			return fmt.Errorf("ports not bound: %v", unbound)
		}
		return nil
	})

	checker.Register("certificate", func(ctx context.Context) error {
		tls := false
		for _, l := range mgr.Status().Listeners {
			tls = tls || l.TLS
		}
		if !tls {
			return nil
		}
		info, err := provider.Info(certDomain)
		if err != nil {
			return err
		}
		return info.Validate(time.Now())
	})

	return checker
}

func newObservabilityServer(addr string, m *metrics.Metrics, checker *health.Checker) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	checker.Mount(mux)

	return &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}
