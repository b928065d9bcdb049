// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package proxy

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"sync"
	"time"

	proxyerrors "github.com/sowndev0106/domain-router/pkg/errors"
	"github.com/sowndev0106/domain-router/pkg/routes"
	"github.com/sowndev0106/domain-router/pkg/server/tcp"
	"golang.org/x/sync/errgroup"
)

var errNoCertSource = errors.New("no certificate source configured")

type listener struct {
	port   uint16
	target routes.Target
	tls    bool
	server *tcp.Server
}

// Instance is one running set of listeners sharing a route table.
type Instance struct {
	config       Config
	table        *routes.Table
	requirements map[uint16]routes.Target
	listeners    []*listener

	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.Mutex
	stopped bool
}

func (m *Manager) newInstance(rs []routes.Route, reqs map[uint16]routes.Target) *Instance {
	return &Instance{
		config:       m.config,
		table:        routes.NewTable(routes.Rebuild(rs)),
		requirements: reqs,
		done:         make(chan struct{}),
	}
}

// start spawns one listener per required port and returns once each has
// bound its port or failed to.
func (i *Instance) start(ctx context.Context) {
	logger := i.config.Logger
	if m := i.config.Metrics; m != nil {
		m.ActiveRoutes.Set(float64(i.table.Len()))
	}

	// The instance outlives the context it was started with.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	i.cancel = cancel

	opts := i.config.Server
	for _, port := range routes.SortedPorts(i.requirements) {
		target := i.requirements[port]
		l := &listener{port: port, target: target, tls: port == HTTPSPort}

		cfg := tcp.Config{
			Address:          i.config.ListenAddr(port),
			TargetAddress:    target.Address(),
			HandshakeTimeout: opts.HandshakeTimeout,
			DialTimeout:      opts.DialTimeout,
			BufferSize:       opts.BufferSize,
			MaxConnections:   opts.MaxConnections,
			AcceptRate:       opts.AcceptRate,
			AcceptBurst:      opts.AcceptBurst,
			Logger:           logger,
			Metrics:          i.config.Metrics,
		}

		if l.tls {
			tlsConfig, err := i.tlsConfig()
			if err != nil {
				logger.Error("HTTPS listener not started",
					slog.Int("port", int(port)),
					slog.String("error", err.Error()))
				continue
			}
			cfg.TLSConfig = tlsConfig
		}

		l.server = tcp.New(cfg)
		i.listeners = append(i.listeners, l)
	}

	var g errgroup.Group
	for _, l := range i.listeners {
		g.Go(func() error {
			if err := l.server.Listen(runCtx); err != nil {
				logger.Error("listener failed",
					slog.Int("port", int(l.port)),
					slog.String("error", err.Error()))
			}
			return nil
		})
	}
	go func() {
		g.Wait()
		close(i.done)
	}()

	for _, l := range i.listeners {
		select {
		case <-l.server.Ready():
		case <-ctx.Done():
			return
		}
	}
}

func (i *Instance) tlsConfig() (*tls.Config, error) {
	if i.config.Certs == nil {
		return nil, proxyerrors.Kind(proxyerrors.ErrCertificate, errNoCertSource)
	}
	cfg, err := i.config.Certs.TLSConfig(i.config.CertDomain)
	if err != nil {
		return nil, proxyerrors.Kind(proxyerrors.ErrCertificate, err)
	}
	return cfg, nil
}

// Stop cancels every listener and waits for them to close within the
// configured shutdown timeout. Accepted connections are left to finish.
// Calling Stop again is a no-op.
func (i *Instance) Stop(ctx context.Context) error {
	i.mu.Lock()
	first := !i.stopped
	i.stopped = true
	i.mu.Unlock()

	i.cancel()
	if first {
		i.config.Logger.Info("stopping proxy", slog.Any("ports", i.Ports()))
		if m := i.config.Metrics; m != nil {
			m.ActiveRoutes.Set(0)
		}
	}

	select {
	case <-i.done:
		if first {
			i.config.Logger.Info("proxy stopped")
		}
		return nil
	default:
	}

	timer := time.NewTimer(i.config.ShutdownTimeout)
	defer timer.Stop()

	select {
	case <-i.done:
		if first {
			i.config.Logger.Info("proxy stopped")
		}
		return nil
	case <-timer.C:
		return proxyerrors.Wrap(proxyerrors.ErrShutdownTimeout, "stop")
	case <-ctx.Done():
		return proxyerrors.Kind(proxyerrors.ErrShutdownTimeout, ctx.Err())
	}
}

// Wait blocks until every connection accepted by the instance has finished.
func (i *Instance) Wait() {
	<-i.done
	for _, l := range i.listeners {
		l.server.Wait()
	}
}

// Update republishes the route table in place. It is a no-op once stopped.
func (i *Instance) Update(rs []routes.Route) {
	if !i.Running() {
		return
	}
	i.table.Publish(routes.Rebuild(rs))
	n := i.table.Len()
	if m := i.config.Metrics; m != nil {
		m.ActiveRoutes.Set(float64(n))
	}
	i.config.Logger.Info("routes updated", slog.Int("routes", n))
}

// Running reports whether Stop has not been called.
func (i *Instance) Running() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return !i.stopped
}

// Table returns the live route table.
func (i *Instance) Table() *routes.Table {
	return i.table
}

// Ports returns the ports the instance was started for, in ascending order.
func (i *Instance) Ports() []uint16 {
	return routes.SortedPorts(i.requirements)
}

// Status reports the instance and its listeners.
func (i *Instance) Status() Status {
	running := i.Running()
	st := Status{
		Running:      running,
		HTTPPort:     HTTPPort,
		HTTPSPort:    HTTPSPort,
		ActiveRoutes: i.table.Len(),
	}
	for _, l := range i.listeners {
		st.Listeners = append(st.Listeners, ListenerStatus{
			Port:   l.port,
			TLS:    l.tls,
			Target: l.target.Address(),
			Bound:  running && l.server.Addr() != nil,
			Active: l.server.Active(),
		})
	}
	return st
}

// Addr returns the address bound for port, or "" if it is not bound.
func (i *Instance) Addr(port uint16) string {
	for _, l := range i.listeners {
		if l.port == port {
			if a := l.server.Addr(); a != nil {
				return a.String()
			}
		}
	}
	return ""
}
