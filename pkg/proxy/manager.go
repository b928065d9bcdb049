// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package proxy

import (
	"context"
	"crypto/tls"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/sowndev0106/domain-router/pkg/metrics"
	"github.com/sowndev0106/domain-router/pkg/privilege"
	"github.com/sowndev0106/domain-router/pkg/routes"
	"github.com/sowndev0106/domain-router/pkg/server/tcp"
)

const (
	// HTTPPort is the plain port reported by Status.
	HTTPPort uint16 = 80

	// HTTPSPort is the TLS-terminating port.
	HTTPSPort uint16 = routes.HTTPSPort

	// DefaultCertDomain names the certificate served on HTTPSPort.
	DefaultCertDomain = "localhost.localdomain"

	defaultShutdownTimeout = 30 * time.Second
)

// CertSource builds the TLS server configuration of the HTTPS listener.
type CertSource interface {
	TLSConfig(domain string) (*tls.Config, error)
}

// ServerOptions tunes every listener started by the manager.
type ServerOptions struct {
	HandshakeTimeout time.Duration
	DialTimeout      time.Duration
	BufferSize       int
	MaxConnections   int
	AcceptRate       int64
	AcceptBurst      int64
}

// Config holds the manager configuration.
type Config struct {
	// Certs provides the certificate of the HTTPS listener. Without it port
	// 443 is never bound.
	Certs CertSource

	// Broker grants privileged ports. Default: privilege.Noop.
	Broker privilege.Broker

	// CertDomain is the certificate domain used on port 443.
	CertDomain string

	// ListenAddr maps a required port to the address its listener binds.
	// Default: all interfaces.
	ListenAddr func(port uint16) string

	// ShutdownTimeout bounds Stop. Default: 30s.
	ShutdownTimeout time.Duration

	// Server options shared by every listener
	Server ServerOptions

	// Logger for lifecycle events
	Logger *slog.Logger

	// Metrics is passed to every listener. Optional.
	Metrics *metrics.Metrics
}

// Status describes the running proxy.
type Status struct {
	Running      bool             `json:"running"`
	HTTPPort     uint16           `json:"http_port"`
	HTTPSPort    uint16           `json:"https_port"`
	ActiveRoutes int              `json:"active_routes"`
	Listeners    []ListenerStatus `json:"listeners,omitempty"`
}

// ListenerStatus describes one listener of a running proxy.
type ListenerStatus struct {
	Port   uint16 `json:"port"`
	TLS    bool   `json:"tls"`
	Target string `json:"target"`
	Bound  bool   `json:"bound"`
	Active int64  `json:"active_connections"`
}

// Manager starts and stops proxy instances, keeping at most one running.
type Manager struct {
	config Config

	// lifecycle serializes Start and Stop; mu guards current only.
	lifecycle sync.Mutex
	mu        sync.Mutex
	current   *Instance
}

// New creates a manager with the given configuration.
func New(cfg Config) *Manager {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Broker == nil {
		cfg.Broker = privilege.Noop
	}
	if cfg.CertDomain == "" {
		cfg.CertDomain = DefaultCertDomain
	}
	if cfg.ListenAddr == nil {
		cfg.ListenAddr = tcp.JoinPort
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}
	return &Manager{config: cfg}
}

// Start stops any running instance and starts listeners for rs. It fails
// only when privilege for the required ports cannot be obtained; listeners
// that fail to bind are logged and skipped.
func (m *Manager) Start(ctx context.Context, rs []routes.Route) (*Instance, error) {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	if err := m.stop(ctx); err != nil {
		m.config.Logger.Warn("previous instance did not stop cleanly", slog.String("error", err.Error()))
	}

	reqs := routes.Requirements(rs)
	ports := routes.SortedPorts(reqs)

	if err := m.config.Broker.EnsurePrivilege(ports); err != nil {
		return nil, err
	}

	inst := m.newInstance(rs, reqs)
	inst.start(ctx)

	m.mu.Lock()
	m.current = inst
	m.mu.Unlock()

	m.config.Logger.Info("proxy started",
		slog.Any("ports", ports),
		slog.Int("routes", inst.table.Len()))
	return inst, nil
}

// Stop stops the running instance, if any. It returns an error matching
// errors.ErrShutdownTimeout when listeners do not end in time.
func (m *Manager) Stop(ctx context.Context) error {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()
	return m.stop(ctx)
}

func (m *Manager) stop(ctx context.Context) error {
	m.mu.Lock()
	inst := m.current
	m.current = nil
	m.mu.Unlock()

	if inst == nil {
		return nil
	}
	return inst.Stop(ctx)
}

// Update republishes the route table of the running instance. It is a no-op
// when nothing runs.
func (m *Manager) Update(rs []routes.Route) {
	if inst := m.Current(); inst != nil {
		inst.Update(rs)
	}
}

// Reload applies rs to the running instance: routes are republished in
// place when the bound ports and their targets are unchanged, otherwise the
// proxy restarts. Nothing is started when no instance runs.
func (m *Manager) Reload(ctx context.Context, rs []routes.Route) (*Instance, error) {
	inst := m.Current()
	if inst == nil {
		return nil, nil
	}
	if maps.Equal(inst.requirements, routes.Requirements(rs)) {
		inst.Update(rs)
		return inst, nil
	}
	m.config.Logger.Info("port requirements changed, restarting proxy")
	return m.Start(ctx, rs)
}

// Current returns the running instance, or nil.
func (m *Manager) Current() *Instance {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil || !m.current.Running() {
		return nil
	}
	return m.current
}

// Status reports the running instance, or a stopped status.
func (m *Manager) Status() Status {
	if inst := m.Current(); inst != nil {
		return inst.Status()
	}
	return Status{HTTPPort: HTTPPort, HTTPSPort: HTTPSPort}
}
