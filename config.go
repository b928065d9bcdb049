// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package domainrouter holds the process configuration of domain-router.
package domainrouter

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	proxyerrors "github.com/sowndev0106/domain-router/pkg/errors"
	"github.com/sowndev0106/domain-router/pkg/hosts"
)

// EnvPrefix prefixes every configuration variable.
const EnvPrefix = "DOMAIN_ROUTER_"

const appDir = "domain-router"

// Config holds the domain-router configuration.
type Config struct {
	// Storage
	ConfigDir  string `env:"CONFIG_DIR"`
	RoutesFile string `env:"ROUTES_FILE"`
	CertDomain string `env:"CERT_DOMAIN" envDefault:"localhost.localdomain"`
	HostsFile  string `env:"HOSTS_FILE"`

	// Observability
	LogLevel    string `env:"LOG_LEVEL"    envDefault:"info"`
	LogFormat   string `env:"LOG_FORMAT"   envDefault:"text"`
	MetricsAddr string `env:"METRICS_ADDR"`

	// Timeouts
	ShutdownTimeout  time.Duration `env:"SHUTDOWN_TIMEOUT"  envDefault:"30s"`
	DialTimeout      time.Duration `env:"DIAL_TIMEOUT"      envDefault:"10s"`
	HandshakeTimeout time.Duration `env:"HANDSHAKE_TIMEOUT" envDefault:"10s"`

	// Admission
	MaxConnections int   `env:"MAX_CONNECTIONS" envDefault:"0"`
	AcceptRate     int64 `env:"ACCEPT_RATE"     envDefault:"0"`
	AcceptBurst    int64 `env:"ACCEPT_BURST"    envDefault:"0"`

	// Behaviour
	WatchRoutes      bool `env:"WATCH_ROUTES"      envDefault:"true"`
	SkipPrivilege    bool `env:"SKIP_PRIVILEGE"    envDefault:"false"`
	RequestPrivilege bool `env:"REQUEST_PRIVILEGE" envDefault:"true"`
	ManageHosts      bool `env:"MANAGE_HOSTS"      envDefault:"true"`
}

// NewConfig parses the configuration from the environment. An empty
// opts.Prefix defaults to EnvPrefix.
func NewConfig(opts env.Options) (Config, error) {
	if opts.Prefix == "" {
		opts.Prefix = EnvPrefix
	}

	var c Config
	if err := env.ParseWithOptions(&c, opts); err != nil {
		return Config{}, err
	}

	if c.ConfigDir == "" {
		dir, err := os.UserConfigDir()
		if err != nil {
			return Config{}, fmt.Errorf("failed to locate config directory: %w", err)
		}
		c.ConfigDir = filepath.Join(dir, appDir)
	}
	if c.RoutesFile == "" {
		c.RoutesFile = filepath.Join(c.ConfigDir, "routes.yaml")
	}
	if c.HostsFile == "" {
		c.HostsFile = hosts.DefaultPath()
	}

	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks value ranges. Errors match errors.ErrInvalidConfig.
func (c Config) Validate() error {
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: log_level: unknown level %q", proxyerrors.ErrInvalidConfig, c.LogLevel)
	}
	switch c.LogFormat {
	case "json", "text":
	default:
		return fmt.Errorf("%w: log_format: unknown format %q", proxyerrors.ErrInvalidConfig, c.LogFormat)
	}
	if c.MaxConnections < 0 || c.AcceptRate < 0 || c.AcceptBurst < 0 {
		return fmt.Errorf("%w: admission limits must not be negative", proxyerrors.ErrInvalidConfig)
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("%w: shutdown_timeout must be positive", proxyerrors.ErrInvalidConfig)
	}
	return nil
}
