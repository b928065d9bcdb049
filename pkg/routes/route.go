// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package routes

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DefaultTargetHost is used when a route does not name a backend host.
const DefaultTargetHost = "127.0.0.1"

// Kind is the routing intent of a Route: either a Domain or a PortMapping.
type Kind interface {
	// Type returns the serialized tag of the kind ("domain" or "portmapping").
	Type() string
	// Target returns the backend host and port the kind forwards to.
	Target() (host string, port uint16)
}

// Domain routes traffic for a hostname to a backend.
type Domain struct {
	Domain     string
	TargetHost string
	TargetPort uint16
}

// Type implements Kind.
func (Domain) Type() string { return TypeDomain }

// Target implements Kind.
func (d Domain) Target() (string, uint16) { return d.TargetHost, d.TargetPort }

// PortMapping routes traffic arriving on a local port to a backend.
type PortMapping struct {
	SourcePort uint16
	TargetHost string
	TargetPort uint16
}

// Type implements Kind.
func (PortMapping) Type() string { return TypePortMapping }

// Target implements Kind.
func (p PortMapping) Target() (string, uint16) { return p.TargetHost, p.TargetPort }

// Kind tags used in route files.
const (
	TypeDomain      = "domain"
	TypePortMapping = "portmapping"
)

var (
	_ Kind = Domain{}
	_ Kind = PortMapping{}
)

// SSLModeKind selects where TLS material for a route comes from.
type SSLModeKind string

const (
	SSLSelfSigned  SSLModeKind = "self-signed"
	SSLLetsEncrypt SSLModeKind = "letsencrypt"
	SSLPassthrough SSLModeKind = "passthrough"
	SSLCustom      SSLModeKind = "custom"
)

// SSLMode carries the SSL mode and, for SSLCustom, the certificate paths.
type SSLMode struct {
	Kind     SSLModeKind
	CertPath string
	KeyPath  string
}

// Route is a user-declared forwarding intent. The proxy engine never mutates
// a Route; it is handed whole snapshots on every start and update.
type Route struct {
	ID         string
	Kind       Kind
	SSLEnabled bool
	SSLMode    SSLMode
	Enabled    bool
	CreatedAt  time.Time
}

// NewDomain creates an enabled domain route to 127.0.0.1:targetPort.
func NewDomain(domain string, targetPort uint16, sslEnabled bool) Route {
	return newRoute(Domain{
		Domain:     domain,
		TargetHost: DefaultTargetHost,
		TargetPort: targetPort,
	}, sslEnabled)
}

// NewPortMapping creates an enabled port mapping from sourcePort to
// 127.0.0.1:targetPort.
func NewPortMapping(sourcePort, targetPort uint16, sslEnabled bool) Route {
	return newRoute(PortMapping{
		SourcePort: sourcePort,
		TargetHost: DefaultTargetHost,
		TargetPort: targetPort,
	}, sslEnabled)
}

func newRoute(kind Kind, sslEnabled bool) Route {
	return Route{
		ID:         uuid.New().String(),
		Kind:       kind,
		SSLEnabled: sslEnabled,
		SSLMode:    SSLMode{Kind: SSLSelfSigned},
		Enabled:    true,
		CreatedAt:  time.Now().UTC(),
	}
}

// Key returns the routing key of the route in the resolved map.
func (r Route) Key() string {
	switch k := r.Kind.(type) {
	case Domain:
		return k.Domain
	case PortMapping:
		return PortKey(k.SourcePort)
	default:
		return ""
	}
}

// Name returns a human readable label for the route.
func (r Route) Name() string {
	switch k := r.Kind.(type) {
	case Domain:
		return k.Domain
	case PortMapping:
		return fmt.Sprintf("localhost:%d → %s:%d", k.SourcePort, k.TargetHost, k.TargetPort)
	default:
		return r.ID
	}
}

// PortKey is the synthetic routing key of a port mapping.
func PortKey(port uint16) string {
	return fmt.Sprintf("localhost:%d", port)
}
