// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package routes

import (
	"fmt"
	"regexp"

	proxyerrors "github.com/sowndev0106/domain-router/pkg/errors"
)

var domainPattern = regexp.MustCompile(`^([a-zA-Z0-9-]+\.)*[a-zA-Z0-9-]+\.[a-zA-Z]{2,}$`)

// ValidDomain reports whether name is a dotted hostname accepted for domain
// routes.
func ValidDomain(name string) bool {
	return domainPattern.MatchString(name)
}

// Validate checks a route before it is accepted into the store.
// The returned error matches errors.ErrConfigValidation.
func (r Route) Validate() error {
	if err := r.validate(); err != nil {
		return proxyerrors.Wrap(err, fmt.Sprintf("route %q", r.Name()))
	}
	return nil
}

func (r Route) validate() error {
	switch k := r.Kind.(type) {
	case Domain:
		if k.Domain == "" {
			return invalid("domain", "must not be empty")
		}
		if k.TargetHost == "" {
			return invalid("target_host", "must not be empty")
		}
		if !ValidDomain(k.Domain) {
			return invalid("domain", fmt.Sprintf("invalid domain format %q", k.Domain))
		}
		if k.TargetPort == 0 {
			return invalid("target_port", "must not be 0")
		}
	case PortMapping:
		if k.SourcePort == 0 {
			return invalid("source_port", "must not be 0")
		}
		if k.TargetPort == 0 {
			return invalid("target_port", "must not be 0")
		}
		if k.TargetHost == "" {
			return invalid("target_host", "must not be empty")
		}
		if k.SourcePort == k.TargetPort && k.TargetHost == "localhost" {
			return invalid("target_port", "source and target ports cannot be the same for localhost")
		}
	case nil:
		return invalid("type", "missing route kind")
	default:
		return invalid("type", fmt.Sprintf("unknown route kind %q", k.Type()))
	}

	switch r.SSLMode.Kind {
	case SSLSelfSigned, SSLLetsEncrypt, SSLPassthrough, "":
	case SSLCustom:
		if r.SSLMode.CertPath == "" || r.SSLMode.KeyPath == "" {
			return invalid("ssl_mode", "custom mode needs cert_path and key_path")
		}
	default:
		return invalid("ssl_mode", fmt.Sprintf("unknown mode %q", r.SSLMode.Kind))
	}

	return nil
}

func invalid(field, reason string) error {
	return &proxyerrors.ValidationError{Field: field, Reason: reason}
}
