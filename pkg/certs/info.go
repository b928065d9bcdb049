// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package certs

import (
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"time"

	proxyerrors "github.com/sowndev0106/domain-router/pkg/errors"
)

// expiryWarning is how close to NotAfter a certificate is reported as expiring.
const expiryWarning = 30 * 24 * time.Hour

// Info is a human readable summary of a cached certificate.
type Info struct {
	Path               string
	Subject            string
	Issuer             string
	SerialNumber       string
	NotBefore          time.Time
	NotAfter           time.Time
	DNSNames           []string
	SignatureAlgorithm string
	PublicKeyAlgorithm string
}

// Info reads the cached certificate for domain. It does not generate one.
func (p *Provider) Info(domain string) (*Info, error) {
	certPath, _, err := p.Paths(domain)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(certPath)
	if err != nil {
		return nil, proxyerrors.Kind(proxyerrors.ErrCertificate, err)
	}

	block, _ := pem.Decode(data)
	if block == nil || block.Type != "CERTIFICATE" {
		return nil, proxyerrors.Kind(proxyerrors.ErrCertificate, fmt.Errorf("no certificate in %s", certPath))
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, proxyerrors.Kind(proxyerrors.ErrCertificate, err)
	}

	return &Info{
		Path:               certPath,
		Subject:            cert.Subject.String(),
		Issuer:             cert.Issuer.String(),
		SerialNumber:       fmt.Sprintf("%x", cert.SerialNumber),
		NotBefore:          cert.NotBefore,
		NotAfter:           cert.NotAfter,
		DNSNames:           cert.DNSNames,
		SignatureAlgorithm: cert.SignatureAlgorithm.String(),
		PublicKeyAlgorithm: cert.PublicKeyAlgorithm.String(),
	}, nil
}

// Validate reports whether the certificate is currently within its validity window.
func (i *Info) Validate(now time.Time) error {
	if now.Before(i.NotBefore) {
		return fmt.Errorf("certificate is not yet valid (valid from %s)", i.NotBefore.Format(time.RFC3339))
	}
	if now.After(i.NotAfter) {
		return fmt.Errorf("certificate expired on %s", i.NotAfter.Format(time.RFC3339))
	}
	return nil
}

// ExpiresSoon reports whether fewer than 30 days of validity remain.
func (i *Info) ExpiresSoon(now time.Time) bool {
	return i.NotAfter.Sub(now) < expiryWarning
}
