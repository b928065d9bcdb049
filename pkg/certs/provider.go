// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package certs

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"path/filepath"
	"sync"
	"time"

	proxyerrors "github.com/sowndev0106/domain-router/pkg/errors"
	"github.com/sowndev0106/domain-router/pkg/routes"
)

const (
	// DefaultOrganization is the subject organization of generated certificates.
	DefaultOrganization = "Domain Router"

	// DefaultValidity is the lifetime of generated certificates.
	DefaultValidity = 365 * 24 * time.Hour

	certsDir = "certs"
)

// Provider generates self-signed certificates and caches them as PEM files
// under <Root>/certs.
type Provider struct {
	// Root is the configuration directory that holds the certs cache.
	Root string

	// Organization is written to the certificate subject.
	Organization string

	// Validity is the lifetime of newly generated certificates.
	Validity time.Duration

	// Logger for provider events
	Logger *slog.Logger

	mu sync.Mutex
}

// NewProvider creates a provider caching under root.
func NewProvider(root string, logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{
		Root:         root,
		Organization: DefaultOrganization,
		Validity:     DefaultValidity,
		Logger:       logger,
	}
}

// Paths returns the cached certificate and key paths for domain. Names
// other than localhost and route hostnames fail with ErrCertificate, so no
// path leaves <Root>/certs.
func (p *Provider) Paths(domain string) (certPath, keyPath string, err error) {
	if domain != "localhost" && !routes.ValidDomain(domain) {
		return "", "", proxyerrors.Kind(proxyerrors.ErrCertificate, fmt.Errorf("invalid certificate domain %q", domain))
	}
	dir := filepath.Join(p.Root, certsDir)
	return filepath.Join(dir, domain+".crt"), filepath.Join(dir, domain+".key"), nil
}

// EnsureCertificate returns the cached certificate and key for domain,
// generating them when either file is missing.
func (p *Provider) EnsureCertificate(domain string) (certPath, keyPath string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	certPath, keyPath, err = p.Paths(domain)
	if err != nil {
		return "", "", err
	}
	if exists(certPath) && exists(keyPath) {
		return certPath, keyPath, nil
	}

	p.logger().Info("certificate not found, generating",
		slog.String("domain", domain),
		slog.String("path", certPath))

	if err := p.generate(domain, certPath, keyPath); err != nil {
		return "", "", err
	}
	return certPath, keyPath, nil
}

// Generate creates a new certificate for domain, replacing any cached one.
func (p *Provider) Generate(domain string) (certPath, keyPath string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	certPath, keyPath, err = p.Paths(domain)
	if err != nil {
		return "", "", err
	}
	if err := p.generate(domain, certPath, keyPath); err != nil {
		return "", "", err
	}
	return certPath, keyPath, nil
}

// TLSConfig builds a server TLS configuration for domain from the cached
// PEM files, generating them on first use. Client certificates are not
// requested.
func (p *Provider) TLSConfig(domain string) (*tls.Config, error) {
	certPath, keyPath, err := p.EnsureCertificate(domain)
	if err != nil {
		return nil, err
	}

	certPEM, err := os.ReadFile(certPath)
	if err != nil {
		return nil, proxyerrors.Kind(proxyerrors.ErrCertificate, fmt.Errorf("failed to read certificate file: %w", err))
	}
	keyPEM, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, proxyerrors.Kind(proxyerrors.ErrCertificate, fmt.Errorf("failed to read private key file: %w", err))
	}

	cert, err := ParseKeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, err
	}

	p.logger().Info("TLS config loaded", slog.String("domain", domain))

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		ClientAuth:   tls.NoClientCert,
		MinVersion:   tls.VersionTLS12,
	}, nil
}

// ParseKeyPair decodes a PEM certificate chain and private key. It fails
// with ErrCertificate when no certificate or no private key is present.
func ParseKeyPair(certPEM, keyPEM []byte) (tls.Certificate, error) {
	var chain [][]byte
	for rest := certPEM; ; {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type == "CERTIFICATE" {
			chain = append(chain, block.Bytes)
		}
	}
	if len(chain) == 0 {
		return tls.Certificate{}, proxyerrors.Kind(proxyerrors.ErrCertificate, fmt.Errorf("no certificates found"))
	}

	var keyDER *pem.Block
	for rest := keyPEM; ; {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		switch block.Type {
		case "PRIVATE KEY", "EC PRIVATE KEY", "RSA PRIVATE KEY":
			keyDER = block
		}
		if keyDER != nil {
			break
		}
	}
	if keyDER == nil {
		return tls.Certificate{}, proxyerrors.Kind(proxyerrors.ErrCertificate, fmt.Errorf("no private key found"))
	}

	cert, err := tls.X509KeyPair(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: chain[0]}), pem.EncodeToMemory(keyDER))
	if err != nil {
		return tls.Certificate{}, proxyerrors.Kind(proxyerrors.ErrCertificate, err)
	}
	cert.Certificate = chain
	return cert, nil
}

func (p *Provider) generate(domain, certPath, keyPath string) error {
	certPEM, keyPEM, err := p.selfSigned(domain)
	if err != nil {
		return proxyerrors.Kind(proxyerrors.ErrCertificate, err)
	}

	if err := os.MkdirAll(filepath.Dir(certPath), 0o700); err != nil {
		return proxyerrors.Kind(proxyerrors.ErrCertificate, fmt.Errorf("failed to create certs directory: %w", err))
	}
	if err := writeFile(certPath, certPEM); err != nil {
		return proxyerrors.Kind(proxyerrors.ErrCertificate, fmt.Errorf("failed to write certificate: %w", err))
	}
	if err := writeFile(keyPath, keyPEM); err != nil {
		return proxyerrors.Kind(proxyerrors.ErrCertificate, fmt.Errorf("failed to write private key: %w", err))
	}

	p.logger().Info("self-signed certificate generated",
		slog.String("domain", domain),
		slog.String("cert", certPath))
	return nil
}

// selfSigned returns PEM encoded certificate and PKCS#8 key for domain with
// SANs domain, *.domain and localhost.
func (p *Provider) selfSigned(domain string) (certPEM, keyPEM []byte, err error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate private key: %w", err)
	}

	serialNumber, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate serial number: %w", err)
	}

	org := p.Organization
	if org == "" {
		org = DefaultOrganization
	}
	validity := p.Validity
	if validity <= 0 {
		validity = DefaultValidity
	}

	notBefore := time.Now().Add(-time.Minute)
	template := x509.Certificate{
		SerialNumber: serialNumber,
		Subject: pkix.Name{
			Organization: []string{org},
			CommonName:   domain,
		},
		NotBefore:             notBefore,
		NotAfter:              notBefore.Add(validity),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		DNSNames:              []string{domain, "*." + domain, "localhost"},
	}

	derBytes, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create certificate: %w", err)
	}

	keyBytes, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode private key: %w", err)
	}

	certPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: derBytes})
	keyPEM = pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyBytes})
	return certPEM, keyPEM, nil
}

func (p *Provider) logger() *slog.Logger {
	if p.Logger == nil {
		return slog.Default()
	}
	return p.Logger
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// writeFile writes data with owner-only permissions.
func writeFile(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
