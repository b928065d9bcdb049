// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package certs

import (
	"bytes"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	proxyerrors "github.com/sowndev0106/domain-router/pkg/errors"
)

func TestEnsureCertificate(t *testing.T) {
	p := NewProvider(t.TempDir(), nil)

	certPath, keyPath, err := p.EnsureCertificate("example.test")
	if err != nil {
		t.Fatalf("EnsureCertificate() error: %v", err)
	}

	if filepath.Base(certPath) != "example.test.crt" || filepath.Base(keyPath) != "example.test.key" {
		t.Errorf("unexpected paths %s %s", certPath, keyPath)
	}
	if filepath.Base(filepath.Dir(certPath)) != "certs" {
		t.Errorf("expected certs directory, got %s", filepath.Dir(certPath))
	}

	for _, path := range []string{certPath, keyPath} {
		info, err := os.Stat(path)
		if err != nil {
			t.Fatalf("stat %s: %v", path, err)
		}
		if perm := info.Mode().Perm(); perm != 0o600 {
			t.Errorf("%s permissions = %o, want 600", path, perm)
		}
	}

	certPEM, _ := os.ReadFile(certPath)
	block, _ := pem.Decode(certPEM)
	if block == nil {
		t.Fatal("failed to decode certificate PEM")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		t.Fatalf("parse certificate: %v", err)
	}

	if cert.Subject.CommonName != "example.test" {
		t.Errorf("CommonName = %q", cert.Subject.CommonName)
	}
	if len(cert.Subject.Organization) != 1 || cert.Subject.Organization[0] != DefaultOrganization {
		t.Errorf("Organization = %v", cert.Subject.Organization)
	}
	want := map[string]bool{"example.test": true, "*.example.test": true, "localhost": true}
	for _, name := range cert.DNSNames {
		delete(want, name)
	}
	if len(want) != 0 {
		t.Errorf("missing SANs %v in %v", want, cert.DNSNames)
	}

	keyPEM, _ := os.ReadFile(keyPath)
	if !bytes.Contains(keyPEM, []byte("BEGIN PRIVATE KEY")) {
		t.Error("expected PKCS#8 private key")
	}
}

func TestEnsureCertificateIsIdempotent(t *testing.T) {
	p := NewProvider(t.TempDir(), nil)

	certPath, keyPath, err := p.EnsureCertificate("idem.test")
	if err != nil {
		t.Fatalf("first call: %v", err)
	}
	firstCert, _ := os.ReadFile(certPath)
	firstKey, _ := os.ReadFile(keyPath)

	certPath2, keyPath2, err := p.EnsureCertificate("idem.test")
	if err != nil {
		t.Fatalf("second call: %v", err)
	}
	if certPath2 != certPath || keyPath2 != keyPath {
		t.Error("expected the same paths on second call")
	}

	secondCert, _ := os.ReadFile(certPath)
	secondKey, _ := os.ReadFile(keyPath)
	if !bytes.Equal(firstCert, secondCert) || !bytes.Equal(firstKey, secondKey) {
		t.Error("certificate was regenerated")
	}
}

func TestEnsureCertificateRegeneratesMissingKey(t *testing.T) {
	p := NewProvider(t.TempDir(), nil)

	certPath, keyPath, err := p.EnsureCertificate("partial.test")
	if err != nil {
		t.Fatalf("EnsureCertificate: %v", err)
	}
	firstCert, _ := os.ReadFile(certPath)
	if err := os.Remove(keyPath); err != nil {
		t.Fatal(err)
	}

	if _, _, err := p.EnsureCertificate("partial.test"); err != nil {
		t.Fatalf("EnsureCertificate: %v", err)
	}
	secondCert, _ := os.ReadFile(certPath)
	if bytes.Equal(firstCert, secondCert) {
		t.Error("expected a new certificate when the key was missing")
	}
}

func TestGenerateReplaces(t *testing.T) {
	p := NewProvider(t.TempDir(), nil)

	certPath, _, err := p.EnsureCertificate("regen.test")
	if err != nil {
		t.Fatal(err)
	}
	first, _ := os.ReadFile(certPath)

	if _, _, err := p.Generate("regen.test"); err != nil {
		t.Fatal(err)
	}
	second, _ := os.ReadFile(certPath)
	if bytes.Equal(first, second) {
		t.Error("Generate() did not replace the certificate")
	}
}

func TestRejectsUnsafeDomains(t *testing.T) {
	root := filepath.Join(t.TempDir(), "cfg")
	p := NewProvider(root, nil)

	for _, domain := range []string{"../../escaped", "a/b.example.com", "", "..", "example", "dev.example.com/../x"} {
		if _, _, err := p.EnsureCertificate(domain); !errors.Is(err, proxyerrors.ErrCertificate) {
			t.Errorf("EnsureCertificate(%q) = %v, want ErrCertificate", domain, err)
		}
		if _, _, err := p.Generate(domain); !errors.Is(err, proxyerrors.ErrCertificate) {
			t.Errorf("Generate(%q) = %v, want ErrCertificate", domain, err)
		}
		if _, err := p.Info(domain); !errors.Is(err, proxyerrors.ErrCertificate) {
			t.Errorf("Info(%q) = %v, want ErrCertificate", domain, err)
		}
	}

	matches, _ := filepath.Glob(filepath.Join(filepath.Dir(root), "*.crt"))
	if len(matches) != 0 {
		t.Errorf("certificates written outside the cache: %v", matches)
	}
	if _, err := os.Stat(root); !os.IsNotExist(err) {
		t.Errorf("cache directory created for rejected domains: %v", err)
	}

	for _, domain := range []string{"localhost", "localhost.localdomain", "app.example.com"} {
		certPath, _, err := p.Paths(domain)
		if err != nil {
			t.Errorf("Paths(%q): %v", domain, err)
			continue
		}
		if filepath.Dir(certPath) != filepath.Join(root, "certs") {
			t.Errorf("Paths(%q) = %s, want inside %s", domain, certPath, filepath.Join(root, "certs"))
		}
	}
}

func TestTLSConfig(t *testing.T) {
	p := NewProvider(t.TempDir(), nil)

	cfg, err := p.TLSConfig("tls.test")
	if err != nil {
		t.Fatalf("TLSConfig() error: %v", err)
	}
	if len(cfg.Certificates) != 1 {
		t.Fatalf("expected one certificate, got %d", len(cfg.Certificates))
	}
	if cfg.ClientAuth != tls.NoClientCert {
		t.Errorf("ClientAuth = %v", cfg.ClientAuth)
	}
	if cfg.MinVersion != tls.VersionTLS12 {
		t.Errorf("MinVersion = %x", cfg.MinVersion)
	}
}

func TestParseKeyPairErrors(t *testing.T) {
	p := NewProvider(t.TempDir(), nil)
	certPath, keyPath, err := p.EnsureCertificate("parse.test")
	if err != nil {
		t.Fatal(err)
	}
	certPEM, _ := os.ReadFile(certPath)
	keyPEM, _ := os.ReadFile(keyPath)

	tests := []struct {
		name    string
		cert    []byte
		key     []byte
		wantErr bool
	}{
		{"valid", certPEM, keyPEM, false},
		{"no certificates", []byte("not pem"), keyPEM, true},
		{"key in cert slot", keyPEM, keyPEM, true},
		{"no private key", certPEM, certPEM, true},
		{"empty key", certPEM, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseKeyPair(tt.cert, tt.key)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error but got none")
				}
				if !errors.Is(err, proxyerrors.ErrCertificate) {
					t.Errorf("expected ErrCertificate, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestInfo(t *testing.T) {
	p := NewProvider(t.TempDir(), nil)

	if _, err := p.Info("missing.test"); !errors.Is(err, proxyerrors.ErrCertificate) {
		t.Errorf("expected ErrCertificate for missing certificate, got %v", err)
	}

	if _, _, err := p.EnsureCertificate("info.test"); err != nil {
		t.Fatal(err)
	}
	info, err := p.Info("info.test")
	if err != nil {
		t.Fatalf("Info() error: %v", err)
	}

	now := time.Now()
	if err := info.Validate(now); err != nil {
		t.Errorf("fresh certificate should be valid: %v", err)
	}
	if info.ExpiresSoon(now) {
		t.Error("fresh certificate should not expire soon")
	}
	if !info.ExpiresSoon(info.NotAfter.Add(-time.Hour)) {
		t.Error("expected expiry warning an hour before NotAfter")
	}
	if err := info.Validate(info.NotAfter.Add(time.Hour)); err == nil {
		t.Error("expected expired error")
	}
}
