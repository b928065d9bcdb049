// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package certs provides the self-signed certificate provider behind the
// proxy's TLS listener.
//
// Certificates are cached as PEM files:
//
//	<root>/certs/<domain>.crt   (0600)
//	<root>/certs/<domain>.key   (0600, PKCS#8 ECDSA P-256)
//
// and are reused across restarts until deleted. Each certificate covers
// domain, *.domain and localhost.
//
// # Example
//
//	p := certs.NewProvider(configDir, logger)
//	cfg, err := p.TLSConfig("localhost.localdomain")
//	if err != nil {
//		return err
//	}
//	ln := tls.NewListener(inner, cfg)
package certs
