// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// domain-router forwards local ports to other host:port targets, terminating
// TLS on port 443 with a self-signed certificate.
//
// Usage:
//
//	# Start the proxy for the routes in ~/.config/domain-router/routes.yaml
//	domain-router run
//
//	# Resolve app.local.dev to 127.0.0.1 through /etc/hosts and route it to port 3000
//	domain-router routes add-domain app.local.dev 3000
//
//	# Map localhost:8080 to 127.0.0.1:3000
//	domain-router routes add-port 8080 3000
//
//	# Map port 80 to 127.0.0.1:5173 and serve it over TLS on 443 as well
//	domain-router routes add-port 80 5173 --ssl
//
//	# Inspect the generated certificate
//	domain-router certs info localhost.localdomain
package main

func main() {
	Execute()
}
