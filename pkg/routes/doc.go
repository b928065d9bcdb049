// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package routes defines forwarding routes and the live route table.
//
// # Routes
//
// A Route is either a Domain route (hostname → backend) or a PortMapping
// (local port → backend). Routes are validated before they are stored and
// are passed to the proxy as whole snapshots.
//
// # Resolution
//
// Rebuild turns a snapshot into a Map keyed by domain, or by
// "localhost:<source_port>" for port mappings. Requirements derives the set
// of ports the proxy must bind:
//
//	PortMapping{80 → 127.0.0.1:3000, ssl}   →  {80: 127.0.0.1:3000, 443: 127.0.0.1:3000}
//	PortMapping{8080 → 127.0.0.1:3000}      →  {8080: 127.0.0.1:3000}
//	Domain{app.test → 127.0.0.1:5173}       →  (no port)
//
// # Table
//
// Table is shared by every listener of a running proxy. Publish replaces
// its contents under a write lock; readers take a read lock.
package routes
