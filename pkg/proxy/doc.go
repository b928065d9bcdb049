// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package proxy owns the running set of port listeners.
//
// # Overview
//
// A Manager turns a route set into listeners: it derives the ports that must
// be bound from the port-mapping routes, asks the privilege broker for them,
// publishes the resolved route table, and runs one tcp.Server per port. Port
// 443 terminates TLS with a self-signed certificate; every other port
// forwards plain TCP.
//
//	routes ──→ Requirements ──→ Broker.EnsurePrivilege
//	   │                              │
//	   ↓                              ↓
//	Rebuild ──→ Table        one tcp.Server per port
//
// # Lifecycle
//
// At most one Instance runs per Manager. Start stops the previous instance
// first. Stop cancels every listener and waits for them within
// ShutdownTimeout; connections already accepted run to completion. Update
// republishes the route table in place without touching listeners, and
// Reload falls back to a full restart when the set of bound ports or their
// targets change.
//
// # Example
//
//	mgr := proxy.New(proxy.Config{
//		Certs:  certs.NewProvider(configDir, logger),
//		Broker: privilege.NewCapabilityBroker(true, logger),
//		Logger: logger,
//	})
//	inst, err := mgr.Start(ctx, rs)
//	if err != nil {
//		return err
//	}
//	defer mgr.Stop(ctx)
//	fmt.Println(inst.Status())
package proxy
