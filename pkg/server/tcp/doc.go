// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package tcp implements the per-port listeners of domain-router.
//
// # Overview
//
// A Server owns one bound port and forwards every accepted connection to a
// single backend address, byte for byte. When a TLS config is set the server
// terminates TLS first and forwards plaintext.
//
//	┌─────────┐           ┌─────────┐         ┌─────────┐
//	│ Client  │ ←─TCP/TLS→│  Server │ ←─TCP─→ │ Backend │
//	└─────────┘           └─────────┘         └─────────┘
//
// # Connection Flow
//
//  1. Server accepts the connection and passes it through the admission gate
//  2. TLS listeners complete the handshake within HandshakeTimeout
//  3. Forward dials the backend within DialTimeout
//  4. Two goroutines copy bytes, one per direction:
//     - Upstream: Client → Backend
//     - Downstream: Backend → Client
//  5. When one side reaches EOF the other side is half-closed
//  6. Both connections closed once both directions are done
//
// A failed handshake or dial only affects its own connection; the listener
// keeps accepting.
//
// # Shutdown
//
// Cancelling the context passed to Listen closes the listener and returns.
// Connections already accepted are not interrupted; Wait blocks until they
// end.
//
// # Example
//
//	srv := tcp.New(tcp.Config{
//		Address:       ":8080",
//		TargetAddress: "127.0.0.1:3000",
//	})
//	if err := srv.Listen(ctx); err != nil {
//		log.Fatal(err)
//	}
package tcp
