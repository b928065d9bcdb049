// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package tcp

import (
	"fmt"
	"math"
	"net"
)

// PortAvailable reports whether port can be bound on all interfaces right now.
func PortAvailable(port uint16) bool {
	l, err := net.Listen("tcp", JoinPort(port))
	if err != nil {
		return false
	}
	l.Close()
	return true
}

// NextAvailablePort returns the first bindable port at or after start.
func NextAvailablePort(start uint16) (uint16, error) {
	if start == 0 {
		start = 1
	}
	for p := uint32(start); p <= math.MaxUint16; p++ {
		if PortAvailable(uint16(p)) {
			return uint16(p), nil
		}
	}
	return 0, fmt.Errorf("no available port at or after %d", start)
}
