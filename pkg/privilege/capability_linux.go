// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package privilege

import (
	"os"

	"golang.org/x/sys/unix"
)

// hasBindCapability reports whether the process runs as root or holds
// CAP_NET_BIND_SERVICE in its effective set.
func hasBindCapability() bool {
	if os.Geteuid() == 0 {
		return true
	}

	hdr := unix.CapUserHeader{Version: unix.LINUX_CAPABILITY_VERSION_3}
	var data [2]unix.CapUserData
	if err := unix.Capget(&hdr, &data[0]); err != nil {
		return false
	}

	const c = unix.CAP_NET_BIND_SERVICE
	return data[c/32].Effective&(1<<(c%32)) != 0
}
