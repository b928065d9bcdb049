// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

//go:build !linux

package privilege

import "os"

func hasBindCapability() bool {
	return os.Geteuid() <= 0
}
