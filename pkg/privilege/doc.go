// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package privilege decides whether the process may bind privileged ports
// and, on Linux, obtains CAP_NET_BIND_SERVICE for the executable. Commands
// that must run as root go through RunElevated.
package privilege
