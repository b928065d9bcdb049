// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package privilege

// ElevatedCommand is the program that runs commands as root.
const ElevatedCommand = "pkexec"

// RunElevated runs name with args as root through pkexec, prompting the
// desktop user for authorization.
func RunElevated(name string, args ...string) error {
	return runCommand(ElevatedCommand, append([]string{name}, args...)...)
}
