// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package hosts keeps domain routes resolvable by editing a block of the
// system hosts file delimited by marker comments. Lines outside the block
// are never modified.
//
// Each managed domain is one "127.0.0.1 <domain>" line. Disabling a domain
// comments its line out; enabling uncomments it. The previous contents are
// copied to a backup file before every write, and a file the process cannot
// write is replaced through the privilege package's elevated runner.
package hosts
