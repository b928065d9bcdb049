// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package store persists routes in a YAML file and watches it for edits.
package store
