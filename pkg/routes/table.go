// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package routes

import (
	"net"
	"sort"
	"strconv"
	"sync"
)

// HTTPSPort is the companion port added for SSL port mappings of port 80.
const HTTPSPort = 443

// Target is a resolved backend for a routing key.
type Target struct {
	Host       string
	Port       uint16
	SSLEnabled bool
}

// Address returns the dialable host:port of the target.
func (t Target) Address() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(int(t.Port)))
}

// Map is a resolved route map keyed by domain or "localhost:<port>".
type Map map[string]Target

// Rebuild resolves routes into a Map. Only enabled routes contribute and
// later routes overwrite earlier ones with the same key.
func Rebuild(routes []Route) Map {
	m := make(Map, len(routes))
	for _, r := range routes {
		if !r.Enabled || r.Kind == nil {
			continue
		}
		host, port := r.Kind.Target()
		m[r.Key()] = Target{
			Host:       host,
			Port:       port,
			SSLEnabled: r.SSLEnabled,
		}
	}
	return m
}

// Requirements returns the ports that must be bound, taken from enabled port
// mappings only. An SSL port mapping on port 80 also requires 443 to the
// same target.
func Requirements(routes []Route) map[uint16]Target {
	ports := make(map[uint16]Target)
	for _, r := range routes {
		if !r.Enabled {
			continue
		}
		pm, ok := r.Kind.(PortMapping)
		if !ok {
			continue
		}
		t := Target{Host: pm.TargetHost, Port: pm.TargetPort, SSLEnabled: r.SSLEnabled}
		ports[pm.SourcePort] = t
		if r.SSLEnabled && pm.SourcePort == 80 {
			ports[HTTPSPort] = t
		}
	}
	return ports
}

// SortedPorts returns the keys of a requirement set in ascending order.
func SortedPorts(reqs map[uint16]Target) []uint16 {
	ports := make([]uint16, 0, len(reqs))
	for p := range reqs {
		ports = append(ports, p)
	}
	sort.Slice(ports, func(i, j int) bool { return ports[i] < ports[j] })
	return ports
}

// Table is the live, shared route map. Publish swaps its contents in place
// so holders of the *Table observe updates without being restarted.
type Table struct {
	mu sync.RWMutex
	m  Map
}

// NewTable creates a table holding a copy of m.
func NewTable(m Map) *Table {
	t := &Table{m: make(Map, len(m))}
	for k, v := range m {
		t.m[k] = v
	}
	return t
}

// Publish replaces the contents of the table with m.
func (t *Table) Publish(m Map) {
	t.mu.Lock()
	defer t.mu.Unlock()

	clear(t.m)
	for k, v := range m {
		t.m[k] = v
	}
}

// Lookup returns the target for a routing key.
func (t *Table) Lookup(key string) (Target, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	target, ok := t.m[key]
	return target, ok
}

// Len returns the number of routing keys.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.m)
}

// Snapshot returns a copy of the current contents.
func (t *Table) Snapshot() Map {
	t.mu.RLock()
	defer t.mu.RUnlock()

	m := make(Map, len(t.m))
	for k, v := range t.m {
		m[k] = v
	}
	return m
}
